package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"campusbazaar/config"
	"campusbazaar/core"
	"campusbazaar/core/events"
	"campusbazaar/crypto"
	nativecommon "campusbazaar/native/common"
	"campusbazaar/observability"
	"campusbazaar/observability/logging"
	"campusbazaar/rpc"
	"campusbazaar/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("BAZAAR_ENV"))
	logger := logging.Setup("bazaard", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node, err := core.NewNode(db)
	if err != nil {
		logger.Error("Failed to initialise node", slog.Any("error", err))
		os.Exit(1)
	}

	node.SetEmitter(observability.NewCollector(newEventLogger(logger)))
	node.SetPauses(nativecommon.NewPauseSet(cfg.PausedModules))

	if cfg.OperatorAddr != "" {
		operator, err := crypto.DecodeAddress(cfg.OperatorAddr)
		if err != nil {
			logger.Error("Invalid operator address", slog.Any("error", err))
			os.Exit(1)
		}
		var addr [20]byte
		copy(addr[:], operator.Bytes())
		node.SetOperator(addr)
	}

	if cfg.MetricsAddress != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
				logger.Error("Metrics server stopped", slog.Any("error", err))
			}
		}()
		logger.Info("Metrics listening", slog.String("address", cfg.MetricsAddress))
	}

	server := rpc.NewServer(node)
	logger.Info("RPC listening",
		slog.String("address", cfg.RPCAddress),
		slog.String("network", cfg.NetworkName),
	)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// eventLogger is the tail of the emitter chain: every settlement event is
// mirrored into the structured log.
type eventLogger struct {
	logger *slog.Logger
}

func newEventLogger(logger *slog.Logger) events.Emitter {
	return &eventLogger{logger: logger}
}

func (l *eventLogger) Emit(evt events.Event) {
	l.logger.Info("settlement event", slog.String("type", evt.EventType()))
}
