package observability

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"campusbazaar/core/events"
	"campusbazaar/core/types"
	"campusbazaar/native/reputation"
)

type settlementMetrics struct {
	transitions    *prometheus.CounterVec
	tradesRecorded prometheus.Counter
	co2SavedGrams  prometheus.Counter
}

var (
	settlementOnce sync.Once
	settlementReg  *settlementMetrics
)

// SettlementMetrics returns the lazily-initialised metrics registry fed by the
// settlement event stream.
func SettlementMetrics() *settlementMetrics {
	settlementOnce.Do(func() {
		settlementReg = &settlementMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "bazaar",
				Subsystem: "settlement",
				Name:      "events_total",
				Help:      "Settlement state transitions segmented by event type.",
			}, []string{"type"}),
			tradesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "bazaar",
				Subsystem: "reputation",
				Name:      "trades_recorded_total",
				Help:      "Completed trades reported into the reputation ledger.",
			}),
			co2SavedGrams: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "bazaar",
				Subsystem: "reputation",
				Name:      "co2_saved_grams_total",
				Help:      "Cumulative CO2 savings recorded across all trades, in grams.",
			}),
		}
		prometheus.MustRegister(
			settlementReg.transitions,
			settlementReg.tradesRecorded,
			settlementReg.co2SavedGrams,
		)
	})
	return settlementReg
}

// Collector bridges the settlement event stream into prometheus counters. It
// satisfies events.Emitter and can wrap a downstream emitter.
type Collector struct {
	next events.Emitter
}

// NewCollector builds a collector forwarding to next (which may be nil).
func NewCollector(next events.Emitter) *Collector {
	SettlementMetrics()
	return &Collector{next: next}
}

type attributed interface {
	Event() *types.Event
}

// Emit implements events.Emitter.
func (c *Collector) Emit(evt events.Event) {
	if evt != nil {
		reg := SettlementMetrics()
		reg.transitions.WithLabelValues(evt.EventType()).Inc()
		if evt.EventType() == reputation.EventTypeTradeRecorded {
			reg.tradesRecorded.Inc()
			if carrier, ok := evt.(attributed); ok {
				if payload := carrier.Event(); payload != nil {
					if grams, err := strconv.ParseUint(payload.Attributes["co2SavedGrams"], 10, 64); err == nil {
						reg.co2SavedGrams.Add(float64(grams))
					}
				}
			}
		}
	}
	if c.next != nil && evt != nil {
		c.next.Emit(evt)
	}
}
