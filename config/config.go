package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress      string   `toml:"RPCAddress"`
	MetricsAddress  string   `toml:"MetricsAddress"`
	DataDir         string   `toml:"DataDir"`
	NetworkName     string   `toml:"NetworkName"`
	PlatformFeeAddr string   `toml:"PlatformFeeAddress"`
	OperatorAddr    string   `toml:"OperatorAddress"`
	PausedModules   []string `toml:"PausedModules"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(cfg.MetricsAddress) == "" {
		cfg.MetricsAddress = "127.0.0.1:9465"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./bazaar-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "campusbazaar-local"
	}
	if cfg.PausedModules == nil {
		cfg.PausedModules = []string{}
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: writing default file: %w", err)
	}
	return cfg, nil
}
