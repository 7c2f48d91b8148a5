package config

import (
	"os"
	"path/filepath"
	"testing"

	"campusbazaar/crypto"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "127.0.0.1:8645" {
		t.Fatalf("RPCAddress = %q", cfg.RPCAddress)
	}
	if cfg.DataDir != "./bazaar-data" {
		t.Fatalf("DataDir = %q", cfg.DataDir)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}

	// Loading again reads the file it just wrote.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.NetworkName != cfg.NetworkName {
		t.Fatalf("reload mismatch: %q vs %q", again.NetworkName, cfg.NetworkName)
	}
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("RPCAddress = \"0.0.0.0:9000\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "0.0.0.0:9000" {
		t.Fatalf("RPCAddress = %q", cfg.RPCAddress)
	}
	if cfg.MetricsAddress != "127.0.0.1:9465" {
		t.Fatalf("MetricsAddress default not applied: %q", cfg.MetricsAddress)
	}
}

func TestValidate(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	operator := key.PubKey().Address().String()

	base := func() *Config {
		cfg := &Config{OperatorAddr: operator}
		applyDefaults(cfg)
		return cfg
	}

	if err := Validate(base()); err != nil {
		t.Fatalf("valid config: %v", err)
	}

	cfg := base()
	cfg.RPCAddress = "no-port"
	if err := Validate(cfg); err == nil {
		t.Fatalf("missing port must fail")
	}

	cfg = base()
	cfg.OperatorAddr = "not-bech32"
	if err := Validate(cfg); err == nil {
		t.Fatalf("malformed operator address must fail")
	}

	cfg = base()
	cfg.PlatformFeeAddr = ""
	if err := Validate(cfg); err != nil {
		t.Fatalf("optional addresses may be empty: %v", err)
	}
}
