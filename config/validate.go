package config

import (
	"fmt"
	"net"
	"strings"

	"campusbazaar/crypto"
)

// Validate checks that the configuration values are usable before the daemon
// starts wiring subsystems together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	if _, _, err := net.SplitHostPort(cfg.RPCAddress); err != nil {
		return fmt.Errorf("config: invalid RPCAddress: %w", err)
	}
	if _, _, err := net.SplitHostPort(cfg.MetricsAddress); err != nil {
		return fmt.Errorf("config: invalid MetricsAddress: %w", err)
	}
	if err := validateAddr("PlatformFeeAddress", cfg.PlatformFeeAddr); err != nil {
		return err
	}
	if err := validateAddr("OperatorAddress", cfg.OperatorAddr); err != nil {
		return err
	}
	return nil
}

func validateAddr(field, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return fmt.Errorf("config: invalid %s: %w", field, err)
	}
	if addr.Prefix() != crypto.BazaarPrefix {
		return fmt.Errorf("config: %s must use the %q prefix", field, crypto.BazaarPrefix)
	}
	return nil
}
