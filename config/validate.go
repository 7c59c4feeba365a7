package config

import (
	"fmt"
	"net"
	"strings"
)

// MaxReplayWindowSeconds caps how long submitted instructions are remembered.
var MaxReplayWindowSeconds = int64(86400)

func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}
	if _, err := cfg.DefaultAdminIdentity(); err != nil {
		return err
	}
	if cfg.RPC.MaxSkewSeconds <= 0 {
		return fmt.Errorf("rpc: MaxSkewSeconds must be positive")
	}
	if cfg.RPC.RequestsPerMinute < 0 {
		return fmt.Errorf("rpc: RequestsPerMinute < 0")
	}
	if cfg.RPC.Burst < 0 {
		return fmt.Errorf("rpc: Burst < 0")
	}
	if cfg.RPC.ReplayWindowSeconds < 0 || cfg.RPC.ReplayWindowSeconds > MaxReplayWindowSeconds {
		return fmt.Errorf("rpc: ReplayWindowSeconds must be within [0, %d]", MaxReplayWindowSeconds)
	}
	// An instruction stamped at now+skew is admissible until now+2*skew and
	// must be remembered that long.
	if cfg.RPC.ReplayWindowSeconds < 2*cfg.RPC.MaxSkewSeconds {
		return fmt.Errorf("rpc: ReplayWindowSeconds shorter than twice MaxSkewSeconds")
	}
	for _, proxy := range cfg.RPC.TrustedProxies {
		if net.ParseIP(strings.TrimSpace(proxy)) == nil {
			return fmt.Errorf("rpc: invalid trusted proxy %q", proxy)
		}
	}
	if _, err := cfg.GenesisBalances(); err != nil {
		return err
	}
	return nil
}
