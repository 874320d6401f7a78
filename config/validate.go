package config

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
)

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("datadir is required")
	}

	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.P2P.MaxPeers < 0 {
		return fmt.Errorf("p2p.maxpeers must not be negative")
	}
	for i, s := range cfg.P2P.Seeds {
		if _, err := peer.AddrInfoFromString(s); err != nil {
			return fmt.Errorf("p2p.seeds[%d]: %w", i, err)
		}
	}

	if err := cfg.EncryptionParams().Validate(); err != nil {
		return fmt.Errorf("wallet.kdf: %w", err)
	}

	if cfg.Verify.Workers < 1 {
		return fmt.Errorf("verify.workers must be at least 1")
	}
	if cfg.Verify.FetchRate < 0 {
		return fmt.Errorf("verify.fetch_rate must not be negative")
	}
	if cfg.Verify.FetchBurst < 0 {
		return fmt.Errorf("verify.fetch_burst must not be negative")
	}

	if cfg.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1")
	}
	if cfg.Retry.Initial < 0 || cfg.Retry.Max < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if cfg.Retry.Max > 0 && cfg.Retry.Max < cfg.Retry.Initial {
		return fmt.Errorf("retry.max (%s) is below retry.initial (%s)", cfg.Retry.Max, cfg.Retry.Initial)
	}
	if cfg.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}

	if !logLevels[cfg.Log.Level] {
		return fmt.Errorf("unknown log.level %q", cfg.Log.Level)
	}
	return nil
}
