package config

import (
	"github.com/Klingon-tech/klingnet-transfers/internal/transfer"
	"github.com/Klingon-tech/klingnet-transfers/internal/verifier"
	"github.com/Klingon-tech/klingnet-transfers/internal/wallet"
)

// DefaultMainnet returns the default node configuration for mainnet.
func DefaultMainnet() *Config {
	kdf := wallet.DefaultParams()
	vc := verifier.DefaultConfig()
	rp := transfer.DefaultRetryPolicy()
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		P2P: P2PConfig{
			ListenAddr: "0.0.0.0",
			Port:       30303,
			MaxPeers:   50,
			// Seeds are multiaddr strings, e.g.
			//   "/dns4/seed1.klingnet.io/tcp/30303/p2p/12D3KooW..."
			// Real addresses will be filled when seed holders are provisioned.
			Seeds: []string{},
		},
		Wallet: WalletConfig{
			KDFMemory:     kdf.Memory,
			KDFIterations: kdf.Iterations,
			KDFThreads:    kdf.Parallelism,
		},
		Verify: VerifyConfig{
			Workers:    vc.Workers,
			FetchRate:  vc.FetchRate,
			FetchBurst: vc.FetchBurst,
			FailFast:   vc.FailFast,
		},
		Retry: RetryConfig{
			Attempts:   rp.Attempts,
			Initial:    rp.Initial,
			Max:        rp.Max,
			Multiplier: rp.Multiplier,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultTestnet returns the default node configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.P2P.Port = 30304
	return cfg
}

// Default returns the default node configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
