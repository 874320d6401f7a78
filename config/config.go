// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Network rules: the genesis parameters, immutable, must match across all
//     participants
//   - Node settings: runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/Klingon-tech/klingnet-transfers/internal/p2p"
	"github.com/Klingon-tech/klingnet-transfers/internal/storage"
	"github.com/Klingon-tech/klingnet-transfers/internal/transfer"
	"github.com/Klingon-tech/klingnet-transfers/internal/verifier"
	"github.com/Klingon-tech/klingnet-transfers/internal/wallet"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// P2P spend holder
	P2P P2PConfig

	// Wallet
	Wallet WalletConfig

	// Ancestry verification
	Verify VerifyConfig

	// Receive retries while spends propagate
	Retry RetryConfig

	// Logging
	Log LogConfig
}

// P2PConfig holds peer-to-peer network settings.
type P2PConfig struct {
	ListenAddr string   `conf:"p2p.listen"`
	Port       int      `conf:"p2p.port"`
	Seeds      []string `conf:"p2p.seeds"`
	MaxPeers   int      `conf:"p2p.maxpeers"`
	NoDiscover bool     `conf:"p2p.nodiscover"`
	DHTServer  bool     `conf:"p2p.dhtserver"` // Hold records for others (seeds, always-on holders)
}

// WalletConfig holds wallet settings.
type WalletConfig struct {
	Dir string `conf:"wallet.dir"` // "" = <datadir>/<network>/wallet

	// Argon2id parameters for new key files.
	KDFMemory     uint32 `conf:"wallet.kdf_memory"` // KiB
	KDFIterations uint32 `conf:"wallet.kdf_iterations"`
	KDFThreads    uint8  `conf:"wallet.kdf_threads"`
}

// VerifyConfig holds ancestry verification settings.
type VerifyConfig struct {
	Workers    int     `conf:"verify.workers"`
	FetchRate  float64 `conf:"verify.fetch_rate"` // fetches per second, 0 = unlimited
	FetchBurst int     `conf:"verify.fetch_burst"`
	FailFast   bool    `conf:"verify.failfast"`
}

// RetryConfig holds the receive retry schedule.
type RetryConfig struct {
	Attempts   int           `conf:"retry.attempts"`
	Initial    time.Duration `conf:"retry.initial"`
	Max        time.Duration `conf:"retry.max"`
	Multiplier float64       `conf:"retry.multiplier"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// VerifierConfig returns the verifier settings.
func (c *Config) VerifierConfig() verifier.Config {
	return verifier.Config{
		Workers:    c.Verify.Workers,
		FetchRate:  c.Verify.FetchRate,
		FetchBurst: c.Verify.FetchBurst,
		FailFast:   c.Verify.FailFast,
	}
}

// RetryPolicy returns the receive retry policy.
func (c *Config) RetryPolicy() transfer.RetryPolicy {
	return transfer.RetryPolicy{
		Attempts:   c.Retry.Attempts,
		Initial:    c.Retry.Initial,
		Max:        c.Retry.Max,
		Multiplier: c.Retry.Multiplier,
	}
}

// EncryptionParams returns the key file parameters for new wallets.
func (c *Config) EncryptionParams() wallet.EncryptionParams {
	return wallet.EncryptionParams{
		Memory:      c.Wallet.KDFMemory,
		Iterations:  c.Wallet.KDFIterations,
		Parallelism: c.Wallet.KDFThreads,
	}
}

// NodeConfig returns the P2P node settings. db holds spends, peers and
// bans; genesis is checked during handshake.
func (c *Config) NodeConfig(db storage.DB, genesis types.Hash) p2p.Config {
	return p2p.Config{
		ListenAddr: c.P2P.ListenAddr,
		Port:       c.P2P.Port,
		Seeds:      c.P2P.Seeds,
		MaxPeers:   c.P2P.MaxPeers,
		NoDiscover: c.P2P.NoDiscover,
		DB:         db,
		DHTServer:  c.P2P.DHTServer,
		NetworkID:  string(c.Network),
		DataDir:    c.NetworkDir(),
		Genesis:    genesis,
	}
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingnet-transfers
//	macOS:   ~/Library/Application Support/KlingnetTransfers
//	Windows: %APPDATA%\KlingnetTransfers
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingnet-transfers"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "KlingnetTransfers")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "KlingnetTransfers")
		}
		return filepath.Join(home, "AppData", "Roaming", "KlingnetTransfers")
	default:
		return filepath.Join(home, ".klingnet-transfers")
	}
}

// NetworkDir returns the network-specific data directory.
func (c *Config) NetworkDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// HolderDir returns the spend holder database directory.
func (c *Config) HolderDir() string {
	return filepath.Join(c.NetworkDir(), "holder")
}

// WalletDir returns the wallet directory.
func (c *Config) WalletDir() string {
	if c.Wallet.Dir != "" {
		return c.Wallet.Dir
	}
	return filepath.Join(c.NetworkDir(), "wallet")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "klingnet.conf")
}
