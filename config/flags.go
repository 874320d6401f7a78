package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrHelp is returned by Load when usage or version output was requested.
var ErrHelp = errors.New("help requested")

// Version is reported by --version.
const Version = "0.1.0"

// Flags holds parsed command-line flags. Besides the commands and the flags
// that locate the config file, every flag overrides one config key.
type Flags struct {
	Help    bool
	Version bool

	Network string
	DataDir string
	Config  string

	// Remaining args
	Args []string

	// Explicitly set override flags, as config key -> raw value.
	overrides map[string]string
}

// overrideFlags maps override flags to the config keys they set.
var overrideFlags = []struct {
	name, key, usage string
	boolean          bool
}{
	{"listen", "p2p.listen", "P2P listen address", false},
	{"p2p-port", "p2p.port", "P2P listen port", false},
	{"seeds", "p2p.seeds", "Seed nodes as comma-separated libp2p multiaddrs", false},
	{"maxpeers", "p2p.maxpeers", "Maximum number of peers", false},
	{"nodiscover", "p2p.nodiscover", "Disable mDNS and rendezvous discovery", true},
	{"dht-server", "p2p.dhtserver", "Hold DHT records for other peers", true},
	{"wallet-dir", "wallet.dir", "Wallet directory", false},
	{"verify-workers", "verify.workers", "Concurrent ancestry fetches", false},
	{"fetch-rate", "verify.fetch_rate", "Substrate fetches per second", false},
	{"log-level", "log.level", "Log level (debug, info, warn, error)", false},
	{"log-file", "log.file", "Log file path", false},
	{"log-json", "log.json", "Output logs as JSON", true},
}

// ParseFlags parses command-line arguments (without the program name).
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{overrides: make(map[string]string)}
	fs := flag.NewFlagSet("klingnetd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	fs.StringVar(&f.Network, "network", "", "Network type (mainnet or testnet)")
	testnet := fs.Bool("testnet", false, "Shorthand for --network=testnet")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	keys := make(map[string]string, len(overrideFlags))
	for _, o := range overrideFlags {
		keys[o.name] = o.key
		if o.boolean {
			fs.Bool(o.name, false, o.usage)
		} else {
			fs.String(o.name, "", o.usage)
		}
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			f.Help = true
			return f, nil
		}
		return nil, err
	}
	if *testnet {
		f.Network = string(Testnet)
	}
	fs.Visit(func(fl *flag.Flag) {
		if key, ok := keys[fl.Name]; ok {
			f.overrides[key] = fl.Value.String()
		}
	})

	// A positional argument stops the parser; anything flag-like after it
	// would be silently ignored.
	f.Args = fs.Args()
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("flag %q was not parsed (positional argument stopped parsing)", arg)
		}
	}
	return f, nil
}

// Override returns the raw value of the flag that sets the config key, if
// one was given.
func (f *Flags) Override(key string) (string, bool) {
	v, ok := f.overrides[key]
	return v, ok
}

// ApplyFlags applies explicitly set flags on top of cfg.
func ApplyFlags(cfg *Config, f *Flags) error {
	if f.Network != "" {
		cfg.Network = NetworkType(strings.ToLower(f.Network))
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	for key, value := range f.overrides {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("flag for %s: %w", key, err)
		}
	}
	return nil
}

// PrintUsage writes the command-line help to w.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, `Klingnet Transfers - spend holder node

Usage:
  klingnetd [options]
  klingnetd --help

Commands:
  --help, -h      Show this help message
  --version, -v   Show version information

Core Options:
  --network       Network type: mainnet (default) or testnet
  --testnet       Shorthand for --network=testnet
  --datadir       Data directory (default: ~/.klingnet-transfers)
  --config, -c    Config file path (default: <datadir>/klingnet.conf)

P2P Options:
  --listen        P2P listen address (default: 0.0.0.0)
  --p2p-port      P2P listen port (mainnet: 30303, testnet: 30304)
  --seeds         Seed nodes as comma-separated libp2p multiaddrs
  --maxpeers      Maximum number of peers (default: 50)
  --nodiscover    Disable mDNS and rendezvous discovery
  --dht-server    Hold DHT records for other peers (seed nodes)

Wallet and Verification Options:
  --wallet-dir      Wallet directory (default: <datadir>/<network>/wallet)
  --verify-workers  Concurrent ancestry fetches while verifying
  --fetch-rate      Substrate fetches per second (0 = unlimited)

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path (default: stdout)
  --log-json      Output logs as JSON

Examples:
  # Start a mainnet holder
  klingnetd

  # Start a testnet seed
  klingnetd --testnet --dht-server
`)
}

// Load loads configuration with the following precedence:
//  1. Default values
//  2. Auto-create data dirs + default config (idempotent)
//  3. Config file
//  4. Command-line flags
//
// It returns ErrHelp after printing usage or version to stdout.
func Load(args []string) (*Config, *Flags, error) {
	flags, err := ParseFlags(args)
	if err != nil {
		return nil, nil, err
	}
	if flags.Help {
		PrintUsage(os.Stdout)
		return nil, flags, ErrHelp
	}
	if flags.Version {
		fmt.Println("klingnetd version " + Version)
		return nil, flags, ErrHelp
	}

	network := Mainnet
	if strings.ToLower(flags.Network) == string(Testnet) {
		network = Testnet
	}
	cfg := Default(network)
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	if err := ApplyFlags(cfg, flags); err != nil {
		return nil, nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. Safe to call on every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.NetworkDir(),
		cfg.HolderDir(),
		cfg.LogsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}
	return nil
}
