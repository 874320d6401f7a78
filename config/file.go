package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LoadFile reads a .conf file of "key = value" lines. Blank lines and lines
// starting with # are skipped, and a value may be wrapped in matching
// quotes. A missing file yields no values.
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", n)
		}
		values[strings.TrimSpace(key)] = unquote(strings.TrimSpace(value))
	}
	return values, scanner.Err()
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// confFields maps each conf tag of Config to the index path of its field.
var confFields = sync.OnceValue(func() map[string][]int {
	out := make(map[string][]int)
	var walk func(t reflect.Type, path []int)
	walk = func(t reflect.Type, path []int) {
		for i := range t.NumField() {
			f := t.Field(i)
			idx := append(slices.Clone(path), i)
			if tag := f.Tag.Get("conf"); tag != "" {
				out[tag] = idx
			} else if f.Type.Kind() == reflect.Struct {
				walk(f.Type, idx)
			}
		}
	}
	walk(reflect.TypeFor[Config](), nil)
	return out
})

var durationType = reflect.TypeFor[time.Duration]()

// setConfigValue sets the Config field tagged key. Unknown keys are
// ignored so that files written by newer versions still load.
func setConfigValue(cfg *Config, key, value string) error {
	idx, ok := confFields()[key]
	if !ok {
		return nil
	}
	field := reflect.ValueOf(cfg).Elem().FieldByIndex(idx)

	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
	case field.Kind() == reflect.String:
		field.SetString(value)
	case field.Kind() == reflect.Bool:
		field.SetBool(parseBool(value))
	case field.Kind() == reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(n))
	case field.CanUint():
		n, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case field.CanFloat():
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		field.Set(reflect.ValueOf(parseStringList(value)))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

// parseStringList splits a comma-separated list, dropping empty items.
func parseStringList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// WriteDefaultConfig writes a default node configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	d := Default(network)
	content := `# Klingnet Transfers Node Configuration
#
# This file contains NODE settings only. The genesis parameters are fixed
# per network and cannot be changed here.

# Network: mainnet or testnet
network = ` + string(network) + `

# Data directory (default: ~/.klingnet-transfers)
# datadir = ~/.klingnet-transfers

# ============================================================================
# P2P spend holder
# ============================================================================

p2p.listen = 0.0.0.0
p2p.port = ` + strconv.Itoa(d.P2P.Port) + `
p2p.maxpeers = 50

# Seed nodes (comma-separated multiaddrs)
# p2p.seeds = /dns4/seed1.example.com/tcp/30303/p2p/12D3KooW...

# Disable mDNS and rendezvous discovery (the DHT still runs)
# p2p.nodiscover = false

# Hold DHT records for other peers (seed nodes, always-on holders)
# p2p.dhtserver = false

# ============================================================================
# Wallet
# ============================================================================

# wallet.dir =
# Argon2id parameters for new key files
# wallet.kdf_memory = ` + strconv.FormatUint(uint64(d.Wallet.KDFMemory), 10) + `
# wallet.kdf_iterations = ` + strconv.FormatUint(uint64(d.Wallet.KDFIterations), 10) + `
# wallet.kdf_threads = ` + strconv.FormatUint(uint64(d.Wallet.KDFThreads), 10) + `

# ============================================================================
# Verification
# ============================================================================

verify.workers = ` + strconv.Itoa(d.Verify.Workers) + `
# Substrate fetches per second (0 = unlimited)
# verify.fetch_rate = 0
# verify.fetch_burst = 0
verify.failfast = true

# ============================================================================
# Receive retries
# ============================================================================

retry.attempts = ` + strconv.Itoa(d.Retry.Attempts) + `
retry.initial = ` + d.Retry.Initial.String() + `
retry.max = ` + d.Retry.Max.String() + `
retry.multiplier = ` + strconv.FormatFloat(d.Retry.Multiplier, 'g', -1, 64) + `

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
