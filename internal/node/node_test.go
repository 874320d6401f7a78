package node

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-transfers/config"
	"github.com/Klingon-tech/klingnet-transfers/internal/wallet"
	"github.com/Klingon-tech/klingnet-transfers/pkg/keys"
)

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	tests := []struct {
		input, want string
	}{
		{"~/foo/bar", filepath.Join(home, "foo/bar")},
		{"~/.klingnet-transfers/holder", filepath.Join(home, ".klingnet-transfers/holder")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"~", home},
		{"~alice/wallet", "~alice/wallet"},
		{"", ""},
	}
	for _, tt := range tests {
		got := expandHome(tt.input)
		if got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

// testConfig returns a testnet config rooted in a temp dir with cheap
// wallet encryption and a fast retry schedule.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default(config.Testnet)
	cfg.DataDir = t.TempDir()
	cfg.P2P.ListenAddr = "127.0.0.1"
	cfg.P2P.Port = 0 // Use random port to avoid conflicts.
	cfg.P2P.NoDiscover = true
	cfg.P2P.Seeds = nil
	cfg.Wallet.KDFMemory = 1024
	cfg.Wallet.KDFIterations = 1
	cfg.Wallet.KDFThreads = 1
	cfg.Retry.Attempts = 1
	if err := config.EnsureDataDirs(cfg); err != nil {
		t.Fatalf("EnsureDataDirs: %v", err)
	}
	return cfg
}

func TestNodeLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	n, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n.GenesisHash().IsZero() {
		t.Error("genesis hash should be set")
	}
	want, _ := config.TestnetGenesis().Hash()
	if n.GenesisHash() != want {
		t.Error("node should trust the testnet genesis")
	}

	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(n.P2P().Addrs()) == 0 {
		t.Error("started node should have listen addresses")
	}

	// Stop should not panic or error, even twice.
	n.Stop()
	n.Stop()
}

func TestNode_StopWithoutStart(t *testing.T) {
	n, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n.Stop()
}

func TestNode_ClaimGenesis(t *testing.T) {
	cfg := testConfig(t)
	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Stop()

	w, err := n.CreateWallet(config.TestnetMnemonic, []byte("pw"))
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tok, err := n.ClaimGenesis(ctx, w)
	if err != nil {
		t.Fatalf("ClaimGenesis: %v", err)
	}
	if tok.Amount != n.Genesis().Supply {
		t.Errorf("genesis amount = %d, want %d", tok.Amount, n.Genesis().Supply)
	}
	if got := w.Balance().Spendable; got != n.Genesis().Supply {
		t.Errorf("spendable = %d, want %d", got, n.Genesis().Supply)
	}

	// A second claim is a duplicate.
	if _, err := n.ClaimGenesis(ctx, w); !errors.Is(err, wallet.ErrDuplicateToken) {
		t.Errorf("second ClaimGenesis error = %v, want ErrDuplicateToken", err)
	}
}

func TestNode_GenesisToken_NotOwned(t *testing.T) {
	n, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Stop()

	mnemonic, err := keys.GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic: %v", err)
	}
	w, err := n.CreateWallet(mnemonic, []byte("pw"))
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	defer w.Close()

	if _, err := n.GenesisToken(w); !errors.Is(err, wallet.ErrNotOwned) {
		t.Errorf("GenesisToken error = %v, want ErrNotOwned", err)
	}
}

func TestNode_OpenWallet(t *testing.T) {
	cfg := testConfig(t)
	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Stop()

	w, err := n.CreateWallet(config.TestnetMnemonic, []byte("pw"))
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	if w.Dir() != cfg.WalletDir() {
		t.Errorf("wallet dir = %s, want %s", w.Dir(), cfg.WalletDir())
	}
	w.Close()

	w, err = n.OpenWallet([]byte("pw"))
	if err != nil {
		t.Fatalf("OpenWallet: %v", err)
	}
	w.Close()

	if _, err := n.OpenWallet([]byte("wrong")); err == nil {
		t.Error("OpenWallet with wrong password should fail")
	}
}

func TestNode_WatchOnlyWallet(t *testing.T) {
	cfg := testConfig(t)
	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Stop()

	w, err := n.CreateWallet(config.TestnetMnemonic, []byte("pw"))
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	pub := w.MasterPublic()
	w.Close()

	watch, err := n.OpenWatchOnlyWallet()
	if err != nil {
		t.Fatalf("OpenWatchOnlyWallet: %v", err)
	}
	if !watch.WatchOnly() || watch.MasterPublic().String() != pub.String() {
		t.Errorf("watch-only wallet does not track %s", pub)
	}
	watch.Close()

	if _, err := n.CreateWatchOnlyWallet(pub); !errors.Is(err, wallet.ErrWalletExists) {
		t.Errorf("CreateWatchOnlyWallet over a wallet error = %v, want ErrWalletExists", err)
	}
}

func TestLogFile(t *testing.T) {
	cfg := config.Default(config.Testnet)
	cfg.DataDir = "/data"
	if got, want := logFile(cfg), filepath.Join("/data", "logs", "klingnet.log"); got != want {
		t.Errorf("logFile() = %s, want %s", got, want)
	}
	cfg.Log.File = "/var/log/klingnet.json"
	if got := logFile(cfg); got != cfg.Log.File {
		t.Errorf("logFile() = %s, want configured file", got)
	}
}
