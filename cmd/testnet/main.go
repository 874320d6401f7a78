// Command testnet boots a 2-node local testnet from scratch and makes a
// transfer across it.
//
// Usage: go run ./cmd/testnet/
//
// It boots two in-process holder nodes, claims the testnet genesis into a
// wallet on node-1, pays part of it to a fresh wallet on node-2, and checks
// that node-2 verifies the received tokens from spends it learned over the
// network. Ctrl+C for early shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Klingon-tech/klingnet-transfers/config"
	klog "github.com/Klingon-tech/klingnet-transfers/internal/log"
	"github.com/Klingon-tech/klingnet-transfers/internal/node"
	"github.com/Klingon-tech/klingnet-transfers/internal/transfer"
	"github.com/Klingon-tech/klingnet-transfers/internal/wallet"
	"github.com/Klingon-tech/klingnet-transfers/pkg/keys"
)

const payAmount = 1_250 * config.Coin

func main() {
	logger := klog.WithComponent("testnet")
	logger.Info().Msg("=== Klingnet Transfers 2-Node Local Testnet ===")

	root, err := os.MkdirTemp("", "klingnet-testnet-")
	if err != nil {
		logger.Fatal().Err(err).Msg("create temp dir")
	}
	defer os.RemoveAll(root)

	// ── Phase 1: Build + start nodes ────────────────────────────────────

	node1, err := buildNode(filepath.Join(root, "node-1"))
	if err != nil {
		logger.Fatal().Err(err).Msg("build node-1")
	}
	defer node1.Stop()
	node2, err := buildNode(filepath.Join(root, "node-2"))
	if err != nil {
		logger.Fatal().Err(err).Msg("build node-2")
	}
	defer node2.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("Shutdown signal received")
		cancel()
	}()

	connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
	err = node2.P2P().Connect(connectCtx, node1.P2P().Addrs()[0])
	connectCancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect nodes")
	}
	time.Sleep(500 * time.Millisecond) // GossipSub mesh stabilization.

	logger.Info().
		Int("node1_peers", node1.P2P().PeerCount()).
		Int("node2_peers", node2.P2P().PeerCount()).
		Msg("Nodes connected")

	// ── Phase 2: Wallets ────────────────────────────────────────────────

	alice, err := node1.CreateWallet(config.TestnetMnemonic, []byte("alice"))
	if err != nil {
		logger.Fatal().Err(err).Msg("create alice wallet")
	}
	defer alice.Close()

	mnemonic, err := keys.GenerateMnemonic()
	if err != nil {
		logger.Fatal().Err(err).Msg("generate mnemonic")
	}
	bob, err := node2.CreateWallet(mnemonic, []byte("bob"))
	if err != nil {
		logger.Fatal().Err(err).Msg("create bob wallet")
	}
	defer bob.Close()

	gen, err := node1.ClaimGenesis(ctx, alice)
	if err != nil {
		logger.Fatal().Err(err).Msg("claim genesis")
	}
	logger.Info().
		Str("token", gen.UniquePubKey.Short()).
		Uint64("coins", gen.Amount/config.Coin).
		Msg("Genesis claimed by alice")

	// ── Phase 3: Transfer ───────────────────────────────────────────────

	receipt, err := node1.Sender(alice).Send(ctx, []transfer.Recipient{
		{MasterPub: bob.MasterPublic(), Amount: payAmount},
	}, []byte("local testnet payment"))
	if err != nil {
		logger.Fatal().Err(err).Msg("send")
	}
	logger.Info().
		Str("tx", receipt.TxHash.Short()).
		Int("tokens", len(receipt.Tokens)).
		Int("change", len(receipt.Change)).
		Msg("Payment published")

	// Tokens travel out of band; node-2 learns the spends from the network.
	recv := node2.Receiver(bob)
	for _, tok := range receipt.Tokens {
		if err := recv.Receive(ctx, tok); err != nil {
			logger.Error().Err(err).Msg("FAILURE: bob could not verify the payment")
			os.Exit(1)
		}
	}

	// ── Phase 4: Report ─────────────────────────────────────────────────

	printBalance("alice", alice)
	printBalance("bob", bob)
	if bob.Balance().Spendable != payAmount {
		logger.Error().Msg("FAILURE: bob's balance does not match the payment")
		os.Exit(1)
	}
	logger.Info().Msg("SUCCESS: payment verified across nodes")
}

// buildNode creates a testnet node rooted at dir and starts it.
func buildNode(dir string) (*node.Node, error) {
	cfg := config.Default(config.Testnet)
	cfg.DataDir = dir
	cfg.P2P.ListenAddr = "127.0.0.1"
	cfg.P2P.Port = 0 // Random port.
	cfg.P2P.NoDiscover = true
	cfg.P2P.DHTServer = true
	cfg.Retry.Initial = 200 * time.Millisecond
	if err := config.EnsureDataDirs(cfg); err != nil {
		return nil, err
	}

	n, err := node.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := n.Start(); err != nil {
		n.Stop()
		return nil, err
	}
	return n, nil
}

func printBalance(name string, w *wallet.Wallet) {
	b := w.Balance()
	fmt.Printf("  %-6s spendable %12.3f  pending %12.3f  tokens %d\n",
		name,
		float64(b.Spendable)/float64(config.Coin),
		float64(b.Pending)/float64(config.Coin),
		len(w.Unspent()))
}
