// Package node provides a reusable transfer node that can be embedded
// in any binary: it holds spends for the network and gives wallets access
// to the substrate and the verifier.
package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-transfers/config"
	klog "github.com/Klingon-tech/klingnet-transfers/internal/log"
	"github.com/Klingon-tech/klingnet-transfers/internal/p2p"
	"github.com/Klingon-tech/klingnet-transfers/internal/storage"
	"github.com/Klingon-tech/klingnet-transfers/internal/substrate"
	"github.com/Klingon-tech/klingnet-transfers/internal/transfer"
	"github.com/Klingon-tech/klingnet-transfers/internal/verifier"
	"github.com/Klingon-tech/klingnet-transfers/internal/wallet"
	"github.com/Klingon-tech/klingnet-transfers/pkg/keys"
	"github.com/Klingon-tech/klingnet-transfers/pkg/token"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
	"github.com/rs/zerolog"
)

// Node is a fully-initialized transfer node.
type Node struct {
	cfg         *config.Config
	genesis     *config.Genesis
	genesisHash types.Hash
	logger      zerolog.Logger

	db       *storage.BadgerDB
	p2pNode  *p2p.Node
	verifier *verifier.Verifier

	stopOnce sync.Once
}

// New creates and initializes a new Node. It performs all setup steps
// (logger, genesis, storage, P2P, verifier) but does NOT start networking.
// Call Start() for that.
func New(cfg *config.Config) (*Node, error) {
	// ── 1. Init logger ──────────────────────────────────────────────
	if err := initLogger(cfg); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithNetwork(string(cfg.Network))

	// ── 2. Genesis ──────────────────────────────────────────────────
	genesis := config.GenesisFor(cfg.Network)
	if err := genesis.Validate(); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	genesisHash, err := genesis.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash genesis: %w", err)
	}

	logger.Info().
		Str("network_id", genesis.NetworkID).
		Str("genesis", genesisHash.Short()).
		Str("genesis_key", genesis.UniquePubKey.Short()).
		Uint64("supply", genesis.Supply).
		Msg("Starting Klingnet Transfers node")

	// ── 3. Open storage ─────────────────────────────────────────────
	db, err := storage.NewBadger(expandHome(cfg.HolderDir()))
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", cfg.HolderDir(), err)
	}
	logger.Info().Str("path", cfg.HolderDir()).Msg("Holder database opened")

	// ── 4. P2P ──────────────────────────────────────────────────────
	p2pNode := p2p.New(cfg.NodeConfig(db, genesisHash))

	// ── 5. Verifier ─────────────────────────────────────────────────
	v, err := verifier.New(p2pNode.Substrate(), genesis.Params(), cfg.VerifierConfig())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create verifier: %w", err)
	}

	return &Node{
		cfg:         cfg,
		genesis:     genesis,
		genesisHash: genesisHash,
		logger:      logger,
		db:          db,
		p2pNode:     p2pNode,
		verifier:    v,
	}, nil
}

// Start joins the network.
func (n *Node) Start() error {
	if err := n.p2pNode.Start(); err != nil {
		return fmt.Errorf("start p2p: %w", err)
	}

	n.logger.Info().
		Str("id", n.p2pNode.ID().String()).
		Strs("addrs", n.p2pNode.Addrs()).
		Bool("dht_server", n.cfg.P2P.DHTServer).
		Msg("Node started successfully")
	return nil
}

// Stop performs graceful shutdown in reverse order. It is safe to call
// more than once and before Start.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		if err := n.p2pNode.Stop(); err != nil {
			n.logger.Warn().Err(err).Msg("P2P shutdown error")
		}
		if err := n.db.Close(); err != nil {
			n.logger.Warn().Err(err).Msg("Database close error")
		}
		n.logger.Info().Msg("Goodbye!")
	})
}

// Genesis returns the genesis this node trusts.
func (n *Node) Genesis() *config.Genesis { return n.genesis }

// GenesisHash returns the hash peers compare during handshake.
func (n *Node) GenesisHash() types.Hash { return n.genesisHash }

// P2P returns the networking layer.
func (n *Node) P2P() *p2p.Node { return n.p2pNode }

// Substrate returns the network-backed spend substrate.
func (n *Node) Substrate() substrate.Substrate { return n.p2pNode.Substrate() }

// Verifier returns the ancestry verifier bound to this node's genesis.
func (n *Node) Verifier() *verifier.Verifier { return n.verifier }

// CreateWallet creates a wallet in the configured wallet directory.
func (n *Node) CreateWallet(mnemonic string, password []byte) (*wallet.Wallet, error) {
	return wallet.Create(expandHome(n.cfg.WalletDir()), mnemonic, password, n.cfg.EncryptionParams())
}

// OpenWallet opens the wallet in the configured wallet directory.
func (n *Node) OpenWallet(password []byte) (*wallet.Wallet, error) {
	return wallet.Open(expandHome(n.cfg.WalletDir()), password)
}

// OpenWatchOnlyWallet opens the configured wallet without its password.
// It can receive and prepare sends but not sign them.
func (n *Node) OpenWatchOnlyWallet() (*wallet.Wallet, error) {
	return wallet.OpenWatchOnly(expandHome(n.cfg.WalletDir()))
}

// CreateWatchOnlyWallet creates a wallet tracking pub in the configured
// wallet directory.
func (n *Node) CreateWatchOnlyWallet(pub *keys.MasterPublicKey) (*wallet.Wallet, error) {
	return wallet.CreateWatchOnly(expandHome(n.cfg.WalletDir()), pub)
}

// Sender returns a sender that publishes through this node.
func (n *Node) Sender(w *wallet.Wallet) *transfer.Sender {
	return transfer.NewSender(w, n.Substrate())
}

// Receiver returns a receiver that verifies through this node with the
// configured retry policy.
func (n *Node) Receiver(w *wallet.Wallet) *transfer.Receiver {
	return transfer.NewReceiver(w, n.verifier, n.cfg.RetryPolicy())
}

// GenesisToken returns the genesis token as held by w. It fails with
// wallet.ErrNotOwned unless w's master derives the genesis key at the zero
// index, which is how the testnet genesis is held.
func (n *Node) GenesisToken(w *wallet.Wallet) (*token.Token, error) {
	tok := n.genesis.Params().Token(w.MasterPublic().PublicKey(), types.DerivationIndex{})
	if !w.Owns(tok) {
		return nil, fmt.Errorf("%w: genesis %s", wallet.ErrNotOwned, tok.UniquePubKey.Short())
	}
	return tok, nil
}

// ClaimGenesis verifies the genesis token and deposits it into w.
func (n *Node) ClaimGenesis(ctx context.Context, w *wallet.Wallet) (*token.Token, error) {
	tok, err := n.GenesisToken(w)
	if err != nil {
		return nil, err
	}
	if err := n.Receiver(w).Receive(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}
