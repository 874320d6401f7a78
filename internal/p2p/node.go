// Package p2p runs a libp2p node that holds spends in a Kademlia DHT and
// replicates them over GossipSub.
package p2p

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	klog "github.com/Klingon-tech/klingnet-transfers/internal/log"
	"github.com/Klingon-tech/klingnet-transfers/internal/storage"
	"github.com/Klingon-tech/klingnet-transfers/internal/substrate"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
)

const (
	// dhtDiscoveryInterval is how often DHT FindPeers runs.
	dhtDiscoveryInterval = 30 * time.Second

	// peerConnectTimeout bounds a single dial to a known peer.
	peerConnectTimeout = 5 * time.Second

	// seedRetryInterval is how often seeds are redialled while peerless.
	seedRetryInterval = 10 * time.Second

	// maxGossipSize bounds a gossiped spend record.
	maxGossipSize = 128 * 1024
)

// Key prefixes inside Config.DB.
var (
	prefixSpend = []byte("spend/")
	prefixPeer  = []byte("peer/")
	prefixBan   = []byte("ban/")
)

// ErrNotStarted is returned by operations that need a running node.
var ErrNotStarted = errors.New("p2p node not started")

// Config holds P2P node configuration.
type Config struct {
	ListenAddr string
	Port       int
	Seeds      []string
	MaxPeers   int
	NoDiscover bool       // disables mDNS and rendezvous discovery; the DHT still runs
	DB         storage.DB // spends, peers, bans (nil = in memory, for tests)
	DHTServer  bool       // answer DHT queries and hold records for others
	NetworkID  string     // scopes protocols, topics and discovery
	DataDir    string     // where the node identity is kept ("" = ephemeral)
	Genesis    types.Hash // required to match during handshake (zero = no handshake)
}

// Peer is a connected peer.
type Peer struct {
	ID          peer.ID
	ConnectedAt time.Time
	Source      string
}

// Node is a spend holder on the libp2p network.
type Node struct {
	host   host.Host
	dht    *dht.IpfsDHT
	pubsub *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	config Config
	ctx    context.Context
	cancel context.CancelFunc

	// search runs DHT value lookups; the DHT itself unless replaced.
	search        valueSearcher
	lookupTimeout time.Duration

	holder    *substrate.Store
	peerStore *PeerStore // nil if Config.DB is nil
	bans      *BanManager

	mu    sync.RWMutex
	peers map[peer.ID]*Peer

	stopOnce sync.Once
	stopErr  error

	onPeerConnected func(peer.ID)
}

// New creates a node. Nothing touches the network until Start.
func New(cfg Config) *Node {
	if cfg.NetworkID == "" {
		cfg.NetworkID = defaultNetwork
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
		peers:  make(map[peer.ID]*Peer),

		lookupTimeout: defaultLookupTimeout,
	}

	db := cfg.DB
	if db == nil {
		db = storage.NewMemory()
	} else {
		n.peerStore = NewPeerStore(storage.NewPrefixDB(db, prefixPeer))
	}
	n.holder = substrate.NewStore(storage.NewPrefixDB(db, prefixSpend), false)

	var banDB storage.DB
	if cfg.DB != nil {
		banDB = storage.NewPrefixDB(cfg.DB, prefixBan)
	}
	n.bans = NewBanManager(banDB, func(id peer.ID) { n.DisconnectPeer(id) })
	return n
}

// rendezvous is the mDNS and DHT discovery namespace.
func (n *Node) rendezvous() string {
	return "klingnet-transfers/" + n.config.NetworkID
}

// Start brings up the host, the DHT and gossip, and begins connecting.
func (n *Node) Start() error {
	logger := klog.P2P
	if err := n.bans.Load(); err != nil {
		logger.Warn().Err(err).Msg("Failed to load bans")
	}

	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/%s/tcp/%d", n.config.ListenAddr, n.config.Port)),
		libp2p.ConnectionGater(&banGater{bans: n.bans}),
	}
	if n.config.DataDir != "" {
		priv, err := loadOrCreateIdentity(n.config.DataDir)
		if err != nil {
			return fmt.Errorf("load p2p identity: %w", err)
		}
		opts = append(opts, libp2p.Identity(priv))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	n.host = h
	h.Network().Notify(&network.NotifyBundle{
		ConnectedF:    func(_ network.Network, c network.Conn) { n.connected(c) },
		DisconnectedF: func(_ network.Network, c network.Conn) { n.disconnected(c) },
	})

	mode := dht.ModeClient
	if n.config.DHTServer {
		mode = dht.ModeServer
	}
	n.dht, err = dht.New(n.ctx, h,
		dht.Mode(mode),
		dht.ProtocolPrefix(DHTProtocolPrefix(n.config.NetworkID)),
		dht.Validator(newValidator()),
	)
	if err != nil {
		h.Close()
		return fmt.Errorf("create kad-dht: %w", err)
	}
	if n.search == nil {
		n.search = n.dht
	}

	if err := n.startGossip(); err != nil {
		n.dht.Close()
		h.Close()
		return err
	}

	if n.config.Genesis != (types.Hash{}) {
		n.registerHandshakeHandler()
	}

	if len(n.config.Seeds) > 0 {
		logger.Info().Int("seeds", len(n.config.Seeds)).Msg("Connecting to seeds...")
	}
	n.connectSeedsOnce()
	if err := n.dht.Bootstrap(n.ctx); err != nil {
		logger.Warn().Err(err).Msg("DHT bootstrap failed")
	}

	go n.loadPersistedPeers()
	go n.connectSeedsLoop()
	go n.runRepublishLoop()
	if !n.config.NoDiscover {
		n.startMDNS()
		go n.runDHTDiscovery()
	}
	if n.peerStore != nil {
		go n.runPersistLoop()
	}

	logger.Info().
		Str("id", shortID(h.ID())).
		Str("network", n.config.NetworkID).
		Str("dht_mode", map[bool]string{true: "server", false: "client"}[n.config.DHTServer]).
		Msg("P2P node started")
	return nil
}

// Stop shuts the node down. Only the first call does anything.
func (n *Node) Stop() error {
	n.stopOnce.Do(func() {
		n.persistPeers()
		n.cancel()
		if n.sub != nil {
			n.sub.Cancel()
		}
		if n.topic != nil {
			n.topic.Close()
		}
		if n.dht != nil {
			n.dht.Close()
		}
		if n.host != nil {
			n.stopErr = n.host.Close()
		}
	})
	return n.stopErr
}

// Host returns the libp2p host (nil before Start).
func (n *Node) Host() host.Host {
	return n.host
}

// ID returns the peer ID of this node.
func (n *Node) ID() peer.ID {
	if n.host == nil {
		return ""
	}
	return n.host.ID()
}

// Addrs returns the full multiaddrs of this node.
func (n *Node) Addrs() []string {
	if n.host == nil {
		return nil
	}
	var addrs []string
	for _, a := range n.host.Addrs() {
		addrs = append(addrs, fmt.Sprintf("%s/p2p/%s", a, n.host.ID()))
	}
	return addrs
}

// Bans returns the node's ban manager.
func (n *Node) Bans() *BanManager {
	return n.bans
}

// Holder returns the local spend store this node serves from.
func (n *Node) Holder() *substrate.Store {
	return n.holder
}

// SetPeerConnectedHandler registers a callback for newly connected peers.
func (n *Node) SetPeerConnectedHandler(fn func(peer.ID)) {
	n.onPeerConnected = fn
}

// Connect dials a peer given as a full multiaddr.
func (n *Node) Connect(ctx context.Context, addr string) error {
	if n.host == nil {
		return ErrNotStarted
	}
	info, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("parse peer address: %w", err)
	}
	if err := n.host.Connect(ctx, *info); err != nil {
		return err
	}
	n.setSource(info.ID, "manual")
	return nil
}

// DisconnectPeer closes all connections to a peer.
func (n *Node) DisconnectPeer(id peer.ID) error {
	if n.host == nil {
		return ErrNotStarted
	}
	n.removePeer(id)
	return n.host.Network().ClosePeer(id)
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// PeerList returns a snapshot of connected peers.
func (n *Node) PeerList() []Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, *p)
	}
	return out
}

func (n *Node) connected(c network.Conn) {
	id := c.RemotePeer()
	if n.config.MaxPeers > 0 && c.Stat().Direction == network.DirInbound && n.PeerCount() >= n.config.MaxPeers {
		n.mu.RLock()
		_, known := n.peers[id]
		n.mu.RUnlock()
		if !known {
			go c.Close()
			return
		}
	}

	n.mu.Lock()
	_, exists := n.peers[id]
	if !exists {
		src := ""
		if c.Stat().Direction == network.DirInbound {
			src = "inbound"
		}
		n.peers[id] = &Peer{ID: id, ConnectedAt: time.Now(), Source: src}
	}
	n.mu.Unlock()
	if exists {
		return
	}

	klog.P2P.Debug().Str("peer", shortID(id)).Msg("Peer connected")
	if n.config.Genesis != (types.Hash{}) && c.Stat().Direction == network.DirOutbound {
		go n.doHandshake(id)
	}
	if n.onPeerConnected != nil {
		go n.onPeerConnected(id)
	}
}

func (n *Node) disconnected(c network.Conn) {
	id := c.RemotePeer()
	if n.host.Network().Connectedness(id) == network.Connected {
		return
	}
	n.removePeer(id)
	klog.P2P.Debug().Str("peer", shortID(id)).Msg("Peer disconnected")
}

func (n *Node) setSource(id peer.ID, src string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok := n.peers[id]; ok && p.Source == "" {
		p.Source = src
	}
}

func (n *Node) removePeer(id peer.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, id)
}

// --- Discovery ---

type discoveryNotifee struct {
	node *Node
}

// HandlePeerFound implements mdns.Notifee.
func (d *discoveryNotifee) HandlePeerFound(info peer.AddrInfo) {
	n := d.node
	if info.ID == n.host.ID() || n.bans.IsBanned(info.ID) {
		return
	}
	ctx, cancel := context.WithTimeout(n.ctx, peerConnectTimeout)
	defer cancel()
	if err := n.host.Connect(ctx, info); err == nil {
		n.setSource(info.ID, "mdns")
	}
}

func (n *Node) startMDNS() {
	svc := mdns.NewMdnsService(n.host, n.rendezvous(), &discoveryNotifee{node: n})
	if err := svc.Start(); err != nil {
		klog.P2P.Debug().Err(err).Msg("mDNS unavailable")
	}
}

// connectSeedsOnce dials every seed once and reports whether any answered.
func (n *Node) connectSeedsOnce() bool {
	logger := klog.P2P
	connected := false
	for _, addr := range n.config.Seeds {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			logger.Warn().Str("addr", addr).Err(err).Msg("Bad seed address")
			continue
		}
		ctx, cancel := context.WithTimeout(n.ctx, 2*peerConnectTimeout)
		err = n.host.Connect(ctx, *info)
		cancel()
		if err != nil {
			logger.Warn().Str("peer", shortID(info.ID)).Err(err).Msg("Seed connect failed")
			continue
		}
		n.setSource(info.ID, "seed")
		logger.Info().Str("peer", shortID(info.ID)).Msg("Seed connected")
		connected = true
	}
	return connected
}

func (n *Node) connectSeedsLoop() {
	if len(n.config.Seeds) == 0 {
		return
	}
	ticker := time.NewTicker(seedRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if n.PeerCount() == 0 {
				klog.P2P.Info().Int("seeds", len(n.config.Seeds)).Msg("No peers, retrying seeds...")
				n.connectSeedsOnce()
			}
		}
	}
}

func (n *Node) runDHTDiscovery() {
	rd := drouting.NewRoutingDiscovery(n.dht)
	dutil.Advertise(n.ctx, rd, n.rendezvous())

	ticker := time.NewTicker(dhtDiscoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.findDHTPeers(rd)
		}
	}
}

func (n *Node) findDHTPeers(rd *drouting.RoutingDiscovery) {
	ctx, cancel := context.WithTimeout(n.ctx, 20*time.Second)
	defer cancel()

	peerCh, err := rd.FindPeers(ctx, n.rendezvous())
	if err != nil {
		return
	}
	for p := range peerCh {
		if p.ID == n.host.ID() || len(p.Addrs) == 0 {
			continue
		}
		if n.config.MaxPeers > 0 && n.PeerCount() >= n.config.MaxPeers {
			return
		}
		cctx, ccancel := context.WithTimeout(n.ctx, peerConnectTimeout)
		if err := n.host.Connect(cctx, p); err == nil {
			n.setSource(p.ID, "dht")
		}
		ccancel()
	}
}

// --- Peer persistence ---

func (n *Node) persistPeers() {
	if n.peerStore == nil || n.host == nil {
		return
	}
	now := time.Now().Unix()
	for _, p := range n.PeerList() {
		addrs := n.host.Peerstore().Addrs(p.ID)
		rec := PeerRecord{
			ID:       p.ID.String(),
			Addrs:    make([]string, len(addrs)),
			LastSeen: now,
			Source:   p.Source,
		}
		for i, a := range addrs {
			rec.Addrs[i] = a.String()
		}
		if err := n.peerStore.Save(rec); err != nil {
			klog.P2P.Debug().Err(err).Str("peer", shortID(p.ID)).Msg("Failed to persist peer")
		}
	}
}

func (n *Node) loadPersistedPeers() {
	if n.peerStore == nil {
		return
	}
	n.peerStore.PruneStale(staleThreshold)
	records, err := n.peerStore.LoadAll()
	if err != nil {
		return
	}
	for _, rec := range records {
		info, err := rec.AddrInfo()
		if err != nil || info.ID == n.host.ID() || len(info.Addrs) == 0 {
			continue
		}
		ctx, cancel := context.WithTimeout(n.ctx, peerConnectTimeout)
		if n.host.Connect(ctx, info) == nil {
			n.setSource(info.ID, rec.Source)
		}
		cancel()
	}
}

func (n *Node) runPersistLoop() {
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.persistPeers()
			n.peerStore.PruneStale(staleThreshold)
		}
	}
}

// loadOrCreateIdentity keeps the peer ID stable across restarts.
func loadOrCreateIdentity(dataDir string) (libp2pcrypto.PrivKey, error) {
	keyPath := filepath.Join(dataDir, "node.key")
	data, err := os.ReadFile(keyPath)
	if err == nil {
		priv, err := libp2pcrypto.UnmarshalPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("decode node key: %w", err)
		}
		return priv, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read node key: %w", err)
	}

	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	raw, err := libp2pcrypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(keyPath, raw, 0600); err != nil {
		return nil, fmt.Errorf("save node key: %w", err)
	}
	return priv, nil
}
