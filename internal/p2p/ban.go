package p2p

import (
	"encoding/json"
	"sync"
	"time"

	klog "github.com/Klingon-tech/klingnet-transfers/internal/log"
	"github.com/Klingon-tech/klingnet-transfers/internal/storage"
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// Ban thresholds and durations.
const (
	BanThreshold = 100
	BanDuration  = 24 * time.Hour
)

// Penalties.
const (
	PenaltyInvalidSpend  = 25  // gossiped spend that fails verification
	PenaltyMalformed     = 50  // gossip payload that does not decode
	PenaltyHandshakeFail = 100 // wrong network or genesis
)

// BanRecord is a persisted ban.
type BanRecord struct {
	ID        string `json:"id"`
	Reason    string `json:"reason"`
	Score     int    `json:"score"`
	BannedAt  int64  `json:"banned_at"`
	ExpiresAt int64  `json:"expires_at"` // 0 = permanent
}

// IsExpired reports whether the ban has run out.
func (r *BanRecord) IsExpired() bool {
	return r.ExpiresAt > 0 && time.Now().Unix() >= r.ExpiresAt
}

// BanManager scores peer offenses and bans peers whose score reaches
// BanThreshold. Bans survive restarts when a DB is given.
type BanManager struct {
	mu     sync.Mutex
	scores map[peer.ID]int
	bans   map[peer.ID]*BanRecord
	db     storage.DB // nil disables persistence
	onBan  func(peer.ID)
}

// NewBanManager creates a ban manager. db may be nil. onBan, if set, runs
// in its own goroutine for every new ban.
func NewBanManager(db storage.DB, onBan func(peer.ID)) *BanManager {
	return &BanManager{
		scores: make(map[peer.ID]int),
		bans:   make(map[peer.ID]*BanRecord),
		db:     db,
		onBan:  onBan,
	}
}

// Load restores unexpired bans from the DB and drops the rest.
func (bm *BanManager) Load() error {
	if bm.db == nil {
		return nil
	}
	var stale [][]byte
	loaded := make(map[peer.ID]*BanRecord)
	err := bm.db.ForEach(nil, func(key, value []byte) error {
		var rec BanRecord
		if json.Unmarshal(value, &rec) != nil || rec.IsExpired() {
			stale = append(stale, append([]byte(nil), key...))
			return nil
		}
		id, err := peer.Decode(rec.ID)
		if err != nil {
			stale = append(stale, append([]byte(nil), key...))
			return nil
		}
		loaded[id] = &rec
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range stale {
		bm.db.Delete(k)
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	for id, rec := range loaded {
		bm.bans[id] = rec
	}
	return nil
}

// RecordOffense adds penalty to the score of id and bans it at the
// threshold.
func (bm *BanManager) RecordOffense(id peer.ID, penalty int, reason string) {
	bm.mu.Lock()
	if rec, ok := bm.bans[id]; ok && !rec.IsExpired() {
		bm.mu.Unlock()
		return
	}
	bm.scores[id] += penalty
	score := bm.scores[id]
	if score < BanThreshold {
		bm.mu.Unlock()
		return
	}
	now := time.Now()
	rec := &BanRecord{
		ID:        id.String(),
		Reason:    reason,
		Score:     score,
		BannedAt:  now.Unix(),
		ExpiresAt: now.Add(BanDuration).Unix(),
	}
	bm.bans[id] = rec
	delete(bm.scores, id)
	bm.mu.Unlock()

	if bm.db != nil {
		if data, err := json.Marshal(rec); err == nil {
			bm.db.Put([]byte(rec.ID), data)
		}
	}
	klog.P2P.Warn().
		Str("peer", shortID(id)).
		Str("reason", reason).
		Int("score", score).
		Msg("Peer banned")
	if bm.onBan != nil {
		go bm.onBan(id)
	}
}

// IsBanned reports whether id is currently banned. Expired bans are
// cleared on the way.
func (bm *BanManager) IsBanned(id peer.ID) bool {
	bm.mu.Lock()
	rec, ok := bm.bans[id]
	expired := ok && rec.IsExpired()
	if expired {
		delete(bm.bans, id)
	}
	bm.mu.Unlock()

	if expired && bm.db != nil {
		bm.db.Delete([]byte(id.String()))
	}
	return ok && !expired
}

// Score returns the current offense score of a peer that is not banned.
func (bm *BanManager) Score(id peer.ID) int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.scores[id]
}

// Unban lifts a ban and clears the score.
func (bm *BanManager) Unban(id peer.ID) {
	bm.mu.Lock()
	delete(bm.bans, id)
	delete(bm.scores, id)
	bm.mu.Unlock()
	if bm.db != nil {
		bm.db.Delete([]byte(id.String()))
	}
}

// BanList returns the active bans.
func (bm *BanManager) BanList() []BanRecord {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	var out []BanRecord
	for _, rec := range bm.bans {
		if !rec.IsExpired() {
			out = append(out, *rec)
		}
	}
	return out
}

// banGater refuses connections to and from banned peers.
type banGater struct {
	bans *BanManager
}

func (g *banGater) InterceptPeerDial(p peer.ID) bool { return !g.bans.IsBanned(p) }

func (g *banGater) InterceptAddrDial(peer.ID, ma.Multiaddr) bool { return true }

func (g *banGater) InterceptAccept(network.ConnMultiaddrs) bool { return true }

func (g *banGater) InterceptSecured(_ network.Direction, p peer.ID, _ network.ConnMultiaddrs) bool {
	return !g.bans.IsBanned(p)
}

func (g *banGater) InterceptUpgraded(network.Conn) (bool, control.DisconnectReason) {
	return true, 0
}

func shortID(id peer.ID) string {
	s := id.String()
	if len(s) > 16 {
		return s[:16]
	}
	return s
}
