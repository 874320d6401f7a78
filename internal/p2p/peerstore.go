package p2p

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingnet-transfers/internal/storage"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	staleThreshold    = 24 * time.Hour
	persistInterval   = 5 * time.Minute
	maxPersistedPeers = 500
)

// PeerRecord is a remembered peer.
type PeerRecord struct {
	ID       string   `json:"id"`
	Addrs    []string `json:"addrs"`
	LastSeen int64    `json:"last_seen"`
	Source   string   `json:"source"` // "seed", "mdns", "dht", "inbound"
}

// AddrInfo parses the record into dialable form. Unparseable addresses
// are skipped.
func (r PeerRecord) AddrInfo() (peer.AddrInfo, error) {
	id, err := peer.Decode(r.ID)
	if err != nil {
		return peer.AddrInfo{}, err
	}
	info := peer.AddrInfo{ID: id}
	for _, s := range r.Addrs {
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			continue
		}
		info.Addrs = append(info.Addrs, a)
	}
	return info, nil
}

// PeerStore remembers peers across restarts, keyed by peer ID.
type PeerStore struct {
	db storage.DB
}

// NewPeerStore creates a PeerStore over db. Callers give it its own
// namespace, e.g. a storage.PrefixDB.
func NewPeerStore(db storage.DB) *PeerStore {
	return &PeerStore{db: db}
}

// Save stores rec. New peers beyond maxPersistedPeers are dropped.
func (ps *PeerStore) Save(rec PeerRecord) error {
	key := []byte(rec.ID)
	exists, err := ps.db.Has(key)
	if err != nil {
		return err
	}
	if !exists {
		n, err := ps.Count()
		if err != nil {
			return err
		}
		if n >= maxPersistedPeers {
			return nil
		}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal peer record: %w", err)
	}
	return ps.db.Put(key, data)
}

// Load returns the record of id.
func (ps *PeerStore) Load(id peer.ID) (*PeerRecord, error) {
	data, err := ps.db.Get([]byte(id.String()))
	if err != nil {
		return nil, err
	}
	var rec PeerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal peer record: %w", err)
	}
	return &rec, nil
}

// LoadAll returns every readable record.
func (ps *PeerStore) LoadAll() ([]PeerRecord, error) {
	var out []PeerRecord
	err := ps.db.ForEach(nil, func(_, value []byte) error {
		var rec PeerRecord
		if json.Unmarshal(value, &rec) == nil {
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// PruneStale deletes records not seen within threshold, and unreadable
// ones. It returns how many were removed.
func (ps *PeerStore) PruneStale(threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold).Unix()
	var drop [][]byte
	err := ps.db.ForEach(nil, func(key, value []byte) error {
		var rec PeerRecord
		if json.Unmarshal(value, &rec) != nil || rec.LastSeen < cutoff {
			drop = append(drop, append([]byte(nil), key...))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, k := range drop {
		if err := ps.db.Delete(k); err != nil {
			return 0, err
		}
	}
	return len(drop), nil
}

// Count returns the number of stored records.
func (ps *PeerStore) Count() (int, error) {
	n := 0
	err := ps.db.ForEach(nil, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}
