package p2p

import (
	"fmt"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-transfers/internal/storage"
)

func TestPeerStore_SaveLoad(t *testing.T) {
	ps := NewPeerStore(storage.NewMemory())
	id := newPeerID(t)
	rec := PeerRecord{
		ID:       id.String(),
		Addrs:    []string{"/ip4/127.0.0.1/tcp/30303", "not-an-addr"},
		LastSeen: time.Now().Unix(),
		Source:   "seed",
	}
	if err := ps.Save(rec); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := ps.Load(id)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got.Source != "seed" || len(got.Addrs) != 2 {
		t.Errorf("Load() = %+v", got)
	}

	info, err := got.AddrInfo()
	if err != nil {
		t.Fatalf("AddrInfo() error: %v", err)
	}
	if info.ID != id || len(info.Addrs) != 1 {
		t.Errorf("AddrInfo() = %v, want 1 valid address", info)
	}

	if _, err := ps.Load(newPeerID(t)); err == nil {
		t.Error("Load() of unknown peer succeeded")
	}
}

func TestPeerStore_PruneStale(t *testing.T) {
	ps := NewPeerStore(storage.NewMemory())
	now := time.Now()
	fresh, stale := newPeerID(t).String(), newPeerID(t).String()
	ps.Save(PeerRecord{ID: fresh, LastSeen: now.Unix()})
	ps.Save(PeerRecord{ID: stale, LastSeen: now.Add(-48 * time.Hour).Unix()})

	n, err := ps.PruneStale(staleThreshold)
	if err != nil {
		t.Fatalf("PruneStale() error: %v", err)
	}
	if n != 1 {
		t.Errorf("PruneStale() = %d, want 1", n)
	}
	all, _ := ps.LoadAll()
	if len(all) != 1 || all[0].ID != fresh {
		t.Errorf("LoadAll() = %v, want only %s", all, fresh)
	}
}

func TestPeerStore_Cap(t *testing.T) {
	ps := NewPeerStore(storage.NewMemory())
	for i := range maxPersistedPeers + 5 {
		if err := ps.Save(PeerRecord{ID: fmt.Sprintf("peer-%04d", i), LastSeen: 1}); err != nil {
			t.Fatalf("Save() error: %v", err)
		}
	}
	n, _ := ps.Count()
	if n != maxPersistedPeers {
		t.Errorf("Count() = %d, want %d", n, maxPersistedPeers)
	}

	// Known peers are still updated at the cap.
	if err := ps.Save(PeerRecord{ID: "peer-0000", LastSeen: 2}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	all, _ := ps.LoadAll()
	if all[0].LastSeen != 2 {
		t.Errorf("LastSeen = %d, want 2", all[0].LastSeen)
	}
}

func TestNode_PersistsPeers(t *testing.T) {
	db := storage.NewMemory()
	a := startNode(t, Config{DB: db})
	b := startTestNode(t)
	connectNodes(t, a, b)

	a.persistPeers()
	rec, err := NewPeerStore(storage.NewPrefixDB(db, prefixPeer)).Load(b.ID())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if rec.Source != "inbound" || len(rec.Addrs) == 0 {
		t.Errorf("persisted record = %+v", rec)
	}
}
