package p2p

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	klog "github.com/Klingon-tech/klingnet-transfers/internal/log"
	"github.com/Klingon-tech/klingnet-transfers/internal/substrate"
	"github.com/Klingon-tech/klingnet-transfers/pkg/spend"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
	"github.com/libp2p/go-libp2p/core/routing"
	"golang.org/x/sync/errgroup"
)

const (
	// republishInterval keeps held records alive in the DHT, which expires
	// values it has not seen rewritten.
	republishInterval = time.Hour

	// republishWorkers bounds concurrent DHT puts during a republish.
	republishWorkers = 4

	// defaultLookupTimeout bounds one DHT search.
	defaultLookupTimeout = 15 * time.Second
)

var errNoPeers = errors.New("no connected peers")

// valueSearcher is the part of the DHT that spend lookups use.
type valueSearcher interface {
	SearchValue(ctx context.Context, key string, opts ...routing.Option) (<-chan []byte, error)
}

// dhtSubstrate serves substrate.Substrate from the node's DHT, gossip and
// local holder store.
type dhtSubstrate struct {
	n *Node
}

var _ substrate.Substrate = dhtSubstrate{}

// Substrate returns the node as a spend substrate. Spends are kept locally,
// gossiped to connected holders and stored in the DHT under SpendKey.
func (n *Node) Substrate() substrate.Substrate {
	return dhtSubstrate{n: n}
}

// Put holds s locally, then replicates it. It fails with
// substrate.ErrUnavailable only when no other holder was reached.
func (d dhtSubstrate) Put(ctx context.Context, s *spend.Spend) error {
	n := d.n
	if n.host == nil {
		return fmt.Errorf("%w: %w", substrate.ErrUnavailable, ErrNotStarted)
	}
	if err := n.holder.Put(ctx, s); err != nil {
		return err
	}
	gossiped := n.publish(ctx, s)
	err := n.storeRecord(ctx, s.Address())
	if err != nil && !gossiped {
		return fmt.Errorf("%w: %v", substrate.ErrUnavailable, err)
	}
	if err != nil {
		klog.P2P.Debug().Err(err).Str("address", s.Address().Short()).Msg("DHT put failed, spend was gossiped")
	}
	return nil
}

// Get returns every spend at addr known locally or to any DHT holder that
// answered. Spends learnt from the network are kept locally.
func (d dhtSubstrate) Get(ctx context.Context, addr types.SpendAddress) ([]*spend.Spend, error) {
	n := d.n
	if n.host == nil {
		return nil, fmt.Errorf("%w: %w", substrate.ErrUnavailable, ErrNotStarted)
	}
	local, err := n.holder.Get(ctx, addr)
	if err != nil && !errors.Is(err, substrate.ErrNotFound) {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", substrate.ErrUnavailable, err)
		}
		return nil, err
	}

	var (
		remote    []*spend.Spend
		lookupErr error
	)
	if n.PeerCount() > 0 {
		remote, lookupErr = n.searchSpends(ctx, addr)
		for _, s := range remote {
			n.hold(s, "Failed to hold looked-up spend")
		}
	}

	found := substrate.Merge(local, remote)
	switch {
	case len(found) > 0:
		return found, nil
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%w: %v", substrate.ErrUnavailable, ctx.Err())
	case lookupErr != nil:
		return nil, fmt.Errorf("%w: %v", substrate.ErrUnavailable, lookupErr)
	case n.PeerCount() == 0:
		return nil, fmt.Errorf("%w: %w", substrate.ErrUnavailable, errNoPeers)
	default:
		return nil, substrate.ErrNotFound
	}
}

// searchSpends collects the spends of every valid DHT value seen for addr.
// A lookup that fails, or runs out of time before any value arrived, is an
// error rather than an empty result.
func (n *Node) searchSpends(ctx context.Context, addr types.SpendAddress) ([]*spend.Spend, error) {
	ctx, cancel := context.WithTimeout(ctx, n.lookupTimeout)
	defer cancel()
	ch, err := n.search.SearchValue(ctx, SpendKey(addr))
	if err != nil {
		return nil, fmt.Errorf("dht lookup: %w", err)
	}
	var out []*spend.Spend
	for v := range ch {
		spends, err := DecodeSpendSet(v)
		if err != nil || checkSpendSet(addr, spends) != nil {
			continue
		}
		out = append(out, spends...)
	}
	if len(out) == 0 && ctx.Err() != nil {
		return nil, fmt.Errorf("dht lookup: %w", ctx.Err())
	}
	return substrate.Merge(out), nil
}

// hold keeps a spend learnt from the network in the local holder.
func (n *Node) hold(s *spend.Spend, msg string) {
	if err := n.holder.Put(n.ctx, s); err != nil {
		klog.P2P.Debug().Err(err).Str("address", s.Address().Short()).Msg(msg)
	}
}

// storeRecord writes the DHT value for addr: the union of what this node
// holds and what the DHT already has.
func (n *Node) storeRecord(ctx context.Context, addr types.SpendAddress) error {
	if n.PeerCount() == 0 {
		return errNoPeers
	}
	held, err := n.holder.Get(ctx, addr)
	if err != nil {
		return err
	}
	key := SpendKey(addr)
	if v, err := n.dht.GetValue(ctx, key); err == nil {
		if existing, err := DecodeSpendSet(v); err == nil && checkSpendSet(addr, existing) == nil {
			for _, s := range existing {
				n.hold(s, "Failed to hold spend from DHT record")
			}
			held = substrate.Merge(held, existing)
		}
	}
	return n.dht.PutValue(ctx, key, EncodeSpendSet(held))
}

// republish rewrites the DHT value of every held address and returns how
// many were stored.
func (n *Node) republish(ctx context.Context) int {
	defer klog.Benchmark(klog.P2P, "republish")()

	var addrs []types.SpendAddress
	err := n.holder.Addresses(func(a types.SpendAddress) error {
		addrs = append(addrs, a)
		return ctx.Err()
	})
	if err != nil {
		return 0
	}

	var stored atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(republishWorkers)
	for _, a := range addrs {
		g.Go(func() error {
			if err := n.storeRecord(gctx, a); err != nil {
				klog.P2P.Debug().Err(err).Str("address", a.Short()).Msg("Republish failed")
				return nil
			}
			stored.Add(1)
			return nil
		})
	}
	g.Wait()

	if len(addrs) > 0 {
		klog.P2P.Info().Int("held", len(addrs)).Int64("stored", stored.Load()).Msg("Republished spends")
	}
	return int(stored.Load())
}

func (n *Node) runRepublishLoop() {
	ticker := time.NewTicker(republishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.republish(n.ctx)
		}
	}
}
