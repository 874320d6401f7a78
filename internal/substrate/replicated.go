package substrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-transfers/internal/log"
	"github.com/Klingon-tech/klingnet-transfers/pkg/spend"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
	"golang.org/x/sync/errgroup"
)

// Replicated spreads spends over several holders.
//
// Put writes to every holder and succeeds once WriteQuorum of them accepted.
// Get asks every holder and merges what they return, so a conflict held by
// any one holder surfaces. An address is reported missing only when at
// least ReadQuorum holders answered and none had it.
type Replicated struct {
	holders     []Substrate
	writeQuorum int
	readQuorum  int
}

// NewReplicated creates a Replicated substrate. Quorums below 1 are raised
// to 1 and quorums above len(holders) are capped.
func NewReplicated(holders []Substrate, writeQuorum, readQuorum int) *Replicated {
	clamp := func(q int) int {
		if q < 1 {
			q = 1
		}
		if q > len(holders) {
			q = len(holders)
		}
		return q
	}
	return &Replicated{
		holders:     holders,
		writeQuorum: clamp(writeQuorum),
		readQuorum:  clamp(readQuorum),
	}
}

// Put writes s to all holders concurrently.
func (r *Replicated) Put(ctx context.Context, s *spend.Spend) error {
	if len(r.holders) == 0 {
		return ErrUnavailable
	}
	errs := make([]error, len(r.holders))
	var g errgroup.Group
	for i, h := range r.holders {
		g.Go(func() error {
			errs[i] = h.Put(ctx, s)
			return nil
		})
	}
	g.Wait()

	ok := 0
	var conflict, invalid, other error
	for i, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrConflict):
			conflict = err
		case errors.Is(err, ErrInvalidSpend):
			invalid = err
		default:
			other = err
			log.Substrate.Debug().Err(err).Int("holder", i).Msg("Holder put failed")
		}
	}
	if conflict != nil {
		return conflict
	}
	if ok >= r.writeQuorum {
		return nil
	}
	if invalid != nil {
		return invalid
	}
	return fmt.Errorf("%w: %d of %d holders accepted, need %d: %v", ErrUnavailable, ok, len(r.holders), r.writeQuorum, other)
}

// Get reads addr from all holders concurrently and merges the results.
func (r *Replicated) Get(ctx context.Context, addr types.SpendAddress) ([]*spend.Spend, error) {
	if len(r.holders) == 0 {
		return nil, ErrUnavailable
	}
	results := make([][]*spend.Spend, len(r.holders))
	errs := make([]error, len(r.holders))
	var g errgroup.Group
	for i, h := range r.holders {
		g.Go(func() error {
			results[i], errs[i] = h.Get(ctx, addr)
			return nil
		})
	}
	g.Wait()

	answered := 0
	var lastErr error
	for i, err := range errs {
		switch {
		case err == nil, errors.Is(err, ErrNotFound):
			answered++
		default:
			lastErr = err
			log.Substrate.Debug().Err(err).Int("holder", i).Str("address", addr.Short()).Msg("Holder get failed")
		}
	}

	merged := Merge(results...)
	if len(merged) > 0 {
		return merged, nil
	}
	if answered >= r.readQuorum {
		return nil, ErrNotFound
	}
	return nil, fmt.Errorf("%w: %d of %d holders answered, need %d: %v", ErrUnavailable, answered, len(r.holders), r.readQuorum, lastErr)
}
