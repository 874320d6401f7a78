// Package substrate defines the storage substrate that holds spend records by
// address, and the local implementations of it.
//
// The substrate is trusted only to be eventually consistent. It may serve
// more than one spend for an address (partition, malicious holder); Get
// returns all of them so callers can detect the conflict.
package substrate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Klingon-tech/klingnet-transfers/pkg/spend"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

// Substrate errors.
var (
	// ErrNotFound means no holder that answered knows a spend at the
	// address. It is not proof that none exists.
	ErrNotFound = errors.New("spend not found")
	// ErrUnavailable means the substrate could not be reached.
	ErrUnavailable = errors.New("substrate unavailable")
	// ErrConflict means a write-once holder already has a different spend.
	ErrConflict = errors.New("address already holds a different spend")
	// ErrInvalidSpend means a holder refused a malformed or unsigned spend.
	ErrInvalidSpend = errors.New("spend rejected")
)

// Substrate stores and serves spends by address.
type Substrate interface {
	// Put publishes s at s.Address().
	Put(ctx context.Context, s *spend.Spend) error
	// Get returns every distinct spend known at addr, or ErrNotFound.
	Get(ctx context.Context, addr types.SpendAddress) ([]*spend.Spend, error)
}

// Merge combines spend sets, dropping duplicates. The result is ordered by
// record hash so equal inputs give equal outputs.
func Merge(sets ...[]*spend.Spend) []*spend.Spend {
	type entry struct {
		hash types.Hash
		s    *spend.Spend
	}
	seen := make(map[types.Hash]bool)
	var all []entry
	for _, set := range sets {
		for _, s := range set {
			if s == nil {
				continue
			}
			h := s.Hash()
			if seen[h] {
				continue
			}
			seen[h] = true
			all = append(all, entry{hash: h, s: s})
		}
	}
	slices.SortFunc(all, func(a, b entry) int { return bytes.Compare(a.hash[:], b.hash[:]) })

	out := make([]*spend.Spend, len(all))
	for i, e := range all {
		out[i] = e.s
	}
	return out
}

// accept is the admission check every honest holder applies on Put.
func accept(s *spend.Spend) error {
	if s == nil {
		return ErrInvalidSpend
	}
	if err := s.Verify(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpend, err)
	}
	return nil
}
