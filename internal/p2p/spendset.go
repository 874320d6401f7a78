package p2p

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-transfers/internal/substrate"
	"github.com/Klingon-tech/klingnet-transfers/pkg/codec"
	"github.com/Klingon-tech/klingnet-transfers/pkg/spend"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

// MaxSpendsPerRecord caps the spends carried in one DHT value. Two are
// enough to prove a double spend; the rest only cost bandwidth.
const MaxSpendsPerRecord = 8

// ErrBadSpendSet is returned for DHT values that are not a canonical set of
// valid spends for their key.
var ErrBadSpendSet = errors.New("invalid spend set")

// EncodeSpendSet returns the DHT value for spends: a count followed by the
// spends in record hash order, truncated to MaxSpendsPerRecord.
func EncodeSpendSet(spends []*spend.Spend) []byte {
	set := substrate.Merge(spends)
	if len(set) > MaxSpendsPerRecord {
		set = set[:MaxSpendsPerRecord]
	}
	w := codec.NewWriter(1024 * len(set))
	w.Uint(uint64(len(set)))
	for _, s := range set {
		s.EncodeTo(w)
	}
	return w.Data()
}

// DecodeSpendSet parses a DHT value. It rejects empty, unordered or
// duplicated sets so that every set has exactly one encoding.
func DecodeSpendSet(b []byte) ([]*spend.Spend, error) {
	r := codec.NewReader(b)
	n := r.Count(MaxSpendsPerRecord)
	if r.Err() == nil && n == 0 {
		return nil, fmt.Errorf("%w: empty", ErrBadSpendSet)
	}
	out := make([]*spend.Spend, 0, n)
	var last types.Hash
	for i := 0; i < n && r.Err() == nil; i++ {
		s, err := spend.DecodeFrom(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSpendSet, err)
		}
		h := s.Hash()
		if i > 0 && h.Compare(last) <= 0 {
			return nil, fmt.Errorf("%w: spends not in canonical order", ErrBadSpendSet)
		}
		last = h
		out = append(out, s)
	}
	if err := r.Finish(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSpendSet, err)
	}
	return out, nil
}

// checkSpendSet verifies every spend of a decoded set against addr.
func checkSpendSet(addr types.SpendAddress, spends []*spend.Spend) error {
	for _, s := range spends {
		if s.Address() != addr {
			return fmt.Errorf("%w: spend of %s stored at %s", ErrBadSpendSet, s.Address().Short(), addr.Short())
		}
		if err := s.Verify(); err != nil {
			return fmt.Errorf("%w: %v", ErrBadSpendSet, err)
		}
	}
	return nil
}
