package substrate

import (
	"context"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-transfers/internal/log"
	"github.com/Klingon-tech/klingnet-transfers/internal/storage"
	"github.com/Klingon-tech/klingnet-transfers/pkg/record"
	"github.com/Klingon-tech/klingnet-transfers/pkg/spend"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

// Store is a substrate holder persisted in a storage.DB. Every distinct
// spend seen for an address is kept, so a conflict observed once is never
// forgotten.
//
// Key layout: address(32) || record_hash(32) -> tagged spend record.
type Store struct {
	db        storage.DB
	mu        sync.Mutex // serialises write-once checks
	writeOnce bool
}

// NewStore creates a Store over db. With writeOnce set, Put refuses a
// second, different spend for an address.
func NewStore(db storage.DB, writeOnce bool) *Store {
	return &Store{db: db, writeOnce: writeOnce}
}

func storeKey(addr types.SpendAddress, h types.Hash) []byte {
	k := make([]byte, 0, types.SpendAddressSize+types.HashSize)
	k = append(k, addr[:]...)
	return append(k, h[:]...)
}

// Put checks and persists s.
func (st *Store) Put(ctx context.Context, s *spend.Spend) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := accept(s); err != nil {
		return err
	}
	addr := s.Address()
	key := storeKey(addr, record.Hash(record.Spend{Spend: s}))

	st.mu.Lock()
	defer st.mu.Unlock()

	if ok, err := st.db.Has(key); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	} else if ok {
		return nil
	}
	if st.writeOnce {
		existing, err := st.load(addr)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			log.Substrate.Warn().
				Str("address", addr.Short()).
				Msg("Refused conflicting spend")
			return ErrConflict
		}
	}
	if err := st.db.Put(key, record.Encode(record.Spend{Spend: s})); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get returns every spend stored at addr.
func (st *Store) Get(ctx context.Context, addr types.SpendAddress) ([]*spend.Spend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	got, err := st.load(addr)
	if err != nil {
		return nil, err
	}
	if len(got) == 0 {
		return nil, ErrNotFound
	}
	return got, nil
}

func (st *Store) load(addr types.SpendAddress) ([]*spend.Spend, error) {
	var out []*spend.Spend
	err := st.db.ForEach(addr[:], func(key, value []byte) error {
		s, err := record.DecodeSpend(value)
		if err != nil {
			log.Substrate.Error().Err(err).Hex("key", key).Msg("Skipping undecodable spend")
			return nil
		}
		out = append(out, s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Merge(out), nil
}

// Addresses calls fn for every address that holds at least one spend.
func (st *Store) Addresses(fn func(addr types.SpendAddress) error) error {
	var last types.SpendAddress
	first := true
	return st.db.ForEach(nil, func(key, _ []byte) error {
		if len(key) != types.SpendAddressSize+types.HashSize {
			return nil
		}
		var addr types.SpendAddress
		copy(addr[:], key)
		if !first && addr == last {
			return nil
		}
		first, last = false, addr
		return fn(addr)
	})
}
