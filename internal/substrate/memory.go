package substrate

import (
	"context"
	"sync"

	"github.com/Klingon-tech/klingnet-transfers/pkg/spend"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

// Memory is an in-process substrate. It is safe for concurrent use.
type Memory struct {
	mu        sync.RWMutex
	spends    map[types.SpendAddress][]*spend.Spend
	writeOnce bool
}

// MemoryOption configures a Memory substrate.
type MemoryOption func(*Memory)

// WithWriteOnce makes Put refuse a second, different spend for an address.
func WithWriteOnce() MemoryOption {
	return func(m *Memory) { m.writeOnce = true }
}

// NewMemory creates an empty in-memory substrate.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{spends: make(map[types.SpendAddress][]*spend.Spend)}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Put stores s after checking it. Storing an identical spend again is a
// no-op.
func (m *Memory) Put(ctx context.Context, s *spend.Spend) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := accept(s); err != nil {
		return err
	}
	addr := s.Address()

	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.spends[addr]
	for _, e := range existing {
		if e.Equal(s) {
			return nil
		}
	}
	if m.writeOnce && len(existing) > 0 {
		return ErrConflict
	}
	m.spends[addr] = Merge(existing, []*spend.Spend{s})
	return nil
}

// Inject stores s with no checks at all. Tests use it to model holders
// that serve conflicting or forged records.
func (m *Memory) Inject(s *spend.Spend) {
	addr := s.Address()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spends[addr] = Merge(m.spends[addr], []*spend.Spend{s})
}

// Get returns every spend stored at addr.
func (m *Memory) Get(ctx context.Context, addr types.SpendAddress) ([]*spend.Spend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	got := m.spends[addr]
	if len(got) == 0 {
		return nil, ErrNotFound
	}
	out := make([]*spend.Spend, len(got))
	copy(out, got)
	return out, nil
}

// Len returns the number of addresses holding at least one spend.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.spends)
}
