package substrate

import (
	"context"
	"errors"
	"testing"
)

func TestReplicated_Suite(t *testing.T) {
	testSubstrate(t, NewReplicated([]Substrate{NewMemory(), NewMemory(), NewMemory()}, 2, 2))
}

func TestReplicated_ConflictAtOneHolder(t *testing.T) {
	ctx := context.Background()
	h1, h2 := NewMemory(), NewMemory()
	r := NewReplicated([]Substrate{h1, h2}, 1, 1)
	s1, s2 := conflictingSpends(t)

	// Each side of a partition saw a different spend.
	h1.Put(ctx, s1)
	h2.Put(ctx, s2)

	got, err := r.Get(ctx, s1.Address())
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Get() = %d spends, want both", len(got))
	}
}

func TestReplicated_PartialFailure(t *testing.T) {
	ctx := context.Background()
	down := failing{err: errors.New("connection refused")}
	good := NewMemory()
	s1, _ := conflictingSpends(t)

	tests := []struct {
		name    string
		r       *Replicated
		wantPut error
		wantGet error
	}{
		{"quorum one", NewReplicated([]Substrate{good, down}, 1, 1), nil, ErrNotFound},
		{"quorum two", NewReplicated([]Substrate{NewMemory(), down}, 2, 2), ErrUnavailable, ErrUnavailable},
		{"all down", NewReplicated([]Substrate{down, down}, 1, 1), ErrUnavailable, ErrUnavailable},
		{"no holders", NewReplicated(nil, 1, 1), ErrUnavailable, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.r.Get(ctx, s1.Address()); !errors.Is(err, tt.wantGet) {
				t.Errorf("Get() before put error = %v, want %v", err, tt.wantGet)
			}
			err := tt.r.Put(ctx, s1)
			if tt.wantPut == nil {
				if err != nil {
					t.Errorf("Put() error: %v", err)
				}
			} else if !errors.Is(err, tt.wantPut) {
				t.Errorf("Put() error = %v, want %v", err, tt.wantPut)
			}
		})
	}

	// A spend held by a reachable holder is returned despite the other failing.
	r := NewReplicated([]Substrate{good, down}, 1, 2)
	got, err := r.Get(ctx, s1.Address())
	if err != nil || len(got) != 1 {
		t.Errorf("Get() = %d, %v; want the held spend", len(got), err)
	}
}

func TestReplicated_WriteOnceConflict(t *testing.T) {
	ctx := context.Background()
	r := NewReplicated([]Substrate{NewMemory(WithWriteOnce()), NewMemory()}, 1, 1)
	s1, s2 := conflictingSpends(t)

	if err := r.Put(ctx, s1); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := r.Put(ctx, s2); !errors.Is(err, ErrConflict) {
		t.Errorf("Put() conflicting error = %v, want ErrConflict", err)
	}
}
