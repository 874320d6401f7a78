// Package verifier decides whether a received token is spendable by walking
// its ancestry back to genesis through the spend records in the substrate.
//
// At every hop the walk checks the spend signature, amount conservation of
// the spending transaction, and that exactly one spend exists at the
// address. The walk is an explicit work list keyed by spend address, so
// each address is fetched once per call no matter how many descendants
// share it, and fetches of independent addresses run concurrently.
package verifier

import (
	"context"
	"errors"
	"slices"

	"github.com/Klingon-tech/klingnet-transfers/internal/log"
	"github.com/Klingon-tech/klingnet-transfers/internal/substrate"
	"github.com/Klingon-tech/klingnet-transfers/pkg/crypto"
	"github.com/Klingon-tech/klingnet-transfers/pkg/spend"
	"github.com/Klingon-tech/klingnet-transfers/pkg/token"
	"github.com/Klingon-tech/klingnet-transfers/pkg/tx"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Config tunes a Verifier.
type Config struct {
	// Workers bounds concurrent substrate fetches within one Verify call.
	Workers int
	// FetchRate caps substrate fetches per second across all calls of the
	// verifier. Zero means unlimited.
	FetchRate  float64
	FetchBurst int
	// FailFast stops dispatching fetches once a terminal failure is known.
	// Without it the walk visits every reachable address, which makes the
	// reported reason independent of fetch timing.
	FailFast bool
}

// DefaultConfig returns the settings used by nodes and wallets.
func DefaultConfig() Config {
	return Config{Workers: 8, FailFast: true}
}

// Verifier checks token ancestry against a substrate. It holds no state
// between calls and is safe for concurrent use.
type Verifier struct {
	src      substrate.Substrate
	genesis  token.GenesisParams
	workers  int
	failFast bool
	limiter  *rate.Limiter
}

// New creates a verifier that trusts genesis as the only root.
func New(src substrate.Substrate, genesis token.GenesisParams, cfg Config) (*Verifier, error) {
	if err := genesis.Validate(); err != nil {
		return nil, err
	}
	v := &Verifier{
		src:      src,
		genesis:  genesis,
		workers:  max(cfg.Workers, 1),
		failFast: cfg.FailFast,
	}
	if cfg.FetchRate > 0 {
		v.limiter = rate.NewLimiter(rate.Limit(cfg.FetchRate), max(cfg.FetchBurst, 1))
	}
	return v, nil
}

// Genesis returns the trusted root.
func (v *Verifier) Genesis() token.GenesisParams {
	return v.genesis
}

// Verify returns nil when tok descends from genesis through valid, conserved
// and unconflicted spends. Otherwise the error is an *Error wrapping one of
// the package reasons.
func (v *Verifier) Verify(ctx context.Context, tok *token.Token) error {
	if tok == nil {
		return fail(ErrInvalidAncestry, types.SpendAddress{}, "nil token")
	}
	addr := tok.Address()
	if err := tok.ValidateStructure(); err != nil {
		return fail(ErrInvalidAncestry, addr, "%v", err)
	}
	if tok.Parent == nil {
		if v.genesis.IsGenesis(tok) {
			return nil
		}
		if tok.UniquePubKey == v.genesis.UniquePubKey {
			return fail(ErrInvalidAncestry, addr, "genesis amount %d, supply is %d", tok.Amount, v.genesis.Supply)
		}
		return fail(ErrInvalidAncestry, addr, "token has no parent and is not genesis")
	}
	if tok.UniquePubKey == v.genesis.UniquePubKey {
		return fail(ErrInvalidAncestry, addr, "genesis key reissued")
	}

	defer log.Benchmark(log.Verifier, "verify")()

	w := &walk{v: v, nodes: make(map[types.SpendAddress]*node)}
	w.expectInputs(tok.Parent)
	w.run(ctx)
	// A published parent with altered amounts fails its spends' signatures,
	// which outranks this.
	if err := tok.Parent.CheckConservation(); err != nil {
		w.record(fail(ErrAmountMismatch, addr, "parent: %v", err))
	}

	if err := w.result(); err != nil {
		log.Verifier.Debug().
			Str("token", addr.Short()).
			Int("addresses", len(w.nodes)).
			Err(err).
			Msg("Token rejected")
		return err
	}
	if err := ctx.Err(); err != nil && w.incomplete {
		return fail(ErrSubstrateUnavailable, addr, "%v", err)
	}
	log.Verifier.Debug().
		Str("token", addr.Short()).
		Int("addresses", len(w.nodes)).
		Msg("Token verified")
	return nil
}

// VerifyAll verifies each token in turn and returns one result per token.
func (v *Verifier) VerifyAll(ctx context.Context, tokens []*token.Token) []error {
	out := make([]error, len(tokens))
	for i, t := range tokens {
		out[i] = v.Verify(ctx, t)
	}
	return out
}

// fetched is what a worker learned about one address.
type fetched struct {
	addr   types.SpendAddress
	served int
	valid  []*spend.Spend
	err    error
}

// fetch reads addr and keeps the records signed by the key behind it.
// Signature checks run here so they are spread over the workers.
func (v *Verifier) fetch(ctx context.Context, addr types.SpendAddress) fetched {
	f := fetched{addr: addr}
	if v.limiter != nil {
		if err := v.limiter.Wait(ctx); err != nil {
			f.err = err
			return f
		}
	}
	spends, err := v.src.Get(ctx, addr)
	if err != nil {
		f.err = err
		return f
	}
	f.served = len(spends)
	for _, s := range spends {
		if s == nil || s.Address() != addr {
			continue
		}
		if s.VerifySignature() != nil {
			continue
		}
		f.valid = append(f.valid, s)
	}
	return f
}

// evaluate turns a fetch into the one accepted spend for the address.
func (v *Verifier) evaluate(f fetched) (*spend.Spend, *Error) {
	switch {
	case errors.Is(f.err, substrate.ErrNotFound):
		return nil, fail(ErrNotYetSpendable, f.addr, "no spend published")
	case f.err != nil:
		return nil, fail(ErrSubstrateUnavailable, f.addr, "%v", f.err)
	case f.served == 0:
		return nil, fail(ErrNotYetSpendable, f.addr, "no spend published")
	case len(f.valid) == 0:
		return nil, fail(ErrBadSignature, f.addr, "none of %d records is signed by the token key", f.served)
	}

	s := f.valid[0]
	sh := s.SigningHash()
	for _, other := range f.valid[1:] {
		if other.SigningHash() != sh {
			return nil, fail(ErrDoubleSpend, f.addr, "%d conflicting spends", len(f.valid))
		}
	}

	if err := s.CheckShape(); err != nil {
		return nil, fail(ErrInvalidAncestry, f.addr, "%v", err)
	}
	if err := s.Tx.CheckConservation(); err != nil {
		return nil, fail(ErrAmountMismatch, f.addr, "%v", err)
	}

	isGenesisKey := s.UniquePubKey == v.genesis.UniquePubKey
	switch {
	case s.ParentTx == nil && !isGenesisKey:
		return nil, fail(ErrInvalidAncestry, f.addr, "input has no source transaction")
	case s.ParentTx == nil && s.Amount != v.genesis.Supply:
		return nil, fail(ErrInvalidAncestry, f.addr, "genesis amount %d, supply is %d", s.Amount, v.genesis.Supply)
	case s.ParentTx != nil && isGenesisKey:
		return nil, fail(ErrInvalidAncestry, f.addr, "genesis key reissued")
	}
	return s, nil
}

// node is the per-call memo entry of one address.
type node struct {
	expect map[types.Hash]bool // transactions the address must be spent into
	done   bool
	spend  *spend.Spend // accepted spend, nil until done or on failure
}

// walk is the state of one Verify call. Only the goroutine running run
// touches it; workers hand results back over a channel.
type walk struct {
	v          *Verifier
	nodes      map[types.SpendAddress]*node
	queue      []types.SpendAddress
	failures   []*Error
	terminal   bool
	incomplete bool
}

// expectInputs records that every input of t must be spent into t.
func (w *walk) expectInputs(t *tx.Transaction) {
	h := t.Hash()
	for _, in := range t.Inputs {
		w.expect(crypto.SpendAddressOf(in.PubKey), h)
	}
}

func (w *walk) expect(addr types.SpendAddress, txHash types.Hash) {
	n, ok := w.nodes[addr]
	if !ok {
		n = &node{expect: make(map[types.Hash]bool)}
		w.nodes[addr] = n
		w.queue = append(w.queue, addr)
	}
	if n.expect[txHash] {
		return
	}
	n.expect[txHash] = true
	if n.done && n.spend != nil {
		w.check(addr, n.spend, txHash)
	}
}

func (w *walk) check(addr types.SpendAddress, s *spend.Spend, txHash types.Hash) {
	if got := s.TxHash(); got != txHash {
		w.record(fail(ErrBadSignature, addr, "spend signs transaction %s, not %s", got.Short(), txHash.Short()))
	}
}

func (w *walk) record(e *Error) {
	w.failures = append(w.failures, e)
	if terminal(e.Reason) {
		w.terminal = true
	}
}

func (w *walk) complete(f fetched) {
	n := w.nodes[f.addr]
	n.done = true
	s, ferr := w.v.evaluate(f)
	if ferr != nil {
		w.record(ferr)
		return
	}
	n.spend = s
	for h := range n.expect {
		w.check(f.addr, s, h)
	}
	if s.ParentTx != nil {
		w.expectInputs(s.ParentTx)
	}
}

func (w *walk) stopped(ctx context.Context) bool {
	return ctx.Err() != nil || (w.v.failFast && w.terminal)
}

// run drains the work list on a bounded errgroup. Results that arrive after
// the walk stopped are dropped.
func (w *walk) run(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(w.v.workers)
	results := make(chan fetched)
	inflight := 0

	for {
		for len(w.queue) > 0 && !w.stopped(ctx) {
			addr := w.queue[0]
			task := func() error {
				results <- w.v.fetch(ctx, addr)
				return nil
			}
			// With nothing in flight the only slots held belong to workers
			// that already delivered, so blocking is safe.
			if inflight == 0 {
				g.Go(task)
			} else if !g.TryGo(task) {
				break
			}
			w.queue = w.queue[1:]
			inflight++
		}
		if inflight == 0 {
			break
		}
		f := <-results
		inflight--
		if w.stopped(ctx) {
			w.incomplete = true
			continue
		}
		w.complete(f)
	}
	g.Wait()
	if len(w.queue) > 0 {
		w.incomplete = true
	}
}

// result picks the reported failure: highest precedence reason, then lowest
// address.
func (w *walk) result() error {
	if len(w.failures) == 0 {
		return nil
	}
	best := slices.MinFunc(w.failures, func(a, b *Error) int {
		if d := rank(a.Reason) - rank(b.Reason); d != 0 {
			return d
		}
		return a.Address.Compare(b.Address)
	})
	return best
}
