// Package wallet keeps the local state of a token holder: owned unspent
// tokens, in-flight transactions and their signing progress, and the
// encrypted master key.
//
// On disk a wallet is a directory:
//
//	master.key   sealed seed and plaintext master public key (0600)
//	wallet.lock  advisory lock held while the wallet is open
//	state/       badger database; u/ unspent, p/ pending, s/ spent
//
// Every state change is written in one atomic batch before memory is
// updated. A record that fails to decode makes Open fail; the wallet never
// guesses at a repair.
package wallet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-transfers/internal/log"
	"github.com/Klingon-tech/klingnet-transfers/internal/storage"
	"github.com/Klingon-tech/klingnet-transfers/pkg/keys"
	"github.com/Klingon-tech/klingnet-transfers/pkg/record"
	"github.com/Klingon-tech/klingnet-transfers/pkg/spend"
	"github.com/Klingon-tech/klingnet-transfers/pkg/token"
	"github.com/Klingon-tech/klingnet-transfers/pkg/tx"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

// Wallet errors.
var (
	ErrCorruptWallet    = errors.New("wallet state is corrupt")
	ErrClosed           = errors.New("wallet is closed")
	ErrNotOwned         = errors.New("token is not derived from this wallet")
	ErrDuplicateToken   = errors.New("token already in wallet")
	ErrAlreadySpent     = errors.New("token was already spent by this wallet")
	ErrUnknownToken     = errors.New("token not in wallet")
	ErrReserved         = errors.New("token is reserved by a pending transaction")
	ErrUnknownPending   = errors.New("no such pending transaction")
	ErrDuplicatePending = errors.New("transaction already pending")
	ErrNotSigned        = errors.New("input has no signed spend")
	ErrNotPublished     = errors.New("not every spend is published")
	ErrAlreadyPublished = errors.New("a spend of the transaction was already published")
	ErrWatchOnly        = errors.New("wallet is watch-only")
)

const (
	keyFileName  = "master.key"
	lockFileName = "wallet.lock"
	stateDirName = "state"
)

var (
	prefixUnspent = []byte("u/")
	prefixPending = []byte("p/")
	prefixSpent   = []byte("s/")
)

func keyFilePath(dir string) string { return filepath.Join(dir, keyFileName) }

func unspentKey(pub types.PublicKey) []byte { return append(slices.Clone(prefixUnspent), pub[:]...) }
func pendingKey(h types.Hash) []byte        { return append(slices.Clone(prefixPending), h[:]...) }
func spentKey(pub types.PublicKey) []byte   { return append(slices.Clone(prefixSpent), pub[:]...) }

// Balance summarises the wallet.
type Balance struct {
	Spendable uint64 `json:"spendable"` // unspent and not reserved
	Pending   uint64 `json:"pending"`   // reserved by in-flight transactions
	Incoming  uint64 `json:"incoming"`  // change of in-flight transactions
}

// Wallet is an open wallet. It holds the directory lock until Close.
// Methods are safe for concurrent use.
type Wallet struct {
	mu  sync.Mutex
	dir string

	lock   *fileLock
	db     *storage.BadgerDB
	master *keys.MasterKey
	pub    *keys.MasterPublicKey

	unspent  map[types.PublicKey]*token.Token
	pending  map[types.Hash]*Pending
	reserved map[types.PublicKey]types.Hash
	balance  Balance
	closed   bool
}

// Create initialises a new wallet in dir from a BIP-39 mnemonic and returns
// it open.
func Create(dir, mnemonic string, password []byte, params EncryptionParams) (*Wallet, error) {
	seed, err := keys.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, err
	}
	defer wipe(seed)

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create wallet dir: %w", err)
	}
	lock, err := acquireLock(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, err
	}
	master, err := writeKeyFile(keyFilePath(dir), seed, password, params)
	if err != nil {
		lock.Close()
		return nil, err
	}
	w, err := open(dir, lock, master, master.Public())
	if err != nil {
		return nil, err
	}
	log.Wallet.Info().Str("dir", dir).Msg("Wallet created")
	return w, nil
}

// Open unlocks the wallet in dir. It fails fast with ErrWalletLocked if
// another process has it open.
func Open(dir string, password []byte) (*Wallet, error) {
	lock, err := acquireLock(filepath.Join(dir, lockFileName))
	if err != nil {
		return nil, err
	}
	kf, err := readKeyFile(keyFilePath(dir))
	if err != nil {
		lock.Close()
		return nil, err
	}
	if kf.watchOnly() {
		lock.Close()
		return nil, fmt.Errorf("%w: %s holds no seed", ErrWatchOnly, dir)
	}
	master, err := kf.unlock(password)
	if err != nil {
		lock.Close()
		return nil, err
	}
	return open(dir, lock, master, master.Public())
}

// open finishes the openers. It takes ownership of lock. A nil master opens
// the wallet watch-only.
func open(dir string, lock *fileLock, master *keys.MasterKey, pub *keys.MasterPublicKey) (*Wallet, error) {
	db, err := storage.NewBadger(filepath.Join(dir, stateDirName))
	if err != nil {
		lock.Close()
		return nil, err
	}
	w := &Wallet{
		dir:      dir,
		lock:     lock,
		db:       db,
		master:   master,
		pub:      pub,
		unspent:  make(map[types.PublicKey]*token.Token),
		pending:  make(map[types.Hash]*Pending),
		reserved: make(map[types.PublicKey]types.Hash),
	}
	if err := w.load(); err != nil {
		db.Close()
		lock.Close()
		return nil, err
	}
	log.Wallet.Debug().
		Int("unspent", len(w.unspent)).
		Int("pending", len(w.pending)).
		Uint64("spendable", w.balance.Spendable).
		Bool("watch_only", master == nil).
		Msg("Wallet opened")
	return w, nil
}

func (w *Wallet) load() error {
	err := w.db.ForEach(prefixUnspent, func(key, value []byte) error {
		tok, err := record.DecodeToken(value)
		if err != nil {
			return fmt.Errorf("%w: unspent %x: %v", ErrCorruptWallet, key, err)
		}
		if string(key) != string(unspentKey(tok.UniquePubKey)) {
			return fmt.Errorf("%w: unspent %x stored under wrong key", ErrCorruptWallet, key)
		}
		w.unspent[tok.UniquePubKey] = tok
		return nil
	})
	if err != nil {
		return err
	}

	err = w.db.ForEach(prefixPending, func(key, value []byte) error {
		p, err := DecodePending(value)
		if err != nil {
			return fmt.Errorf("%w: pending %x: %v", ErrCorruptWallet, key, err)
		}
		h := p.Hash()
		if string(key) != string(pendingKey(h)) {
			return fmt.Errorf("%w: pending %x stored under wrong key", ErrCorruptWallet, key)
		}
		for _, in := range p.Inputs {
			if _, ok := w.unspent[in.Token.UniquePubKey]; !ok {
				return fmt.Errorf("%w: pending %s spends unknown token %s", ErrCorruptWallet, h.Short(), in.Token.UniquePubKey.Short())
			}
			if other, ok := w.reserved[in.Token.UniquePubKey]; ok {
				return fmt.Errorf("%w: token %s reserved by %s and %s", ErrCorruptWallet, in.Token.UniquePubKey.Short(), other.Short(), h.Short())
			}
			w.reserved[in.Token.UniquePubKey] = h
		}
		w.pending[h] = p
		return nil
	})
	if err != nil {
		return err
	}
	w.recount()
	return nil
}

// recount recomputes the cached balance. Callers hold mu.
func (w *Wallet) recount() {
	var b Balance
	for pub, t := range w.unspent {
		if _, ok := w.reserved[pub]; ok {
			b.Pending += t.Amount
		} else {
			b.Spendable += t.Amount
		}
	}
	for _, p := range w.pending {
		for _, c := range p.Change {
			b.Incoming += c.Amount
		}
	}
	w.balance = b
}

// Close releases the database and the lock.
func (w *Wallet) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.db.Close()
	if lerr := w.lock.Close(); err == nil {
		err = lerr
	}
	return err
}

// Dir is the wallet directory.
func (w *Wallet) Dir() string { return w.dir }

// MasterPublic is the shareable master public key. Senders derive this
// wallet's per-token keys from it.
func (w *Wallet) MasterPublic() *keys.MasterPublicKey { return w.pub }

// NewKey picks a fresh derivation index and returns the public key it
// yields under this wallet's master.
func (w *Wallet) NewKey() (types.PublicKey, types.DerivationIndex, error) {
	idx, err := keys.NewIndex()
	if err != nil {
		return types.PublicKey{}, idx, err
	}
	pub, err := keys.DerivePublic(w.pub, idx)
	return pub, idx, err
}

// Owns reports whether tok's key derives from this wallet's master.
func (w *Wallet) Owns(tok *token.Token) bool {
	pub, err := keys.DerivePublic(w.pub, tok.Index)
	return err == nil && pub == tok.UniquePubKey
}

// Signer derives the secret key of an owned token. Callers should Zero the
// result when done.
func (w *Wallet) Signer(tok *token.Token) (*keys.DerivedKeypair, error) {
	if w.master == nil {
		return nil, ErrWatchOnly
	}
	kp, err := keys.Derive(w.master, tok.Index)
	if err != nil {
		return nil, err
	}
	if kp.PublicKey != tok.UniquePubKey {
		kp.Zero()
		return nil, fmt.Errorf("%w: %s", ErrNotOwned, tok.UniquePubKey.Short())
	}
	return kp, nil
}

// Deposit adds a received token. The caller verifies it first.
func (w *Wallet) Deposit(tok *token.Token) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := tok.Validate(); err != nil {
		return err
	}
	if !w.Owns(tok) {
		return fmt.Errorf("%w: %s", ErrNotOwned, tok.UniquePubKey.Short())
	}
	if _, ok := w.unspent[tok.UniquePubKey]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateToken, tok.UniquePubKey.Short())
	}
	for _, p := range w.pending {
		for _, c := range p.Change {
			if c.UniquePubKey == tok.UniquePubKey {
				return fmt.Errorf("%w: %s is change of %s", ErrDuplicateToken, tok.UniquePubKey.Short(), p.Hash().Short())
			}
		}
	}
	if spent, err := w.db.Has(spentKey(tok.UniquePubKey)); err != nil {
		return err
	} else if spent {
		return fmt.Errorf("%w: %s", ErrAlreadySpent, tok.UniquePubKey.Short())
	}

	if err := w.db.Put(unspentKey(tok.UniquePubKey), record.Encode(record.Token{Token: tok})); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	w.unspent[tok.UniquePubKey] = tok
	w.recount()

	log.Wallet.Info().
		Str("token", tok.UniquePubKey.Short()).
		Uint64("amount", tok.Amount).
		Msg("Token deposited")
	return nil
}

// SelectInputs picks unreserved tokens covering amount.
func (w *Wallet) SelectInputs(amount uint64) (*Selection, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	candidates := make([]*token.Token, 0, len(w.unspent))
	for pub, t := range w.unspent {
		if _, ok := w.reserved[pub]; !ok {
			candidates = append(candidates, t)
		}
	}
	return selectTokens(candidates, amount)
}

// RecordPending reserves the inputs of t. outputs are tokens created by t:
// those this wallet owns become change, the rest are kept as outgoing.
// Nothing is signed yet.
func (w *Wallet) RecordPending(t *tx.Transaction, outputs []*token.Token, reason []byte) (*Pending, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if len(reason) > spend.MaxReason {
		return nil, fmt.Errorf("%w: %d bytes", spend.ErrReasonTooLarge, len(reason))
	}
	h := t.Hash()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}
	if _, ok := w.pending[h]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePending, h.Short())
	}

	p := &Pending{
		Tx:      t.Clone(),
		Reason:  slices.Clone(reason),
		Created: time.Now().UTC(),
	}
	for _, in := range t.Inputs {
		tok, ok := w.unspent[in.PubKey]
		if !ok || tok.Amount != in.Amount {
			return nil, fmt.Errorf("%w: %s", ErrUnknownToken, in.PubKey.Short())
		}
		if other, ok := w.reserved[in.PubKey]; ok {
			return nil, fmt.Errorf("%w: %s by %s", ErrReserved, in.PubKey.Short(), other.Short())
		}
		p.Inputs = append(p.Inputs, InputProgress{Token: tok})
	}
	for _, o := range outputs {
		if o.Parent == nil || o.ParentHash() != h {
			return nil, fmt.Errorf("token %s is not an output of %s", o.UniquePubKey.Short(), h.Short())
		}
		if err := o.Validate(); err != nil {
			return nil, fmt.Errorf("output %s: %w", o.UniquePubKey.Short(), err)
		}
		if w.Owns(o) {
			p.Change = append(p.Change, o)
		} else {
			p.Outgoing = append(p.Outgoing, o)
		}
	}

	if err := w.db.Put(pendingKey(h), p.Encode()); err != nil {
		return nil, fmt.Errorf("store pending: %w", err)
	}
	w.pending[h] = p
	for _, in := range p.Inputs {
		w.reserved[in.Token.UniquePubKey] = h
	}
	w.recount()

	log.Wallet.Debug().
		Str("tx", h.Short()).
		Int("inputs", len(p.Inputs)).
		Int("change", len(p.Change)).
		Msg("Transaction pending")
	return p.clone(), nil
}

// update applies fn to a copy of the pending entry and persists the result.
// Callers hold mu.
func (w *Wallet) update(h types.Hash, fn func(p *Pending) error) error {
	if w.closed {
		return ErrClosed
	}
	cur, ok := w.pending[h]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPending, h.Short())
	}
	p := cur.clone()
	if err := fn(p); err != nil {
		return err
	}
	if err := w.db.Put(pendingKey(h), p.Encode()); err != nil {
		return fmt.Errorf("store pending: %w", err)
	}
	w.pending[h] = p
	return nil
}

// RecordSigned stores signed spends of a pending transaction so that a
// crash before publishing can be resumed with the same records.
func (w *Wallet) RecordSigned(h types.Hash, spends []*spend.Spend) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.update(h, func(p *Pending) error {
		for _, s := range spends {
			if s.TxHash() != h {
				return fmt.Errorf("spend of %s signs transaction %s", s.UniquePubKey.Short(), s.TxHash().Short())
			}
			if err := s.Verify(); err != nil {
				return err
			}
			i, ok := p.input(s.UniquePubKey)
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownToken, s.UniquePubKey.Short())
			}
			if p.Inputs[i].Published && !p.Inputs[i].Spend.Equal(s) {
				return fmt.Errorf("%w: %s", ErrAlreadyPublished, s.UniquePubKey.Short())
			}
			p.Inputs[i].Spend = s
		}
		return nil
	})
}

// MarkPublished records that the spend of input pub reached the substrate.
func (w *Wallet) MarkPublished(h types.Hash, pub types.PublicKey) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.update(h, func(p *Pending) error {
		i, ok := p.input(pub)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownToken, pub.Short())
		}
		if p.Inputs[i].Spend == nil {
			return fmt.Errorf("%w: %s", ErrNotSigned, pub.Short())
		}
		p.Inputs[i].Published = true
		return nil
	})
}

// Commit finishes a pending transaction whose spends are all published:
// its inputs leave the wallet for good and its change becomes spendable.
func (w *Wallet) Commit(h types.Hash) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	p, ok := w.pending[h]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPending, h.Short())
	}
	if !p.Published() {
		return fmt.Errorf("%w: %s", ErrNotPublished, h.Short())
	}

	b := w.db.NewBatch()
	for _, in := range p.Inputs {
		pub := in.Token.UniquePubKey
		if err := b.Delete(unspentKey(pub)); err != nil {
			return err
		}
		if err := b.Put(spentKey(pub), h[:]); err != nil {
			return err
		}
	}
	for _, c := range p.Change {
		if err := b.Put(unspentKey(c.UniquePubKey), record.Encode(record.Token{Token: c})); err != nil {
			return err
		}
	}
	if err := b.Delete(pendingKey(h)); err != nil {
		return err
	}
	if err := b.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", h.Short(), err)
	}

	for _, in := range p.Inputs {
		delete(w.unspent, in.Token.UniquePubKey)
		delete(w.reserved, in.Token.UniquePubKey)
	}
	for _, c := range p.Change {
		w.unspent[c.UniquePubKey] = c
	}
	delete(w.pending, h)
	w.recount()

	log.Wallet.Info().
		Str("tx", h.Short()).
		Uint64("spent", p.Amount()).
		Int("change", len(p.Change)).
		Msg("Transaction committed")
	return nil
}

// Abandon drops a pending transaction none of whose spends was published
// and releases its inputs.
func (w *Wallet) Abandon(h types.Hash) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	p, ok := w.pending[h]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPending, h.Short())
	}
	if p.anyPublished() {
		return fmt.Errorf("%w: %s", ErrAlreadyPublished, h.Short())
	}
	if err := w.db.Delete(pendingKey(h)); err != nil {
		return fmt.Errorf("delete pending: %w", err)
	}
	for _, in := range p.Inputs {
		delete(w.reserved, in.Token.UniquePubKey)
	}
	delete(w.pending, h)
	w.recount()

	log.Wallet.Info().Str("tx", h.Short()).Msg("Transaction abandoned")
	return nil
}

// Balance returns the cached balance.
func (w *Wallet) Balance() Balance {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance
}

// Unspent lists owned unspent tokens, reserved ones included, in address
// order.
func (w *Wallet) Unspent() []*token.Token {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*token.Token, 0, len(w.unspent))
	for _, t := range w.unspent {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b *token.Token) int { return a.Address().Compare(b.Address()) })
	return out
}

// Pending lists in-flight transactions in hash order.
func (w *Wallet) Pending() []*Pending {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Pending, 0, len(w.pending))
	for _, p := range w.pending {
		out = append(out, p.clone())
	}
	slices.SortFunc(out, func(a, b *Pending) int { return a.Hash().Compare(b.Hash()) })
	return out
}

// PendingTx returns one in-flight transaction.
func (w *Wallet) PendingTx(h types.Hash) (*Pending, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pending[h]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}
