package wallet

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Klingon-tech/klingnet-transfers/internal/storage"
	"github.com/Klingon-tech/klingnet-transfers/pkg/crypto"
	"github.com/Klingon-tech/klingnet-transfers/pkg/spend"
	"github.com/Klingon-tech/klingnet-transfers/pkg/token"
	"github.com/Klingon-tech/klingnet-transfers/pkg/tx"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

var testPassword = []byte("wallet-password")

func newTestWallet(t *testing.T) *Wallet {
	t.Helper()
	w, err := Create(t.TempDir(), testMnemonic, testPassword, fastParams())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func reopen(t *testing.T, w *Wallet) *Wallet {
	t.Helper()
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	w2, err := Open(w.Dir(), testPassword)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { w2.Close() })
	return w2
}

// ownedToken returns a token for a fresh key of w, created by a throwaway
// parent transaction.
func ownedToken(t *testing.T, w *Wallet, amount uint64) *token.Token {
	t.Helper()
	pub, idx, err := w.NewKey()
	if err != nil {
		t.Fatalf("NewKey() error: %v", err)
	}
	src, _ := crypto.GenerateKey()
	parent, err := tx.Build([]tx.Input{{PubKey: src.PublicKey(), Amount: amount}}, []tx.Output{{PubKey: pub, Amount: amount}})
	if err != nil {
		t.Fatalf("tx.Build() error: %v", err)
	}
	tok, err := token.New(parent, pub, w.MasterPublic().PublicKey(), idx, nil)
	if err != nil {
		t.Fatalf("token.New() error: %v", err)
	}
	return tok
}

func fund(t *testing.T, w *Wallet, amount uint64) *token.Token {
	t.Helper()
	tok := ownedToken(t, w, amount)
	if err := w.Deposit(tok); err != nil {
		t.Fatalf("Deposit() error: %v", err)
	}
	return tok
}

// payment builds a transaction spending inputs to an outside key, with the
// rest returned to w as change. It returns every output token.
func payment(t *testing.T, w *Wallet, inputs []*token.Token, amount uint64) (*tx.Transaction, []*token.Token) {
	t.Helper()
	var total uint64
	for _, in := range inputs {
		total += in.Amount
	}
	dest, _ := crypto.GenerateKey()
	outs := []tx.Output{{PubKey: dest.PublicKey(), Amount: amount}}
	var changePub types.PublicKey
	var changeIdx types.DerivationIndex
	if total > amount {
		var err error
		changePub, changeIdx, err = w.NewKey()
		if err != nil {
			t.Fatalf("NewKey() error: %v", err)
		}
		outs = append(outs, tx.Output{PubKey: changePub, Amount: total - amount})
	}
	t2, err := token.BuildTransaction(inputs, outs)
	if err != nil {
		t.Fatalf("BuildTransaction() error: %v", err)
	}
	sent, err := token.New(t2, dest.PublicKey(), types.PublicKey{}, types.DerivationIndex{}, nil)
	if err != nil {
		t.Fatalf("token.New() error: %v", err)
	}
	tokens := []*token.Token{sent}
	if total > amount {
		c, err := token.New(t2, changePub, w.MasterPublic().PublicKey(), changeIdx, nil)
		if err != nil {
			t.Fatalf("token.New() error: %v", err)
		}
		tokens = append(tokens, c)
	}
	return t2, tokens
}

func signAll(t *testing.T, w *Wallet, p *Pending) []*spend.Spend {
	t.Helper()
	var out []*spend.Spend
	for _, in := range p.Inputs {
		kp, err := w.Signer(in.Token)
		if err != nil {
			t.Fatalf("Signer() error: %v", err)
		}
		s, err := spend.Sign(p.Tx, in.Token, kp.Signer(), p.Reason)
		kp.Zero()
		if err != nil {
			t.Fatalf("spend.Sign() error: %v", err)
		}
		out = append(out, s)
	}
	return out
}

func TestCreateOpen(t *testing.T) {
	w := newTestWallet(t)
	fund(t, w, 100)
	fund(t, w, 250)

	pub, err := MasterPublicKey(w.Dir())
	if err != nil {
		t.Fatalf("MasterPublicKey() error: %v", err)
	}
	if !pub.Equal(w.MasterPublic()) {
		t.Error("stored master public key differs from the open wallet's")
	}

	w2 := reopen(t, w)
	if got := w2.Balance(); got.Spendable != 350 || got.Pending != 0 {
		t.Errorf("Balance() after reopen = %+v, want 350 spendable", got)
	}
	if len(w2.Unspent()) != 2 {
		t.Errorf("Unspent() = %d tokens, want 2", len(w2.Unspent()))
	}
}

func TestCreate_Existing(t *testing.T) {
	w := newTestWallet(t)
	dir := w.Dir()
	w.Close()
	if _, err := Create(dir, testMnemonic, testPassword, fastParams()); !errors.Is(err, ErrWalletExists) {
		t.Errorf("Create() over existing wallet error = %v, want ErrWalletExists", err)
	}
}

func TestCreate_BadMnemonic(t *testing.T) {
	if _, err := Create(t.TempDir(), "not a mnemonic", testPassword, fastParams()); err == nil {
		t.Error("Create() with an invalid mnemonic should fail")
	}
}

func TestOpen_WrongPassword(t *testing.T) {
	w := newTestWallet(t)
	w.Close()
	if _, err := Open(w.Dir(), []byte("nope")); !errors.Is(err, ErrBadPassword) {
		t.Errorf("Open() error = %v, want ErrBadPassword", err)
	}
	// A failed open must not leave the lock held.
	w2, err := Open(w.Dir(), testPassword)
	if err != nil {
		t.Fatalf("Open() after failed attempt error: %v", err)
	}
	w2.Close()
}

func TestOpen_Locked(t *testing.T) {
	w := newTestWallet(t)
	if _, err := Open(w.Dir(), testPassword); !errors.Is(err, ErrWalletLocked) {
		t.Fatalf("second Open() error = %v, want ErrWalletLocked", err)
	}
	w.Close()
	w2, err := Open(w.Dir(), testPassword)
	if err != nil {
		t.Fatalf("Open() after Close error: %v", err)
	}
	w2.Close()
}

func TestOpen_CorruptState(t *testing.T) {
	w := newTestWallet(t)
	fund(t, w, 100)
	dir := w.Dir()
	w.Close()

	db, err := storage.NewBadger(filepath.Join(dir, stateDirName))
	if err != nil {
		t.Fatalf("NewBadger() error: %v", err)
	}
	var junk types.PublicKey
	junk[0] = 0x02
	db.Put(unspentKey(junk), []byte{0x01, 0x02, 0x03})
	db.Close()

	if _, err := Open(dir, testPassword); !errors.Is(err, ErrCorruptWallet) {
		t.Errorf("Open() error = %v, want ErrCorruptWallet", err)
	}
}

func TestDeposit_Errors(t *testing.T) {
	w := newTestWallet(t)
	tok := fund(t, w, 100)

	if err := w.Deposit(tok); !errors.Is(err, ErrDuplicateToken) {
		t.Errorf("Deposit() duplicate error = %v, want ErrDuplicateToken", err)
	}

	k, _ := crypto.GenerateKey()
	foreign := &token.Token{UniquePubKey: k.PublicKey(), Index: tok.Index, Amount: 100}
	if err := w.Deposit(foreign); !errors.Is(err, ErrNotOwned) {
		t.Errorf("Deposit() foreign error = %v, want ErrNotOwned", err)
	}

	bad := *tok
	bad.Amount = 0
	if err := w.Deposit(&bad); err == nil {
		t.Error("Deposit() of a malformed token should fail")
	}
}

func TestSelectInputs_SkipsReserved(t *testing.T) {
	w := newTestWallet(t)
	big := fund(t, w, 700)
	fund(t, w, 500)

	sel, err := w.SelectInputs(600)
	if err != nil {
		t.Fatalf("SelectInputs() error: %v", err)
	}
	if len(sel.Inputs) != 1 || sel.Inputs[0].UniquePubKey != big.UniquePubKey {
		t.Fatalf("SelectInputs(600) should pick the 700 token")
	}

	t1, outs := payment(t, w, sel.Inputs, 600)
	if _, err := w.RecordPending(t1, outs, nil); err != nil {
		t.Fatalf("RecordPending() error: %v", err)
	}
	if _, err := w.SelectInputs(600); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("SelectInputs() with reserved token error = %v, want ErrInsufficientBalance", err)
	}
	if got := w.Balance(); got.Spendable != 500 || got.Pending != 700 || got.Incoming != 100 {
		t.Errorf("Balance() = %+v", got)
	}
}

func TestPendingLifecycle(t *testing.T) {
	w := newTestWallet(t)
	in := fund(t, w, 700)
	fund(t, w, 500)

	t1, outs := payment(t, w, []*token.Token{in}, 600)
	h := t1.Hash()
	p, err := w.RecordPending(t1, outs, []byte("rent"))
	if err != nil {
		t.Fatalf("RecordPending() error: %v", err)
	}

	if err := w.Commit(h); !errors.Is(err, ErrNotPublished) {
		t.Errorf("Commit() before publish error = %v, want ErrNotPublished", err)
	}
	if err := w.MarkPublished(h, in.UniquePubKey); !errors.Is(err, ErrNotSigned) {
		t.Errorf("MarkPublished() before signing error = %v, want ErrNotSigned", err)
	}

	spends := signAll(t, w, p)
	if err := w.RecordSigned(h, spends); err != nil {
		t.Fatalf("RecordSigned() error: %v", err)
	}

	// Signing progress survives a restart.
	w = reopen(t, w)
	got, ok := w.PendingTx(h)
	if !ok {
		t.Fatal("pending transaction lost across reopen")
	}
	if !got.Signed() || got.Published() {
		t.Fatalf("reopened pending: signed=%v published=%v", got.Signed(), got.Published())
	}
	if !got.Inputs[0].Spend.Equal(spends[0]) || !bytes.Equal(got.Reason, []byte("rent")) {
		t.Error("reopened pending lost its spend or reason")
	}

	if err := w.MarkPublished(h, in.UniquePubKey); err != nil {
		t.Fatalf("MarkPublished() error: %v", err)
	}
	if err := w.Abandon(h); !errors.Is(err, ErrAlreadyPublished) {
		t.Errorf("Abandon() after publish error = %v, want ErrAlreadyPublished", err)
	}
	if err := w.Commit(h); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}

	if got := w.Balance(); got.Spendable != 600 || got.Pending != 0 || got.Incoming != 0 {
		t.Errorf("Balance() after commit = %+v, want 600 spendable", got)
	}
	if len(w.Pending()) != 0 {
		t.Error("pending entry should be gone after commit")
	}
	if err := w.Deposit(in); !errors.Is(err, ErrAlreadySpent) {
		t.Errorf("Deposit() of spent token error = %v, want ErrAlreadySpent", err)
	}

	w = reopen(t, w)
	if got := w.Balance(); got.Spendable != 600 {
		t.Errorf("Balance() after reopen = %+v, want 600 spendable", got)
	}
	if _, ok := w.PendingTx(h); ok {
		t.Error("committed transaction reappeared")
	}
}

func TestAbandon(t *testing.T) {
	w := newTestWallet(t)
	in := fund(t, w, 300)
	t1, outs := payment(t, w, []*token.Token{in}, 300)
	if _, err := w.RecordPending(t1, outs, nil); err != nil {
		t.Fatalf("RecordPending() error: %v", err)
	}
	if err := w.Abandon(t1.Hash()); err != nil {
		t.Fatalf("Abandon() error: %v", err)
	}
	if got := w.Balance(); got.Spendable != 300 || got.Pending != 0 {
		t.Errorf("Balance() after abandon = %+v", got)
	}
	if err := w.Abandon(t1.Hash()); !errors.Is(err, ErrUnknownPending) {
		t.Errorf("Abandon() twice error = %v, want ErrUnknownPending", err)
	}
}

func TestRecordPending_Errors(t *testing.T) {
	w := newTestWallet(t)
	in := fund(t, w, 300)
	stranger := ownedToken(t, w, 50) // never deposited

	t1, outs := payment(t, w, []*token.Token{in}, 200)
	if _, err := w.RecordPending(t1, outs, nil); err != nil {
		t.Fatalf("RecordPending() error: %v", err)
	}

	tests := []struct {
		name   string
		build  func() (*tx.Transaction, []*token.Token)
		reason []byte
		want   error
	}{
		{"duplicate", func() (*tx.Transaction, []*token.Token) { return t1, outs }, nil, ErrDuplicatePending},
		{"reserved input", func() (*tx.Transaction, []*token.Token) { return payment(t, w, []*token.Token{in}, 300) }, nil, ErrReserved},
		{"unknown input", func() (*tx.Transaction, []*token.Token) { return payment(t, w, []*token.Token{stranger}, 50) }, nil, ErrUnknownToken},
		{"reason too large", func() (*tx.Transaction, []*token.Token) { return payment(t, w, []*token.Token{stranger}, 50) }, make([]byte, spend.MaxReason+1), spend.ErrReasonTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bt, bc := tt.build()
			if _, err := w.RecordPending(bt, bc, tt.reason); !errors.Is(err, tt.want) {
				t.Errorf("RecordPending() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRecordPending_Outputs(t *testing.T) {
	w := newTestWallet(t)
	in := fund(t, w, 300)
	t1, outs := payment(t, w, []*token.Token{in}, 200)

	other := ownedToken(t, w, 100)
	if _, err := w.RecordPending(t1, []*token.Token{other}, nil); err == nil {
		t.Error("RecordPending() should reject a token from another transaction")
	}
	p, err := w.RecordPending(t1, outs, nil)
	if err != nil {
		t.Fatalf("RecordPending() error: %v", err)
	}
	if len(p.Change) != 1 || p.Change[0].Amount != 100 {
		t.Errorf("Change = %v, want the 100 output", p.Change)
	}
	if len(p.Outgoing) != 1 || p.Outgoing[0].Amount != 200 {
		t.Errorf("Outgoing = %v, want the 200 output", p.Outgoing)
	}
}

func TestRecordSigned_WrongTransaction(t *testing.T) {
	w := newTestWallet(t)
	a := fund(t, w, 100)
	b := fund(t, w, 100)
	ta, ca := payment(t, w, []*token.Token{a}, 100)
	tb, cb := payment(t, w, []*token.Token{b}, 100)
	pa, _ := w.RecordPending(ta, ca, nil)
	pb, _ := w.RecordPending(tb, cb, nil)

	if err := w.RecordSigned(ta.Hash(), signAll(t, w, pb)); err == nil {
		t.Error("RecordSigned() should reject spends of another transaction")
	}
	if err := w.RecordSigned(ta.Hash(), signAll(t, w, pa)); err != nil {
		t.Errorf("RecordSigned() error: %v", err)
	}
}

func TestSigner(t *testing.T) {
	w := newTestWallet(t)
	tok := fund(t, w, 10)
	kp, err := w.Signer(tok)
	if err != nil {
		t.Fatalf("Signer() error: %v", err)
	}
	defer kp.Zero()
	if kp.PublicKey != tok.UniquePubKey {
		t.Error("Signer() derived the wrong key")
	}

	stray := *tok
	k, _ := crypto.GenerateKey()
	stray.UniquePubKey = k.PublicKey()
	if _, err := w.Signer(&stray); !errors.Is(err, ErrNotOwned) {
		t.Errorf("Signer() error = %v, want ErrNotOwned", err)
	}
}

func TestClosed(t *testing.T) {
	w := newTestWallet(t)
	tok := ownedToken(t, w, 10)
	w.Close()
	if err := w.Deposit(tok); !errors.Is(err, ErrClosed) {
		t.Errorf("Deposit() on closed wallet error = %v, want ErrClosed", err)
	}
	if _, err := w.SelectInputs(1); !errors.Is(err, ErrClosed) {
		t.Errorf("SelectInputs() on closed wallet error = %v, want ErrClosed", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}

func TestPending_EncodeDecode(t *testing.T) {
	w := newTestWallet(t)
	in := fund(t, w, 500)
	t1, outs := payment(t, w, []*token.Token{in}, 200)
	p, err := w.RecordPending(t1, outs, []byte("r"))
	if err != nil {
		t.Fatalf("RecordPending() error: %v", err)
	}
	p.Inputs[0].Spend = signAll(t, w, p)[0]
	p.Inputs[0].Published = true

	data := p.Encode()
	got, err := DecodePending(data)
	if err != nil {
		t.Fatalf("DecodePending() error: %v", err)
	}
	if !bytes.Equal(got.Encode(), data) {
		t.Error("re-encoding should be byte-identical")
	}
	if got.Hash() != p.Hash() || !got.Published() || len(got.Change) != 1 || len(got.Outgoing) != 1 {
		t.Error("decoded pending differs")
	}
	if _, err := DecodePending(data[:len(data)-1]); err == nil {
		t.Error("expected error for truncated pending record")
	}
}
