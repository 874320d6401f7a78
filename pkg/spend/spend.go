// Package spend implements spend records: the signed proof that a token's
// owner consumed it in one specific transaction.
//
// A spend is published at the token's spend address. Exactly one spend may
// ever exist per address; a second, different one is a double spend and
// burns the token.
package spend

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-transfers/pkg/codec"
	"github.com/Klingon-tech/klingnet-transfers/pkg/crypto"
	"github.com/Klingon-tech/klingnet-transfers/pkg/token"
	"github.com/Klingon-tech/klingnet-transfers/pkg/tx"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

// MaxReason is the largest reason tag a spend may carry.
const MaxReason = 256

// Encoding version of spends.
const Version = 1

// Spend errors.
var (
	ErrInvalidSignature = errors.New("spend signature invalid")
	ErrWrongSigner      = errors.New("signer does not hold the token key")
	ErrNotAnInput       = errors.New("token is not an input of the transaction")
	ErrNotInParent      = errors.New("token is not an output of the parent transaction")
	ErrReasonTooLarge   = errors.New("spend reason too large")
	ErrMalformed        = errors.New("malformed spend")
)

// Spend records that the token UniquePubKey (of Amount) was consumed by Tx.
// ParentTx is the transaction that created the token; nil for genesis.
type Spend struct {
	UniquePubKey types.PublicKey `json:"unique_pubkey"`
	Amount       uint64          `json:"amount"`
	Tx           *tx.Transaction `json:"tx"`
	ParentTx     *tx.Transaction `json:"parent_tx,omitempty"`
	Reason       []byte          `json:"reason,omitempty"`
	Signature    []byte          `json:"signature"`
}

// Sign produces the spend of in by t. The signer must hold in's secret key.
func Sign(t *tx.Transaction, in *token.Token, signer crypto.Signer, reason []byte) (*Spend, error) {
	if signer.PublicKey() != in.UniquePubKey {
		return nil, fmt.Errorf("%w: %s", ErrWrongSigner, in.UniquePubKey.Short())
	}
	if len(reason) > MaxReason {
		return nil, fmt.Errorf("%w: %d bytes", ErrReasonTooLarge, len(reason))
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("sign spend: %w", err)
	}
	if inp, ok := t.Input(in.UniquePubKey); !ok || inp.Amount != in.Amount {
		return nil, fmt.Errorf("%w: %s", ErrNotAnInput, in.UniquePubKey.Short())
	}

	s := &Spend{
		UniquePubKey: in.UniquePubKey,
		Amount:       in.Amount,
		Tx:           t.Clone(),
		ParentTx:     in.Parent.Clone(),
		Reason:       append([]byte(nil), reason...),
	}
	sig, err := signer.Sign(s.SigningHash())
	if err != nil {
		return nil, fmt.Errorf("sign spend: %w", err)
	}
	s.Signature = sig
	return s, nil
}

// Address is where this spend lives in the substrate.
func (s *Spend) Address() types.SpendAddress {
	return crypto.SpendAddressOf(s.UniquePubKey)
}

// TxHash is the hash of the spending transaction.
func (s *Spend) TxHash() types.Hash {
	if s.Tx == nil {
		return types.Hash{}
	}
	return s.Tx.Hash()
}

// ParentHash is the hash of the creating transaction, zero for genesis.
func (s *Spend) ParentHash() types.Hash {
	if s.ParentTx == nil {
		return types.Hash{}
	}
	return s.ParentTx.Hash()
}

// SigningHash is the message the token key signs. It covers the spending
// transaction in full, so changing any output invalidates the signature.
func (s *Spend) SigningHash() types.Hash {
	txHash := s.TxHash()
	parentHash := s.ParentHash()

	w := codec.NewWriter(types.PublicKeySize + 2*types.HashSize + 16 + len(s.Reason))
	w.Fixed(s.UniquePubKey[:])
	w.Uint(s.Amount)
	w.Fixed(txHash[:])
	w.Fixed(parentHash[:])
	w.Bytes(s.Reason)
	return crypto.TaggedHash(crypto.TagSpend, w.Data())
}

// VerifySignature checks the signature under the token key.
func (s *Spend) VerifySignature() error {
	if !crypto.VerifySignature(s.SigningHash(), s.Signature, s.UniquePubKey) {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, s.UniquePubKey.Short())
	}
	return nil
}

// CheckShape checks that the spend is internally consistent: the token is an
// input of Tx and an output of ParentTx with the same amount. Transaction
// conservation is not checked here.
func (s *Spend) CheckShape() error {
	if s.Tx == nil {
		return fmt.Errorf("%w: no transaction", ErrMalformed)
	}
	if len(s.Reason) > MaxReason {
		return fmt.Errorf("%w: %d bytes", ErrReasonTooLarge, len(s.Reason))
	}
	if err := s.Tx.ValidateStructure(); err != nil {
		return fmt.Errorf("%w: tx: %v", ErrMalformed, err)
	}
	if in, ok := s.Tx.Input(s.UniquePubKey); !ok || in.Amount != s.Amount {
		return fmt.Errorf("%w: %s", ErrNotAnInput, s.UniquePubKey.Short())
	}
	if s.ParentTx == nil {
		return nil
	}
	if err := s.ParentTx.ValidateStructure(); err != nil {
		return fmt.Errorf("%w: parent: %v", ErrMalformed, err)
	}
	if out, ok := s.ParentTx.Output(s.UniquePubKey); !ok || out.Amount != s.Amount {
		return fmt.Errorf("%w: %s", ErrNotInParent, s.UniquePubKey.Short())
	}
	return nil
}

// Verify checks the signature, then the shape.
func (s *Spend) Verify() error {
	if err := s.VerifySignature(); err != nil {
		return err
	}
	return s.CheckShape()
}

// Hash identifies the record, signature included.
func (s *Spend) Hash() types.Hash {
	return crypto.Hash(s.Encode())
}

// Equal reports whether two spends encode identically.
func (s *Spend) Equal(other *Spend) bool {
	if s == nil || other == nil {
		return s == other
	}
	return bytes.Equal(s.Encode(), other.Encode())
}

// Encode returns the canonical encoding.
// Format: version | pubkey(33) | amount | tx | has_parent | [parent] | reason | signature
func (s *Spend) Encode() []byte {
	w := codec.NewWriter(256)
	s.EncodeTo(w)
	return w.Data()
}

// EncodeTo appends the canonical encoding to w.
func (s *Spend) EncodeTo(w *codec.Writer) {
	w.Uint(Version)
	w.Fixed(s.UniquePubKey[:])
	w.Uint(s.Amount)
	if s.Tx != nil {
		s.Tx.EncodeTo(w)
	} else {
		w.Bytes(nil)
	}
	w.Bool(s.ParentTx != nil)
	if s.ParentTx != nil {
		s.ParentTx.EncodeTo(w)
	}
	w.Bytes(s.Reason)
	w.Bytes(s.Signature)
}

// Decode parses a canonical spend encoding.
func Decode(b []byte) (*Spend, error) {
	r := codec.NewReader(b)
	s, err := DecodeFrom(r)
	if err != nil {
		return nil, err
	}
	if err := r.Finish(); err != nil {
		return nil, fmt.Errorf("decode spend: %w", err)
	}
	return s, nil
}

// DecodeFrom reads a spend written by EncodeTo.
func DecodeFrom(r *codec.Reader) (*Spend, error) {
	if v := r.Uint(); r.Err() == nil && v != Version {
		return nil, fmt.Errorf("decode spend: unsupported version %d", v)
	}
	s := &Spend{}
	r.Fixed(s.UniquePubKey[:])
	s.Amount = r.Uint()
	t, err := tx.DecodeFrom(r)
	if err != nil {
		return nil, fmt.Errorf("decode spend: %w", err)
	}
	s.Tx = t
	if r.Bool() {
		parent, err := tx.DecodeFrom(r)
		if err != nil {
			return nil, fmt.Errorf("decode spend: parent: %w", err)
		}
		s.ParentTx = parent
	}
	s.Reason = r.Bytes(MaxReason)
	s.Signature = r.Bytes(crypto.SignatureSize)
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("decode spend: %w", err)
	}
	return s, nil
}
