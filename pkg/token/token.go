// Package token implements the bearer note: a fixed amount held by whoever
// controls the secret key behind the note's unique public key.
//
// Tokens are immutable values. Whether a token is spent is not a property of
// the token; it is spent exactly when a spend record exists at its address.
package token

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-transfers/pkg/codec"
	"github.com/Klingon-tech/klingnet-transfers/pkg/crypto"
	"github.com/Klingon-tech/klingnet-transfers/pkg/tx"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

// MaxMetadata is the largest metadata blob a token may carry.
const MaxMetadata = 256

// Encoding version of tokens.
const Version = 1

// Token errors.
var (
	ErrInvalidAmount    = errors.New("token amount is zero or too large")
	ErrInvalidKey       = errors.New("token key is not a compressed public key")
	ErrMetadataTooLarge = errors.New("token metadata too large")
	ErrNotInParent      = errors.New("token is not an output of its parent transaction")
)

// Token is a bearer note.
//
// Parent is the transaction that created the token and is nil only for the
// genesis token. Carrying it lets a verifier find the spends that funded it:
// their addresses are derived from the parent's input keys.
type Token struct {
	UniquePubKey types.PublicKey       `json:"unique_pubkey"`
	Owner        types.PublicKey       `json:"owner,omitempty"`
	Index        types.DerivationIndex `json:"index"`
	Amount       uint64                `json:"amount"`
	Parent       *tx.Transaction       `json:"parent,omitempty"`
	Metadata     []byte                `json:"metadata,omitempty"`
}

// New creates the token for output pub of parent. It fails if parent has no
// such output.
func New(parent *tx.Transaction, pub, owner types.PublicKey, idx types.DerivationIndex, metadata []byte) (*Token, error) {
	out, ok := parent.Output(pub)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotInParent, pub.Short())
	}
	t := &Token{
		UniquePubKey: pub,
		Owner:        owner,
		Index:        idx,
		Amount:       out.Amount,
		Parent:       parent.Clone(),
		Metadata:     append([]byte(nil), metadata...),
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Address is where the token's spend will be published.
func (t *Token) Address() types.SpendAddress {
	return crypto.SpendAddressOf(t.UniquePubKey)
}

// ParentHash is the hash of the creating transaction, zero for genesis.
func (t *Token) ParentHash() types.Hash {
	if t.Parent == nil {
		return types.Hash{}
	}
	return t.Parent.Hash()
}

// Validate checks the token's own shape and that its parent conserves
// value. It says nothing about whether the token is spendable; that is the
// verifier's job.
func (t *Token) Validate() error {
	if err := t.ValidateStructure(); err != nil {
		return err
	}
	if t.Parent == nil {
		return nil
	}
	if err := t.Parent.CheckConservation(); err != nil {
		return fmt.Errorf("parent: %w", err)
	}
	return nil
}

// ValidateStructure is Validate without the parent's conservation check.
func (t *Token) ValidateStructure() error {
	if t.UniquePubKey[0] != 0x02 && t.UniquePubKey[0] != 0x03 {
		return ErrInvalidKey
	}
	if t.Amount == 0 || t.Amount > tx.MaxAmount {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, t.Amount)
	}
	if len(t.Metadata) > MaxMetadata {
		return fmt.Errorf("%w: %d bytes, max %d", ErrMetadataTooLarge, len(t.Metadata), MaxMetadata)
	}
	if t.Parent == nil {
		return nil
	}
	if err := t.Parent.ValidateStructure(); err != nil {
		return fmt.Errorf("parent: %w", err)
	}
	out, ok := t.Parent.Output(t.UniquePubKey)
	if !ok || out.Amount != t.Amount {
		return ErrNotInParent
	}
	return nil
}

// Encode returns the canonical encoding.
// Format: version | unique(33) | owner(33) | index(32) | amount | has_parent | [parent] | metadata
func (t *Token) Encode() []byte {
	w := codec.NewWriter(128)
	t.EncodeTo(w)
	return w.Data()
}

// EncodeTo appends the canonical encoding to w.
func (t *Token) EncodeTo(w *codec.Writer) {
	w.Uint(Version)
	w.Fixed(t.UniquePubKey[:])
	w.Fixed(t.Owner[:])
	w.Fixed(t.Index[:])
	w.Uint(t.Amount)
	w.Bool(t.Parent != nil)
	if t.Parent != nil {
		t.Parent.EncodeTo(w)
	}
	w.Bytes(t.Metadata)
}

// Decode parses a canonical token encoding.
func Decode(b []byte) (*Token, error) {
	r := codec.NewReader(b)
	t, err := DecodeFrom(r)
	if err != nil {
		return nil, err
	}
	if err := r.Finish(); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return t, nil
}

// DecodeFrom reads a token written by EncodeTo.
func DecodeFrom(r *codec.Reader) (*Token, error) {
	if v := r.Uint(); r.Err() == nil && v != Version {
		return nil, fmt.Errorf("decode token: unsupported version %d", v)
	}
	t := &Token{}
	r.Fixed(t.UniquePubKey[:])
	r.Fixed(t.Owner[:])
	r.Fixed(t.Index[:])
	t.Amount = r.Uint()
	if r.Bool() {
		parent, err := tx.DecodeFrom(r)
		if err != nil {
			return nil, fmt.Errorf("decode token: %w", err)
		}
		t.Parent = parent
	}
	t.Metadata = r.Bytes(MaxMetadata)
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return t, nil
}

// Inputs converts tokens into transaction inputs.
func Inputs(tokens []*Token) []tx.Input {
	ins := make([]tx.Input, len(tokens))
	for i, t := range tokens {
		ins[i] = tx.Input{PubKey: t.UniquePubKey, Amount: t.Amount}
	}
	return ins
}

// BuildTransaction reissues tokens into outputs.
func BuildTransaction(inputs []*Token, outputs []tx.Output) (*tx.Transaction, error) {
	return tx.Build(Inputs(inputs), outputs)
}
