// Package tx defines reissue transactions: a set of consumed input tokens and
// a set of freshly created output tokens whose amounts balance exactly.
package tx

import (
	"fmt"
	"math"
	"slices"

	"github.com/Klingon-tech/klingnet-transfers/pkg/codec"
	"github.com/Klingon-tech/klingnet-transfers/pkg/crypto"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

// Encoding version of transactions.
const Version = 1

// Transaction limits.
const (
	MaxInputs  = 256
	MaxOutputs = 256
	MaxAmount  = codec.MaxUint
)

// Transaction consumes Inputs and creates Outputs. Both lists are kept
// sorted by public key; Encode and Hash sort regardless, so the hash does
// not depend on the order entries were added in.
type Transaction struct {
	Inputs  []Input  `json:"inputs"`
	Outputs []Output `json:"outputs"`
}

// Input names a token being consumed by its unique public key and amount.
type Input struct {
	PubKey types.PublicKey `json:"pubkey"`
	Amount uint64          `json:"amount"`
}

// Output describes a token being created.
type Output struct {
	PubKey types.PublicKey `json:"pubkey"`
	Amount uint64          `json:"amount"`
}

func sortInputs(in []Input) []Input {
	out := slices.Clone(in)
	slices.SortFunc(out, func(a, b Input) int { return a.PubKey.Compare(b.PubKey) })
	return out
}

func sortOutputs(in []Output) []Output {
	out := slices.Clone(in)
	slices.SortFunc(out, func(a, b Output) int { return a.PubKey.Compare(b.PubKey) })
	return out
}

// Hash is the content hash of the transaction.
func (t *Transaction) Hash() types.Hash {
	return crypto.TaggedHash(crypto.TagTransaction, t.Encode())
}

// Encode returns the canonical encoding.
// Format: version | n_in | [pubkey(33) amount]... | n_out | [pubkey(33) amount]...
func (t *Transaction) Encode() []byte {
	w := codec.NewWriter(4 + (len(t.Inputs)+len(t.Outputs))*(types.PublicKeySize+9))
	t.encodeTo(w)
	return w.Data()
}

func (t *Transaction) encodeTo(w *codec.Writer) {
	w.Uint(Version)
	w.Uint(uint64(len(t.Inputs)))
	for _, in := range sortInputs(t.Inputs) {
		w.Fixed(in.PubKey[:])
		w.Uint(in.Amount)
	}
	w.Uint(uint64(len(t.Outputs)))
	for _, out := range sortOutputs(t.Outputs) {
		w.Fixed(out.PubKey[:])
		w.Uint(out.Amount)
	}
}

// EncodeTo appends the canonical encoding to w. Records embedding a
// transaction use it.
func (t *Transaction) EncodeTo(w *codec.Writer) {
	w.Bytes(t.Encode())
}

// Decode parses a canonical encoding. Entries must be strictly ascending by
// public key so that Encode reproduces the input exactly.
func Decode(b []byte) (*Transaction, error) {
	r := codec.NewReader(b)
	t, err := decodeFrom(r)
	if err != nil {
		return nil, err
	}
	if err := r.Finish(); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return t, nil
}

// DecodeFrom reads a transaction written by EncodeTo.
func DecodeFrom(r *codec.Reader) (*Transaction, error) {
	raw := r.Bytes(MaxEncodedSize)
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return Decode(raw)
}

// MaxEncodedSize bounds the encoding of a transaction at the limits.
const MaxEncodedSize = 8 + (MaxInputs+MaxOutputs)*(types.PublicKeySize+9)

func decodeFrom(r *codec.Reader) (*Transaction, error) {
	if v := r.Uint(); r.Err() == nil && v != Version {
		return nil, fmt.Errorf("decode transaction: unsupported version %d", v)
	}

	t := &Transaction{}
	n := r.Count(MaxInputs)
	if n > 0 {
		t.Inputs = make([]Input, n)
	}
	for i := range t.Inputs {
		r.Fixed(t.Inputs[i].PubKey[:])
		t.Inputs[i].Amount = r.Uint()
		if r.Err() == nil && i > 0 && t.Inputs[i-1].PubKey.Compare(t.Inputs[i].PubKey) >= 0 {
			return nil, fmt.Errorf("decode transaction: input %d: %w", i, ErrNonCanonical)
		}
	}

	n = r.Count(MaxOutputs)
	if n > 0 {
		t.Outputs = make([]Output, n)
	}
	for i := range t.Outputs {
		r.Fixed(t.Outputs[i].PubKey[:])
		t.Outputs[i].Amount = r.Uint()
		if r.Err() == nil && i > 0 && t.Outputs[i-1].PubKey.Compare(t.Outputs[i].PubKey) >= 0 {
			return nil, fmt.Errorf("decode transaction: output %d: %w", i, ErrNonCanonical)
		}
	}

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return t, nil
}

// TotalInput returns the sum of input amounts.
func (t *Transaction) TotalInput() (uint64, error) {
	var total uint64
	for _, in := range t.Inputs {
		if total > math.MaxUint64-in.Amount {
			return 0, ErrAmountOverflow
		}
		total += in.Amount
	}
	return total, nil
}

// TotalOutput returns the sum of output amounts.
func (t *Transaction) TotalOutput() (uint64, error) {
	var total uint64
	for _, out := range t.Outputs {
		if total > math.MaxUint64-out.Amount {
			return 0, ErrAmountOverflow
		}
		total += out.Amount
	}
	return total, nil
}

// Input returns the input consuming pub, if any.
func (t *Transaction) Input(pub types.PublicKey) (Input, bool) {
	for _, in := range t.Inputs {
		if in.PubKey == pub {
			return in, true
		}
	}
	return Input{}, false
}

// Output returns the output creating pub, if any.
func (t *Transaction) Output(pub types.PublicKey) (Output, bool) {
	for _, out := range t.Outputs {
		if out.PubKey == pub {
			return out, true
		}
	}
	return Output{}, false
}

// Clone returns a deep copy.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	return &Transaction{
		Inputs:  slices.Clone(t.Inputs),
		Outputs: slices.Clone(t.Outputs),
	}
}
