package tx

import (
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

// Build assembles a transaction from inputs and outputs. Entries are sorted
// by public key. Unequal sums fail with ErrAmountMismatch; no signature
// exists at this point.
func Build(inputs []Input, outputs []Output) (*Transaction, error) {
	t := &Transaction{
		Inputs:  sortInputs(inputs),
		Outputs: sortOutputs(outputs),
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Builder constructs transactions incrementally.
type Builder struct {
	inputs  []Input
	outputs []Output
}

// NewBuilder creates a new transaction builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddInput adds a token being consumed.
func (b *Builder) AddInput(pub types.PublicKey, amount uint64) *Builder {
	b.inputs = append(b.inputs, Input{PubKey: pub, Amount: amount})
	return b
}

// AddOutput adds a token being created.
func (b *Builder) AddOutput(pub types.PublicKey, amount uint64) *Builder {
	b.outputs = append(b.outputs, Output{PubKey: pub, Amount: amount})
	return b
}

// Build validates and returns the transaction.
func (b *Builder) Build() (*Transaction, error) {
	return Build(b.inputs, b.outputs)
}
