package tx

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

// Validation errors.
var (
	ErrNoInputs        = errors.New("transaction has no inputs")
	ErrNoOutputs       = errors.New("transaction has no outputs")
	ErrTooManyInputs   = errors.New("too many inputs")
	ErrTooManyOutputs  = errors.New("too many outputs")
	ErrDuplicateInput  = errors.New("duplicate input")
	ErrDuplicateOutput = errors.New("duplicate output")
	ErrKeyReuse        = errors.New("output key is also an input key")
	ErrZeroAmount      = errors.New("amount is zero")
	ErrAmountTooLarge  = errors.New("amount exceeds maximum")
	ErrAmountOverflow  = errors.New("amounts overflow")
	ErrAmountMismatch  = errors.New("input and output amounts differ")
	ErrInvalidPubKey   = errors.New("invalid public key")
	ErrNonCanonical    = errors.New("entries not in canonical order")
)

// Validate checks structure and then conservation. A conservation failure
// wraps ErrAmountMismatch; everything else is structural.
func (t *Transaction) Validate() error {
	if err := t.ValidateStructure(); err != nil {
		return err
	}
	return t.CheckConservation()
}

// ValidateStructure checks everything except conservation.
func (t *Transaction) ValidateStructure() error {
	if len(t.Inputs) == 0 {
		return ErrNoInputs
	}
	if len(t.Outputs) == 0 {
		return ErrNoOutputs
	}
	if len(t.Inputs) > MaxInputs {
		return fmt.Errorf("%w: %d inputs, max %d", ErrTooManyInputs, len(t.Inputs), MaxInputs)
	}
	if len(t.Outputs) > MaxOutputs {
		return fmt.Errorf("%w: %d outputs, max %d", ErrTooManyOutputs, len(t.Outputs), MaxOutputs)
	}

	inputs := make(map[types.PublicKey]bool, len(t.Inputs))
	for i, in := range t.Inputs {
		if inputs[in.PubKey] {
			return fmt.Errorf("input %d: %w", i, ErrDuplicateInput)
		}
		inputs[in.PubKey] = true
		if err := checkEntry(in.PubKey, in.Amount); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}

	outputs := make(map[types.PublicKey]bool, len(t.Outputs))
	for i, out := range t.Outputs {
		if outputs[out.PubKey] {
			return fmt.Errorf("output %d: %w", i, ErrDuplicateOutput)
		}
		if inputs[out.PubKey] {
			return fmt.Errorf("output %d: %w", i, ErrKeyReuse)
		}
		outputs[out.PubKey] = true
		if err := checkEntry(out.PubKey, out.Amount); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
	}
	return nil
}

func checkEntry(pub types.PublicKey, amount uint64) error {
	if pub[0] != 0x02 && pub[0] != 0x03 {
		return ErrInvalidPubKey
	}
	if amount == 0 {
		return ErrZeroAmount
	}
	if amount > MaxAmount {
		return fmt.Errorf("%w: %d", ErrAmountTooLarge, amount)
	}
	return nil
}

// CheckConservation verifies sum(inputs) == sum(outputs).
func (t *Transaction) CheckConservation() error {
	in, err := t.TotalInput()
	if err != nil {
		return fmt.Errorf("inputs: %w", err)
	}
	out, err := t.TotalOutput()
	if err != nil {
		return fmt.Errorf("outputs: %w", err)
	}
	if in != out {
		return fmt.Errorf("%w: inputs %d, outputs %d", ErrAmountMismatch, in, out)
	}
	return nil
}
