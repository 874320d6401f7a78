package wallet

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Klingon-tech/klingnet-transfers/pkg/token"
	"github.com/Klingon-tech/klingnet-transfers/pkg/tx"
)

// ErrInsufficientBalance is returned when the spendable tokens cannot cover
// an amount.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Selection is the result of input selection.
type Selection struct {
	Inputs []*token.Token
	Total  uint64
	Change uint64 // Total - target
}

// compareTokens orders tokens by amount, then by address.
func compareTokens(a, b *token.Token) int {
	if a.Amount != b.Amount {
		if a.Amount < b.Amount {
			return -1
		}
		return 1
	}
	return a.Address().Compare(b.Address())
}

// selectTokens picks tokens covering target. The smallest single token that
// covers it wins; otherwise tokens are taken largest first until covered.
// Equal amounts are taken in address order, so the result depends only on
// the set of candidates. At most tx.MaxInputs tokens are taken.
func selectTokens(candidates []*token.Token, target uint64) (*Selection, error) {
	if target == 0 {
		return nil, fmt.Errorf("target must be positive")
	}
	sorted := slices.Clone(candidates)
	slices.SortFunc(sorted, compareTokens)

	// Smallest single covering token.
	for _, t := range sorted {
		if t.Amount >= target {
			return &Selection{Inputs: []*token.Token{t}, Total: t.Amount, Change: t.Amount - target}, nil
		}
	}

	// Largest-first accumulation. Ties keep address order.
	slices.SortStableFunc(sorted, func(a, b *token.Token) int {
		switch {
		case a.Amount > b.Amount:
			return -1
		case a.Amount < b.Amount:
			return 1
		}
		return 0
	})
	var (
		selected []*token.Token
		total    uint64
	)
	for _, t := range sorted {
		if len(selected) == tx.MaxInputs {
			return nil, fmt.Errorf("%w: %d largest tokens hold %d, need %d",
				ErrInsufficientBalance, tx.MaxInputs, total, target)
		}
		selected = append(selected, t)
		total += t.Amount
		if total >= target {
			return &Selection{Inputs: selected, Total: total, Change: total - target}, nil
		}
	}
	return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, total, target)
}
