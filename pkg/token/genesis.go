package token

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-transfers/pkg/crypto"
	"github.com/Klingon-tech/klingnet-transfers/pkg/tx"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

// ErrInvalidGenesis is returned for malformed genesis parameters.
var ErrInvalidGenesis = errors.New("invalid genesis parameters")

// GenesisParams identify the single root issuance every verifier trusts.
// All participants of a network must agree on them out of band.
type GenesisParams struct {
	UniquePubKey types.PublicKey `json:"unique_pubkey"`
	Supply       uint64          `json:"supply"`
}

// Validate checks the parameters are usable.
func (g GenesisParams) Validate() error {
	if err := crypto.ValidatePublicKey(g.UniquePubKey); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGenesis, err)
	}
	if g.Supply == 0 || g.Supply > tx.MaxAmount {
		return fmt.Errorf("%w: supply %d", ErrInvalidGenesis, g.Supply)
	}
	return nil
}

// Address is the spend address of the genesis token.
func (g GenesisParams) Address() types.SpendAddress {
	return crypto.SpendAddressOf(g.UniquePubKey)
}

// Token returns the genesis token. owner and idx describe the key that
// holds it; they do not affect verification.
func (g GenesisParams) Token(owner types.PublicKey, idx types.DerivationIndex) *Token {
	return &Token{
		UniquePubKey: g.UniquePubKey,
		Owner:        owner,
		Index:        idx,
		Amount:       g.Supply,
	}
}

// IsGenesis reports whether t is the genesis token of g.
func (g GenesisParams) IsGenesis(t *Token) bool {
	return t.Parent == nil && t.UniquePubKey == g.UniquePubKey && t.Amount == g.Supply
}
