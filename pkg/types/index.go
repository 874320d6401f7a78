package types

import (
	"encoding/hex"
	"encoding/json"
)

// DerivationIndexSize is the length of a derivation index in bytes.
const DerivationIndexSize = 32

// DerivationIndex selects one derived keypair under a master key.
// Senders pick it at random and hand it to the recipient with the token.
type DerivationIndex [DerivationIndexSize]byte

// IsZero returns true if the index is all zeros.
func (i DerivationIndex) IsZero() bool {
	return i == DerivationIndex{}
}

// String returns the hex-encoded index.
func (i DerivationIndex) String() string {
	return hex.EncodeToString(i[:])
}

// MarshalJSON encodes the index as a hex string.
func (i DerivationIndex) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

// UnmarshalJSON decodes a hex string into an index.
func (i *DerivationIndex) UnmarshalJSON(data []byte) error {
	return unmarshalHexJSON(data, i[:], "derivation index")
}
