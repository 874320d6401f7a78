package types

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
)

// SpendAddressSize is the length of a spend address in bytes.
const SpendAddressSize = HashSize

// SpendAddress is the storage-substrate location of the spend record for a
// token. It is a hash of the token's unique public key, computed by
// crypto.SpendAddressOf.
type SpendAddress [SpendAddressSize]byte

// IsZero returns true if the address is all zeros.
func (a SpendAddress) IsZero() bool {
	return a == SpendAddress{}
}

// String returns the hex-encoded address.
func (a SpendAddress) String() string {
	return hex.EncodeToString(a[:])
}

// Short returns the first 8 bytes in hex, for log lines.
func (a SpendAddress) Short() string {
	return hex.EncodeToString(a[:8])
}

// Compare orders addresses bytewise.
func (a SpendAddress) Compare(other SpendAddress) int {
	return bytes.Compare(a[:], other[:])
}

// MarshalJSON encodes the address as a hex string.
func (a SpendAddress) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes a hex string into an address.
func (a *SpendAddress) UnmarshalJSON(data []byte) error {
	return unmarshalHexJSON(data, a[:], "spend address")
}

// HexToSpendAddress parses a hex-encoded spend address.
func HexToSpendAddress(s string) (SpendAddress, error) {
	var a SpendAddress
	if err := decodeHexFixed(s, a[:], "spend address"); err != nil {
		return SpendAddress{}, err
	}
	return a, nil
}
