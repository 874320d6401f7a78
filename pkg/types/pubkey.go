package types

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// PublicKeySize is the length of a compressed secp256k1 public key.
const PublicKeySize = 33

// PublicKey is a compressed secp256k1 public key. A token's unique public key
// is its identity; hashed, it becomes the token's spend address.
type PublicKey [PublicKeySize]byte

// PublicKeyFromBytes copies a 33-byte compressed key into a PublicKey.
// It checks the length and prefix only; curve membership is checked when
// the key is used to verify a signature.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeySize {
		return pk, fmt.Errorf("public key must be %d bytes, got %d", PublicKeySize, len(b))
	}
	if b[0] != 0x02 && b[0] != 0x03 {
		return pk, fmt.Errorf("public key has invalid prefix 0x%02x", b[0])
	}
	copy(pk[:], b)
	return pk, nil
}

// HexToPublicKey parses a hex-encoded compressed public key.
func HexToPublicKey(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("invalid public key hex: %w", err)
	}
	return PublicKeyFromBytes(b)
}

// IsZero returns true if the key is all zeros.
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// Bytes returns a copy of the key bytes.
func (pk PublicKey) Bytes() []byte {
	b := make([]byte, PublicKeySize)
	copy(b, pk[:])
	return b
}

// String returns the hex-encoded key.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

// Short returns the first 8 bytes in hex, for log lines.
func (pk PublicKey) Short() string {
	return hex.EncodeToString(pk[:8])
}

// Compare orders keys bytewise. Transactions sort inputs and outputs with it.
func (pk PublicKey) Compare(other PublicKey) int {
	return bytes.Compare(pk[:], other[:])
}

// MarshalJSON encodes the key as a hex string.
func (pk PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(pk.String())
}

// UnmarshalJSON decodes a hex string into a key.
func (pk *PublicKey) UnmarshalJSON(data []byte) error {
	return unmarshalHexJSON(data, pk[:], "public key")
}
