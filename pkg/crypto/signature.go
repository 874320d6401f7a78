package crypto

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// SignatureSize is the length of a serialized Schnorr signature.
const SignatureSize = schnorr.SignatureSize

// Key errors.
var (
	ErrInvalidPrivateKey = errors.New("invalid private key")
	ErrInvalidPublicKey  = errors.New("invalid public key")
)

// Signer produces Schnorr/secp256k1 signatures for a single token key.
// Derived wallet keys and throwaway test keys both satisfy it.
type Signer interface {
	Sign(hash types.Hash) ([]byte, error)
	PublicKey() types.PublicKey
}

// PrivateKey is a secp256k1 secret used for Schnorr signing.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

var _ Signer = (*PrivateKey)(nil)

// GenerateKey creates a new random secp256k1 private key.
func GenerateKey() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes wraps a 32-byte secret. Zero scalars and values at or
// above the curve order are rejected.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("%w: must be 32 bytes, got %d", ErrInvalidPrivateKey, len(b))
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(b); overflow || scalar.IsZero() {
		return nil, fmt.Errorf("%w: zero or not below the curve order", ErrInvalidPrivateKey)
	}
	return &PrivateKey{key: secp256k1.NewPrivateKey(&scalar)}, nil
}

// Sign produces a Schnorr signature over a 32-byte hash.
func (pk *PrivateKey) Sign(hash types.Hash) ([]byte, error) {
	sig, err := schnorr.Sign(pk.key, hash[:])
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	return sig.Serialize(), nil
}

// PublicKey returns the compressed 33-byte public key.
func (pk *PrivateKey) PublicKey() types.PublicKey {
	var out types.PublicKey
	copy(out[:], pk.key.PubKey().SerializeCompressed())
	return out
}

// Serialize returns the 32-byte private key scalar.
func (pk *PrivateKey) Serialize() []byte {
	return pk.key.Serialize()
}

// Zero wipes the secret scalar.
func (pk *PrivateKey) Zero() {
	pk.key.Zero()
}

func parsePublicKey(pub types.PublicKey) (*secp256k1.PublicKey, error) {
	key, err := secp256k1.ParsePubKey(pub[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return key, nil
}

// ValidatePublicKey checks that pub is a compressed point on secp256k1.
func ValidatePublicKey(pub types.PublicKey) error {
	_, err := parsePublicKey(pub)
	return err
}

// VerifySignature reports whether signature is a valid Schnorr signature of
// hash under publicKey. Malformed keys and signatures never verify.
func VerifySignature(hash types.Hash, signature []byte, publicKey types.PublicKey) bool {
	key, err := parsePublicKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(hash[:], key)
}
