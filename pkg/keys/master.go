// Package keys derives the one-time keypairs that give every token its own
// unlinkable identity.
//
// A wallet holds a BIP-32 master key. Each token is bound to a random
// 32-byte DerivationIndex; the index is split into eight non-hardened child
// steps below the master, so the same public key can be computed from the
// master's extended public key alone. Senders use that to mint outputs for
// a recipient without ever holding the recipient's secret.
package keys

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
	"github.com/tyler-smith/go-bip32"
)

// Key errors.
var (
	ErrInvalidIndex     = errors.New("derivation index has a hardened step")
	ErrNotPublicKey     = errors.New("extended key is private, expected public")
	ErrInvalidSeed      = errors.New("invalid seed length")
	ErrInvalidMnemonic  = errors.New("invalid mnemonic")
	ErrDerivationFailed = errors.New("key derivation failed")
)

// MasterKey is the private derivation root of a wallet. It never leaves the
// wallet.
type MasterKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master key from a 64-byte BIP-39 seed.
func NewMasterKey(seed []byte) (*MasterKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidSeed, SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &MasterKey{key: master}, nil
}

// Public returns the extended public key that senders derive token keys from.
func (m *MasterKey) Public() *MasterPublicKey {
	return &MasterPublicKey{key: m.key.PublicKey()}
}

// PublicKey returns the compressed master public key. Tokens record it as
// their owner.
func (m *MasterKey) PublicKey() types.PublicKey {
	return m.Public().PublicKey()
}

// MasterPublicKey is a neutered master key: public point plus chain code.
type MasterPublicKey struct {
	key *bip32.Key
}

// ParseMasterPublicKey decodes a base58 extended public key as produced by
// MasterPublicKey.String.
func ParseMasterPublicKey(s string) (*MasterPublicKey, error) {
	k, err := bip32.B58Deserialize(s)
	if err != nil {
		return nil, fmt.Errorf("decode master public key: %w", err)
	}
	if k.IsPrivate {
		return nil, ErrNotPublicKey
	}
	return &MasterPublicKey{key: k}, nil
}

// PublicKey returns the compressed master public key.
func (m *MasterPublicKey) PublicKey() types.PublicKey {
	var pk types.PublicKey
	copy(pk[:], m.key.Key)
	return pk
}

// String returns the base58 BIP-32 serialization.
func (m *MasterPublicKey) String() string {
	return m.key.B58Serialize()
}

// Equal reports whether two master public keys share point and chain code.
func (m *MasterPublicKey) Equal(other *MasterPublicKey) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.String() == other.String()
}
