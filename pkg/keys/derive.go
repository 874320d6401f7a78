package keys

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/klingnet-transfers/pkg/crypto"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
	"github.com/tyler-smith/go-bip32"
)

// IndexSteps is the number of BIP-32 child steps one DerivationIndex spans.
const IndexSteps = types.DerivationIndexSize / 4

// DerivedKeypair is the one-time keypair of a single token.
type DerivedKeypair struct {
	Index     types.DerivationIndex
	PublicKey types.PublicKey
	secret    *crypto.PrivateKey
}

// Signer returns the secret key as a crypto.Signer.
func (d *DerivedKeypair) Signer() *crypto.PrivateKey {
	return d.secret
}

// Zero wipes the secret key.
func (d *DerivedKeypair) Zero() {
	if d.secret != nil {
		d.secret.Zero()
	}
}

// NewIndex returns a fresh random index. Each 4-byte step has its high bit
// cleared so the path stays non-hardened.
func NewIndex() (types.DerivationIndex, error) {
	var idx types.DerivationIndex
	if _, err := rand.Read(idx[:]); err != nil {
		return idx, fmt.Errorf("read random index: %w", err)
	}
	for i := 0; i < IndexSteps; i++ {
		idx[i*4] &= 0x7f
	}
	return idx, nil
}

// ValidateIndex rejects indices that would need a hardened step.
func ValidateIndex(idx types.DerivationIndex) error {
	for i := 0; i < IndexSteps; i++ {
		if idx[i*4]&0x80 != 0 {
			return fmt.Errorf("%w: step %d", ErrInvalidIndex, i)
		}
	}
	return nil
}

// path splits idx into its child numbers.
func path(idx types.DerivationIndex) ([IndexSteps]uint32, error) {
	var steps [IndexSteps]uint32
	if err := ValidateIndex(idx); err != nil {
		return steps, err
	}
	for i := range steps {
		steps[i] = binary.BigEndian.Uint32(idx[i*4:])
	}
	return steps, nil
}

func walk(k *bip32.Key, idx types.DerivationIndex) (*bip32.Key, error) {
	steps, err := path(idx)
	if err != nil {
		return nil, err
	}
	cur := k
	for i, s := range steps {
		child, err := cur.NewChildKey(s)
		if err != nil {
			// Probability about 2^-127 per step.
			return nil, fmt.Errorf("%w: step %d: %v", ErrDerivationFailed, i, err)
		}
		cur = child
	}
	return cur, nil
}

// Derive returns the keypair at idx under master. It is deterministic.
func Derive(master *MasterKey, idx types.DerivationIndex) (*DerivedKeypair, error) {
	child, err := walk(master.key, idx)
	if err != nil {
		return nil, err
	}

	// bip32 may hand back a short scalar when it has leading zeros.
	raw := child.Key
	if len(raw) == 33 && raw[0] == 0 {
		raw = raw[1:]
	}
	secret := make([]byte, 32)
	copy(secret[32-len(raw):], raw)

	priv, err := crypto.PrivateKeyFromBytes(secret)
	for i := range secret {
		secret[i] = 0
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDerivationFailed, err)
	}

	return &DerivedKeypair{
		Index:     idx,
		PublicKey: priv.PublicKey(),
		secret:    priv,
	}, nil
}

// DerivePublic computes the public key at idx from the master public key
// only. It always equals Derive(master, idx).PublicKey.
func DerivePublic(masterPub *MasterPublicKey, idx types.DerivationIndex) (types.PublicKey, error) {
	child, err := walk(masterPub.key, idx)
	if err != nil {
		return types.PublicKey{}, err
	}
	pk, err := types.PublicKeyFromBytes(child.Key)
	if err != nil {
		return types.PublicKey{}, fmt.Errorf("%w: %v", ErrDerivationFailed, err)
	}
	return pk, nil
}
