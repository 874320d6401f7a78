package keys

import (
	"encoding/binary"
	"errors"
	"math/bits"
	"testing"

	"github.com/Klingon-tech/klingnet-transfers/pkg/crypto"
	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

// testMaster returns a deterministic master key for testing.
// Uses the BIP-39 test vector: "abandon" x11 + "about" with passphrase "TREZOR".
func testMaster(t *testing.T) *MasterKey {
	t.Helper()
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	seed, err := SeedFromMnemonic(mnemonic, "TREZOR")
	if err != nil {
		t.Fatalf("SeedFromMnemonic() error: %v", err)
	}
	master, err := NewMasterKey(seed)
	if err != nil {
		t.Fatalf("NewMasterKey() error: %v", err)
	}
	return master
}

func indexFromUint(n uint64) types.DerivationIndex {
	var idx types.DerivationIndex
	binary.BigEndian.PutUint32(idx[24:], uint32(n>>32)&0x7fffffff)
	binary.BigEndian.PutUint32(idx[28:], uint32(n)&0x7fffffff)
	return idx
}

func TestNewMasterKey_InvalidSeedLength(t *testing.T) {
	tests := []struct {
		name string
		seed []byte
	}{
		{"empty", []byte{}},
		{"too short", make([]byte, 32)},
		{"too long", make([]byte, 128)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMasterKey(tt.seed)
			if !errors.Is(err, ErrInvalidSeed) {
				t.Errorf("NewMasterKey() error = %v, want ErrInvalidSeed", err)
			}
		})
	}
}

func TestDerive_Deterministic(t *testing.T) {
	m1 := testMaster(t)
	m2 := testMaster(t)
	idx := indexFromUint(42)

	k1, err := Derive(m1, idx)
	if err != nil {
		t.Fatalf("Derive() error: %v", err)
	}
	k2, err := Derive(m2, idx)
	if err != nil {
		t.Fatalf("Derive() error: %v", err)
	}

	if k1.PublicKey != k2.PublicKey {
		t.Error("same master + same index should produce same public key")
	}
	if string(k1.Signer().Serialize()) != string(k2.Signer().Serialize()) {
		t.Error("same master + same index should produce same secret key")
	}
	if k1.Index != idx {
		t.Error("keypair should carry its index")
	}
}

func TestDerive_DistinctIndices(t *testing.T) {
	master := testMaster(t)

	a, err := Derive(master, indexFromUint(1))
	if err != nil {
		t.Fatalf("Derive() error: %v", err)
	}
	b, err := Derive(master, indexFromUint(2))
	if err != nil {
		t.Fatalf("Derive() error: %v", err)
	}

	if a.PublicKey == b.PublicKey {
		t.Error("different indices should produce different keys")
	}
	if a.PublicKey == master.PublicKey() {
		t.Error("derived key should not equal the master public key")
	}
}

func TestDerivePublic_MatchesDerive(t *testing.T) {
	master := testMaster(t)
	pub := master.Public()

	for i := 0; i < 8; i++ {
		idx, err := NewIndex()
		if err != nil {
			t.Fatalf("NewIndex() error: %v", err)
		}
		priv, err := Derive(master, idx)
		if err != nil {
			t.Fatalf("Derive() error: %v", err)
		}
		got, err := DerivePublic(pub, idx)
		if err != nil {
			t.Fatalf("DerivePublic() error: %v", err)
		}
		if got != priv.PublicKey {
			t.Errorf("index %s: DerivePublic = %s, want %s", idx, got, priv.PublicKey)
		}
	}
}

func TestDerive_ZeroIndex(t *testing.T) {
	master := testMaster(t)
	kp, err := Derive(master, types.DerivationIndex{})
	if err != nil {
		t.Fatalf("Derive(zero) error: %v", err)
	}
	pub, err := DerivePublic(master.Public(), types.DerivationIndex{})
	if err != nil {
		t.Fatalf("DerivePublic(zero) error: %v", err)
	}
	if kp.PublicKey != pub {
		t.Error("zero index should derive consistently")
	}
}

func TestDerive_HardenedIndexRejected(t *testing.T) {
	master := testMaster(t)
	var idx types.DerivationIndex
	idx[8] = 0x80

	if _, err := Derive(master, idx); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("Derive() error = %v, want ErrInvalidIndex", err)
	}
	if _, err := DerivePublic(master.Public(), idx); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("DerivePublic() error = %v, want ErrInvalidIndex", err)
	}
}

func TestNewIndex(t *testing.T) {
	seen := make(map[types.DerivationIndex]bool)
	for i := 0; i < 64; i++ {
		idx, err := NewIndex()
		if err != nil {
			t.Fatalf("NewIndex() error: %v", err)
		}
		if err := ValidateIndex(idx); err != nil {
			t.Fatalf("NewIndex() produced invalid index: %v", err)
		}
		if seen[idx] {
			t.Fatal("NewIndex() repeated an index")
		}
		seen[idx] = true
	}
}

func TestDerivedKeypair_Signs(t *testing.T) {
	master := testMaster(t)
	idx, _ := NewIndex()
	kp, err := Derive(master, idx)
	if err != nil {
		t.Fatalf("Derive() error: %v", err)
	}

	hash := crypto.Hash([]byte("spend"))
	sig, err := kp.Signer().Sign(hash)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if !crypto.VerifySignature(hash, sig, kp.PublicKey) {
		t.Error("signature from derived key should verify under derived public key")
	}
	if crypto.VerifySignature(hash, sig, master.PublicKey()) {
		t.Error("signature from derived key should not verify under master key")
	}
}

func TestMasterPublicKey_StringRoundTrip(t *testing.T) {
	master := testMaster(t)
	pub := master.Public()

	parsed, err := ParseMasterPublicKey(pub.String())
	if err != nil {
		t.Fatalf("ParseMasterPublicKey() error: %v", err)
	}
	if !parsed.Equal(pub) {
		t.Error("parsed master public key differs")
	}

	idx := indexFromUint(7)
	a, _ := DerivePublic(pub, idx)
	b, _ := DerivePublic(parsed, idx)
	if a != b {
		t.Error("parsed key derives differently")
	}
}

func TestParseMasterPublicKey_RejectsPrivate(t *testing.T) {
	master := testMaster(t)
	if _, err := ParseMasterPublicKey(master.key.B58Serialize()); !errors.Is(err, ErrNotPublicKey) {
		t.Errorf("ParseMasterPublicKey(xprv) error = %v, want ErrNotPublicKey", err)
	}
	if _, err := ParseMasterPublicKey("not base58 at all"); err == nil {
		t.Error("expected error for garbage input")
	}
}

// Derived keys from sequential indices should look like independently
// generated keys: balanced bits, no shared structure between neighbours.
func TestDerive_Unlinkability(t *testing.T) {
	const n = 128
	master := testMaster(t)
	pub := master.Public()

	derived := make([]types.PublicKey, n)
	random := make([]types.PublicKey, n)
	seen := make(map[types.PublicKey]bool)
	for i := 0; i < n; i++ {
		k, err := DerivePublic(pub, indexFromUint(uint64(i)))
		if err != nil {
			t.Fatalf("DerivePublic(%d) error: %v", i, err)
		}
		if seen[k] || k == master.PublicKey() {
			t.Fatalf("index %d: derived key collides", i)
		}
		seen[k] = true
		derived[i] = k

		r, _ := crypto.GenerateKey()
		random[i] = r.PublicKey()
	}

	ratio := func(keys []types.PublicKey) float64 {
		ones := 0
		for _, k := range keys {
			for _, b := range k[1:] {
				ones += bits.OnesCount8(b)
			}
		}
		return float64(ones) / float64(len(keys)*32*8)
	}
	dr, rr := ratio(derived), ratio(random)
	if dr < 0.47 || dr > 0.53 {
		t.Errorf("derived key bit ratio = %.4f, want about 0.5", dr)
	}
	if diff := dr - rr; diff > 0.04 || diff < -0.04 {
		t.Errorf("derived ratio %.4f differs from random ratio %.4f", dr, rr)
	}

	// Neighbouring indices: mean Hamming distance of x-coordinates near 128.
	total := 0
	for i := 1; i < n; i++ {
		for j := 1; j < types.PublicKeySize; j++ {
			total += bits.OnesCount8(derived[i][j] ^ derived[i-1][j])
		}
	}
	mean := float64(total) / float64(n-1)
	if mean < 120 || mean > 136 {
		t.Errorf("mean neighbour Hamming distance = %.1f, want about 128", mean)
	}

	// Parity prefix should be roughly balanced.
	odd := 0
	for _, k := range derived {
		if k[0] == 0x03 {
			odd++
		}
	}
	if odd < n/4 || odd > 3*n/4 {
		t.Errorf("odd prefix count = %d of %d, want roughly half", odd, n)
	}
}
