package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-transfers/pkg/types"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}

	pub := key.PublicKey()
	if pub[0] != 0x02 && pub[0] != 0x03 {
		t.Errorf("compressed pubkey prefix = 0x%02x, want 0x02 or 0x03", pub[0])
	}
	if err := ValidatePublicKey(pub); err != nil {
		t.Errorf("ValidatePublicKey() error: %v", err)
	}
}

func TestSignAndVerify(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}

	hash := Hash([]byte("test message"))
	sig, err := key.Sign(hash)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if len(sig) != SignatureSize {
		t.Errorf("signature length = %d, want %d", len(sig), SignatureSize)
	}

	if !VerifySignature(hash, sig, key.PublicKey()) {
		t.Error("valid signature failed verification")
	}
}

func TestVerify_WrongMessage(t *testing.T) {
	key, _ := GenerateKey()
	sig, _ := key.Sign(Hash([]byte("correct message")))

	if VerifySignature(Hash([]byte("wrong message")), sig, key.PublicKey()) {
		t.Error("signature should not verify for wrong message")
	}
}

func TestVerify_WrongKey(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()
	hash := Hash([]byte("test"))
	sig, _ := key1.Sign(hash)

	if VerifySignature(hash, sig, key2.PublicKey()) {
		t.Error("signature should not verify with wrong public key")
	}
}

func TestVerify_Malformed(t *testing.T) {
	key, _ := GenerateKey()
	hash := Hash([]byte("test"))
	sig, _ := key.Sign(hash)

	tests := []struct {
		name string
		sig  []byte
		pub  types.PublicKey
	}{
		{"empty signature", nil, key.PublicKey()},
		{"short signature", sig[:10], key.PublicKey()},
		{"zero pubkey", sig, types.PublicKey{}},
		{"off-curve pubkey", sig, types.PublicKey{0x02, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifySignature(hash, tt.sig, tt.pub) {
				t.Error("malformed input should not verify")
			}
		})
	}
}

func TestVerify_TamperedSignature(t *testing.T) {
	key, _ := GenerateKey()
	hash := Hash([]byte("test"))
	sig, _ := key.Sign(hash)

	tampered := append([]byte(nil), sig...)
	tampered[40] ^= 0x01
	if VerifySignature(hash, tampered, key.PublicKey()) {
		t.Error("tampered signature should not verify")
	}
}

func TestPrivateKeyFromBytes(t *testing.T) {
	key, _ := GenerateKey()
	raw := key.Serialize()

	restored, err := PrivateKeyFromBytes(raw)
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes() error: %v", err)
	}
	if restored.PublicKey() != key.PublicKey() {
		t.Error("restored key has different public key")
	}
	if !bytes.Equal(restored.Serialize(), raw) {
		t.Error("restored key serializes differently")
	}
}

func TestPrivateKeyFromBytes_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"too short", make([]byte, 16)},
		{"too long", make([]byte, 64)},
		{"zero scalar", make([]byte, 32)},
		{"above curve order", bytes.Repeat([]byte{0xff}, 32)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := PrivateKeyFromBytes(tt.input); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPrivateKeyFromBytes_ErrorKind(t *testing.T) {
	if _, err := PrivateKeyFromBytes(make([]byte, 31)); !errors.Is(err, ErrInvalidPrivateKey) {
		t.Errorf("PrivateKeyFromBytes() error = %v, want ErrInvalidPrivateKey", err)
	}
	if err := ValidatePublicKey(types.PublicKey{0x05}); !errors.Is(err, ErrInvalidPublicKey) {
		t.Errorf("ValidatePublicKey() error = %v, want ErrInvalidPublicKey", err)
	}
}

func TestZero(t *testing.T) {
	key, _ := GenerateKey()
	key.Zero()
	if !bytes.Equal(key.Serialize(), make([]byte, 32)) {
		t.Error("Zero() should clear the private key scalar")
	}
}
