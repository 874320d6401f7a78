package keys

import (
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

const (
	// MnemonicEntropyBits gives 24-word recovery phrases.
	MnemonicEntropyBits = 256

	// SeedSize is the BIP-39 seed length in bytes.
	SeedSize = 64
)

// GenerateMnemonic returns a fresh 24-word recovery phrase for a new wallet.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return phrase, nil
}

// ValidateMnemonic reports whether phrase has a valid word count, words and
// checksum. Extra whitespace between words is tolerated.
func ValidateMnemonic(phrase string) bool {
	return bip39.IsMnemonicValid(normalize(phrase))
}

// SeedFromMnemonic stretches a recovery phrase and optional passphrase into
// the seed a MasterKey is built from.
func SeedFromMnemonic(phrase, passphrase string) ([]byte, error) {
	phrase = normalize(phrase)
	if !bip39.IsMnemonicValid(phrase) {
		return nil, ErrInvalidMnemonic
	}
	seed, err := bip39.NewSeedWithErrorChecking(phrase, passphrase)
	if err != nil {
		return nil, fmt.Errorf("derive seed: %w", err)
	}
	return seed, nil
}

// MasterKeyFromMnemonic restores the master key of a recovery phrase.
func MasterKeyFromMnemonic(phrase, passphrase string) (*MasterKey, error) {
	seed, err := SeedFromMnemonic(phrase, passphrase)
	if err != nil {
		return nil, err
	}
	defer clear(seed)
	return NewMasterKey(seed)
}

func normalize(phrase string) string {
	return strings.Join(strings.Fields(phrase), " ")
}
