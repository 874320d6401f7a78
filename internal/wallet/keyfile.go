package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Klingon-tech/klingnet-transfers/pkg/keys"
)

const keyFileVersion = 1

// ErrWalletExists is returned by Create when the directory already holds a
// wallet.
var ErrWalletExists = errors.New("wallet already exists")

// keyFile is the on-disk JSON form of the master key. The seed is sealed;
// the master public key is kept in the clear so it can be shared without
// the password and is bound to the seed as associated data.
type keyFile struct {
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	MasterPub  string    `json:"master_public"`
	SealedSeed []byte    `json:"sealed_seed,omitempty"` // empty for watch-only
}

func (kf *keyFile) watchOnly() bool { return len(kf.SealedSeed) == 0 }

func writeKeyFile(path string, seed, password []byte, params EncryptionParams) (*keys.MasterKey, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, ErrWalletExists
	}
	master, err := keys.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	pub := master.Public().String()
	sealed, err := Encrypt(seed, password, []byte(pub), params)
	if err != nil {
		return nil, fmt.Errorf("seal seed: %w", err)
	}

	kf := keyFile{
		Version:    keyFileVersion,
		CreatedAt:  time.Now().UTC(),
		MasterPub:  pub,
		SealedSeed: sealed,
	}
	if err := storeKeyFile(path, &kf); err != nil {
		return nil, err
	}
	return master, nil
}

// writeWatchKeyFile stores a key file that carries only pub.
func writeWatchKeyFile(path string, pub *keys.MasterPublicKey) error {
	if _, err := os.Stat(path); err == nil {
		return ErrWalletExists
	}
	return storeKeyFile(path, &keyFile{
		Version:   keyFileVersion,
		CreatedAt: time.Now().UTC(),
		MasterPub: pub.String(),
	})
}

func storeKeyFile(path string, kf *keyFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key file: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrWalletExists
		}
		return fmt.Errorf("create key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write key file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close key file: %w", err)
	}
	return nil
}

func readKeyFile(path string) (*keyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("%w: key file: %v", ErrCorruptWallet, err)
	}
	if kf.Version != keyFileVersion {
		return nil, fmt.Errorf("unsupported key file version: %d", kf.Version)
	}
	return &kf, nil
}

// publicKey parses the stored master public key.
func (kf *keyFile) publicKey() (*keys.MasterPublicKey, error) {
	pub, err := keys.ParseMasterPublicKey(kf.MasterPub)
	if err != nil {
		return nil, fmt.Errorf("%w: master public key: %v", ErrCorruptWallet, err)
	}
	return pub, nil
}

// unlock opens the seed and rebuilds the master key. It fails if the key
// does not match the stored public key.
func (kf *keyFile) unlock(password []byte) (*keys.MasterKey, error) {
	seed, err := Decrypt(kf.SealedSeed, password, []byte(kf.MasterPub))
	if err != nil {
		return nil, err
	}
	defer wipe(seed)
	master, err := keys.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptWallet, err)
	}
	if master.Public().String() != kf.MasterPub {
		return nil, fmt.Errorf("%w: seed does not match master public key", ErrCorruptWallet)
	}
	return master, nil
}

// MasterPublicKey reads the shareable master public key of the wallet in
// dir. No password or lock is needed.
func MasterPublicKey(dir string) (*keys.MasterPublicKey, error) {
	kf, err := readKeyFile(keyFilePath(dir))
	if err != nil {
		return nil, err
	}
	return kf.publicKey()
}
