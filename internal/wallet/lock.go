package wallet

import (
	"errors"
	"fmt"
	"os"
)

// ErrWalletLocked is returned when another process holds the wallet.
var ErrWalletLocked = errors.New("wallet is locked by another process")

// fileLock is an exclusive advisory lock on a file. The lock is released
// by Close or when the process exits.
type fileLock struct {
	f *os.File
}

// acquireLock takes the lock on path without blocking.
func acquireLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, err
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlockFile(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
