//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || windows)

package wallet

import (
	"fmt"
	"os"
	"runtime"
)

func lockFile(*os.File) error {
	return fmt.Errorf("wallet locking is not supported on %s", runtime.GOOS)
}

func unlockFile(*os.File) error { return nil }
