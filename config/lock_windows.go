//go:build windows

package config

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// withLock runs fn while holding an exclusive lock on the first byte of <target>.lock.
func withLock(target string, fn func() error) error {
	f, err := os.OpenFile(target+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close()

	h := windows.Handle(f.Fd())
	ol := new(windows.Overlapped)
	if err := windows.LockFileEx(h, windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, ol); err != nil {
		return fmt.Errorf("LockFileEx: %w", err)
	}
	defer windows.UnlockFileEx(h, 0, 1, 0, ol) //nolint:errcheck

	return fn()
}
