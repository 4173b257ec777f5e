//go:build linux || darwin || freebsd || netbsd || openbsd

package store

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockFile takes a non-blocking exclusive advisory lock. A second writer
// on the same record fails fast instead of corrupting it.
//
// The lock file is left in place on release. Unlinking it would let a
// writer that opened the path earlier flock the orphaned inode while a
// later writer locks a fresh file at the same path.
func lockFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("record locked by another writer: %w", err)
	}
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}
