//go:build linux || darwin || freebsd || netbsd || openbsd

package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLockFileExcludesSecondWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.esr.lock")

	unlock, err := lockFile(path)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := lockFile(path); err == nil {
		t.Fatal("second lock succeeded while held")
	}
	unlock()

	// The path must survive release so every later writer locks the
	// same inode. Unlinking here would allow two holders: one on the
	// orphaned inode, one on a recreated file.
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("lock file removed on release: %v", err)
	}
	unlock2, err := lockFile(path)
	if err != nil {
		t.Fatalf("relock after release: %v", err)
	}
	unlock2()
}
