//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package store

// lockFile is a no-op where advisory flock is unavailable. The session
// registry already enforces a single writer per identity in-process.
func lockFile(path string) (func(), error) {
	return func() {}, nil
}
