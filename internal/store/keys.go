package store

import (
	"fmt"
	"path/filepath"

	"easeld/internal/security"
)

// Key material derivation for session records.
//
// Temporary sessions (unsaved documents) get key material bound to their
// random identity. Saved documents get key material bound to the
// canonical file path, so reopening a document resumes its session
// without any key registry. Derivation is deterministic; nothing here
// needs to be persisted.

// TemporaryKeyMaterial derives key material for an unsaved session from
// its random identity and the machine secret.
func TemporaryKeyMaterial(machineSecret []byte, sessionID string) []byte {
	h := security.HashDomainSeparated("temp-session", []byte(sessionID))
	out := make([]byte, 0, len(machineSecret)+len(h))
	out = append(out, machineSecret...)
	return append(out, h[:]...)
}

// DocumentKeyMaterial derives key material for a saved document from its
// canonical path and the machine secret. Moving or renaming the file
// changes the derived material, which surfaces as ErrNotFound or
// ErrDecryption on resume; callers start a fresh session in that case.
func DocumentKeyMaterial(machineSecret []byte, path string) ([]byte, error) {
	canonical, err := CanonicalPath(path)
	if err != nil {
		return nil, err
	}
	h := security.HashDomainSeparated("document-session", []byte(canonical))
	out := make([]byte, 0, len(machineSecret)+len(h))
	out = append(out, machineSecret...)
	return append(out, h[:]...), nil
}

// DocumentIdentity maps a document path to its stable store identity.
func DocumentIdentity(path string) (string, error) {
	canonical, err := CanonicalPath(path)
	if err != nil {
		return "", err
	}
	h := security.HashDomainSeparated("document-identity", []byte(canonical))
	return fmt.Sprintf("doc-%x", h[:16]), nil
}

// CanonicalPath normalizes a document path so equivalent spellings share
// a session.
func CanonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve document path: %w", err)
	}
	return filepath.Clean(abs), nil
}
