// Package store encrypts, persists, and restores editing sessions at rest.
//
// Security model:
// 1. File permissions: 0600 records in a 0700 directory
// 2. Confidentiality + integrity: AES-256-GCM, fresh random nonce per write
// 3. Durability: temp file + rename, never in-place writes
// 4. Key material is derived per identity and never stored alongside data
//
// Private signing keys are never serialized here; signing capability is
// re-established out of band after any load.
package store

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"easeld/internal/logging"
	"easeld/internal/security"
	"easeld/internal/session"
)

// Store errors.
var (
	// ErrNotFound is returned when no record exists for an identity.
	ErrNotFound = errors.New("store: session record not found")

	// ErrDecryption is returned on authentication failure: the record
	// was tampered with, or the key material is wrong.
	ErrDecryption = errors.New("store: decryption failed")

	// ErrCorruptRecord is returned when the on-disk container cannot
	// even be parsed.
	ErrCorruptRecord = errors.New("store: corrupt record container")
)

// AlgorithmTag identifies the at-rest encryption scheme.
const AlgorithmTag = "aes-256-gcm"

const recordExt = ".esr" // encrypted session record

// EncryptedSessionRecord is the opaque on-disk container. It is
// meaningless without the identity's key material.
type EncryptedSessionRecord struct {
	KeyID      string `json:"key_id"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	Algorithm  string `json:"algorithm"`
}

// Record is the plaintext session state that round-trips through the
// store.
type Record struct {
	ID              string           `json:"id"`
	CreatedAt       time.Time        `json:"created_at"`
	Events          []session.Event  `json:"events"`
	Metadata        session.Metadata `json:"metadata"`
	DrawingTimeSecs int64            `json:"drawing_time_secs"`
}

// RecordInfo describes a record without decrypting it.
type RecordInfo struct {
	Identity string
	Size     int64
	Modified time.Time
}

// Store persists encrypted session records in a single directory.
type Store struct {
	dir    string
	logger *logging.Logger
}

// Open creates or opens a session store directory.
func Open(dir string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &Store{dir: dir, logger: logger.WithComponent("store")}, nil
}

// Persist serializes, encrypts, and atomically writes a session record.
// A fresh random nonce is used for every write.
func (s *Store) Persist(rec *Record, keyMaterial []byte) error {
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("serialize session: %w", err)
	}

	aead, err := newAEAD(keyMaterial)
	if err != nil {
		return err
	}

	nonce := make([]byte, aead.NonceSize())
	if err := security.GenerateSecureRandom(nonce); err != nil {
		return err
	}

	container := EncryptedSessionRecord{
		KeyID:      keyID(keyMaterial),
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, []byte(rec.ID)),
		Algorithm:  AlgorithmTag,
	}
	security.Wipe(plaintext)

	data, err := json.Marshal(container)
	if err != nil {
		return fmt.Errorf("serialize container: %w", err)
	}

	path := s.recordPath(rec.ID)
	unlock, err := lockFile(path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	if err := writeAtomic(path, data); err != nil {
		return err
	}

	s.logger.Debug("session persisted", "identity", rec.ID, "bytes", len(data))
	return nil
}

// Load decrypts and deserializes the record for an identity.
func (s *Store) Load(identity string, keyMaterial []byte) (*Record, error) {
	data, err := os.ReadFile(s.recordPath(identity))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, identity)
		}
		return nil, fmt.Errorf("read record: %w", err)
	}

	var container EncryptedSessionRecord
	if err := json.Unmarshal(data, &container); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if container.Algorithm != AlgorithmTag {
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrCorruptRecord, container.Algorithm)
	}

	// Fingerprint check is diagnostic only; GCM authentication still
	// decides the outcome.
	if !security.SecureCompare([]byte(container.KeyID), []byte(keyID(keyMaterial))) {
		s.logger.Debug("key fingerprint mismatch", "identity", identity, "key_id", container.KeyID)
	}

	aead, err := newAEAD(keyMaterial)
	if err != nil {
		return nil, err
	}
	if len(container.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length %d", ErrCorruptRecord, len(container.Nonce))
	}

	plaintext, err := aead.Open(nil, container.Nonce, container.Ciphertext, []byte(identity))
	if err != nil {
		// GCM authentication failed: tampered ciphertext or wrong key.
		return nil, fmt.Errorf("%w: %s", ErrDecryption, identity)
	}
	defer security.Wipe(plaintext)

	var rec Record
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return &rec, nil
}

// Migrate re-encrypts a record under a new identity and key, then removes
// the old record. The new record is durable before the old one goes away,
// so a crash mid-migration leaves at least one readable copy.
func (s *Store) Migrate(oldIdentity, newIdentity string, oldKey, newKey []byte) error {
	rec, err := s.Load(oldIdentity, oldKey)
	if err != nil {
		return err
	}

	rec.ID = newIdentity
	if err := s.Persist(rec, newKey); err != nil {
		return err
	}

	if err := os.Remove(s.recordPath(oldIdentity)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove old record: %w", err)
	}

	s.logger.Info("session identity migrated", "from", oldIdentity, "to", newIdentity)
	return nil
}

// Delete removes a record. Deleting a persisted session never invalidates
// an already-issued proof; proofs are self-contained.
func (s *Store) Delete(identity string) error {
	err := os.Remove(s.recordPath(identity))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, identity)
	}
	return err
}

// Exists reports whether a record is present for an identity.
func (s *Store) Exists(identity string) bool {
	_, err := os.Stat(s.recordPath(identity))
	return err == nil
}

// Stat returns record metadata without decrypting.
func (s *Store) Stat(identity string) (*RecordInfo, error) {
	info, err := os.Stat(s.recordPath(identity))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, identity)
		}
		return nil, err
	}
	return &RecordInfo{
		Identity: identity,
		Size:     info.Size(),
		Modified: info.ModTime(),
	}, nil
}

// List returns all stored identities.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		out = append(out, strings.TrimSuffix(name, recordExt))
	}
	return out, nil
}

// CleanupOlderThan removes records not modified within maxAge and returns
// how many were deleted.
func (s *Store) CleanupOlderThan(maxAge time.Duration) (int, error) {
	identities, err := s.List()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0
	for _, id := range identities {
		info, err := s.Stat(id)
		if err != nil {
			continue
		}
		if info.Modified.Before(cutoff) {
			if err := s.Delete(id); err == nil {
				deleted++
				s.logger.Debug("stale session removed", "identity", id, "age", time.Since(info.Modified))
			}
		}
	}
	return deleted, nil
}

func (s *Store) recordPath(identity string) string {
	return filepath.Join(s.dir, identity+recordExt)
}

func newAEAD(keyMaterial []byte) (cipher.AEAD, error) {
	key, err := security.DeriveKeyWithLabel(keyMaterial, "session-at-rest", 32)
	if err != nil {
		return nil, err
	}
	defer security.Wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return aead, nil
}

// keyID is a short public fingerprint of the key material, stored in the
// container so a wrong-key load can be diagnosed without weakening GCM's
// authentication (which still decides the outcome).
func keyID(keyMaterial []byte) string {
	h := security.HashDomainSeparated("key-id", keyMaterial)
	return fmt.Sprintf("%x", h[:8])
}

// writeAtomic writes data via a temp file and rename.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err := tmp.Chmod(0600); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
