package session

import (
	"errors"
	"fmt"
	"sync"
)

// Registry errors.
var (
	// ErrIdentityBusy is returned when a second writer tries to open a
	// session identity that is already held.
	ErrIdentityBusy = errors.New("session: identity already held by another writer")

	// ErrIdentityUnknown is returned for operations on an unheld identity.
	ErrIdentityUnknown = errors.New("session: identity not held")
)

// Registry enforces the single-writer-per-identity invariant in-process.
// The on-disk store adds an advisory file lock as a second layer, but the
// registry is authoritative: filesystem locking alone is not relied on.
type Registry struct {
	mu   sync.Mutex
	open map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{open: make(map[string]*Session)}
}

// Acquire registers a session as the sole writer for its identity.
func (r *Registry) Acquire(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := s.ID()
	if _, held := r.open[id]; held {
		return fmt.Errorf("%w: %s", ErrIdentityBusy, id)
	}
	r.open[id] = s
	return nil
}

// Release frees an identity so another writer may acquire it.
func (r *Registry) Release(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.open, identity)
}

// Held reports whether an identity currently has a writer.
func (r *Registry) Held(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, held := r.open[identity]
	return held
}

// Migrate atomically renames a held identity. It is a rename, not a
// copy: the session keeps its event log, the old identity is freed, and
// no second session for the same artifact can appear mid-migration.
func (r *Registry) Migrate(oldIdentity, newIdentity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, held := r.open[oldIdentity]
	if !held {
		return fmt.Errorf("%w: %s", ErrIdentityUnknown, oldIdentity)
	}
	if _, taken := r.open[newIdentity]; taken {
		return fmt.Errorf("%w: %s", ErrIdentityBusy, newIdentity)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.id = newIdentity
	s.mu.Unlock()

	delete(r.open, oldIdentity)
	r.open[newIdentity] = s
	return nil
}
