package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/vaultgate/ports"
)

// MemoryStore is an in-memory implementation of the Store interface
type MemoryStore struct {
	nonces   map[string]time.Time
	sessions map[string]time.Time
	mu       sync.Mutex
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() ports.Store {
	return newMemoryStore(time.Now)
}

func newMemoryStore(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		nonces:   make(map[string]time.Time),
		sessions: make(map[string]time.Time),
		now:      now,
	}
}

// SaveNonce records a nonce until expiresAt
func (s *MemoryStore) SaveNonce(ctx context.Context, key string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purge()
	s.nonces[key] = expiresAt

	return nil
}

// ConsumeNonce deletes the nonce and reports whether it was still valid
func (s *MemoryStore) ConsumeNonce(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, exists := s.nonces[key]
	if !exists {
		return false, nil
	}
	delete(s.nonces, key)

	return s.now().Before(expiresAt), nil
}

// InvalidateSession marks a session as revoked
func (s *MemoryStore) InvalidateSession(ctx context.Context, sessionID string, expiry time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purge()

	expiryTime := s.now().Add(expiry)
	// Keep the later expiry if the session was already revoked
	if stored, exists := s.sessions[sessionID]; exists && stored.After(expiryTime) {
		return nil
	}
	s.sessions[sessionID] = expiryTime

	return nil
}

// IsSessionInvalidated checks if a session is revoked
func (s *MemoryStore) IsSessionInvalidated(ctx context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiryTime, exists := s.sessions[sessionID]
	if !exists {
		return false, nil
	}

	if !s.now().Before(expiryTime) {
		delete(s.sessions, sessionID)
		return false, nil
	}

	return true, nil
}

// purge drops expired entries; callers hold the lock
func (s *MemoryStore) purge() {
	now := s.now()
	for key, expiresAt := range s.nonces {
		if !now.Before(expiresAt) {
			delete(s.nonces, key)
		}
	}
	for id, expiresAt := range s.sessions {
		if !now.Before(expiresAt) {
			delete(s.sessions, id)
		}
	}
}
