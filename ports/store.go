package ports

import (
	"context"
	"time"
)

// NonceStore keeps issued sign-in nonces until they are consumed or expire
type NonceStore interface {
	SaveNonce(ctx context.Context, key string, expiresAt time.Time) error
	// ConsumeNonce atomically removes the nonce and reports whether it existed and was unexpired
	ConsumeNonce(ctx context.Context, key string) (bool, error)
}

// SessionStore interface for session invalidation
type SessionStore interface {
	InvalidateSession(ctx context.Context, sessionID string, expiry time.Duration) error
	IsSessionInvalidated(ctx context.Context, sessionID string) (bool, error)
}

// Store is the shared state of the auth service
type Store interface {
	NonceStore
	SessionStore
}
