package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/layer-3/vaultgate/core"
	"github.com/layer-3/vaultgate/ports"
)

const (
	DefaultNonceTTL  = 5 * time.Minute
	DefaultNonceSize = 16
	MinNonceSize     = 16
	MaxNonceSize     = 64
)

// NonceIssuer creates single-use nonces bound to a session scope
type NonceIssuer struct {
	store ports.NonceStore
	rand  io.Reader
	ttl   time.Duration
	size  int
	now   func() time.Time
}

// NewNonceIssuer creates a nonce issuer. Zero ttl or size select the defaults,
// sizes outside MinNonceSize..MaxNonceSize are clamped.
func NewNonceIssuer(store ports.NonceStore, ttl time.Duration, size int) *NonceIssuer {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	switch {
	case size == 0:
		size = DefaultNonceSize
	case size < MinNonceSize:
		size = MinNonceSize
	case size > MaxNonceSize:
		size = MaxNonceSize
	}
	return &NonceIssuer{
		store: store,
		rand:  rand.Reader,
		ttl:   ttl,
		size:  size,
		now:   time.Now,
	}
}

func nonceKey(scope, value string) string {
	return scope + ":" + value
}

// Issue stores a fresh nonce for scope
func (n *NonceIssuer) Issue(ctx context.Context, scope string) (core.Nonce, error) {
	if scope == "" {
		return core.Nonce{}, core.ErrNonceScopeMissing
	}

	buf := make([]byte, n.size)
	if _, err := io.ReadFull(n.rand, buf); err != nil {
		return core.Nonce{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := n.now()
	nonce := core.Nonce{
		Value:     hex.EncodeToString(buf),
		Scope:     scope,
		IssuedAt:  now,
		ExpiresAt: now.Add(n.ttl),
	}

	if err := n.store.SaveNonce(ctx, nonceKey(scope, nonce.Value), nonce.ExpiresAt); err != nil {
		return core.Nonce{}, fmt.Errorf("failed to save nonce: %w", err)
	}

	return nonce, nil
}

// ValidateAndConsume succeeds at most once per issued nonce
func (n *NonceIssuer) ValidateAndConsume(ctx context.Context, scope, value string) error {
	if scope == "" {
		return core.ErrNonceScopeMissing
	}
	if value == "" {
		return core.ErrNonceMissingOrExpired
	}

	ok, err := n.store.ConsumeNonce(ctx, nonceKey(scope, value))
	if err != nil {
		return fmt.Errorf("failed to consume nonce: %w", err)
	}
	if !ok {
		return core.ErrNonceMissingOrExpired
	}

	return nil
}
