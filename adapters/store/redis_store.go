package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/layer-3/vaultgate/core"
	"github.com/layer-3/vaultgate/ports"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "vaultgate:"

// RedisStore is a Redis implementation of the Store interface
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a new Redis store. An empty prefix selects DefaultRedisPrefix.
func NewRedisStore(client *redis.Client, prefix string) ports.Store {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *RedisStore) nonceKey(key string) string {
	return s.prefix + "nonce:" + key
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return s.prefix + "revoked:" + sessionID
}

// SaveNonce stores the nonce with its expiry as value and as key TTL
func (s *RedisStore) SaveNonce(ctx context.Context, key string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("nonce already expired: %w", core.ErrStoreOperationFailed)
	}

	value := strconv.FormatInt(expiresAt.UnixNano(), 10)
	if err := s.client.Set(ctx, s.nonceKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save nonce: %v: %w", err, core.ErrStoreOperationFailed)
	}

	return nil
}

// ConsumeNonce removes the nonce with GETDEL so only one caller can observe it
func (s *RedisStore) ConsumeNonce(ctx context.Context, key string) (bool, error) {
	val, err := s.client.GetDel(ctx, s.nonceKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume nonce: %v: %w", err, core.ErrStoreOperationFailed)
	}

	expiresAt, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, nil
	}

	return s.now().UnixNano() < expiresAt, nil
}

// InvalidateSession marks a session as revoked in Redis
func (s *RedisStore) InvalidateSession(ctx context.Context, sessionID string, expiry time.Duration) error {
	if expiry <= 0 {
		return nil
	}

	if err := s.client.Set(ctx, s.sessionKey(sessionID), "1", expiry).Err(); err != nil {
		return fmt.Errorf("failed to invalidate session: %v: %w", err, core.ErrStoreOperationFailed)
	}

	return nil
}

// IsSessionInvalidated checks if a session is revoked in Redis
func (s *RedisStore) IsSessionInvalidated(ctx context.Context, sessionID string) (bool, error) {
	val, err := s.client.Exists(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session invalidation: %v: %w", err, core.ErrStoreOperationFailed)
	}

	return val > 0, nil
}
