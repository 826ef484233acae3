package redisrepo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idemPending = "LOCK"
	idemResult  = "RES:"
)

// IdempotencyStore remembers the response of a request keyed by a client
// supplied Idempotency-Key. A key is either pending (request in flight) or
// holds the stored response.
type IdempotencyStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewIdempotencyStore(rdb redis.Cmdable, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

// Begin marks key as pending. It returns false when the key is already
// pending or holds a result.
func (s *IdempotencyStore) Begin(ctx context.Context, key string, pendingTTL time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, idemPending, pendingTTL).Result()
}

func (s *IdempotencyStore) SaveResult(ctx context.Context, key string, payload []byte) error {
	return s.rdb.Set(ctx, key, idemResult+string(payload), s.ttl).Err()
}

// GetResult returns the stored response for key, if any.
func (s *IdempotencyStore) GetResult(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if !strings.HasPrefix(v, idemResult) {
		return nil, false, nil
	}

	return []byte(strings.TrimPrefix(v, idemResult)), true, nil
}

// Abort drops a pending key so that the client can retry.
func (s *IdempotencyStore) Abort(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
