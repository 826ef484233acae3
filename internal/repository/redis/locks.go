package redisrepo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// KEYS[1] = lock key
// ARGV[1] = owner token
const luaReleaseIfOwner = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// Every key must still hold the token before any TTL is touched.
// KEYS = lock keys
// ARGV[1] = owner token
// ARGV[2] = ttl in milliseconds
const luaExtendIfOwner = `
for i = 1, #KEYS do
  if redis.call('GET', KEYS[i]) ~= ARGV[1] then
    return 0
  end
end
for i = 1, #KEYS do
  redis.call('PEXPIRE', KEYS[i], ARGV[2])
end
return 1
`

// SeatLocks is the Redis store behind the lock coordinator. Each key holds
// the owner token and expires on its own.
type SeatLocks struct {
	rdb     redis.Cmdable
	release *redis.Script
	extend  *redis.Script
}

func NewSeatLocks(rdb redis.Cmdable) *SeatLocks {
	return &SeatLocks{
		rdb:     rdb,
		release: redis.NewScript(luaReleaseIfOwner),
		extend:  redis.NewScript(luaExtendIfOwner),
	}
}

// TryAcquire sets key to token only if the key does not exist.
func (s *SeatLocks) TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, token, ttl).Result()
}

// ReleaseIfOwner deletes key when it still holds token. It reports whether a
// key was deleted.
func (s *SeatLocks) ReleaseIfOwner(ctx context.Context, key, token string) (bool, error) {
	n, err := s.release.Run(ctx, s.rdb, []string{key}, token).Int64()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

// ExtendIfOwner sets a new TTL on every key, or on none of them if any key is
// missing or held by another token.
func (s *SeatLocks) ExtendIfOwner(ctx context.Context, keys []string, token string, ttl time.Duration) (bool, error) {
	if len(keys) == 0 {
		return true, nil
	}

	n, err := s.extend.Run(ctx, s.rdb, keys, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}
