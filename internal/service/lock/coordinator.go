package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	redisrepo "github.com/kirinyoku/showbook/internal/repository/redis"
	"go.uber.org/zap"
)

// ErrStoreUnavailable means the lock store could not be reached within the
// retry budget. It is distinct from a lock held by someone else, which is
// reported as false with a nil error.
var ErrStoreUnavailable = errors.New("lock store unavailable")

// Store is a key/value store with atomic set-if-absent and token-guarded
// delete and extend.
type Store interface {
	TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseIfOwner(ctx context.Context, key, token string) (bool, error)
	ExtendIfOwner(ctx context.Context, keys []string, token string, ttl time.Duration) (bool, error)
}

type Config struct {
	RetryAttempts int
	RetryDelay    time.Duration
	OpTimeout     time.Duration
}

// Coordinator is an advisory multi-key mutex with per-key TTL. It narrows
// the window in which two clients negotiate the same seats; correctness of
// seat ownership is enforced by the seat ledger.
type Coordinator struct {
	store Store
	cfg   Config
	log   *zap.Logger
}

func New(store Store, cfg Config, log *zap.Logger) *Coordinator {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}

	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}

	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 500 * time.Millisecond
	}

	return &Coordinator{
		store: store,
		cfg:   cfg,
		log:   log.With(zap.String("service", "lock")),
	}
}

// SeatKeys returns the lock keys for the given show seats, in input order.
func SeatKeys(showID int64, seatIDs []int64) []string {
	keys := make([]string, len(seatIDs))
	for i, id := range seatIDs {
		keys[i] = redisrepo.KeySeatLock(showID, id)
	}
	return keys
}

// Acquire takes every key for token, in order. If any key is already held
// the keys taken so far are released and false is returned, so the caller
// never ends up holding a subset.
//
// Parameters:
//   - ctx: request-scoped context.
//   - keys: lock keys, typically from SeatKeys.
//   - token: owner token the keys are set to.
//   - ttl: expiry of each key.
//
// Returns:
//   - bool: true when all keys were acquired.
//   - error: lock.ErrStoreUnavailable if the store failed after retries.
func (c *Coordinator) Acquire(ctx context.Context, keys []string, token string, ttl time.Duration) (bool, error) {
	const op = "service.lock.Acquire"

	acquired := make([]string, 0, len(keys))

	for _, key := range keys {
		var ok bool
		err := c.withRetry(ctx, key, func(ctx context.Context) error {
			var err error
			ok, err = c.store.TryAcquire(ctx, key, token, ttl)
			return err
		})

		if err != nil || !ok {
			// key is included: a lost reply may have set it to our token.
			c.rollback(ctx, append(acquired, key), token)

			if err != nil {
				return false, fmt.Errorf("%s: %w", op, err)
			}

			c.log.Debug("lock held by another owner", zap.String("key", key))

			return false, nil
		}

		acquired = append(acquired, key)
	}

	return true, nil
}

// Release deletes every key still held by token. Keys that expired or were
// taken over are skipped.
func (c *Coordinator) Release(ctx context.Context, keys []string, token string) error {
	const op = "service.lock.Release"

	var errs []error
	for _, key := range keys {
		err := c.withRetry(ctx, key, func(ctx context.Context) error {
			released, err := c.store.ReleaseIfOwner(ctx, key, token)
			if err == nil && !released {
				c.log.Debug("lock not owned on release", zap.String("key", key))
			}
			return err
		})
		if err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s: %w", op, errors.Join(errs...))
	}

	return nil
}

// Extend pushes the expiry of all keys to ttl from now, only if token still
// owns every one of them.
func (c *Coordinator) Extend(ctx context.Context, keys []string, token string, ttl time.Duration) (bool, error) {
	const op = "service.lock.Extend"

	var ok bool
	err := c.withRetry(ctx, "extend", func(ctx context.Context) error {
		var err error
		ok, err = c.store.ExtendIfOwner(ctx, keys, token, ttl)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return ok, nil
}

// withRetry runs fn with a per-attempt timeout. Only store errors are
// retried; a false result from fn's store call is not an error.
func (c *Coordinator) withRetry(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	var err error

	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
		err = fn(opCtx)
		cancel()

		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrStoreUnavailable, ctx.Err())
		}

		c.log.Warn("lock store call failed",
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt < c.cfg.RetryAttempts {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ErrStoreUnavailable, ctx.Err())
			case <-time.After(c.cfg.RetryDelay):
			}
		}
	}

	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func (c *Coordinator) rollback(ctx context.Context, keys []string, token string) {
	if err := c.Release(context.WithoutCancel(ctx), keys, token); err != nil {
		c.log.Warn("lock rollback failed; keys will expire on their own",
			zap.Strings("keys", keys),
			zap.Error(err),
		)
	}
}
