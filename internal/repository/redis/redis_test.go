package redisrepo

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, rdb
}

func TestSeatLocksAcquireAndRelease(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locks := NewSeatLocks(rdb)
	ctx := context.Background()
	key := KeySeatLock(1, 10)

	ok, err := locks.TryAcquire(ctx, key, "tok-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = locks.TryAcquire(ctx, key, "tok-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := locks.ReleaseIfOwner(ctx, key, "tok-b")
	require.NoError(t, err)
	assert.False(t, released)
	assert.True(t, mr.Exists(key))

	released, err = locks.ReleaseIfOwner(ctx, key, "tok-a")
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, mr.Exists(key))
}

func TestSeatLocksExpire(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locks := NewSeatLocks(rdb)
	ctx := context.Background()
	key := KeySeatLock(1, 11)

	ok, err := locks.TryAcquire(ctx, key, "tok-a", 300*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(301 * time.Second)

	ok, err = locks.TryAcquire(ctx, key, "tok-b", 300*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSeatLocksExtendIsAllOrNothing(t *testing.T) {
	mr, rdb := newTestRedis(t)
	locks := NewSeatLocks(rdb)
	ctx := context.Background()

	k1, k2 := KeySeatLock(2, 1), KeySeatLock(2, 2)
	_, _ = locks.TryAcquire(ctx, k1, "mine", time.Minute)
	_, _ = locks.TryAcquire(ctx, k2, "theirs", time.Minute)

	ok, err := locks.ExtendIfOwner(ctx, []string{k1, k2}, "mine", 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.LessOrEqual(t, mr.TTL(k1), time.Minute)

	require.NoError(t, rdb.Set(ctx, k2, "mine", time.Minute).Err())

	ok, err = locks.ExtendIfOwner(ctx, []string{k1, k2}, "mine", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10*time.Minute, mr.TTL(k1))
	assert.Equal(t, 10*time.Minute, mr.TTL(k2))
}

func TestKeySeatLock(t *testing.T) {
	assert.Equal(t, "lock:seat:7:42", KeySeatLock(7, 42))
}

type layout struct {
	Rows int `json:"rows"`
}

func TestGetOrSetJSONLoadsOnce(t *testing.T) {
	_, rdb := newTestRedis(t)
	cache := NewCache(rdb)
	ctx := context.Background()

	var loads atomic.Int32
	loader := func(ctx context.Context) (layout, error) {
		loads.Add(1)
		return layout{Rows: 12}, nil
	}

	for i := 0; i < 3; i++ {
		v, err := GetOrSetJSON(ctx, cache, KeyShowLayout(5), time.Minute, loader)
		require.NoError(t, err)
		assert.Equal(t, 12, v.Rows)
	}
	assert.EqualValues(t, 1, loads.Load())

	require.NoError(t, cache.InvalidateShow(ctx, 5))

	_, err := GetOrSetJSON(ctx, cache, KeyShowLayout(5), time.Minute, loader)
	require.NoError(t, err)
	assert.EqualValues(t, 2, loads.Load())
}

func TestGetOrSetJSONLoaderError(t *testing.T) {
	_, rdb := newTestRedis(t)
	cache := NewCache(rdb)
	boom := errors.New("boom")

	_, err := GetOrSetJSON(context.Background(), cache, KeyShowAvailability(1), time.Minute,
		func(ctx context.Context) (layout, error) { return layout{}, boom })
	require.ErrorIs(t, err, boom)

	_, ok, err := GetJSON[layout](context.Background(), cache, KeyShowAvailability(1))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdempotencyStore(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewIdempotencyStore(rdb, time.Hour)
	ctx := context.Background()
	key := KeyIdemInitiate(9, "abc")

	ok, err := store.Begin(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Begin(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	_, found, err := store.GetResult(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SaveResult(ctx, key, []byte(`{"booking_number":"BMS-1"}`)))

	payload, found, err := store.GetResult(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"booking_number":"BMS-1"}`, string(payload))

	require.NoError(t, store.Abort(ctx, key))
	ok, err = store.Begin(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSlidingWindowLimiter(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := NewSlidingWindowLimiter(rdb, "initiate", 2, time.Minute)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.EqualValues(t, 3, d.Count)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, time.Minute)

	d, err = limiter.Allow(ctx, "user:2")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}
