package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirinyoku/showbook/internal/domain"
	"github.com/kirinyoku/showbook/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memSeats mirrors the compare-and-set semantics of the SQL repository.
type memSeats struct {
	mu    sync.Mutex
	seats map[int64]*domain.ShowSeat
}

func newMemSeats(showID int64, n int, price int64) *memSeats {
	m := &memSeats{seats: map[int64]*domain.ShowSeat{}}
	for i := 1; i <= n; i++ {
		id := int64(i)
		m.seats[id] = &domain.ShowSeat{
			ID:         id,
			ShowID:     showID,
			SeatID:     100 + id,
			Row:        "A",
			Number:     i,
			Label:      "A" + string(rune('0'+i)),
			Category:   "GOLD",
			Status:     domain.SeatAvailable,
			PriceCents: price,
		}
	}
	return m
}

func (m *memSeats) ListByShow(_ context.Context, showID int64) ([]domain.ShowSeat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.ShowSeat
	for i := int64(1); i <= int64(len(m.seats)); i++ {
		if s := m.seats[i]; s.ShowID == showID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memSeats) Lock(_ context.Context, showID int64, ids []int64, userID int64, holdRef string, now, until time.Time) ([]domain.ShowSeat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.ShowSeat
	for _, id := range ids {
		s, ok := m.seats[id]
		if !ok || s.ShowID != showID {
			continue
		}
		if s.Status == domain.SeatAvailable || (s.Status == domain.SeatLocked && s.LockedUntil.Before(now)) {
			u, lu, la := userID, until, now
			s.Status, s.LockedByUserID, s.LockedUntil, s.LockedAt = domain.SeatLocked, &u, &lu, &la
			s.HoldRef = nil
			if holdRef != "" {
				h := holdRef
				s.HoldRef = &h
			}
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memSeats) Confirm(_ context.Context, showID int64, ids []int64, userID int64, ref string, now time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []int64
	for _, id := range ids {
		s, ok := m.seats[id]
		if !ok || s.ShowID != showID {
			continue
		}
		lockedByUser := s.Status == domain.SeatLocked && *s.LockedByUserID == userID && !s.LockedUntil.Before(now)
		alreadyBooked := s.Status == domain.SeatBooked && *s.BookingRef == ref
		if lockedByUser || alreadyBooked {
			u, r := userID, ref
			s.Status, s.BookedByUserID, s.BookingRef = domain.SeatBooked, &u, &r
			s.LockedByUserID, s.LockedUntil, s.LockedAt, s.HoldRef = nil, nil, nil, nil
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memSeats) ReleaseLocked(_ context.Context, showID int64, ids []int64, userID int64, holdRef string, _ time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []int64
	for _, id := range ids {
		s, ok := m.seats[id]
		if !ok || s.ShowID != showID || s.Status != domain.SeatLocked || *s.LockedByUserID != userID {
			continue
		}
		if holdRef != "" && (s.HoldRef == nil || *s.HoldRef != holdRef) {
			continue
		}
		s.Status, s.LockedByUserID, s.LockedUntil, s.LockedAt, s.HoldRef = domain.SeatAvailable, nil, nil, nil, nil
		out = append(out, id)
	}
	return out, nil
}

func (m *memSeats) ReleaseBooked(_ context.Context, showID int64, ids []int64, ref string, _ time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []int64
	for _, id := range ids {
		s, ok := m.seats[id]
		if ok && s.ShowID == showID && s.Status == domain.SeatBooked && (ref == "" || *s.BookingRef == ref) {
			s.Status, s.BookedByUserID, s.BookingRef = domain.SeatAvailable, nil, nil
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memSeats) ReleaseExpiredLocks(_ context.Context, now time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []int64
	for _, s := range m.seats {
		if s.Status == domain.SeatLocked && s.LockedUntil.Before(now) {
			s.Status, s.LockedByUserID, s.LockedUntil, s.LockedAt, s.HoldRef = domain.SeatAvailable, nil, nil, nil, nil
			out = append(out, s.ShowID)
		}
	}
	return out, nil
}

type memShows map[int64]*domain.Show

func (m memShows) Get(_ context.Context, id int64) (*domain.Show, error) {
	s, ok := m[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

type recorder struct {
	invalidated atomic.Int32
	published   atomic.Int32
}

func (r *recorder) InvalidateShow(context.Context, int64) error {
	r.invalidated.Add(1)
	return nil
}

func (r *recorder) PublishSeatsChanged(context.Context, int64, []int64, string) error {
	r.published.Add(1)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

const showID = 1

func newLedger(t *testing.T) (*Service, *memSeats, *clock, *recorder) {
	t.Helper()

	clk := &clock{now: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
	seats := newMemSeats(showID, 5, 10000)
	shows := memShows{
		showID: {ID: showID, Status: domain.ShowOpen, ShowTime: clk.now.Add(48 * time.Hour)},
		2:      {ID: 2, Status: domain.ShowCancelled, ShowTime: clk.now.Add(48 * time.Hour)},
	}
	rec := &recorder{}

	return New(seats, shows, rec, rec, zap.NewNop(), Config{Now: clk.Now}), seats, clk, rec
}

func TestLockAcceptsAvailableSeats(t *testing.T) {
	l, _, clk, rec := newLedger(t)

	res, err := l.Lock(context.Background(), LockRequest{ShowID: showID, SeatIDs: []int64{1, 2, 2}, UserID: 7, TTL: 5 * time.Minute})
	require.NoError(t, err)

	assert.True(t, res.Complete())
	assert.Equal(t, []int64{1, 2}, res.LockedSeatIDs)
	assert.Equal(t, []string{"A1", "A2"}, res.LockedSeatLabels)
	assert.EqualValues(t, 20000, res.TotalPriceCents)
	assert.Equal(t, clk.Now().Add(5*time.Minute), res.LockExpiresAt)
	assert.EqualValues(t, 1, rec.invalidated.Load())
	assert.EqualValues(t, 1, rec.published.Load())
}

func TestLockPartialIsReported(t *testing.T) {
	l, _, _, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.Lock(ctx, LockRequest{ShowID: showID, SeatIDs: []int64{2}, UserID: 7, TTL: time.Minute})
	require.NoError(t, err)

	res, err := l.Lock(ctx, LockRequest{ShowID: showID, SeatIDs: []int64{1, 2, 3}, UserID: 8, TTL: time.Minute})
	require.NoError(t, err)

	assert.False(t, res.Complete())
	assert.Equal(t, []int64{1, 3}, res.LockedSeatIDs)
	assert.Equal(t, []int64{2}, res.Rejected())
}

func TestLockValidation(t *testing.T) {
	l, _, _, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.Lock(ctx, LockRequest{ShowID: showID, UserID: 1, TTL: time.Minute})
	require.ErrorIs(t, err, ErrNoSeatsSelected)

	_, err = l.Lock(ctx, LockRequest{ShowID: 99, SeatIDs: []int64{1}, UserID: 1, TTL: time.Minute})
	require.ErrorIs(t, err, ErrShowNotFound)

	_, err = l.Lock(ctx, LockRequest{ShowID: 2, SeatIDs: []int64{1}, UserID: 1, TTL: time.Minute})
	require.ErrorIs(t, err, ErrShowNotBookable)

	_, err = l.Lock(ctx, LockRequest{ShowID: showID, SeatIDs: []int64{1, 42}, UserID: 1, TTL: time.Minute})
	require.ErrorIs(t, err, ErrSeatsNotFound)
}

func TestConcurrentLockersExactlyOneWins(t *testing.T) {
	l, _, _, _ := newLedger(t)
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for user := int64(1); user <= 50; user++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			res, err := l.Lock(ctx, LockRequest{ShowID: showID, SeatIDs: []int64{3}, UserID: user, TTL: time.Minute})
			assert.NoError(t, err)
			if res != nil && res.Complete() {
				wins.Add(1)
			}
		}(user)
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
}

func TestExpiredLockCanBeRetakenBeforeSweep(t *testing.T) {
	l, seats, clk, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.Lock(ctx, LockRequest{ShowID: showID, SeatIDs: []int64{4}, UserID: 1, TTL: 300 * time.Second})
	require.NoError(t, err)

	clk.Advance(299 * time.Second)
	res, err := l.Lock(ctx, LockRequest{ShowID: showID, SeatIDs: []int64{4}, UserID: 2, TTL: 300 * time.Second})
	require.NoError(t, err)
	assert.False(t, res.Complete())

	clk.Advance(2 * time.Second)
	res, err = l.Lock(ctx, LockRequest{ShowID: showID, SeatIDs: []int64{4}, UserID: 2, TTL: 300 * time.Second})
	require.NoError(t, err)
	assert.True(t, res.Complete())
	assert.EqualValues(t, 2, *seats.seats[4].LockedByUserID)
}

func TestConfirmRequiresOwnLiveLock(t *testing.T) {
	l, _, clk, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.Lock(ctx, LockRequest{ShowID: showID, SeatIDs: []int64{1, 2}, UserID: 7, TTL: time.Minute})
	require.NoError(t, err)

	res, err := l.Confirm(ctx, ConfirmRequest{ShowID: showID, SeatIDs: []int64{1, 2}, UserID: 8, BookingRef: "BMS-X"})
	require.NoError(t, err)
	assert.Empty(t, res.Confirmed)
	assert.Equal(t, []int64{1, 2}, res.Rejected)

	res, err = l.Confirm(ctx, ConfirmRequest{ShowID: showID, SeatIDs: []int64{1, 2}, UserID: 7, BookingRef: "BMS-X"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, res.Confirmed)
	assert.Empty(t, res.Rejected)

	res, err = l.Confirm(ctx, ConfirmRequest{ShowID: showID, SeatIDs: []int64{1, 2}, UserID: 7, BookingRef: "BMS-X"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, res.Confirmed, "re-confirming the same booking is idempotent")

	_, err = l.Lock(ctx, LockRequest{ShowID: showID, SeatIDs: []int64{3}, UserID: 7, TTL: time.Minute})
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)

	res, err = l.Confirm(ctx, ConfirmRequest{ShowID: showID, SeatIDs: []int64{3}, UserID: 7, BookingRef: "BMS-Y"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, res.Rejected)

	_, err = l.Confirm(ctx, ConfirmRequest{ShowID: showID, SeatIDs: []int64{3}, UserID: 7})
	require.ErrorIs(t, err, ErrBookingRefNeeded)
}

func TestReleaseOnlyByOwner(t *testing.T) {
	l, seats, _, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.Lock(ctx, LockRequest{ShowID: showID, SeatIDs: []int64{1}, UserID: 7, TTL: time.Minute})
	require.NoError(t, err)

	released, err := l.Release(ctx, showID, []int64{1}, 8, "")
	require.NoError(t, err)
	assert.Empty(t, released)
	assert.Equal(t, domain.SeatLocked, seats.seats[1].Status)

	released, err = l.Release(ctx, showID, []int64{1}, 7, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, released)
	assert.Equal(t, domain.SeatAvailable, seats.seats[1].Status)
}

func TestReleaseTargetsHold(t *testing.T) {
	l, seats, clk, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.Lock(ctx, LockRequest{ShowID: showID, SeatIDs: []int64{2}, UserID: 7, TTL: time.Minute, HoldRef: "first"})
	require.NoError(t, err)

	clk.Advance(61 * time.Second)

	res, err := l.Lock(ctx, LockRequest{ShowID: showID, SeatIDs: []int64{2}, UserID: 7, TTL: time.Minute, HoldRef: "second"})
	require.NoError(t, err)
	require.True(t, res.Complete())

	released, err := l.Release(ctx, showID, []int64{2}, 7, "first")
	require.NoError(t, err)
	assert.Empty(t, released)
	assert.Equal(t, domain.SeatLocked, seats.seats[2].Status)

	released, err = l.Release(ctx, showID, []int64{2}, 7, "second")
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, released)
	assert.Equal(t, domain.SeatAvailable, seats.seats[2].Status)
}

func TestReleaseBookedByReference(t *testing.T) {
	l, seats, _, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.Lock(ctx, LockRequest{ShowID: showID, SeatIDs: []int64{1}, UserID: 7, TTL: time.Minute})
	require.NoError(t, err)
	_, err = l.Confirm(ctx, ConfirmRequest{ShowID: showID, SeatIDs: []int64{1}, UserID: 7, BookingRef: "BMS-A"})
	require.NoError(t, err)

	released, err := l.ReleaseBooked(ctx, showID, []int64{1}, "BMS-B")
	require.NoError(t, err)
	assert.Empty(t, released)

	released, err = l.ReleaseBooked(ctx, showID, []int64{1}, "BMS-A")
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, released)
	assert.Nil(t, seats.seats[1].BookingRef)
}

func TestReleaseExpiredLocks(t *testing.T) {
	l, seats, clk, rec := newLedger(t)
	ctx := context.Background()

	_, err := l.Lock(ctx, LockRequest{ShowID: showID, SeatIDs: []int64{1, 2}, UserID: 7, TTL: time.Minute})
	require.NoError(t, err)
	_, err = l.Lock(ctx, LockRequest{ShowID: showID, SeatIDs: []int64{3}, UserID: 8, TTL: time.Hour})
	require.NoError(t, err)

	before := rec.invalidated.Load()
	clk.Advance(2 * time.Minute)

	n, err := l.ReleaseExpiredLocks(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, domain.SeatAvailable, seats.seats[1].Status)
	assert.Equal(t, domain.SeatLocked, seats.seats[3].Status)
	assert.Equal(t, before+1, rec.invalidated.Load())
}

func TestAvailableIncludesLapsedLocks(t *testing.T) {
	l, _, clk, _ := newLedger(t)
	ctx := context.Background()

	_, err := l.Lock(ctx, LockRequest{ShowID: showID, SeatIDs: []int64{1}, UserID: 7, TTL: time.Minute})
	require.NoError(t, err)

	avail, err := l.Available(ctx, showID)
	require.NoError(t, err)
	assert.Len(t, avail, 4)

	clk.Advance(time.Minute + time.Second)

	avail, err = l.Available(ctx, showID)
	require.NoError(t, err)
	assert.Len(t, avail, 5)
}
