package booking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kirinyoku/showbook/internal/catalog"
	"github.com/kirinyoku/showbook/internal/domain"
	"github.com/kirinyoku/showbook/internal/payment"
	"github.com/kirinyoku/showbook/internal/queue"
	"github.com/kirinyoku/showbook/internal/repository"
	postgresrepo "github.com/kirinyoku/showbook/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/showbook/internal/repository/redis"
	"github.com/kirinyoku/showbook/internal/service/lock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const testShowID = int64(1)

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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memRepo keeps bookings in memory and applies the same guards as the SQL
// transitions.
type memRepo struct {
	mu        sync.Mutex
	nextID    int64
	byNumber  map[string]*domain.Booking
	conflicts int
	creates   int
	createErr error

	// beforeCancelClaim runs outside the lock just before a cancellation
	// claim is applied.
	beforeCancelClaim func()
}

func newMemRepo() *memRepo {
	return &memRepo{byNumber: map[string]*domain.Booking{}}
}

func clone(b *domain.Booking) *domain.Booking {
	cp := *b
	cp.Items = append([]domain.BookingItem(nil), b.Items...)
	return &cp
}

func (r *memRepo) Create(_ context.Context, b *domain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.creates++
	if r.createErr != nil {
		return r.createErr
	}
	if r.conflicts > 0 {
		r.conflicts--
		return repository.ErrConflict
	}
	if _, ok := r.byNumber[b.BookingNumber]; ok {
		return repository.ErrConflict
	}

	r.nextID++
	b.ID = r.nextID
	r.byNumber[b.BookingNumber] = clone(b)

	return nil
}

func (r *memRepo) GetByNumber(_ context.Context, number string) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byNumber[number]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(b), nil
}

func (r *memRepo) ListByUser(_ context.Context, userID int64, status *domain.BookingStatus) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Booking
	for _, b := range r.byNumber {
		if b.UserID == userID && (status == nil || b.Status == *status) {
			out = append(out, *clone(b))
		}
	}
	return out, nil
}

func (r *memRepo) ListExpiredPending(_ context.Context, now, stalledBefore time.Time, limit int) ([]domain.Booking, error) {
	return r.list(limit, func(b *domain.Booking) bool {
		if b.Status != domain.BookingPending {
			return false
		}
		if b.PaymentStatus == domain.PaymentProcessing {
			return b.UpdatedAt.Before(stalledBefore)
		}
		return b.LockExpiresAt.Before(now)
	})
}

func (r *memRepo) ListStalledCancellations(_ context.Context, stalledBefore time.Time, limit int) ([]domain.Booking, error) {
	return r.list(limit, func(b *domain.Booking) bool {
		return b.Status == domain.BookingCancelling && b.UpdatedAt.Before(stalledBefore)
	})
}

func (r *memRepo) list(limit int, match func(b *domain.Booking) bool) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Booking
	for _, b := range r.byNumber {
		if len(out) == limit {
			break
		}
		if match(b) {
			out = append(out, *clone(b))
		}
	}
	return out, nil
}

func (r *memRepo) update(id int64, fn func(b *domain.Booking) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range r.byNumber {
		if b.ID == id {
			if !fn(b) {
				return repository.ErrStaleState
			}
			return nil
		}
	}
	return repository.ErrStaleState
}

func (r *memRepo) ClaimPayment(_ context.Context, id int64, now time.Time) error {
	return r.update(id, func(b *domain.Booking) bool {
		if b.Status != domain.BookingPending ||
			(b.PaymentStatus != domain.PaymentPending && b.PaymentStatus != domain.PaymentFailed) {
			return false
		}
		b.PaymentStatus, b.UpdatedAt = domain.PaymentProcessing, now
		return true
	})
}

func (r *memRepo) MarkPaymentFailed(_ context.Context, id int64, now time.Time) error {
	return r.update(id, func(b *domain.Booking) bool {
		if b.PaymentStatus != domain.PaymentProcessing {
			return false
		}
		b.PaymentStatus, b.UpdatedAt = domain.PaymentFailed, now
		return true
	})
}

func (r *memRepo) MarkConfirmed(_ context.Context, id int64, method domain.PaymentMethod, txn string, paidAt time.Time) error {
	return r.update(id, func(b *domain.Booking) bool {
		if b.Status != domain.BookingPending || b.PaymentStatus != domain.PaymentProcessing {
			return false
		}
		b.Status, b.PaymentStatus, b.PaymentMethod = domain.BookingConfirmed, domain.PaymentCompleted, method
		b.PaymentTransactionID, b.PaidAt, b.UpdatedAt = &txn, &paidAt, paidAt
		return true
	})
}

func (r *memRepo) MarkExpired(_ context.Context, id int64, now, stalledBefore time.Time) error {
	return r.update(id, func(b *domain.Booking) bool {
		if b.Status != domain.BookingPending {
			return false
		}
		if b.PaymentStatus == domain.PaymentProcessing {
			if !b.UpdatedAt.Before(stalledBefore) {
				return false
			}
			b.PaymentStatus = domain.PaymentFailed
		}
		b.Status, b.UpdatedAt = domain.BookingExpired, now
		return true
	})
}

func (r *memRepo) ClaimCancellation(_ context.Context, c postgresrepo.CancelClaim) error {
	if r.beforeCancelClaim != nil {
		r.beforeCancelClaim()
	}

	return r.update(c.ID, func(b *domain.Booking) bool {
		if b.Status != c.FromStatus || b.PaymentStatus != c.FromPaymentStatus ||
			!b.Cancellable() || b.PaymentStatus == domain.PaymentProcessing {
			return false
		}
		b.Status, b.UpdatedAt = domain.BookingCancelling, c.At
		if c.Reason != "" {
			reason := c.Reason
			b.CancellationReason = &reason
		}
		return true
	})
}

func (r *memRepo) ReclaimCancellation(_ context.Context, id int64, stalledBefore, now time.Time) error {
	return r.update(id, func(b *domain.Booking) bool {
		if b.Status != domain.BookingCancelling || !b.UpdatedAt.Before(stalledBefore) {
			return false
		}
		b.UpdatedAt = now
		return true
	})
}

func (r *memRepo) RevertCancellation(_ context.Context, id int64, status domain.BookingStatus, now time.Time) error {
	return r.update(id, func(b *domain.Booking) bool {
		if b.Status != domain.BookingCancelling {
			return false
		}
		b.Status, b.CancellationReason, b.UpdatedAt = status, nil, now
		return true
	})
}

func (r *memRepo) MarkCancelled(_ context.Context, p postgresrepo.CancelParams) error {
	return r.update(p.ID, func(b *domain.Booking) bool {
		if b.Status != domain.BookingCancelling || b.PaymentStatus != p.FromPaymentStatus {
			return false
		}
		b.Status, b.PaymentStatus, b.RefundCents = domain.BookingCancelled, p.PaymentStatus, p.RefundCents
		at := p.CancelledAt
		b.CancelledAt, b.UpdatedAt = &at, at
		return true
	})
}

func (r *memRepo) get(t *testing.T, number string) *domain.Booking {
	t.Helper()
	b, err := r.GetByNumber(context.Background(), number)
	if err != nil {
		t.Fatalf("booking %s: %v", number, err)
	}
	return b
}

// memCatalog is an all-or-nothing seat catalog over a single show.
type memCatalog struct {
	mu    sync.Mutex
	clk   *clock
	show  domain.Show
	seats map[int64]*domain.ShowSeat

	snapshotErr error
	lockErr     error
	confirmErr  error
	rejectAll   bool
	releaseErr  error

	released       [][]int64
	releasedBooked []string
	confirms       atomic.Int32
}

func newMemCatalog(clk *clock) *memCatalog {
	c := &memCatalog{
		clk: clk,
		show: domain.Show{
			ID:        testShowID,
			EventID:   10,
			VenueID:   20,
			Title:     "Hamlet",
			VenueName: "Globe",
			ShowTime:  clk.Now().Add(72 * time.Hour),
			Status:    domain.ShowOpen,
		},
		seats: map[int64]*domain.ShowSeat{},
	}

	prices := []int64{15000, 10000, 10000, 10000, 10000, 10000}
	for i, p := range prices {
		id := int64(i + 1)
		c.seats[id] = &domain.ShowSeat{
			ID:         id,
			ShowID:     testShowID,
			SeatID:     100 + id,
			Row:        "A",
			Number:     i + 1,
			Label:      "A" + string(rune('1'+i)),
			Category:   "GOLD",
			Status:     domain.SeatAvailable,
			PriceCents: p,
		}
	}

	return c
}

func (c *memCatalog) Snapshot(_ context.Context, showID int64) (*domain.ShowSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshotErr != nil {
		return nil, c.snapshotErr
	}
	if showID != c.show.ID {
		return nil, catalog.ErrNotFound
	}

	snap := &domain.ShowSnapshot{Show: c.show}
	for i := int64(1); i <= int64(len(c.seats)); i++ {
		snap.Seats = append(snap.Seats, *c.seats[i])
	}
	return snap, nil
}

func (c *memCatalog) LockSeats(_ context.Context, _ int64, ids []int64, userID int64, ttl time.Duration, holdRef string) (*catalog.LockResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lockErr != nil {
		return nil, c.lockErr
	}

	now := c.clk.Now()
	for _, id := range ids {
		if !c.seats[id].Available(now) {
			return nil, catalog.ErrConflict
		}
	}

	until := now.Add(ttl)
	res := &catalog.LockResult{LockExpiresAt: until}
	for _, id := range ids {
		s := c.seats[id]
		u, h := userID, holdRef
		s.Status, s.LockedByUserID, s.LockedUntil, s.HoldRef = domain.SeatLocked, &u, &until, &h
		res.LockedSeatIDs = append(res.LockedSeatIDs, id)
		res.LockedSeatLabels = append(res.LockedSeatLabels, s.Label)
		res.TotalPriceCents += s.PriceCents
	}
	return res, nil
}

func (c *memCatalog) ConfirmSeats(_ context.Context, _ int64, ids []int64, userID int64, ref string) (*catalog.ConfirmResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.confirms.Add(1)
	if c.confirmErr != nil {
		return nil, c.confirmErr
	}

	res := &catalog.ConfirmResult{}
	for _, id := range ids {
		s := c.seats[id]
		ok := s.Status == domain.SeatLocked && *s.LockedByUserID == userID ||
			s.Status == domain.SeatBooked && *s.BookingRef == ref
		if c.rejectAll || !ok {
			res.Rejected = append(res.Rejected, id)
			continue
		}
		r := ref
		s.Status, s.BookingRef, s.LockedByUserID, s.LockedUntil, s.HoldRef = domain.SeatBooked, &r, nil, nil, nil
		res.Confirmed = append(res.Confirmed, id)
	}
	return res, nil
}

func (c *memCatalog) ReleaseSeats(_ context.Context, _ int64, ids []int64, userID int64, holdRef string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.releaseErr != nil {
		return c.releaseErr
	}

	c.released = append(c.released, ids)
	for _, id := range ids {
		s := c.seats[id]
		if s.Status != domain.SeatLocked || *s.LockedByUserID != userID {
			continue
		}
		if holdRef != "" && (s.HoldRef == nil || *s.HoldRef != holdRef) {
			continue
		}
		s.Status, s.LockedByUserID, s.LockedUntil, s.HoldRef = domain.SeatAvailable, nil, nil, nil
	}
	return nil
}

func (c *memCatalog) ReleaseBookedSeats(_ context.Context, _ int64, ids []int64, ref string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.releaseErr != nil {
		return c.releaseErr
	}

	c.releasedBooked = append(c.releasedBooked, ref)
	for _, id := range ids {
		s := c.seats[id]
		if s.Status == domain.SeatBooked && *s.BookingRef == ref {
			s.Status, s.BookingRef = domain.SeatAvailable, nil
		}
	}
	return nil
}

func (c *memCatalog) seat(id int64) domain.ShowSeat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.seats[id]
}

// gateway wraps the simulator so tests can count charges and inject
// transport failures.
type gateway struct {
	sim         *payment.Simulator
	delay       time.Duration
	refundDelay time.Duration
	onCharge    func()
	chargeErr   error
	refundErr   error
	charges     atomic.Int32
	refunds     atomic.Int32
}

func (g *gateway) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.Result, error) {
	g.charges.Add(1)
	if g.onCharge != nil {
		g.onCharge()
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	return g.sim.Charge(ctx, req)
}

func (g *gateway) Refund(ctx context.Context, req payment.RefundRequest) (*payment.Result, error) {
	g.refunds.Add(1)
	if g.refundDelay > 0 {
		time.Sleep(g.refundDelay)
	}
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return g.sim.Refund(ctx, req)
}

type retryQueue struct {
	mu     sync.Mutex
	events []queue.SeatConfirmationRetry
}

func (q *retryQueue) PublishSeatConfirmationRetry(_ context.Context, ev queue.SeatConfirmationRetry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
	return nil
}

type harness struct {
	svc     *Service
	repo    *memRepo
	catalog *memCatalog
	pay     *gateway
	retries *retryQueue
	mr      *miniredis.Miniredis
	clk     *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clk := &clock{now: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}

	h := &harness{
		repo:    newMemRepo(),
		catalog: newMemCatalog(clk),
		pay:     &gateway{sim: payment.NewSimulator(0, zap.NewNop())},
		retries: &retryQueue{},
		mr:      mr,
		clk:     clk,
	}

	locker := lock.New(redisrepo.NewSeatLocks(rdb), lock.Config{
		RetryAttempts: 1,
		OpTimeout:     time.Second,
	}, zap.NewNop())

	h.svc = New(h.repo, h.catalog, locker, h.pay, h.retries, zap.NewNop(), Config{
		LockTTL:         300 * time.Second,
		Pricing:         domain.NewPricing(2, 18),
		PaymentTimeout:  time.Second,
		ExpireBatchSize: 2,
		Now:             clk.Now,
	})

	return h
}

func (h *harness) lockHeld(showID, seatID int64) bool {
	return h.mr.Exists(lock.SeatKeys(showID, []int64{seatID})[0])
}

var errBoom = errors.New("boom")
