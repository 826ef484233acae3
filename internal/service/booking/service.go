// Package booking runs the reservation saga: seats are locked in the lock
// store and the ledger, priced, paid for and finally confirmed or released.
// There is no transaction spanning those steps; each failure runs the
// compensations for the steps that already succeeded.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/showbook/internal/catalog"
	"github.com/kirinyoku/showbook/internal/domain"
	"github.com/kirinyoku/showbook/internal/payment"
	"github.com/kirinyoku/showbook/internal/queue"
	"github.com/kirinyoku/showbook/internal/repository"
	postgresrepo "github.com/kirinyoku/showbook/internal/repository/postgres"
	"go.uber.org/zap"
)

// Catalog is the seat side of the saga.
type Catalog interface {
	Snapshot(ctx context.Context, showID int64) (*domain.ShowSnapshot, error)
	LockSeats(ctx context.Context, showID int64, seatIDs []int64, userID int64, ttl time.Duration, holdRef string) (*catalog.LockResult, error)
	ConfirmSeats(ctx context.Context, showID int64, seatIDs []int64, userID int64, bookingRef string) (*catalog.ConfirmResult, error)
	ReleaseSeats(ctx context.Context, showID int64, seatIDs []int64, userID int64, holdRef string) error
	ReleaseBookedSeats(ctx context.Context, showID int64, seatIDs []int64, bookingRef string) error
}

// Locker guards seats while a booking is being negotiated.
type Locker interface {
	Acquire(ctx context.Context, keys []string, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, keys []string, token string) error
	Extend(ctx context.Context, keys []string, token string, ttl time.Duration) (bool, error)
}

type PaymentGateway interface {
	Charge(ctx context.Context, req payment.ChargeRequest) (*payment.Result, error)
	Refund(ctx context.Context, req payment.RefundRequest) (*payment.Result, error)
}

// Repository persists bookings. Every Mark* call is a guarded transition
// that fails with repository.ErrStaleState when the booking is no longer in
// the expected state.
type Repository interface {
	Create(ctx context.Context, b *domain.Booking) error
	GetByNumber(ctx context.Context, number string) (*domain.Booking, error)
	ListByUser(ctx context.Context, userID int64, status *domain.BookingStatus) ([]domain.Booking, error)
	ListExpiredPending(ctx context.Context, now, stalledBefore time.Time, limit int) ([]domain.Booking, error)
	ListStalledCancellations(ctx context.Context, stalledBefore time.Time, limit int) ([]domain.Booking, error)
	ClaimPayment(ctx context.Context, id int64, now time.Time) error
	MarkPaymentFailed(ctx context.Context, id int64, now time.Time) error
	MarkConfirmed(ctx context.Context, id int64, method domain.PaymentMethod, transactionID string, paidAt time.Time) error
	MarkExpired(ctx context.Context, id int64, now, stalledBefore time.Time) error
	ClaimCancellation(ctx context.Context, c postgresrepo.CancelClaim) error
	ReclaimCancellation(ctx context.Context, id int64, stalledBefore, now time.Time) error
	RevertCancellation(ctx context.Context, id int64, status domain.BookingStatus, now time.Time) error
	MarkCancelled(ctx context.Context, p postgresrepo.CancelParams) error
}

// ReconciliationQueue receives seat confirmations that must be retried after
// the payment went through.
type ReconciliationQueue interface {
	PublishSeatConfirmationRetry(ctx context.Context, ev queue.SeatConfirmationRetry) error
}

type Config struct {
	LockTTL         time.Duration
	Pricing         domain.Pricing
	PaymentTimeout  time.Duration
	ExpireBatchSize int
	// StallTimeout is how long a payment or cancellation claim may go
	// without progress before the sweepers take the booking over.
	StallTimeout time.Duration
	Now          func() time.Time
}

type Service struct {
	repo     Repository
	catalog  Catalog
	locker   Locker
	payments PaymentGateway
	retries  ReconciliationQueue
	log      *zap.Logger
	cfg      Config
}

func New(
	repo Repository,
	cat Catalog,
	locker Locker,
	payments PaymentGateway,
	retries ReconciliationQueue,
	log *zap.Logger,
	cfg Config,
) *Service {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 300 * time.Second
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = 10 * time.Second
	}
	if cfg.ExpireBatchSize <= 0 {
		cfg.ExpireBatchSize = 200
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = cfg.PaymentTimeout + time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		repo:     repo,
		catalog:  cat,
		locker:   locker,
		payments: payments,
		retries:  retries,
		log:      log.With(zap.String("service", "booking")),
		cfg:      cfg,
	}
}

// Get returns a booking by its number.
func (s *Service) Get(ctx context.Context, bookingNumber string) (*domain.Booking, error) {
	const op = "service.booking.Get"

	b, err := s.load(ctx, bookingNumber)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

// ListByUser returns the user's bookings newest first. A nil status returns
// all of them.
func (s *Service) ListByUser(
	ctx context.Context,
	userID int64,
	status *domain.BookingStatus,
) ([]domain.Booking, error) {
	const op = "service.booking.ListByUser"

	bookings, err := s.repo.ListByUser(ctx, userID, status)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return bookings, nil
}

func (s *Service) load(ctx context.Context, bookingNumber string) (*domain.Booking, error) {
	b, err := s.repo.GetByNumber(ctx, bookingNumber)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	return b, nil
}

// catalogErr maps a catalog failure onto the booking error set.
func catalogErr(err error) error {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrSeatNotFound, err)
	case errors.Is(err, catalog.ErrConflict), errors.Is(err, catalog.ErrInvalid):
		return fmt.Errorf("%w: %w", ErrSeatUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
