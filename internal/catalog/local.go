package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/showbook/internal/domain"
	"github.com/kirinyoku/showbook/internal/service/ledger"
)

type Ledger interface {
	Snapshot(ctx context.Context, showID int64) (*domain.ShowSnapshot, error)
	Lock(ctx context.Context, req ledger.LockRequest) (*ledger.LockResult, error)
	Confirm(ctx context.Context, req ledger.ConfirmRequest) (*ledger.ConfirmResult, error)
	Release(ctx context.Context, showID int64, seatIDs []int64, requesterID int64, holdRef string) ([]int64, error)
	ReleaseBooked(ctx context.Context, showID int64, seatIDs []int64, bookingRef string) ([]int64, error)
}

// Local calls the ledger in-process. Every call is bounded by timeout.
type Local struct {
	ledger  Ledger
	timeout time.Duration
}

func NewLocal(l Ledger, timeout time.Duration) *Local {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Local{ledger: l, timeout: timeout}
}

func (c *Local) Snapshot(ctx context.Context, showID int64) (*domain.ShowSnapshot, error) {
	const op = "catalog.Local.Snapshot"

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	snap, err := c.ledger.Snapshot(ctx, showID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}

	return snap, nil
}

// LockSeats asks the ledger to lock all seats under holdRef. The ledger may
// accept a subset; when it does the subset is released again and
// ErrConflict is returned, so callers see all or nothing.
func (c *Local) LockSeats(
	ctx context.Context,
	showID int64,
	seatIDs []int64,
	userID int64,
	ttl time.Duration,
	holdRef string,
) (*LockResult, error) {
	const op = "catalog.Local.LockSeats"

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.ledger.Lock(ctx, ledger.LockRequest{
		ShowID:  showID,
		SeatIDs: seatIDs,
		UserID:  userID,
		TTL:     ttl,
		HoldRef: holdRef,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}

	if !res.Complete() {
		if len(res.LockedSeatIDs) > 0 {
			if _, err := c.ledger.Release(context.WithoutCancel(ctx), showID, res.LockedSeatIDs, userID, holdRef); err != nil {
				return nil, fmt.Errorf("%s: partial lock rollback: %w", op, translate(err))
			}
		}
		return nil, fmt.Errorf("%s: %w: seats %v", op, ErrConflict, res.Rejected())
	}

	return &LockResult{
		LockedSeatIDs:    res.LockedSeatIDs,
		LockedSeatLabels: res.LockedSeatLabels,
		LockExpiresAt:    res.LockExpiresAt,
		TotalPriceCents:  res.TotalPriceCents,
	}, nil
}

func (c *Local) ConfirmSeats(
	ctx context.Context,
	showID int64,
	seatIDs []int64,
	userID int64,
	bookingRef string,
) (*ConfirmResult, error) {
	const op = "catalog.Local.ConfirmSeats"

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.ledger.Confirm(ctx, ledger.ConfirmRequest{
		ShowID:     showID,
		SeatIDs:    seatIDs,
		UserID:     userID,
		BookingRef: bookingRef,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}

	return &ConfirmResult{Confirmed: res.Confirmed, Rejected: res.Rejected}, nil
}

// ReleaseSeats frees seats userID holds. A non-empty holdRef frees only
// seats still held under it.
func (c *Local) ReleaseSeats(ctx context.Context, showID int64, seatIDs []int64, userID int64, holdRef string) error {
	const op = "catalog.Local.ReleaseSeats"

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.ledger.Release(ctx, showID, seatIDs, userID, holdRef); err != nil {
		return fmt.Errorf("%s: %w", op, translate(err))
	}

	return nil
}

func (c *Local) ReleaseBookedSeats(ctx context.Context, showID int64, seatIDs []int64, bookingRef string) error {
	const op = "catalog.Local.ReleaseBookedSeats"

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if _, err := c.ledger.ReleaseBooked(ctx, showID, seatIDs, bookingRef); err != nil {
		return fmt.Errorf("%s: %w", op, translate(err))
	}

	return nil
}

// translate maps ledger errors onto the catalog error set and keeps the
// ledger error in the chain.
func translate(err error) error {
	switch {
	case errors.Is(err, ledger.ErrShowNotFound), errors.Is(err, ledger.ErrSeatsNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, ledger.ErrSeatUnavailable), errors.Is(err, ledger.ErrShowNotBookable):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, ledger.ErrNoSeatsSelected), errors.Is(err, ledger.ErrBookingRefNeeded):
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	default:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}
