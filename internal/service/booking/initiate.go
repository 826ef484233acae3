package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/showbook/internal/catalog"
	"github.com/kirinyoku/showbook/internal/domain"
	"github.com/kirinyoku/showbook/internal/repository"
	"github.com/kirinyoku/showbook/internal/service/lock"
	"go.uber.org/zap"
)

const bookingNumberAttempts = 3

type InitiateInput struct {
	ShowID    int64
	SeatIDs   []int64
	UserID    int64
	UserEmail string
	UserPhone string
}

// Initiate reserves seats for a user and records a PENDING booking that must
// be paid before LockExpiresAt.
//
// Parameters:
//   - ctx: request-scoped context.
//   - in: show, seats and the booking user.
//
// Returns:
//   - *domain.Booking: the persisted booking with its items and price.
//   - error: booking.ErrShowNotFound, booking.ErrShowNotBookable,
//     booking.ErrSeatNotFound, booking.ErrSeatUnavailable,
//     booking.ErrSeatLockFailure or booking.ErrServiceUnavailable.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (*domain.Booking, error) {
	const op = "service.booking.Initiate"

	ids := dedupe(in.SeatIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSeatsSelected)
	}

	now := s.cfg.Now()

	snap, err := s.catalog.Snapshot(ctx, in.ShowID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrShowNotFound)
		}
		return nil, fmt.Errorf("%s: %w: %w", op, ErrServiceUnavailable, err)
	}

	if !snap.Show.Bookable(now) {
		return nil, fmt.Errorf("%s: %w: status %s", op, ErrShowNotBookable, snap.Show.Status)
	}

	seats := make([]domain.ShowSeat, 0, len(ids))
	var taken []string
	for _, id := range ids {
		seat, ok := snap.Seat(id)
		if !ok {
			return nil, fmt.Errorf("%s: %w: %d", op, ErrSeatNotFound, id)
		}
		if !seat.Available(now) {
			taken = append(taken, seat.Label)
		}
		seats = append(seats, seat)
	}
	if len(taken) > 0 {
		return nil, fmt.Errorf("%s: %w", op, SeatsUnavailableError{Labels: taken})
	}

	token := uuid.NewString()
	keys := lock.SeatKeys(in.ShowID, ids)

	acquired, err := s.locker.Acquire(ctx, keys, token, s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrServiceUnavailable, err)
	}
	if !acquired {
		return nil, fmt.Errorf("%s: %w", op, ErrSeatLockFailure)
	}

	if _, err := s.catalog.LockSeats(ctx, in.ShowID, ids, in.UserID, s.cfg.LockTTL, token); err != nil {
		// An unavailable catalog may still have locked some seats.
		s.compensate(ctx, in.ShowID, ids, in.UserID, keys, token, !isCatalogVerdict(err))
		return nil, fmt.Errorf("%s: %w", op, catalogErr(err))
	}

	b := newBooking(in, snap.Show, seats, s.cfg.Pricing, token, now, now.Add(s.cfg.LockTTL))

	if err := s.create(ctx, b); err != nil {
		s.compensate(ctx, in.ShowID, ids, in.UserID, keys, token, true)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("booking initiated",
		zap.String("booking_number", b.BookingNumber),
		zap.Int64("user_id", b.UserID),
		zap.Int64("show_id", b.ShowID),
		zap.Int("seats", b.TotalSeats),
		zap.Int64("total_cents", b.TotalCents),
		zap.Time("lock_expires_at", b.LockExpiresAt),
	)

	return b, nil
}

// create persists b, drawing a fresh booking number when the previous one
// collides with an existing booking.
func (s *Service) create(ctx context.Context, b *domain.Booking) error {
	var err error
	for attempt := 0; attempt < bookingNumberAttempts; attempt++ {
		if attempt > 0 {
			b.BookingNumber = domain.NewBookingNumber(b.CreatedAt)
		}

		err = s.repo.Create(ctx, b)
		if !errors.Is(err, repository.ErrConflict) {
			return err
		}
	}

	return err
}

// compensate undoes the seat side of a failed initiation. Ledger seats are
// released only when they may have been locked.
func (s *Service) compensate(
	ctx context.Context,
	showID int64,
	seatIDs []int64,
	userID int64,
	keys []string,
	token string,
	releaseLedger bool,
) {
	ctx = context.WithoutCancel(ctx)

	if releaseLedger {
		if err := s.catalog.ReleaseSeats(ctx, showID, seatIDs, userID, token); err != nil {
			s.log.Warn("compensating seat release failed",
				zap.Int64("show_id", showID),
				zap.Int64s("seat_ids", seatIDs),
				zap.Error(err),
			)
		}
	}

	if err := s.locker.Release(ctx, keys, token); err != nil {
		s.log.Warn("compensating lock release failed", zap.Int64("show_id", showID), zap.Error(err))
	}
}

// isCatalogVerdict reports whether the catalog answered and rejected the
// call, as opposed to failing to answer.
func isCatalogVerdict(err error) bool {
	return errors.Is(err, catalog.ErrConflict) ||
		errors.Is(err, catalog.ErrNotFound) ||
		errors.Is(err, catalog.ErrInvalid)
}

func newBooking(
	in InitiateInput,
	show domain.Show,
	seats []domain.ShowSeat,
	pricing domain.Pricing,
	token string,
	now, lockExpiresAt time.Time,
) *domain.Booking {
	items := make([]domain.BookingItem, len(seats))
	prices := make([]int64, len(seats))
	for i, seat := range seats {
		items[i] = domain.BookingItem{
			ShowSeatID: seat.ID,
			SeatID:     seat.SeatID,
			Label:      seat.Label,
			Row:        seat.Row,
			Number:     seat.Number,
			Category:   seat.Category,
			PriceCents: seat.PriceCents,
		}
		prices[i] = seat.PriceCents
	}

	quote := pricing.Quote(prices)

	return &domain.Booking{
		BookingNumber: domain.NewBookingNumber(now),
		UserID:        in.UserID,
		ShowID:        show.ID,
		EventID:       show.EventID,
		VenueID:       show.VenueID,
		EventTitle:    show.Title,
		VenueName:     show.VenueName,
		ShowTime:      show.ShowTime,
		Status:        domain.BookingPending,
		PaymentStatus: domain.PaymentPending,
		Items:         items,
		TotalSeats:    len(items),
		SubtotalCents: quote.SubtotalCents,
		FeeCents:      quote.FeeCents,
		TaxCents:      quote.TaxCents,
		TotalCents:    quote.TotalCents,
		LockToken:     token,
		LockExpiresAt: lockExpiresAt,
		UserEmail:     in.UserEmail,
		UserPhone:     in.UserPhone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
