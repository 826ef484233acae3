package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/showbook/internal/domain"
	"github.com/kirinyoku/showbook/internal/payment"
	"github.com/kirinyoku/showbook/internal/queue"
	"github.com/kirinyoku/showbook/internal/repository"
	"github.com/kirinyoku/showbook/internal/service/lock"
	"go.uber.org/zap"
)

type ConfirmPaymentInput struct {
	BookingNumber string
	UserID        int64
	Method        domain.PaymentMethod
	Token         string
}

// ConfirmPayment charges a PENDING booking and confirms it. Once the charge
// succeeds the booking stays CONFIRMED; a failed seat confirmation is queued
// for retry rather than undoing the payment.
//
// Parameters:
//   - ctx: request-scoped context.
//   - in: booking number, paying user and payment instrument.
//
// Returns:
//   - *domain.Booking: the confirmed booking.
//   - error: booking.ErrBookingNotFound, booking.ErrPermissionDenied,
//     booking.ErrInvalidBookingState, booking.ErrBookingExpired,
//     booking.ErrBookingConflict, booking.ErrPaymentFailed or
//     booking.ErrServiceUnavailable.
func (s *Service) ConfirmPayment(ctx context.Context, in ConfirmPaymentInput) (*domain.Booking, error) {
	const op = "service.booking.ConfirmPayment"

	if !in.Method.Valid() {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrInvalidPaymentMethod, in.Method)
	}

	b, err := s.load(ctx, in.BookingNumber)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if b.UserID != in.UserID {
		return nil, fmt.Errorf("%s: %w", op, ErrPermissionDenied)
	}

	if b.Status != domain.BookingPending {
		return nil, fmt.Errorf("%s: %w: status %s", op, ErrInvalidBookingState, b.Status)
	}

	now := s.cfg.Now()

	if b.LockExpired(now) {
		if _, err := s.expire(ctx, b); err != nil {
			s.log.Warn("expiring lapsed booking failed",
				zap.String("booking_number", b.BookingNumber),
				zap.Error(err),
			)
		}
		return nil, fmt.Errorf("%s: %w", op, ErrBookingExpired)
	}

	if err := s.repo.ClaimPayment(ctx, b.ID, now); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, fmt.Errorf("%s: %w", op, ErrBookingConflict)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.extendLock(ctx, b, now)

	res, err := s.charge(ctx, b, in)
	if err != nil {
		if ferr := s.repo.MarkPaymentFailed(context.WithoutCancel(ctx), b.ID, s.cfg.Now()); ferr != nil {
			s.log.Error("recording failed payment failed",
				zap.String("booking_number", b.BookingNumber),
				zap.Error(ferr),
			)
		}

		if errors.Is(err, payment.ErrDeclined) || errors.Is(err, payment.ErrInvalidRequest) {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrPaymentFailed, err)
		}
		return nil, fmt.Errorf("%s: %w: %w", op, ErrServiceUnavailable, err)
	}

	paidAt := s.cfg.Now()

	if err := s.repo.MarkConfirmed(context.WithoutCancel(ctx), b.ID, in.Method, res.TransactionID, paidAt); err != nil {
		s.log.Error("payment captured but booking not confirmed",
			zap.String("booking_number", b.BookingNumber),
			zap.String("transaction_id", res.TransactionID),
			zap.Error(err),
		)
		s.undoCharge(ctx, b, res.TransactionID)
		return nil, fmt.Errorf("%s: %w: %w", op, ErrServiceUnavailable, err)
	}

	b.Status = domain.BookingConfirmed
	b.PaymentStatus = domain.PaymentCompleted
	b.PaymentMethod = in.Method
	b.PaymentTransactionID = &res.TransactionID
	b.PaidAt = &paidAt
	b.UpdatedAt = paidAt

	s.confirmSeats(ctx, b)

	if err := s.locker.Release(context.WithoutCancel(ctx), lock.SeatKeys(b.ShowID, b.ShowSeatIDs()), b.LockToken); err != nil {
		s.log.Warn("lock release after confirmation failed",
			zap.String("booking_number", b.BookingNumber),
			zap.Error(err),
		)
	}

	s.log.Info("booking confirmed",
		zap.String("booking_number", b.BookingNumber),
		zap.String("transaction_id", res.TransactionID),
		zap.Int64("total_cents", b.TotalCents),
	)

	return b, nil
}

// extendLock keeps the lock keys of b alive for the whole payment attempt.
// The keys are advisory, so failures are only logged.
func (s *Service) extendLock(ctx context.Context, b *domain.Booking, now time.Time) {
	ttl := b.LockExpiresAt.Sub(now) + s.cfg.PaymentTimeout

	ok, err := s.locker.Extend(ctx, lock.SeatKeys(b.ShowID, b.ShowSeatIDs()), b.LockToken, ttl)
	switch {
	case err != nil:
		s.log.Warn("extending seat locks failed",
			zap.String("booking_number", b.BookingNumber),
			zap.Error(err),
		)
	case !ok:
		s.log.Warn("seat locks no longer held by booking",
			zap.String("booking_number", b.BookingNumber),
		)
	}
}

func (s *Service) charge(ctx context.Context, b *domain.Booking, in ConfirmPaymentInput) (*payment.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PaymentTimeout)
	defer cancel()

	return s.payments.Charge(ctx, payment.ChargeRequest{
		BookingNumber: b.BookingNumber,
		AmountCents:   b.TotalCents,
		Method:        in.Method,
		Token:         in.Token,
	})
}

// undoCharge refunds a charge whose booking could not be confirmed and puts
// the payment back into a retryable state.
func (s *Service) undoCharge(ctx context.Context, b *domain.Booking, transactionID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PaymentTimeout)
	defer cancel()

	if _, err := s.payments.Refund(ctx, payment.RefundRequest{
		BookingNumber: b.BookingNumber,
		TransactionID: transactionID,
		AmountCents:   b.TotalCents,
	}); err != nil {
		s.log.Error("refund of unconfirmed payment failed, manual reconciliation required",
			zap.String("booking_number", b.BookingNumber),
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
		return
	}

	if err := s.repo.MarkPaymentFailed(ctx, b.ID, s.cfg.Now()); err != nil {
		s.log.Error("resetting payment status failed",
			zap.String("booking_number", b.BookingNumber),
			zap.Error(err),
		)
	}
}

// confirmSeats books the seats in the ledger. Any failure is handed to the
// reconciliation queue.
func (s *Service) confirmSeats(ctx context.Context, b *domain.Booking) {
	ids := b.ShowSeatIDs()

	res, err := s.catalog.ConfirmSeats(ctx, b.ShowID, ids, b.UserID, b.BookingNumber)

	var reason string
	switch {
	case err != nil:
		reason = err.Error()
	case len(res.Rejected) > 0:
		reason = fmt.Sprintf("seats rejected: %v", res.Rejected)
	default:
		return
	}

	s.log.Warn("seat confirmation failed after payment",
		zap.String("booking_number", b.BookingNumber),
		zap.String("reason", reason),
	)

	ev := queue.SeatConfirmationRetry{
		BookingNumber: b.BookingNumber,
		ShowID:        b.ShowID,
		UserID:        b.UserID,
		SeatIDs:       ids,
		Reason:        reason,
		NotBefore:     s.cfg.Now(),
	}
	if err := s.retries.PublishSeatConfirmationRetry(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Error("queueing seat confirmation retry failed, manual reconciliation required",
			zap.String("booking_number", b.BookingNumber),
			zap.Int64s("seat_ids", ids),
			zap.Error(err),
		)
	}
}

// RetrySeatConfirmation re-books the seats of a confirmed booking. It is the
// handler of the reconciliation queue consumer; an error asks for another
// attempt.
func (s *Service) RetrySeatConfirmation(ctx context.Context, ev queue.SeatConfirmationRetry) error {
	const op = "service.booking.RetrySeatConfirmation"

	b, err := s.load(ctx, ev.BookingNumber)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			s.log.Error("retry for unknown booking dropped", zap.String("booking_number", ev.BookingNumber))
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if b.Status != domain.BookingConfirmed {
		s.log.Info("booking no longer confirmed, retry dropped",
			zap.String("booking_number", b.BookingNumber),
			zap.String("status", string(b.Status)),
		)
		return nil
	}

	res, err := s.catalog.ConfirmSeats(ctx, b.ShowID, ev.SeatIDs, b.UserID, b.BookingNumber)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if len(res.Rejected) > 0 {
		return fmt.Errorf("%s: %w: %v", op, ErrSeatUnavailable, res.Rejected)
	}

	return nil
}
