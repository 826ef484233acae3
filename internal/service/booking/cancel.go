package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirinyoku/showbook/internal/domain"
	"github.com/kirinyoku/showbook/internal/payment"
	"github.com/kirinyoku/showbook/internal/repository"
	postgresrepo "github.com/kirinyoku/showbook/internal/repository/postgres"
	"github.com/kirinyoku/showbook/internal/service/lock"
	"go.uber.org/zap"
)

type CancelInput struct {
	BookingNumber string
	UserID        int64
	Reason        string
}

// CancelBooking releases the seats of a PENDING or CONFIRMED booking and
// refunds a completed payment.
//
// The booking is first claimed with a guarded move to CANCELLING, so of any
// concurrent cancellations and payment confirmations exactly one proceeds
// and only the winner touches seats or money. When the seats cannot be
// released the claim is handed back and the booking is left as it was.
//
// Returns:
//   - *domain.Booking: the cancelled booking.
//   - error: booking.ErrBookingNotFound, booking.ErrPermissionDenied,
//     booking.ErrInvalidBookingState, booking.ErrBookingConflict or
//     booking.ErrServiceUnavailable.
func (s *Service) CancelBooking(ctx context.Context, in CancelInput) (*domain.Booking, error) {
	const op = "service.booking.CancelBooking"

	b, err := s.load(ctx, in.BookingNumber)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if b.UserID != in.UserID {
		return nil, fmt.Errorf("%s: %w", op, ErrPermissionDenied)
	}

	if !b.Cancellable() {
		return nil, fmt.Errorf("%s: %w: status %s", op, ErrInvalidBookingState, b.Status)
	}

	if b.PaymentStatus == domain.PaymentProcessing {
		return nil, fmt.Errorf("%s: %w: payment in progress", op, ErrBookingConflict)
	}

	from := b.Status

	if err := s.repo.ClaimCancellation(ctx, postgresrepo.CancelClaim{
		ID:                b.ID,
		FromStatus:        from,
		FromPaymentStatus: b.PaymentStatus,
		Reason:            in.Reason,
		At:                s.cfg.Now(),
	}); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, fmt.Errorf("%s: %w", op, ErrBookingConflict)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	b.Status = domain.BookingCancelling
	if in.Reason != "" {
		b.CancellationReason = &in.Reason
	}

	ctx = context.WithoutCancel(ctx)

	if err := s.releaseSeats(ctx, b, from); err != nil {
		if rerr := s.repo.RevertCancellation(ctx, b.ID, from, s.cfg.Now()); rerr != nil {
			s.log.Error("handing back cancellation claim failed, left to the sweeper",
				zap.String("booking_number", b.BookingNumber),
				zap.Error(rerr),
			)
		}
		return nil, fmt.Errorf("%s: %w: %w", op, ErrServiceUnavailable, err)
	}

	if err := s.finishCancellation(ctx, b); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

// ResumeStalledCancellations finishes cancellations whose claim has made no
// progress within the stall timeout, typically because the process holding
// it stopped. Each booking is reclaimed with a guarded update first, so
// concurrent runs never finish the same cancellation twice.
//
// Returns:
//   - int64: the number of cancellations this call finished.
//   - error: only when listing candidates fails.
func (s *Service) ResumeStalledCancellations(ctx context.Context) (int64, error) {
	const op = "service.booking.ResumeStalledCancellations"

	now := s.cfg.Now()
	stalledBefore := now.Add(-s.cfg.StallTimeout)

	batch, err := s.repo.ListStalledCancellations(ctx, stalledBefore, s.cfg.ExpireBatchSize)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var total int64
	for i := range batch {
		b := &batch[i]

		if err := s.repo.ReclaimCancellation(ctx, b.ID, stalledBefore, now); err != nil {
			if !errors.Is(err, repository.ErrStaleState) {
				s.log.Error("reclaiming stalled cancellation failed",
					zap.String("booking_number", b.BookingNumber),
					zap.Error(err),
				)
			}
			continue
		}

		// Only a CONFIRMED booking can carry a completed payment into
		// CANCELLING.
		from := domain.BookingPending
		if b.PaymentStatus == domain.PaymentCompleted {
			from = domain.BookingConfirmed
		}

		if err := s.releaseSeats(ctx, b, from); err != nil {
			s.log.Error("seat release for stalled cancellation failed",
				zap.String("booking_number", b.BookingNumber),
				zap.Error(err),
			)
			continue
		}

		if err := s.finishCancellation(ctx, b); err != nil {
			s.log.Error("finishing stalled cancellation failed",
				zap.String("booking_number", b.BookingNumber),
				zap.Error(err),
			)
			continue
		}

		total++
	}

	if total > 0 {
		s.log.Info("resumed stalled cancellations", zap.Int64("count", total))
	}

	return total, nil
}

// releaseSeats frees the ledger seats of b as they stood while b was in
// status from. Pending seats are released by the booking's own hold only.
func (s *Service) releaseSeats(ctx context.Context, b *domain.Booking, from domain.BookingStatus) error {
	ids := b.ShowSeatIDs()

	if from == domain.BookingConfirmed {
		return s.catalog.ReleaseBookedSeats(ctx, b.ShowID, ids, b.BookingNumber)
	}

	if err := s.catalog.ReleaseSeats(ctx, b.ShowID, ids, b.UserID, b.LockToken); err != nil {
		return err
	}

	if err := s.locker.Release(ctx, lock.SeatKeys(b.ShowID, ids), b.LockToken); err != nil {
		s.log.Warn("lock release on cancel failed",
			zap.String("booking_number", b.BookingNumber),
			zap.Error(err),
		)
	}

	return nil
}

// finishCancellation refunds a completed payment and moves the claimed
// booking from CANCELLING to CANCELLED.
func (s *Service) finishCancellation(ctx context.Context, b *domain.Booking) error {
	paymentStatus := b.PaymentStatus
	var refund int64
	if b.PaymentStatus == domain.PaymentCompleted && b.PaymentTransactionID != nil {
		if s.refund(ctx, b) {
			refund = b.TotalCents
			paymentStatus = domain.PaymentRefunded
		}
	}

	now := s.cfg.Now()

	if err := s.repo.MarkCancelled(ctx, postgresrepo.CancelParams{
		ID:                b.ID,
		FromPaymentStatus: b.PaymentStatus,
		PaymentStatus:     paymentStatus,
		RefundCents:       refund,
		CancelledAt:       now,
	}); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return ErrBookingConflict
		}
		return err
	}

	b.Status = domain.BookingCancelled
	b.PaymentStatus = paymentStatus
	b.RefundCents = refund
	b.CancelledAt = &now
	b.UpdatedAt = now

	s.log.Info("booking cancelled",
		zap.String("booking_number", b.BookingNumber),
		zap.Int64("refund_cents", refund),
	)

	return nil
}

func (s *Service) refund(ctx context.Context, b *domain.Booking) bool {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PaymentTimeout)
	defer cancel()

	res, err := s.payments.Refund(ctx, payment.RefundRequest{
		BookingNumber: b.BookingNumber,
		TransactionID: *b.PaymentTransactionID,
		AmountCents:   b.TotalCents,
	})
	if err != nil {
		s.log.Warn("refund failed",
			zap.String("booking_number", b.BookingNumber),
			zap.Error(err),
		)
		return false
	}

	s.log.Info("refund processed",
		zap.String("booking_number", b.BookingNumber),
		zap.String("refund_id", res.TransactionID),
	)

	return true
}
