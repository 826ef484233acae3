package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirinyoku/showbook/internal/domain"
	"github.com/kirinyoku/showbook/internal/repository"
	"github.com/kirinyoku/showbook/internal/service/lock"
	"go.uber.org/zap"
)

// ExpirePendingBookings expires PENDING bookings whose seat hold has lapsed
// and releases their seats. A booking whose payment claim has made no
// progress within the stall timeout is expired as well, with its payment
// recorded as FAILED. Each booking is claimed with a guarded update first,
// so concurrent runs never release the same booking twice. Failures on one
// booking are logged and do not stop the rest.
//
// Returns:
//   - int64: the number of bookings this call expired.
//   - error: only when listing candidates fails.
func (s *Service) ExpirePendingBookings(ctx context.Context) (int64, error) {
	const op = "service.booking.ExpirePendingBookings"

	var total int64
	for ctx.Err() == nil {
		now := s.cfg.Now()

		batch, err := s.repo.ListExpiredPending(ctx, now, now.Add(-s.cfg.StallTimeout), s.cfg.ExpireBatchSize)
		if err != nil {
			return total, fmt.Errorf("%s: %w", op, err)
		}

		progressed := 0
		for i := range batch {
			expired, err := s.expire(ctx, &batch[i])
			if err != nil {
				s.log.Error("expiring booking failed",
					zap.String("booking_number", batch[i].BookingNumber),
					zap.Error(err),
				)
				continue
			}

			progressed++
			if expired {
				total++
			}
		}

		if len(batch) < s.cfg.ExpireBatchSize || progressed == 0 {
			break
		}
	}

	if total > 0 {
		s.log.Info("expired pending bookings", zap.Int64("count", total))
	}

	return total, nil
}

// expire claims b with a guarded PENDING to EXPIRED update and, when the
// claim wins, releases the seats b still holds in the ledger and the lock
// store. It reports false without error when another caller changed b
// first.
func (s *Service) expire(ctx context.Context, b *domain.Booking) (bool, error) {
	now := s.cfg.Now()

	if err := s.repo.MarkExpired(ctx, b.ID, now, now.Add(-s.cfg.StallTimeout)); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return false, nil
		}
		return false, err
	}

	if b.PaymentStatus == domain.PaymentProcessing {
		s.log.Warn("expired booking with a stalled payment, outcome unknown",
			zap.String("booking_number", b.BookingNumber),
			zap.Int64("total_cents", b.TotalCents),
		)
		b.PaymentStatus = domain.PaymentFailed
	}

	b.Status = domain.BookingExpired

	ids := b.ShowSeatIDs()
	ctx = context.WithoutCancel(ctx)

	if err := s.catalog.ReleaseSeats(ctx, b.ShowID, ids, b.UserID, b.LockToken); err != nil {
		s.log.Warn("seat release for expired booking failed, left to the lock sweeper",
			zap.String("booking_number", b.BookingNumber),
			zap.Error(err),
		)
	}

	if err := s.locker.Release(ctx, lock.SeatKeys(b.ShowID, ids), b.LockToken); err != nil {
		s.log.Warn("lock release for expired booking failed",
			zap.String("booking_number", b.BookingNumber),
			zap.Error(err),
		)
	}

	s.log.Info("booking expired", zap.String("booking_number", b.BookingNumber))

	return true, nil
}
