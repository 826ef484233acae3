package postgresrepo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/showbook/internal/domain"
	"github.com/kirinyoku/showbook/internal/repository"
)

const bookingColumns = `id, booking_number, user_id, show_id, event_id, venue_id,
	event_title, venue_name, show_time, status, payment_status, payment_method,
	payment_transaction_id, paid_at, total_seats, subtotal_cents, fee_cents,
	tax_cents, total_cents, lock_token, lock_expires_at, user_email, user_phone,
	cancelled_at, cancellation_reason, refund_cents, created_at, updated_at`

// BookingRepo persists bookings and their items. Status changes go through
// guarded updates that name the expected prior state; a guard that matches
// no row yields repository.ErrStaleState.
type BookingRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *BookingRepo) With(db DB) *BookingRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *BookingRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Create inserts the booking and its items and fills in the generated IDs.
// It should run inside a transaction so a failed item insert leaves no
// orphan booking.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - b: booking to insert, with Items populated.
//
// Returns:
//   - error: repository.ErrConflict if the booking number is already taken.
func (r *BookingRepo) Create(ctx context.Context, b *domain.Booking) error {
	const op = "postgresrepo.BookingRepo.Create"

	db := r.handle()

	if err := db.QueryRow(ctx,
		`INSERT INTO bookings(
			booking_number, user_id, show_id, event_id, venue_id, event_title,
			venue_name, show_time, status, payment_status, total_seats,
			subtotal_cents, fee_cents, tax_cents, total_cents, lock_token,
			lock_expires_at, user_email, user_phone, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $20)
		 RETURNING id`,
		b.BookingNumber, b.UserID, b.ShowID, b.EventID, b.VenueID, b.EventTitle,
		b.VenueName, b.ShowTime, string(b.Status), string(b.PaymentStatus), b.TotalSeats,
		b.SubtotalCents, b.FeeCents, b.TaxCents, b.TotalCents, b.LockToken,
		b.LockExpiresAt, nullString(b.UserEmail), nullString(b.UserPhone), b.CreatedAt,
	).Scan(&b.ID); err != nil {
		return wrapDBErr(op, err)
	}

	batch := &pgx.Batch{}
	for _, it := range b.Items {
		batch.Queue(
			`INSERT INTO booking_items(booking_id, show_seat_id, seat_id, label, row_label, seat_number, category, price_cents)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING id`,
			b.ID, it.ShowSeatID, it.SeatID, it.Label, it.Row, it.Number, it.Category, it.PriceCents,
		)
	}

	br := db.SendBatch(ctx, batch)
	for i := range b.Items {
		b.Items[i].BookingID = b.ID
		if err := br.QueryRow().Scan(&b.Items[i].ID); err != nil {
			_ = br.Close()
			return wrapDBErr(op, err)
		}
	}
	if err := br.Close(); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// GetByNumber returns the booking with its items or repository.ErrNotFound.
func (r *BookingRepo) GetByNumber(ctx context.Context, number string) (*domain.Booking, error) {
	const op = "postgresrepo.BookingRepo.GetByNumber"

	rows, err := r.handle().Query(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE booking_number = $1`,
		number,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	b, err := pgx.CollectExactlyOneRow(rows, scanBooking)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	bookings := []domain.Booking{b}
	if err := r.attachItems(ctx, bookings); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &bookings[0], nil
}

// ListByUser returns the user's bookings newest first, optionally filtered by
// status.
func (r *BookingRepo) ListByUser(
	ctx context.Context,
	userID int64,
	status *domain.BookingStatus,
) ([]domain.Booking, error) {
	const op = "postgresrepo.BookingRepo.ListByUser"

	var filter *string
	if status != nil {
		s := string(*status)
		filter = &s
	}

	rows, err := r.handle().Query(ctx,
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE user_id = $1 AND ($2::text IS NULL OR status = $2)
		 ORDER BY created_at DESC, id DESC`,
		userID, filter,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	bookings, err := pgx.CollectRows(rows, scanBooking)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	if err := r.attachItems(ctx, bookings); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return bookings, nil
}

// ListExpiredPending returns up to limit PENDING bookings that need to be
// expired: those whose seat hold lapsed before now with no payment in
// flight, and those whose payment claim has not moved since stalledBefore.
func (r *BookingRepo) ListExpiredPending(
	ctx context.Context,
	now, stalledBefore time.Time,
	limit int,
) ([]domain.Booking, error) {
	const op = "postgresrepo.BookingRepo.ListExpiredPending"

	return r.list(ctx, op,
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE status = 'PENDING'
		   AND (
		     (payment_status <> 'PROCESSING' AND lock_expires_at < $1)
		     OR (payment_status = 'PROCESSING' AND updated_at < $2)
		   )
		 ORDER BY lock_expires_at
		 LIMIT $3`,
		now, stalledBefore, limit,
	)
}

// ListStalledCancellations returns up to limit CANCELLING bookings whose
// claim has not moved since stalledBefore.
func (r *BookingRepo) ListStalledCancellations(
	ctx context.Context,
	stalledBefore time.Time,
	limit int,
) ([]domain.Booking, error) {
	const op = "postgresrepo.BookingRepo.ListStalledCancellations"

	return r.list(ctx, op,
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE status = 'CANCELLING' AND updated_at < $1
		 ORDER BY updated_at
		 LIMIT $2`,
		stalledBefore, limit,
	)
}

func (r *BookingRepo) list(ctx context.Context, op, sql string, args ...any) ([]domain.Booking, error) {
	rows, err := r.handle().Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	bookings, err := pgx.CollectRows(rows, scanBooking)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	if err := r.attachItems(ctx, bookings); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return bookings, nil
}

// ClaimPayment moves a PENDING booking's payment from PENDING or FAILED to
// PROCESSING. Only one concurrent caller can win the claim.
func (r *BookingRepo) ClaimPayment(ctx context.Context, id int64, now time.Time) error {
	return r.transition(ctx, "postgresrepo.BookingRepo.ClaimPayment",
		`UPDATE bookings
		 SET payment_status = 'PROCESSING', updated_at = $2
		 WHERE id = $1
		   AND status = 'PENDING'
		   AND payment_status IN ('PENDING', 'FAILED')`,
		id, now,
	)
}

func (r *BookingRepo) MarkPaymentFailed(ctx context.Context, id int64, now time.Time) error {
	return r.transition(ctx, "postgresrepo.BookingRepo.MarkPaymentFailed",
		`UPDATE bookings
		 SET payment_status = 'FAILED', updated_at = $2
		 WHERE id = $1 AND payment_status = 'PROCESSING'`,
		id, now,
	)
}

// MarkConfirmed records a completed payment on a PENDING booking.
func (r *BookingRepo) MarkConfirmed(
	ctx context.Context,
	id int64,
	method domain.PaymentMethod,
	transactionID string,
	paidAt time.Time,
) error {
	return r.transition(ctx, "postgresrepo.BookingRepo.MarkConfirmed",
		`UPDATE bookings
		 SET status = 'CONFIRMED',
		     payment_status = 'COMPLETED',
		     payment_method = $2,
		     payment_transaction_id = $3,
		     paid_at = $4,
		     updated_at = $4
		 WHERE id = $1
		   AND status = 'PENDING'
		   AND payment_status = 'PROCESSING'`,
		id, string(method), transactionID, paidAt,
	)
}

// MarkExpired moves a PENDING booking to EXPIRED. A payment claim blocks
// the transition unless it has not moved since stalledBefore, in which case
// the payment is recorded as FAILED.
func (r *BookingRepo) MarkExpired(ctx context.Context, id int64, now, stalledBefore time.Time) error {
	return r.transition(ctx, "postgresrepo.BookingRepo.MarkExpired",
		`UPDATE bookings
		 SET status = 'EXPIRED',
		     payment_status = CASE WHEN payment_status = 'PROCESSING' THEN 'FAILED' ELSE payment_status END,
		     updated_at = $2
		 WHERE id = $1
		   AND status = 'PENDING'
		   AND (payment_status <> 'PROCESSING' OR updated_at < $3)`,
		id, now, stalledBefore,
	)
}

// CancelClaim describes the state a booking must still be in for a
// cancellation to claim it.
type CancelClaim struct {
	ID                int64
	FromStatus        domain.BookingStatus
	FromPaymentStatus domain.PaymentStatus
	Reason            string
	At                time.Time
}

// ClaimCancellation moves a PENDING or CONFIRMED booking with no payment in
// flight to CANCELLING. Only one concurrent caller can win the claim, and it
// alone releases seats and refunds.
func (r *BookingRepo) ClaimCancellation(ctx context.Context, c CancelClaim) error {
	return r.transition(ctx, "postgresrepo.BookingRepo.ClaimCancellation",
		`UPDATE bookings
		 SET status = 'CANCELLING', cancellation_reason = $4, updated_at = $5
		 WHERE id = $1
		   AND status = $2
		   AND payment_status = $3
		   AND status IN ('PENDING', 'CONFIRMED')
		   AND payment_status <> 'PROCESSING'`,
		c.ID, string(c.FromStatus), string(c.FromPaymentStatus), nullString(c.Reason), c.At,
	)
}

// ReclaimCancellation takes over a CANCELLING booking whose claim has not
// moved since stalledBefore. Only one concurrent caller can win it.
func (r *BookingRepo) ReclaimCancellation(ctx context.Context, id int64, stalledBefore, now time.Time) error {
	return r.transition(ctx, "postgresrepo.BookingRepo.ReclaimCancellation",
		`UPDATE bookings
		 SET updated_at = $3
		 WHERE id = $1 AND status = 'CANCELLING' AND updated_at < $2`,
		id, stalledBefore, now,
	)
}

// RevertCancellation hands a CANCELLING booking back to status when its
// seats could not be released.
func (r *BookingRepo) RevertCancellation(
	ctx context.Context,
	id int64,
	status domain.BookingStatus,
	now time.Time,
) error {
	return r.transition(ctx, "postgresrepo.BookingRepo.RevertCancellation",
		`UPDATE bookings
		 SET status = $2, cancellation_reason = NULL, updated_at = $3
		 WHERE id = $1 AND status = 'CANCELLING'`,
		id, string(status), now,
	)
}

// CancelParams completes a claimed cancellation.
type CancelParams struct {
	ID                int64
	FromPaymentStatus domain.PaymentStatus
	PaymentStatus     domain.PaymentStatus
	RefundCents       int64
	CancelledAt       time.Time
}

func (r *BookingRepo) MarkCancelled(ctx context.Context, p CancelParams) error {
	return r.transition(ctx, "postgresrepo.BookingRepo.MarkCancelled",
		`UPDATE bookings
		 SET status = 'CANCELLED',
		     payment_status = $3,
		     refund_cents = $4,
		     cancelled_at = $5,
		     updated_at = $5
		 WHERE id = $1
		   AND status = 'CANCELLING'
		   AND payment_status = $2`,
		p.ID, string(p.FromPaymentStatus), string(p.PaymentStatus), p.RefundCents, p.CancelledAt,
	)
}

func (r *BookingRepo) transition(ctx context.Context, op, sql string, args ...any) error {
	tag, err := r.handle().Exec(ctx, sql, args...)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrStaleState)
	}

	return nil
}

func (r *BookingRepo) attachItems(ctx context.Context, bookings []domain.Booking) error {
	if len(bookings) == 0 {
		return nil
	}

	ids := make([]int64, len(bookings))
	idx := make(map[int64]int, len(bookings))
	for i, b := range bookings {
		ids[i] = b.ID
		idx[b.ID] = i
	}

	rows, err := r.handle().Query(ctx,
		`SELECT id, booking_id, show_seat_id, seat_id, label, row_label, seat_number, category, price_cents
		 FROM booking_items
		 WHERE booking_id = ANY($1)
		 ORDER BY booking_id, id`,
		ids,
	)
	if err != nil {
		return err
	}

	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.BookingItem, error) {
		var it domain.BookingItem
		err := row.Scan(
			&it.ID,
			&it.BookingID,
			&it.ShowSeatID,
			&it.SeatID,
			&it.Label,
			&it.Row,
			&it.Number,
			&it.Category,
			&it.PriceCents,
		)
		return it, err
	})
	if err != nil {
		return err
	}

	for _, it := range items {
		i := idx[it.BookingID]
		bookings[i].Items = append(bookings[i].Items, it)
	}

	return nil
}

func scanBooking(row pgx.CollectableRow) (domain.Booking, error) {
	var (
		b                     domain.Booking
		status, paymentStatus string
		method, email, phone  *string
	)

	err := row.Scan(
		&b.ID,
		&b.BookingNumber,
		&b.UserID,
		&b.ShowID,
		&b.EventID,
		&b.VenueID,
		&b.EventTitle,
		&b.VenueName,
		&b.ShowTime,
		&status,
		&paymentStatus,
		&method,
		&b.PaymentTransactionID,
		&b.PaidAt,
		&b.TotalSeats,
		&b.SubtotalCents,
		&b.FeeCents,
		&b.TaxCents,
		&b.TotalCents,
		&b.LockToken,
		&b.LockExpiresAt,
		&email,
		&phone,
		&b.CancelledAt,
		&b.CancellationReason,
		&b.RefundCents,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return b, err
	}

	b.Status = domain.BookingStatus(status)
	b.PaymentStatus = domain.PaymentStatus(paymentStatus)
	if method != nil {
		b.PaymentMethod = domain.PaymentMethod(*method)
	}
	if email != nil {
		b.UserEmail = *email
	}
	if phone != nil {
		b.UserPhone = *phone
	}

	return b, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
