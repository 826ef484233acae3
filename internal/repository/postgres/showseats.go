package postgresrepo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/showbook/internal/domain"
)

const showSeatColumns = `id, show_id, seat_id, row_label, seat_number, label, category,
	status, price_cents, locked_by_user_id, locked_at, locked_until,
	booked_by_user_id, booking_ref, hold_ref`

// ShowSeatRepo owns the show_seats rows. Every state change is a single
// UPDATE whose WHERE clause is the expected prior state, so each row
// transition is a compare-and-set and concurrent callers cannot both win.
type ShowSeatRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *ShowSeatRepo) With(db DB) *ShowSeatRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *ShowSeatRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// ListByShow returns every seat of the show ordered by row and number.
func (r *ShowSeatRepo) ListByShow(ctx context.Context, showID int64) ([]domain.ShowSeat, error) {
	const op = "postgresrepo.ShowSeatRepo.ListByShow"

	rows, err := r.handle().Query(ctx,
		`SELECT `+showSeatColumns+`
		 FROM show_seats
		 WHERE show_id = $1
		 ORDER BY row_label, seat_number`,
		showID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	seats, err := pgx.CollectRows(rows, scanShowSeat)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return seats, nil
}

// Lock moves the requested seats to LOCKED for userID until the given
// deadline. A seat is accepted when it is AVAILABLE or its previous lock
// lapsed before now.
//
// Parameters:
//   - ctx: request-scoped context for cancellation and timeouts.
//   - showID: show the seats belong to.
//   - seatIDs: show seat IDs to lock.
//   - userID: lock owner.
//   - holdRef: identifies this particular hold, e.g. a booking's lock token.
//     Empty leaves the hold anonymous.
//   - now: the instant the lock is taken, also used for the expiry check.
//   - until: lock deadline.
//
// Returns:
//   - []domain.ShowSeat: the accepted seats in their new state. Seats that were
//     not accepted are simply absent; the caller decides what a partial result
//     means.
//   - error: on database failure.
func (r *ShowSeatRepo) Lock(
	ctx context.Context,
	showID int64,
	seatIDs []int64,
	userID int64,
	holdRef string,
	now, until time.Time,
) ([]domain.ShowSeat, error) {
	const op = "postgresrepo.ShowSeatRepo.Lock"

	rows, err := r.handle().Query(ctx,
		`WITH target AS (
			SELECT id AS target_id
			FROM show_seats
			WHERE show_id = $1 AND id = ANY($2)
			ORDER BY id
			FOR UPDATE
		 )
		 UPDATE show_seats
		 SET status = 'LOCKED',
		     locked_by_user_id = $3,
		     locked_at = $4,
		     locked_until = $5,
		     hold_ref = NULLIF($6::text, ''),
		     updated_at = $4
		 FROM target
		 WHERE id = target.target_id
		   AND (status = 'AVAILABLE' OR (status = 'LOCKED' AND locked_until < $4))
		 RETURNING `+showSeatColumns,
		showID, seatIDs, userID, now, until, holdRef,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	seats, err := pgx.CollectRows(rows, scanShowSeat)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return seats, nil
}

// Confirm books seats that userID holds an unexpired lock on. Seats already
// BOOKED under the same bookingRef are reported as confirmed again so that a
// retried confirmation is idempotent.
func (r *ShowSeatRepo) Confirm(
	ctx context.Context,
	showID int64,
	seatIDs []int64,
	userID int64,
	bookingRef string,
	now time.Time,
) ([]int64, error) {
	const op = "postgresrepo.ShowSeatRepo.Confirm"

	rows, err := r.handle().Query(ctx,
		`UPDATE show_seats
		 SET status = 'BOOKED',
		     booked_by_user_id = $3,
		     booking_ref = $4,
		     locked_by_user_id = NULL,
		     locked_at = NULL,
		     locked_until = NULL,
		     hold_ref = NULL,
		     updated_at = $5
		 WHERE show_id = $1
		   AND id = ANY($2)
		   AND (
		     (status = 'LOCKED' AND locked_by_user_id = $3 AND locked_until >= $5)
		     OR (status = 'BOOKED' AND booking_ref = $4)
		   )
		 RETURNING id`,
		showID, seatIDs, userID, bookingRef, now,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return ids, nil
}

// ReleaseLocked returns seats LOCKED by userID to AVAILABLE. A non-empty
// holdRef restricts the release to that hold, so a stale caller cannot free
// a newer lock the same user took on the seat. Seats locked by someone else
// or in any other state are left untouched.
func (r *ShowSeatRepo) ReleaseLocked(
	ctx context.Context,
	showID int64,
	seatIDs []int64,
	userID int64,
	holdRef string,
	now time.Time,
) ([]int64, error) {
	const op = "postgresrepo.ShowSeatRepo.ReleaseLocked"

	rows, err := r.handle().Query(ctx,
		`UPDATE show_seats
		 SET status = 'AVAILABLE',
		     locked_by_user_id = NULL,
		     locked_at = NULL,
		     locked_until = NULL,
		     hold_ref = NULL,
		     updated_at = $4
		 WHERE show_id = $1
		   AND id = ANY($2)
		   AND status = 'LOCKED'
		   AND locked_by_user_id = $3
		   AND ($5::text = '' OR hold_ref = $5)
		 RETURNING id`,
		showID, seatIDs, userID, now, holdRef,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return ids, nil
}

// ReleaseBooked returns BOOKED seats to AVAILABLE and clears their booking
// fields. A non-empty bookingRef restricts the release to that booking.
func (r *ShowSeatRepo) ReleaseBooked(
	ctx context.Context,
	showID int64,
	seatIDs []int64,
	bookingRef string,
	now time.Time,
) ([]int64, error) {
	const op = "postgresrepo.ShowSeatRepo.ReleaseBooked"

	rows, err := r.handle().Query(ctx,
		`UPDATE show_seats
		 SET status = 'AVAILABLE',
		     booked_by_user_id = NULL,
		     booking_ref = NULL,
		     locked_by_user_id = NULL,
		     locked_at = NULL,
		     locked_until = NULL,
		     hold_ref = NULL,
		     updated_at = $4
		 WHERE show_id = $1
		   AND id = ANY($2)
		   AND status = 'BOOKED'
		   AND ($3 = '' OR booking_ref = $3)
		 RETURNING id`,
		showID, seatIDs, bookingRef, now,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return ids, nil
}

// ReleaseExpiredLocks frees every lock whose deadline is before now,
// regardless of owner.
//
// Returns:
//   - []int64: the show ID of each released seat, one entry per seat.
//   - error: on database failure.
func (r *ShowSeatRepo) ReleaseExpiredLocks(ctx context.Context, now time.Time) ([]int64, error) {
	const op = "postgresrepo.ShowSeatRepo.ReleaseExpiredLocks"

	rows, err := r.handle().Query(ctx,
		`UPDATE show_seats
		 SET status = 'AVAILABLE',
		     locked_by_user_id = NULL,
		     locked_at = NULL,
		     locked_until = NULL,
		     hold_ref = NULL,
		     updated_at = $1
		 WHERE status = 'LOCKED' AND locked_until < $1
		 RETURNING show_id`,
		now,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	showIDs, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return showIDs, nil
}

func scanShowSeat(row pgx.CollectableRow) (domain.ShowSeat, error) {
	var (
		s      domain.ShowSeat
		status string
	)

	err := row.Scan(
		&s.ID,
		&s.ShowID,
		&s.SeatID,
		&s.Row,
		&s.Number,
		&s.Label,
		&s.Category,
		&status,
		&s.PriceCents,
		&s.LockedByUserID,
		&s.LockedAt,
		&s.LockedUntil,
		&s.BookedByUserID,
		&s.BookingRef,
		&s.HoldRef,
	)
	s.Status = domain.SeatStatus(status)

	return s, err
}
