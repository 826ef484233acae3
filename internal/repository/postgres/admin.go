package postgresrepo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/showbook/internal/domain"
)

type AdminRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *AdminRepo) With(db DB) *AdminRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *AdminRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *AdminRepo) CreateVenue(ctx context.Context, name string) (int64, error) {
	const op = "postgresrepo.AdminRepo.CreateVenue"

	var id int64
	if err := r.handle().QueryRow(ctx,
		`INSERT INTO venues(name)
		 VALUES ($1)
		 RETURNING id`,
		name,
	).Scan(&id); err != nil {
		return 0, wrapDBErr(op, err)
	}

	return id, nil
}

// BatchCreateSeats inserts the physical seats of a venue. Seats that already
// exist at the same row and number are skipped.
func (r *AdminRepo) BatchCreateSeats(
	ctx context.Context,
	venueID int64,
	seats []domain.Seat,
) error {
	const op = "postgresrepo.AdminRepo.BatchCreateSeats"

	batch := &pgx.Batch{}
	for _, s := range seats {
		batch.Queue(
			`INSERT INTO seats(venue_id, row_label, number, label, category)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (venue_id, row_label, number) DO NOTHING`,
			venueID, s.Row, s.Number, s.Label, s.Category,
		)
	}
	if err := r.handle().SendBatch(ctx, batch).Close(); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// VenueCategories lists the distinct seat categories of a venue.
func (r *AdminRepo) VenueCategories(ctx context.Context, venueID int64) ([]string, error) {
	const op = "postgresrepo.AdminRepo.VenueCategories"

	rows, err := r.handle().Query(ctx,
		`SELECT DISTINCT category FROM seats WHERE venue_id = $1 ORDER BY category`,
		venueID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	cats, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return cats, nil
}

func (r *AdminRepo) CreateShow(ctx context.Context, s domain.Show, now time.Time) (int64, error) {
	const op = "postgresrepo.AdminRepo.CreateShow"

	var id int64
	if err := r.handle().QueryRow(ctx,
		`INSERT INTO shows(event_id, venue_id, title, venue_name, show_time, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 RETURNING id`,
		s.EventID, s.VenueID, s.Title, s.VenueName, s.ShowTime, string(s.Status), now,
	).Scan(&id); err != nil {
		return 0, wrapDBErr(op, err)
	}

	return id, nil
}

// InitShowSeats creates one AVAILABLE show seat per venue seat, priced by the
// seat's category. Seats of a category missing from prices are not created.
//
// Returns:
//   - int64: the number of show seats created.
//   - error: on database failure.
func (r *AdminRepo) InitShowSeats(
	ctx context.Context,
	showID int64,
	venueID int64,
	prices map[string]int64,
) (int64, error) {
	const op = "postgresrepo.AdminRepo.InitShowSeats"

	cats := make([]string, 0, len(prices))
	amounts := make([]int64, 0, len(prices))
	for c, p := range prices {
		cats = append(cats, c)
		amounts = append(amounts, p)
	}

	tag, err := r.handle().Exec(ctx,
		`INSERT INTO show_seats(show_id, seat_id, row_label, seat_number, label, category, status, price_cents)
		 SELECT $1, s.id, s.row_label, s.number, s.label, s.category, 'AVAILABLE', p.price
		 FROM seats s
		 JOIN unnest($3::text[], $4::bigint[]) AS p(category, price) ON p.category = s.category
		 WHERE s.venue_id = $2
		 ON CONFLICT (show_id, seat_id) DO NOTHING`,
		showID, venueID, cats, amounts,
	)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return tag.RowsAffected(), nil
}
