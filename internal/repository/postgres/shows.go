package postgresrepo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/showbook/internal/domain"
	"github.com/kirinyoku/showbook/internal/repository"
)

type ShowRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *ShowRepo) With(db DB) *ShowRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *ShowRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Get returns the show or repository.ErrNotFound.
func (r *ShowRepo) Get(ctx context.Context, id int64) (*domain.Show, error) {
	const op = "postgresrepo.ShowRepo.Get"

	var (
		s      domain.Show
		status string
	)

	if err := r.handle().QueryRow(ctx,
		`SELECT id, event_id, venue_id, title, venue_name, show_time, status
		 FROM shows
		 WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.EventID, &s.VenueID, &s.Title, &s.VenueName, &s.ShowTime, &status); err != nil {
		return nil, wrapDBErr(op, err)
	}

	s.Status = domain.ShowStatus(status)

	return &s, nil
}

func (r *ShowRepo) UpdateStatus(
	ctx context.Context,
	id int64,
	status domain.ShowStatus,
	now time.Time,
) error {
	const op = "postgresrepo.ShowRepo.UpdateStatus"

	tag, err := r.handle().Exec(ctx,
		`UPDATE shows SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), now,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return wrapDBErr(op, repository.ErrNotFound)
	}

	return nil
}
