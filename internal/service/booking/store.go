package booking

import (
	"context"

	"github.com/kirinyoku/showbook/internal/domain"
	postgresrepo "github.com/kirinyoku/showbook/internal/repository/postgres"
	"github.com/kirinyoku/showbook/internal/uow"
)

// PostgresRepository backs Repository with the bookings table. Creation runs
// in a unit of work so a booking never exists without its items.
type PostgresRepository struct {
	*postgresrepo.BookingRepo
	uow *uow.UoW
}

func NewPostgresRepository(store *postgresrepo.Store) *PostgresRepository {
	return &PostgresRepository{
		BookingRepo: store.Bookings(),
		uow:         uow.NewUoW(store),
	}
}

func (r *PostgresRepository) Create(ctx context.Context, b *domain.Booking) error {
	return r.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, _ func(uow.AfterCommit)) error {
		return r.BookingRepo.With(tx).Create(ctx, b)
	})
}
