package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/showbook/internal/domain"
	"github.com/kirinyoku/showbook/internal/repository"
	postgresrepo "github.com/kirinyoku/showbook/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/showbook/internal/repository/redis"
	"github.com/kirinyoku/showbook/internal/uow"
	"go.uber.org/zap"
)

type Config struct {
	Now func() time.Time
}

type Service struct {
	store *postgresrepo.Store
	cache *redisrepo.Cache
	uow   *uow.UoW
	log   *zap.Logger
	now   func() time.Time
}

func New(store *postgresrepo.Store, cache *redisrepo.Cache, log *zap.Logger, cfg Config) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		store: store,
		cache: cache,
		uow:   uow.NewUoW(store),
		log:   log.With(zap.String("service", "admin")),
		now:   cfg.Now,
	}
}

// CreateVenue creates a venue together with its physical seats.
//
// Parameters:
//   - ctx: request-scoped context.
//   - name: venue name, unique.
//   - seats: the venue's seats; Row, Number and Category are required.
//
// Returns:
//   - int64: the created venue ID on success.
//   - error: admin.ErrVenueConflict if a venue with the same name already
//     exists, admin.ErrInvalidSeats if a seat is incomplete.
func (s *Service) CreateVenue(ctx context.Context, name string, seats []domain.Seat) (int64, error) {
	const op = "service.admin.CreateVenue"

	if err := validateSeats(seats); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var id int64
	err := s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, _ func(uow.AfterCommit)) error {
		var err error
		id, err = s.store.Admin().With(tx).CreateVenue(ctx, name)
		if err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrVenueConflict
			}
			return err
		}

		return s.store.Admin().With(tx).BatchCreateSeats(ctx, id, seats)
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("venue created", zap.Int64("venue_id", id), zap.Int("seats", len(seats)))

	return id, nil
}

type ScheduleShowInput struct {
	EventID         int64
	VenueID         int64
	Title           string
	VenueName       string
	ShowTime        time.Time
	Status          domain.ShowStatus
	PriceByCategory map[string]int64
}

// ScheduleShow creates a show and one AVAILABLE show seat per venue seat,
// priced by the seat's category, in a single transaction. Every category
// present in the venue must be priced.
//
// Returns:
//   - *domain.Show: the created show.
//   - int64: the number of show seats created.
//   - error: admin.ErrInvalidShow, admin.ErrVenueNotFound,
//     admin.ErrVenueHasNoSeats, admin.ErrCategoryNotPriced or
//     admin.ErrShowConflict.
func (s *Service) ScheduleShow(ctx context.Context, in ScheduleShowInput) (*domain.Show, int64, error) {
	const op = "service.admin.ScheduleShow"

	now := s.now()

	if err := validateShow(in, now); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	show := domain.Show{
		EventID:   in.EventID,
		VenueID:   in.VenueID,
		Title:     in.Title,
		VenueName: in.VenueName,
		ShowTime:  in.ShowTime,
		Status:    in.Status,
	}
	if show.Status == "" {
		show.Status = domain.ShowScheduled
	}

	var created int64

	err := s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		repo := s.store.Admin().With(tx)

		cats, err := repo.VenueCategories(ctx, in.VenueID)
		if err != nil {
			return err
		}
		if len(cats) == 0 {
			return ErrVenueHasNoSeats
		}
		for _, c := range cats {
			if _, ok := in.PriceByCategory[c]; !ok {
				return fmt.Errorf("%w: %s", ErrCategoryNotPriced, c)
			}
		}

		show.ID, err = repo.CreateShow(ctx, show, now)
		if err != nil {
			switch {
			case errors.Is(err, repository.ErrConflict):
				return ErrShowConflict
			case errors.Is(err, repository.ErrNotFound):
				return ErrVenueNotFound
			}
			return err
		}

		created, err = repo.InitShowSeats(ctx, show.ID, in.VenueID, in.PriceByCategory)
		if err != nil {
			return err
		}

		after(func(ctx context.Context) {
			if err := s.cache.InvalidateShow(ctx, show.ID); err != nil {
				s.log.Warn("cache invalidation failed", zap.Int64("show_id", show.ID), zap.Error(err))
			}
		})

		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("show scheduled",
		zap.Int64("show_id", show.ID),
		zap.Int64("venue_id", show.VenueID),
		zap.Int64("seats", created),
	)

	return &show, created, nil
}

// UpdateShowStatus moves a show to status. Seat state is left untouched.
func (s *Service) UpdateShowStatus(ctx context.Context, showID int64, status domain.ShowStatus) error {
	const op = "service.admin.UpdateShowStatus"

	if !status.Valid() {
		return fmt.Errorf("%s: %w: %q", op, ErrInvalidShowStatus, status)
	}

	err := s.uow.Do(ctx, func(ctx context.Context, tx postgresrepo.DB, after func(uow.AfterCommit)) error {
		if err := s.store.Shows().With(tx).UpdateStatus(ctx, showID, status, s.now()); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrShowNotFound
			}
			return err
		}

		after(func(ctx context.Context) {
			_ = s.cache.InvalidateShow(ctx, showID)
		})

		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func validateShow(in ScheduleShowInput, now time.Time) error {
	switch {
	case in.VenueID <= 0:
		return fmt.Errorf("%w: venue is required", ErrInvalidShow)
	case in.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidShow)
	case !in.ShowTime.After(now):
		return fmt.Errorf("%w: show time must be in the future", ErrInvalidShow)
	case in.Status != "" && !in.Status.Valid():
		return fmt.Errorf("%w: status %q", ErrInvalidShowStatus, in.Status)
	case len(in.PriceByCategory) == 0:
		return fmt.Errorf("%w: prices are required", ErrInvalidShow)
	}

	for c, p := range in.PriceByCategory {
		if p < 0 {
			return fmt.Errorf("%w: negative price for %s", ErrInvalidShow, c)
		}
	}

	return nil
}

func validateSeats(seats []domain.Seat) error {
	if len(seats) == 0 {
		return fmt.Errorf("%w: at least one seat is required", ErrInvalidSeats)
	}

	type pos struct {
		row string
		num int
	}
	seen := make(map[pos]struct{}, len(seats))

	for i := range seats {
		st := &seats[i]
		if st.Row == "" || st.Number <= 0 || st.Category == "" {
			return fmt.Errorf("%w: seat %d is incomplete", ErrInvalidSeats, i)
		}
		if st.Label == "" {
			st.Label = fmt.Sprintf("%s%d", st.Row, st.Number)
		}

		p := pos{st.Row, st.Number}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("%w: duplicate seat %s", ErrInvalidSeats, st.Label)
		}
		seen[p] = struct{}{}
	}

	return nil
}
