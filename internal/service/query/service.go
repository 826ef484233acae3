package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/showbook/internal/domain"
	redisrepo "github.com/kirinyoku/showbook/internal/repository/redis"
	"github.com/kirinyoku/showbook/internal/service/ledger"
)

// Snapshotter reads the current seat state of a show.
type Snapshotter interface {
	Snapshot(ctx context.Context, showID int64) (*domain.ShowSnapshot, error)
}

type Config struct {
	LayoutTTL       time.Duration
	AvailabilityTTL time.Duration
	Now             func() time.Time
}

// Service serves seat read models from the cache. The ledger drops both
// keys on every seat transition, so the TTLs only bound staleness caused by
// locks lapsing without a transition.
type Service struct {
	ledger Snapshotter
	cache  *redisrepo.Cache
	cfg    Config
}

func New(ledger Snapshotter, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.LayoutTTL <= 0 {
		cfg.LayoutTTL = 30 * time.Second
	}

	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 10 * time.Second
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		ledger: ledger,
		cache:  cache,
		cfg:    cfg,
	}
}

// SeatLayout returns the show's seats grouped by row with per-status counts.
//
// Parameters:
//   - ctx: request-scoped context.
//   - showID: ID of the show.
//
// Returns:
//   - *domain.SeatLayout: the layout, possibly served from cache.
//   - error: query.ErrShowNotFound if the show does not exist.
func (s *Service) SeatLayout(ctx context.Context, showID int64) (*domain.SeatLayout, error) {
	const op = "service.query.SeatLayout"

	layout, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyShowLayout(showID),
		s.cfg.LayoutTTL,
		func(ctx context.Context) (domain.SeatLayout, error) {
			snap, err := s.snapshot(ctx, showID)
			if err != nil {
				return domain.SeatLayout{}, err
			}

			return domain.BuildLayout(snap, s.cfg.Now()), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &layout, nil
}

// Availability counts the show's seats by effective status. Lapsed locks
// count as available.
func (s *Service) Availability(ctx context.Context, showID int64) (*domain.SeatCounts, error) {
	const op = "service.query.Availability"

	counts, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyShowAvailability(showID),
		s.cfg.AvailabilityTTL,
		func(ctx context.Context) (domain.SeatCounts, error) {
			snap, err := s.snapshot(ctx, showID)
			if err != nil {
				return domain.SeatCounts{}, err
			}

			return domain.CountSeats(snap.Seats, s.cfg.Now()), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &counts, nil
}

func (s *Service) snapshot(ctx context.Context, showID int64) (*domain.ShowSnapshot, error) {
	snap, err := s.ledger.Snapshot(ctx, showID)
	if err != nil {
		if errors.Is(err, ledger.ErrShowNotFound) {
			return nil, ErrShowNotFound
		}

		return nil, err
	}

	return snap, nil
}
