package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/showbook/internal/domain"
	"github.com/kirinyoku/showbook/internal/repository"
	"go.uber.org/zap"
)

type SeatRepository interface {
	ListByShow(ctx context.Context, showID int64) ([]domain.ShowSeat, error)
	Lock(ctx context.Context, showID int64, seatIDs []int64, userID int64, holdRef string, now, until time.Time) ([]domain.ShowSeat, error)
	Confirm(ctx context.Context, showID int64, seatIDs []int64, userID int64, bookingRef string, now time.Time) ([]int64, error)
	ReleaseLocked(ctx context.Context, showID int64, seatIDs []int64, userID int64, holdRef string, now time.Time) ([]int64, error)
	ReleaseBooked(ctx context.Context, showID int64, seatIDs []int64, bookingRef string, now time.Time) ([]int64, error)
	ReleaseExpiredLocks(ctx context.Context, now time.Time) ([]int64, error)
}

type ShowRepository interface {
	Get(ctx context.Context, id int64) (*domain.Show, error)
}

// Invalidator drops cached read models of a show.
type Invalidator interface {
	InvalidateShow(ctx context.Context, showID int64) error
}

// Publisher broadcasts committed seat transitions.
type Publisher interface {
	PublishSeatsChanged(ctx context.Context, showID int64, seatIDs []int64, status string) error
}

type Config struct {
	// Now is the clock used for lock deadlines and expiry checks.
	Now func() time.Time
}

// Service is the seat ledger: the source of truth for per-show seat state.
// Each seat transition is a compare-and-set on the seat row, so of any number
// of concurrent lockers of a seat exactly one wins.
type Service struct {
	seats  SeatRepository
	shows  ShowRepository
	cache  Invalidator
	pubsub Publisher
	log    *zap.Logger
	now    func() time.Time
}

func New(
	seats SeatRepository,
	shows ShowRepository,
	cache Invalidator,
	pubsub Publisher,
	log *zap.Logger,
	cfg Config,
) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		seats:  seats,
		shows:  shows,
		cache:  cache,
		pubsub: pubsub,
		log:    log.With(zap.String("service", "ledger")),
		now:    cfg.Now,
	}
}

type LockRequest struct {
	ShowID  int64
	SeatIDs []int64
	UserID  int64
	TTL     time.Duration
	// HoldRef tags the locked rows so a later Release can target this hold
	// only.
	HoldRef string
}

type LockResult struct {
	ShowID           int64
	Requested        []int64
	LockedSeatIDs    []int64
	LockedSeatLabels []string
	LockExpiresAt    time.Time
	TotalPriceCents  int64
}

// Complete reports whether every requested seat was locked.
func (r *LockResult) Complete() bool {
	return len(r.LockedSeatIDs) == len(r.Requested)
}

// Rejected returns the requested seats that were not locked.
func (r *LockResult) Rejected() []int64 {
	return difference(r.Requested, r.LockedSeatIDs)
}

type ConfirmRequest struct {
	ShowID     int64
	SeatIDs    []int64
	UserID     int64
	BookingRef string
}

type ConfirmResult struct {
	Confirmed []int64
	Rejected  []int64
}

// Snapshot returns the show and all of its seats, read straight from the
// database.
//
// Parameters:
//   - ctx: request-scoped context.
//   - showID: show to read.
//
// Returns:
//   - *domain.ShowSnapshot: the show with its seats ordered by row and number.
//   - error: ledger.ErrShowNotFound if the show does not exist.
func (s *Service) Snapshot(ctx context.Context, showID int64) (*domain.ShowSnapshot, error) {
	const op = "service.ledger.Snapshot"

	show, err := s.getShow(ctx, showID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	seats, err := s.seats.ListByShow(ctx, showID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &domain.ShowSnapshot{Show: *show, Seats: seats}, nil
}

// Available returns the seats that can be locked right now, including seats
// whose lock has lapsed but not yet been swept.
func (s *Service) Available(ctx context.Context, showID int64) ([]domain.ShowSeat, error) {
	const op = "service.ledger.Available"

	snap, err := s.Snapshot(ctx, showID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	out := make([]domain.ShowSeat, 0, len(snap.Seats))
	for i := range snap.Seats {
		if snap.Seats[i].Available(now) {
			out = append(out, snap.Seats[i])
		}
	}

	return out, nil
}

// Lock locks as many of the requested seats as it can for req.UserID until
// now+TTL. It never rolls back a partial result; callers that need all seats
// check LockResult.Complete and release the accepted subset themselves.
//
// Returns:
//   - *LockResult: accepted seats, their labels, total price and deadline.
//   - error: ledger.ErrNoSeatsSelected, ledger.ErrShowNotFound,
//     ledger.ErrShowNotBookable or ledger.ErrSeatsNotFound.
func (s *Service) Lock(ctx context.Context, req LockRequest) (*LockResult, error) {
	const op = "service.ledger.Lock"

	ids := dedupe(req.SeatIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSeatsSelected)
	}

	now := s.now()

	show, err := s.getShow(ctx, req.ShowID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !show.Bookable(now) {
		return nil, fmt.Errorf("%s: %w", op, ErrShowNotBookable)
	}

	if err := s.ensureSeatsExist(ctx, req.ShowID, ids); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	until := now.Add(req.TTL)

	locked, err := s.seats.Lock(ctx, req.ShowID, ids, req.UserID, req.HoldRef, now, until)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res := &LockResult{
		ShowID:        req.ShowID,
		Requested:     ids,
		LockExpiresAt: until,
	}
	for _, seat := range locked {
		res.LockedSeatIDs = append(res.LockedSeatIDs, seat.ID)
		res.LockedSeatLabels = append(res.LockedSeatLabels, seat.Label)
		res.TotalPriceCents += seat.PriceCents
	}

	s.log.Info("seats locked",
		zap.Int64("show_id", req.ShowID),
		zap.Int64("user_id", req.UserID),
		zap.Int("requested", len(ids)),
		zap.Int("locked", len(res.LockedSeatIDs)),
	)

	s.changed(ctx, req.ShowID, res.LockedSeatIDs, domain.SeatLocked)

	return res, nil
}

// Confirm books seats the user holds an unexpired lock on. Seats already
// booked under the same reference count as confirmed.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	const op = "service.ledger.Confirm"

	ids := dedupe(req.SeatIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNoSeatsSelected)
	}

	if req.BookingRef == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrBookingRefNeeded)
	}

	confirmed, err := s.seats.Confirm(ctx, req.ShowID, ids, req.UserID, req.BookingRef, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res := &ConfirmResult{
		Confirmed: confirmed,
		Rejected:  difference(ids, confirmed),
	}

	if len(res.Rejected) > 0 {
		s.log.Warn("seat confirmation partially rejected",
			zap.Int64("show_id", req.ShowID),
			zap.String("booking_ref", req.BookingRef),
			zap.Int64s("rejected", res.Rejected),
		)
	}

	s.changed(ctx, req.ShowID, confirmed, domain.SeatBooked)

	return res, nil
}

// Release frees seats locked by requesterID. A non-empty holdRef limits the
// release to seats still held under that reference. Other seats are ignored.
func (s *Service) Release(
	ctx context.Context,
	showID int64,
	seatIDs []int64,
	requesterID int64,
	holdRef string,
) ([]int64, error) {
	const op = "service.ledger.Release"

	ids := dedupe(seatIDs)
	if len(ids) == 0 {
		return nil, nil
	}

	released, err := s.seats.ReleaseLocked(ctx, showID, ids, requesterID, holdRef, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.changed(ctx, showID, released, domain.SeatAvailable)

	return released, nil
}

// ReleaseBooked frees booked seats, restricted to bookingRef when it is set.
func (s *Service) ReleaseBooked(ctx context.Context, showID int64, seatIDs []int64, bookingRef string) ([]int64, error) {
	const op = "service.ledger.ReleaseBooked"

	ids := dedupe(seatIDs)
	if len(ids) == 0 {
		return nil, nil
	}

	released, err := s.seats.ReleaseBooked(ctx, showID, ids, bookingRef, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("booked seats released",
		zap.Int64("show_id", showID),
		zap.String("booking_ref", bookingRef),
		zap.Int("released", len(released)),
	)

	s.changed(ctx, showID, released, domain.SeatAvailable)

	return released, nil
}

// ReleaseExpiredLocks frees every lapsed lock regardless of owner. It is run
// periodically by the sweeper.
func (s *Service) ReleaseExpiredLocks(ctx context.Context) (int64, error) {
	const op = "service.ledger.ReleaseExpiredLocks"

	showIDs, err := s.seats.ReleaseExpiredLocks(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	seen := make(map[int64]struct{}, len(showIDs))
	for _, id := range showIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		s.notify(ctx, id, nil, domain.SeatAvailable)
	}

	return int64(len(showIDs)), nil
}

func (s *Service) getShow(ctx context.Context, showID int64) (*domain.Show, error) {
	show, err := s.shows.Get(ctx, showID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrShowNotFound
		}
		return nil, err
	}

	return show, nil
}

func (s *Service) ensureSeatsExist(ctx context.Context, showID int64, ids []int64) error {
	seats, err := s.seats.ListByShow(ctx, showID)
	if err != nil {
		return err
	}

	known := make(map[int64]struct{}, len(seats))
	for _, seat := range seats {
		known[seat.ID] = struct{}{}
	}

	for _, id := range ids {
		if _, ok := known[id]; !ok {
			return ErrSeatsNotFound
		}
	}

	return nil
}

func (s *Service) changed(ctx context.Context, showID int64, seatIDs []int64, status domain.SeatStatus) {
	if len(seatIDs) == 0 {
		return
	}

	s.notify(ctx, showID, seatIDs, status)
}

// notify invalidates cached views and tells subscribers. Failures are
// logged; the transition itself is already durable.
func (s *Service) notify(ctx context.Context, showID int64, seatIDs []int64, status domain.SeatStatus) {
	if s.cache != nil {
		if err := s.cache.InvalidateShow(ctx, showID); err != nil {
			s.log.Warn("cache invalidation failed", zap.Int64("show_id", showID), zap.Error(err))
		}
	}

	if s.pubsub != nil {
		if err := s.pubsub.PublishSeatsChanged(ctx, showID, seatIDs, string(status)); err != nil {
			s.log.Warn("seat change publish failed", zap.Int64("show_id", showID), zap.Error(err))
		}
	}
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// difference returns the elements of all that are not in subset, in order.
func difference(all, subset []int64) []int64 {
	in := make(map[int64]struct{}, len(subset))
	for _, id := range subset {
		in[id] = struct{}{}
	}

	var out []int64
	for _, id := range all {
		if _, ok := in[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
