package service

import (
	"time"

	"github.com/kirinyoku/showbook/internal/catalog"
	postgres "github.com/kirinyoku/showbook/internal/repository/postgres"
	redis "github.com/kirinyoku/showbook/internal/repository/redis"
	"github.com/kirinyoku/showbook/internal/service/admin"
	"github.com/kirinyoku/showbook/internal/service/booking"
	"github.com/kirinyoku/showbook/internal/service/ledger"
	"github.com/kirinyoku/showbook/internal/service/lock"
	"github.com/kirinyoku/showbook/internal/service/query"
	"go.uber.org/zap"
)

type Services struct {
	Ledger  *ledger.Service
	Seats   *catalog.Local
	Locks   *lock.Coordinator
	Booking *booking.Service
	Query   *query.Service
	Admin   *admin.Service
}

type Config struct {
	Lock           lock.Config
	Booking        booking.Config
	Query          query.Config
	CatalogTimeout time.Duration
	// CatalogURL selects the HTTP catalog client. Empty uses the ledger
	// in-process.
	CatalogURL string
}

func NewServices(
	store *postgres.Store,
	cache *redis.Cache,
	pubsub *redis.ShowSeatsPubSub,
	locks *redis.SeatLocks,
	payments booking.PaymentGateway,
	retries booking.ReconciliationQueue,
	log *zap.Logger,
	cfg Config,
) *Services {
	led := ledger.New(store.ShowSeats(), store.Shows(), cache, pubsub, log, ledger.Config{Now: cfg.Booking.Now})
	coord := lock.New(locks, cfg.Lock, log)

	seats := catalog.NewLocal(led, cfg.CatalogTimeout)

	var cat booking.Catalog = seats
	if cfg.CatalogURL != "" {
		cat = catalog.NewHTTPClient(cfg.CatalogURL, cfg.CatalogTimeout)
	}

	return &Services{
		Ledger:  led,
		Seats:   seats,
		Locks:   coord,
		Booking: booking.New(booking.NewPostgresRepository(store), cat, coord, payments, retries, log, cfg.Booking),
		Query:   query.New(led, cache, cfg.Query),
		Admin:   admin.New(store, cache, log, admin.Config{}),
	}
}
