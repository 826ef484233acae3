package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/showbook/internal/config"
	"github.com/kirinyoku/showbook/internal/domain"
	"github.com/kirinyoku/showbook/internal/payment"
	"github.com/kirinyoku/showbook/internal/postgres"
	"github.com/kirinyoku/showbook/internal/queue"
	"github.com/kirinyoku/showbook/internal/redis"
	postgresrepo "github.com/kirinyoku/showbook/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/showbook/internal/repository/redis"
	"github.com/kirinyoku/showbook/internal/service"
	"github.com/kirinyoku/showbook/internal/service/booking"
	"github.com/kirinyoku/showbook/internal/service/lock"
	"github.com/kirinyoku/showbook/internal/service/query"
	"github.com/kirinyoku/showbook/internal/sweeper"
	httpgin "github.com/kirinyoku/showbook/internal/transport/http/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	pool       *pgxpool.Pool
	rdb        *goredis.Client
	publisher  *queue.Publisher
	services   *service.Services
	sweepers   *sweeper.Runner
	consumer   *queue.Consumer
	httpServer *http.Server
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	pool, err := postgres.New(ctx, postgres.Config{DSN: cfg.Postgres.DSN(), MaxConns: cfg.Postgres.MaxConns})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	store := postgresrepo.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	rdb, err := redis.New(ctx, redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	cache := redisrepo.NewCache(rdb)
	pubsub := redisrepo.NewShowSeatsPubSub(rdb)
	seatLocks := redisrepo.NewSeatLocks(rdb)
	idempotency := redisrepo.NewIdempotencyStore(rdb, cfg.Server.IdempotencyTTL)

	var limiter *redisrepo.SlidingWindowLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = redisrepo.NewSlidingWindowLimiter(rdb, "initiate", cfg.Server.RateLimit, time.Minute)
	}

	a := &App{cfg: cfg, logger: logger, pool: pool, rdb: rdb}

	var retries booking.ReconciliationQueue = queue.NewLogOnly(logger)
	if cfg.RabbitMQ.URL != "" {
		a.publisher = queue.NewPublisher(cfg.RabbitMQ.URL, logger)
		retries = a.publisher
	} else {
		logger.Warn("RABBITMQ_URL is empty, failed seat confirmations will only be logged")
	}

	a.services = service.NewServices(
		store,
		cache,
		pubsub,
		seatLocks,
		payment.NewSimulator(cfg.Booking.PaymentLatency, logger),
		retries,
		logger,
		service.Config{
			Lock: lock.Config{
				RetryAttempts: cfg.Booking.LockRetryAttempts,
				RetryDelay:    cfg.Booking.LockRetryDelay,
				OpTimeout:     cfg.Booking.LockOpTimeout,
			},
			Booking: booking.Config{
				LockTTL:         cfg.Booking.LockDuration,
				Pricing:         domain.NewPricing(cfg.Booking.ConvenienceFeePercent, cfg.Booking.TaxPercent),
				PaymentTimeout:  cfg.Booking.PaymentTimeout,
				ExpireBatchSize: cfg.Sweeper.BatchSize,
				StallTimeout:    cfg.Sweeper.StallTimeout,
			},
			Query:          query.Config{},
			CatalogTimeout: cfg.Booking.CatalogTimeout,
			CatalogURL:     cfg.Catalog.URL,
		},
	)

	a.sweepers = sweeper.New(logger,
		sweeper.Job{
			Name:     "expire-pending-bookings",
			Interval: cfg.Sweeper.Interval,
			Run:      a.services.Booking.ExpirePendingBookings,
		},
		sweeper.Job{
			Name:     "resume-stalled-cancellations",
			Interval: cfg.Sweeper.Interval,
			Run:      a.services.Booking.ResumeStalledCancellations,
		},
		sweeper.Job{
			Name:     "release-expired-seat-locks",
			Interval: cfg.Sweeper.Interval,
			Run:      a.services.Ledger.ReleaseExpiredLocks,
		},
	)

	if a.publisher != nil {
		a.consumer = queue.NewConsumer(queue.ConsumerConfig{
			URL:         cfg.RabbitMQ.URL,
			MaxAttempts: cfg.RabbitMQ.MaxAttempts,
			RetryDelay:  cfg.RabbitMQ.RetryDelay,
		}, a.publisher, logger)
	}

	router := httpgin.NewRouter(httpgin.Deps{
		Seats:       a.services.Seats,
		Available:   a.services.Ledger,
		Bookings:    a.services.Booking,
		Queries:     a.services.Query,
		Admin:       a.services.Admin,
		Events:      pubsub,
		Idempotency: idempotency,
		Limiter:     limiter,
		Database:    store,
		JWTSecret:   cfg.Auth.JWTSecret,
		LockTTL:     cfg.Booking.LockDuration,
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return a, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer a.close()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server listening", zap.String("host", a.cfg.Server.Host), zap.Int("port", a.cfg.Server.Port))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.sweepers.Run(gCtx)
	})

	if a.consumer != nil {
		g.Go(func() error {
			return a.consumer.Run(gCtx, a.services.Booking.RetrySeatConfirmation)
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}

func (a *App) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("close publisher", zap.Error(err))
		}
	}
	if err := a.rdb.Close(); err != nil {
		a.logger.Warn("close redis", zap.Error(err))
	}
	a.pool.Close()
}
