package httpgin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/showbook/internal/catalog"
	"github.com/kirinyoku/showbook/internal/domain"
	redisrepo "github.com/kirinyoku/showbook/internal/repository/redis"
	"github.com/kirinyoku/showbook/internal/service/admin"
	"github.com/kirinyoku/showbook/internal/service/booking"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
)

// Seats is the all-or-nothing seat API of the ledger.
type Seats interface {
	Snapshot(ctx context.Context, showID int64) (*domain.ShowSnapshot, error)
	LockSeats(ctx context.Context, showID int64, seatIDs []int64, userID int64, ttl time.Duration, holdRef string) (*catalog.LockResult, error)
	ConfirmSeats(ctx context.Context, showID int64, seatIDs []int64, userID int64, bookingRef string) (*catalog.ConfirmResult, error)
	ReleaseSeats(ctx context.Context, showID int64, seatIDs []int64, userID int64, holdRef string) error
	ReleaseBookedSeats(ctx context.Context, showID int64, seatIDs []int64, bookingRef string) error
}

type AvailableSeats interface {
	Available(ctx context.Context, showID int64) ([]domain.ShowSeat, error)
}

type Bookings interface {
	Initiate(ctx context.Context, in booking.InitiateInput) (*domain.Booking, error)
	ConfirmPayment(ctx context.Context, in booking.ConfirmPaymentInput) (*domain.Booking, error)
	CancelBooking(ctx context.Context, in booking.CancelInput) (*domain.Booking, error)
	Get(ctx context.Context, bookingNumber string) (*domain.Booking, error)
	ListByUser(ctx context.Context, userID int64, status *domain.BookingStatus) ([]domain.Booking, error)
}

type Queries interface {
	SeatLayout(ctx context.Context, showID int64) (*domain.SeatLayout, error)
	Availability(ctx context.Context, showID int64) (*domain.SeatCounts, error)
}

type Admin interface {
	CreateVenue(ctx context.Context, name string, seats []domain.Seat) (int64, error)
	ScheduleShow(ctx context.Context, in admin.ScheduleShowInput) (*domain.Show, int64, error)
	UpdateShowStatus(ctx context.Context, showID int64, status domain.ShowStatus) error
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SeatEvents delivers committed seat transitions.
type SeatEvents interface {
	Subscribe(ctx context.Context, handler func(ctx context.Context, msg redisrepo.SeatsChanged)) error
}

// Deps are the collaborators of the router. Idempotency, Limiter, Database
// and Events are optional.
type Deps struct {
	Seats       Seats
	Available   AvailableSeats
	Bookings    Bookings
	Queries     Queries
	Admin       Admin
	Events      SeatEvents
	Idempotency *redisrepo.IdempotencyStore
	Limiter     *redisrepo.SlidingWindowLimiter
	Database    Pinger
	// JWTSecret enables bearer token identity.
	JWTSecret string
	// LockTTL is used when a lock request does not name a TTL and is the
	// longest TTL a request may name.
	LockTTL time.Duration
}

type handler struct {
	deps Deps
	log  *zap.Logger
}

func NewRouter(deps Deps, logger *zap.Logger, middlewares ...gin.HandlerFunc) *gin.Engine {
	if deps.LockTTL <= 0 {
		deps.LockTTL = 5 * time.Minute
	}

	h := &handler{deps: deps, log: logger.With(zap.String("component", "http"))}

	r := gin.New()

	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggingMiddleware(logger), CORS(), IdentityMiddleware(deps.JWTSecret))
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.GET("/healthz", h.healthz)

	shows := r.Group("/shows/:id")
	{
		shows.GET("/snapshot", h.getSnapshot)
		shows.GET("/availability", h.getAvailability)
		shows.GET("/seats", h.getSeatLayout)
		shows.GET("/seats/available", h.getAvailableSeats)
		shows.GET("/seats/stream", h.streamSeats)
		shows.POST("/seats/lock", h.lockSeats)
		shows.POST("/seats/release", h.releaseSeats)
		shows.POST("/seats/confirm", h.confirmSeats)
		shows.POST("/seats/release-booked", h.releaseBookedSeats)
	}

	bookings := r.Group("/bookings")
	{
		bookings.POST("/initiate", h.initiateBooking)
		bookings.POST("/confirm-payment", h.confirmPayment)
		bookings.POST("/cancel", h.cancelBooking)
		bookings.GET("/:number", h.getBooking)
	}

	r.GET("/users/:id/bookings", h.listUserBookings)

	// TODO: restrict /admin to an operator role once tokens carry roles.
	adm := r.Group("/admin")
	{
		adm.POST("/venues", h.createVenue)
		adm.POST("/shows", h.scheduleShow)
		adm.PATCH("/shows/:id/status", h.updateShowStatus)
	}

	return r
}

func (h *handler) healthz(c *gin.Context) {
	if h.deps.Database != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := h.deps.Database.Ping(ctx); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}
