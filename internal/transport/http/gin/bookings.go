package httpgin

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/showbook/internal/domain"
	redisrepo "github.com/kirinyoku/showbook/internal/repository/redis"
	"github.com/kirinyoku/showbook/internal/service/booking"
	"go.uber.org/zap"
)

const idemPendingTTL = 60 * time.Second

// @Summary  Initiate booking (idempotent)
// @Param    req              body    InitiateBookingRequest  true   "payload"
// @Param    Idempotency-Key  header  string                  false  "replay key"
// @Success  201  {object}  BookingResponse
// @Failure  409  {object}  ErrorResponse  "seats unavailable / idem in progress"
// @Failure  422  {object}  ErrorResponse  "show not open for booking"
// @Failure  429  {object}  ErrorResponse  "rate limited"
// @Failure  503  {object}  ErrorResponse
// @Router   /bookings/initiate [post]
func (h *handler) initiateBooking(c *gin.Context) {
	var req InitiateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	userID, ok := resolveUser(c, req.UserID)
	if !ok {
		return
	}

	if !h.allow(c, userID) {
		return
	}

	ctx := c.Request.Context()

	idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	var storageKey string
	if h.deps.Idempotency != nil && idemKey != "" {
		storageKey = redisrepo.KeyIdemInitiate(userID, idemKey)

		if h.replay(c, storageKey, idemKey) {
			return
		}

		began, err := h.deps.Idempotency.Begin(ctx, storageKey, idemPendingTTL)
		if err != nil {
			h.log.Warn("idempotency store unavailable", zap.Error(err))
			storageKey = ""
		} else if !began {
			if h.replay(c, storageKey, idemKey) {
				return
			}
			c.Header("Retry-After", "1")
			c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
			return
		}
	}

	b, err := h.deps.Bookings.Initiate(ctx, booking.InitiateInput{
		ShowID:    req.ShowID,
		SeatIDs:   req.SeatIDs,
		UserID:    userID,
		UserEmail: req.UserEmail,
		UserPhone: req.UserPhone,
	})
	if err != nil {
		if storageKey != "" {
			_ = h.deps.Idempotency.Abort(context.WithoutCancel(ctx), storageKey)
		}
		h.respondErr(c, err)
		return
	}

	resp := newBookingResponse(b)

	if storageKey != "" {
		payload, err := json.Marshal(resp)
		if err == nil {
			err = h.deps.Idempotency.SaveResult(context.WithoutCancel(ctx), storageKey, payload)
		}
		if err != nil {
			h.log.Warn("idempotent result not saved", zap.String("booking_number", b.BookingNumber), zap.Error(err))
		}
		c.Header("Idempotency-Key", idemKey)
	}

	c.JSON(http.StatusCreated, resp)
}

// replay writes a stored initiate response, if there is one.
func (h *handler) replay(c *gin.Context, storageKey, idemKey string) bool {
	payload, ok, err := h.deps.Idempotency.GetResult(c.Request.Context(), storageKey)
	if err != nil || !ok {
		return false
	}

	c.Header("Idempotency-Key", idemKey)
	c.Data(http.StatusCreated, "application/json; charset=utf-8", payload)

	return true
}

// allow applies the per-user rate limit. A limiter failure lets the request
// through.
func (h *handler) allow(c *gin.Context, userID int64) bool {
	if h.deps.Limiter == nil {
		return true
	}

	d, err := h.deps.Limiter.Allow(c.Request.Context(), "user:"+strconv.FormatInt(userID, 10))
	if err != nil {
		h.log.Warn("rate limiter unavailable", zap.Error(err))
		return true
	}

	if !d.Allowed {
		secs := int(math.Ceil(d.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
		return false
	}

	return true
}

// @Summary  Pay for a pending booking
// @Param    req  body  ConfirmPaymentRequest  true  "payload"
// @Success  200  {object}  BookingResponse
// @Failure  402  {object}  ErrorResponse  "payment declined"
// @Failure  403  {object}  ErrorResponse
// @Failure  409  {object}  ErrorResponse
// @Failure  410  {object}  ErrorResponse  "booking expired"
// @Router   /bookings/confirm-payment [post]
func (h *handler) confirmPayment(c *gin.Context) {
	var req ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	userID, ok := resolveUser(c, req.UserID)
	if !ok {
		return
	}

	b, err := h.deps.Bookings.ConfirmPayment(c.Request.Context(), booking.ConfirmPaymentInput{
		BookingNumber: req.BookingNumber,
		UserID:        userID,
		Method:        domain.PaymentMethod(strings.ToUpper(req.PaymentMethod)),
		Token:         req.PaymentToken,
	})
	if err != nil {
		h.respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, newBookingResponse(b))
}

// @Summary  Cancel a booking
// @Param    req  body  CancelBookingRequest  true  "payload"
// @Success  200  {object}  BookingResponse
// @Failure  403  {object}  ErrorResponse
// @Failure  409  {object}  ErrorResponse
// @Router   /bookings/cancel [post]
func (h *handler) cancelBooking(c *gin.Context) {
	var req CancelBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	userID, ok := resolveUser(c, req.UserID)
	if !ok {
		return
	}

	b, err := h.deps.Bookings.CancelBooking(c.Request.Context(), booking.CancelInput{
		BookingNumber: req.BookingNumber,
		UserID:        userID,
		Reason:        req.Reason,
	})
	if err != nil {
		h.respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, newBookingResponse(b))
}

// @Summary  Get booking
// @Param    number  path  string  true  "Booking number"
// @Success  200  {object}  BookingResponse
// @Failure  403  {object}  ErrorResponse
// @Failure  404  {object}  ErrorResponse
// @Router   /bookings/{number} [get]
func (h *handler) getBooking(c *gin.Context) {
	b, err := h.deps.Bookings.Get(c.Request.Context(), c.Param("number"))
	if err != nil {
		h.respondErr(c, err)
		return
	}

	if v, ok := c.Get(ctxUserID); ok && v.(int64) != b.UserID {
		h.respondErr(c, booking.ErrPermissionDenied)
		return
	}

	c.JSON(http.StatusOK, newBookingResponse(b))
}

// @Summary  List a user's bookings
// @Param    id      path   int     true   "User ID"
// @Param    status  query  string  false  "PENDING, CONFIRMED, CANCELLED, EXPIRED or FAILED"
// @Success  200  {array}  BookingResponse
// @Router   /users/{id}/bookings [get]
func (h *handler) listUserBookings(c *gin.Context) {
	pathID, ok := parseInt64Param(c, "id")
	if !ok {
		return
	}

	userID, ok := resolveUser(c, pathID)
	if !ok {
		return
	}

	var status *domain.BookingStatus
	if q := c.Query("status"); q != "" {
		s := domain.BookingStatus(strings.ToUpper(q))
		if !s.Valid() {
			badRequest(c, "invalid status")
			return
		}
		status = &s
	}

	list, err := h.deps.Bookings.ListByUser(c.Request.Context(), userID, status)
	if err != nil {
		h.respondErr(c, err)
		return
	}

	out := make([]BookingResponse, 0, len(list))
	for i := range list {
		out = append(out, newBookingResponse(&list[i]))
	}

	c.JSON(http.StatusOK, out)
}
