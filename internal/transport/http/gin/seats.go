package httpgin

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/showbook/internal/domain"
)

// @Summary  Show snapshot (uncached)
// @Param    id  path  int  true  "Show ID"
// @Success  200  {object}  domain.ShowSnapshot
// @Failure  404  {object}  ErrorResponse
// @Router   /shows/{id}/snapshot [get]
func (h *handler) getSnapshot(c *gin.Context) {
	showID, ok := parseInt64Param(c, "id")
	if !ok {
		return
	}

	snap, err := h.deps.Seats.Snapshot(c.Request.Context(), showID)
	if err != nil {
		h.respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

// @Summary  Seat layout grouped by row
// @Param    id  path  int  true  "Show ID"
// @Success  200  {object}  domain.SeatLayout
// @Failure  404  {object}  ErrorResponse
// @Router   /shows/{id}/seats [get]
func (h *handler) getSeatLayout(c *gin.Context) {
	showID, ok := parseInt64Param(c, "id")
	if !ok {
		return
	}

	layout, err := h.deps.Queries.SeatLayout(c.Request.Context(), showID)
	if err != nil {
		h.respondErr(c, err)
		return
	}

	writeJSONWithCache(c, http.StatusOK, layout, "public, max-age=5")
}

// @Summary  Seat counters by status
// @Param    id  path  int  true  "Show ID"
// @Success  200  {object}  domain.SeatCounts
// @Router   /shows/{id}/availability [get]
func (h *handler) getAvailability(c *gin.Context) {
	showID, ok := parseInt64Param(c, "id")
	if !ok {
		return
	}

	counts, err := h.deps.Queries.Availability(c.Request.Context(), showID)
	if err != nil {
		h.respondErr(c, err)
		return
	}

	writeJSONWithCache(c, http.StatusOK, counts, "public, max-age=5")
}

// @Summary  Seats that can be locked now
// @Param    id  path  int  true  "Show ID"
// @Success  200  {object}  AvailableSeatsResponse
// @Router   /shows/{id}/seats/available [get]
func (h *handler) getAvailableSeats(c *gin.Context) {
	showID, ok := parseInt64Param(c, "id")
	if !ok {
		return
	}

	seats, err := h.deps.Available.Available(c.Request.Context(), showID)
	if err != nil {
		h.respondErr(c, err)
		return
	}

	if seats == nil {
		seats = []domain.ShowSeat{}
	}

	c.JSON(http.StatusOK, AvailableSeatsResponse{ShowID: showID, Seats: seats})
}

// @Summary  Lock seats (all or nothing)
// @Param    id   path  int               true  "Show ID"
// @Param    req  body  LockSeatsRequest  true  "payload"
// @Success  200  {object}  LockSeatsResponse
// @Failure  400  {object}  ErrorResponse  "ttl_seconds above the configured lock TTL"
// @Failure  409  {object}  ErrorResponse  "some seats are not available"
// @Failure  422  {object}  ErrorResponse  "show not open for booking"
// @Router   /shows/{id}/seats/lock [post]
func (h *handler) lockSeats(c *gin.Context) {
	showID, ok := parseInt64Param(c, "id")
	if !ok {
		return
	}

	var req LockSeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	userID, ok := resolveUser(c, req.UserID)
	if !ok {
		return
	}

	ttl := h.deps.LockTTL
	if maxSeconds := int64(ttl / time.Second); req.TTLSeconds > maxSeconds {
		badRequest(c, fmt.Sprintf("ttl_seconds must not exceed %d", maxSeconds))
		return
	}
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	res, err := h.deps.Seats.LockSeats(c.Request.Context(), showID, req.SeatIDs, userID, ttl, req.HoldRef)
	if err != nil {
		h.respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, LockSeatsResponse{
		ShowID:           showID,
		LockedSeatIDs:    res.LockedSeatIDs,
		LockedSeatLabels: res.LockedSeatLabels,
		LockExpiresAt:    res.LockExpiresAt,
		TotalPriceCents:  res.TotalPriceCents,
		TotalPrice:       domain.CentsToAmount(res.TotalPriceCents),
	})
}

// @Summary  Release seats locked by the caller
// @Param    id         path    int           true  "Show ID"
// @Param    X-User-Id  header  int           false "caller"
// @Param    req        body    SeatsRequest  true  "payload"
// @Success  204
// @Router   /shows/{id}/seats/release [post]
func (h *handler) releaseSeats(c *gin.Context) {
	showID, ok := parseInt64Param(c, "id")
	if !ok {
		return
	}

	var req SeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	userID, ok := resolveUser(c, 0)
	if !ok {
		return
	}

	if err := h.deps.Seats.ReleaseSeats(c.Request.Context(), showID, req.SeatIDs, userID, req.HoldRef); err != nil {
		h.respondErr(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// @Summary  Book seats locked by the caller
// @Param    id         path    int           true  "Show ID"
// @Param    X-User-Id  header  int           false "caller"
// @Param    req        body    SeatsRequest  true  "payload"
// @Success  200  {object}  ConfirmSeatsResponse
// @Router   /shows/{id}/seats/confirm [post]
func (h *handler) confirmSeats(c *gin.Context) {
	showID, ok := parseInt64Param(c, "id")
	if !ok {
		return
	}

	var req SeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	userID, ok := resolveUser(c, 0)
	if !ok {
		return
	}

	res, err := h.deps.Seats.ConfirmSeats(c.Request.Context(), showID, req.SeatIDs, userID, req.BookingRef)
	if err != nil {
		h.respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, ConfirmSeatsResponse{
		ConfirmedSeatIDs: orEmpty(res.Confirmed),
		RejectedSeatIDs:  orEmpty(res.Rejected),
	})
}

// @Summary  Free booked seats (internal)
// @Param    id   path  int           true  "Show ID"
// @Param    req  body  SeatsRequest  true  "payload"
// @Success  204
// @Router   /shows/{id}/seats/release-booked [post]
func (h *handler) releaseBookedSeats(c *gin.Context) {
	showID, ok := parseInt64Param(c, "id")
	if !ok {
		return
	}

	var req SeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.deps.Seats.ReleaseBookedSeats(c.Request.Context(), showID, req.SeatIDs, req.BookingRef); err != nil {
		h.respondErr(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func orEmpty(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
