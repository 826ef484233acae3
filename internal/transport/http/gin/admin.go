package httpgin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/showbook/internal/domain"
	"github.com/kirinyoku/showbook/internal/service/admin"
)

// @Summary  Create venue with its seats
// @Param    req  body  CreateVenueRequest  true  "payload"
// @Success  201  {object}  CreateVenueResponse
// @Failure  409  {object}  ErrorResponse
// @Router   /admin/venues [post]
func (h *handler) createVenue(c *gin.Context) {
	var req CreateVenueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	seats := make([]domain.Seat, 0, len(req.Seats))
	for _, s := range req.Seats {
		seats = append(seats, domain.Seat{
			Row:      s.Row,
			Number:   s.Number,
			Label:    s.Label,
			Category: strings.ToUpper(s.Category),
		})
	}

	id, err := h.deps.Admin.CreateVenue(c.Request.Context(), req.Name, seats)
	if err != nil {
		h.respondErr(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateVenueResponse{VenueID: id})
}

// @Summary  Schedule a show and price its seats
// @Param    req  body  ScheduleShowRequest  true  "payload"
// @Success  201  {object}  ScheduleShowResponse
// @Failure  400  {object}  ErrorResponse
// @Failure  409  {object}  ErrorResponse
// @Router   /admin/shows [post]
func (h *handler) scheduleShow(c *gin.Context) {
	var req ScheduleShowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	showTime, err := parseRFC3339(req.ShowTime)
	if err != nil {
		badRequest(c, "invalid show_time (RFC3339)")
		return
	}

	prices := make(map[string]int64, len(req.PriceByCategory))
	for cat, p := range req.PriceByCategory {
		prices[strings.ToUpper(cat)] = p
	}

	show, n, err := h.deps.Admin.ScheduleShow(c.Request.Context(), admin.ScheduleShowInput{
		EventID:         req.EventID,
		VenueID:         req.VenueID,
		Title:           req.Title,
		VenueName:       req.VenueName,
		ShowTime:        showTime,
		Status:          domain.ShowStatus(strings.ToUpper(req.Status)),
		PriceByCategory: prices,
	})
	if err != nil {
		h.respondErr(c, err)
		return
	}

	c.JSON(http.StatusCreated, ScheduleShowResponse{Show: *show, SeatsCreated: n})
}

// @Summary  Change show status
// @Param    id   path  int                      true  "Show ID"
// @Param    req  body  UpdateShowStatusRequest  true  "payload"
// @Success  204
// @Failure  404  {object}  ErrorResponse
// @Router   /admin/shows/{id}/status [patch]
func (h *handler) updateShowStatus(c *gin.Context) {
	showID, ok := parseInt64Param(c, "id")
	if !ok {
		return
	}

	var req UpdateShowStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	status := domain.ShowStatus(strings.ToUpper(req.Status))
	if err := h.deps.Admin.UpdateShowStatus(c.Request.Context(), showID, status); err != nil {
		h.respondErr(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
