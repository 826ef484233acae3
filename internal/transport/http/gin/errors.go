package httpgin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kirinyoku/showbook/internal/catalog"
	"github.com/kirinyoku/showbook/internal/service/admin"
	"github.com/kirinyoku/showbook/internal/service/booking"
	"github.com/kirinyoku/showbook/internal/service/ledger"
	"github.com/kirinyoku/showbook/internal/service/query"
	"go.uber.org/zap"
)

const retryAfterSeconds = "5"

type errorMapping struct {
	target error
	status int
}

// errorTable is matched in order, so specific errors come before the
// generic ones that may also be in their chain.
var errorTable = []errorMapping{
	// booking
	{booking.ErrNoSeatsSelected, http.StatusBadRequest},
	{booking.ErrInvalidPaymentMethod, http.StatusBadRequest},
	{booking.ErrShowNotFound, http.StatusNotFound},
	{booking.ErrSeatNotFound, http.StatusNotFound},
	{booking.ErrBookingNotFound, http.StatusNotFound},
	{booking.ErrShowNotBookable, http.StatusUnprocessableEntity},
	{booking.ErrSeatUnavailable, http.StatusConflict},
	{booking.ErrSeatLockFailure, http.StatusConflict},
	{booking.ErrInvalidBookingState, http.StatusConflict},
	{booking.ErrBookingConflict, http.StatusConflict},
	{booking.ErrBookingExpired, http.StatusGone},
	{booking.ErrPaymentFailed, http.StatusPaymentRequired},
	{booking.ErrPermissionDenied, http.StatusForbidden},
	{booking.ErrServiceUnavailable, http.StatusServiceUnavailable},

	// ledger
	{ledger.ErrNoSeatsSelected, http.StatusBadRequest},
	{ledger.ErrBookingRefNeeded, http.StatusBadRequest},
	{ledger.ErrShowNotFound, http.StatusNotFound},
	{ledger.ErrSeatsNotFound, http.StatusNotFound},
	{ledger.ErrShowNotBookable, http.StatusUnprocessableEntity},
	{ledger.ErrSeatUnavailable, http.StatusConflict},

	// catalog
	{catalog.ErrInvalid, http.StatusBadRequest},
	{catalog.ErrNotFound, http.StatusNotFound},
	{catalog.ErrConflict, http.StatusConflict},
	{catalog.ErrUnavailable, http.StatusServiceUnavailable},

	// query
	{query.ErrShowNotFound, http.StatusNotFound},

	// admin
	{admin.ErrInvalidShow, http.StatusBadRequest},
	{admin.ErrInvalidSeats, http.StatusBadRequest},
	{admin.ErrInvalidShowStatus, http.StatusBadRequest},
	{admin.ErrCategoryNotPriced, http.StatusBadRequest},
	{admin.ErrVenueNotFound, http.StatusNotFound},
	{admin.ErrShowNotFound, http.StatusNotFound},
	{admin.ErrVenueHasNoSeats, http.StatusUnprocessableEntity},
	{admin.ErrVenueConflict, http.StatusConflict},
	{admin.ErrShowConflict, http.StatusConflict},
}

func (h *handler) respondErr(c *gin.Context, err error) {
	for _, m := range errorTable {
		if !errors.Is(err, m.target) {
			continue
		}

		resp := ErrorResponse{Error: m.target.Error()}

		var unavailable booking.SeatsUnavailableError
		if errors.As(err, &unavailable) {
			resp.UnavailableSeats = unavailable.Labels
		}

		if m.status == http.StatusServiceUnavailable {
			c.Header("Retry-After", retryAfterSeconds)
		}

		c.JSON(m.status, resp)
		return
	}

	_ = c.Error(err)
	h.log.Error("unhandled error", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
