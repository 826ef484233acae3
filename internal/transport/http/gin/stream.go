package httpgin

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	redisrepo "github.com/kirinyoku/showbook/internal/repository/redis"
	"go.uber.org/zap"
)

// @Summary  Live seat changes of a show (server-sent events)
// @Param    id  path  int  true  "Show ID"
// @Success  200  {object}  redisrepo.SeatsChanged
// @Router   /shows/{id}/seats/stream [get]
func (h *handler) streamSeats(c *gin.Context) {
	showID, ok := parseInt64Param(c, "id")
	if !ok {
		return
	}

	if h.deps.Events == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "seat events are not enabled"})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events := make(chan redisrepo.SeatsChanged, 16)
	done := make(chan struct{})

	go func() {
		defer close(done)
		err := h.deps.Events.Subscribe(ctx, func(_ context.Context, msg redisrepo.SeatsChanged) {
			if msg.ShowID != showID {
				return
			}
			select {
			case events <- msg:
			default:
				// slow reader; it will catch up from the next change
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			h.log.Warn("seat stream subscription ended", zap.Int64("show_id", showID), zap.Error(err))
		}
	}()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-done:
			return false
		case msg := <-events:
			c.SSEvent("seats_changed", msg)
			return true
		}
	})
}
