package server

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const streamEventHeartbeat = "heartbeat"

// handleEventStream relays the committed mutations of one branch as server-sent events.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	state, err := h.drafts.GetBranch(c.Request.Context(), c.Param("branch"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	stream, cancel := h.events.Subscribe(ctx, state.Branch.ID)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	h.logger.Debug("event stream opened", zap.String("branch_id", state.Branch.ID))
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		case tick := <-ticker.C:
			c.SSEvent(streamEventHeartbeat, gin.H{"timestamp": tick.UTC()})
			return true
		}
	})
	h.logger.Debug("event stream closed", zap.String("branch_id", state.Branch.ID))
}
