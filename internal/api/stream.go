package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// stream pushes outbox status events as server-sent events until the client
// goes away or the broadcaster closes. ?message_id= narrows the stream to one
// message.
func (h *Handler) stream(c *gin.Context) {
	if h.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream disabled"})
		return
	}
	messageID := c.Query("message_id")

	id, events := h.events.Subscribe()
	defer h.events.Unsubscribe(id)

	slog.Info("stream client connected", "subscriber_id", id, "message_id", messageID)
	defer slog.Info("stream client disconnected", "subscriber_id", id)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case e, ok := <-events:
			if !ok {
				return false
			}
			if messageID != "" && e.MessageID != messageID {
				return true
			}
			c.SSEvent("outbox", e)
			return true
		}
	})
}
