package handlers

import (
	"io"
	"net/http"
	"time"

	"ppe-sentinel/internal/api/middleware"
	"ppe-sentinel/internal/sse"

	"github.com/gin-gonic/gin"
)

const (
	clientBuffer      = 16
	heartbeatInterval = 30 * time.Second
)

// EventHandler streams engine notifications as server-sent events
type EventHandler struct {
	hub *sse.Hub
}

// NewEventHandler creates a new event handler
func NewEventHandler(hub *sse.Hub) *EventHandler {
	return &EventHandler{hub: hub}
}

// RegisterRoutes registers the event stream route
func (h *EventHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.handleSSE)
}

// handleSSE sends state and evidence events until the client goes away or
// the hub shuts down
func (h *EventHandler) handleSSE(c *gin.Context) {
	client := make(sse.Client, clientBuffer)
	if h.hub == nil || !h.hub.Register(client) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": middleware.T(c, "api.internal_error", nil)})
		return
	}
	defer h.hub.Unregister(client)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-client:
			if !ok {
				return false
			}
			c.SSEvent(msg.Event, string(msg.Data))
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		case <-ctx.Done():
			return false
		}
	})
}
