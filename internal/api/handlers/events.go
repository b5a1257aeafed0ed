package handlers

import (
	"io"
	"klepsydra/internal/api/middleware"
	"klepsydra/internal/auth"
	"klepsydra/internal/core"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// keepaliveInterval is how often a keepalive ping is sent so proxies do
// not drop an otherwise quiet stream.
const keepaliveInterval = 25 * time.Second

// EventsHandler streams accounting events to clients over SSE
type EventsHandler struct {
	accounting core.AccountingInterface
	hub        *core.Hub
	logger     *slog.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(accounting core.AccountingInterface, hub *core.Hub, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		accounting: accounting,
		hub:        hub,
		logger:     logger.With("component", "events-api"),
	}
}

// Stream pushes accounting events to the client. Parents receive all
// events, children only balance updates for their own child. The token
// is checked once at connect; the stream itself does not touch the
// session again, a long-lived quiet dashboard is not "activity".
// GET /api/v1/family/:tenant_id/events?token=...
func (h *EventsHandler) Stream(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Authentication required",
			"code":  "AUTH_REQUIRED",
		})
		return
	}
	if !claims.IsParent() && claims.ChildID == "" {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Token carries no child binding",
			"code":  "CHILD_NOT_AUTHORIZED",
		})
		return
	}

	events, cancel := h.hub.Subscribe()
	defer cancel()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	h.sendSnapshot(c, claims)

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, open := <-events:
			if !open {
				return false
			}
			if wantsEvent(claims, event) {
				c.SSEvent("message", event)
			}
			return true
		case <-keepalive.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}

// sendSnapshot pushes the current state once at connect so clients do
// not have to wait for the next change.
func (h *EventsHandler) sendSnapshot(c *gin.Context, claims *auth.Claims) {
	ctx := c.Request.Context()

	if claims.IsParent() {
		count, err := h.accounting.CountPendingSubmissions(ctx)
		if err != nil {
			h.logger.Warn("failed to send pending count snapshot", "error", err)
			return
		}
		c.SSEvent("message", core.NewPendingCountEvent(count))
		c.Writer.Flush()
		return
	}

	remaining, err := h.accounting.RemainingMinutes(ctx, claims.ChildID)
	if err != nil {
		h.logger.Warn("failed to send remaining snapshot",
			"child_id", claims.ChildID,
			"error", err,
		)
		return
	}
	c.SSEvent("message", core.NewRemainingUpdatedEvent(claims.ChildID, remaining))
	c.Writer.Flush()
}

// wantsEvent applies the role filter: parents see everything, children
// only their own balance changes.
func wantsEvent(claims *auth.Claims, event core.Event) bool {
	if claims.IsParent() {
		return true
	}
	return event.Type == core.EventRemainingUpdated && event.ChildID == claims.ChildID
}
