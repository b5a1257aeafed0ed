package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check requests
type HealthHandler struct{}

// NewHealthHandler creates a new health handler
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// GetHealth reports liveness. Plain text so load balancers and uptime
// probes can string-match the body.
// GET /healthz
func (h *HealthHandler) GetHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
