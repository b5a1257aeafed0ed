package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// VersionHandler reports the server build version
type VersionHandler struct {
	version string
}

// NewVersionHandler creates a new version handler
func NewVersionHandler(version string) *VersionHandler {
	return &VersionHandler{version: version}
}

// GetVersion returns the server version so clients can check update
// compatibility before talking to the API
// GET /api/version and GET /api/v1/version
func (h *VersionHandler) GetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": h.version})
}
