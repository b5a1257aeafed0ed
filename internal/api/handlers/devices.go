package handlers

import (
	"context"
	"errors"
	"klepsydra/internal/api/middleware"
	"klepsydra/internal/core"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// DevicesHandler handles device registration requests
type DevicesHandler struct {
	accounting core.AccountingInterface
	tokens     TokenIssuer
	logger     *slog.Logger
}

// TokenIssuer interface for minting device-bound child tokens
type TokenIssuer interface {
	IssueDeviceToken(ctx context.Context, username, childID, deviceID string) (string, error)
}

// NewDevicesHandler creates a new devices handler
func NewDevicesHandler(accounting core.AccountingInterface, tokens TokenIssuer, logger *slog.Logger) *DevicesHandler {
	return &DevicesHandler{
		accounting: accounting,
		tokens:     tokens,
		logger:     logger,
	}
}

// Register binds a device to a child and returns a device-scoped child
// token the agent can heartbeat with. Parents may register any child's
// device, a child only its own.
// POST /api/v1/family/:tenant_id/children/:id/register
func (h *DevicesHandler) Register(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Authentication required",
			"code":  "AUTH_REQUIRED",
		})
		return
	}

	childID := c.Param("id")
	if !claims.CanReadChild(childID) {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Not authorized for this child",
			"code":  "CHILD_NOT_AUTHORIZED",
		})
		return
	}

	var req struct {
		DeviceID string `json:"device_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.DeviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "device_id required",
			"code":  "DEVICE_ID_REQUIRED",
		})
		return
	}

	if _, err := h.accounting.GetChild(c.Request.Context(), childID); err != nil {
		if errors.Is(err, core.ErrChildNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Child not found",
				"code":  "CHILD_NOT_FOUND",
			})
			return
		}

		h.logger.Error("Failed to look up child for registration",
			"component", "api",
			"child_id", childID,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to register device",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	token, err := h.tokens.IssueDeviceToken(c.Request.Context(), claims.Username(), childID, req.DeviceID)
	if err != nil {
		h.logger.Error("Failed to issue device token",
			"component", "api",
			"child_id", childID,
			"device_id", req.DeviceID,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to register device",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	h.logger.Info("Device registered",
		"component", "api",
		"child_id", childID,
		"device_id", req.DeviceID,
		"registered_by", claims.Username(),
	)

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"child_id":  childID,
		"device_id": req.DeviceID,
	})
}
