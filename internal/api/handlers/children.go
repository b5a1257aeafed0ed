package handlers

import (
	"errors"
	"klepsydra/internal/api/middleware"
	"klepsydra/internal/core"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ChildrenHandler handles children-related requests
type ChildrenHandler struct {
	accounting core.AccountingInterface
	logger     *slog.Logger
}

// NewChildrenHandler creates a new children handler
func NewChildrenHandler(accounting core.AccountingInterface, logger *slog.Logger) *ChildrenHandler {
	return &ChildrenHandler{
		accounting: accounting,
		logger:     logger,
	}
}

// ListChildren returns all children of the family
// GET /api/v1/family/:tenant_id/children
func (h *ChildrenHandler) ListChildren(c *gin.Context) {
	children, err := h.accounting.ListChildren(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list children",
			"component", "api",
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve children",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	response := make([]gin.H, 0, len(children))
	for _, child := range children {
		response = append(response, gin.H{
			"id":           child.ID,
			"display_name": child.DisplayName,
		})
	}

	c.JSON(http.StatusOK, response)
}

// GetRemaining returns the child's current minute balance
// GET /api/v1/family/:tenant_id/children/:id/remaining
func (h *ChildrenHandler) GetRemaining(c *gin.Context) {
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

	remaining, err := h.accounting.RemainingMinutes(c.Request.Context(), childID)
	if err != nil {
		if errors.Is(err, core.ErrChildNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Child not found",
				"code":  "CHILD_NOT_FOUND",
			})
			return
		}

		h.logger.Error("Failed to compute remaining minutes",
			"component", "api",
			"child_id", childID,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to compute remaining minutes",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"child_id":          childID,
		"remaining_minutes": remaining,
	})
}
