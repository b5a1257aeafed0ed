package handlers

import (
	"klepsydra/internal/api/middleware"
	"klepsydra/internal/core"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// NotificationsHandler handles the parent review queue
type NotificationsHandler struct {
	accounting core.AccountingInterface
	logger     *slog.Logger
}

// NewNotificationsHandler creates a new notifications handler
func NewNotificationsHandler(accounting core.AccountingInterface, logger *slog.Logger) *NotificationsHandler {
	return &NotificationsHandler{
		accounting: accounting,
		logger:     logger,
	}
}

// List returns pending task submissions, oldest first
// GET /api/v1/family/:tenant_id/notifications
func (h *NotificationsHandler) List(c *gin.Context) {
	pending, err := h.accounting.PendingSubmissions(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list pending submissions",
			"component", "api",
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve notifications",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	response := make([]gin.H, 0, len(pending))
	for _, submission := range pending {
		response = append(response, gin.H{
			"id":                 submission.ID,
			"kind":               "task_submission",
			"child_id":           submission.ChildID,
			"child_display_name": submission.ChildDisplayName,
			"task_id":            submission.TaskID,
			"task_name":          submission.TaskName,
			"submitted_at":       submission.SubmittedAt.UTC().Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, response)
}

// Count returns the review queue length
// GET /api/v1/family/:tenant_id/notifications/count
func (h *NotificationsHandler) Count(c *gin.Context) {
	count, err := h.accounting.CountPendingSubmissions(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to count pending submissions",
			"component", "api",
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to count notifications",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

// Approve grants the submitted task's reward. Approving a submission that
// no longer exists is a no-op so two parents cannot double-grant.
// POST /api/v1/family/:tenant_id/notifications/task-submissions/:id/approve
func (h *NotificationsHandler) Approve(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Authentication required",
			"code":  "AUTH_REQUIRED",
		})
		return
	}

	submissionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Submission id must be an integer",
			"code":  "INVALID_REQUEST",
		})
		return
	}

	if err := h.accounting.ApproveSubmission(c.Request.Context(), submissionID, claims.Username()); err != nil {
		h.logger.Error("Failed to approve submission",
			"component", "api",
			"submission_id", submissionID,
			"approved_by", claims.Username(),
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to approve submission",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	c.Status(http.StatusNoContent)
}

// Discard drops a pending submission without granting anything
// POST /api/v1/family/:tenant_id/notifications/task-submissions/:id/discard
func (h *NotificationsHandler) Discard(c *gin.Context) {
	submissionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Submission id must be an integer",
			"code":  "INVALID_REQUEST",
		})
		return
	}

	if err := h.accounting.DiscardSubmission(c.Request.Context(), submissionID); err != nil {
		h.logger.Error("Failed to discard submission",
			"component", "api",
			"submission_id", submissionID,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to discard submission",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	c.Status(http.StatusNoContent)
}
