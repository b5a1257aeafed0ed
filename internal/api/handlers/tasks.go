package handlers

import (
	"errors"
	"klepsydra/internal/api/middleware"
	"klepsydra/internal/core"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// TasksHandler handles task catalog and submission requests
type TasksHandler struct {
	accounting core.AccountingInterface
	logger     *slog.Logger
}

// NewTasksHandler creates a new tasks handler
func NewTasksHandler(accounting core.AccountingInterface, logger *slog.Logger) *TasksHandler {
	return &TasksHandler{
		accounting: accounting,
		logger:     logger,
	}
}

// ListTasks returns the family's task catalog
// GET /api/v1/family/:tenant_id/tasks
func (h *TasksHandler) ListTasks(c *gin.Context) {
	tasks, err := h.accounting.ListTasks(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list tasks",
			"component", "api",
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve tasks",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	response := make([]gin.H, 0, len(tasks))
	for _, task := range tasks {
		response = append(response, gin.H{
			"id":      task.ID,
			"name":    task.Name,
			"minutes": task.Minutes,
		})
	}

	c.JSON(http.StatusOK, response)
}

// ListChildTasks returns the task catalog with the child's last completion times
// GET /api/v1/family/:tenant_id/children/:id/tasks
func (h *TasksHandler) ListChildTasks(c *gin.Context) {
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

	statuses, err := h.accounting.ListTaskStatuses(c.Request.Context(), childID)
	if err != nil {
		if errors.Is(err, core.ErrChildNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Child not found",
				"code":  "CHILD_NOT_FOUND",
			})
			return
		}

		h.logger.Error("Failed to list task statuses",
			"component", "api",
			"child_id", childID,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve tasks",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	response := make([]gin.H, 0, len(statuses))
	for _, status := range statuses {
		var lastDone interface{}
		if status.LastDone != nil {
			lastDone = status.LastDone.UTC().Format(time.RFC3339)
		}
		response = append(response, gin.H{
			"id":        status.Task.ID,
			"name":      status.Task.Name,
			"minutes":   status.Task.Minutes,
			"last_done": lastDone,
		})
	}

	c.JSON(http.StatusOK, response)
}

// SubmitTask records a child's claim that a task was completed. Only the
// child itself may submit; parents grant directly through the reward
// endpoint instead.
// POST /api/v1/family/:tenant_id/children/:id/tasks/:task/submit
func (h *TasksHandler) SubmitTask(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Authentication required",
			"code":  "AUTH_REQUIRED",
		})
		return
	}

	childID := c.Param("id")
	taskID := c.Param("task")
	if claims.IsParent() || claims.ChildID != childID {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Only the child may submit this task",
			"code":  "SUBMIT_NOT_ALLOWED",
		})
		return
	}

	err := h.accounting.SubmitTask(c.Request.Context(), childID, taskID)
	if err != nil {
		if errors.Is(err, core.ErrChildNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Child not found",
				"code":  "CHILD_NOT_FOUND",
			})
			return
		}
		if errors.Is(err, core.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Task not found",
				"code":  "TASK_NOT_FOUND",
			})
			return
		}

		h.logger.Error("Failed to submit task",
			"component", "api",
			"child_id", childID,
			"task_id", taskID,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit task",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	c.Status(http.StatusNoContent)
}
