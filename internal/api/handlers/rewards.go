package handlers

import (
	"errors"
	"klepsydra/internal/api/middleware"
	"klepsydra/internal/core"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultRewardsPerPage = 10
	maxRewardsPerPage     = 1000
)

// RewardsHandler handles reward granting and history requests
type RewardsHandler struct {
	accounting core.AccountingInterface
	logger     *slog.Logger
}

// NewRewardsHandler creates a new rewards handler
func NewRewardsHandler(accounting core.AccountingInterface, logger *slog.Logger) *RewardsHandler {
	return &RewardsHandler{
		accounting: accounting,
		logger:     logger,
	}
}

// GrantReward credits minutes to a child, either for a configured task or
// as a manual amount
// POST /api/v1/family/:tenant_id/children/:id/reward
func (h *RewardsHandler) GrantReward(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Authentication required",
			"code":  "AUTH_REQUIRED",
		})
		return
	}

	childID := c.Param("id")

	var req struct {
		TaskID      *string `json:"task_id"`
		Minutes     *int64  `json:"minutes"`
		Description *string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
			"code":  "INVALID_REQUEST",
		})
		return
	}

	grant := core.RewardGrant{
		TaskID:      req.TaskID,
		Minutes:     req.Minutes,
		Description: req.Description,
	}

	remaining, err := h.accounting.GrantReward(c.Request.Context(), childID, grant, claims.Username())
	if err != nil {
		switch {
		case errors.Is(err, core.ErrChildNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Child not found",
				"code":  "CHILD_NOT_FOUND",
			})
		case errors.Is(err, core.ErrTaskNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Task not found",
				"code":  "TASK_NOT_FOUND",
			})
		case errors.Is(err, core.ErrRewardUnspecified):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Either task_id or minutes is required",
				"code":  "REWARD_UNSPECIFIED",
			})
		case errors.Is(err, core.ErrZeroRewardMinutes):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Reward minutes must be non-zero",
				"code":  "ZERO_MINUTES",
			})
		case errors.Is(err, core.ErrTaskNotRewardable):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Task has no reward minutes configured",
				"code":  "TASK_NOT_REWARDABLE",
			})
		default:
			h.logger.Error("Failed to grant reward",
				"component", "api",
				"child_id", childID,
				"granted_by", claims.Username(),
				"error", err,
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to grant reward",
				"code":  "INTERNAL_ERROR",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"remaining_minutes": remaining})
}

// ListRewards returns a page of the child's reward history, newest first
// GET /api/v1/family/:tenant_id/children/:id/reward?page&per_page
func (h *RewardsHandler) ListRewards(c *gin.Context) {
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

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "page must be a positive integer",
			"code":  "INVALID_PAGE",
		})
		return
	}
	perPage, err := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultRewardsPerPage)))
	if err != nil || perPage < 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "per_page must be a positive integer",
			"code":  "INVALID_PER_PAGE",
		})
		return
	}
	if perPage > maxRewardsPerPage {
		perPage = maxRewardsPerPage
	}

	rewards, err := h.accounting.ListRewards(c.Request.Context(), childID, page, perPage)
	if err != nil {
		if errors.Is(err, core.ErrChildNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Child not found",
				"code":  "CHILD_NOT_FOUND",
			})
			return
		}

		h.logger.Error("Failed to list rewards",
			"component", "api",
			"child_id", childID,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve rewards",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	response := make([]gin.H, 0, len(rewards))
	for _, reward := range rewards {
		response = append(response, gin.H{
			"time":        reward.CreatedAt.UTC().Format(time.RFC3339),
			"minutes":     reward.Minutes,
			"description": reward.Description,
		})
	}

	c.JSON(http.StatusOK, response)
}
