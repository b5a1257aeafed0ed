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
	defaultUsageWindow   = 7 * 24 * time.Hour
	defaultBucketMinutes = 1440
)

// UsageHandler handles device heartbeats and usage chart queries
type UsageHandler struct {
	accounting core.AccountingInterface
	logger     *slog.Logger
}

// NewUsageHandler creates a new usage handler
func NewUsageHandler(accounting core.AccountingInterface, logger *slog.Logger) *UsageHandler {
	return &UsageHandler{
		accounting: accounting,
		logger:     logger,
	}
}

// Heartbeat records the minutes a device reports as consumed and returns
// the child's new balance. Only a device token bound to exactly this
// child and device may report.
// POST /api/v1/family/:tenant_id/children/:id/device/:device/heartbeat
func (h *UsageHandler) Heartbeat(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Authentication required",
			"code":  "AUTH_REQUIRED",
		})
		return
	}

	childID := c.Param("id")
	deviceID := c.Param("device")
	if !claims.CanReportUsage(childID, deviceID) {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Not authorized for this device",
			"code":  "DEVICE_NOT_AUTHORIZED",
		})
		return
	}

	var req struct {
		Minutes []int64 `json:"minutes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
			"code":  "INVALID_REQUEST",
		})
		return
	}

	remaining, err := h.accounting.Heartbeat(c.Request.Context(), childID, deviceID, req.Minutes)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrChildNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Child not found",
				"code":  "CHILD_NOT_FOUND",
			})
		case errors.Is(err, core.ErrEmptyHeartbeat):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Heartbeat batch is empty",
				"code":  "EMPTY_BATCH",
			})
		case errors.Is(err, core.ErrHeartbeatTooLarge):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Heartbeat batch exceeds the allowed size",
				"code":  "BATCH_TOO_LARGE",
			})
		case errors.Is(err, core.ErrMinuteInFuture):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Heartbeat reports minutes in the future",
				"code":  "MINUTE_IN_FUTURE",
			})
		default:
			h.logger.Error("Failed to record heartbeat",
				"component", "api",
				"child_id", childID,
				"device_id", deviceID,
				"error", err,
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to record heartbeat",
				"code":  "INTERNAL_ERROR",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"remaining_minutes": remaining})
}

// GetUsage returns bucketed usage counts for charting. Defaults to the
// last 7 days in daily buckets.
// GET /api/v1/family/:tenant_id/children/:id/usage?from&to&bucket_minutes
func (h *UsageHandler) GetUsage(c *gin.Context) {
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

	now := time.Now().UTC()
	to := now
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "to must be an RFC3339 timestamp",
				"code":  "INVALID_RANGE",
			})
			return
		}
		to = parsed
	}
	from := to.Add(-defaultUsageWindow)
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "from must be an RFC3339 timestamp",
				"code":  "INVALID_RANGE",
			})
			return
		}
		from = parsed
	}
	bucketMinutes := defaultBucketMinutes
	if raw := c.Query("bucket_minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "bucket_minutes must be a positive integer",
				"code":  "INVALID_RANGE",
			})
			return
		}
		bucketMinutes = parsed
	}

	series, err := h.accounting.UsageSeries(c.Request.Context(), childID, from, to, time.Duration(bucketMinutes)*time.Minute)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrChildNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Child not found",
				"code":  "CHILD_NOT_FOUND",
			})
		case errors.Is(err, core.ErrInvalidUsageRange):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Requested usage range is invalid or too large",
				"code":  "INVALID_RANGE",
			})
		default:
			h.logger.Error("Failed to compute usage series",
				"component", "api",
				"child_id", childID,
				"error", err,
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to compute usage series",
				"code":  "INTERNAL_ERROR",
			})
		}
		return
	}

	buckets := make([]gin.H, 0, len(series.Buckets))
	for _, bucket := range series.Buckets {
		buckets = append(buckets, gin.H{
			"start":   bucket.Start.UTC().Format(time.RFC3339),
			"minutes": bucket.Minutes,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"start":          series.Start.UTC().Format(time.RFC3339),
		"end":            series.End.UTC().Format(time.RFC3339),
		"bucket_minutes": series.BucketMinutes,
		"buckets":        buckets,
		"total_minutes":  series.TotalMinutes,
	})
}
