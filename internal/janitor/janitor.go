package janitor

import (
	"context"
	"log/slog"
	"time"
)

// Storage interface for janitor operations
type Storage interface {
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Janitor periodically removes sessions past their absolute expiry.
// Sessions dead from inactivity are refused at touch time and removed
// here once their hard expiry passes, so the table stays bounded.
type Janitor struct {
	storage  Storage
	interval time.Duration
	stopChan chan struct{}
	logger   *slog.Logger
}

// NewJanitor creates a new janitor
func NewJanitor(storage Storage, interval time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		storage:  storage,
		interval: interval,
		stopChan: make(chan struct{}),
		logger:   logger,
	}
}

// Start begins the janitor loop
func (j *Janitor) Start() {
	j.logger.Info("Session janitor started", "interval", j.interval)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.tick()
		case <-j.stopChan:
			j.logger.Info("Session janitor stopped")
			return
		}
	}
}

// Stop stops the janitor
func (j *Janitor) Stop() {
	close(j.stopChan)
}

// tick performs one sweep
func (j *Janitor) tick() {
	ctx := context.Background()

	removed, err := j.storage.DeleteExpiredSessions(ctx, time.Now().UTC())
	if err != nil {
		j.logger.Error("Failed to delete expired sessions", "error", err)
		return
	}

	if removed > 0 {
		j.logger.Info("Expired sessions removed", "count", removed)
	} else {
		j.logger.Debug("Janitor tick", "removed", removed)
	}
}
