package logging

import (
	"context"
	"log/slog"
	"time"

	"klepsydra/internal/core"
)

// AccountingLogger wraps an Accounting service and logs all method calls
type AccountingLogger struct {
	accounting core.AccountingInterface
	logger     *slog.Logger
}

// NewAccountingLogger creates a new logging decorator for Accounting
func NewAccountingLogger(accounting core.AccountingInterface, logger *slog.Logger) core.AccountingInterface {
	return &AccountingLogger{
		accounting: accounting,
		logger:     logger.With("interface", "Accounting"),
	}
}

func (l *AccountingLogger) ListChildren(ctx context.Context) ([]core.Child, error) {
	start := time.Now()
	l.logger.Debug("ListChildren called")

	children, err := l.accounting.ListChildren(ctx)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("ListChildren failed",
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Debug("ListChildren completed",
		"count", len(children),
		"duration", duration)

	return children, nil
}

func (l *AccountingLogger) GetChild(ctx context.Context, childID string) (*core.Child, error) {
	start := time.Now()
	l.logger.Debug("GetChild called",
		"child_id", childID)

	child, err := l.accounting.GetChild(ctx, childID)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("GetChild failed",
			"child_id", childID,
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Debug("GetChild completed",
		"child_id", childID,
		"duration", duration)

	return child, nil
}

func (l *AccountingLogger) ListTasks(ctx context.Context) ([]core.Task, error) {
	start := time.Now()
	l.logger.Debug("ListTasks called")

	tasks, err := l.accounting.ListTasks(ctx)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("ListTasks failed",
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Debug("ListTasks completed",
		"count", len(tasks),
		"duration", duration)

	return tasks, nil
}

func (l *AccountingLogger) ListTaskStatuses(ctx context.Context, childID string) ([]core.TaskStatus, error) {
	start := time.Now()
	l.logger.Debug("ListTaskStatuses called",
		"child_id", childID)

	statuses, err := l.accounting.ListTaskStatuses(ctx, childID)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("ListTaskStatuses failed",
			"child_id", childID,
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Debug("ListTaskStatuses completed",
		"child_id", childID,
		"count", len(statuses),
		"duration", duration)

	return statuses, nil
}

func (l *AccountingLogger) RemainingMinutes(ctx context.Context, childID string) (int64, error) {
	start := time.Now()
	l.logger.Debug("RemainingMinutes called",
		"child_id", childID)

	remaining, err := l.accounting.RemainingMinutes(ctx, childID)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("RemainingMinutes failed",
			"child_id", childID,
			"duration", duration,
			"error", err)
		return 0, err
	}

	l.logger.Debug("RemainingMinutes completed",
		"child_id", childID,
		"remaining_minutes", remaining,
		"duration", duration)

	return remaining, nil
}

func (l *AccountingLogger) GrantReward(ctx context.Context, childID string, grant core.RewardGrant, grantedBy string) (int64, error) {
	start := time.Now()
	l.logger.Info("GrantReward called",
		"child_id", childID,
		"granted_by", grantedBy)

	remaining, err := l.accounting.GrantReward(ctx, childID, grant, grantedBy)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("GrantReward failed",
			"child_id", childID,
			"granted_by", grantedBy,
			"duration", duration,
			"error", err)
		return 0, err
	}

	l.logger.Info("GrantReward completed",
		"child_id", childID,
		"granted_by", grantedBy,
		"remaining_minutes", remaining,
		"duration", duration)

	return remaining, nil
}

func (l *AccountingLogger) ListRewards(ctx context.Context, childID string, page, perPage int) ([]core.Reward, error) {
	start := time.Now()
	l.logger.Debug("ListRewards called",
		"child_id", childID,
		"page", page,
		"per_page", perPage)

	rewards, err := l.accounting.ListRewards(ctx, childID, page, perPage)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("ListRewards failed",
			"child_id", childID,
			"page", page,
			"per_page", perPage,
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Debug("ListRewards completed",
		"child_id", childID,
		"count", len(rewards),
		"duration", duration)

	return rewards, nil
}

func (l *AccountingLogger) Heartbeat(ctx context.Context, childID, deviceID string, minutes []int64) (int64, error) {
	start := time.Now()
	l.logger.Info("Heartbeat called",
		"child_id", childID,
		"device_id", deviceID,
		"batch_size", len(minutes))

	remaining, err := l.accounting.Heartbeat(ctx, childID, deviceID, minutes)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("Heartbeat failed",
			"child_id", childID,
			"device_id", deviceID,
			"batch_size", len(minutes),
			"duration", duration,
			"error", err)
		return 0, err
	}

	l.logger.Info("Heartbeat completed",
		"child_id", childID,
		"device_id", deviceID,
		"batch_size", len(minutes),
		"remaining_minutes", remaining,
		"duration", duration)

	return remaining, nil
}

func (l *AccountingLogger) UsageSeries(ctx context.Context, childID string, from, to time.Time, bucket time.Duration) (*core.UsageSeries, error) {
	start := time.Now()
	l.logger.Debug("UsageSeries called",
		"child_id", childID,
		"from", from,
		"to", to,
		"bucket", bucket)

	series, err := l.accounting.UsageSeries(ctx, childID, from, to, bucket)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("UsageSeries failed",
			"child_id", childID,
			"from", from,
			"to", to,
			"bucket", bucket,
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Debug("UsageSeries completed",
		"child_id", childID,
		"buckets", len(series.Buckets),
		"total_minutes", series.TotalMinutes,
		"duration", duration)

	return series, nil
}

func (l *AccountingLogger) SubmitTask(ctx context.Context, childID, taskID string) error {
	start := time.Now()
	l.logger.Info("SubmitTask called",
		"child_id", childID,
		"task_id", taskID)

	err := l.accounting.SubmitTask(ctx, childID, taskID)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("SubmitTask failed",
			"child_id", childID,
			"task_id", taskID,
			"duration", duration,
			"error", err)
		return err
	}

	l.logger.Info("SubmitTask completed",
		"child_id", childID,
		"task_id", taskID,
		"duration", duration)

	return nil
}

func (l *AccountingLogger) PendingSubmissions(ctx context.Context) ([]core.PendingSubmission, error) {
	start := time.Now()
	l.logger.Debug("PendingSubmissions called")

	pending, err := l.accounting.PendingSubmissions(ctx)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("PendingSubmissions failed",
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Debug("PendingSubmissions completed",
		"count", len(pending),
		"duration", duration)

	return pending, nil
}

func (l *AccountingLogger) CountPendingSubmissions(ctx context.Context) (int64, error) {
	start := time.Now()
	l.logger.Debug("CountPendingSubmissions called")

	count, err := l.accounting.CountPendingSubmissions(ctx)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("CountPendingSubmissions failed",
			"duration", duration,
			"error", err)
		return 0, err
	}

	l.logger.Debug("CountPendingSubmissions completed",
		"count", count,
		"duration", duration)

	return count, nil
}

func (l *AccountingLogger) ApproveSubmission(ctx context.Context, submissionID int64, approvedBy string) error {
	start := time.Now()
	l.logger.Info("ApproveSubmission called",
		"submission_id", submissionID,
		"approved_by", approvedBy)

	err := l.accounting.ApproveSubmission(ctx, submissionID, approvedBy)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("ApproveSubmission failed",
			"submission_id", submissionID,
			"approved_by", approvedBy,
			"duration", duration,
			"error", err)
		return err
	}

	l.logger.Info("ApproveSubmission completed",
		"submission_id", submissionID,
		"approved_by", approvedBy,
		"duration", duration)

	return nil
}

func (l *AccountingLogger) DiscardSubmission(ctx context.Context, submissionID int64) error {
	start := time.Now()
	l.logger.Info("DiscardSubmission called",
		"submission_id", submissionID)

	err := l.accounting.DiscardSubmission(ctx, submissionID)
	duration := time.Since(start)

	if err != nil {
		l.logger.Error("DiscardSubmission failed",
			"submission_id", submissionID,
			"duration", duration,
			"error", err)
		return err
	}

	l.logger.Info("DiscardSubmission completed",
		"submission_id", submissionID,
		"duration", duration)

	return nil
}
