package core

import (
	"context"
	"time"
)

// AccountingInterface defines the contract for time accounting
type AccountingInterface interface {
	ListChildren(ctx context.Context) ([]Child, error)
	GetChild(ctx context.Context, childID string) (*Child, error)
	ListTasks(ctx context.Context) ([]Task, error)
	ListTaskStatuses(ctx context.Context, childID string) ([]TaskStatus, error)
	RemainingMinutes(ctx context.Context, childID string) (int64, error)
	GrantReward(ctx context.Context, childID string, grant RewardGrant, grantedBy string) (int64, error)
	ListRewards(ctx context.Context, childID string, page, perPage int) ([]Reward, error)
	Heartbeat(ctx context.Context, childID, deviceID string, minutes []int64) (int64, error)
	UsageSeries(ctx context.Context, childID string, from, to time.Time, bucket time.Duration) (*UsageSeries, error)
	SubmitTask(ctx context.Context, childID, taskID string) error
	PendingSubmissions(ctx context.Context) ([]PendingSubmission, error)
	CountPendingSubmissions(ctx context.Context) (int64, error)
	ApproveSubmission(ctx context.Context, submissionID int64, approvedBy string) error
	DiscardSubmission(ctx context.Context, submissionID int64) error
}
