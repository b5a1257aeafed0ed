package storage

import (
	"context"
	"time"

	"klepsydra/internal/auth"
	"klepsydra/internal/core"
)

// Storage defines the interface for data persistence
type Storage interface {
	// Catalog, mirrored from config at startup
	SeedChildren(ctx context.Context, children []core.Child) error
	SeedTasks(ctx context.Context, tasks []core.Task) error
	ListChildren(ctx context.Context) ([]core.Child, error)
	GetChild(ctx context.Context, childID string) (*core.Child, error)
	ListTasks(ctx context.Context) ([]core.Task, error)
	GetTask(ctx context.Context, taskID string) (*core.Task, error)
	ListTaskStatuses(ctx context.Context, childID string) ([]core.TaskStatus, error)

	// Time ledgers
	AddReward(ctx context.Context, reward *core.Reward) error
	ListRewards(ctx context.Context, childID string, page, perPage int) ([]core.Reward, error)
	RecordUsage(ctx context.Context, childID, deviceID string, minutes []int64) (int64, error)
	RemainingMinutes(ctx context.Context, childID string) (int64, error)
	UsageMinutesSince(ctx context.Context, childID string, sinceMinute int64) ([]int64, error)

	// Task submissions and completions
	AddSubmission(ctx context.Context, childID, taskID string, submittedAt time.Time) error
	AddCompletion(ctx context.Context, childID, taskID, byUsername string, doneAt time.Time) error
	ListPendingSubmissions(ctx context.Context) ([]core.PendingSubmission, error)
	CountPendingSubmissions(ctx context.Context) (int64, error)
	ApproveSubmission(ctx context.Context, submissionID int64, approvedBy string, now time.Time) (string, bool, error)
	DiscardSubmission(ctx context.Context, submissionID int64) (bool, error)

	// Auth sessions
	CreateSession(ctx context.Context, session *auth.Session) error
	DeleteSession(ctx context.Context, jti string) (bool, error)
	TouchSession(ctx context.Context, jti string, cutoff, now time.Time) (bool, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	// Lifecycle
	Close() error
}
