package core

import (
	"errors"
	"time"
)

// Child is a managed account whose screen time is tracked.
type Child struct {
	ID          string
	DisplayName string
}

// Task is a configured chore a child can submit for parent approval.
type Task struct {
	ID      string
	Name    string
	Minutes int64
}

// Reward is a single credit entry in a child's time ledger. TaskID is set
// when the credit came from an approved task, nil for manual grants.
type Reward struct {
	ID          int64
	ChildID     string
	TaskID      *string
	Minutes     int64
	Description *string
	CreatedAt   time.Time
}

// TaskStatus pairs a task with the last time it was completed for a child.
type TaskStatus struct {
	Task     Task
	LastDone *time.Time
}

// PendingSubmission is a child's claim that a task was done, waiting for
// a parent to approve or discard it. Display names are denormalized so
// notification payloads need no extra lookups.
type PendingSubmission struct {
	ID               int64
	ChildID          string
	ChildDisplayName string
	TaskID           string
	TaskName         string
	SubmittedAt      time.Time
}

// UsageBucket aggregates consumed minutes within one bucket of a series.
type UsageBucket struct {
	Start   time.Time
	Minutes int64
}

// UsageSeries is a bucketed view of a child's consumed minutes over a window.
type UsageSeries struct {
	Start         time.Time
	End           time.Time
	BucketMinutes int64
	Buckets       []UsageBucket
	TotalMinutes  int64
}

// Validation and lookup errors
var (
	ErrChildNotFound     = errors.New("child not found")
	ErrTaskNotFound      = errors.New("task not found")
	ErrEmptyHeartbeat    = errors.New("heartbeat batch is empty")
	ErrHeartbeatTooLarge = errors.New("heartbeat batch exceeds maximum size")
	ErrMinuteInFuture    = errors.New("usage minute is too far in the future")
	ErrZeroRewardMinutes = errors.New("reward minutes must be non-zero")
	ErrRewardUnspecified = errors.New("reward requires a task or a minutes amount")
	ErrTaskNotRewardable = errors.New("task grants no positive minutes")
	ErrInvalidUsageRange = errors.New("usage range is invalid")
)
