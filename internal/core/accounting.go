package core

import (
	"context"
	"time"
)

// Storage interface defines required storage operations
type Storage interface {
	ListChildren(ctx context.Context) ([]Child, error)
	GetChild(ctx context.Context, childID string) (*Child, error)
	ListTasks(ctx context.Context) ([]Task, error)
	GetTask(ctx context.Context, taskID string) (*Task, error)
	ListTaskStatuses(ctx context.Context, childID string) ([]TaskStatus, error)

	AddReward(ctx context.Context, reward *Reward) error
	ListRewards(ctx context.Context, childID string, page, perPage int) ([]Reward, error)
	RecordUsage(ctx context.Context, childID, deviceID string, minutes []int64) (int64, error)
	RemainingMinutes(ctx context.Context, childID string) (int64, error)
	UsageMinutesSince(ctx context.Context, childID string, sinceMinute int64) ([]int64, error)

	AddSubmission(ctx context.Context, childID, taskID string, submittedAt time.Time) error
	AddCompletion(ctx context.Context, childID, taskID, byUsername string, doneAt time.Time) error
	ListPendingSubmissions(ctx context.Context) ([]PendingSubmission, error)
	CountPendingSubmissions(ctx context.Context) (int64, error)
	ApproveSubmission(ctx context.Context, submissionID int64, approvedBy string, now time.Time) (string, bool, error)
	DiscardSubmission(ctx context.Context, submissionID int64) (bool, error)
}

// RewardGrant describes a credit to add to a child's ledger. Exactly one
// of TaskID or Minutes must be set: a task grant credits the task's
// configured minutes, a manual grant credits Minutes directly.
type RewardGrant struct {
	TaskID      *string
	Minutes     *int64
	Description *string
}

// defaultRewardDescription is used for manual grants without a note.
const defaultRewardDescription = "Additional time"

// maxUsageBuckets bounds the series size a single usage query may produce.
const maxUsageBuckets = 10000

// Accounting implements the tenant's time ledger: rewards credit
// minutes, device heartbeats consume them, and the balance is always
// recomputed from the two ledgers. Changes are pushed to the hub.
type Accounting struct {
	storage    Storage
	hub        *Hub
	maxBatch   int
	futureSkew int64
}

// NewAccounting creates a new accounting service. maxBatch bounds the
// number of minutes a single heartbeat may carry; futureSkewMinutes is
// how far ahead of the server clock a reported minute may lie before it
// is rejected.
func NewAccounting(storage Storage, hub *Hub, maxBatch int, futureSkewMinutes int64) *Accounting {
	return &Accounting{
		storage:    storage,
		hub:        hub,
		maxBatch:   maxBatch,
		futureSkew: futureSkewMinutes,
	}
}

// ListChildren returns the tenant's children.
func (a *Accounting) ListChildren(ctx context.Context) ([]Child, error) {
	return a.storage.ListChildren(ctx)
}

// GetChild returns one child or ErrChildNotFound.
func (a *Accounting) GetChild(ctx context.Context, childID string) (*Child, error) {
	return a.storage.GetChild(ctx, childID)
}

// ListTasks returns the tenant's tasks.
func (a *Accounting) ListTasks(ctx context.Context) ([]Task, error) {
	return a.storage.ListTasks(ctx)
}

// ListTaskStatuses returns every task with the child's last completion time.
func (a *Accounting) ListTaskStatuses(ctx context.Context, childID string) ([]TaskStatus, error) {
	if _, err := a.storage.GetChild(ctx, childID); err != nil {
		return nil, err
	}
	return a.storage.ListTaskStatuses(ctx, childID)
}

// RemainingMinutes returns the child's current balance.
func (a *Accounting) RemainingMinutes(ctx context.Context, childID string) (int64, error) {
	if _, err := a.storage.GetChild(ctx, childID); err != nil {
		return 0, err
	}
	return a.storage.RemainingMinutes(ctx, childID)
}

// GrantReward credits minutes to the child and returns the new balance.
// A task grant uses the task's configured minutes, describes the reward
// with the task name and records a completion attributed to grantedBy.
// A manual grant must carry a non-zero amount; negative amounts are how
// parents correct the ledger.
func (a *Accounting) GrantReward(ctx context.Context, childID string, grant RewardGrant, grantedBy string) (int64, error) {
	if _, err := a.storage.GetChild(ctx, childID); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	reward := Reward{ChildID: childID, CreatedAt: now}

	switch {
	case grant.TaskID != nil:
		task, err := a.storage.GetTask(ctx, *grant.TaskID)
		if err != nil {
			return 0, err
		}
		if task.Minutes <= 0 {
			return 0, ErrTaskNotRewardable
		}
		reward.TaskID = &task.ID
		reward.Minutes = task.Minutes
		reward.Description = &task.Name
	case grant.Minutes != nil:
		if *grant.Minutes == 0 {
			return 0, ErrZeroRewardMinutes
		}
		reward.Minutes = *grant.Minutes
		if grant.Description != nil && *grant.Description != "" {
			reward.Description = grant.Description
		} else {
			description := defaultRewardDescription
			reward.Description = &description
		}
	default:
		return 0, ErrRewardUnspecified
	}

	if err := a.storage.AddReward(ctx, &reward); err != nil {
		return 0, err
	}
	if reward.TaskID != nil {
		if err := a.storage.AddCompletion(ctx, childID, *reward.TaskID, grantedBy, now); err != nil {
			return 0, err
		}
	}

	remaining, err := a.storage.RemainingMinutes(ctx, childID)
	if err != nil {
		return 0, err
	}
	a.hub.Publish(NewRemainingUpdatedEvent(childID, remaining))
	return remaining, nil
}

// ListRewards returns a page of the child's reward history, newest first.
func (a *Accounting) ListRewards(ctx context.Context, childID string, page, perPage int) ([]Reward, error) {
	if _, err := a.storage.GetChild(ctx, childID); err != nil {
		return nil, err
	}
	return a.storage.ListRewards(ctx, childID, page, perPage)
}

// Heartbeat records the minute timestamps a device reports as consumed
// and returns the child's new balance. Minutes already recorded are
// ignored, so devices can resend batches after connectivity gaps without
// double counting. An event is pushed only when the ledger actually
// changed.
func (a *Accounting) Heartbeat(ctx context.Context, childID, deviceID string, minutes []int64) (int64, error) {
	if _, err := a.storage.GetChild(ctx, childID); err != nil {
		return 0, err
	}
	if len(minutes) == 0 {
		return 0, ErrEmptyHeartbeat
	}
	if len(minutes) > a.maxBatch {
		return 0, ErrHeartbeatTooLarge
	}

	limit := time.Now().UTC().Unix()/60 + a.futureSkew
	for _, minute := range minutes {
		if minute > limit {
			return 0, ErrMinuteInFuture
		}
	}

	inserted, err := a.storage.RecordUsage(ctx, childID, deviceID, minutes)
	if err != nil {
		return 0, err
	}

	remaining, err := a.storage.RemainingMinutes(ctx, childID)
	if err != nil {
		return 0, err
	}
	if inserted > 0 {
		a.hub.Publish(NewRemainingUpdatedEvent(childID, remaining))
	}
	return remaining, nil
}

// UsageSeries buckets the child's consumed minutes over [from, to). The
// window end is rounded up to a whole minute so an in-progress minute is
// included.
func (a *Accounting) UsageSeries(ctx context.Context, childID string, from, to time.Time, bucket time.Duration) (*UsageSeries, error) {
	if _, err := a.storage.GetChild(ctx, childID); err != nil {
		return nil, err
	}

	bucketMinutes := int64(bucket / time.Minute)
	if bucketMinutes < 1 || !to.After(from) {
		return nil, ErrInvalidUsageRange
	}

	fromMinute := from.UTC().Unix() / 60
	toMinute := to.UTC().Unix() / 60
	if to.UTC().Unix()%60 != 0 {
		toMinute++
	}
	if toMinute <= fromMinute {
		return nil, ErrInvalidUsageRange
	}

	numBuckets := (toMinute - fromMinute + bucketMinutes - 1) / bucketMinutes
	if numBuckets > maxUsageBuckets {
		return nil, ErrInvalidUsageRange
	}

	minutes, err := a.storage.UsageMinutesSince(ctx, childID, fromMinute)
	if err != nil {
		return nil, err
	}

	buckets := make([]UsageBucket, numBuckets)
	for i := range buckets {
		buckets[i].Start = time.Unix((fromMinute+int64(i)*bucketMinutes)*60, 0).UTC()
	}

	var total int64
	for _, minute := range minutes {
		if minute >= toMinute {
			break
		}
		buckets[(minute-fromMinute)/bucketMinutes].Minutes++
		total++
	}

	return &UsageSeries{
		Start:         time.Unix(fromMinute*60, 0).UTC(),
		End:           time.Unix(toMinute*60, 0).UTC(),
		BucketMinutes: bucketMinutes,
		Buckets:       buckets,
		TotalMinutes:  total,
	}, nil
}

// SubmitTask records a child's claim that a task was done and notifies
// parents that the review queue grew.
func (a *Accounting) SubmitTask(ctx context.Context, childID, taskID string) error {
	if _, err := a.storage.GetChild(ctx, childID); err != nil {
		return err
	}
	if _, err := a.storage.GetTask(ctx, taskID); err != nil {
		return err
	}
	if err := a.storage.AddSubmission(ctx, childID, taskID, time.Now().UTC()); err != nil {
		return err
	}
	return a.publishPendingCount(ctx)
}

// PendingSubmissions returns the review queue, oldest first.
func (a *Accounting) PendingSubmissions(ctx context.Context) ([]PendingSubmission, error) {
	return a.storage.ListPendingSubmissions(ctx)
}

// CountPendingSubmissions returns the review queue length.
func (a *Accounting) CountPendingSubmissions(ctx context.Context) (int64, error) {
	return a.storage.CountPendingSubmissions(ctx)
}

// ApproveSubmission turns a pending submission into a reward and a
// completion record. Approving a submission that was already resolved
// is a no-op, so two parents racing on the same notification cannot
// grant it twice.
func (a *Accounting) ApproveSubmission(ctx context.Context, submissionID int64, approvedBy string) error {
	childID, applied, err := a.storage.ApproveSubmission(ctx, submissionID, approvedBy, time.Now().UTC())
	if err != nil {
		return err
	}
	if applied {
		remaining, err := a.storage.RemainingMinutes(ctx, childID)
		if err != nil {
			return err
		}
		a.hub.Publish(NewRemainingUpdatedEvent(childID, remaining))
	}
	return a.publishPendingCount(ctx)
}

// DiscardSubmission drops a pending submission without granting anything.
func (a *Accounting) DiscardSubmission(ctx context.Context, submissionID int64) error {
	if _, err := a.storage.DiscardSubmission(ctx, submissionID); err != nil {
		return err
	}
	return a.publishPendingCount(ctx)
}

func (a *Accounting) publishPendingCount(ctx context.Context) error {
	count, err := a.storage.CountPendingSubmissions(ctx)
	if err != nil {
		return err
	}
	a.hub.Publish(NewPendingCountEvent(count))
	return nil
}

// Ensure Accounting implements AccountingInterface
var _ AccountingInterface = (*Accounting)(nil)
