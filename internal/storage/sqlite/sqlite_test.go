package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klepsydra/internal/auth"
	"klepsydra/internal/core"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	storage, err := New(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		storage.Close()
	})

	return storage
}

func seedCatalog(t *testing.T, storage *SQLiteStorage) {
	ctx := context.Background()

	err := storage.SeedChildren(ctx, []core.Child{
		{ID: "alice", DisplayName: "Alice"},
		{ID: "bob", DisplayName: "Bob"},
	})
	require.NoError(t, err)

	err = storage.SeedTasks(ctx, []core.Task{
		{ID: "dishes", Name: "Do the dishes", Minutes: 15},
		{ID: "homework", Name: "Finish homework", Minutes: 30},
	})
	require.NoError(t, err)
}

func TestSQLiteStorage_Catalog(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedCatalog(t, storage)

	// ListChildren is ordered by display name
	children, err := storage.ListChildren(ctx)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "alice", children[0].ID)
	assert.Equal(t, "bob", children[1].ID)

	// GetChild
	child, err := storage.GetChild(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", child.DisplayName)

	// GetChild - not found
	_, err = storage.GetChild(ctx, "nonexistent")
	assert.ErrorIs(t, err, core.ErrChildNotFound)

	// ListTasks is ordered by name
	tasks, err := storage.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "dishes", tasks[0].ID)
	assert.Equal(t, "homework", tasks[1].ID)

	// GetTask
	task, err := storage.GetTask(ctx, "homework")
	require.NoError(t, err)
	assert.Equal(t, int64(30), task.Minutes)

	// GetTask - not found
	_, err = storage.GetTask(ctx, "nonexistent")
	assert.ErrorIs(t, err, core.ErrTaskNotFound)

	// Re-seeding updates rows in place
	err = storage.SeedChildren(ctx, []core.Child{{ID: "alice", DisplayName: "Alice B."}})
	require.NoError(t, err)
	child, err = storage.GetChild(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice B.", child.DisplayName)

	err = storage.SeedTasks(ctx, []core.Task{{ID: "dishes", Name: "Do the dishes", Minutes: 20}})
	require.NoError(t, err)
	task, err = storage.GetTask(ctx, "dishes")
	require.NoError(t, err)
	assert.Equal(t, int64(20), task.Minutes)
}

func TestSQLiteStorage_Rewards(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedCatalog(t, storage)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	desc := "Additional time"
	taskID := "dishes"

	// AddReward fills in the generated ID
	first := &core.Reward{ChildID: "alice", Minutes: 30, Description: &desc, CreatedAt: base}
	err := storage.AddReward(ctx, first)
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	second := &core.Reward{ChildID: "alice", TaskID: &taskID, Minutes: 15, CreatedAt: base.Add(time.Minute)}
	err = storage.AddReward(ctx, second)
	require.NoError(t, err)

	third := &core.Reward{ChildID: "alice", Minutes: -10, CreatedAt: base.Add(2 * time.Minute)}
	err = storage.AddReward(ctx, third)
	require.NoError(t, err)

	// Another child's ledger stays separate
	err = storage.AddReward(ctx, &core.Reward{ChildID: "bob", Minutes: 5, CreatedAt: base})
	require.NoError(t, err)

	// ListRewards returns newest first
	rewards, err := storage.ListRewards(ctx, "alice", 1, 10)
	require.NoError(t, err)
	require.Len(t, rewards, 3)
	assert.Equal(t, int64(-10), rewards[0].Minutes)
	assert.Equal(t, int64(15), rewards[1].Minutes)
	assert.Equal(t, int64(30), rewards[2].Minutes)
	require.NotNil(t, rewards[1].TaskID)
	assert.Equal(t, "dishes", *rewards[1].TaskID)
	assert.Nil(t, rewards[1].Description)
	require.NotNil(t, rewards[2].Description)
	assert.Equal(t, "Additional time", *rewards[2].Description)
	assert.Equal(t, base, rewards[2].CreatedAt)

	// Pagination
	page1, err := storage.ListRewards(ctx, "alice", 1, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	page2, err := storage.ListRewards(ctx, "alice", 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, int64(30), page2[0].Minutes)

	// Out-of-range arguments are clamped instead of failing
	clamped, err := storage.ListRewards(ctx, "alice", 0, 0)
	require.NoError(t, err)
	assert.Len(t, clamped, 1)
}

func TestSQLiteStorage_Usage(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedCatalog(t, storage)

	// First report inserts every minute
	inserted, err := storage.RecordUsage(ctx, "alice", "laptop", []int64{100, 101, 102})
	require.NoError(t, err)
	assert.Equal(t, int64(3), inserted)

	// Resending the same minutes from the same device is a no-op
	inserted, err = storage.RecordUsage(ctx, "alice", "laptop", []int64{100, 101, 102})
	require.NoError(t, err)
	assert.Equal(t, int64(0), inserted)

	// A second device inserts rows, but shared minutes count once
	inserted, err = storage.RecordUsage(ctx, "alice", "tablet", []int64{102, 103})
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)

	minutes, err := storage.UsageMinutesSince(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 101, 102, 103}, minutes)

	// The since filter is inclusive
	minutes, err = storage.UsageMinutesSince(ctx, "alice", 102)
	require.NoError(t, err)
	assert.Equal(t, []int64{102, 103}, minutes)

	// Usage for an unknown child violates the foreign key
	_, err = storage.RecordUsage(ctx, "nonexistent", "laptop", []int64{100})
	assert.Error(t, err)
}

func TestSQLiteStorage_RemainingMinutes(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedCatalog(t, storage)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	// No ledger entries yet
	remaining, err := storage.RemainingMinutes(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)

	// Grant 30 minutes
	err = storage.AddReward(ctx, &core.Reward{ChildID: "alice", Minutes: 30, CreatedAt: now})
	require.NoError(t, err)

	remaining, err = storage.RemainingMinutes(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(30), remaining)

	// Consume all 30 minutes from one device
	batch := make([]int64, 30)
	for i := range batch {
		batch[i] = int64(1000 + i)
	}
	_, err = storage.RecordUsage(ctx, "alice", "laptop", batch)
	require.NoError(t, err)

	remaining, err = storage.RemainingMinutes(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)

	// A lagging second device resends overlapping minutes plus one new
	// minute: overlaps count once, so the balance only drops by one.
	_, err = storage.RecordUsage(ctx, "alice", "tablet", []int64{1025, 1026, 1027, 1028, 1029, 1030})
	require.NoError(t, err)

	remaining, err = storage.RemainingMinutes(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), remaining)
}

func TestSQLiteStorage_Submissions(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	seedCatalog(t, storage)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	// AddSubmission allows duplicate pending claims
	err := storage.AddSubmission(ctx, "alice", "dishes", now)
	require.NoError(t, err)
	err = storage.AddSubmission(ctx, "alice", "dishes", now.Add(time.Minute))
	require.NoError(t, err)
	err = storage.AddSubmission(ctx, "bob", "homework", now.Add(2*time.Minute))
	require.NoError(t, err)

	count, err := storage.CountPendingSubmissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// ListPendingSubmissions joins names and orders oldest first
	pending, err := storage.ListPendingSubmissions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "alice", pending[0].ChildID)
	assert.Equal(t, "Alice", pending[0].ChildDisplayName)
	assert.Equal(t, "Do the dishes", pending[0].TaskName)
	assert.Equal(t, now, pending[0].SubmittedAt)
	assert.Equal(t, "bob", pending[2].ChildID)

	// ApproveSubmission grants the task's minutes and records a completion
	approvedAt := now.Add(time.Hour)
	childID, applied, err := storage.ApproveSubmission(ctx, pending[0].ID, "mom", approvedAt)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "alice", childID)

	rewards, err := storage.ListRewards(ctx, "alice", 1, 10)
	require.NoError(t, err)
	require.Len(t, rewards, 1)
	assert.Equal(t, int64(15), rewards[0].Minutes)
	require.NotNil(t, rewards[0].TaskID)
	assert.Equal(t, "dishes", *rewards[0].TaskID)
	require.NotNil(t, rewards[0].Description)
	assert.Equal(t, "Do the dishes", *rewards[0].Description)

	count, err = storage.CountPendingSubmissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Approving the same submission again is an applied=false no-op
	_, applied, err = storage.ApproveSubmission(ctx, pending[0].ID, "mom", approvedAt)
	require.NoError(t, err)
	assert.False(t, applied)

	rewards, err = storage.ListRewards(ctx, "alice", 1, 10)
	require.NoError(t, err)
	assert.Len(t, rewards, 1)

	// The completion shows up as the task's last done time
	statuses, err := storage.ListTaskStatuses(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "dishes", statuses[0].Task.ID)
	require.NotNil(t, statuses[0].LastDone)
	assert.Equal(t, approvedAt, *statuses[0].LastDone)
	assert.Nil(t, statuses[1].LastDone)

	// Bob has no completions, so his statuses carry no last done time
	bobStatuses, err := storage.ListTaskStatuses(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bobStatuses, 2)
	assert.Nil(t, bobStatuses[0].LastDone)

	// DiscardSubmission removes without granting
	removed, err := storage.DiscardSubmission(ctx, pending[1].ID)
	require.NoError(t, err)
	assert.True(t, removed)

	count, err = storage.CountPendingSubmissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	rewards, err = storage.ListRewards(ctx, "alice", 1, 10)
	require.NoError(t, err)
	assert.Len(t, rewards, 1)

	// Discarding again is a no-op
	removed, err = storage.DiscardSubmission(ctx, pending[1].ID)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSQLiteStorage_Sessions(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	issued := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	session := &auth.Session{
		JTI:        "jti-1",
		Username:   "mom",
		IssuedAt:   issued,
		LastUsedAt: issued,
		ExpiresAt:  issued.Add(30 * 24 * time.Hour),
	}
	err := storage.CreateSession(ctx, session)
	require.NoError(t, err)

	// Touch succeeds while the last use is at or after the cutoff
	ok, err := storage.TouchSession(ctx, "jti-1", issued.Add(-7*24*time.Hour), issued.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	// A cutoff past the stored last use rejects the session
	ok, err = storage.TouchSession(ctx, "jti-1", issued.Add(2*time.Hour), issued.Add(3*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	// The previous touch moved last_used_at forward, so a cutoff at that
	// time still passes
	ok, err = storage.TouchSession(ctx, "jti-1", issued.Add(time.Hour), issued.Add(4*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	// Unknown sessions never touch
	ok, err = storage.TouchSession(ctx, "nonexistent", issued, issued)
	require.NoError(t, err)
	assert.False(t, ok)

	// DeleteSession revokes and is idempotent
	removed, err := storage.DeleteSession(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, removed)
	ok, err = storage.TouchSession(ctx, "jti-1", issued, issued)
	require.NoError(t, err)
	assert.False(t, ok)
	removed, err = storage.DeleteSession(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSQLiteStorage_DeleteExpiredSessions(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	issued := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, s := range []*auth.Session{
		{JTI: "expired-1", Username: "mom", IssuedAt: issued, LastUsedAt: issued, ExpiresAt: issued.Add(time.Hour)},
		{JTI: "expired-2", Username: "alice", IssuedAt: issued, LastUsedAt: issued, ExpiresAt: issued.Add(2 * time.Hour)},
		{JTI: "live-1", Username: "mom", IssuedAt: issued, LastUsedAt: issued, ExpiresAt: issued.Add(24 * time.Hour)},
	} {
		require.NoError(t, storage.CreateSession(ctx, s))
	}

	removed, err := storage.DeleteExpiredSessions(ctx, issued.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	// The live session still touches
	ok, err := storage.TouchSession(ctx, "live-1", issued, issued.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	// Nothing left to remove
	removed, err = storage.DeleteExpiredSessions(ctx, issued.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}
