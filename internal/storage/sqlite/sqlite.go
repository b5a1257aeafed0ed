package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"klepsydra/internal/auth"
	"klepsydra/internal/core"
	"klepsydra/internal/storage"
)

// SQLiteStorage implements the storage.Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// New creates a new SQLite storage instance
func New(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	storage := &SQLiteStorage{db: db}
	if err := storage.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

// migrate creates the database schema
func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS children (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		minutes INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rewards (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		child_id TEXT NOT NULL REFERENCES children(id) ON DELETE CASCADE,
		task_id TEXT REFERENCES tasks(id),
		minutes INTEGER NOT NULL,
		description TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rewards_child_created
		ON rewards(child_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS usage_minutes (
		child_id TEXT NOT NULL REFERENCES children(id) ON DELETE CASCADE,
		minute_ts INTEGER NOT NULL,
		device_id TEXT NOT NULL,
		PRIMARY KEY (child_id, minute_ts, device_id)
	);

	CREATE TABLE IF NOT EXISTS task_submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		child_id TEXT NOT NULL REFERENCES children(id) ON DELETE CASCADE,
		task_id TEXT NOT NULL REFERENCES tasks(id),
		submitted_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_completions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		child_id TEXT NOT NULL REFERENCES children(id) ON DELETE CASCADE,
		task_id TEXT NOT NULL REFERENCES tasks(id),
		done_at INTEGER NOT NULL,
		by_username TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_completions_child_task
		ON task_completions(child_id, task_id);

	CREATE TABLE IF NOT EXISTS sessions (
		jti TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		issued_at INTEGER NOT NULL,
		last_used_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expires
		ON sessions(expires_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// SeedChildren upserts the configured children so ledger rows can join
// against them. Rows for children removed from config are kept: their
// history stays queryable even though no route serves them anymore.
func (s *SQLiteStorage) SeedChildren(ctx context.Context, children []core.Child) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, child := range children {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO children (id, display_name) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name`,
			child.ID, child.DisplayName)
		if err != nil {
			return fmt.Errorf("failed to seed child %s: %w", child.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SeedTasks upserts the configured tasks.
func (s *SQLiteStorage) SeedTasks(ctx context.Context, tasks []core.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, task := range tasks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, name, minutes) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, minutes = excluded.minutes`,
			task.ID, task.Name, task.Minutes)
		if err != nil {
			return fmt.Errorf("failed to seed task %s: %w", task.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListChildren returns all children ordered by display name.
func (s *SQLiteStorage) ListChildren(ctx context.Context) ([]core.Child, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, display_name FROM children ORDER BY display_name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()

	var children []core.Child
	for rows.Next() {
		var child core.Child
		if err := rows.Scan(&child.ID, &child.DisplayName); err != nil {
			return nil, fmt.Errorf("failed to scan child: %w", err)
		}
		children = append(children, child)
	}
	return children, rows.Err()
}

// GetChild retrieves a child by ID.
func (s *SQLiteStorage) GetChild(ctx context.Context, childID string) (*core.Child, error) {
	var child core.Child
	err := s.db.QueryRowContext(ctx,
		"SELECT id, display_name FROM children WHERE id = ?", childID).
		Scan(&child.ID, &child.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrChildNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get child: %w", err)
	}
	return &child, nil
}

// ListTasks returns all tasks ordered by name.
func (s *SQLiteStorage) ListTasks(ctx context.Context) ([]core.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, minutes FROM tasks ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []core.Task
	for rows.Next() {
		var task core.Task
		if err := rows.Scan(&task.ID, &task.Name, &task.Minutes); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// GetTask retrieves a task by ID.
func (s *SQLiteStorage) GetTask(ctx context.Context, taskID string) (*core.Task, error) {
	var task core.Task
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, minutes FROM tasks WHERE id = ?", taskID).
		Scan(&task.ID, &task.Name, &task.Minutes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

// ListTaskStatuses returns every task together with the most recent
// completion time for the given child, ordered by task name.
func (s *SQLiteStorage) ListTaskStatuses(ctx context.Context, childID string) ([]core.TaskStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.minutes, MAX(c.done_at)
		FROM tasks t
		LEFT JOIN task_completions c ON c.task_id = t.id AND c.child_id = ?
		GROUP BY t.id
		ORDER BY t.name, t.id`, childID)
	if err != nil {
		return nil, fmt.Errorf("failed to list task statuses: %w", err)
	}
	defer rows.Close()

	var statuses []core.TaskStatus
	for rows.Next() {
		var status core.TaskStatus
		var lastDone sql.NullInt64
		if err := rows.Scan(&status.Task.ID, &status.Task.Name, &status.Task.Minutes, &lastDone); err != nil {
			return nil, fmt.Errorf("failed to scan task status: %w", err)
		}
		if lastDone.Valid {
			done := time.Unix(lastDone.Int64, 0).UTC()
			status.LastDone = &done
		}
		statuses = append(statuses, status)
	}
	return statuses, rows.Err()
}

// AddReward appends a credit entry to the child's ledger and fills in
// the generated ID.
func (s *SQLiteStorage) AddReward(ctx context.Context, reward *core.Reward) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO rewards (child_id, task_id, minutes, description, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		reward.ChildID, reward.TaskID, reward.Minutes, reward.Description,
		reward.CreatedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to add reward: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read reward id: %w", err)
	}
	reward.ID = id
	return nil
}

// ListRewards returns a page of the child's reward history, newest first.
// Page numbers start at 1; the page size is clamped to [1, 1000].
func (s *SQLiteStorage) ListRewards(ctx context.Context, childID string, page, perPage int) ([]core.Reward, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	if perPage > 1000 {
		perPage = 1000
	}
	offset := (page - 1) * perPage

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, child_id, task_id, minutes, description, created_at
		FROM rewards
		WHERE child_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, childID, perPage, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list rewards: %w", err)
	}
	defer rows.Close()

	var rewards []core.Reward
	for rows.Next() {
		var reward core.Reward
		var taskID, description sql.NullString
		var createdAt int64
		if err := rows.Scan(&reward.ID, &reward.ChildID, &taskID, &reward.Minutes, &description, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan reward: %w", err)
		}
		if taskID.Valid {
			reward.TaskID = &taskID.String
		}
		if description.Valid {
			reward.Description = &description.String
		}
		reward.CreatedAt = time.Unix(createdAt, 0).UTC()
		rewards = append(rewards, reward)
	}
	return rewards, rows.Err()
}

// RecordUsage inserts the reported minute timestamps for a child and
// device, ignoring duplicates. It returns how many rows were actually
// inserted, so callers can tell whether the ledger changed.
func (s *SQLiteStorage) RecordUsage(ctx context.Context, childID, deviceID string, minutes []int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO usage_minutes (child_id, minute_ts, device_id)
		VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare usage insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, minute := range minutes {
		result, err := stmt.ExecContext(ctx, childID, minute, deviceID)
		if err != nil {
			return 0, fmt.Errorf("failed to record usage minute: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read rows affected: %w", err)
		}
		inserted += rows
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

// RemainingMinutes computes the child's balance: granted reward minutes
// minus distinct consumed minutes. The result can go negative when
// several devices keep reporting past zero.
func (s *SQLiteStorage) RemainingMinutes(ctx context.Context, childID string) (int64, error) {
	var remaining int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE((SELECT SUM(minutes) FROM rewards WHERE child_id = ?), 0)
		     - (SELECT COUNT(DISTINCT minute_ts) FROM usage_minutes WHERE child_id = ?)`,
		childID, childID).Scan(&remaining)
	if err != nil {
		return 0, fmt.Errorf("failed to compute remaining minutes: %w", err)
	}
	return remaining, nil
}

// UsageMinutesSince returns the distinct minute timestamps consumed by
// the child at or after sinceMinute, in ascending order.
func (s *SQLiteStorage) UsageMinutesSince(ctx context.Context, childID string, sinceMinute int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT minute_ts FROM usage_minutes
		WHERE child_id = ? AND minute_ts >= ?
		ORDER BY minute_ts`, childID, sinceMinute)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage minutes: %w", err)
	}
	defer rows.Close()

	var minutes []int64
	for rows.Next() {
		var minute int64
		if err := rows.Scan(&minute); err != nil {
			return nil, fmt.Errorf("failed to scan usage minute: %w", err)
		}
		minutes = append(minutes, minute)
	}
	return minutes, rows.Err()
}

// AddSubmission records a child's claim that a task was done. Duplicate
// pending claims for the same task are allowed; parents resolve them one
// by one.
func (s *SQLiteStorage) AddSubmission(ctx context.Context, childID, taskID string, submittedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_submissions (child_id, task_id, submitted_at)
		VALUES (?, ?, ?)`,
		childID, taskID, submittedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to add submission: %w", err)
	}
	return nil
}

// AddCompletion records that a task was done for a child, along with who
// caused the record.
func (s *SQLiteStorage) AddCompletion(ctx context.Context, childID, taskID, byUsername string, doneAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_completions (child_id, task_id, done_at, by_username)
		VALUES (?, ?, ?, ?)`,
		childID, taskID, doneAt.UTC().Unix(), byUsername)
	if err != nil {
		return fmt.Errorf("failed to add completion: %w", err)
	}
	return nil
}

// ListPendingSubmissions returns all submissions waiting for review,
// oldest first, with display names joined in.
func (s *SQLiteStorage) ListPendingSubmissions(ctx context.Context) ([]core.PendingSubmission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.child_id, ch.display_name, s.task_id, t.name, s.submitted_at
		FROM task_submissions s
		JOIN children ch ON ch.id = s.child_id
		JOIN tasks t ON t.id = s.task_id
		ORDER BY s.submitted_at, s.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	var submissions []core.PendingSubmission
	for rows.Next() {
		var sub core.PendingSubmission
		var submittedAt int64
		if err := rows.Scan(&sub.ID, &sub.ChildID, &sub.ChildDisplayName, &sub.TaskID, &sub.TaskName, &submittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		sub.SubmittedAt = time.Unix(submittedAt, 0).UTC()
		submissions = append(submissions, sub)
	}
	return submissions, rows.Err()
}

// CountPendingSubmissions returns the number of submissions waiting for
// review.
func (s *SQLiteStorage) CountPendingSubmissions(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM task_submissions").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return count, nil
}

// ApproveSubmission converts a pending submission into a reward and a
// completion record, then removes it, all in one transaction. A missing
// submission is not an error: someone else resolved it first, and
// approving is idempotent. It returns the affected child ID and whether
// the submission was actually applied.
func (s *SQLiteStorage) ApproveSubmission(ctx context.Context, submissionID int64, approvedBy string, now time.Time) (string, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var childID, taskID, taskName string
	var taskMinutes int64
	err = tx.QueryRowContext(ctx, `
		SELECT s.child_id, s.task_id, t.name, t.minutes
		FROM task_submissions s
		JOIN tasks t ON t.id = s.task_id
		WHERE s.id = ?`, submissionID).
		Scan(&childID, &taskID, &taskName, &taskMinutes)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load submission: %w", err)
	}

	ts := now.UTC().Unix()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO rewards (child_id, task_id, minutes, description, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		childID, taskID, taskMinutes, taskName, ts)
	if err != nil {
		return "", false, fmt.Errorf("failed to add reward: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_completions (child_id, task_id, done_at, by_username)
		VALUES (?, ?, ?, ?)`,
		childID, taskID, ts, approvedBy)
	if err != nil {
		return "", false, fmt.Errorf("failed to add completion: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"DELETE FROM task_submissions WHERE id = ?", submissionID)
	if err != nil {
		return "", false, fmt.Errorf("failed to delete submission: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return childID, true, nil
}

// DiscardSubmission removes a pending submission without granting
// anything. Discarding an already resolved submission is a no-op; the
// bool reports whether a row was actually removed.
func (s *SQLiteStorage) DiscardSubmission(ctx context.Context, submissionID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM task_submissions WHERE id = ?", submissionID)
	if err != nil {
		return false, fmt.Errorf("failed to discard submission: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows > 0, nil
}

// CreateSession stores the server-side record for an issued token.
func (s *SQLiteStorage) CreateSession(ctx context.Context, session *auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (jti, username, issued_at, last_used_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		session.JTI, session.Username,
		session.IssuedAt.UTC().Unix(),
		session.LastUsedAt.UTC().Unix(),
		session.ExpiresAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// DeleteSession revokes a session and reports whether it existed.
// Deleting an unknown session is not an error so logout stays idempotent.
func (s *SQLiteStorage) DeleteSession(ctx context.Context, jti string) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE jti = ?", jti)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows > 0, nil
}

// TouchSession bumps last_used_at in a single guarded update. It reports
// false when the session is gone or its last use is older than the
// cutoff, which is how inactive sessions get rejected without a
// read-then-write race.
func (s *SQLiteStorage) TouchSession(ctx context.Context, jti string, cutoff, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_used_at = ?
		WHERE jti = ? AND last_used_at >= ?`,
		now.UTC().Unix(), jti, cutoff.UTC().Unix())
	if err != nil {
		return false, fmt.Errorf("failed to touch session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows > 0, nil
}

// DeleteExpiredSessions removes sessions past their absolute expiry and
// returns how many were removed.
func (s *SQLiteStorage) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at <= ?", now.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Ensure SQLiteStorage implements the full storage contract
var _ storage.Storage = (*SQLiteStorage)(nil)
