package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// PendingMinutes is the agent's durable outbox: epoch minutes that were
// observed on this device but not yet acknowledged by the server. The
// set survives restarts so offline usage is reported late instead of
// lost, and the server's per-minute dedupe makes resending safe.
type PendingMinutes struct {
	mu       sync.Mutex
	path     string
	minutes  []int64 // sorted ascending, unique
	capacity int
	logger   *slog.Logger
}

// NewPendingMinutes loads the pending set from path, creating the
// parent directory if needed. Minutes beyond capacity are dropped
// oldest first.
func NewPendingMinutes(path string, capacity int, logger *slog.Logger) (*PendingMinutes, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &PendingMinutes{
		path:     path,
		capacity: capacity,
		logger:   logger.With("component", "pending-minutes"),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("failed to read pending minutes %s: %w", path, err)
	}
	if len(data) == 0 {
		return p, nil
	}

	var minutes []int64
	if err := json.Unmarshal(data, &minutes); err != nil {
		// A broken state file must not keep the agent from starting.
		p.logger.Warn("Pending minutes file unreadable, starting empty",
			"path", path,
			"error", err,
		)
		return p, nil
	}

	slices.Sort(minutes)
	p.minutes = slices.Compact(minutes)
	p.trim()
	return p, nil
}

// Add records a minute as used. Re-adding a known minute is a no-op.
// The minute stays in memory even when persisting fails, so it is still
// retried while the agent runs.
func (p *PendingMinutes) Add(minute int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, found := slices.BinarySearch(p.minutes, minute)
	if found {
		return nil
	}
	p.minutes = slices.Insert(p.minutes, idx, minute)
	p.trim()
	return p.save()
}

// Snapshot returns a copy of the pending minutes in ascending order.
func (p *PendingMinutes) Snapshot() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.minutes)
}

// MarkSent removes acknowledged minutes. When the removal cannot be
// persisted the minutes are put back so they are resent rather than
// silently double-counted on the next restart.
func (p *PendingMinutes) MarkSent(sent []int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := make([]int64, 0, len(sent))
	for _, minute := range sent {
		if idx, found := slices.BinarySearch(p.minutes, minute); found {
			p.minutes = slices.Delete(p.minutes, idx, idx+1)
			removed = append(removed, minute)
		}
	}
	if len(removed) == 0 {
		return nil
	}

	if err := p.save(); err != nil {
		for _, minute := range removed {
			idx, _ := slices.BinarySearch(p.minutes, minute)
			p.minutes = slices.Insert(p.minutes, idx, minute)
		}
		return err
	}
	return nil
}

// Len returns the number of pending minutes.
func (p *PendingMinutes) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.minutes)
}

// trim drops the oldest minutes once the set outgrows its capacity.
// The server would reject an oversized batch, and week-old minutes are
// outside anyone's review window anyway. Callers must hold mu.
func (p *PendingMinutes) trim() {
	if p.capacity > 0 && len(p.minutes) > p.capacity {
		overflow := len(p.minutes) - p.capacity
		p.minutes = slices.Delete(p.minutes, 0, overflow)
	}
}

// save writes the set atomically via a temp file rename. Callers must
// hold mu.
func (p *PendingMinutes) save() error {
	data, err := json.Marshal(p.minutes)
	if err != nil {
		return fmt.Errorf("failed to encode pending minutes: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.path), ".pending-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write pending minutes: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace pending minutes file: %w", err)
	}
	return nil
}
