package agent

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// lockDebounce prevents spamming lock calls
const lockDebounce = 5 * time.Second

// Relocker keeps the workstation locked while the balance is spent.
// Arming locks right away; afterwards a loop samples the session lock
// state and, when a parent unlocks by hand, locks again once a short
// grace expires. Disarm stops the loop without touching the session.
type Relocker struct {
	platform Platform
	clock    Clock
	poll     time.Duration
	grace    time.Duration
	debounce time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	stop     chan struct{} // non-nil while armed
	lastLock time.Time
}

// NewRelocker creates a re-lock loop with the given poll cadence and
// manual-unlock grace.
func NewRelocker(platform Platform, clock Clock, poll, grace time.Duration, logger *slog.Logger) *Relocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relocker{
		platform: platform,
		clock:    clock,
		poll:     poll,
		grace:    grace,
		debounce: lockDebounce,
		logger:   logger.With("component", "relocker"),
	}
}

// Arm locks the session now and keeps it locked until Disarm. Arming
// an armed relocker is a no-op.
func (r *Relocker) Arm() {
	r.mu.Lock()
	if r.stop != nil {
		r.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	r.stop = stop
	r.mu.Unlock()

	r.logger.Info("Re-lock loop armed", "grace", r.grace)
	r.tryLock()
	go r.run(stop)
}

// Disarm stops the re-lock loop. Safe to call when not armed.
func (r *Relocker) Disarm() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop == nil {
		return
	}
	close(r.stop)
	r.stop = nil
	r.logger.Info("Re-lock loop disarmed")
}

// Armed reports whether the re-lock loop is running.
func (r *Relocker) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stop != nil
}

func (r *Relocker) run(stop chan struct{}) {
	ticker := r.clock.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		locked, err := r.platform.SessionLocked()
		if err != nil {
			r.logger.Debug("Could not read session lock state", "error", err)
			continue
		}
		if locked {
			continue
		}

		r.logger.Info("Session unlocked while balance is empty", "relock_in", r.grace)
		secs := int(r.grace / time.Second)
		msg := fmt.Sprintf("Locking again in %d seconds.", secs)
		if err := r.platform.Notify("No screen time left", msg); err != nil {
			r.logger.Debug("Failed to show re-lock notice", "error", err)
		}

		select {
		case <-stop:
			return
		case <-time.After(r.grace):
		}

		r.tryLock()
	}
}

// tryLock locks the session unless a lock just happened.
func (r *Relocker) tryLock() {
	r.mu.Lock()
	last := r.lastLock
	r.mu.Unlock()

	now := r.clock.Now()
	if !last.IsZero() && now.Sub(last) < r.debounce {
		r.logger.Debug("Lock debounced", "since_last", now.Sub(last))
		return
	}

	if err := r.platform.LockWorkstation(); err != nil {
		r.logger.Error("Failed to lock session", "error", err)
		return
	}

	r.mu.Lock()
	r.lastLock = now
	r.mu.Unlock()
}
