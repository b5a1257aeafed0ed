package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EnforcerState tracks enforcement progress between ticks
type EnforcerState struct {
	LastRemaining  *int64     // last balance the server reported
	LastHeartbeat  *time.Time // last successful heartbeat
	FailingSince   *time.Time // when heartbeat failures started
	FailsafeLocked bool       // whether the offline failsafe engaged
}

// Enforcer runs the heartbeat loop: every interval it records the
// current minute as used, reports all pending minutes, and reacts to
// the returned balance. Zero or less locks the session and keeps it
// locked; exactly one minute left arms a warning countdown that locks
// when it expires. When the server stays unreachable past the failsafe
// window the session is locked anyway: no answer never means free time.
type Enforcer struct {
	client    ServerClient
	platform  Platform
	pending   *PendingMinutes
	countdown *Countdown
	relocker  *Relocker
	clock     Clock
	config    *Config
	state     EnforcerState
	logger    *slog.Logger
	stopChan  chan struct{}
	mu        sync.Mutex
}

// NewEnforcer creates an enforcer with its countdown and re-lock loop.
func NewEnforcer(client ServerClient, platform Platform, pending *PendingMinutes, clock Clock, config *Config, logger *slog.Logger) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Enforcer{
		client:   client,
		platform: platform,
		pending:  pending,
		clock:    clock,
		config:   config,
		logger:   logger.With("component", "enforcer"),
		stopChan: make(chan struct{}),
	}
	e.relocker = NewRelocker(platform, clock, config.LockPoll(), config.RelockGrace(), logger)
	e.countdown = NewCountdown(platform, clock, config.WarnLead(), e.onCountdownExpired, logger)
	return e
}

// Start begins the enforcement loop (blocking). It returns an error
// only when the session is rejected for good and the device has to be
// logged in again.
func (e *Enforcer) Start(ctx context.Context) error {
	e.logger.Info("Starting enforcement loop",
		"interval", e.config.Interval(),
		"failsafe_after", e.config.FailsafeAfter(),
	)

	ticker := e.clock.NewTicker(e.config.Interval())
	defer ticker.Stop()
	defer e.shutdown()

	// First heartbeat right away, the rest on the ticker.
	if err := e.tick(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Enforcement loop stopped")
			return nil
		case <-e.stopChan:
			e.logger.Info("Enforcement loop stopped")
			return nil
		case <-ticker.C:
			if err := e.tick(ctx); err != nil {
				return err
			}
		}
	}
}

// Stop signals the enforcer to stop
func (e *Enforcer) Stop() {
	close(e.stopChan)
}

// HandleRemaining applies a balance update that arrived over the event
// stream instead of a heartbeat response.
func (e *Enforcer) HandleRemaining(remaining int64) {
	e.applyRemaining(e.clock.Now(), remaining)
}

// GetState returns a copy of the current state (for testing/debugging)
func (e *Enforcer) GetState() EnforcerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// tick records the current minute, reports pending usage and reacts to
// the result.
func (e *Enforcer) tick(ctx context.Context) error {
	now := e.clock.Now()

	locked, err := e.platform.SessionLocked()
	if err != nil {
		e.logger.Debug("Could not read session lock state", "error", err)
	}
	if locked {
		// Locked time is free: no minute recorded, nothing reported.
		e.logger.Debug("Session locked, skipping heartbeat")
		e.countdown.Cancel()
		return nil
	}

	if err := e.pending.Add(now.Unix() / 60); err != nil {
		e.logger.Warn("Failed to persist pending minute", "error", err)
	}

	minutes := e.pending.Snapshot()
	if len(minutes) == 0 {
		return nil
	}

	remaining, err := e.client.Heartbeat(ctx, minutes)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			// The session is gone for good. Fail closed, then surface
			// the error so the process exits and asks for a login.
			e.logger.Error("Heartbeat rejected, session revoked or expired", "error", err)
			e.countdown.Cancel()
			e.relocker.Arm()
			return fmt.Errorf("heartbeat unauthorized: %w", err)
		}
		e.recordFailure(now, err)
		return nil
	}

	if err := e.pending.MarkSent(minutes); err != nil {
		e.logger.Warn("Failed to clear acknowledged minutes", "error", err)
	}

	e.logger.Info("Heartbeat ok",
		"reported", len(minutes),
		"remaining", remaining,
	)
	e.recordSuccess(now)
	e.applyRemaining(now, remaining)
	return nil
}

// applyRemaining drives the lock machinery from a fresh balance.
func (e *Enforcer) applyRemaining(now time.Time, remaining int64) {
	e.mu.Lock()
	e.state.LastRemaining = &remaining
	e.mu.Unlock()

	switch {
	case remaining <= 0:
		e.logger.Info("Balance exhausted, locking", "remaining", remaining)
		e.countdown.Cancel()
		e.relocker.Arm()
	case remaining == 1:
		// The last minute runs out when the next heartbeat lands.
		deadline := now.Add(e.config.Interval())
		e.logger.Info("Final minute started", "deadline", deadline)
		e.relocker.Disarm()
		e.countdown.Arm(deadline)
	default:
		e.countdown.Cancel()
		e.relocker.Disarm()
	}
}

func (e *Enforcer) recordSuccess(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.LastHeartbeat = &now
	e.state.FailingSince = nil
	e.state.FailsafeLocked = false
}

// recordFailure tracks an unreachable server and locks once the outage
// outlasts the failsafe window, measured in wall-clock time from the
// first failure.
func (e *Enforcer) recordFailure(now time.Time, err error) {
	e.mu.Lock()
	if e.state.FailingSince == nil {
		e.state.FailingSince = &now
	}
	down := now.Sub(*e.state.FailingSince)
	failsafe := down >= e.config.FailsafeAfter() && !e.state.FailsafeLocked
	if failsafe {
		e.state.FailsafeLocked = true
	}
	e.mu.Unlock()

	e.logger.Warn("Heartbeat failed",
		"error", err,
		"down", down,
	)

	if failsafe {
		e.logger.Warn("Server unreachable beyond the failsafe window, locking",
			"down", down,
		)
		e.countdown.Cancel()
		e.relocker.Arm()
	}
}

// onCountdownExpired fires when the warning countdown reached zero
// without a cancel.
func (e *Enforcer) onCountdownExpired() {
	e.logger.Info("Final minute elapsed, locking")
	e.relocker.Arm()
}

// shutdown releases the lock machinery on loop exit.
func (e *Enforcer) shutdown() {
	e.countdown.Cancel()
	e.relocker.Disarm()
}
