package agent

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Countdown tracks the final minute before a lock. It warns the child
// once the warn lead is reached and fires onZero when the deadline
// passes; Cancel stops it without locking. Arming again while running
// just moves the deadline.
type Countdown struct {
	platform Platform
	clock    Clock
	warnLead time.Duration
	onZero   func()
	logger   *slog.Logger

	// tickEvery is how often the running countdown re-checks the
	// deadline. Tests shorten it.
	tickEvery time.Duration

	mu       sync.Mutex
	deadline time.Time
	stop     chan struct{} // non-nil while running
}

// NewCountdown creates a countdown. onZero runs on the countdown's own
// goroutine when the deadline passes without a cancel.
func NewCountdown(platform Platform, clock Clock, warnLead time.Duration, onZero func(), logger *slog.Logger) *Countdown {
	if logger == nil {
		logger = slog.Default()
	}
	return &Countdown{
		platform:  platform,
		clock:     clock,
		warnLead:  warnLead,
		onZero:    onZero,
		logger:    logger.With("component", "countdown"),
		tickEvery: time.Second,
	}
}

// Arm starts the countdown toward deadline, or moves the deadline when
// one is already running.
func (c *Countdown) Arm(deadline time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deadline = deadline
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.logger.Debug("Warning countdown armed", "deadline", deadline)
	go c.run(c.stop)
}

// Cancel stops a running countdown without firing. Safe to call when
// none is running.
func (c *Countdown) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop == nil {
		return
	}
	close(c.stop)
	c.stop = nil
	c.logger.Debug("Warning countdown cancelled")
}

// Active reports whether a countdown is currently running.
func (c *Countdown) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop != nil
}

func (c *Countdown) run(stop chan struct{}) {
	ticker := c.clock.NewTicker(c.tickEvery)
	defer ticker.Stop()

	warned := false
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		deadline := c.deadline
		c.mu.Unlock()

		left := deadline.Sub(c.clock.Now())
		if left <= 0 {
			// Claim the firing under the lock so a concurrent Cancel
			// either wins entirely or not at all.
			c.mu.Lock()
			if c.stop != stop {
				c.mu.Unlock()
				return
			}
			c.stop = nil
			c.mu.Unlock()

			c.logger.Info("Warning countdown expired")
			c.onZero()
			return
		}

		if !warned && left <= c.warnLead {
			warned = true
			secs := int(left.Round(time.Second) / time.Second)
			c.logger.Info("Lock warning shown", "seconds_left", secs)
			msg := fmt.Sprintf("Locking in %d seconds. Save your work.", secs)
			if err := c.platform.Notify("Time is almost up", msg); err != nil {
				c.logger.Warn("Failed to show lock warning", "error", err)
			}
		}
	}
}
