//go:build !linux && !windows && !darwin

package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// ErrUnsupportedPlatform means this OS has no session control backend.
var ErrUnsupportedPlatform = errors.New("session control is not supported on this platform")

// StubPlatform logs actions on platforms without a lock backend. The
// agent still reports usage; it just cannot enforce.
type StubPlatform struct {
	logger *slog.Logger
}

// NewPlatform creates the platform implementation for the current OS.
func NewPlatform(cfg *Config, logger *slog.Logger) Platform {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubPlatform{
		logger: logger.With("component", "platform-stub"),
	}
}

// LockWorkstation logs the attempt and reports the platform gap.
func (p *StubPlatform) LockWorkstation() error {
	p.logger.Warn("LockWorkstation called on an unsupported platform")
	return ErrUnsupportedPlatform
}

// SessionLocked always reports unlocked.
func (p *StubPlatform) SessionLocked() (bool, error) {
	return false, nil
}

// Notify logs the notification.
func (p *StubPlatform) Notify(title, message string) error {
	p.logger.Warn("Screen time warning",
		"title", title,
		"message", message,
	)
	return nil
}

// DeviceID falls back to the hostname.
func (p *StubPlatform) DeviceID() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to derive device id: %w", err)
	}
	return host, nil
}

// Ensure StubPlatform implements Platform
var _ Platform = (*StubPlatform)(nil)
