//go:build darwin

package agent

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

const cgSessionPath = "/System/Library/CoreServices/Menu Extras/User.menu/Contents/Resources/CGSession"

// DarwinPlatform suspends the session through CGSession and notifies
// via osascript.
type DarwinPlatform struct {
	logger *slog.Logger
}

// NewPlatform creates the platform implementation for the current OS.
func NewPlatform(cfg *Config, logger *slog.Logger) Platform {
	if logger == nil {
		logger = slog.Default()
	}
	return &DarwinPlatform{
		logger: logger.With("component", "platform"),
	}
}

// LockWorkstation suspends the current session, showing the login
// window.
func (p *DarwinPlatform) LockWorkstation() error {
	if err := exec.Command(cgSessionPath, "-suspend").Run(); err != nil {
		p.logger.Error("CGSession -suspend failed", "error", err)
		return fmt.Errorf("%w: %v", ErrLockFailed, err)
	}
	p.logger.Info("Session locked")
	return nil
}

// SessionLocked checks the window server's session properties. The
// CGSSessionScreenIsLocked key is only present while the screen is
// locked.
func (p *DarwinPlatform) SessionLocked() (bool, error) {
	out, err := exec.Command("ioreg", "-n", "Root", "-d1", "-a").Output()
	if err != nil {
		return false, fmt.Errorf("ioreg failed: %w", err)
	}
	return strings.Contains(string(out), "CGSSessionScreenIsLocked"), nil
}

// Notify shows a notification center banner.
func (p *DarwinPlatform) Notify(title, message string) error {
	script := fmt.Sprintf("display notification %q with title %q", message, title)
	if err := exec.Command("osascript", "-e", script).Run(); err != nil {
		return fmt.Errorf("osascript failed: %w", err)
	}
	return nil
}

// DeviceID combines the uid with the hostname so two accounts on the
// same computer register as distinct devices.
func (p *DarwinPlatform) DeviceID() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to derive device id: %w", err)
	}
	return fmt.Sprintf("uid%d-%s", os.Getuid(), host), nil
}

// Ensure DarwinPlatform implements Platform
var _ Platform = (*DarwinPlatform)(nil)
