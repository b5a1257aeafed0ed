//go:build linux

package agent

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// LinuxPlatform drives session locking through loginctl and notifies
// the child with notify-send. A lock_cmd config entry replaces the
// loginctl lock for desktops that need something else.
type LinuxPlatform struct {
	lockCmd string
	logger  *slog.Logger
}

// NewPlatform creates the platform implementation for the current OS.
func NewPlatform(cfg *Config, logger *slog.Logger) Platform {
	if logger == nil {
		logger = slog.Default()
	}
	return &LinuxPlatform{
		lockCmd: cfg.LockCmd,
		logger:  logger.With("component", "platform"),
	}
}

// LockWorkstation locks the current session.
func (p *LinuxPlatform) LockWorkstation() error {
	if p.lockCmd != "" {
		return p.runLockCommand()
	}

	if err := exec.Command("loginctl", "lock-session").Run(); err != nil {
		p.logger.Error("loginctl lock-session failed", "error", err)
		return fmt.Errorf("%w: %v", ErrLockFailed, err)
	}
	p.logger.Info("Session locked")
	return nil
}

// runLockCommand executes the configured lock command, split on
// whitespace.
func (p *LinuxPlatform) runLockCommand() error {
	parts := strings.Fields(p.lockCmd)
	if len(parts) == 0 {
		return fmt.Errorf("%w: lock_cmd is empty", ErrLockFailed)
	}
	if err := exec.Command(parts[0], parts[1:]...).Run(); err != nil {
		p.logger.Error("Lock command failed",
			"cmd", parts[0],
			"error", err,
		)
		return fmt.Errorf("%w: %v", ErrLockFailed, err)
	}
	p.logger.Info("Session locked", "cmd", parts[0])
	return nil
}

// SessionLocked reads the logind LockedHint for the current session.
func (p *LinuxPlatform) SessionLocked() (bool, error) {
	session := os.Getenv("XDG_SESSION_ID")
	if session == "" {
		session = "auto"
	}
	out, err := exec.Command("loginctl", "show-session", session, "--property=LockedHint", "--value").Output()
	if err != nil {
		return false, fmt.Errorf("loginctl show-session failed: %w", err)
	}
	return strings.TrimSpace(string(out)) == "yes", nil
}

// Notify shows a critical desktop notification.
func (p *LinuxPlatform) Notify(title, message string) error {
	err := exec.Command("notify-send", "--urgency=critical", "--app-name=klepsydra", title, message).Run()
	if err != nil {
		return fmt.Errorf("notify-send failed: %w", err)
	}
	return nil
}

// DeviceID combines the uid with the machine id so two accounts on the
// same computer register as distinct devices.
func (p *LinuxPlatform) DeviceID() (string, error) {
	id := readMachineID()
	if id == "" {
		host, err := os.Hostname()
		if err != nil {
			return "", fmt.Errorf("failed to derive device id: %w", err)
		}
		id = host
	}
	return fmt.Sprintf("uid%d-%s", os.Getuid(), id), nil
}

func readMachineID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	return ""
}

// Ensure LinuxPlatform implements Platform
var _ Platform = (*LinuxPlatform)(nil)
