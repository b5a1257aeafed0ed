//go:build windows

package agent

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"
)

// WindowsPlatform locks the workstation through user32.dll.
type WindowsPlatform struct {
	logger *slog.Logger
}

// NewPlatform creates the platform implementation for the current OS.
func NewPlatform(cfg *Config, logger *slog.Logger) Platform {
	if logger == nil {
		logger = slog.Default()
	}
	return &WindowsPlatform{
		logger: logger.With("component", "platform"),
	}
}

// LockWorkstation locks the workstation using user32.dll
func (p *WindowsPlatform) LockWorkstation() error {
	user32 := syscall.NewLazyDLL("user32.dll")
	lockWorkStation := user32.NewProc("LockWorkStation")

	ret, _, err := lockWorkStation.Call()
	if ret == 0 {
		// LockWorkStation returns 0 on failure
		p.logger.Error("Failed to lock workstation", "error", err)
		return fmt.Errorf("%w: %v", ErrLockFailed, err)
	}

	p.logger.Info("Workstation locked")
	return nil
}

// SessionLocked probes the input desktop. While the secure desktop is
// active, OpenInputDesktop fails for a normal process.
func (p *WindowsPlatform) SessionLocked() (bool, error) {
	const desktopSwitchDesktop = 0x0100

	user32 := syscall.NewLazyDLL("user32.dll")
	openInputDesktop := user32.NewProc("OpenInputDesktop")
	closeDesktop := user32.NewProc("CloseDesktop")

	handle, _, _ := openInputDesktop.Call(0, 0, uintptr(desktopSwitchDesktop))
	if handle == 0 {
		return true, nil
	}
	closeDesktop.Call(handle)
	return false, nil
}

// Notify logs the warning so it lands in the agent log file.
// TODO: native toast via github.com/go-toast/toast
func (p *WindowsPlatform) Notify(title, message string) error {
	p.logger.Warn("Screen time warning",
		"title", title,
		"message", message,
	)
	return nil
}

// DeviceID combines hostname and account name so two accounts on the
// same computer register as distinct devices.
func (p *WindowsPlatform) DeviceID() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to derive device id: %w", err)
	}
	user := os.Getenv("USERNAME")
	if user == "" {
		user = "user"
	}
	return strings.ToLower(host + "-" + user), nil
}

// Ensure WindowsPlatform implements Platform
var _ Platform = (*WindowsPlatform)(nil)
