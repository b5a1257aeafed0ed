package agent

import "errors"

// ErrLockFailed means the OS refused or failed the lock request.
var ErrLockFailed = errors.New("failed to lock session")

// Platform abstracts the OS facilities the agent needs. Mock
// implementations stand in for it in tests.
type Platform interface {
	// LockWorkstation locks the current session
	LockWorkstation() error

	// SessionLocked reports whether the session is currently locked.
	// Minutes are not counted while it is.
	SessionLocked() (bool, error)

	// Notify shows a notification to the current user
	Notify(title, message string) error

	// DeviceID derives a stable identifier for this device and user
	DeviceID() (string, error)
}
