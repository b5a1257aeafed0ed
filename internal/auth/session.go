package auth

import "time"

// Role determines what a token may do within the tenant.
type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

// Session is the server-side record backing an issued token. A token is
// honored only while its session row exists, has been used within the
// inactivity window and has not passed its absolute expiry.
type Session struct {
	JTI        string
	Username   string
	IssuedAt   time.Time
	LastUsedAt time.Time
	ExpiresAt  time.Time
}
