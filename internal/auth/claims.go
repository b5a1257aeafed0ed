package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the signed facts carried by every token. A parent token
// has no bindings. A child token is bound to one child; when issued for
// a managed device it is additionally bound to that device.
type Claims struct {
	Role     Role   `json:"role"`
	TenantID string `json:"tenant_id"`
	ChildID  string `json:"child_id,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	jwt.RegisteredClaims
}

// Username returns the account the token was issued to.
func (c *Claims) Username() string {
	return c.Subject
}

// IsParent reports whether the token carries the parent role.
func (c *Claims) IsParent() bool {
	return c.Role == RoleParent
}

// IsDevice reports whether the token is bound to a managed device.
func (c *Claims) IsDevice() bool {
	return c.DeviceID != ""
}

// CanReadChild reports whether the token may read the given child's
// data: parents read everything, a child token only its own child.
func (c *Claims) CanReadChild(childID string) bool {
	return c.Role == RoleParent || c.ChildID == childID
}

// CanReportUsage reports whether the token may submit heartbeats for
// the given child and device. Only a token bound to exactly that child
// and that device qualifies; parent tokens and deviceless child tokens
// never report usage.
func (c *Claims) CanReportUsage(childID, deviceID string) bool {
	return c.Role == RoleChild && c.ChildID == childID && c.DeviceID == deviceID && deviceID != ""
}
