package auth

import (
	"context"
	"errors"
	"fmt"
	"klepsydra/internal/idgen"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Authentication errors. Token failures are deliberately opaque: callers
// get the same error for a bad signature, a hard-expired token and a
// foreign tenant.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrSessionExpired     = errors.New("session expired")
)

// User is an account allowed to log in, taken from config. Child
// accounts carry the ID of the child they act as.
type User struct {
	Username     string
	PasswordHash string
	Role         Role
	ChildID      string
}

// SessionStore persists the server-side records gating issued tokens.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	DeleteSession(ctx context.Context, jti string) (bool, error)
	TouchSession(ctx context.Context, jti string, cutoff, now time.Time) (bool, error)
}

// Service issues, verifies, renews and revokes tenant tokens. A token is
// honored only while it verifies cryptographically AND its session row
// passes the inactivity cutoff.
type Service struct {
	secret     []byte
	tenantID   string
	users      map[string]User
	store      SessionStore
	inactivity time.Duration
	ttl        time.Duration
}

// NewService creates an auth service for one tenant. inactivity is how
// long a session may go unused before it dies; ttl is the hard lifetime
// of every issued token.
func NewService(secret, tenantID string, users []User, store SessionStore, inactivity, ttl time.Duration) *Service {
	byName := make(map[string]User, len(users))
	for _, user := range users {
		byName[user.Username] = user
	}
	return &Service{
		secret:     []byte(secret),
		tenantID:   tenantID,
		users:      byName,
		store:      store,
		inactivity: inactivity,
		ttl:        ttl,
	}
}

// Login verifies credentials and issues a fresh token for the user.
// Unknown usernames and wrong passwords produce the same error.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, ok := s.users[username]
	if !ok {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issue(ctx, user.Username, user.Role, user.ChildID, "")
}

// IssueDeviceToken issues a child-role token bound to one child and one
// device, attributed to the account that requested the registration.
// Authorization for the registration itself is the caller's job.
func (s *Service) IssueDeviceToken(ctx context.Context, username, childID, deviceID string) (string, error) {
	return s.issue(ctx, username, RoleChild, childID, deviceID)
}

// Verify checks the token's signature, hard expiry and tenant without
// consulting the session store.
func (s *Service) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TenantID != s.tenantID || claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticate is the hot-path check run for every request: Verify, then
// touch the session. A session that went unused past the inactivity
// window fails the touch and the token is dead even though its signature
// and expiry are still good.
func (s *Service) Authenticate(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.Verify(token)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ok, err := s.store.TouchSession(ctx, claims.ID, now.Add(-s.inactivity), now)
	if err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}
	if !ok {
		return nil, ErrSessionExpired
	}
	return claims, nil
}

// Renew exchanges a valid token for a fresh one with a new jti and
// expiry, carrying the same bindings, and revokes the old session.
// Renewal needs only signature and hard-expiry validity; a session idle
// past the inactivity window can still renew. A revoked session cannot.
func (s *Service) Renew(ctx context.Context, token string) (string, error) {
	claims, err := s.Verify(token)
	if err != nil {
		return "", err
	}

	removed, err := s.store.DeleteSession(ctx, claims.ID)
	if err != nil {
		return "", fmt.Errorf("failed to revoke session: %w", err)
	}
	if !removed {
		return "", ErrInvalidToken
	}
	return s.issue(ctx, claims.Subject, claims.Role, claims.ChildID, claims.DeviceID)
}

// Logout revokes the session. Revoking an already dead session is fine.
func (s *Service) Logout(ctx context.Context, jti string) error {
	_, err := s.store.DeleteSession(ctx, jti)
	return err
}

func (s *Service) issue(ctx context.Context, username string, role Role, childID, deviceID string) (string, error) {
	now := time.Now().UTC()
	expires := now.Add(s.ttl)

	claims := Claims{
		Role:     role,
		TenantID: s.tenantID,
		ChildID:  childID,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ID:        idgen.New(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	session := &Session{
		JTI:        claims.ID,
		Username:   username,
		IssuedAt:   now,
		LastUsedAt: now,
		ExpiresAt:  expires,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}
