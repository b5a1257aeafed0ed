package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"klepsydra/internal/auth"
)

// requestTimeout bounds every REST call. The event stream uses a
// separate client without a timeout.
const requestTimeout = 15 * time.Second

var (
	// ErrUnauthorized means the server rejected the token or credentials.
	// The session is gone; the device has to be logged in again.
	ErrUnauthorized = errors.New("server rejected the token")
	// ErrForbidden means the token is valid but not allowed to act on
	// the requested child or device.
	ErrForbidden = errors.New("token not authorized for this resource")
	// ErrNotDeviceToken means the token carries no child and device
	// binding and cannot be used for heartbeats.
	ErrNotDeviceToken = errors.New("token carries no device binding")
)

// Registration is the server's answer to a device registration: a
// device-bound child token plus the identity it was bound to.
type Registration struct {
	Token    string `json:"token"`
	ChildID  string `json:"child_id"`
	DeviceID string `json:"device_id"`
}

// ServerClient is the slice of the klepsydra API the enforcement loop
// relies on.
type ServerClient interface {
	// Heartbeat reports used epoch minutes and returns the new balance
	Heartbeat(ctx context.Context, minutes []int64) (int64, error)
	// OpenEvents opens the server's event stream for this family
	OpenEvents(ctx context.Context) (io.ReadCloser, error)
}

// HTTPServerClient implements the klepsydra REST and event-stream API
// over HTTP. The token is swapped in place on renew so long-lived loops
// always sign with the current session.
type HTTPServerClient struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *slog.Logger

	mu       sync.Mutex
	token    string
	tenantID string
	childID  string
	deviceID string
}

// NewHTTPServerClient creates a client for the given base URL. The URL
// should already be normalized, see NormalizeServerURL.
func NewHTTPServerClient(baseURL string, logger *slog.Logger) *HTTPServerClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServerClient{
		baseURL: NormalizeServerURL(baseURL),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		streamClient: &http.Client{},
		logger:       logger.With("component", "server-client"),
	}
}

// UseDeviceToken installs a device-bound child token for subsequent
// calls. The token's claims name the tenant, child and device; a token
// without those bindings is refused.
func (c *HTTPServerClient) UseDeviceToken(token string) error {
	claims, err := decodeClaims(token)
	if err != nil {
		return err
	}
	if claims.TenantID == "" || claims.ChildID == "" || claims.DeviceID == "" {
		return ErrNotDeviceToken
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.tenantID = claims.TenantID
	c.childID = claims.ChildID
	c.deviceID = claims.DeviceID
	return nil
}

// Token returns the current session token.
func (c *HTTPServerClient) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// ChildID returns the child the installed token is bound to.
func (c *HTTPServerClient) ChildID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.childID
}

// DeviceID returns the device the installed token is bound to.
func (c *HTTPServerClient) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

// Login exchanges credentials for a session token.
func (c *HTTPServerClient) Login(ctx context.Context, username, password string) (string, error) {
	payload := map[string]string{"username": username, "password": password}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.send(ctx, http.MethodPost, "/api/v1/auth/login", "", payload, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// Register binds this device to a child using a fresh login token and
// returns the device-bound token the agent will heartbeat with.
func (c *HTTPServerClient) Register(ctx context.Context, loginToken, childID, deviceID string) (*Registration, error) {
	claims, err := decodeClaims(loginToken)
	if err != nil {
		return nil, err
	}
	if claims.TenantID == "" {
		return nil, errors.New("login token carries no tenant")
	}

	path := fmt.Sprintf("/api/v1/family/%s/children/%s/register",
		url.PathEscape(claims.TenantID), url.PathEscape(childID))
	payload := map[string]string{"device_id": deviceID}

	var reg Registration
	if err := c.send(ctx, http.MethodPost, path, loginToken, payload, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Renew rotates the installed device token and returns the new one so
// the caller can persist it.
func (c *HTTPServerClient) Renew(ctx context.Context) (string, error) {
	token := c.Token()
	if token == "" {
		return "", ErrNotDeviceToken
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.send(ctx, http.MethodPost, "/api/v1/auth/renew", token, nil, &resp); err != nil {
		return "", err
	}
	if err := c.UseDeviceToken(resp.Token); err != nil {
		return "", fmt.Errorf("renewed token unusable: %w", err)
	}
	return resp.Token, nil
}

// Heartbeat reports the given epoch minutes as used and returns the
// child's new balance.
func (c *HTTPServerClient) Heartbeat(ctx context.Context, minutes []int64) (int64, error) {
	c.mu.Lock()
	token, tenant, child, device := c.token, c.tenantID, c.childID, c.deviceID
	c.mu.Unlock()
	if token == "" {
		return 0, ErrNotDeviceToken
	}

	path := fmt.Sprintf("/api/v1/family/%s/children/%s/device/%s/heartbeat",
		url.PathEscape(tenant), url.PathEscape(child), url.PathEscape(device))
	payload := map[string][]int64{"minutes": minutes}

	var resp struct {
		RemainingMinutes int64 `json:"remaining_minutes"`
	}
	if err := c.send(ctx, http.MethodPost, path, token, payload, &resp); err != nil {
		return 0, err
	}

	c.logger.Debug("Heartbeat acknowledged",
		"reported", len(minutes),
		"remaining", resp.RemainingMinutes,
	)
	return resp.RemainingMinutes, nil
}

// OpenEvents connects to the family event stream. The returned body
// delivers raw SSE lines until closed or the context is cancelled.
func (c *HTTPServerClient) OpenEvents(ctx context.Context) (io.ReadCloser, error) {
	c.mu.Lock()
	token, tenant := c.token, c.tenantID
	c.mu.Unlock()
	if token == "" {
		return nil, ErrNotDeviceToken
	}

	streamURL := fmt.Sprintf("%s/api/v1/family/%s/events?token=%s",
		c.baseURL, url.PathEscape(tenant), url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		return nil, statusError(resp.StatusCode, body)
	}
	return resp.Body, nil
}

// send performs a JSON request against the API and decodes the response
// into out when given.
func (c *HTTPServerClient) send(ctx context.Context, method, path, bearer string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return statusError(resp.StatusCode, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// statusError maps an API error response to a named error where the
// caller branches on it, keeping the server's message in the chain.
func statusError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	msg := http.StatusText(status)
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}

	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, msg)
	default:
		return fmt.Errorf("unexpected status %d: %s", status, msg)
	}
}

// decodeClaims reads a token's claims without verifying the signature.
// The agent never trusts these claims for security, only to learn which
// tenant, child and device the server bound the token to.
func decodeClaims(token string) (*auth.Claims, error) {
	claims := &auth.Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to decode token claims: %w", err)
	}
	return claims, nil
}

// Ensure HTTPServerClient implements ServerClient
var _ ServerClient = (*HTTPServerClient)(nil)
