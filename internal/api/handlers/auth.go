package handlers

import (
	"context"
	"errors"
	"klepsydra/internal/api/middleware"
	"klepsydra/internal/auth"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AuthHandler handles login and session lifecycle requests
type AuthHandler struct {
	auth   AuthService
	logger *slog.Logger
}

// AuthService interface for session operations needed by the auth endpoints
type AuthService interface {
	Login(ctx context.Context, username, password string) (string, error)
	Renew(ctx context.Context, token string) (string, error)
	Logout(ctx context.Context, jti string) error
	Verify(token string) (*auth.Claims, error)
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(auth AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		logger: logger.With("component", "auth-api"),
	}
}

// Login exchanges credentials for a token
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
			"code":  "INVALID_REQUEST",
		})
		return
	}
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "username and password required",
			"code":  "CREDENTIALS_REQUIRED",
		})
		return
	}

	token, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid username or password",
				"code":  "INVALID_CREDENTIALS",
			})
			return
		}

		h.logger.Error("login failed",
			"username", req.Username,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Login failed",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// Renew rotates a session: the presented token must still verify, its
// session is revoked and a fresh token with the same bindings is issued.
// POST /api/v1/auth/renew
func (h *AuthHandler) Renew(c *gin.Context) {
	token := middleware.BearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Authentication required",
			"code":  "AUTH_REQUIRED",
		})
		return
	}

	renewed, err := h.auth.Renew(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token",
				"code":  "INVALID_TOKEN",
			})
			return
		}

		h.logger.Error("renew failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Renew failed",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": renewed})
}

// Logout revokes the presented token's session
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	token := middleware.BearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Authentication required",
			"code":  "AUTH_REQUIRED",
		})
		return
	}

	claims, err := h.auth.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid token",
			"code":  "INVALID_TOKEN",
		})
		return
	}

	if err := h.auth.Logout(c.Request.Context(), claims.ID); err != nil {
		h.logger.Error("logout failed",
			"username", claims.Username(),
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Logout failed",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	c.Status(http.StatusNoContent)
}
