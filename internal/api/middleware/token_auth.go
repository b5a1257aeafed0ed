package middleware

import (
	"context"
	"errors"
	"klepsydra/internal/auth"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ClaimsKey is the context key for the authenticated token claims
	ClaimsKey = "auth_claims"
	// AuthenticatedKey marks requests that passed token authentication
	AuthenticatedKey = "authenticated"
)

// Authenticator verifies a token and touches its server-side session
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Claims, error)
}

// TokenAuth validates bearer tokens and stores the claims in the request
// context. The token is read from the Authorization header, falling back
// to a token query parameter because EventSource cannot set headers.
func TokenAuth(authenticator Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
				"code":  "AUTH_REQUIRED",
			})
			c.Abort()
			return
		}

		claims, err := authenticator.Authenticate(c.Request.Context(), token)
		if err != nil {
			code := "INVALID_TOKEN"
			if errors.Is(err, auth.ErrSessionExpired) {
				code = "SESSION_EXPIRED"
			}
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token",
				"code":  code,
			})
			c.Abort()
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set(AuthenticatedKey, true)
		c.Next()
	}
}

// GetClaims retrieves the authenticated claims from context
func GetClaims(c *gin.Context) (*auth.Claims, bool) {
	value, exists := c.Get(ClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*auth.Claims)
	return claims, ok
}

// BearerToken extracts the token from the Authorization header, or
// returns an empty string if the header is missing or malformed.
func BearerToken(c *gin.Context) string {
	const bearerPrefix = "Bearer "
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return ""
	}
	return strings.TrimPrefix(authHeader, bearerPrefix)
}
