package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// TenantScope rejects tokens issued for a different family than the one
// in the request path. The response is indistinguishable from a bad
// token so a foreign tenant ID cannot be probed.
func TenantScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
				"code":  "AUTH_REQUIRED",
			})
			c.Abort()
			return
		}

		if claims.TenantID != c.Param("tenant_id") {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token",
				"code":  "INVALID_TOKEN",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
