package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireParent rejects requests whose token does not carry the parent role
func RequireParent() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok || !claims.IsParent() {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Parent role required",
				"code":  "PARENT_REQUIRED",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
