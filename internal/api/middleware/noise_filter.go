package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SkipLoggingKey marks a request as noise so the logging middleware
// demotes it to debug level.
const SkipLoggingKey = "skip_logging"

// NoiseFilter flags scanner and probe traffic so it does not flood the
// request log. The server is meant to sit on the open internet for
// agents checking in from school networks, which attracts bots.
func NoiseFilter(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		method := c.Request.Method

		// Process request first
		c.Next()

		// Never filter requests that carried a valid token
		if c.GetBool(AuthenticatedKey) {
			return
		}

		status := c.Writer.Status()

		// 404s on well-known scanner paths
		if status == http.StatusNotFound && isScannerPath(path) {
			c.Set(SkipLoggingKey, true)
		}

		// Invalid methods on valid routes
		if status == http.StatusMethodNotAllowed {
			c.Set(SkipLoggingKey, true)
		}

		// Any failing request to a scanner path
		if isScannerPath(path) && status >= 400 {
			c.Set(SkipLoggingKey, true)
		}

		if c.GetBool(SkipLoggingKey) {
			logger.Debug("Scanner request filtered",
				"path", path,
				"method", method,
				"status", status,
				"client_ip", c.ClientIP())
		}
	}
}

// isScannerPath checks if a path is commonly probed by scanners
func isScannerPath(path string) bool {
	scannerPaths := []string{
		"/admin",
		"/phpmyadmin",
		"/wp-admin",
		"/wp-login",
		"/.env",
		"/.git",
		"/config",
		"/backup",
		"/debug",
		"/.aws",
		"/console",
		"/actuator",
		"/manager",
		"/cgi-bin",
		"/.well-known",
		"/robots.txt",
		"/favicon.ico",
		"/sitemap.xml",
	}

	lowercasePath := strings.ToLower(path)
	for _, scannerPath := range scannerPaths {
		if strings.HasPrefix(lowercasePath, scannerPath) {
			return true
		}
	}

	scannerExtensions := []string{
		".php",
		".asp",
		".aspx",
		".jsp",
		".bak",
		".old",
		".sql",
		".zip",
		".tar",
		".gz",
	}

	for _, ext := range scannerExtensions {
		if strings.HasSuffix(lowercasePath, ext) {
			return true
		}
	}

	return false
}
