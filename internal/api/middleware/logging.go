package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// Logging logs HTTP requests with structured fields. Health probes and
// requests flagged by the noise filter are demoted to debug level.
func Logging(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// Process request
		c.Next()

		// Log after request
		latency := time.Since(start)
		clientIP := c.ClientIP()
		method := c.Request.Method
		statusCode := c.Writer.Status()
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		quiet := path == "/healthz" || c.GetBool(SkipLoggingKey)

		if raw != "" {
			path = path + "?" + raw
		}

		if quiet {
			logger.Debug("HTTP request",
				"component", "api",
				"request_id", c.GetString(RequestIDKey),
				"method", method,
				"path", path,
				"status", statusCode,
				"latency", latency.String(),
				"client_ip", clientIP,
				"error", errorMessage,
			)
			return
		}

		logger.Info("HTTP request",
			"component", "api",
			"request_id", c.GetString(RequestIDKey),
			"method", method,
			"path", path,
			"status", statusCode,
			"latency", latency.String(),
			"client_ip", clientIP,
			"error", errorMessage,
		)
	}
}
