// internal/middleware/logging_middleware.go
package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pulsepal-service/internal/utils"
)

// LoggingMiddleware logs every request once it completes
func LoggingMiddleware(logger *utils.ServiceLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		duration := time.Since(startTime)

		// websocket upgrades are logged by their handler
		if c.Writer.Status() == http.StatusSwitchingProtocols {
			return
		}

		logger.LogAPIRequest(
			c.Request.Method,
			c.Request.URL.Path,
			c.Request.UserAgent(),
			c.ClientIP(),
			c.Writer.Status(),
			duration,
		)
	}
}
