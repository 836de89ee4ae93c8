// internal/middleware/auth_middleware.go
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pulsepal-service/internal/auth"
	"pulsepal-service/internal/utils"
)

// ClaimsKey is the gin context key holding validated token claims
const ClaimsKey = "claims"

// AuthMiddleware requires a valid bearer token. Browsers cannot set headers
// on WebSocket upgrades, so the token may also arrive as access_token in the
// query string. Read-only tokens are limited to GET requests.
func AuthMiddleware(tokens *auth.TokenManager, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			utils.ErrorResponse(c, http.StatusUnauthorized, "Missing bearer token", nil)
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(token)
		if err != nil {
			utils.LoggerWithRequestID(logger, utils.GetRequestID(c)).Warn("Rejected API token",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
			utils.ErrorResponse(c, http.StatusUnauthorized, "Invalid token", nil)
			c.Abort()
			return
		}

		if claims.ReadOnly && c.Request.Method != http.MethodGet {
			utils.ErrorResponse(c, http.StatusForbidden, "Token is read-only", nil)
			c.Abort()
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return c.Query("access_token")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
