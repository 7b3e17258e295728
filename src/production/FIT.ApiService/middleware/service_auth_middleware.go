package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ServiceAuthMiddleware validates service-to-service authentication for
// the internal ingest endpoints. The shared secret comes from
// configuration; with no secret configured the endpoints are disabled.
func ServiceAuthMiddleware(expectedSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expectedSecret == "" {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Internal API secret not configured",
			})
			c.Abort()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Missing Authorization header",
			})
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization format. Expected 'Bearer <token>'",
			})
			c.Abort()
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token != expectedSecret {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid service token",
			})
			c.Abort()
			return
		}

		c.Set("service_auth", true)
		c.Next()
	}
}
