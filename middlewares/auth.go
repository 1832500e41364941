package middlewares

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"seed-order-service/utils"
)

const RoleAdmin = "admin"

// AuthMiddleware requires a valid bearer token and exposes userID and role
// on the gin context.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			abortUnauthorized(c, http.StatusUnauthorized, "Authorization token required")
			return
		}

		claims, err := utils.ParseToken(tokenString, secret)
		if err != nil {
			abortUnauthorized(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		c.Set("userID", claims.UserID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// RequireRole lets the request through only when AuthMiddleware stored the
// given role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != role {
			abortUnauthorized(c, http.StatusForbidden, "Insufficient permissions")
			return
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success":   false,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
