package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"memgate/internal/config"
)

// AuthMiddleware validates the bearer token and attaches the tenant identity
// to the request. Handlers read "tenantId" and pass it explicitly down the
// pipeline.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "Missing or invalid Authorization header"}})
			return
		}
		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := ParseJWT(cfg.Server.JWTSecret, tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "Invalid or expired token"}})
			return
		}

		c.Set("tenantId", claims.TenantID)
		c.Set("subject", claims.Subject)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// TenantID extracts the authenticated tenant from the gin context.
func TenantID(c *gin.Context) string {
	return c.GetString("tenantId")
}
