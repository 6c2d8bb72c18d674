package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/service"
)

func bearerToken(c *gin.Context) (string, bool) {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(auth, "Bearer "), true
}

// AuthMiddleware creates middleware that validates session bearer tokens
func AuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			return
		}

		session, err := authService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set("session", session)

		c.Next()
	}
}

// VerifiedOnly requires a fully verified, non-degraded session. Optimistic
// and fallback-authenticated sessions are logged in but excluded here.
func VerifiedOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get("session")
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		session := value.(*core.Session)
		if !session.Verified || session.Degraded {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Identity verification required"})
			return
		}

		c.Next()
	}
}
