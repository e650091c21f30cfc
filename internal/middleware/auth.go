package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextEmail is the gin context key holding the authenticated identity.
const ContextEmail = "email"

// TokenValidator resolves a bearer token to a participant email.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// JWTAuth accepts "Authorization: Bearer <token>" or, for websocket
// upgrades that cannot set headers, an access_token query parameter.
func JWTAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("access_token")
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
				return
			}
			token = strings.TrimSpace(parts[1])
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		email, err := validator.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(ContextEmail, email)
		c.Next()
	}
}

// InternalAuth guards service-to-service endpoints with a shared key.
func InternalAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Internal-API-Key")
		if key == "" || apiKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid internal API key"})
			return
		}
		c.Next()
	}
}

// Email returns the identity set by JWTAuth.
func Email(c *gin.Context) string {
	return c.GetString(ContextEmail)
}
