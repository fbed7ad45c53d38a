package auth

import (
	"net/http"
	"strings"

	"chatdeck/internal/models"

	"github.com/gin-gonic/gin"
)

const userContextKey = "auth_user"

// Middleware validates bearer or cookie tokens and stores the authenticated
// user in the context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		user, err := s.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(userContextKey, user)
		c.Next()
	}
}

// UserFromContext retrieves the authenticated user from the gin context.
func UserFromContext(c *gin.Context) (*models.User, bool) {
	val, ok := c.Get(userContextKey)
	if !ok {
		return nil, false
	}
	user, ok := val.(*models.User)
	return user, ok
}

func (s *Service) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		return token
	}
	return ""
}
