package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type contextKey string

const (
	userIDKey contextKey = "farmconnect.user_id"
	tokenKey  contextKey = "farmconnect.token"
)

// Middleware rejects requests without a live bearer token and records the
// caller's user id on the gin context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader(s.headerName))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		userID, err := s.ValidateToken(c.Request.Context(), token)
		switch {
		case err == nil:
		case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenExpired), errors.Is(err, ErrTokenRequired):
			s.logger.Debug("bearer token rejected", "path", c.Request.URL.Path, "reason", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		default:
			s.logger.Error("validate token failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		c.Set(string(userIDKey), userID)
		c.Set(string(tokenKey), token)
		c.Next()
	}
}

// UserIDFromContext returns the id stored by Middleware.
func UserIDFromContext(c *gin.Context) (int64, bool) {
	userID, ok := c.Get(string(userIDKey))
	if !ok {
		return 0, false
	}
	id, ok := userID.(int64)
	return id, ok
}

// AuthTokenFromContext returns the bearer token of the current request.
func AuthTokenFromContext(c *gin.Context) (string, bool) {
	token := c.GetString(string(tokenKey))
	return token, token != ""
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
