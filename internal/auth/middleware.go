package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// credentialSource records where a request's session token came from.
type credentialSource string

const (
	sourceBearer credentialSource = "bearer"
	sourceCookie credentialSource = "cookie"
)

const (
	userIDContextKey    = "tutorchat.user_id"
	authTokenContextKey = "tutorchat.auth_token"
	sourceContextKey    = "tutorchat.credential_source"
)

// Middleware resolves the request's session and rejects requests without a live one.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, source := s.credentials(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		userID, err := s.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(userIDContextKey, userID)
		c.Set(authTokenContextKey, token)
		c.Set(sourceContextKey, source)
		c.Next()
	}
}

// UserIDFromContext returns the provider-prefixed user id of the session.
func UserIDFromContext(c *gin.Context) (string, bool) {
	userID := c.GetString(userIDContextKey)
	return userID, userID != ""
}

// AuthTokenFromContext returns the session token the middleware accepted.
func AuthTokenFromContext(c *gin.Context) (string, bool) {
	token := c.GetString(authTokenContextKey)
	return token, token != ""
}

// credentials prefers an explicit bearer header over the session cookie.
func (s *Service) credentials(r *http.Request) (string, credentialSource) {
	if h := r.Header.Get(s.headerName); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:]), sourceBearer
	}
	if ck, err := r.Cookie(s.cookieName); err == nil && ck.Value != "" {
		return ck.Value, sourceCookie
	}
	return "", ""
}
