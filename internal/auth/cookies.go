package auth

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// OAuth routes. The state cookie is scoped to their common prefix.
const (
	LoginPath    = "/api/auth/login"
	CallbackPath = "/api/auth/callback"
	LogoutPath   = "/api/auth/logout"

	statePath = "/api/auth"
	stateTTL  = 10 * time.Minute
)

// SetStateCookie remembers the OAuth state until the provider redirects back.
func (s *Service) SetStateCookie(c *gin.Context, state string) {
	s.writeCookie(c, s.stateCookie, state, int(stateTTL.Seconds()), statePath, true, http.SameSiteLaxMode)
}

// ConsumeState reports whether state matches the cookie set at login and expires the cookie.
func (s *Service) ConsumeState(c *gin.Context, state string) bool {
	stored, err := c.Cookie(s.stateCookie)
	if err != nil || stored == "" || state == "" {
		return false
	}
	s.writeCookie(c, s.stateCookie, "", -1, statePath, true, http.SameSiteLaxMode)
	return subtle.ConstantTimeCompare([]byte(stored), []byte(state)) == 1
}

// SetSessionCookies writes the session token and its readable CSRF companion.
func (s *Service) SetSessionCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(s.tokenTTL.Seconds())
	s.writeCookie(c, s.cookieName, authToken, ttl, "/", true, http.SameSiteLaxMode)
	s.writeCookie(c, s.csrfCookieName, csrfToken, ttl, "/", false, http.SameSiteStrictMode)
}

// ClearSessionCookies expires both session cookies.
func (s *Service) ClearSessionCookies(c *gin.Context) {
	s.writeCookie(c, s.cookieName, "", -1, "/", true, http.SameSiteLaxMode)
	s.writeCookie(c, s.csrfCookieName, "", -1, "/", false, http.SameSiteStrictMode)
}

func (s *Service) writeCookie(c *gin.Context, name, value string, maxAge int, path string, httpOnly bool, sameSite http.SameSite) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		MaxAge:   maxAge,
		Path:     path,
		Secure:   s.secureCookies,
		HttpOnly: httpOnly,
		SameSite: sameSite,
	})
}
