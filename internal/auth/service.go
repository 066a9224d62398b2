package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Service issues, validates, and revokes session tokens.
type Service struct {
	store          TokenStore
	tokenTTL       time.Duration
	cookieName     string
	headerName     string
	csrfCookieName string
	csrfHeaderName string
	stateCookie    string
	secureCookies  bool
	csrfExempt     map[string]bool
}

// Option configures a Service.
type Option func(*Service)

// WithSecureCookies marks every cookie the service writes as Secure.
func WithSecureCookies(secure bool) Option {
	return func(s *Service) {
		s.secureCookies = secure
	}
}

// NewService constructs an auth service with the supplied token lifetime.
func NewService(store TokenStore, ttl time.Duration, opts ...Option) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if store == nil {
		store = NewMemoryStore()
	}
	s := &Service{
		store:          store,
		tokenTTL:       ttl,
		cookieName:     "auth_token",
		headerName:     "Authorization",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
		stateCookie:    "oauth_state",
		csrfExempt: map[string]bool{
			LoginPath:    true,
			CallbackPath: true,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueToken mints a new random token for the user and stores it.
func (s *Service) IssueToken(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("invalid user id")
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	if err := s.store.Save(ctx, token, userID, s.tokenTTL); err != nil {
		return "", err
	}
	return token, nil
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

// NewState returns a random OAuth state value.
func (s *Service) NewState() (string, error) {
	return generateToken()
}

// ValidateToken verifies the token is known and unexpired, returning the user id.
func (s *Service) ValidateToken(ctx context.Context, authToken string) (string, error) {
	if authToken == "" {
		return "", errors.New("token required")
	}
	return s.store.Lookup(ctx, authToken)
}

// RevokeToken deletes a single token.
func (s *Service) RevokeToken(ctx context.Context, authToken string) error {
	if authToken == "" {
		return nil
	}
	return s.store.Delete(ctx, authToken)
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// AuthCookieName returns the cookie name storing auth tokens.
func (s *Service) AuthCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// StateCookieName returns the cookie carrying the OAuth state between login and callback.
func (s *Service) StateCookieName() string {
	return s.stateCookie
}

// SecureCookies reports whether cookies are written with the Secure flag.
func (s *Service) SecureCookies() bool {
	return s.secureCookies
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}
