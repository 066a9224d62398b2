package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"tutorchat/internal/config"
)

var discordEndpoint = oauth2.Endpoint{
	AuthURL:  "https://discord.com/api/oauth2/authorize",
	TokenURL: "https://discord.com/api/oauth2/token",
}

const (
	discordUserURL = "https://discord.com/api/users/@me"
	githubUserURL  = "https://api.github.com/user"
)

// OAuth signs users in through an external identity provider.
type OAuth struct {
	provider string
	cfg      *oauth2.Config
	userURL  string
}

// NewOAuth builds the provider named in cfg (discord or github).
func NewOAuth(cfg config.AuthConfig) (*OAuth, error) {
	provider := strings.ToLower(cfg.Provider)
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
	}
	var userURL string
	switch provider {
	case "discord":
		oc.Endpoint = discordEndpoint
		oc.Scopes = []string{"identify"}
		userURL = discordUserURL
	case "github":
		oc.Endpoint = github.Endpoint
		oc.Scopes = []string{"read:user"}
		userURL = githubUserURL
	default:
		return nil, fmt.Errorf("unknown auth provider: %s", cfg.Provider)
	}
	return &OAuth{provider: provider, cfg: oc, userURL: userURL}, nil
}

// LoginURL returns the provider consent page for state.
func (o *OAuth) LoginURL(state string) string {
	return o.cfg.AuthCodeURL(state)
}

// Exchange trades an authorization code for the provider's user id, prefixed by provider name.
func (o *OAuth) Exchange(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", errors.New("authorization code required")
	}
	tok, err := o.cfg.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("exchange code: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.userURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := o.cfg.Client(ctx, tok).Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch user: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch user: status %d", resp.StatusCode)
	}

	// discord reports a string snowflake, github a number
	var user struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", fmt.Errorf("decode user: %w", err)
	}
	id := strings.Trim(string(user.ID), `"`)
	if id == "" || id == "null" {
		return "", errors.New("provider returned no user id")
	}
	return o.provider + ":" + id, nil
}
