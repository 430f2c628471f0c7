package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
)

const stateCookie = "lurkhub_oauth_state"

// OAuthConfig holds the GitHub OAuth app credentials. AuthURL and TokenURL
// override the github.com endpoints when set.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
}

// NewGitHubProvider returns an oauth2.Config for GitHub login with the
// repo scope, which covers private repository contents.
func NewGitHubProvider(cfg OAuthConfig) *oauth2.Config {
	endpoint := githuboauth.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{"repo"},
		Endpoint:     endpoint,
	}
}

// BeginLogin stores a fresh state in a short-lived cookie and redirects to
// the provider's consent page.
func BeginLogin(w http.ResponseWriter, r *http.Request, provider *oauth2.Config, secure bool) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute) / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
	http.Redirect(w, r, provider.AuthCodeURL(state), http.StatusFound)
}

// CompleteLogin verifies the callback state and exchanges the code for an
// access token. A missing code or state mismatch is apperr.ErrMalformed; a
// rejected exchange is apperr.ErrUnauthorized.
func CompleteLogin(w http.ResponseWriter, r *http.Request, provider *oauth2.Config) (string, error) {
	q := r.URL.Query()
	code := q.Get("code")
	if code == "" {
		return "", apperr.Malformed("missing code")
	}
	c, err := r.Cookie(stateCookie)
	if err != nil || c.Value == "" || subtle.ConstantTimeCompare([]byte(c.Value), []byte(q.Get("state"))) != 1 {
		return "", apperr.Malformed("oauth state mismatch")
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})

	tok, err := provider.Exchange(r.Context(), code)
	if err != nil {
		return "", fmt.Errorf("auth: oauth exchange: %v: %w", err, apperr.ErrUnauthorized)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("auth: failed to retrieve access token: %w", apperr.ErrUnauthorized)
	}
	return tok.AccessToken, nil
}
