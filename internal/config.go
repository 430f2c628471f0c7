package internal

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/lurkhub/lurkhub-app/internal/auth"
	"github.com/lurkhub/lurkhub-app/internal/kvstore"
	"github.com/lurkhub/lurkhub-app/internal/workspace"
)

var repoSuffixRe = regexp.MustCompile(`^[A-Za-z0-9._]*$`)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	GitHub  GitHubConfig      `yaml:"github"`
	Storage StorageConfig     `yaml:"storage"`
	Cache   CacheConfig       `yaml:"cache"`
	Session SessionConfig     `yaml:"session"`
	Posts   PostsConfig       `yaml:"posts"`
	Saga    SagaConfig        `yaml:"saga"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.GitHub.Validate(); err != nil {
		return fmt.Errorf("github: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.Posts.Validate(); err != nil {
		return fmt.Errorf("posts: %w", err)
	}
	return c.Saga.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
	// PublicURL is where browsers reach the server; the OAuth callback is
	// derived from it.
	PublicURL string `yaml:"public_url"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// CallbackURL returns the OAuth redirect URL.
func (c *HTTPConfig) CallbackURL() string {
	return strings.TrimRight(c.PublicURL, "/") + "/api/auth/callback"
}

// Secure reports whether the public URL is served over TLS.
func (c *HTTPConfig) Secure() bool {
	return strings.HasPrefix(c.PublicURL, "https://")
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.PublicURL, validation.Required, is.URL),
	)
}

// GitHubConfig holds GitHub API and OAuth app settings.
//
// OAuth login is enabled only when ClientID is set; Token is the personal
// access token the CLI commands act with.
type GitHubConfig struct {
	APIURL       string `yaml:"api_url"`
	OAuthURL     string `yaml:"oauth_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Token        string `yaml:"token"`
	RepoSuffix   string `yaml:"repo_suffix"`
}

// Validate validates the GitHub configuration.
func (c *GitHubConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.APIURL, is.URL),
		validation.Field(&c.OAuthURL, is.URL),
		validation.Field(&c.ClientSecret, validation.When(c.ClientID != "", validation.Required)),
		validation.Field(&c.RepoSuffix, validation.Match(repoSuffixRe)),
	)
}

// OAuthEnabled reports whether an OAuth app is configured.
func (c *GitHubConfig) OAuthEnabled() bool {
	return c.ClientID != ""
}

// OAuth returns the OAuth app settings with redirectURL as callback.
func (c *GitHubConfig) OAuth(redirectURL string) auth.OAuthConfig {
	cfg := auth.OAuthConfig{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  redirectURL,
	}
	if c.OAuthURL != "" {
		base := strings.TrimRight(c.OAuthURL, "/")
		cfg.AuthURL = base + "/login/oauth/authorize"
		cfg.TokenURL = base + "/login/oauth/access_token"
	}
	return cfg
}

// StorageConfig selects where the repositories live.
//
// Driver "github" talks to the GitHub API; "fs" serves the repositories
// from directories under Path, all owned by Owner.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	Owner  string `yaml:"owner"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	isFS := c.Driver == workspace.DriverFS
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(workspace.DriverGitHub, workspace.DriverFS)),
		validation.Field(&c.Path, validation.When(isFS, validation.Required)),
		validation.Field(&c.Owner, validation.When(isFS, validation.Required)),
	)
}

// CacheConfig holds the key-value store backing fetch caches, sessions and
// saga journals.
type CacheConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(kvstore.DriverMemory, kvstore.DriverSQLite)),
		validation.Field(&c.Path, validation.When(c.Driver == kvstore.DriverSQLite, validation.Required)),
	)
}

// SessionConfig holds the session cookie settings.
type SessionConfig struct {
	Secret     string        `yaml:"secret"`
	CookieName string        `yaml:"cookie_name"`
	Secure     bool          `yaml:"secure"`
	MaxAge     time.Duration `yaml:"max_age"`
}

// Validate validates the session configuration.
func (c *SessionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Secret, validation.Required, validation.RuneLength(auth.MinSecretLen, 0)),
		validation.Field(&c.CookieName, validation.Required),
		validation.Field(&c.MaxAge, validation.Min(time.Minute)),
	)
}

// PostsConfig tunes post sharding and paging.
type PostsConfig struct {
	PerIndex      int `yaml:"per_index"`
	PerPage       int `yaml:"per_page"`
	PreviewLength int `yaml:"preview_length"`
}

// Validate validates the posts configuration.
func (c *PostsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PerIndex, validation.Min(1)),
		validation.Field(&c.PerPage, validation.Min(1)),
		validation.Field(&c.PreviewLength, validation.Min(1)),
	)
}

// SagaConfig controls the background reconciliation sweep.
type SagaConfig struct {
	// ReconcileInterval is the sweep period; zero disables the sweeper.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// Validate validates the saga configuration.
func (c *SagaConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ReconcileInterval, validation.Min(time.Duration(0))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port:      8080,
				PublicURL: "http://localhost:8080",
			},
		},
		GitHub: GitHubConfig{
			APIURL: "https://api.github.com",
		},
		Storage: StorageConfig{
			Driver: workspace.DriverGitHub,
		},
		Cache: CacheConfig{
			Driver: kvstore.DriverSQLite,
			Path:   "./lurkhub.db",
		},
		Session: SessionConfig{
			CookieName: "lurkhub_session",
			MaxAge:     30 * 24 * time.Hour,
		},
		Posts: PostsConfig{
			PerIndex:      100,
			PerPage:       50,
			PreviewLength: 280,
		},
		Saga: SagaConfig{
			ReconcileInterval: 5 * time.Minute,
		},
	}
}
