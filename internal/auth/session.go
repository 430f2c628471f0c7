// Package auth manages browser sessions and the GitHub login handshake.
//
// A session is a server-side record (the GitHub token never leaves the
// server) referenced by an HS256 JWT in an HttpOnly cookie.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/kvstore"
	"github.com/lurkhub/lurkhub-app/internal/models"
)

const (
	sessionNamespace = "sessions"

	// MinSecretLen is the minimum session secret length in bytes.
	MinSecretLen = 32
)

// Session is the server-side state of a signed-in user.
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	Login     string    `json:"login"`
	Name      string    `json:"name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// User returns the profile stored with the session.
func (s *Session) User() models.User {
	return models.User{Login: s.Login, Name: s.Name, AvatarURL: s.AvatarURL}
}

type claims struct {
	jwt.RegisteredClaims
	Login string `json:"login"`
}

// SessionOptions configures the session cookie.
type SessionOptions struct {
	Secret     []byte
	CookieName string
	Secure     bool
	MaxAge     time.Duration
}

// Sessions issues and resolves sessions.
type Sessions struct {
	store kvstore.Store
	opts  SessionOptions
	now   func() time.Time
}

// NewSessions creates a session manager persisting records in store.
func NewSessions(store kvstore.Store, opts SessionOptions) (*Sessions, error) {
	if len(opts.Secret) < MinSecretLen {
		return nil, fmt.Errorf("auth: session secret must be at least %d bytes", MinSecretLen)
	}
	if opts.CookieName == "" {
		opts.CookieName = "session"
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 30 * 24 * time.Hour
	}
	return &Sessions{store: store, opts: opts, now: time.Now}, nil
}

// Issue stores a session for token and u and sets the session cookie.
func (s *Sessions) Issue(ctx context.Context, w http.ResponseWriter, token string, u models.User) (*Session, error) {
	sess := &Session{
		ID:        uuid.NewString(),
		Token:     token,
		Login:     u.Login,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
		CreatedAt: s.now().UTC(),
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("auth: encode session: %w", err)
	}
	if err := s.store.Put(ctx, sessionNamespace, sess.ID, raw); err != nil {
		return nil, fmt.Errorf("auth: store session: %w", err)
	}

	now := s.now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sess.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.MaxAge)),
		},
		Login: sess.Login,
	}).SignedString(s.opts.Secret)
	if err != nil {
		return nil, fmt.Errorf("auth: sign session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(s.opts.MaxAge / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   s.opts.Secure,
	})
	return sess, nil
}

// Load resolves the session of r. Missing, invalid or revoked sessions
// yield apperr.ErrUnauthorized.
func (s *Sessions) Load(r *http.Request) (*Session, error) {
	c, err := r.Cookie(s.opts.CookieName)
	if err != nil || c.Value == "" {
		return nil, apperr.ErrUnauthorized
	}
	cl, err := s.parse(c.Value)
	if err != nil {
		return nil, fmt.Errorf("auth: %v: %w", err, apperr.ErrUnauthorized)
	}
	raw, err := s.store.Get(r.Context(), sessionNamespace, cl.Subject)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("auth: load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("auth: decode session: %w", apperr.ErrUnauthorized)
	}
	return &sess, nil
}

func (s *Sessions) parse(value string) (*claims, error) {
	token, err := jwt.ParseWithClaims(value, &claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.opts.Secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	cl, ok := token.Claims.(*claims)
	if !ok || !token.Valid || cl.Subject == "" {
		return nil, errors.New("invalid session token")
	}
	return cl, nil
}

// Destroy revokes the session of r, if any, and clears the cookie.
func (s *Sessions) Destroy(w http.ResponseWriter, r *http.Request) error {
	defer s.clearCookie(w)
	c, err := r.Cookie(s.opts.CookieName)
	if err != nil {
		return nil
	}
	cl, err := s.parse(c.Value)
	if err != nil {
		return nil
	}
	return s.store.Delete(r.Context(), sessionNamespace, cl.Subject)
}

func (s *Sessions) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   s.opts.Secure,
	})
}

type sessionKey struct{}

// WithSession returns ctx carrying sess.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// FromContext returns the session attached by Middleware.
func FromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(*Session)
	return sess, ok && sess != nil
}

// Middleware attaches the request's session to its context when there is
// one. Requests without a valid session pass through unchanged.
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.Load(r)
		if err != nil {
			if !errors.Is(err, apperr.ErrUnauthorized) {
				slog.Warn("session lookup failed", slog.String("error", err.Error()))
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
	})
}

// RequireSession answers 401 unless Middleware attached a session.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"no valid session found"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
