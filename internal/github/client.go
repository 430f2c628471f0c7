// Package github talks to the GitHub REST API: the authenticated user's
// profile, repository metadata and creation, and the contents API that
// backs storage.Provider.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/fetchcache"
	"github.com/lurkhub/lurkhub-app/internal/kvstore"
	"github.com/lurkhub/lurkhub-app/internal/models"
	"github.com/lurkhub/lurkhub-app/internal/storage"
)

// DefaultAPIURL is the public GitHub REST endpoint.
const DefaultAPIURL = "https://api.github.com"

const apiVersion = "2022-11-28"

var (
	_ storage.Repositories = (*Client)(nil)
	_ storage.Provider     = (*Contents)(nil)
)

// Client is a GitHub REST client. GETs go through a conditional fetch cache
// whose namespace is private to the token owner.
type Client struct {
	baseURL string
	http    *http.Client
	fetch   *fetchcache.Fetcher
}

// New creates a client authenticated with token. namespace scopes the
// fetch cache, normally "github/<login>".
func New(baseURL, token string, store kvstore.Store, namespace string) *Client {
	hc := &http.Client{Timeout: 30 * time.Second}
	if token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
		hc = oauth2.NewClient(context.Background(), src)
		hc.Timeout = 30 * time.Second
	}
	return newClient(baseURL, hc, store, namespace)
}

// Anonymous creates an unauthenticated client for public repositories.
func Anonymous(baseURL string, store kvstore.Store) *Client {
	return New(baseURL, "", store, "github/public")
}

func newClient(baseURL string, hc *http.Client, store kvstore.Store, namespace string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		fetch:   fetchcache.New(hc, store, namespace),
	}
}

func apiHeader() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/vnd.github+json")
	h.Set("X-GitHub-Api-Version", apiVersion)
	return h
}

func (c *Client) url(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

// getJSON performs a conditional GET and decodes the body into v.
func (c *Client) getJSON(ctx context.Context, u string, v any) (*fetchcache.Response, error) {
	resp, err := c.fetch.Get(ctx, u, apiHeader())
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return nil, apperr.Malformed("github: decode %s: %v", u, err)
	}
	return resp, nil
}

// send performs a non-GET request with a JSON body. Non-2xx replies are
// returned as *apperr.UpstreamError.
func (c *Client) send(ctx context.Context, method, u string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("github: encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("github: new request: %w", err)
	}
	req.Header = apiHeader()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("github: %s %s: %w", method, u, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		var ghErr struct {
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		if json.Unmarshal(raw, &ghErr) != nil || ghErr.Message == "" {
			ghErr.Message = strings.TrimSpace(string(raw))
		}
		return &apperr.UpstreamError{Status: res.StatusCode, Message: ghErr.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return apperr.Malformed("github: decode %s reply: %v", method, err)
	}
	return nil
}

// mapWriteError translates upstream statuses of write calls into the
// error taxonomy. 409 and 422 both mean the supplied sha is stale or missing.
func mapWriteError(err error) error {
	status, ok := apperr.UpstreamStatus(err)
	if !ok {
		return err
	}
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", apperr.ErrNotFound, err)
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %w", apperr.ErrConflict, err)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", apperr.ErrUnauthorized, err)
	}
	return err
}

type userJSON struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// User returns the profile of the token owner. An invalid token yields
// apperr.ErrUnauthorized.
func (c *Client) User(ctx context.Context) (*models.User, error) {
	var u userJSON
	if _, err := c.getJSON(ctx, c.url("user"), &u); err != nil {
		if status, ok := apperr.UpstreamStatus(err); ok && status == http.StatusUnauthorized {
			return nil, fmt.Errorf("github: user: %w", apperr.ErrUnauthorized)
		}
		return nil, fmt.Errorf("github: user: %w", err)
	}
	if u.Login == "" {
		return nil, apperr.Malformed("github: user without login")
	}
	return &models.User{Login: u.Login, Name: u.Name, AvatarURL: u.AvatarURL}, nil
}

type repoJSON struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Private       bool   `json:"private"`
	DefaultBranch string `json:"default_branch"`
	HTMLURL       string `json:"html_url"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
	Permissions models.Permissions `json:"permissions"`
}

func (r repoJSON) model() *models.Repository {
	return &models.Repository{
		Owner:         r.Owner.Login,
		Name:          r.Name,
		Description:   r.Description,
		Private:       r.Private,
		DefaultBranch: r.DefaultBranch,
		HTMLURL:       r.HTMLURL,
		Permissions:   r.Permissions,
	}
}

// Repository returns repository metadata including the caller's permissions.
func (c *Client) Repository(ctx context.Context, owner, name string) (*models.Repository, error) {
	var r repoJSON
	if _, err := c.getJSON(ctx, c.url("repos", owner, name), &r); err != nil {
		return nil, fmt.Errorf("github: repository %s/%s: %w", owner, name, err)
	}
	return r.model(), nil
}

// CreateRepository creates an auto-initialised repository for the token owner.
func (c *Client) CreateRepository(ctx context.Context, name, description string, private bool) (*models.Repository, error) {
	body := map[string]any{
		"name":        name,
		"description": description,
		"private":     private,
		"auto_init":   true,
	}
	var r repoJSON
	if err := c.send(ctx, http.MethodPost, c.url("user", "repos"), body, &r); err != nil {
		if status, ok := apperr.UpstreamStatus(err); ok && status == http.StatusUnprocessableEntity {
			return nil, fmt.Errorf("github: create repository %s: %w: %w", name, apperr.ErrAlreadyExists, err)
		}
		return nil, fmt.Errorf("github: create repository %s: %w", name, mapWriteError(err))
	}
	// Drop any metadata cached for an earlier repository of the same name.
	_ = c.fetch.Invalidate(ctx, c.url("repos", r.Owner.Login, r.Name))
	return r.model(), nil
}

// Contents returns a storage.Provider over owner's repositories.
func (c *Client) Contents(owner string) *Contents {
	return &Contents{client: c, owner: owner}
}
