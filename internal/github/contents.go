package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/storage"
)

// Contents implements storage.Provider with the GitHub contents API.
type Contents struct {
	client *Client
	owner  string
}

// Owner returns the login whose repositories are addressed.
func (c *Contents) Owner() string { return c.owner }

type contentJSON struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type writeReply struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

func (c *Contents) fileURL(repo, path string) string {
	segs := append([]string{"repos", c.owner, repo, "contents"}, strings.Split(strings.Trim(path, "/"), "/")...)
	return c.client.url(segs...)
}

// Read fetches a file. The sha comes from the (possibly cached) contents
// document so a 304 revalidation still yields a usable revision token.
func (c *Contents) Read(ctx context.Context, repo, path string) (*storage.File, error) {
	var doc contentJSON
	if _, err := c.client.getJSON(ctx, c.fileURL(repo, path), &doc); err != nil {
		return nil, fmt.Errorf("github: read %s/%s: %w", repo, path, err)
	}
	if doc.Type != "" && doc.Type != "file" {
		return nil, apperr.Malformed("github: %s/%s is a %s, not a file", repo, path, doc.Type)
	}
	data, err := decodeContent(doc.Content, doc.Encoding)
	if err != nil {
		return nil, apperr.Malformed("github: decode %s/%s: %v", repo, path, err)
	}
	return &storage.File{Repo: repo, Path: path, Content: data, SHA: doc.SHA}, nil
}

// Create adds a new file. GitHub rejects a PUT without sha on an existing
// file with 422, reported as apperr.ErrConflict.
func (c *Contents) Create(ctx context.Context, repo, path string, content []byte, message string) (string, error) {
	if message == "" {
		message = "Created " + path
	}
	return c.put(ctx, repo, path, content, "", message)
}

// Update replaces a file whose current sha equals sha.
func (c *Contents) Update(ctx context.Context, repo, path string, content []byte, sha, message string) (string, error) {
	if sha == "" {
		return "", fmt.Errorf("github: update %s/%s without sha: %w", repo, path, apperr.ErrConflict)
	}
	if message == "" {
		message = "Updated " + path
	}
	return c.put(ctx, repo, path, content, sha, message)
}

func (c *Contents) put(ctx context.Context, repo, path string, content []byte, sha, message string) (string, error) {
	body := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
	}
	if sha != "" {
		body["sha"] = sha
	}
	u := c.fileURL(repo, path)
	var reply writeReply
	if err := c.client.send(ctx, http.MethodPut, u, body, &reply); err != nil {
		return "", fmt.Errorf("github: write %s/%s: %w", repo, path, mapWriteError(err))
	}
	_ = c.client.fetch.Invalidate(ctx, u)
	return reply.Content.SHA, nil
}

// Delete removes a file whose current sha equals sha.
func (c *Contents) Delete(ctx context.Context, repo, path, sha, message string) error {
	if message == "" {
		message = "Deleted " + path
	}
	u := c.fileURL(repo, path)
	body := map[string]string{"message": message, "sha": sha}
	if err := c.client.send(ctx, http.MethodDelete, u, body, nil); err != nil {
		return fmt.Errorf("github: delete %s/%s: %w", repo, path, mapWriteError(err))
	}
	_ = c.client.fetch.Invalidate(ctx, u)
	return nil
}

func decodeContent(body, encoding string) ([]byte, error) {
	switch encoding {
	case "base64":
		// GitHub wraps base64 content at 60 columns.
		return base64.StdEncoding.DecodeString(strings.NewReplacer("\n", "", "\r", "").Replace(body))
	case "", "utf-8":
		return []byte(body), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}
