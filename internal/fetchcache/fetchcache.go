// Package fetchcache wraps HTTP GETs against externally versioned resources
// with ETag / Last-Modified revalidation backed by a kvstore mirror.
//
// Entries never expire on their own: every read is a conditional request and
// a 304 answer serves the stored body.
package fetchcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/kvstore"
)

const maxBodyBytes = 10 << 20

// Entry is a stored response.
type Entry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	Body         []byte    `json:"body"`
	StoredAt     time.Time `json:"stored_at"`
}

// Response is the outcome of a Get.
type Response struct {
	Body         []byte
	ETag         string
	LastModified string
	ContentType  string
	// FromCache is true when the upstream answered 304 and the stored body was served.
	FromCache bool
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLastModified makes the fetcher also send If-Modified-Since.
func WithLastModified() Option {
	return func(f *Fetcher) { f.lastModified = true }
}

// WithUserAgent sets the User-Agent header sent upstream.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// Fetcher performs conditional GETs and mirrors 200 responses into a kvstore namespace.
type Fetcher struct {
	client       *http.Client
	store        kvstore.Store
	namespace    string
	lastModified bool
	userAgent    string
}

// New creates a Fetcher. client may be nil to use a default client with a 30s timeout.
func New(client *http.Client, store kvstore.Store, namespace string, opts ...Option) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	f := &Fetcher{
		client:    client,
		store:     store,
		namespace: namespace,
		userAgent: "lurkhub/1.0",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Namespace returns the kvstore namespace entries are kept in.
func (f *Fetcher) Namespace() string { return f.namespace }

// Get fetches url with header, revalidating any stored entry.
//
// 404 yields apperr.ErrNotFound; other non-success statuses yield *apperr.UpstreamError.
func (f *Fetcher) Get(ctx context.Context, url string, header http.Header) (*Response, error) {
	cached, err := f.lookup(ctx, url)
	if err != nil {
		return nil, err
	}
	resp, err := f.do(ctx, url, header, cached)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		// 304 without a stored entry (mirror was cleared in between): refetch unconditionally.
		resp, err = f.do(ctx, url, header, nil)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, &apperr.UpstreamError{Status: http.StatusNotModified, Message: "not modified without cached entry"}
		}
	}
	return resp, nil
}

// Lookup returns the stored entry for url, or nil when none exists.
func (f *Fetcher) Lookup(ctx context.Context, url string) (*Entry, error) {
	return f.lookup(ctx, url)
}

// Invalidate drops the stored entry for url.
func (f *Fetcher) Invalidate(ctx context.Context, url string) error {
	return f.store.Delete(ctx, f.namespace, url)
}

func (f *Fetcher) do(ctx context.Context, url string, header http.Header, cached *Entry) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetchcache: new request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if cached != nil {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if f.lastModified && cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	res, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetchcache: get %s: %w", url, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotModified:
		if cached == nil {
			return nil, nil
		}
		return &Response{
			Body:         cached.Body,
			ETag:         cached.ETag,
			LastModified: cached.LastModified,
			ContentType:  cached.ContentType,
			FromCache:    true,
		}, nil
	case res.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("fetchcache: %s: %w", url, apperr.ErrNotFound)
	case res.StatusCode < 200 || res.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return nil, &apperr.UpstreamError{Status: res.StatusCode, Message: string(msg)}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("fetchcache: read body: %w", err)
	}

	entry := Entry{
		URL:          url,
		ETag:         res.Header.Get("ETag"),
		LastModified: res.Header.Get("Last-Modified"),
		ContentType:  res.Header.Get("Content-Type"),
		Body:         body,
		StoredAt:     time.Now().UTC(),
	}
	if err := f.save(ctx, entry); err != nil {
		return nil, err
	}
	return &Response{
		Body:         body,
		ETag:         entry.ETag,
		LastModified: entry.LastModified,
		ContentType:  entry.ContentType,
	}, nil
}

func (f *Fetcher) lookup(ctx context.Context, url string) (*Entry, error) {
	raw, err := f.store.Get(ctx, f.namespace, url)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetchcache: lookup: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		// A corrupt mirror entry is dropped rather than failing the read.
		_ = f.store.Delete(ctx, f.namespace, url)
		return nil, nil
	}
	return &e, nil
}

func (f *Fetcher) save(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("fetchcache: encode entry: %w", err)
	}
	if err := f.store.Put(ctx, f.namespace, e.URL, raw); err != nil {
		return fmt.Errorf("fetchcache: store entry: %w", err)
	}
	return nil
}

// CacheControl builds a Cache-Control value whose max-age is expire plus a
// random stagger in [0, stagger], spreading revalidation load across clients.
func CacheControl(expire, stagger time.Duration) string {
	secs := int64(expire / time.Second)
	if s := int64(stagger / time.Second); s > 0 {
		secs += rand.Int64N(s + 1)
	}
	return fmt.Sprintf("public, max-age=%d, stale-while-revalidate=300", secs)
}
