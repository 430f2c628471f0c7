package feeds

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/fetchcache"
	"github.com/lurkhub/lurkhub-app/internal/htmlmeta"
	"github.com/lurkhub/lurkhub-app/internal/kvstore"
)

// Namespace is the kvstore namespace fetched feeds are mirrored in.
const Namespace = "feeds"

// Result is a fetched and parsed feed with the upstream validators.
type Result struct {
	Feed         *Feed
	ETag         string
	LastModified string
	FromCache    bool
}

// Discovery is a feed found for a page or feed URL.
type Discovery struct {
	FeedURL string `json:"feedUrl"`
	Title   string `json:"title"`
}

// Reader fetches feeds through a conditional cache that revalidates with
// both ETag and Last-Modified.
type Reader struct {
	fetch *fetchcache.Fetcher
}

// NewReader creates a Reader. client may be nil.
func NewReader(client *http.Client, store kvstore.Store) *Reader {
	return &Reader{fetch: fetchcache.New(client, store, Namespace, fetchcache.WithLastModified())}
}

var feedAccept = http.Header{
	"Accept": {"application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5"},
}

// Fetch retrieves and parses the feed at rawURL.
func (r *Reader) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	u, err := checkURL(rawURL)
	if err != nil {
		return nil, err
	}
	resp, err := r.fetch.Get(ctx, u.String(), feedAccept)
	if err != nil {
		return nil, err
	}
	f, err := Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", u, err)
	}
	return &Result{
		Feed:         f,
		ETag:         resp.ETag,
		LastModified: resp.LastModified,
		FromCache:    resp.FromCache,
	}, nil
}

// Discover resolves rawURL to a feed: the URL itself when it is a feed,
// otherwise the first RSS or Atom feed the page advertises. When neither
// works the result is apperr.ErrNotFound.
func (r *Reader) Discover(ctx context.Context, rawURL string) (*Discovery, error) {
	u, err := checkURL(rawURL)
	if err != nil {
		return nil, err
	}
	resp, err := r.fetch.Get(ctx, u.String(), feedAccept)
	if err != nil {
		return nil, err
	}
	if f, err := Parse(resp.Body); err == nil {
		return &Discovery{FeedURL: u.String(), Title: FeedInfo(f).Title}, nil
	}

	page, err := htmlmeta.Parse(resp.Body, u)
	if err != nil {
		return nil, err
	}
	for _, link := range page.Feeds {
		res, err := r.Fetch(ctx, link)
		if errors.Is(err, apperr.ErrMalformed) || errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &Discovery{FeedURL: link, Title: FeedInfo(res.Feed).Title}, nil
	}
	return nil, fmt.Errorf("no valid RSS/Atom feed found at %s: %w", u, apperr.ErrNotFound)
}

func checkURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperr.Malformed("invalid feed url %q", raw)
	}
	return u, nil
}
