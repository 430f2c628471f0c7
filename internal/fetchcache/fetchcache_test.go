package fetchcache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/kvstore"
)

// versioned serves body with an ETag derived from version and honours If-None-Match.
type versioned struct {
	version  atomic.Int32
	hits     atomic.Int32
	notMod   atomic.Int32
	lastIfMS atomic.Value
}

func (v *versioned) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	v.hits.Add(1)
	v.lastIfMS.Store(r.Header.Get("If-Modified-Since"))
	etag := `"v` + strconv.Itoa(int(v.version.Load())) + `"`
	if r.Header.Get("If-None-Match") == etag {
		v.notMod.Add(1)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("body-" + etag))
}

func TestGetStoresAndRevalidates(t *testing.T) {
	src := &versioned{}
	srv := httptest.NewServer(src)
	defer srv.Close()

	store := kvstore.NewMemory()
	f := New(srv.Client(), store, "test")
	ctx := context.Background()

	first, err := f.Get(ctx, srv.URL+"/a", nil)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if first.FromCache {
		t.Error("first response should not come from cache")
	}

	second, err := f.Get(ctx, srv.URL+"/a", nil)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if !second.FromCache {
		t.Error("second response should be served from cache after 304")
	}
	if string(second.Body) != string(first.Body) {
		t.Errorf("304 body = %q, want %q", second.Body, first.Body)
	}
	if src.notMod.Load() != 1 {
		t.Errorf("304 count = %d, want 1", src.notMod.Load())
	}

	entry, err := f.Lookup(ctx, srv.URL+"/a")
	if err != nil || entry == nil {
		t.Fatalf("Lookup: %v %v", entry, err)
	}
	if entry.ETag != `"v0"` {
		t.Errorf("stored etag = %s", entry.ETag)
	}
}

func TestGetReplacesEntryOn200(t *testing.T) {
	src := &versioned{}
	srv := httptest.NewServer(src)
	defer srv.Close()

	f := New(srv.Client(), kvstore.NewMemory(), "test")
	ctx := context.Background()

	if _, err := f.Get(ctx, srv.URL, nil); err != nil {
		t.Fatal(err)
	}
	src.version.Store(1)
	resp, err := f.Get(ctx, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.FromCache {
		t.Error("changed resource must not be served from cache")
	}
	if string(resp.Body) != `body-"v1"` {
		t.Errorf("body = %q", resp.Body)
	}
	entry, _ := f.Lookup(ctx, srv.URL)
	if entry.ETag != `"v1"` {
		t.Errorf("etag not replaced: %s", entry.ETag)
	}
}

func TestGetNotFoundAndUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "rate limited", http.StatusForbidden)
	}))
	defer srv.Close()

	f := New(srv.Client(), kvstore.NewMemory(), "test")

	_, err := f.Get(context.Background(), srv.URL+"/missing", nil)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing err = %v, want ErrNotFound", err)
	}

	_, err = f.Get(context.Background(), srv.URL+"/limited", nil)
	status, ok := apperr.UpstreamStatus(err)
	if !ok || status != http.StatusForbidden {
		t.Errorf("upstream err = %v (status %d)", err, status)
	}
}

func TestLastModifiedOnlyWhenEnabled(t *testing.T) {
	src := &versioned{}
	srv := httptest.NewServer(src)
	defer srv.Close()
	ctx := context.Background()

	plain := New(srv.Client(), kvstore.NewMemory(), "plain")
	_, _ = plain.Get(ctx, srv.URL, nil)
	_, _ = plain.Get(ctx, srv.URL, nil)
	if got, _ := src.lastIfMS.Load().(string); got != "" {
		t.Errorf("plain fetcher sent If-Modified-Since %q", got)
	}

	feeds := New(srv.Client(), kvstore.NewMemory(), "feeds", WithLastModified())
	_, _ = feeds.Get(ctx, srv.URL, nil)
	_, _ = feeds.Get(ctx, srv.URL, nil)
	if got, _ := src.lastIfMS.Load().(string); got == "" {
		t.Error("feed fetcher did not send If-Modified-Since")
	}
}

func TestNotModifiedWithoutEntryRefetches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// first call pretends the client is current even though nothing is stored
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		_, _ = w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	f := New(srv.Client(), kvstore.NewMemory(), "test")
	resp, err := f.Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(resp.Body) != "fresh" {
		t.Errorf("body = %q", resp.Body)
	}
}

func TestCacheControlStagger(t *testing.T) {
	re := regexp.MustCompile(`^public, max-age=(\d+), stale-while-revalidate=300$`)
	for i := 0; i < 50; i++ {
		v := CacheControl(5*time.Minute, 10*time.Minute)
		m := re.FindStringSubmatch(v)
		if m == nil {
			t.Fatalf("unexpected header %q", v)
		}
		n, _ := strconv.Atoi(m[1])
		if n < 300 || n > 900 {
			t.Fatalf("max-age %d outside [300, 900]", n)
		}
	}
	if v := CacheControl(time.Minute, 0); v != "public, max-age=60, stale-while-revalidate=300" {
		t.Errorf("no stagger header = %q", v)
	}
}
