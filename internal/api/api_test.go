package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lurkhub/lurkhub-app/internal/auth"
	"github.com/lurkhub/lurkhub-app/internal/bootstrap"
	"github.com/lurkhub/lurkhub-app/internal/content"
	"github.com/lurkhub/lurkhub-app/internal/feeds"
	"github.com/lurkhub/lurkhub-app/internal/kvstore"
	"github.com/lurkhub/lurkhub-app/internal/models"
	"github.com/lurkhub/lurkhub-app/internal/posts"
	"github.com/lurkhub/lurkhub-app/internal/saga"
	"github.com/lurkhub/lurkhub-app/internal/sse"
	"github.com/lurkhub/lurkhub-app/internal/testutil"
	"github.com/lurkhub/lurkhub-app/internal/workspace"
)

// testEnv wires the router to a fake GitHub holding octocat's account.
type testEnv struct {
	t       *testing.T
	gh      *testutil.GitHub
	broker  *sse.Broker
	router  http.Handler
	cookies []*http.Cookie
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gh := testutil.NewGitHub(t)
	gh.AddUser("tok", models.User{Login: "octocat", Name: "Mona"})

	store := kvstore.NewMemory()
	factory, err := workspace.NewFactory(workspace.Options{
		Driver: workspace.DriverGitHub,
		APIURL: gh.URL(),
		Store:  store,
		Names:  bootstrap.RepoNames(""),
	})
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	sessions, err := auth.NewSessions(store, auth.SessionOptions{Secret: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	broker := sse.NewBroker(time.Hour)
	t.Cleanup(broker.Close)
	router := NewRouter(Deps{Factory: factory, Sessions: sessions, Feeds: feeds.NewReader(nil, store), Broker: broker})
	return &testEnv{t: t, gh: gh, broker: broker, router: router}
}

// do sends a request with the session cookies. A string body is sent as
// is, anything else JSON encoded. headers are name, value pairs.
func (e *testEnv) do(method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	e.t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			e.t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	for _, c := range e.cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) signIn() *httptest.ResponseRecorder {
	e.t.Helper()
	w := e.do(http.MethodPost, "/auth/pat", map[string]string{"token": "tok"})
	for _, c := range w.Result().Cookies() {
		if c.Value != "" {
			e.cookies = append(e.cookies, c)
		}
	}
	return w
}

// ready creates both repositories and signs in.
func (e *testEnv) ready() {
	e.t.Helper()
	e.gh.AddRepo("octocat", "lurkhub-data", true, true)
	e.gh.AddRepo("octocat", "lurkhub-posts", false, true)
	if w := e.signIn(); w.Code != http.StatusOK {
		e.t.Fatalf("sign in = %d, body = %s", w.Code, w.Body.String())
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body %s)", v, err, w.Body.String())
	}
	return v
}

func TestRequiresSession(t *testing.T) {
	e := newTestEnv(t)
	for _, target := range []string{"/bookmarks", "/user", "/posts", "/repo/status"} {
		if w := e.do(http.MethodGet, target, nil); w.Code != http.StatusUnauthorized {
			t.Errorf("GET %s = %d, want 401", target, w.Code)
		}
	}
}

func TestPATLoginBadToken(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(http.MethodPost, "/auth/pat", map[string]string{"token": "nope"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	w = e.do(http.MethodPost, "/auth/pat", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty token status = %d, want 400", w.Code)
	}
}

func TestSetupFlow(t *testing.T) {
	e := newTestEnv(t)

	w := e.signIn()
	if w.Code != http.StatusForbidden {
		t.Fatalf("sign in without repos = %d, want 403", w.Code)
	}
	if len(e.cookies) == 0 {
		t.Fatal("session should be issued even when setup is required")
	}

	w = e.do(http.MethodGet, "/bookmarks", nil)
	if w.Code != http.StatusForbidden || !strings.Contains(w.Body.String(), "setup required") {
		t.Errorf("gated GET = %d %s", w.Code, w.Body.String())
	}
	w = e.do(http.MethodGet, "/bookmarks", nil, "Accept", "text/html")
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/setup" {
		t.Errorf("html navigation = %d -> %q", w.Code, w.Header().Get("Location"))
	}

	w = e.do(http.MethodGet, "/repo/status", nil)
	st := decode[bootstrap.Status](t, w)
	if st.Ready || st.Data.Exists {
		t.Errorf("status before setup = %+v", st)
	}

	w = e.do(http.MethodPost, "/repo/setup", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("setup = %d %s", w.Code, w.Body.String())
	}
	if st := decode[bootstrap.Status](t, w); !st.Ready {
		t.Errorf("status after setup = %+v", st)
	}
	if w := e.do(http.MethodGet, "/bookmarks", nil); w.Code != http.StatusOK {
		t.Errorf("GET after setup = %d", w.Code)
	}

	w = e.do(http.MethodGet, "/repo/info?repo=lurkhub-posts", nil)
	if res := decode[bootstrap.AccessResult](t, w); !res.Exists || !res.HasWriteAccess {
		t.Errorf("repo info = %+v", res)
	}
}

func TestUserAndLogout(t *testing.T) {
	e := newTestEnv(t)
	e.ready()

	w := e.do(http.MethodGet, "/user", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("user = %d", w.Code)
	}
	if u := decode[models.User](t, w); u.Login != "octocat" {
		t.Errorf("user = %+v", u)
	}
	etag := w.Header().Get("ETag")
	if w := e.do(http.MethodGet, "/user", nil, "If-None-Match", etag); w.Code != http.StatusNotModified {
		t.Errorf("revalidation = %d, want 304", w.Code)
	}

	if w := e.do(http.MethodPost, "/auth/logout", nil); w.Code != http.StatusNoContent {
		t.Errorf("logout = %d", w.Code)
	}
	if w := e.do(http.MethodGet, "/user", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("user after logout = %d, want 401", w.Code)
	}
}

func TestItemLifecycle(t *testing.T) {
	e := newTestEnv(t)
	e.ready()

	w := e.do(http.MethodPost, "/bookmarks", ItemRequest{Title: "Go", URL: "go.dev", Tags: "go, lang"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	created := decode[content.Item](t, w)
	if created.URL != "https://go.dev/" || created.Tags != "go,lang" {
		t.Errorf("created = %+v", created)
	}

	w = e.do(http.MethodPost, "/bookmarks", ItemRequest{Title: "Go site", URL: "https://go.dev/"})
	if again := decode[content.Item](t, w); again.ID != created.ID || again.Title != "Go site" {
		t.Errorf("same URL should refresh the item, got %+v", again)
	}
	e.do(http.MethodPost, "/bookmarks", ItemRequest{Title: "Rust", URL: "rust-lang.org", Tags: "lang"})

	w = e.do(http.MethodGet, "/bookmarks?tag=lang", nil)
	if list := decode[ItemListResponse](t, w); list.Total != 1 || list.Items[0].Title != "Rust" {
		t.Errorf("tag filter = %+v", list)
	}
	w = e.do(http.MethodGet, "/bookmarks?q=GO", nil)
	if list := decode[ItemListResponse](t, w); list.Total != 1 || list.Items[0].ID != created.ID {
		t.Errorf("search = %+v", list)
	}

	w = e.do(http.MethodGet, "/bookmarks/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d", w.Code)
	}
	if w := e.do(http.MethodGet, "/bookmarks/"+created.ID, nil, "If-None-Match", w.Header().Get("ETag")); w.Code != http.StatusNotModified {
		t.Errorf("conditional get = %d, want 304", w.Code)
	}

	if w := e.do(http.MethodPost, "/bookmarks/"+created.ID+"/archive", nil); w.Code != http.StatusOK {
		t.Fatalf("archive = %d %s", w.Code, w.Body.String())
	}
	if w := e.do(http.MethodGet, "/bookmarks/"+created.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("live get after archive = %d, want 404", w.Code)
	}
	w = e.do(http.MethodGet, "/bookmarks/archive", nil)
	if list := decode[ItemListResponse](t, w); list.Total != 1 || list.Items[0].ID != created.ID {
		t.Errorf("archive list = %+v", list)
	}
	if _, ok := e.gh.File("octocat", "lurkhub-data", "bookmarks/archive/bookmarks-archive-001.json"); !ok {
		t.Error("archive volume not written")
	}

	if w := e.do(http.MethodPost, "/bookmarks/archive/"+created.ID+"/restore", nil); w.Code != http.StatusOK {
		t.Fatalf("restore = %d %s", w.Code, w.Body.String())
	}
	if w := e.do(http.MethodGet, "/bookmarks/archive/"+created.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("archived get after restore = %d, want 404", w.Code)
	}

	w = e.do(http.MethodGet, "/bookmarks/tags", nil)
	if diff := cmp.Diff([]string{"lang"}, decode[TagsResponse](t, w).Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}

	if w := e.do(http.MethodDelete, "/bookmarks/"+created.ID, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d", w.Code)
	}
	if w := e.do(http.MethodDelete, "/bookmarks/"+created.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestItemValidation(t *testing.T) {
	e := newTestEnv(t)
	e.ready()

	if w := e.do(http.MethodPost, "/articles", ItemRequest{Title: "x"}); w.Code != http.StatusBadRequest {
		t.Errorf("missing url = %d, want 400", w.Code)
	}
	if w := e.do(http.MethodPost, "/articles", ItemRequest{URL: "not a url"}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid url = %d, want 400", w.Code)
	}
	if w := e.do(http.MethodPost, "/articles", "{"); w.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", w.Code)
	}
}

func TestArchivePartialFailureReportsSaga(t *testing.T) {
	e := newTestEnv(t)
	e.ready()

	w := e.do(http.MethodPost, "/feeds", ItemRequest{Title: "Blog", URL: "https://example.com/feed.xml"})
	it := decode[content.Item](t, w)

	// the copy succeeds, removing from the live set fails
	e.gh.FailNext(http.MethodPut, "/repos/octocat/lurkhub-data/contents/feeds/feeds.json", http.StatusInternalServerError)
	w = e.do(http.MethodPost, "/feeds/"+it.ID+"/archive", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("archive = %d %s", w.Code, w.Body.String())
	}
	body := decode[errResponse](t, w)
	if body.Saga == "" {
		t.Fatalf("response should name the stalled saga: %+v", body)
	}

	w = e.do(http.MethodGet, "/maintenance/sagas", nil)
	pending := decode[[]saga.Record](t, w)
	if len(pending) != 1 || pending[0].ID != body.Saga || pending[0].State != saga.StateStalled {
		t.Fatalf("pending = %+v", pending)
	}

	w = e.do(http.MethodPost, "/maintenance/reconcile", nil)
	report := decode[saga.Report](t, w)
	if diff := cmp.Diff([]string{body.Saga}, report.Completed); diff != "" {
		t.Errorf("completed mismatch (-want +got):\n%s", diff)
	}
	w = e.do(http.MethodGet, "/feeds", nil)
	if list := decode[ItemListResponse](t, w); list.Total != 0 {
		t.Errorf("live feeds after reconcile = %+v", list)
	}
}

func TestPostsLifecycle(t *testing.T) {
	e := newTestEnv(t)
	e.ready()

	w := e.do(http.MethodPost, "/posts", PostRequest{Body: "Hello **world**"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	entry := decode[posts.Entry](t, w)
	if entry.Shard != 1 || entry.More {
		t.Errorf("entry = %+v", entry)
	}
	bodyPath, err := posts.BodyPath(entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := e.gh.File("octocat", "lurkhub-posts", bodyPath); !ok {
		t.Errorf("body %s not written", bodyPath)
	}

	w = e.do(http.MethodGet, "/posts", nil)
	page := decode[PostPageResponse](t, w)
	if len(page.Posts) != 1 || page.Fullname != "Mona" || page.PerPage != posts.DefaultPerPage {
		t.Errorf("page = %+v", page)
	}

	w = e.do(http.MethodGet, "/posts/"+entry.ID, nil)
	doc := decode[posts.Document](t, w)
	if !strings.Contains(doc.HTML, "<strong>world</strong>") {
		t.Errorf("html = %q", doc.HTML)
	}

	w = e.do(http.MethodPut, "/posts/"+entry.ID+"?shard=1", PostRequest{Body: "Edited"})
	if w.Code != http.StatusOK {
		t.Fatalf("update = %d %s", w.Code, w.Body.String())
	}
	if w := e.do(http.MethodPut, "/posts/"+entry.ID+"?shard=x", PostRequest{Body: "x"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad shard = %d, want 400", w.Code)
	}

	w = e.do(http.MethodGet, "/users/octocat/posts", nil)
	if pub := decode[PostPageResponse](t, w); len(pub.Posts) != 1 || pub.Posts[0].Preview != "Edited" {
		t.Errorf("public page = %+v", pub)
	}

	if w := e.do(http.MethodDelete, "/posts/"+entry.ID+"?shard=1", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d %s", w.Code, w.Body.String())
	}
	if w := e.do(http.MethodGet, "/posts/"+entry.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
	if w := e.do(http.MethodGet, "/posts?page=0", nil); w.Code != http.StatusBadRequest {
		t.Errorf("page 0 = %d, want 400", w.Code)
	}
}

// waitForChange reads events from ch until one names path.
func waitForChange(t *testing.T, ch <-chan []byte, path string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case raw, ok := <-ch:
			if !ok {
				t.Fatalf("event stream closed before a change to %s", path)
			}
			if strings.Contains(string(raw), `"path":"`+path+`"`) {
				return
			}
		case <-timeout:
			t.Fatalf("no change event for %s", path)
		}
	}
}

func TestDeletePostWithoutShardAnnouncesIndex(t *testing.T) {
	e := newTestEnv(t)
	e.ready()
	events := e.broker.Subscribe("octocat")
	defer e.broker.Unsubscribe(events)

	w := e.do(http.MethodPost, "/posts", PostRequest{Body: "bye"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	entry := decode[posts.Entry](t, w)
	bodyPath, _ := posts.BodyPath(entry.ID)
	waitForChange(t, events, bodyPath)

	if w := e.do(http.MethodDelete, "/posts/"+entry.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d %s", w.Code, w.Body.String())
	}
	waitForChange(t, events, posts.IndexPath(entry.Shard))
}

func TestPublicPostsWithoutSession(t *testing.T) {
	e := newTestEnv(t)
	e.gh.AddRepo("octocat", "lurkhub-posts", false, true)
	e.gh.PutFile("octocat", "lurkhub-posts", "lurkhub-posts.json", []byte(`{"fullname":"Mona","totalIndexes":1}`))
	e.gh.PutFile("octocat", "lurkhub-posts", "index-00001.json",
		[]byte(`{"fields":["id","preview","more"],"values":[["1700000000000","first","false"],["1700000001000","second","true"]]}`))

	w := e.do(http.MethodGet, "/users/octocat/posts", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}
	page := decode[PostPageResponse](t, w)
	var got []string
	for _, p := range page.Posts {
		got = append(got, p.ID)
	}
	if diff := cmp.Diff([]string{"1700000001000", "1700000000000"}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	if !page.Posts[0].More {
		t.Error("more flag lost")
	}
}

func TestRawDataset(t *testing.T) {
	e := newTestEnv(t)
	e.ready()
	const target = "/dataset?repo=lurkhub-data&path=notes/notes.json"

	w := e.do(http.MethodGet, target, nil)
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != `{"fields":[],"values":[]}` {
		t.Errorf("absent dataset = %d %s", w.Code, w.Body.String())
	}

	w = e.do(http.MethodPost, target, map[string]string{"id": "1", "title": "a"})
	if w.Code != http.StatusCreated {
		t.Fatalf("append = %d %s", w.Code, w.Body.String())
	}
	if w := e.do(http.MethodPost, target, map[string]string{"id": "1", "title": "b"}); w.Code != http.StatusConflict {
		t.Errorf("duplicate id = %d, want 409", w.Code)
	}
	if w := e.do(http.MethodPost, target, map[string]string{"id": "2", "color": "red"}); w.Code != http.StatusBadRequest {
		t.Errorf("unknown field = %d, want 400", w.Code)
	}
	w = e.do(http.MethodPut, target, map[string]string{"id": "1", "title": "z"})
	if w.Code != http.StatusOK {
		t.Fatalf("replace = %d %s", w.Code, w.Body.String())
	}
	if w := e.do(http.MethodPut, target, map[string]string{"id": "1"}); w.Code != http.StatusBadRequest {
		t.Errorf("replace without title = %d, want 400", w.Code)
	}

	w = e.do(http.MethodGet, target, nil)
	etag := w.Header().Get("ETag")
	var ds struct {
		Fields []string   `json:"fields"`
		Values [][]string `json:"values"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &ds); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([][]string{{"1", "z"}}, ds.Values); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}
	if w := e.do(http.MethodGet, target, nil, "If-None-Match", etag); w.Code != http.StatusNotModified {
		t.Errorf("conditional = %d, want 304", w.Code)
	}

	if w := e.do(http.MethodDelete, target+"&id=1", nil); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d", w.Code)
	}
	if w := e.do(http.MethodDelete, target+"&id=1", nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
	if w := e.do(http.MethodGet, "/dataset?repo=elsewhere&path=x.json", nil); w.Code != http.StatusBadRequest {
		t.Errorf("foreign repo = %d, want 400", w.Code)
	}
}

func TestRawFileConflict(t *testing.T) {
	e := newTestEnv(t)
	e.ready()
	const target = "/file?repo=lurkhub-data&path=notes/todo.md"

	w := e.do(http.MethodPost, target, "v1")
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	v1 := w.Header().Get("ETag")
	if w := e.do(http.MethodPost, target, "again"); w.Code != http.StatusConflict {
		t.Errorf("create existing = %d, want 409", w.Code)
	}

	w = e.do(http.MethodGet, target, nil)
	if w.Body.String() != "v1" || w.Header().Get("ETag") != v1 {
		t.Errorf("get = %q etag %s", w.Body.String(), w.Header().Get("ETag"))
	}

	if w := e.do(http.MethodPut, target, "v2", "If-Match", v1); w.Code != http.StatusOK {
		t.Fatalf("update = %d %s", w.Code, w.Body.String())
	}
	if w := e.do(http.MethodPut, target, "v3", "If-Match", v1); w.Code != http.StatusConflict {
		t.Errorf("stale update = %d, want 409", w.Code)
	}
	if w := e.do(http.MethodDelete, target, nil, "If-Match", v1); w.Code != http.StatusConflict {
		t.Errorf("stale delete = %d, want 409", w.Code)
	}
	if w := e.do(http.MethodDelete, target, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d", w.Code)
	}
	if w := e.do(http.MethodGet, target, nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
}

const rssBody = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Example</title><link>https://example.com/</link>
<item><title>Second</title><link>https://example.com/2</link><pubDate>Tue, 02 Jan 2024 10:00:00 GMT</pubDate></item>
<item><title>First</title><link>https://example.com/1</link><pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate></item>
</channel></rss>`

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed.xml":
			w.Header().Set("ETag", `"feed-v1"`)
			w.Header().Set("Last-Modified", "Tue, 02 Jan 2024 10:00:00 GMT")
			if r.Header.Get("If-None-Match") == `"feed-v1"` {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("Content-Type", "application/rss+xml")
			_, _ = io.WriteString(w, rssBody)
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, `<html><head><title>Plain</title>
<meta property="og:title" content="Open Graph Title">
<link rel="alternate" type="application/rss+xml" href="/feed.xml"></head></html>`)
		case "/untitled":
			_, _ = io.WriteString(w, `<html><body>nothing</body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFeedInfoConditional(t *testing.T) {
	e := newTestEnv(t)
	e.ready()
	srv := feedServer(t)

	w := e.do(http.MethodGet, "/feed/info?url="+srv.URL+"/feed.xml", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("info = %d %s", w.Code, w.Body.String())
	}
	info := decode[feeds.Info](t, w)
	if info.Title != "Example" || info.Preview != "Second" {
		t.Errorf("info = %+v", info)
	}
	if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "max-age=") {
		t.Errorf("Cache-Control = %q", cc)
	}
	if w.Header().Get("ETag") != `"feed-v1"` || w.Header().Get("Last-Modified") == "" {
		t.Errorf("validators not forwarded: %v", w.Header())
	}

	w = e.do(http.MethodGet, "/feed/info?url="+srv.URL+"/feed.xml", nil, "If-None-Match", `"feed-v1"`)
	if w.Code != http.StatusNotModified {
		t.Errorf("If-None-Match = %d, want 304", w.Code)
	}
	w = e.do(http.MethodGet, "/feed/items?url="+srv.URL+"/feed.xml", nil, "If-Modified-Since", "Tue, 02 Jan 2024 10:00:00 GMT")
	if w.Code != http.StatusNotModified {
		t.Errorf("If-Modified-Since = %d, want 304", w.Code)
	}

	w = e.do(http.MethodGet, "/feed/items?url="+srv.URL+"/feed.xml", nil)
	items := decode[[]feeds.Item](t, w)
	if len(items) != 2 || items[0].Link != "https://example.com/2" {
		t.Errorf("items = %+v", items)
	}
	if w := e.do(http.MethodGet, "/feed/items", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing url = %d, want 400", w.Code)
	}
}

func TestDiscoverAndSubscriptionItems(t *testing.T) {
	e := newTestEnv(t)
	e.ready()
	srv := feedServer(t)

	w := e.do(http.MethodPost, "/feed/discover", URLRequest{URL: srv.URL + "/page"})
	if w.Code != http.StatusOK {
		t.Fatalf("discover = %d %s", w.Code, w.Body.String())
	}
	d := decode[feeds.Discovery](t, w)
	if d.FeedURL != srv.URL+"/feed.xml" || d.Title != "Example" {
		t.Errorf("discovery = %+v", d)
	}

	w = e.do(http.MethodPost, "/feeds", ItemRequest{Title: d.Title, URL: d.FeedURL})
	sub := decode[content.Item](t, w)
	w = e.do(http.MethodGet, "/feeds/"+sub.ID+"/items", nil)
	if items := decode[[]feeds.Item](t, w); len(items) != 2 {
		t.Errorf("subscription items = %+v", items)
	}
}

func TestPageTitle(t *testing.T) {
	e := newTestEnv(t)
	e.ready()
	srv := feedServer(t)

	w := e.do(http.MethodPost, "/page/title", URLRequest{URL: srv.URL + "/page"})
	if got := decode[TitleResponse](t, w).Title; got != "Open Graph Title" {
		t.Errorf("title = %q", got)
	}
	if w := e.do(http.MethodPost, "/page/title", URLRequest{URL: srv.URL + "/untitled"}); w.Code != http.StatusNotFound {
		t.Errorf("untitled = %d, want 404", w.Code)
	}
	if w := e.do(http.MethodPost, "/page/title", URLRequest{URL: srv.URL + "/missing"}); w.Code != http.StatusBadGateway {
		t.Errorf("missing page = %d, want 502", w.Code)
	}
	if w := e.do(http.MethodPost, "/page/title", URLRequest{URL: "ftp://example.com"}); w.Code != http.StatusBadRequest {
		t.Errorf("ftp = %d, want 400", w.Code)
	}
}
