package testutil

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/lurkhub/lurkhub-app/internal/checksum"
	"github.com/lurkhub/lurkhub-app/internal/models"
)

// Request is a call recorded by GitHub.
type Request struct {
	Method      string
	Path        string
	IfNoneMatch string
	Status      int
}

type fakeRepo struct {
	meta  models.Repository
	files map[string][]byte
}

// GitHub is an in-memory stand-in for the parts of the GitHub REST API
// LurkHub uses. It honours If-None-Match and enforces blob shas on writes.
type GitHub struct {
	Server *httptest.Server

	mu       sync.Mutex
	users    map[string]models.User // by token
	repos    map[string]*fakeRepo   // by owner/name
	requests []Request
	failures map[string]int // "METHOD path" -> status, one-shot
}

// NewGitHub starts a fake GitHub API that is shut down with the test.
func NewGitHub(t *testing.T) *GitHub {
	t.Helper()
	g := &GitHub{
		users:    make(map[string]models.User),
		repos:    make(map[string]*fakeRepo),
		failures: make(map[string]int),
	}

	r := chi.NewRouter()
	r.Get("/user", g.handleUser)
	r.Post("/user/repos", g.handleCreateRepo)
	r.Get("/repos/{owner}/{repo}", g.handleRepo)
	r.Get("/repos/{owner}/{repo}/contents/*", g.handleGetContent)
	r.Put("/repos/{owner}/{repo}/contents/*", g.handlePutContent)
	r.Delete("/repos/{owner}/{repo}/contents/*", g.handleDeleteContent)

	g.Server = httptest.NewServer(g.record(r))
	t.Cleanup(g.Server.Close)
	return g
}

// URL returns the API base URL.
func (g *GitHub) URL() string { return g.Server.URL }

// AddUser registers token as belonging to u.
func (g *GitHub) AddUser(token string, u models.User) {
	g.mu.Lock()
	g.users[token] = u
	g.mu.Unlock()
}

// RemoveUser revokes token.
func (g *GitHub) RemoveUser(token string) {
	g.mu.Lock()
	delete(g.users, token)
	g.mu.Unlock()
}

// AddRepo creates owner/name. push controls the owner's reported permission.
func (g *GitHub) AddRepo(owner, name string, private, push bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.repos[owner+"/"+name] = &fakeRepo{
		meta: models.Repository{
			Owner:         owner,
			Name:          name,
			Private:       private,
			DefaultBranch: "main",
			Permissions:   models.Permissions{Push: push, Pull: true},
		},
		files: make(map[string][]byte),
	}
}

// PutFile stores a file directly, bypassing sha checks.
func (g *GitHub) PutFile(owner, repo, path string, content []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.repos[owner+"/"+repo]; ok {
		r.files[path] = append([]byte(nil), content...)
	}
}

// File returns a stored file.
func (g *GitHub) File(owner, repo, path string) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.repos[owner+"/"+repo]
	if !ok {
		return nil, false
	}
	b, ok := r.files[path]
	return b, ok
}

// Paths lists stored file paths of a repository.
func (g *GitHub) Paths(owner, repo string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	if r, ok := g.repos[owner+"/"+repo]; ok {
		for p := range r.files {
			out = append(out, p)
		}
	}
	return out
}

// FailNext makes the next request matching method and URL path answer status.
func (g *GitHub) FailNext(method, path string, status int) {
	g.mu.Lock()
	g.failures[method+" "+path] = status
	g.mu.Unlock()
}

// Requests returns a copy of the recorded requests.
func (g *GitHub) Requests() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Request(nil), g.requests...)
}

// Count returns how many recorded requests had method and status.
func (g *GitHub) Count(method string, status int) int {
	n := 0
	for _, r := range g.Requests() {
		if r.Method == method && r.Status == status {
			n++
		}
	}
	return n
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (g *GitHub) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		key := r.Method + " " + r.URL.Path
		status, fail := g.failures[key]
		delete(g.failures, key)
		g.mu.Unlock()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		if fail {
			writeGH(rec, status, map[string]string{"message": http.StatusText(status)})
		} else {
			next.ServeHTTP(rec, r)
		}

		g.mu.Lock()
		g.requests = append(g.requests, Request{
			Method:      r.Method,
			Path:        r.URL.Path,
			IfNoneMatch: r.Header.Get("If-None-Match"),
			Status:      rec.status,
		})
		g.mu.Unlock()
	})
}

func writeGH(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeConditional answers 304 when the client already holds the body's ETag.
func writeConditional(w http.ResponseWriter, r *http.Request, v any) {
	body, _ := json.Marshal(v)
	etag := checksum.ETag(body)
	if r.Header.Get("If-None-Match") == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (g *GitHub) caller(r *http.Request) (models.User, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	g.mu.Lock()
	defer g.mu.Unlock()
	u, ok := g.users[token]
	return u, ok
}

func notFound(w http.ResponseWriter) {
	writeGH(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
}

func (g *GitHub) handleUser(w http.ResponseWriter, r *http.Request) {
	u, ok := g.caller(r)
	if !ok {
		writeGH(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
		return
	}
	writeConditional(w, r, map[string]string{"login": u.Login, "name": u.Name, "avatar_url": u.AvatarURL})
}

func repoBody(m models.Repository, push bool) map[string]any {
	return map[string]any{
		"name":           m.Name,
		"private":        m.Private,
		"description":    m.Description,
		"default_branch": m.DefaultBranch,
		"html_url":       "https://github.com/" + m.Owner + "/" + m.Name,
		"owner":          map[string]string{"login": m.Owner},
		"permissions":    map[string]bool{"push": push, "pull": true, "admin": push},
	}
}

// visible returns the repo when the caller may see it.
func (g *GitHub) visible(r *http.Request) (*fakeRepo, bool, bool) {
	owner, name := chi.URLParam(r, "owner"), chi.URLParam(r, "repo")
	u, authed := g.caller(r)
	g.mu.Lock()
	defer g.mu.Unlock()
	repo, ok := g.repos[owner+"/"+name]
	if !ok {
		return nil, false, false
	}
	isOwner := authed && u.Login == owner
	if repo.meta.Private && !isOwner {
		return nil, false, false
	}
	return repo, isOwner, true
}

func (g *GitHub) handleRepo(w http.ResponseWriter, r *http.Request) {
	repo, isOwner, ok := g.visible(r)
	if !ok {
		notFound(w)
		return
	}
	writeConditional(w, r, repoBody(repo.meta, isOwner && repo.meta.Permissions.Push))
}

func (g *GitHub) handleCreateRepo(w http.ResponseWriter, r *http.Request) {
	u, ok := g.caller(r)
	if !ok {
		writeGH(w, http.StatusUnauthorized, map[string]string{"message": "Requires authentication"})
		return
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Private     bool   `json:"private"`
		AutoInit    bool   `json:"auto_init"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeGH(w, http.StatusBadRequest, map[string]string{"message": "Problems parsing JSON"})
		return
	}
	g.mu.Lock()
	key := u.Login + "/" + req.Name
	if _, exists := g.repos[key]; exists {
		g.mu.Unlock()
		writeGH(w, http.StatusUnprocessableEntity, map[string]string{"message": "name already exists on this account"})
		return
	}
	repo := &fakeRepo{
		meta: models.Repository{
			Owner:         u.Login,
			Name:          req.Name,
			Description:   req.Description,
			Private:       req.Private,
			DefaultBranch: "main",
			Permissions:   models.Permissions{Admin: true, Push: true, Pull: true},
		},
		files: make(map[string][]byte),
	}
	if req.AutoInit {
		repo.files["README.md"] = []byte("# " + req.Name + "\n")
	}
	g.repos[key] = repo
	g.mu.Unlock()
	writeGH(w, http.StatusCreated, repoBody(repo.meta, true))
}

func (g *GitHub) handleGetContent(w http.ResponseWriter, r *http.Request) {
	repo, _, ok := g.visible(r)
	if !ok {
		notFound(w)
		return
	}
	path := chi.URLParam(r, "*")
	g.mu.Lock()
	data, ok := repo.files[path]
	g.mu.Unlock()
	if !ok {
		notFound(w)
		return
	}
	writeConditional(w, r, map[string]any{
		"type":     "file",
		"path":     path,
		"sha":      checksum.BlobSHA(data),
		"encoding": "base64",
		"content":  wrap60(base64.StdEncoding.EncodeToString(data)),
	})
}

func wrap60(s string) string {
	var b strings.Builder
	for len(s) > 60 {
		b.WriteString(s[:60])
		b.WriteByte('\n')
		s = s[60:]
	}
	b.WriteString(s)
	b.WriteByte('\n')
	return b.String()
}

// writable returns the repository when the caller owns it with push access.
func (g *GitHub) writable(w http.ResponseWriter, r *http.Request) (*fakeRepo, bool) {
	repo, isOwner, ok := g.visible(r)
	if !ok {
		notFound(w)
		return nil, false
	}
	if !isOwner || !repo.meta.Permissions.Push {
		writeGH(w, http.StatusForbidden, map[string]string{"message": "Resource not accessible"})
		return nil, false
	}
	return repo, true
}

func (g *GitHub) handlePutContent(w http.ResponseWriter, r *http.Request) {
	repo, ok := g.writable(w, r)
	if !ok {
		return
	}
	var req struct {
		Message string `json:"message"`
		Content string `json:"content"`
		SHA     string `json:"sha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeGH(w, http.StatusUnprocessableEntity, map[string]string{"message": "Invalid request"})
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeGH(w, http.StatusUnprocessableEntity, map[string]string{"message": "content is not valid Base64"})
		return
	}
	path := chi.URLParam(r, "*")

	g.mu.Lock()
	current, exists := repo.files[path]
	switch {
	case exists && req.SHA == "":
		g.mu.Unlock()
		writeGH(w, http.StatusUnprocessableEntity, map[string]string{"message": `"sha" wasn't supplied.`})
		return
	case exists && checksum.BlobSHA(current) != req.SHA:
		g.mu.Unlock()
		writeGH(w, http.StatusConflict, map[string]string{"message": path + " does not match " + req.SHA})
		return
	case !exists && req.SHA != "":
		g.mu.Unlock()
		notFound(w)
		return
	}
	repo.files[path] = data
	g.mu.Unlock()

	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}
	writeGH(w, status, map[string]any{
		"content": map[string]string{"path": path, "sha": checksum.BlobSHA(data)},
		"commit":  map[string]string{"message": req.Message},
	})
}

func (g *GitHub) handleDeleteContent(w http.ResponseWriter, r *http.Request) {
	repo, ok := g.writable(w, r)
	if !ok {
		return
	}
	var req struct {
		Message string `json:"message"`
		SHA     string `json:"sha"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	path := chi.URLParam(r, "*")

	g.mu.Lock()
	current, exists := repo.files[path]
	switch {
	case !exists:
		g.mu.Unlock()
		notFound(w)
		return
	case req.SHA == "":
		g.mu.Unlock()
		writeGH(w, http.StatusUnprocessableEntity, map[string]string{"message": `"sha" wasn't supplied.`})
		return
	case checksum.BlobSHA(current) != req.SHA:
		g.mu.Unlock()
		writeGH(w, http.StatusConflict, map[string]string{"message": path + " does not match " + req.SHA})
		return
	}
	delete(repo.files, path)
	g.mu.Unlock()
	writeGH(w, http.StatusOK, map[string]any{"content": nil})
}
