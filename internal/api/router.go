package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"

	"github.com/lurkhub/lurkhub-app/internal/auth"
	"github.com/lurkhub/lurkhub-app/internal/content"
	"github.com/lurkhub/lurkhub-app/internal/feeds"
	"github.com/lurkhub/lurkhub-app/internal/sse"
	"github.com/lurkhub/lurkhub-app/internal/workspace"
)

// Deps are the services the router serves.
type Deps struct {
	Factory  *workspace.Factory
	Sessions *auth.Sessions
	// OAuth is nil when no OAuth app is configured; only PAT login works then.
	OAuth *oauth2.Config
	Feeds *feeds.Reader
	// Pages fetches pages for title lookups. nil uses a client with a 15s timeout.
	Pages  *http.Client
	Broker *sse.Broker
	// SecureCookies marks the OAuth state cookie Secure.
	SecureCookies bool
}

// Handler holds API route handlers.
type Handler struct {
	Deps
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	if d.Pages == nil {
		d.Pages = &http.Client{Timeout: 15 * time.Second}
	}
	return &Handler{Deps: d}
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(d Deps) chi.Router {
	h := NewHandler(d)

	r := chi.NewRouter()
	r.Use(d.Sessions.Middleware)

	// Authentication.
	r.Get("/auth/login", h.Login)
	r.Get("/auth/callback", h.Callback)
	r.Post("/auth/pat", h.PATLogin)
	r.Get("/auth/logout", h.Logout)
	r.Post("/auth/logout", h.Logout)

	// Public posts of any user.
	r.Get("/users/{username}/posts", h.PublicPosts)
	r.Get("/users/{username}/posts/{id}", h.PublicPost)

	r.Group(func(r chi.Router) {
		r.Use(WorkspaceMiddleware(d.Factory))

		r.Get("/user", h.User)
		r.Get("/repo/status", h.RepoStatus)
		r.Post("/repo/setup", h.RepoSetup)
		r.Get("/repo/info", h.RepoInfo)
		r.Post("/repo/create", h.CreateRepo)

		r.Get("/feed/items", h.FeedItems)
		r.Get("/feed/info", h.FeedInfo)
		r.Post("/feed/discover", h.DiscoverFeed)
		r.Post("/page/title", h.PageTitle)

		if d.Broker != nil {
			r.Get("/events", h.Events)
		}

		r.Post("/maintenance/reconcile", h.Reconcile)
		r.Get("/maintenance/sagas", h.PendingSagas)
		r.Delete("/maintenance/sagas/{id}", h.DiscardSaga)

		// Everything below reads or writes the repositories.
		r.Group(func(r chi.Router) {
			r.Use(RequireSetup())

			for _, kind := range content.Kinds {
				c := collection{h: h, kind: kind}
				r.Route("/"+string(kind), func(r chi.Router) {
					r.Get("/", c.List)
					r.Post("/", c.Create)
					r.Get("/tags", c.Tags)
					r.Get("/archive", c.ListArchived)
					r.Get("/archive/{id}", c.GetArchived)
					r.Delete("/archive/{id}", c.DeleteArchived)
					r.Post("/archive/{id}/restore", c.Restore)
					r.Get("/{id}", c.Get)
					r.Put("/{id}", c.Update)
					r.Delete("/{id}", c.Delete)
					r.Post("/{id}/archive", c.Archive)
					if kind == content.Feeds {
						r.Get("/{id}/items", h.SubscriptionItems)
					}
				})
			}

			r.Get("/posts", h.ListPosts)
			r.Post("/posts", h.CreatePost)
			r.Get("/posts/{id}", h.GetPost)
			r.Put("/posts/{id}", h.UpdatePost)
			r.Delete("/posts/{id}", h.DeletePost)

			r.Get("/dataset", h.GetDataset)
			r.Post("/dataset", h.AppendRecord)
			r.Put("/dataset", h.ReplaceRecord)
			r.Delete("/dataset", h.DeleteRecord)

			r.Get("/file", h.GetFile)
			r.Post("/file", h.CreateFile)
			r.Put("/file", h.UpdateFile)
			r.Delete("/file", h.DeleteFile)
		})
	})

	return r
}
