// Package workspace assembles the services of one signed-in user: the
// collections, posts and setup checks over that user's repositories, and
// the saga journal shared by all of them.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/bootstrap"
	"github.com/lurkhub/lurkhub-app/internal/checksum"
	"github.com/lurkhub/lurkhub-app/internal/content"
	"github.com/lurkhub/lurkhub-app/internal/github"
	"github.com/lurkhub/lurkhub-app/internal/kvstore"
	"github.com/lurkhub/lurkhub-app/internal/models"
	"github.com/lurkhub/lurkhub-app/internal/posts"
	"github.com/lurkhub/lurkhub-app/internal/saga"
	"github.com/lurkhub/lurkhub-app/internal/storage"
)

// Storage drivers.
const (
	DriverGitHub = "github"
	DriverFS     = "fs"
)

// Options configures a Factory.
type Options struct {
	Driver string
	// APIURL is the GitHub REST base URL; empty means api.github.com.
	APIURL string
	// Store holds the fetch cache and saga journals.
	Store kvstore.Store
	// Local is the data directory of the fs driver.
	Local *storage.FS
	Names  bootstrap.Names
	Posts  posts.Options
	Logger *slog.Logger
}

// Workspace is one user's view of their repositories.
type Workspace struct {
	user        models.User
	names       bootstrap.Names
	files       storage.Provider
	sagas       *saga.Coordinator
	setup       *bootstrap.Service
	posts       *posts.Service
	collections map[content.Kind]*content.Service

	ready atomic.Bool
}

func (w *Workspace) User() models.User { return w.user }
func (w *Workspace) Owner() string { return w.user.Login }
func (w *Workspace) Names() bootstrap.Names { return w.names }
func (w *Workspace) Files() storage.Provider { return w.files }
func (w *Workspace) Sagas() *saga.Coordinator { return w.sagas }
func (w *Workspace) Setup() *bootstrap.Service { return w.setup }
func (w *Workspace) Posts() *posts.Service { return w.posts }

// Collection returns the service of kind k.
func (w *Workspace) Collection(k content.Kind) *content.Service { return w.collections[k] }

// Ready reports whether both repositories exist with push access. A
// positive answer is remembered for the life of the workspace.
func (w *Workspace) Ready(ctx context.Context) (bool, error) {
	if w.ready.Load() {
		return true, nil
	}
	st := w.setup.Status(ctx)
	for _, res := range []bootstrap.AccessResult{st.Data, st.Posts} {
		if res.Error != "" {
			return false, fmt.Errorf("workspace: check %s: %s", res.Repo, res.Error)
		}
	}
	if st.Ready {
		w.ready.Store(true)
	}
	return st.Ready, nil
}

// Factory opens workspaces and keeps them per access token.
type Factory struct {
	opts Options

	mu       sync.Mutex
	open     map[string]*Workspace
	journals map[string]*saga.Coordinator
	public   *github.Client
}

// NewFactory validates opts and creates a Factory.
func NewFactory(opts Options) (*Factory, error) {
	if opts.Store == nil {
		return nil, errors.New("workspace: no kv store")
	}
	switch opts.Driver {
	case DriverGitHub:
	case DriverFS:
		if opts.Local == nil {
			return nil, errors.New("workspace: fs driver needs a data directory")
		}
	default:
		return nil, fmt.Errorf("workspace: unknown storage driver %q", opts.Driver)
	}
	if opts.Names.Data == "" || opts.Names.Posts == "" {
		opts.Names = bootstrap.RepoNames("")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Factory{
		opts:     opts,
		open:     make(map[string]*Workspace),
		journals: make(map[string]*saga.Coordinator),
	}, nil
}

// Driver returns the storage driver in use.
func (f *Factory) Driver() string { return f.opts.Driver }

// Names returns the repository names workspaces use.
func (f *Factory) Names() bootstrap.Names { return f.opts.Names }

// cacheNamespace keeps the fetch cache of different tokens apart, so a
// conditional request is never answered from another account's entry.
func cacheNamespace(token string) string {
	return "github/" + checksum.Sum([]byte(token))[:16]
}

func (f *Factory) client(token string) *github.Client {
	return github.New(f.opts.APIURL, token, f.opts.Store, cacheNamespace(token))
}

// Profile resolves the account token belongs to. An invalid token yields
// apperr.ErrUnauthorized.
func (f *Factory) Profile(ctx context.Context, token string) (*models.User, error) {
	if f.opts.Driver == DriverFS {
		return &models.User{Login: f.opts.Local.Owner()}, nil
	}
	if token == "" {
		return nil, apperr.ErrUnauthorized
	}
	return f.client(token).User(ctx)
}

// Open returns the workspace of token, building it on first use. user may
// be nil, in which case the profile is fetched.
func (f *Factory) Open(ctx context.Context, token string, user *models.User) (*Workspace, error) {
	key := token
	if f.opts.Driver == DriverFS {
		key = DriverFS
	}
	f.mu.Lock()
	w, ok := f.open[key]
	f.mu.Unlock()
	if ok {
		return w, nil
	}

	w, err := f.build(ctx, token, user)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.open[key]; ok {
		return existing, nil
	}
	f.open[key] = w
	return w, nil
}

func (f *Factory) build(ctx context.Context, token string, user *models.User) (*Workspace, error) {
	var (
		files   storage.Provider
		repos   storage.Repositories
		client  *github.Client
		profile models.User
	)
	switch f.opts.Driver {
	case DriverFS:
		files, repos = f.opts.Local, f.opts.Local
		profile = models.User{Login: f.opts.Local.Owner()}
		if user != nil && user.Login == profile.Login {
			profile = *user
		}
	default:
		if token == "" {
			return nil, apperr.ErrUnauthorized
		}
		client = f.client(token)
		if user == nil {
			u, err := client.User(ctx)
			if err != nil {
				return nil, err
			}
			user = u
		}
		profile = *user
		files, repos = client.Contents(profile.Login), client
	}

	// The workflows close over this token's client, so every workspace
	// registers them on its own fork of the account's journal.
	sagas := f.journal(profile.Login).Fork(nil)
	w := &Workspace{
		user:        profile,
		names:       f.opts.Names,
		files:       files,
		sagas:       sagas,
		setup:       bootstrap.New(repos, files, profile.Login, f.opts.Names),
		collections: make(map[content.Kind]*content.Service, len(content.Kinds)),
	}
	for _, k := range content.Kinds {
		w.collections[k] = content.NewService(k, files, f.opts.Names.Data, sagas)
	}
	fullname := func(ctx context.Context) (string, error) {
		if client == nil {
			return profile.DisplayName(), nil
		}
		u, err := client.User(ctx)
		if err != nil {
			return "", err
		}
		return u.DisplayName(), nil
	}
	w.posts = posts.NewService(files, f.opts.Names.Posts, sagas, fullname, f.opts.Posts)
	return w, nil
}

// journal returns the saga journal of login. Workspaces of the same
// account fork it, so a run in one is never resumed twice by another.
func (f *Factory) journal(login string) *saga.Coordinator {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.journals[login]
	if !ok {
		c = saga.New(f.opts.Store, "saga/"+login, f.opts.Logger.With(slog.String("owner", login)))
		f.journals[login] = c
	}
	return c
}

// Forget drops the workspace of token, e.g. on logout.
func (f *Factory) Forget(token string) {
	f.mu.Lock()
	delete(f.open, token)
	f.mu.Unlock()
}

// Public returns a read-only view of owner's posts repository for visitors.
func (f *Factory) Public(owner string) (*posts.Reader, error) {
	if f.opts.Driver == DriverFS {
		if owner != f.opts.Local.Owner() {
			return nil, fmt.Errorf("user %s: %w", owner, apperr.ErrNotFound)
		}
		return posts.NewReader(f.opts.Local, f.opts.Names.Posts, f.opts.Posts), nil
	}
	f.mu.Lock()
	if f.public == nil {
		f.public = github.Anonymous(f.opts.APIURL, f.opts.Store)
	}
	client := f.public
	f.mu.Unlock()
	return posts.NewReader(client.Contents(owner), f.opts.Names.Posts, f.opts.Posts), nil
}

// Sweep reconciles the saga journal of every account with an open
// workspace and returns the reports keyed by login. Each journal is
// resumed through one of its account's open workspaces.
func (f *Factory) Sweep(ctx context.Context) map[string]saga.Report {
	f.mu.Lock()
	keys := make([]string, 0, len(f.open))
	for k := range f.open {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	byLogin := make(map[string]*saga.Coordinator, len(keys))
	for _, k := range keys {
		w := f.open[k]
		if _, ok := byLogin[w.Owner()]; !ok {
			byLogin[w.Owner()] = w.sagas
		}
	}
	f.mu.Unlock()
	logins := make([]string, 0, len(byLogin))
	for login := range byLogin {
		logins = append(logins, login)
	}
	sort.Strings(logins)

	out := make(map[string]saga.Report, len(logins))
	for _, login := range logins {
		report, err := byLogin[login].Reconcile(ctx)
		if err != nil {
			f.opts.Logger.Warn("saga sweep failed",
				slog.String("owner", login),
				slog.String("error", err.Error()))
			continue
		}
		if n := len(report.Completed) + len(report.Failed) + len(report.Unresolved); n > 0 {
			f.opts.Logger.Info("saga sweep",
				slog.String("owner", login),
				slog.Int("completed", len(report.Completed)),
				slog.Int("failed", len(report.Failed)),
				slog.Int("unresolved", len(report.Unresolved)))
		}
		out[login] = report
	}
	return out
}
