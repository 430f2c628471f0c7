// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/lurkhub/lurkhub-app/internal/api"
	"github.com/lurkhub/lurkhub-app/internal/auth"
	"github.com/lurkhub/lurkhub-app/internal/bootstrap"
	"github.com/lurkhub/lurkhub-app/internal/feeds"
	"github.com/lurkhub/lurkhub-app/internal/kvstore"
	"github.com/lurkhub/lurkhub-app/internal/mcpserver"
	"github.com/lurkhub/lurkhub-app/internal/posts"
	"github.com/lurkhub/lurkhub-app/internal/saga"
	"github.com/lurkhub/lurkhub-app/internal/sse"
	"github.com/lurkhub/lurkhub-app/internal/storage"
	"github.com/lurkhub/lurkhub-app/internal/workspace"
)

const sseThrottle = 2 * time.Second

func newApplication(opts []Option) (*application, error) {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	if app.logger == nil {
		app.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: app.config.App.LogLevel,
		}))
	}
	slog.SetDefault(app.logger)
	return app, nil
}

// services opens the key-value store and builds the workspace factory on it.
// The caller closes the store.
func (a *application) services() (kvstore.Store, *workspace.Factory, *storage.FS, error) {
	cfg := a.config

	store, err := kvstore.Open(cfg.Cache.Driver, cfg.Cache.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open cache: %w", err)
	}

	var local *storage.FS
	if cfg.Storage.Driver == workspace.DriverFS {
		if err := os.MkdirAll(cfg.Storage.Path, 0o755); err != nil {
			store.Close()
			return nil, nil, nil, fmt.Errorf("create data dir: %w", err)
		}
		local, err = storage.NewFS(cfg.Storage.Path, cfg.Storage.Owner)
		if err != nil {
			store.Close()
			return nil, nil, nil, fmt.Errorf("init storage: %w", err)
		}
	}

	factory, err := workspace.NewFactory(workspace.Options{
		Driver: cfg.Storage.Driver,
		APIURL: cfg.GitHub.APIURL,
		Store:  store,
		Local:  local,
		Names:  bootstrap.RepoNames(cfg.GitHub.RepoSuffix),
		Posts: posts.Options{
			PerIndex:      cfg.Posts.PerIndex,
			PerPage:       cfg.Posts.PerPage,
			PreviewLength: cfg.Posts.PreviewLength,
		},
		Logger: a.logger,
	})
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	return store, factory, local, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("public_url", cfg.App.HTTP.PublicURL),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("cache_driver", cfg.Cache.Driver),
		slog.Bool("oauth", cfg.GitHub.OAuthEnabled()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, factory, local, err := app.services()
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := auth.NewSessions(store, auth.SessionOptions{
		Secret:     []byte(cfg.Session.Secret),
		CookieName: cfg.Session.CookieName,
		Secure:     cfg.Session.Secure,
		MaxAge:     cfg.Session.MaxAge,
	})
	if err != nil {
		return fmt.Errorf("init sessions: %w", err)
	}

	// SSE broker.
	broker := sse.NewBroker(sseThrottle)
	defer broker.Close()

	deps := api.Deps{
		Factory:       factory,
		Sessions:      sessions,
		Feeds:         feeds.NewReader(nil, store),
		Broker:        broker,
		SecureCookies: cfg.Session.Secure || cfg.App.HTTP.Secure(),
	}
	if cfg.GitHub.OAuthEnabled() {
		deps.OAuth = auth.NewGitHubProvider(cfg.GitHub.OAuth(cfg.App.HTTP.CallbackURL()))
	}
	apiRouter := api.NewRouter(deps)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := store.Keys(r.Context(), "health"); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Local data directories are edited outside the API too (git pull).
	if local != nil {
		g.Go(func() error {
			err := storage.Watch(gCtx, local.Root(), logger, func(c storage.Change) {
				broker.PublishChange(local.Owner(), sse.Change{Kind: c.Kind, Repo: c.Repo, Path: c.Path})
			})
			if err != nil {
				logger.Error("file watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if every := cfg.Saga.ReconcileInterval; every > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				select {
				case <-gCtx.Done():
					return nil
				case <-ticker.C:
					factory.Sweep(gCtx)
				}
			}
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Stops the sweeper and the watcher.
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

var errShutdown = errors.New("shutdown")

// openWorkspace opens the workspace of the configured personal access
// token, or of the local owner with the fs driver.
func openWorkspace(ctx context.Context, cfg *Config, factory *workspace.Factory) (*workspace.Workspace, error) {
	if factory.Driver() == workspace.DriverGitHub && cfg.GitHub.Token == "" {
		return nil, errors.New("github.token is required with the github storage driver")
	}
	ws, err := factory.Open(ctx, cfg.GitHub.Token, nil)
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}
	ready, err := ws.Ready(ctx)
	if err != nil {
		return nil, fmt.Errorf("check repositories: %w", err)
	}
	if !ready {
		return nil, fmt.Errorf("repositories of %s are not set up", ws.Owner())
	}
	return ws, nil
}

// RunMCP serves the configured user's workspace over MCP on stdio.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	store, factory, _, err := app.services()
	if err != nil {
		return err
	}
	defer store.Close()

	ws, err := openWorkspace(ctx, app.config, factory)
	if err != nil {
		return err
	}
	app.logger.Info("MCP server starting", slog.String("owner", ws.Owner()))
	return mcpserver.New(ws).ServeStdio()
}

// Reconcile runs one saga sweep for the configured user and returns its
// report.
func Reconcile(ctx context.Context, opts ...Option) (saga.Report, error) {
	app, err := newApplication(opts)
	if err != nil {
		return saga.Report{}, err
	}
	store, factory, _, err := app.services()
	if err != nil {
		return saga.Report{}, err
	}
	defer store.Close()

	ws, err := factory.Open(ctx, app.config.GitHub.Token, nil)
	if err != nil {
		return saga.Report{}, fmt.Errorf("open workspace: %w", err)
	}
	return ws.Sagas().Reconcile(ctx)
}
