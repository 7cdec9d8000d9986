// Package server exposes workspaces over a JSON HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Watcher reports data sources whose registry entries changed
type Watcher interface {
	Watch(ctx context.Context, onChange func(changed []string)) error
}

// Config holds configuration for the server
type Config struct {
	Addr            string
	SessionSecret   string
	ShutdownTimeout time.Duration

	// WorkspaceIdleTimeout closes workspaces nobody has used for this long;
	// zero keeps them until deleted
	WorkspaceIdleTimeout time.Duration
	HistoryMaxEntries    int
	Workspace            WorkspaceSettings
	Logger               *slog.Logger
}

// Deps are the collaborators the server is built on
type Deps struct {
	Backend Backend
	Sources DataSources
	History History
	// Watcher is optional
	Watcher Watcher
}

// Server is the HTTP server
type Server struct {
	cfg          Config
	deps         Deps
	logger       *slog.Logger
	sessionStore *sessions.CookieStore
	workspaces   *workspaces
	handler      http.Handler
}

// NewServer creates a new server instance
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	secret := cfg.SessionSecret
	if secret == "" {
		// cookies will not survive a restart
		cfg.Logger.Warn("no session secret configured, generating one")
		secret = uuid.NewString() + uuid.NewString()
	}

	sessionStore := sessions.NewCookieStore([]byte(secret))
	sessionStore.MaxAge(86400 * 30) // 30 days
	sessionStore.Options.Path = "/"
	sessionStore.Options.HttpOnly = true
	sessionStore.Options.SameSite = http.SameSiteLaxMode

	s := &Server{
		cfg:          cfg,
		deps:         deps,
		logger:       cfg.Logger,
		sessionStore: sessionStore,
		workspaces:   newWorkspaces(deps.Backend, deps.Sources, deps.History, cfg.Workspace, cfg.Logger),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.Logger,
		middleware.Recoverer,
		middleware.Compress(5),
	)

	h := newHandlers(s.workspaces, s.deps.Sources, s.deps.History, s.sessionStore, s.logger)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/datasources", h.ListDataSources)
		r.Post("/datasources/{id}/workspace", h.OpenWorkspace)
		r.Get("/history", h.History)

		r.Route("/workspaces/{wid}", func(r chi.Router) {
			r.Get("/", h.GetWorkspace)
			r.Delete("/", h.CloseWorkspace)
			r.Put("/database", h.SwitchDatabase)
			r.Post("/refresh", h.Refresh)
			r.Get("/tree", h.Tree)
			r.Post("/complete", h.Complete)

			r.Get("/tabs", h.ListTabs)
			r.Post("/tabs", h.CreateTab)
			r.Put("/tabs/{tid}", h.SaveTab)
			r.Delete("/tabs/{tid}", h.CloseTab)
			r.Put("/tabs/{tid}/active", h.ActivateTab)
			r.Post("/tabs/{tid}/execute", h.ExecuteTab)
			r.Get("/tabs/{tid}/export", h.ExportTab)
		})
	})

	return r
}

// Serve starts the server and blocks until the context is cancelled
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting server", "addr", s.cfg.Addr)

	if s.cfg.HistoryMaxEntries > 0 {
		if n, err := s.deps.History.Trim(ctx, s.cfg.HistoryMaxEntries); err != nil {
			s.logger.Warn("failed to trim history", "error", err)
		} else if n > 0 {
			s.logger.Info("trimmed history", "removed", n)
		}
	}

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.handler,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Drop pools of data sources edited on disk
	if s.deps.Watcher != nil {
		eg.Go(func() error {
			return s.deps.Watcher.Watch(egctx, func(changed []string) {
				for _, id := range changed {
					s.logger.Info("data source changed, disconnecting", "datasource", id)
					s.deps.Backend.Disconnect(id)
				}
			})
		})
	}

	if s.cfg.WorkspaceIdleTimeout > 0 {
		eg.Go(func() error {
			s.expireIdle(egctx)
			return nil
		})
	}

	// Start HTTP server
	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		s.logger.Debug("shutting down server...", "workspaces", s.workspaces.count())
		err := srv.Shutdown(shutdownCtx)
		if cerr := s.workspaces.closeAll(); cerr != nil {
			s.logger.Warn("workspace cleanup failed", "error", cerr)
		}
		return err
	})

	return eg.Wait()
}

// expireIdle sweeps idle workspaces until ctx is done
func (s *Server) expireIdle(ctx context.Context) {
	interval := s.cfg.WorkspaceIdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.workspaces.expire(now.Add(-s.cfg.WorkspaceIdleTimeout)); n > 0 {
				s.logger.Debug("expired idle workspaces", "closed", n, "remaining", s.workspaces.count())
			}
		}
	}
}
