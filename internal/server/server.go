// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects handlers, middleware and
// routes, and decides:
// - Which URL patterns map to which handler functions
// - Which content and session backends the handlers run on
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// main.go loads config.Config and a logger, then Server.New creates:
//
//	session store (memory | sqlite | redis) → session.Manager
//	content source (github | git)           → service.ArticleService
//	auth.GitHubProvider + auth.StateSigner  → handler.AuthHandler
//
// This is the "composition root" pattern: all dependencies are wired in
// one place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/pskb/internal/auth"
	"github.com/sakif/pskb/internal/config"
	"github.com/sakif/pskb/internal/content"
	"github.com/sakif/pskb/internal/content/githubrepo"
	"github.com/sakif/pskb/internal/content/gitstore"
	"github.com/sakif/pskb/internal/handler"
	"github.com/sakif/pskb/internal/middleware"
	"github.com/sakif/pskb/internal/service"
	"github.com/sakif/pskb/internal/session"
	"github.com/sakif/pskb/internal/session/redisstore"
	"github.com/sakif/pskb/internal/session/sqlitestore"
)

const sessionCleanupInterval = 5 * time.Minute

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the session store connection (SQLite file or Redis
// client). Everything that must be released on shutdown is collected in
// closers and closed, in reverse order, by Close.
type Server struct {
	router  *chi.Mux
	config  config.Config
	logger  *slog.Logger
	closers []io.Closer
}

// New creates a new Server from cfg.
//
// DEPENDENCY INJECTION & WIRING:
//  1. Open the session store picked by SESSION_BACKEND
//  2. Open the content source picked by CONTENT_BACKEND
//  3. Create the OAuth provider and state signer
//  4. Create services and handlers, wire them to routes
//
// Each layer only receives what it needs: the service gets a
// content.Source (not a concrete backend), handlers get the service.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}

	store, err := s.openSessionStore()
	if err != nil {
		return nil, err
	}

	source, err := s.openContentSource()
	if err != nil {
		s.Close()
		return nil, err
	}

	if err := s.setupRoutes(store, source); err != nil {
		s.Close() // release stores if route setup fails
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// openSessionStore creates the scs.Store behind the session manager.
func (s *Server) openSessionStore() (scs.Store, error) {
	switch s.config.SessionBackend {
	case config.SessionSQLite:
		// os.MkdirAll creates the data directory if needed (like `mkdir -p`).
		if err := os.MkdirAll(filepath.Dir(s.config.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating session database directory: %w", err)
		}
		st, err := sqlitestore.New(s.config.DBPath, sessionCleanupInterval)
		if err != nil {
			return nil, fmt.Errorf("opening session database: %w", err)
		}
		s.closers = append(s.closers, st)
		return st, nil

	case config.SessionRedis:
		st, err := redisstore.New(s.config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connecting session redis: %w", err)
		}
		s.closers = append(s.closers, st)
		return st, nil

	case config.SessionMemory, "":
		return memstore.New(), nil

	default:
		return nil, fmt.Errorf("unknown session backend %q", s.config.SessionBackend)
	}
}

// openContentSource creates the article repository backend.
func (s *Server) openContentSource() (content.Source, error) {
	switch s.config.ContentBackend {
	case config.ContentGit:
		st, err := gitstore.Open(s.config.GitRepoDir)
		if err != nil {
			return nil, fmt.Errorf("opening git repository: %w", err)
		}
		return st, nil

	case config.ContentGitHub, "":
		return githubrepo.New(s.config.GitHubAPIBase, s.config.RepoOwner, s.config.RepoName), nil

	default:
		return nil, fmt.Errorf("unknown content backend %q", s.config.ContentBackend)
	}
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /                    → Article listing on master (HTML)
// GET    /login               → Login page
// GET    /faq                 → FAQ
// GET    /github_login        → Redirect to GitHub
// GET    /github/authorized   → OAuth callback
// GET    /logout              → Clear identity (login required)
// GET    /user/               → Profile (login required)
// GET    /write/*             → Editor, blank at /write/ (login required)
// GET    /review/*            → Read view, ?branch= (default master)
// POST   /save/               → Create, update or fork (login required)
// GET    /api/articles/*      → One article (JSON)
// GET    /healthz             → Liveness (JSON)
// GET    /static/*            → Static files (CSS, JS)
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID, RealIP, Recoverer (chi)
// 2. Logger, which reads the request id set by RequestID
// 3. Session LoadAndSave, so every handler sees its session and any change
//    is committed before the response goes out
func (s *Server) setupRoutes(store scs.Store, source content.Source) error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	// Static files are served outside the session middleware: no cookie
	// is needed to fetch CSS.
	fileServer := http.FileServer(http.Dir(s.config.StaticDir))
	s.router.Handle("/static/*", http.StripPrefix("/static/", fileServer))

	sessions := session.NewManager(store, session.Options{
		Lifetime: s.config.SessionLifetime,
		Secure:   s.config.CookieSecure,
	})

	states, err := auth.NewStateSigner(s.config.JWTSecret)
	if err != nil {
		return fmt.Errorf("creating state signer: %w", err)
	}
	provider := auth.NewGitHubProvider(
		s.config.GitHubClientID,
		s.config.GitHubClientSecret,
		s.config.GitHubCallbackURL,
		s.config.GitHubAPIBase,
	)

	render, err := handler.NewRenderer(s.config.TemplateDir, sessions, s.logger)
	if err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}

	articles := service.NewArticleService(source, s.logger)

	pages := handler.NewPageHandler(render, articles, s.config.IndexLimit, s.logger)
	authHandler := handler.NewAuthHandler(provider, states, sessions, render, s.logger)
	articleHandler := handler.NewArticleHandler(articles, provider, sessions, render, s.logger)

	s.router.Get("/healthz", pages.HandleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(sessions.LoadAndSave)

		r.Get("/", pages.HandleIndex)
		r.Get("/login", pages.HandleLogin)
		r.Get("/faq", pages.HandleFAQ)

		r.Get("/github_login", authHandler.HandleGitHubLogin)
		r.Get("/github/authorized", authHandler.HandleAuthorized)
		r.Get("/logout", authHandler.HandleLogout)
		r.Get("/user/", authHandler.HandleProfile)

		r.Get("/write/*", articleHandler.HandleWrite)
		r.Get("/review/*", articleHandler.HandleReview)
		r.Post("/save/", articleHandler.HandleSave)

		r.Get("/api/articles/*", articleHandler.HandleAPIArticle)
	})

	return nil
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the session store. It is safe to call more than once.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Close the session store (flushes SQLite WAL, drops Redis connections)
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second, // saves make several GitHub round trips
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("content_backend", s.config.ContentBackend),
			slog.String("session_backend", s.config.SessionBackend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
