// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects stores, services,
// handlers, middleware, and routes, and decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// cmd/server loads config.Config and calls New, which creates:
//
//	OpenStores → UserDirectory + SessionStore
//	           → Authenticator / ResetCoordinator / FederatedBridge
//	           → AuthHandler / ResetHandler / OAuthHandler
//
// This is the "composition root" pattern: all dependencies are wired in
// one place (New/setupRoutes), rather than scattered across the codebase.
package server

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
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/authcore/internal/auth"
	"github.com/sakif/authcore/internal/config"
	"github.com/sakif/authcore/internal/handler"
	"github.com/sakif/authcore/internal/metrics"
	"github.com/sakif/authcore/internal/middleware"
	"github.com/sakif/authcore/internal/notify"
	"github.com/sakif/authcore/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the store connections. They are closed after the HTTP
// server has drained, so in-flight requests never see a closed database.
type Server struct {
	router   *chi.Mux
	config   *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	stores   *Stores

	authn  *service.Authenticator
	reset  *service.ResetCoordinator
	bridge *service.FederatedBridge

	// janitor is nil unless the session store needs periodic pruning.
	janitor *service.Janitor
}

// New creates a new Server from cfg.
//
// Each layer only receives what it needs:
// - Services get repository interfaces (not the concrete sqlite.DB)
// - Handlers get small interfaces over the services
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	stores, err := OpenStores(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening stores: %w", err)
	}

	s, err := newServer(cfg, stores, logger)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}
	return s, nil
}

// newServer wires everything on top of already-open stores.
func newServer(cfg *config.Config, stores *Stores, logger *slog.Logger) (*Server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	hasher, err := auth.NewHasher(auth.HasherConfig{
		Algorithm:      cfg.Auth.Hasher,
		BcryptCost:     cfg.Auth.BcryptCost,
		AllowLegacyMD5: cfg.Auth.AllowLegacyMD5,
	}, logger)
	if err != nil {
		return nil, err
	}

	notifier, err := newNotifier(cfg.Mail, logger)
	if err != nil {
		return nil, err
	}

	authn := service.NewAuthenticator(stores.Users, stores.Sessions, hasher, m, logger)
	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		registry: registry,
		metrics:  m,
		stores:   stores,
		authn:    authn,
		reset: service.NewResetCoordinator(stores.Users, stores.Sessions, hasher, notifier,
			service.ResetConfig{BaseURL: cfg.Server.BaseURL, TokenTTL: cfg.Auth.ResetTokenTTL}, m, logger),
		bridge: service.NewFederatedBridge(stores.Users, authn, m, logger),
	}
	if stores.NeedsJanitor {
		s.janitor = service.NewJanitor(stores.Sessions, cfg.Sessions.PruneInterval, m, logger)
	}

	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// newNotifier picks how reset links leave the process.
func newNotifier(cfg config.MailConfig, logger *slog.Logger) (notify.Notifier, error) {
	switch cfg.Driver {
	case "", "log":
		return notify.NewLogNotifier(logger), nil
	case "smtp":
		return notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
			From:     cfg.From,
			TLS:      cfg.TLS,
		}, logger)
	}
	return nil, fmt.Errorf("unknown mail driver %q", cfg.Driver)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// POST   /api/register                 → Create account, open session
// POST   /api/login                    → Password login, open session
// POST   /api/logout                   → Destroy session
// GET    /api/user                     → Current user            [session]
// GET    /api/protected                → Demo protected resource [session]
// POST   /api/forgot-password          → Mail a reset link
// GET    /api/reset-password/{token}   → Is the link still valid?
// POST   /api/reset-password/{token}   → Set a new password
// GET    /auth/{provider}/login        → Start OAuth
// GET    /auth/{provider}/callback     → Finish OAuth
// GET    /healthz                      → Dependency health
// GET    /metrics                      → Prometheus scrape
//
// MIDDLEWARE ORDER MATTERS:
// Middleware executes in the order it's added. Our order:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Recoverer: catches panics and returns 500 instead of crashing
// 4. Logger and Metrics: one log line and one observation per request
// 5. CORS: lets the browser front-end send the session cookie
func (s *Server) setupRoutes() error {
	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics(s.metrics))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authHandler := handler.NewAuthHandler(s.authn, s.config.Server.CookieSecure, s.logger)
	resetHandler := handler.NewResetHandler(s.reset, s.logger)
	healthHandler := handler.NewHealthHandler(s.stores.Checks, s.logger)

	// Credential-guessing endpoints share one per-IP budget.
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerMinute: s.config.RateLimit.PerMinute,
		BurstSize:         s.config.RateLimit.Burst,
	}, s.metrics)

	// === API Routes ===
	s.router.Route("/api", func(r chi.Router) {
		r.With(limiter.Limit).Post("/register", authHandler.HandleRegister)
		r.With(limiter.Limit).Post("/login", authHandler.HandleLogin)
		r.Post("/logout", authHandler.HandleLogout)

		r.With(limiter.Limit).Post("/forgot-password", resetHandler.HandleForgotPassword)
		r.Get("/reset-password/{token}", resetHandler.HandleVerifyToken)
		r.With(limiter.Limit).Post("/reset-password/{token}", resetHandler.HandleResetPassword)

		// Routes that need a logged-in user
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireSession(s.authn))
			r.Get("/user", authHandler.HandleUser)
			r.Get("/protected", authHandler.HandleProtected)
		})
	})

	// === OAuth Routes ===
	// Only registered when at least one provider has credentials.
	if providers := s.providers(); len(providers) > 0 {
		signer, err := auth.NewStateSigner(s.config.Auth.StateSecret)
		if err != nil {
			return fmt.Errorf("creating state signer: %w", err)
		}
		oauthHandler := handler.NewOAuthHandler(handler.OAuthConfig{
			Providers:    providers,
			Signer:       signer,
			Store:        sessions.NewCookieStore([]byte(s.config.Server.CookieSecret)),
			CookieSecure: s.config.Server.CookieSecure,
		}, s.bridge, s.logger)

		s.router.Get("/auth/{provider}/login", oauthHandler.HandleLogin)
		s.router.Get("/auth/{provider}/callback", oauthHandler.HandleCallback)
	} else {
		s.logger.Warn("no OAuth provider configured; /auth routes are disabled")
	}

	// === Operational Routes ===
	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	return nil
}

// providers returns the OAuth providers that have credentials.
func (s *Server) providers() []auth.Provider {
	var out []auth.Provider

	google := auth.ProviderConfig{
		ClientID:     s.config.Auth.Google.ClientID,
		ClientSecret: s.config.Auth.Google.ClientSecret,
		CallbackURL:  s.config.Auth.Google.CallbackURL,
	}
	if google.Enabled() {
		out = append(out, auth.NewGoogleProvider(google))
	}

	github := auth.ProviderConfig{
		ClientID:     s.config.Auth.GitHub.ClientID,
		ClientSecret: s.config.Auth.GitHub.ClientSecret,
		CallbackURL:  s.config.Auth.GitHub.CallbackURL,
	}
	if github.Enabled() {
		out = append(out, auth.NewGitHubProvider(github))
	}

	return out
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (shutdown_timeout, 30s default)
// 3. Let pending reset e-mails finish (bounded by their delivery timeout)
// 4. Stop the session janitor
// 5. Close the stores (flushes SQLite WAL, drains the pg and redis pools)
func (s *Server) Start() error {
	// Ensure the stores are closed when the server stops.
	// This runs AFTER everything else in this function finishes.
	defer func() {
		if err := s.stores.Close(); err != nil {
			s.logger.Error("closing stores", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         s.config.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	// The janitor lives exactly as long as Start.
	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	if s.janitor != nil {
		go s.janitor.Run(bgCtx)
	}

	// Channel to receive OS signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	// Channel to receive server errors
	serverErrors := make(chan error, 1)

	// Start the server in a goroutine (so it doesn't block)
	go func() {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("url", s.config.Server.BaseURL),
			slog.String("storage", s.config.Storage.Driver),
			slog.String("sessions", s.config.Sessions.Driver),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		// Reset e-mails already accepted are still on their way.
		s.reset.Wait()
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

func (s *Server) shutdownTimeout() time.Duration {
	if d := s.config.Server.ShutdownTimeout; d > 0 {
		return d
	}
	return 30 * time.Second
}
