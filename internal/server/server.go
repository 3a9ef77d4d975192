// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects handlers, middleware and
// routes, and decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// WHY SEPARATE FROM main.go?
// main.go decides WHICH implementations to use (SQLite or Postgres, S3 or
// nothing). This package only assembles them, so tests can build the exact
// production router over an in-memory database.
//
// DEPENDENCY INJECTION FLOW:
// main.go creates:
//
//	config.Config, *slog.Logger, Store (sqlite/postgres), TokenService,
//	PasswordService, optional GitHub provider, optional avatar store
//
// server.New() creates:
//
//	UserService, AuthService → UserHandler, AuthHandler, Gateway, HealthHandler
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes), rather than scattered across the codebase.
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
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sakif/crud-boilerplate/internal/auth"
	"github.com/sakif/crud-boilerplate/internal/config"
	"github.com/sakif/crud-boilerplate/internal/handler"
	"github.com/sakif/crud-boilerplate/internal/middleware"
	"github.com/sakif/crud-boilerplate/internal/repository"
	"github.com/sakif/crud-boilerplate/internal/service"
	"github.com/sakif/crud-boilerplate/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

// Store is what the server needs from a database backend. Both sqlite.DB and
// postgres.DB satisfy it.
type Store interface {
	repository.UserRepository
	handler.Pinger
	Close() error
}

// Deps holds everything main.go builds before the server exists.
//
// GitHub, Avatars and Telemetry are optional. Leave them nil (a nil
// interface, not a typed nil pointer) to disable the feature.
type Deps struct {
	Config    config.Config
	Logger    *slog.Logger
	Store     Store
	Tokens    *auth.TokenService
	Passwords *auth.PasswordService
	GitHub    handler.GitHubExchanger
	Avatars   handler.AvatarStore
	Telemetry telemetry.ShutdownFunc
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database handle and the tracer provider. Both are
// released in Start() once in-flight requests have drained.
type Server struct {
	handler http.Handler
	config  config.Config
	logger  *slog.Logger
	store   Store
	flush   telemetry.ShutdownFunc

	// Users is exposed for startup tasks such as seeding the first
	// superuser, which must go through the same validation as the API.
	Users *service.UserService
	Auth  *service.AuthService
}

// New assembles services, handlers and routes from deps.
//
// Each layer only receives what it needs:
// - Services get the repository interface (not the concrete DB)
// - Handlers get services (not the repository or DB)
func New(deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("server: store is required")
	}
	if deps.Tokens == nil || deps.Passwords == nil {
		return nil, errors.New("server: token and password services are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: deps.Config,
		logger: logger,
		store:  deps.Store,
		flush:  deps.Telemetry,
		Users:  service.NewUserService(deps.Store, deps.Passwords, logger),
		Auth:   service.NewAuthService(deps.Store, deps.Tokens, deps.Passwords, logger),
	}
	s.handler = s.setupRoutes(deps)

	return s, nil
}

// Handler returns the fully wrapped router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE (under {APIPrefix}/v1):
// GET    /health-check            → Liveness + database ping
// POST   /auth/access-token       → Password login (form)
// GET    /auth/github/login       → Redirect to GitHub
// GET    /auth/github/callback    → GitHub login for existing users
// POST   /users                   → Register
// GET    /users                   → List users              [bearer]
// GET    /users/me                → Current user            [bearer]
// PUT    /users/{id}              → Update a user           [bearer]
// PUT    /users/me/avatar         → Upload avatar           [bearer]
// GET    /users/email-list        → List emails             [bearer, superuser]
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns a unique ID to each request (logged with it)
// 2. RealIP: extracts the client IP from proxy headers
// 3. Recoverer: turns panics into 500 instead of crashing
// 4. Logger: logs each request with timing info
// 5. CORS: answers preflight requests before any auth runs
func (s *Server) setupRoutes(deps Deps) http.Handler {
	router := chi.NewRouter()

	// === Global Middleware ===
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(s.logger))

	if len(s.config.CORSOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// === Handlers ===
	healthHandler := handler.NewHealthHandler(deps.Store, s.logger)
	authHandler := handler.NewAuthHandler(s.Auth, deps.GitHub, s.logger)
	userHandler := handler.NewUserHandler(s.Users, deps.Avatars, s.logger)
	gateway := handler.NewGateway(s.Auth, s.logger)

	router.Route(s.config.APIPrefix+"/v1", func(r chi.Router) {
		r.Get("/health-check", healthHandler.HandleHealthCheck)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/access-token", authHandler.HandleAccessToken)
			r.Get("/github/login", authHandler.HandleGitHubLogin)
			r.Get("/github/callback", authHandler.HandleGitHubCallback)
		})

		r.Route("/users", func(r chi.Router) {
			// Registration is open.
			r.Post("/", userHandler.HandleCreate)

			// === Protected Routes ===
			// RequireAuth proves the token; RequireUser loads the account
			// and rejects deleted or inactive users.
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuth(deps.Tokens))
				r.Use(gateway.RequireUser)

				r.Get("/", userHandler.HandleList)
				r.Get("/me", userHandler.HandleMe)
				r.Put("/me/avatar", userHandler.HandleAvatar)
				r.Put("/{id}", userHandler.HandleUpdate)

				r.With(gateway.RequireSuperuser).Get("/email-list", userHandler.HandleEmailList)
			})
		})
	})

	// otelhttp sits outermost so the span covers the whole chain. With no
	// tracer provider registered it records nothing.
	return otelhttp.NewHandler(router, s.config.ServiceName,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Flush pending trace spans
// 4. Close the database connection
func (s *Server) Start() error {
	defer s.close()

	srv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("api_prefix", s.config.APIPrefix+"/v1"),
			slog.String("environment", s.config.Environment),
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

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

func (s *Server) close() {
	if s.flush != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.flush(ctx); err != nil {
			s.logger.Warn("flushing traces", slog.String("error", err.Error()))
		}
		cancel()
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("closing database", slog.String("error", err.Error()))
	}
}
