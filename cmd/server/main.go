// Package main is the entry point for the user CRUD server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (APP_* environment variables)
// 2. Create dependencies (logger, database, token signer, optional integrations)
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/service, etc.).
//
// WHY cmd/server/?
// The cmd/ directory is a Go convention for executable entry points.
// Each executable gets its own directory with its own main.go.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sakif/crud-boilerplate/internal/auth"
	"github.com/sakif/crud-boilerplate/internal/config"
	"github.com/sakif/crud-boilerplate/internal/repository/postgres"
	"github.com/sakif/crud-boilerplate/internal/repository/sqlite"
	"github.com/sakif/crud-boilerplate/internal/server"
	"github.com/sakif/crud-boilerplate/internal/storage"
	"github.com/sakif/crud-boilerplate/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// === 1. READ CONFIGURATION ===
	// Every problem in the environment is reported at once, before anything
	// is opened.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// === 2. SET UP LOGGING ===
	// Text for humans in dev, JSON for log shippers everywhere else.
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	// === 3. TRACING ===
	// A no-op unless APP_OTEL_ENDPOINT is set.
	flush, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint, cfg.Environment)
	if err != nil {
		return err
	}

	// === 4. DATABASE ===
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// === 5. AUTH ===
	tokens, err := auth.NewTokenService(cfg.SecretKey, cfg.Algorithm, cfg.AccessTokenTTL)
	if err != nil {
		store.Close()
		return err
	}

	deps := server.Deps{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Tokens:    tokens,
		Passwords: auth.NewPasswordService(),
		Telemetry: flush,
	}

	// === 6. OPTIONAL INTEGRATIONS ===
	// Assigned only when enabled so the interfaces stay nil otherwise.
	if cfg.GitHubEnabled() {
		deps.GitHub = auth.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubCallbackURL)
	} else {
		logger.Info("GitHub login disabled (APP_GITHUB_CLIENT_ID not set)")
	}

	if cfg.StorageEnabled() {
		avatars, err := storage.New(ctx, storage.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			store.Close()
			return err
		}
		deps.Avatars = avatars
	} else {
		logger.Info("avatar uploads disabled (APP_DEFAULT_BUCKET not set)")
	}

	// === 7. CREATE THE SERVER ===
	srv, err := server.New(deps)
	if err != nil {
		store.Close()
		return fmt.Errorf("creating server: %w", err)
	}

	// === 8. SEED THE FIRST SUPERUSER ===
	if cfg.FirstSuperuserEmail != "" {
		seedCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		created, err := srv.Auth.EnsureSuperuser(seedCtx, srv.Users, cfg.FirstSuperuserEmail, cfg.FirstSuperuserPassword)
		cancel()
		if err != nil {
			store.Close()
			return fmt.Errorf("seeding superuser: %w", err)
		}
		if created {
			logger.Info("first superuser created", slog.String("email", cfg.FirstSuperuserEmail))
		}
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	return srv.Start()
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.IsDev() {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts)).
		With(slog.String("service", cfg.ServiceName))
}

// openStore picks the backend from APP_DATABASE_URL (or the APP_DB_* parts)
// and runs its migrations.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (server.Store, error) {
	backend, dsn, err := cfg.Database()
	if err != nil {
		return nil, err
	}

	switch backend {
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		logger.Info("database ready", slog.String("backend", backend))
		return db, nil

	default:
		// The data directory is created on first run (like `mkdir -p`).
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
			}
		}
		db, err := sqlite.New(dsn)
		if err != nil {
			return nil, err
		}
		logger.Info("database ready", slog.String("backend", backend), slog.String("path", dsn))
		return db, nil
	}
}
