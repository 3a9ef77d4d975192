// Package config loads the service configuration from APP_-prefixed
// environment variables.
//
// The result is a plain value built once in main and handed to
// constructors. Nothing reads the environment after startup.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/sakif/crud-boilerplate/internal/auth"
)

// Prefix is prepended to every variable name below: PORT is read from APP_PORT.
const Prefix = "APP_"

// Backend names returned by Config.Database.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	Host        string   `env:"HOST"         envDefault:"0.0.0.0"`
	Port        int      `env:"PORT"         envDefault:"8000"`
	Environment string   `env:"ENVIRONMENT"  envDefault:"dev"`
	LogLevel    string   `env:"LOG_LEVEL"    envDefault:"info"`
	APIPrefix   string   `env:"API_PREFIX"   envDefault:"/api"`
	CORSOrigins []string `env:"BACKEND_CORS_ORIGINS" envSeparator:","`

	// Token signing. SecretKey has no default: a missing key must stop the
	// process, not fall back to something guessable.
	SecretKey      string        `env:"SECRET_KEY"`
	Algorithm      string        `env:"ALGORITHM"                   envDefault:"HS256"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_EXPIRE"         envDefault:"192h"`

	// DatabaseURL is sqlite://<path> or postgres://... When DBHost is set
	// the DB_* parts win and assemble a postgres URL instead.
	DatabaseURL string `env:"DATABASE_URL" envDefault:"sqlite://data/app.db"`
	DBHost      string `env:"DB_HOST"`
	DBPort      int    `env:"DB_PORT" envDefault:"5432"`
	DBUser      string `env:"DB_USER"`
	DBPass      string `env:"DB_PASS"`
	DBBase      string `env:"DB_BASE"`

	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	GitHubCallbackURL  string `env:"GITHUB_CALLBACK_URL"`

	S3Bucket    string `env:"DEFAULT_BUCKET"`
	S3Region    string `env:"S3_REGION"     envDefault:"us-east-1"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	ServiceName  string `env:"SERVICE_NAME" envDefault:"crud-boilerplate"`

	FirstSuperuserEmail    string `env:"FIRST_SUPERUSER_EMAIL"`
	FirstSuperuserPassword string `env:"FIRST_SUPERUSER_PASSWORD"`
}

// Load reads the process environment and validates the result.
func Load() (Config, error) {
	return LoadFrom(envMap(os.Environ()))
}

// LoadFrom is Load over an explicit environment, for tests.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      Prefix,
		Environment: environ,
	}); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}

	cfg.APIPrefix = "/" + strings.Trim(cfg.APIPrefix, "/")
	if cfg.APIPrefix == "/" {
		cfg.APIPrefix = ""
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem at once, joined.
func (c Config) Validate() error {
	var errs []error

	if len(c.SecretKey) < auth.MinSecretLength {
		errs = append(errs, fmt.Errorf("%sSECRET_KEY must be at least %d characters", Prefix, auth.MinSecretLength))
	}
	if !auth.SupportedAlgorithm(c.Algorithm) {
		errs = append(errs, fmt.Errorf("%sALGORITHM %q is not supported", Prefix, c.Algorithm))
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("%sACCESS_TOKEN_EXPIRE must be positive", Prefix))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("%sPORT %d is out of range", Prefix, c.Port))
	}
	if _, _, err := c.Database(); err != nil {
		errs = append(errs, err)
	}
	if c.GitHubClientID != "" && (c.GitHubClientSecret == "" || c.GitHubCallbackURL == "") {
		errs = append(errs, fmt.Errorf("%sGITHUB_CLIENT_SECRET and %sGITHUB_CALLBACK_URL are required with %sGITHUB_CLIENT_ID", Prefix, Prefix, Prefix))
	}
	if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
		errs = append(errs, fmt.Errorf("%sS3_ACCESS_KEY and %sS3_SECRET_KEY must be set together", Prefix, Prefix))
	}
	if (c.FirstSuperuserEmail == "") != (c.FirstSuperuserPassword == "") {
		errs = append(errs, fmt.Errorf("%sFIRST_SUPERUSER_EMAIL and %sFIRST_SUPERUSER_PASSWORD must be set together", Prefix, Prefix))
	}

	return errors.Join(errs...)
}

// Addr is the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// IsDev reports whether the service runs in the dev environment.
func (c Config) IsDev() bool {
	return c.Environment == "dev"
}

func (c Config) GitHubEnabled() bool { return c.GitHubClientID != "" }

func (c Config) StorageEnabled() bool { return c.S3Bucket != "" }

// Database resolves the configured backend and its data source:
// (BackendSQLite, file path) or (BackendPostgres, postgres URL).
func (c Config) Database() (backend, dsn string, err error) {
	if c.DBHost != "" {
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(c.DBUser, c.DBPass),
			Host:   net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
			Path:   "/" + c.DBBase,
		}
		return BackendPostgres, u.String(), nil
	}

	scheme, rest, ok := strings.Cut(c.DatabaseURL, "://")
	if !ok {
		return "", "", fmt.Errorf("%sDATABASE_URL %q has no scheme", Prefix, c.DatabaseURL)
	}

	switch scheme {
	case "sqlite":
		if rest == "" {
			return "", "", fmt.Errorf("%sDATABASE_URL has an empty sqlite path", Prefix)
		}
		return BackendSQLite, rest, nil
	case "postgres", "postgresql":
		return BackendPostgres, c.DatabaseURL, nil
	}
	return "", "", fmt.Errorf("%sDATABASE_URL scheme %q is not supported", Prefix, scheme)
}

func envMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}
