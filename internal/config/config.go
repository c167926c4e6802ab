package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"

	"github.com/nfrund/relay/internal/database"
	"github.com/nfrund/relay/internal/pubsub"
)

const minSecretLen = 32

// Config holds all configuration for the relay server.
type Config struct {
	HTTPAddr       string        `env:"RELAY_HTTP_ADDR" envDefault:":8080"`
	AllowedOrigins []string      `env:"RELAY_ALLOWED_ORIGINS" envSeparator:","`
	JWTSecret      string        `env:"RELAY_JWT_SECRET"`
	JWTSecretFile  string        `env:"RELAY_JWT_SECRET_FILE"`
	JWTIssuer      string        `env:"RELAY_JWT_ISSUER" envDefault:"relay"`
	TokenTTL       time.Duration `env:"RELAY_TOKEN_TTL" envDefault:"24h"`

	StoreDriver  string        `env:"RELAY_STORE_DRIVER" envDefault:"surreal"`
	SQLitePath   string        `env:"RELAY_SQLITE_PATH" envDefault:"relay.db"`
	QueryTimeout time.Duration `env:"RELAY_QUERY_TIMEOUT" envDefault:"5s"`

	DBURL  string `env:"SURREAL_URL"`
	DBNs   string `env:"SURREAL_NS"`
	DBDb   string `env:"SURREAL_DB"`
	DBUser string `env:"SURREAL_USER"`
	DBPass string `env:"SURREAL_PASS"`

	SendBuffer        int           `env:"RELAY_SEND_BUFFER" envDefault:"256"`
	OfflineDebounce   time.Duration `env:"RELAY_OFFLINE_DEBOUNCE" envDefault:"5s"`
	MembershipTimeout time.Duration `env:"RELAY_MEMBERSHIP_TIMEOUT" envDefault:"5s"`
	RateLimit         float64       `env:"RELAY_RATE_LIMIT" envDefault:"20"`
	ShutdownTimeout   time.Duration `env:"RELAY_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	Tracing pubsub.TracingConfig
}

// Load reads an optional .env file, then the environment, then resolves the
// JWT secret file through fs. Missing or invalid settings are reported as a
// single joined error.
func Load(fs afero.Fs) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}

	cfg := &Config{Tracing: pubsub.DefaultTracingConfig()}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.JWTSecretFile != "" {
		raw, err := afero.ReadFile(fs, cfg.JWTSecretFile)
		if err != nil {
			return nil, fmt.Errorf("read jwt secret file: %w", err)
		}
		cfg.JWTSecret = strings.TrimSpace(string(raw))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if len(c.JWTSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("RELAY_JWT_SECRET must be at least %d bytes", minSecretLen))
	}
	switch c.StoreDriver {
	case database.DriverSurreal:
		if c.DBURL == "" || c.DBNs == "" || c.DBDb == "" {
			errs = append(errs, errors.New("SURREAL_URL, SURREAL_NS and SURREAL_DB are required for the surreal store"))
		}
	case database.DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("RELAY_SQLITE_PATH is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("RELAY_STORE_DRIVER %q is not one of surreal, sqlite", c.StoreDriver))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("RELAY_SEND_BUFFER must be positive"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("RELAY_TOKEN_TTL must be positive"))
	}
	return errors.Join(errs...)
}

// Database returns the storage settings.
func (c *Config) Database() database.Config {
	return database.Config{
		Driver:       c.StoreDriver,
		SurrealURL:   c.DBURL,
		SurrealNS:    c.DBNs,
		SurrealDB:    c.DBDb,
		SurrealUser:  c.DBUser,
		SurrealPass:  c.DBPass,
		SQLitePath:   c.SQLitePath,
		QueryTimeout: c.QueryTimeout,
	}
}
