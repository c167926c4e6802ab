package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nfrund/relay/internal/domain"
)

// Supported values for Config.Driver.
const (
	DriverSurreal = "surreal"
	DriverSQLite  = "sqlite"
)

// Config selects and configures a storage backend.
type Config struct {
	Driver string

	SurrealURL  string
	SurrealNS   string
	SurrealDB   string
	SurrealUser string
	SurrealPass string

	SQLitePath string

	// QueryTimeout bounds each store call. Zero means no extra bound.
	QueryTimeout time.Duration
}

// Open connects the configured backend and prepares its schema.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (domain.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Driver {
	case DriverSurreal, "":
		conn, err := Connect(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		store := NewSurrealStore(conn, cfg.QueryTimeout)
		if err := store.DefineSchema(ctx); err != nil {
			conn.Close(ctx)
			return nil, err
		}
		return store, nil
	case DriverSQLite:
		return OpenSQLite(cfg.SQLitePath, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
