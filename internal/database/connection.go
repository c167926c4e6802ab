package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/surrealdb/surrealdb.go"
)

const connectAttempts = 5

// Connect dials SurrealDB, signs in and selects the namespace and database.
// Dial failures are retried with exponential backoff; credential and
// namespace errors are returned immediately.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*surrealdb.DB, error) {
	if cfg.SurrealURL == "" || cfg.SurrealNS == "" || cfg.SurrealDB == "" {
		return nil, errors.New("surreal url, namespace and database are required")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	db, err := backoff.Retry(ctx, func() (*surrealdb.DB, error) {
		return dial(ctx, cfg, logger)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(connectAttempts),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.WarnContext(ctx, "Database connect failed, retrying",
				"db_url", redactDBURL(cfg.SurrealURL), "retry_in", d, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "Database connection established",
		"db_url", redactDBURL(cfg.SurrealURL), "namespace", cfg.SurrealNS, "database", cfg.SurrealDB)
	return db, nil
}

func dial(ctx context.Context, cfg Config, logger *slog.Logger) (*surrealdb.DB, error) {
	conn, err := surrealdb.FromEndpointURLString(ctx, cfg.SurrealURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database at %s: %w", redactDBURL(cfg.SurrealURL), err)
	}

	auth := &surrealdb.Auth{Username: cfg.SurrealUser, Password: cfg.SurrealPass}
	if _, err := conn.SignIn(ctx, auth); err != nil {
		conn.Close(ctx)
		logger.ErrorContext(ctx, "Failed to sign in to database", "user", cfg.SurrealUser, "error", err)
		return nil, wrapPermanent(fmt.Errorf("failed to sign in: %w", err))
	}

	if err := conn.Use(ctx, cfg.SurrealNS, cfg.SurrealDB); err != nil {
		conn.Close(ctx)
		return nil, wrapPermanent(fmt.Errorf("failed to use namespace/db: %w", err))
	}
	return conn, nil
}

func wrapPermanent(err error) error {
	if isConnectionError(err) {
		return err
	}
	return backoff.Permanent(err)
}

// isConnectionError reports whether err looks like a lost or refused connection
// rather than an application-level failure.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "unexpected eof")
}

// redactDBURL returns the URL with any password replaced.
func redactDBURL(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "invalid-url"
	}
	return u.Redacted()
}
