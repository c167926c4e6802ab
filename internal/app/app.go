// Package app composes the relay server from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samber/do/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/nfrund/relay/internal/auth"
	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/database"
	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/handlers"
	"github.com/nfrund/relay/internal/presence"
	"github.com/nfrund/relay/internal/pubsub"
	"github.com/nfrund/relay/internal/realtime"
	"github.com/nfrund/relay/internal/rooms"
	"github.com/nfrund/relay/internal/server"
)

// App is the assembled server and everything it owns.
type App struct {
	injector *do.RootScope
	cfg      *config.Config
	logger   *slog.Logger
	version  string

	Server *server.Server
	Hub    *realtime.Hub
	Store  domain.Store
}

type tracing struct {
	tracer  trace.Tracer
	cleanup func()
}

// New builds the service graph. Nothing is listening until Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, version string) (*App, error) {
	i := do.New()
	do.ProvideValue(i, cfg)
	do.ProvideValue(i, logger)

	do.Provide(i, func(i do.Injector) (*tracing, error) {
		tracer, cleanup, err := pubsub.SetupOTel(ctx, cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("setup tracing: %w", err)
		}
		return &tracing{tracer: tracer, cleanup: cleanup}, nil
	})
	do.Provide(i, func(i do.Injector) (*pubsub.WatermillBridge, error) {
		t := do.MustInvoke[*tracing](i)
		if !cfg.Tracing.Enabled {
			return pubsub.NewWatermillBridge(), nil
		}
		return pubsub.NewWatermillBridgeWithTracer(t.tracer), nil
	})
	do.Provide(i, func(i do.Injector) (domain.Store, error) {
		return database.Open(ctx, cfg.Database(), logger.With("component", "store"))
	})
	do.Provide(i, func(i do.Injector) (*auth.Authenticator, error) {
		store := do.MustInvoke[domain.Store](i)
		return auth.NewAuthenticator([]byte(cfg.JWTSecret), store,
			auth.WithIssuer(cfg.JWTIssuer)), nil
	})
	do.Provide(i, func(i do.Injector) (*realtime.Hub, error) {
		bus := do.MustInvoke[*pubsub.WatermillBridge](i)
		store := do.MustInvoke[domain.Store](i)
		authn := do.MustInvoke[*auth.Authenticator](i)
		dir := presence.NewDirectory(
			presence.WithOfflineDebounce(cfg.OfflineDebounce),
			presence.WithPublisher(bus),
			presence.WithLogger(logger.With("component", "presence")),
		)
		return realtime.NewHub(authn, store, dir, rooms.NewRegistry(),
			realtime.WithSubscriber(bus),
			realtime.WithMembershipTimeout(cfg.MembershipTimeout),
			realtime.WithLogger(logger.With("component", "realtime")),
		), nil
	})
	do.Provide(i, func(i do.Injector) (*server.Server, error) {
		store := do.MustInvoke[domain.Store](i)
		health, _ := store.(handlers.Pinger)
		return server.New(server.Dependencies{
			Authenticator: do.MustInvoke[*auth.Authenticator](i),
			Hub:           do.MustInvoke[*realtime.Hub](i),
			Store:         store,
			Health:        health,
			Publisher:     do.MustInvoke[*pubsub.WatermillBridge](i),
		}, server.Options{
			SendBuffer:     cfg.SendBuffer,
			AllowedOrigins: cfg.AllowedOrigins,
			RateLimit:      cfg.RateLimit,
			Version:        version,
		}, logger), nil
	})

	srv, err := do.Invoke[*server.Server](i)
	if err != nil {
		return nil, err
	}
	return &App{
		injector: i,
		cfg:      cfg,
		logger:   logger,
		version:  version,
		Server:   srv,
		Hub:      do.MustInvoke[*realtime.Hub](i),
		Store:    do.MustInvoke[domain.Store](i),
	}, nil
}

// Run starts the hub and serves until ctx is cancelled, then tears
// everything down in reverse order.
func (a *App) Run(ctx context.Context) error {
	if err := a.Hub.Start(ctx); err != nil {
		return errors.Join(err, a.Close(context.Background()))
	}
	a.logger.Info("Relay started", "addr", a.cfg.HTTPAddr, "store", a.cfg.StoreDriver, "version", a.version)

	serveErr := a.Server.Start(ctx, a.cfg.HTTPAddr, a.cfg.ShutdownTimeout)
	closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, a.Close(closeCtx))
}

// Close stops the hub and releases the bus, the store and the tracer.
func (a *App) Close(ctx context.Context) error {
	a.Hub.Stop()

	var errs []error
	if bus, err := do.Invoke[*pubsub.WatermillBridge](a.injector); err == nil {
		if err := bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bus: %w", err))
		}
	}
	if err := a.Store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if t, err := do.Invoke[*tracing](a.injector); err == nil {
		t.cleanup()
	}
	a.logger.Info("Relay stopped")
	return errors.Join(errs...)
}
