package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/database"
	"github.com/nfrund/relay/internal/pubsub"
)

func testConfig() *config.Config {
	return &config.Config{
		HTTPAddr:          "127.0.0.1:0",
		JWTSecret:         "app-test-secret-app-test-secret-app",
		JWTIssuer:         "relay",
		TokenTTL:          time.Hour,
		StoreDriver:       database.DriverSQLite,
		SQLitePath:        ":memory:",
		SendBuffer:        16,
		MembershipTimeout: time.Second,
		RateLimit:         100,
		ShutdownTimeout:   time.Second,
		Tracing:           pubsub.DefaultTracingConfig(),
	}
}

func TestNew_WiresServer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(context.Background(), testConfig(), logger, "test")
	require.NoError(t, err)
	defer a.Close(context.Background())

	require.NotNil(t, a.Server)
	require.NotNil(t, a.Hub)

	rec := httptest.NewRecorder()
	a.Server.E.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.Server.E.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chats", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNew_UnknownDriverFails(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = "mongo"
	_, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), "test")
	assert.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	a, err := New(context.Background(), testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), "test")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
