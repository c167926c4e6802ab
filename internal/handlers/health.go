package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/relay/internal/middleware"
)

// Pinger checks a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness and store readiness.
type HealthHandler struct {
	store   Pinger
	version string
}

func NewHealthHandler(store Pinger, version string) *HealthHandler {
	return &HealthHandler{store: store, version: version}
}

// Live always answers ok while the process serves requests.
func (h *HealthHandler) Live(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

// Ready checks the store.
func (h *HealthHandler) Ready(c echo.Context) error {
	if h.store == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		middleware.FromContext(ctx).Warn("Readiness check failed", "error", err)
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "store_unavailable", Message: "store unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
