package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/relay/internal/presence"
	"github.com/nfrund/relay/internal/realtime"
)

// PresenceSource answers presence queries.
type PresenceSource interface {
	IsOnline(userID string) bool
	ConnectionsOf(userID string) []presence.Conn
	OnlineUsers() []string
}

// StatsSource reports hub-wide counts.
type StatsSource interface {
	Stats() realtime.Stats
}

// PresenceHandler handles presence-related HTTP requests.
type PresenceHandler struct {
	presence PresenceSource
	stats    StatsSource
}

// NewPresenceHandler creates a new presence handler.
func NewPresenceHandler(p PresenceSource, stats StatsSource) *PresenceHandler {
	return &PresenceHandler{presence: p, stats: stats}
}

// GetUserPresence returns whether a user currently has a live connection.
func (h *PresenceHandler) GetUserPresence(c echo.Context) error {
	userID := c.Param("id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id required")
	}
	resp := UserPresenceResponse{UserID: userID, Status: string(presence.StatusOffline)}
	if h.presence.IsOnline(userID) {
		resp.Status = string(presence.StatusOnline)
		resp.Connections = len(h.presence.ConnectionsOf(userID))
	}
	return c.JSON(http.StatusOK, resp)
}

// GetPresence returns the online users and connection counts.
func (h *PresenceHandler) GetPresence(c echo.Context) error {
	stats := h.stats.Stats()
	online := h.presence.OnlineUsers()
	if online == nil {
		online = []string{}
	}
	return c.JSON(http.StatusOK, PresenceStatsResponse{
		OnlineUsers: online,
		Users:       stats.Users,
		Connections: stats.Connections,
		Rooms:       stats.Rooms,
	})
}
