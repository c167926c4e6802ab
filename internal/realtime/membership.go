package realtime

import (
	"context"
	"fmt"

	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/events"
	"github.com/nfrund/relay/internal/presence"
)

// Admission describes what Admit did for a connection.
type Admission struct {
	Rooms []string
	// Degraded is set when the membership read failed and no rooms were joined.
	Degraded bool
}

// Authenticate verifies a handshake token. Nothing is registered on failure.
func (h *Hub) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	return h.auth.Authenticate(ctx, token)
}

// Admit registers an authenticated connection, subscribes it to the rooms of
// every chat its user belongs to at this instant, and sends it a connected
// frame. A failed membership read still admits the connection, flagged as
// degraded.
func (h *Hub) Admit(ctx context.Context, conn presence.Conn) (Admission, error) {
	if h.isStopped() {
		return Admission{}, ErrHubStopped
	}
	log := h.logger.With("conn_id", conn.ID(), "user_id", conn.UserID())

	if !h.presence.Register(conn) {
		return Admission{}, fmt.Errorf("connection %s already admitted", conn.ID())
	}
	h.rooms.Attach(conn.ID())

	var adm Admission
	fetchCtx, cancel := context.WithTimeout(ctx, h.membershipTimeout)
	chatIDs, err := h.membership.ListChatIDsForUser(fetchCtx, conn.UserID())
	cancel()
	if err != nil {
		log.Warn("Membership fetch failed, admitting without rooms", "error", err)
		adm.Degraded = true
	} else {
		for _, chatID := range chatIDs {
			h.rooms.Join(conn.ID(), chatID)
		}
	}
	adm.Rooms = h.rooms.RoomsOf(conn.ID())

	h.sendTo(conn, events.Connected{
		ConnectionID: conn.ID(),
		UserID:       conn.UserID(),
		Rooms:        adm.Rooms,
		Degraded:     adm.Degraded,
	})
	log.Info("Connection admitted", "rooms", len(adm.Rooms), "degraded", adm.Degraded)
	return adm, nil
}

// Disconnect removes the connection from every room and then from the
// presence directory. Calling it again is a no-op.
func (h *Hub) Disconnect(connID string) {
	left := h.rooms.LeaveAll(connID)
	conn, ok := h.presence.Unregister(connID)
	if !ok {
		return
	}
	h.logger.Info("Connection disconnected",
		"conn_id", connID,
		"user_id", conn.UserID(),
		"rooms_left", len(left))
}

// JoinChat subscribes one connection to a chat room. Membership is not
// re-checked: the subscription scopes delivery, while the REST layer decides
// who may write.
func (h *Hub) JoinChat(connID, chatID string) bool {
	joined := h.rooms.Join(connID, chatID)
	if joined {
		h.logger.Debug("Joined chat", "conn_id", connID, "chat_id", chatID)
	}
	return joined
}

// LeaveChat unsubscribes one connection from a chat room.
func (h *Hub) LeaveChat(connID, chatID string) bool {
	left := h.rooms.Leave(connID, chatID)
	if left {
		h.logger.Debug("Left chat", "conn_id", connID, "chat_id", chatID)
	}
	return left
}
