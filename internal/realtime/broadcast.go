package realtime

import (
	"slices"

	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/events"
	"github.com/nfrund/relay/internal/presence"
)

// BroadcastToRoom pushes e to every connection subscribed to chatID, except
// the listed connection ids. It returns the number of connections the event
// was queued for. Failed pushes are logged and dropped.
func (h *Hub) BroadcastToRoom(chatID string, e events.Event, except ...string) int {
	env, ok := h.wrap(e)
	if !ok {
		return 0
	}
	delivered := 0
	for _, connID := range h.rooms.MembersOf(chatID) {
		if slices.Contains(except, connID) {
			continue
		}
		conn, found := h.presence.Lookup(connID)
		if !found {
			// Disconnected between the room lookup and now.
			continue
		}
		if h.push(conn, env) {
			delivered++
		}
	}
	return delivered
}

// BroadcastToUser pushes e to every connection of userID.
func (h *Hub) BroadcastToUser(userID string, e events.Event) int {
	env, ok := h.wrap(e)
	if !ok {
		return 0
	}
	delivered := 0
	for _, conn := range h.presence.ConnectionsOf(userID) {
		if h.push(conn, env) {
			delivered++
		}
	}
	return delivered
}

// BroadcastGlobal pushes e to every connection. It is used for presence
// status changes only.
func (h *Hub) BroadcastGlobal(e events.Event) int {
	env, ok := h.wrap(e)
	if !ok {
		return 0
	}
	delivered := 0
	for _, conn := range h.presence.All() {
		if h.push(conn, env) {
			delivered++
		}
	}
	return delivered
}

// BroadcastMessage announces a persisted message to its chat room. Callers
// must only invoke it after the message has been committed.
func (h *Hub) BroadcastMessage(chatID string, msg domain.Message) int {
	return h.BroadcastToRoom(chatID, events.NewMessage{
		ChatID: chatID,
		Message: events.Message{
			ID:        msg.ID,
			Content:   msg.Content,
			Sender:    msg.Sender,
			ChatID:    msg.ChatID,
			CreatedAt: msg.CreatedAt,
		},
	})
}

func (h *Hub) sendTo(conn presence.Conn, e events.Event) bool {
	env, ok := h.wrap(e)
	if !ok {
		return false
	}
	return h.push(conn, env)
}

func (h *Hub) wrap(e events.Event) (events.Envelope, bool) {
	env, err := events.Wrap(e)
	if err != nil {
		h.logger.Error("Failed to encode event", "event", e.Kind(), "error", err)
		return events.Envelope{}, false
	}
	return env, true
}

func (h *Hub) push(conn presence.Conn, env events.Envelope) bool {
	if err := conn.Send(env); err != nil {
		h.logger.Warn("Dropping event for connection",
			"event", env.Event,
			"conn_id", conn.ID(),
			"user_id", conn.UserID(),
			"error", err)
		return false
	}
	return true
}
