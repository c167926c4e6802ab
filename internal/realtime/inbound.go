package realtime

import (
	"fmt"

	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/events"
	"github.com/nfrund/relay/internal/presence"
)

// HandleFrame decodes a client frame and applies it on behalf of conn.
// Server-only kinds and malformed frames are rejected with an error that
// the transport logs; the connection stays open.
func (h *Hub) HandleFrame(conn presence.Conn, frame []byte) error {
	e, err := events.Decode(frame)
	if err != nil {
		return err
	}
	if !e.Kind().Inbound() {
		return fmt.Errorf("%w: %s is not a client event", events.ErrUnknownKind, e.Kind())
	}
	return events.DispatchInbound(&inbound{hub: h, conn: conn}, e)
}

// inbound handles client events for a single connection.
type inbound struct {
	hub  *Hub
	conn presence.Conn
}

var _ events.InboundHandler = (*inbound)(nil)

func (in *inbound) JoinChat(e events.JoinChat) error {
	if err := in.checkChatID(e.ChatID); err != nil {
		return err
	}
	in.hub.JoinChat(in.conn.ID(), e.ChatID)
	return nil
}

func (in *inbound) LeaveChat(e events.LeaveChat) error {
	if err := in.checkChatID(e.ChatID); err != nil {
		return err
	}
	in.hub.LeaveChat(in.conn.ID(), e.ChatID)
	return nil
}

func (in *inbound) Typing(e events.Typing) error {
	if err := in.hub.validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	in.relayTyping(e.ChatID, events.UserTyping{
		UserID:   in.conn.UserID(),
		UserName: in.conn.UserName(),
		ChatID:   e.ChatID,
	})
	return nil
}

func (in *inbound) StopTyping(e events.StopTyping) error {
	if err := in.hub.validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	in.relayTyping(e.ChatID, events.UserStopTyping{
		UserID:   in.conn.UserID(),
		UserName: in.conn.UserName(),
		ChatID:   e.ChatID,
	})
	return nil
}

// relayTyping forwards to the room without echoing to the sender. Typing is
// only relayed to rooms the sending connection is subscribed to.
func (in *inbound) relayTyping(chatID string, e events.Event) {
	if !in.hub.rooms.IsMember(in.conn.ID(), chatID) {
		in.hub.logger.Debug("Typing ignored for unsubscribed room",
			"conn_id", in.conn.ID(),
			"chat_id", chatID)
		return
	}
	in.hub.BroadcastToRoom(chatID, e, in.conn.ID())
}

func (in *inbound) checkChatID(chatID string) error {
	if err := in.hub.validate.Var(chatID, "required,max=128"); err != nil {
		return fmt.Errorf("%w: chat id: %v", domain.ErrInvalidInput, err)
	}
	return nil
}
