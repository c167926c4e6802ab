package client

import "github.com/nfrund/relay/internal/events"

// NopListener ignores every event. Embed it to implement only the callbacks
// you need.
type NopListener struct{}

func (NopListener) NewMessage(events.NewMessage)             {}
func (NopListener) UserTyping(events.UserTyping)             {}
func (NopListener) UserStopTyping(events.UserStopTyping)     {}
func (NopListener) ChatUpdated(events.ChatUpdated)           {}
func (NopListener) Notification(events.Notification)         {}
func (NopListener) UserStatusChange(events.UserStatusChange) {}
func (NopListener) Connected(events.Connected)               {}
func (NopListener) AuthError(events.AuthError)               {}

// inbox applies server events to the manager's local state before handing
// them to the listener.
type inbox struct {
	m *Manager
}

var _ events.OutboundHandler = (*inbox)(nil)

func (in *inbox) NewMessage(e events.NewMessage) {
	m := in.m
	m.mu.Lock()
	if !m.seen.add(e.Message.ID) {
		m.mu.Unlock()
		m.logger.Debug("Dropping duplicate message", "message_id", e.Message.ID, "chat_id", e.ChatID)
		return
	}
	m.appendLocked(e.ChatID, e.Message)
	m.mu.Unlock()
	m.listener.NewMessage(e)
}

func (in *inbox) UserTyping(e events.UserTyping) {
	m := in.m
	m.mu.Lock()
	if e.ChatID == m.activeChat {
		m.typing[e.UserName] = struct{}{}
	}
	m.mu.Unlock()
	m.listener.UserTyping(e)
}

func (in *inbox) UserStopTyping(e events.UserStopTyping) {
	m := in.m
	m.mu.Lock()
	if e.ChatID == m.activeChat {
		delete(m.typing, e.UserName)
	}
	m.mu.Unlock()
	m.listener.UserStopTyping(e)
}

func (in *inbox) ChatUpdated(e events.ChatUpdated)           { in.m.listener.ChatUpdated(e) }
func (in *inbox) Notification(e events.Notification)         { in.m.listener.Notification(e) }
func (in *inbox) UserStatusChange(e events.UserStatusChange) { in.m.listener.UserStatusChange(e) }
func (in *inbox) Connected(e events.Connected)               { in.m.listener.Connected(e) }
func (in *inbox) AuthError(e events.AuthError)               { in.m.listener.AuthError(e) }
