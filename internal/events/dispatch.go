package events

import "fmt"

// InboundHandler handles every event a client may send. Adding an inbound
// kind means adding a method here, so implementations stop compiling until
// they handle it.
type InboundHandler interface {
	JoinChat(JoinChat) error
	LeaveChat(LeaveChat) error
	Typing(Typing) error
	StopTyping(StopTyping) error
}

// OutboundHandler handles every event a server may send.
type OutboundHandler interface {
	NewMessage(NewMessage)
	UserTyping(UserTyping)
	UserStopTyping(UserStopTyping)
	ChatUpdated(ChatUpdated)
	Notification(Notification)
	UserStatusChange(UserStatusChange)
	Connected(Connected)
	AuthError(AuthError)
}

// DispatchInbound routes a client event to its handler method.
func DispatchInbound(h InboundHandler, e Event) error {
	switch v := e.(type) {
	case JoinChat:
		return h.JoinChat(v)
	case LeaveChat:
		return h.LeaveChat(v)
	case Typing:
		return h.Typing(v)
	case StopTyping:
		return h.StopTyping(v)
	}
	return fmt.Errorf("%w: %s is not a client event", ErrUnknownKind, e.Kind())
}

// DispatchOutbound routes a server event to its handler method.
func DispatchOutbound(h OutboundHandler, e Event) error {
	switch v := e.(type) {
	case NewMessage:
		h.NewMessage(v)
	case UserTyping:
		h.UserTyping(v)
	case UserStopTyping:
		h.UserStopTyping(v)
	case ChatUpdated:
		h.ChatUpdated(v)
	case Notification:
		h.Notification(v)
	case UserStatusChange:
		h.UserStatusChange(v)
	case Connected:
		h.Connected(v)
	case AuthError:
		h.AuthError(v)
	default:
		return fmt.Errorf("%w: %s is not a server event", ErrUnknownKind, e.Kind())
	}
	return nil
}
