// Package events defines the closed set of realtime events exchanged over a
// chat socket and the JSON envelope that carries them.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind names an event on the wire.
type Kind string

const (
	// Client to server.
	KindJoinChat   Kind = "join-chat"
	KindLeaveChat  Kind = "leave-chat"
	KindTyping     Kind = "typing"
	KindStopTyping Kind = "stop-typing"

	// Server to client.
	KindNewMessage       Kind = "new-message"
	KindUserTyping       Kind = "user-typing"
	KindUserStopTyping   Kind = "user-stop-typing"
	KindChatUpdated      Kind = "chat-updated"
	KindNotification     Kind = "notification"
	KindUserStatusChange Kind = "user-status-change"

	// Connection lifecycle, server to client.
	KindConnected Kind = "connected"
	KindAuthError Kind = "auth-error"
)

var (
	// ErrUnknownKind is returned when decoding an envelope whose kind is not
	// part of the vocabulary.
	ErrUnknownKind = errors.New("unknown event kind")
	// ErrMalformed is returned when an envelope or its payload cannot be parsed.
	ErrMalformed = errors.New("malformed event")
)

// Envelope is the frame written to and read from the socket.
type Envelope struct {
	Event Kind            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is implemented only by the payload types in this package.
type Event interface {
	Kind() Kind
	isEvent()
}

// JoinChat asks the server to subscribe the sending connection to a chat room.
// It travels as a bare string.
type JoinChat struct {
	ChatID string
}

// LeaveChat asks the server to unsubscribe the sending connection.
type LeaveChat struct {
	ChatID string
}

type Typing struct {
	ChatID string `json:"chatId" validate:"required"`
}

type StopTyping struct {
	ChatID string `json:"chatId" validate:"required"`
}

// Message mirrors a persisted chat message as it is sent to clients.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	ChatID    string    `json:"chatId"`
	CreatedAt time.Time `json:"createdAt"`
}

type NewMessage struct {
	ChatID  string  `json:"chatId"`
	Message Message `json:"message"`
}

// UserTyping is relayed to a room when one of its members starts typing.
type UserTyping struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	ChatID   string `json:"chatId"`
}

type UserStopTyping struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	ChatID   string `json:"chatId"`
}

// ChatUpdated carries a free-form description of a change to a chat, such as
// a participant being added or removed.
type ChatUpdated struct {
	ChatID string          `json:"chatId"`
	Update json.RawMessage `json:"update"`
}

// Notification is an arbitrary payload addressed to a single user.
type Notification struct {
	Payload json.RawMessage
}

type UserStatusChange struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// Connected is the first frame on an admitted connection. Degraded is set when
// the membership snapshot could not be read and no rooms were joined.
type Connected struct {
	ConnectionID string   `json:"connectionId"`
	UserID       string   `json:"userId"`
	Rooms        []string `json:"rooms"`
	Degraded     bool     `json:"degraded"`
}

// AuthError is written before a refused handshake is closed.
type AuthError struct {
	Message string `json:"message"`
}

func (JoinChat) Kind() Kind         { return KindJoinChat }
func (LeaveChat) Kind() Kind        { return KindLeaveChat }
func (Typing) Kind() Kind           { return KindTyping }
func (StopTyping) Kind() Kind       { return KindStopTyping }
func (NewMessage) Kind() Kind       { return KindNewMessage }
func (UserTyping) Kind() Kind       { return KindUserTyping }
func (UserStopTyping) Kind() Kind   { return KindUserStopTyping }
func (ChatUpdated) Kind() Kind      { return KindChatUpdated }
func (Notification) Kind() Kind     { return KindNotification }
func (UserStatusChange) Kind() Kind { return KindUserStatusChange }
func (Connected) Kind() Kind        { return KindConnected }
func (AuthError) Kind() Kind        { return KindAuthError }

func (JoinChat) isEvent()         {}
func (LeaveChat) isEvent()        {}
func (Typing) isEvent()           {}
func (StopTyping) isEvent()       {}
func (NewMessage) isEvent()       {}
func (UserTyping) isEvent()       {}
func (UserStopTyping) isEvent()   {}
func (ChatUpdated) isEvent()      {}
func (Notification) isEvent()     {}
func (UserStatusChange) isEvent() {}
func (Connected) isEvent()        {}
func (AuthError) isEvent()        {}

// Inbound reports whether k is sent by clients.
func (k Kind) Inbound() bool {
	switch k {
	case KindJoinChat, KindLeaveChat, KindTyping, KindStopTyping:
		return true
	}
	return false
}

// Wrap encodes an event into an envelope.
func Wrap(e Event) (Envelope, error) {
	var (
		data []byte
		err  error
	)
	switch v := e.(type) {
	case JoinChat:
		data, err = json.Marshal(v.ChatID)
	case LeaveChat:
		data, err = json.Marshal(v.ChatID)
	case Notification:
		data = v.Payload
		if len(data) == 0 {
			data = []byte("null")
		}
	default:
		data, err = json.Marshal(e)
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", e.Kind(), err)
	}
	return Envelope{Event: e.Kind(), Data: data}, nil
}

// Encode wraps an event and marshals the envelope to a frame.
func Encode(e Event) ([]byte, error) {
	env, err := Wrap(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode parses a frame into its typed event.
func Decode(frame []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Unwrap(env)
}

// Unwrap converts an envelope into its typed event.
func Unwrap(env Envelope) (Event, error) {
	switch env.Event {
	case KindJoinChat:
		id, err := decodeChatID(env)
		return JoinChat{ChatID: id}, err
	case KindLeaveChat:
		id, err := decodeChatID(env)
		return LeaveChat{ChatID: id}, err
	case KindTyping:
		return decodeInto[Typing](env)
	case KindStopTyping:
		return decodeInto[StopTyping](env)
	case KindNewMessage:
		return decodeInto[NewMessage](env)
	case KindUserTyping:
		return decodeInto[UserTyping](env)
	case KindUserStopTyping:
		return decodeInto[UserStopTyping](env)
	case KindChatUpdated:
		return decodeInto[ChatUpdated](env)
	case KindNotification:
		return Notification{Payload: append(json.RawMessage(nil), env.Data...)}, nil
	case KindUserStatusChange:
		return decodeInto[UserStatusChange](env)
	case KindConnected:
		return decodeInto[Connected](env)
	case KindAuthError:
		return decodeInto[AuthError](env)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Event)
}

func decodeInto[T Event](env Envelope) (Event, error) {
	var v T
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: %s has no data", ErrMalformed, env.Event)
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Event, err)
	}
	return v, nil
}

// decodeChatID accepts the bare string form and, for older clients, an
// object carrying chatId.
func decodeChatID(env Envelope) (string, error) {
	var id string
	if err := json.Unmarshal(env.Data, &id); err == nil {
		if id == "" {
			return "", fmt.Errorf("%w: %s with empty chat id", ErrMalformed, env.Event)
		}
		return id, nil
	}
	var obj struct {
		ChatID string `json:"chatId"`
	}
	if err := json.Unmarshal(env.Data, &obj); err != nil || obj.ChatID == "" {
		return "", fmt.Errorf("%w: %s requires a chat id", ErrMalformed, env.Event)
	}
	return obj.ChatID, nil
}
