package presence

import "github.com/nfrund/relay/internal/events"

// Conn is a live, authenticated connection. The transport owns the socket;
// the directory only indexes it.
type Conn interface {
	ID() string
	UserID() string
	UserName() string
	// Send queues an envelope for delivery. It must not block; a full or
	// closed queue is reported as an error.
	Send(env events.Envelope) error
	// Close ends the connection with a human-readable reason.
	Close(reason string)
}
