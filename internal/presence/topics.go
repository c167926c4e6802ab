package presence

import (
	"time"

	"github.com/nfrund/relay/internal/pubsub"
)

// StatusChange is published when a user's first connection opens or their
// last connection closes (after the offline debounce).
type StatusChange struct {
	UserID    string    `json:"userId"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// TopicUserStatus carries StatusChange events on the bus.
var TopicUserStatus = pubsub.NewEvent[StatusChange]("presence.user.status")
