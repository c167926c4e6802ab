package realtime

import (
	"encoding/json"

	"github.com/nfrund/relay/internal/pubsub"
)

// ChatUpdate asks the hub to tell a chat room that the chat changed.
type ChatUpdate struct {
	ChatID string          `json:"chatId"`
	Update json.RawMessage `json:"update"`
}

// UserNotification asks the hub to push a payload to every connection of a user.
type UserNotification struct {
	UserID  string          `json:"userId"`
	Payload json.RawMessage `json:"payload"`
}

var (
	TopicChatUpdated  = pubsub.NewEvent[ChatUpdate]("chat.updated")
	TopicNotification = pubsub.NewEvent[UserNotification]("user.notification")
)
