package domain

import (
	"context"
	"slices"
	"time"
)

// Chat is a persisted conversation and its participant list.
type Chat struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Participants []string  `json:"participants"`
	CreatedBy    string    `json:"createdBy"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasParticipant reports whether userID belongs to the chat.
func (c *Chat) HasParticipant(userID string) bool {
	return slices.Contains(c.Participants, userID)
}

// Message is a persisted chat message.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	ChatID    string    `json:"chatId"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatRepository stores chats and their membership.
type ChatRepository interface {
	// ListChatIDsForUser is the membership snapshot read at admission.
	ListChatIDsForUser(ctx context.Context, userID string) ([]string, error)
	ListChatsForUser(ctx context.Context, userID string) ([]Chat, error)
	FindChat(ctx context.Context, chatID string) (*Chat, error)
	CreateChat(ctx context.Context, chat *Chat) (*Chat, error)
	AddParticipant(ctx context.Context, chatID, userID string) (*Chat, error)
	RemoveParticipant(ctx context.Context, chatID, userID string) (*Chat, error)
	DeleteChat(ctx context.Context, chatID string) error
}

// MessageRepository appends and lists messages. AppendMessage returns only
// after the message is durable.
type MessageRepository interface {
	AppendMessage(ctx context.Context, msg *Message) (*Message, error)
	ListMessages(ctx context.Context, chatID string, limit int) ([]Message, error)
}

// Store groups the repositories a backend provides.
type Store interface {
	UserRepository
	ChatRepository
	MessageRepository
	Close(ctx context.Context) error
}
