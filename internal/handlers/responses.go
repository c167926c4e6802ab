package handlers

import (
	"github.com/nfrund/relay/internal/domain"
)

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ChatResponse is a chat with its most recent messages.
type ChatResponse struct {
	domain.Chat
	Messages []domain.Message `json:"messages"`
}

// ChatListResponse wraps GET /api/chats.
type ChatListResponse struct {
	Chats []domain.Chat `json:"chats"`
}

// UserPresenceResponse reports one user's presence.
type UserPresenceResponse struct {
	UserID      string `json:"userId"`
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

// PresenceStatsResponse reports what the server currently holds.
type PresenceStatsResponse struct {
	OnlineUsers []string `json:"onlineUsers"`
	Users       int      `json:"users"`
	Connections int      `json:"connections"`
	Rooms       int      `json:"rooms"`
}

// chatChange is the update carried by chat-updated events.
type chatChange struct {
	Type    string       `json:"type"`
	ChatID  string       `json:"chatId"`
	UserID  string       `json:"userId,omitempty"`
	Chat    *domain.Chat `json:"chat,omitempty"`
	Deleted bool         `json:"deleted,omitempty"`
}

// chatNotice is the payload of the notification sent to an added user.
type chatNotice struct {
	Type     string `json:"type"`
	ChatID   string `json:"chatId"`
	ChatName string `json:"chatName"`
	AddedBy  string `json:"addedBy"`
}

const (
	changeParticipantAdded   = "participant-added"
	changeParticipantRemoved = "participant-removed"
	changeChatDeleted        = "chat-deleted"
	noticeAddedToChat        = "added-to-chat"
)
