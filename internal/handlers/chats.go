package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/middleware"
	"github.com/nfrund/relay/internal/pubsub"
	"github.com/nfrund/relay/internal/realtime"
)

// ChatStore is what the chat API needs from persistence.
type ChatStore interface {
	domain.ChatRepository
	domain.MessageRepository
}

// MessageBroadcaster delivers a persisted message to the chat's room.
type MessageBroadcaster interface {
	BroadcastMessage(chatID string, msg domain.Message) int
}

// ChatHandler serves the chat REST API.
type ChatHandler struct {
	store        ChatStore
	broadcaster  MessageBroadcaster
	publisher    pubsub.Publisher
	historyLimit int
}

// NewChatHandler creates a chat handler. historyLimit bounds the messages
// returned with a chat when the request does not ask for fewer.
func NewChatHandler(store ChatStore, broadcaster MessageBroadcaster, publisher pubsub.Publisher, historyLimit int) *ChatHandler {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &ChatHandler{store: store, broadcaster: broadcaster, publisher: publisher, historyLimit: historyLimit}
}

// ListChats returns the caller's chats, most recently active first.
func (h *ChatHandler) ListChats(c echo.Context) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	chats, err := h.store.ListChatsForUser(c.Request().Context(), user.ID)
	if err != nil {
		return h.fail(c, err)
	}
	if chats == nil {
		chats = []domain.Chat{}
	}
	return c.JSON(http.StatusOK, ChatListResponse{Chats: chats})
}

// CreateChat creates a chat with the caller as its first participant.
func (h *ChatHandler) CreateChat(c echo.Context) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	var req CreateChatRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	chat, err := h.store.CreateChat(c.Request().Context(), &domain.Chat{
		Name:         req.Name,
		CreatedBy:    user.ID,
		Participants: req.Participants,
	})
	if err != nil {
		return h.fail(c, err)
	}

	for _, p := range chat.Participants {
		if p == user.ID {
			continue
		}
		h.notify(c, p, chatNotice{Type: noticeAddedToChat, ChatID: chat.ID, ChatName: chat.Name, AddedBy: user.ID})
	}
	return c.JSON(http.StatusCreated, chat)
}

// GetChat returns a chat and its recent history. ?limit= narrows the history.
func (h *ChatHandler) GetChat(c echo.Context) error {
	chat, err := h.participantChat(c)
	if err != nil {
		return err
	}
	limit := h.historyLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, h.historyLimit)
	}
	msgs, err := h.store.ListMessages(c.Request().Context(), chat.ID, limit)
	if err != nil {
		return h.fail(c, err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return c.JSON(http.StatusOK, ChatResponse{Chat: *chat, Messages: msgs})
}

// PostMessage persists a message and then delivers it to the room.
func (h *ChatHandler) PostMessage(c echo.Context) error {
	chat, err := h.participantChat(c)
	if err != nil {
		return err
	}
	var req PostMessageRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	user, _ := middleware.CurrentUser(c)
	msg, err := h.store.AppendMessage(c.Request().Context(), &domain.Message{
		ChatID:  chat.ID,
		Sender:  user.ID,
		Content: req.Content,
	})
	if err != nil {
		return h.fail(c, err)
	}

	delivered := h.broadcaster.BroadcastMessage(chat.ID, *msg)
	middleware.FromContext(c.Request().Context()).Debug("Message delivered",
		"chat_id", chat.ID, "message_id", msg.ID, "connections", delivered)
	return c.JSON(http.StatusCreated, msg)
}

// AddParticipant adds a user to the chat, tells the room and notifies the
// added user.
func (h *ChatHandler) AddParticipant(c echo.Context) error {
	chat, err := h.participantChat(c)
	if err != nil {
		return err
	}
	var req AddParticipantRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	updated, err := h.store.AddParticipant(c.Request().Context(), chat.ID, req.UserID)
	if err != nil {
		return h.fail(c, err)
	}

	user, _ := middleware.CurrentUser(c)
	h.announce(c, chatChange{Type: changeParticipantAdded, ChatID: chat.ID, UserID: req.UserID, Chat: updated})
	h.notify(c, req.UserID, chatNotice{Type: noticeAddedToChat, ChatID: chat.ID, ChatName: updated.Name, AddedBy: user.ID})
	return c.JSON(http.StatusOK, updated)
}

// RemoveParticipant removes a user from the chat and tells the room.
func (h *ChatHandler) RemoveParticipant(c echo.Context) error {
	chat, err := h.participantChat(c)
	if err != nil {
		return err
	}
	target := c.Param("userID")
	if !chat.HasParticipant(target) {
		return echo.NewHTTPError(http.StatusNotFound, "user is not a participant")
	}
	updated, err := h.store.RemoveParticipant(c.Request().Context(), chat.ID, target)
	if err != nil {
		return h.fail(c, err)
	}
	h.announce(c, chatChange{Type: changeParticipantRemoved, ChatID: chat.ID, UserID: target, Chat: updated})
	return c.JSON(http.StatusOK, updated)
}

// DeleteChat removes the chat and its messages, then tells the room.
func (h *ChatHandler) DeleteChat(c echo.Context) error {
	chat, err := h.participantChat(c)
	if err != nil {
		return err
	}
	if err := h.store.DeleteChat(c.Request().Context(), chat.ID); err != nil {
		return h.fail(c, err)
	}
	h.announce(c, chatChange{Type: changeChatDeleted, ChatID: chat.ID, Deleted: true})
	return c.NoContent(http.StatusNoContent)
}

// participantChat loads the :id chat and checks the caller belongs to it.
func (h *ChatHandler) participantChat(c echo.Context) (*domain.Chat, error) {
	user, err := requireUser(c)
	if err != nil {
		return nil, err
	}
	chat, err := h.store.FindChat(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, h.fail(c, err)
	}
	if !chat.HasParticipant(user.ID) {
		return nil, h.fail(c, domain.ErrForbidden)
	}
	return chat, nil
}

// announce publishes a chat-updated event for the chat's room. Failures are
// logged; the change is already stored.
func (h *ChatHandler) announce(c echo.Context, change chatChange) {
	raw, err := json.Marshal(change)
	if err == nil {
		err = pubsub.Publish(context.WithoutCancel(c.Request().Context()), h.publisher, realtime.TopicChatUpdated,
			realtime.ChatUpdate{ChatID: change.ChatID, Update: raw})
	}
	if err != nil {
		middleware.FromContext(c.Request().Context()).Warn("Failed to publish chat update",
			"chat_id", change.ChatID, "type", change.Type, "error", err)
	}
}

func (h *ChatHandler) notify(c echo.Context, userID string, notice chatNotice) {
	raw, err := json.Marshal(notice)
	if err == nil {
		err = pubsub.Publish(context.WithoutCancel(c.Request().Context()), h.publisher, realtime.TopicNotification,
			realtime.UserNotification{UserID: userID, Payload: raw})
	}
	if err != nil {
		middleware.FromContext(c.Request().Context()).Warn("Failed to publish notification",
			"user_id", userID, "type", notice.Type, "error", err)
	}
}

func (h *ChatHandler) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "chat not found")
	case errors.Is(err, domain.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, domain.ErrForbidden.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	middleware.FromContext(c.Request().Context()).Error("Chat store failed", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

func requireUser(c echo.Context) (*domain.User, error) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	}
	return user, nil
}

func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
