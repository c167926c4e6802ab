package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/middleware"
	"github.com/nfrund/relay/internal/pubsub"
	"github.com/nfrund/relay/internal/realtime"
)

type memStore struct {
	mu       sync.Mutex
	chats    map[string]*domain.Chat
	messages map[string][]domain.Message
	seq      int
}

func newMemStore() *memStore {
	return &memStore{chats: map[string]*domain.Chat{}, messages: map[string][]domain.Message{}}
}

func (s *memStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s%d", prefix, s.seq)
}

func (s *memStore) ListChatIDsForUser(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, c := range s.chats {
		if c.HasParticipant(userID) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *memStore) ListChatsForUser(ctx context.Context, userID string) ([]domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Chat
	for _, c := range s.chats {
		if c.HasParticipant(userID) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *memStore) FindChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	cp.Participants = slices.Clone(c.Participants)
	return &cp, nil
}

func (s *memStore) CreateChat(ctx context.Context, chat *domain.Chat) (*domain.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *chat
	if c.ID == "" {
		c.ID = s.nextID("c")
	}
	c.Participants = append([]string{chat.CreatedBy}, chat.Participants...)
	c.Participants = slices.Compact(c.Participants)
	s.chats[c.ID] = &c
	return &c, nil
}

func (s *memStore) AddParticipant(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	s.mu.Lock()
	c, ok := s.chats[chatID]
	if ok && !c.HasParticipant(userID) {
		c.Participants = append(c.Participants, userID)
	}
	s.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.FindChat(ctx, chatID)
}

func (s *memStore) RemoveParticipant(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	s.mu.Lock()
	c, ok := s.chats[chatID]
	if ok {
		c.Participants = slices.DeleteFunc(c.Participants, func(u string) bool { return u == userID })
	}
	s.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.FindChat(ctx, chatID)
}

func (s *memStore) DeleteChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.chats, chatID)
	delete(s.messages, chatID)
	return nil
}

func (s *memStore) AppendMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[msg.ChatID]; !ok {
		return nil, domain.ErrNotFound
	}
	m := *msg
	m.ID = s.nextID("m")
	m.CreatedAt = time.Now()
	s.messages[m.ChatID] = append(s.messages[m.ChatID], m)
	return &m, nil
}

func (s *memStore) ListMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[chatID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return slices.Clone(msgs), nil
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []domain.Message
}

func (b *recordingBroadcaster) BroadcastMessage(chatID string, msg domain.Message) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, msg)
	return 1
}

type mockPublisher struct {
	mu       sync.Mutex
	messages []pubsub.Message
}

func (m *mockPublisher) Publish(ctx context.Context, msg pubsub.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockPublisher) Close() error { return nil }

func (m *mockPublisher) topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, msg := range m.messages {
		out = append(out, msg.Topic)
	}
	return out
}

func (m *mockPublisher) last(topic string) pubsub.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Topic == topic {
			return m.messages[i]
		}
	}
	return pubsub.Message{}
}

type chatFixture struct {
	e           *echo.Echo
	store       *memStore
	broadcaster *recordingBroadcaster
	publisher   *mockPublisher
}

// setupChatFixture routes the chat API behind a fake auth layer that trusts
// the X-User header.
func setupChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	f := &chatFixture{store: newMemStore(), broadcaster: &recordingBroadcaster{}, publisher: &mockPublisher{}}
	h := NewChatHandler(f.store, f.broadcaster, f.publisher, 2)

	e := echo.New()
	e.Validator = NewValidator()
	api := e.Group("/api", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if id := c.Request().Header.Get("X-User"); id != "" {
				c.Set(middleware.UserContextKey, &domain.User{ID: id})
			}
			return next(c)
		}
	})
	api.GET("/chats", h.ListChats)
	api.POST("/chats", h.CreateChat)
	api.GET("/chats/:id", h.GetChat)
	api.DELETE("/chats/:id", h.DeleteChat)
	api.POST("/chats/:id/messages", h.PostMessage)
	api.POST("/chats/:id/participants", h.AddParticipant)
	api.DELETE("/chats/:id/participants/:userID", h.RemoveParticipant)
	f.e = e
	return f
}

func (f *chatFixture) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if user != "" {
		req.Header.Set("X-User", user)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *chatFixture) seedChat(t *testing.T, id string, participants ...string) {
	t.Helper()
	_, err := f.store.CreateChat(context.Background(), &domain.Chat{ID: id, Name: id, CreatedBy: participants[0], Participants: participants[1:]})
	require.NoError(t, err)
}

func TestCreateChat(t *testing.T) {
	f := setupChatFixture(t)

	rec := f.do(t, http.MethodPost, "/api/chats", "alice", `{"name":"general","participants":["bob"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var chat domain.Chat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chat))
	assert.Equal(t, []string{"alice", "bob"}, chat.Participants)
	assert.Equal(t, "alice", chat.CreatedBy)

	assert.Equal(t, []string{realtime.TopicNotification.Name()}, f.publisher.topics(), "bob is notified, alice is not")
	var n realtime.UserNotification
	require.NoError(t, json.Unmarshal(f.publisher.last(realtime.TopicNotification.Name()).Payload, &n))
	assert.Equal(t, "bob", n.UserID)
}

func TestCreateChat_Validation(t *testing.T) {
	f := setupChatFixture(t)

	rec := f.do(t, http.MethodPost, "/api/chats", "alice", `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/chats", "alice", `{"name":"x","participants":[""]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/chats", "", `{"name":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListChats(t *testing.T) {
	f := setupChatFixture(t)
	f.seedChat(t, "c1", "alice", "bob")
	f.seedChat(t, "c2", "carol")

	rec := f.do(t, http.MethodGet, "/api/chats", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ChatListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Chats, 1)
	assert.Equal(t, "c1", resp.Chats[0].ID)

	rec = f.do(t, http.MethodGet, "/api/chats", "nobody", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"chats":[]}`, rec.Body.String())
}

func TestPostMessage_PersistsThenBroadcasts(t *testing.T) {
	f := setupChatFixture(t)
	f.seedChat(t, "c1", "alice", "bob")

	rec := f.do(t, http.MethodPost, "/api/chats/c1/messages", "bob", `{"content":"hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var msg domain.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "bob", msg.Sender)
	assert.NotEmpty(t, msg.ID)

	stored, err := f.store.ListMessages(context.Background(), "c1", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Len(t, f.broadcaster.sent, 1)
	assert.Equal(t, stored[0].ID, f.broadcaster.sent[0].ID, "the broadcast carries the stored id")
}

func TestPostMessage_Rejections(t *testing.T) {
	f := setupChatFixture(t)
	f.seedChat(t, "c1", "alice")

	rec := f.do(t, http.MethodPost, "/api/chats/c1/messages", "mallory", `{"content":"hi"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/chats/missing/messages", "alice", `{"content":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/chats/c1/messages", "alice", `{"content":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, f.broadcaster.sent)
}

func TestGetChat_LimitsHistory(t *testing.T) {
	f := setupChatFixture(t)
	f.seedChat(t, "c1", "alice")
	for _, text := range []string{"one", "two", "three"} {
		_, err := f.store.AppendMessage(context.Background(), &domain.Message{ChatID: "c1", Content: text})
		require.NoError(t, err)
	}

	rec := f.do(t, http.MethodGet, "/api/chats/c1", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "c1", resp.ID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "two", resp.Messages[0].Content)

	rec = f.do(t, http.MethodGet, "/api/chats/c1?limit=1", "alice", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "three", resp.Messages[0].Content)

	rec = f.do(t, http.MethodGet, "/api/chats/c1?limit=zero", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddParticipant_PublishesUpdateAndNotification(t *testing.T) {
	f := setupChatFixture(t)
	f.seedChat(t, "c1", "alice")

	rec := f.do(t, http.MethodPost, "/api/chats/c1/participants", "alice", `{"userId":"bob"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, []string{realtime.TopicChatUpdated.Name(), realtime.TopicNotification.Name()}, f.publisher.topics())

	var cu realtime.ChatUpdate
	require.NoError(t, json.Unmarshal(f.publisher.last(realtime.TopicChatUpdated.Name()).Payload, &cu))
	assert.Equal(t, "c1", cu.ChatID)
	var change chatChange
	require.NoError(t, json.Unmarshal(cu.Update, &change))
	assert.Equal(t, changeParticipantAdded, change.Type)
	assert.Equal(t, "bob", change.UserID)

	var n realtime.UserNotification
	require.NoError(t, json.Unmarshal(f.publisher.last(realtime.TopicNotification.Name()).Payload, &n))
	assert.Equal(t, "bob", n.UserID)
	var notice chatNotice
	require.NoError(t, json.Unmarshal(n.Payload, &notice))
	assert.Equal(t, chatNotice{Type: noticeAddedToChat, ChatID: "c1", ChatName: "c1", AddedBy: "alice"}, notice)
}

func TestRemoveParticipant(t *testing.T) {
	f := setupChatFixture(t)
	f.seedChat(t, "c1", "alice", "bob")

	rec := f.do(t, http.MethodDelete, "/api/chats/c1/participants/bob", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{realtime.TopicChatUpdated.Name()}, f.publisher.topics())

	rec = f.do(t, http.MethodDelete, "/api/chats/c1/participants/bob", "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteChat(t *testing.T) {
	f := setupChatFixture(t)
	f.seedChat(t, "c1", "alice", "bob")

	rec := f.do(t, http.MethodDelete, "/api/chats/c1", "carol", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/chats/c1", "bob", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	_, err := f.store.FindChat(context.Background(), "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	var cu realtime.ChatUpdate
	require.NoError(t, json.Unmarshal(f.publisher.last(realtime.TopicChatUpdated.Name()).Payload, &cu))
	assert.JSONEq(t, `{"type":"chat-deleted","chatId":"c1","deleted":true}`, string(cu.Update))
}
