package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/nfrund/relay/internal/domain"
)

// SurrealStore keeps users, chats and messages in SurrealDB. Records are keyed
// by the domain id, so user "abc" is stored as user:⟨abc⟩.
type SurrealStore struct {
	db      *surrealdb.DB
	timeout time.Duration
}

var _ domain.Store = (*SurrealStore)(nil)

// NewSurrealStore wraps an open connection.
func NewSurrealStore(db *surrealdb.DB, timeout time.Duration) *SurrealStore {
	return &SurrealStore{db: db, timeout: timeout}
}

const schema = `
DEFINE TABLE IF NOT EXISTS user SCHEMALESS;
DEFINE INDEX IF NOT EXISTS user_email ON TABLE user FIELDS email UNIQUE;
DEFINE TABLE IF NOT EXISTS chat SCHEMALESS;
DEFINE INDEX IF NOT EXISTS chat_participants ON TABLE chat FIELDS participants;
DEFINE TABLE IF NOT EXISTS message SCHEMALESS;
DEFINE INDEX IF NOT EXISTS message_chat ON TABLE message FIELDS chat, created_at;
`

// DefineSchema creates the tables and indexes when missing.
func (s *SurrealStore) DefineSchema(ctx context.Context) error {
	if err := Execute(ctx, s.db, schema, nil); err != nil {
		return fmt.Errorf("define schema: %w", err)
	}
	return nil
}

// Ping asks the server for its version.
func (s *SurrealStore) Ping(ctx context.Context) error {
	_, err := s.db.Version(ctx)
	return err
}

// Close implements domain.Store.
func (s *SurrealStore) Close(ctx context.Context) error {
	return s.db.Close(ctx)
}

type userRow struct {
	ID        *models.RecordID       `json:"id,omitempty"`
	Email     string                 `json:"email"`
	Name      string                 `json:"name"`
	CreatedAt *models.CustomDateTime `json:"created_at,omitempty"`
}

func (r *userRow) toDomain() *domain.User {
	return &domain.User{ID: recordKey(r.ID), Email: r.Email, Name: r.Name, CreatedAt: dateTime(r.CreatedAt)}
}

type chatRow struct {
	ID           *models.RecordID       `json:"id,omitempty"`
	Name         string                 `json:"name"`
	Participants []string               `json:"participants"`
	CreatedBy    string                 `json:"created_by"`
	CreatedAt    *models.CustomDateTime `json:"created_at,omitempty"`
	UpdatedAt    *models.CustomDateTime `json:"updated_at,omitempty"`
}

func (r *chatRow) toDomain() domain.Chat {
	return domain.Chat{
		ID:           recordKey(r.ID),
		Name:         r.Name,
		Participants: r.Participants,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    dateTime(r.CreatedAt),
		UpdatedAt:    dateTime(r.UpdatedAt),
	}
}

type messageRow struct {
	ID        *models.RecordID       `json:"id,omitempty"`
	Content   string                 `json:"content"`
	Sender    string                 `json:"sender"`
	Chat      string                 `json:"chat"`
	CreatedAt *models.CustomDateTime `json:"created_at,omitempty"`
}

func (r *messageRow) toDomain() domain.Message {
	return domain.Message{
		ID:        recordKey(r.ID),
		Content:   r.Content,
		Sender:    r.Sender,
		ChatID:    r.Chat,
		CreatedAt: dateTime(r.CreatedAt),
	}
}

func recordKey(id *models.RecordID) string {
	if id == nil {
		return ""
	}
	if s, ok := id.ID.(string); ok {
		return s
	}
	return fmt.Sprint(id.ID)
}

func dateTime(dt *models.CustomDateTime) time.Time {
	if dt == nil {
		return time.Time{}
	}
	return dt.Time
}

func stamp(t time.Time) models.CustomDateTime {
	return models.CustomDateTime{Time: t.UTC()}
}

// FindUserByID implements domain.UserRepository.
func (s *SurrealStore) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	row, err := QueryOne[userRow](ctx, s.db, "SELECT * FROM user WHERE id = type::thing('user', $id)", map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", id, err)
	}
	if row == nil {
		return nil, domain.ErrNotFound
	}
	return row.toDomain(), nil
}

// FindUserByEmail implements domain.UserRepository.
func (s *SurrealStore) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	row, err := QueryOne[userRow](ctx, s.db, "SELECT * FROM user WHERE email = $email", map[string]any{"email": normalizeEmail(email)})
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	if row == nil {
		return nil, domain.ErrNotFound
	}
	return row.toDomain(), nil
}

// CreateUser implements domain.UserRepository.
func (s *SurrealStore) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	if user == nil || strings.TrimSpace(user.Email) == "" {
		return nil, domain.ErrInvalidInput
	}
	if _, err := s.FindUserByEmail(ctx, user.Email); err == nil {
		return nil, domain.ErrUserAlreadyExists
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	id := user.ID
	if id == "" {
		id = uuid.NewString()
	}
	row, err := QueryOne[userRow](ctx, s.db, "CREATE type::thing('user', $id) CONTENT $data", map[string]any{
		"id": id,
		"data": map[string]any{
			"email":      normalizeEmail(user.Email),
			"name":       user.Name,
			"created_at": stamp(time.Now()),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if row == nil {
		return nil, fmt.Errorf("create user: no record returned")
	}
	return row.toDomain(), nil
}

// ListChatIDsForUser implements domain.ChatRepository.
func (s *SurrealStore) ListChatIDsForUser(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	ids, err := Query[string](ctx, s.db,
		"SELECT VALUE meta::id(id) FROM chat WHERE participants CONTAINS $user", map[string]any{"user": userID})
	if err != nil {
		return nil, fmt.Errorf("list chat ids for %s: %w", userID, err)
	}
	slices.Sort(ids)
	return ids, nil
}

// ListChatsForUser implements domain.ChatRepository.
func (s *SurrealStore) ListChatsForUser(ctx context.Context, userID string) ([]domain.Chat, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	rows, err := Query[chatRow](ctx, s.db,
		"SELECT * FROM chat WHERE participants CONTAINS $user ORDER BY updated_at DESC", map[string]any{"user": userID})
	if err != nil {
		return nil, fmt.Errorf("list chats for %s: %w", userID, err)
	}
	chats := make([]domain.Chat, 0, len(rows))
	for i := range rows {
		chats = append(chats, rows[i].toDomain())
	}
	return chats, nil
}

// FindChat implements domain.ChatRepository.
func (s *SurrealStore) FindChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	row, err := QueryOne[chatRow](ctx, s.db, "SELECT * FROM chat WHERE id = type::thing('chat', $id)", map[string]any{"id": chatID})
	if err != nil {
		return nil, fmt.Errorf("find chat %s: %w", chatID, err)
	}
	if row == nil {
		return nil, domain.ErrNotFound
	}
	chat := row.toDomain()
	return &chat, nil
}

// CreateChat implements domain.ChatRepository.
func (s *SurrealStore) CreateChat(ctx context.Context, chat *domain.Chat) (*domain.Chat, error) {
	if chat == nil {
		return nil, domain.ErrInvalidInput
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	id := chat.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := stamp(time.Now())
	row, err := QueryOne[chatRow](ctx, s.db, "CREATE type::thing('chat', $id) CONTENT $data", map[string]any{
		"id": id,
		"data": map[string]any{
			"name":         chat.Name,
			"participants": uniqueParticipants(chat.CreatedBy, chat.Participants),
			"created_by":   chat.CreatedBy,
			"created_at":   now,
			"updated_at":   now,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	if row == nil {
		return nil, fmt.Errorf("create chat: no record returned")
	}
	created := row.toDomain()
	return &created, nil
}

// AddParticipant implements domain.ChatRepository. Adding an existing
// participant is a no-op that still returns the chat.
func (s *SurrealStore) AddParticipant(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	return s.updateParticipants(ctx, chatID, userID,
		"UPDATE chat SET participants = array::union(participants, [$user]), updated_at = $now WHERE id = type::thing('chat', $id) RETURN AFTER")
}

// RemoveParticipant implements domain.ChatRepository.
func (s *SurrealStore) RemoveParticipant(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	return s.updateParticipants(ctx, chatID, userID,
		"UPDATE chat SET participants -= $user, updated_at = $now WHERE id = type::thing('chat', $id) RETURN AFTER")
}

func (s *SurrealStore) updateParticipants(ctx context.Context, chatID, userID, query string) (*domain.Chat, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	row, err := QueryOne[chatRow](ctx, s.db, query, map[string]any{
		"id":   chatID,
		"user": userID,
		"now":  stamp(time.Now()),
	})
	if err != nil {
		return nil, fmt.Errorf("update participants of %s: %w", chatID, err)
	}
	if row == nil {
		return nil, domain.ErrNotFound
	}
	chat := row.toDomain()
	return &chat, nil
}

// DeleteChat implements domain.ChatRepository. The chat's messages go with it.
func (s *SurrealStore) DeleteChat(ctx context.Context, chatID string) error {
	if _, err := s.FindChat(ctx, chatID); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	err := Execute(ctx, s.db,
		"DELETE message WHERE chat = $id; DELETE chat WHERE id = type::thing('chat', $id);",
		map[string]any{"id": chatID})
	if err != nil {
		return fmt.Errorf("delete chat %s: %w", chatID, err)
	}
	return nil
}

// AppendMessage implements domain.MessageRepository.
func (s *SurrealStore) AppendMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	if msg == nil || msg.ChatID == "" {
		return nil, domain.ErrInvalidInput
	}
	if _, err := s.FindChat(ctx, msg.ChatID); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	row, err := QueryOne[messageRow](ctx, s.db, "CREATE type::thing('message', $id) CONTENT $data", map[string]any{
		"id": id,
		"data": map[string]any{
			"content":    msg.Content,
			"sender":     msg.Sender,
			"chat":       msg.ChatID,
			"created_at": stamp(created),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	if row == nil {
		return nil, fmt.Errorf("append message: no record returned")
	}
	if err := Execute(ctx, s.db, "UPDATE chat SET updated_at = $now WHERE id = type::thing('chat', $id)",
		map[string]any{"id": msg.ChatID, "now": stamp(created)}); err != nil {
		return nil, fmt.Errorf("touch chat %s: %w", msg.ChatID, err)
	}
	out := row.toDomain()
	return &out, nil
}

// ListMessages implements domain.MessageRepository. Messages come back oldest
// first, limited to the newest limit entries.
func (s *SurrealStore) ListMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	rows, err := Query[messageRow](ctx, s.db,
		"SELECT * FROM message WHERE chat = $chat ORDER BY created_at DESC LIMIT $limit",
		map[string]any{"chat": chatID, "limit": clampLimit(limit)})
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", chatID, err)
	}
	msgs := make([]domain.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		msgs = append(msgs, rows[i].toDomain())
	}
	return msgs, nil
}
