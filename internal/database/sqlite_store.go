package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/nfrund/relay/internal/domain"
)

type userModel struct {
	ID        string `gorm:"primaryKey"`
	Email     string `gorm:"uniqueIndex;not null"`
	Name      string
	CreatedAt time.Time
}

func (userModel) TableName() string { return "users" }

type chatModel struct {
	ID           string `gorm:"primaryKey"`
	Name         string
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time `gorm:"index"`
	Participants []participantModel `gorm:"foreignKey:ChatID"`
}

func (chatModel) TableName() string { return "chats" }

type participantModel struct {
	ChatID   string `gorm:"primaryKey"`
	UserID   string `gorm:"primaryKey;index"`
	JoinedAt time.Time
}

func (participantModel) TableName() string { return "chat_participants" }

type messageModel struct {
	ID        string `gorm:"primaryKey"`
	ChatID    string `gorm:"index:idx_messages_chat_created"`
	Sender    string
	Content   string
	CreatedAt time.Time `gorm:"index:idx_messages_chat_created"`
}

func (messageModel) TableName() string { return "messages" }

// SQLiteStore is the embedded backend, backed by GORM.
type SQLiteStore struct {
	db *gorm.DB
}

var _ domain.Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) the database at path and migrates it. Use
// ":memory:" for a throwaway store.
func OpenSQLite(path string, log *slog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// A single connection keeps writers serialized and lets :memory: behave
	// as one database.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&userModel{}, &chatModel{}, &participantModel{}, &messageModel{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if log != nil {
		log.Info("SQLite store ready", "path", path)
	}
	return &SQLiteStore{db: db}, nil
}

// Ping checks the underlying connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close implements domain.Store.
func (s *SQLiteStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}

func (m *userModel) toDomain() *domain.User {
	return &domain.User{ID: m.ID, Email: m.Email, Name: m.Name, CreatedAt: m.CreatedAt}
}

func (m *chatModel) toDomain() domain.Chat {
	users := make([]string, 0, len(m.Participants))
	for _, p := range m.Participants {
		users = append(users, p.UserID)
	}
	return domain.Chat{
		ID:           m.ID,
		Name:         m.Name,
		Participants: users,
		CreatedBy:    m.CreatedBy,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func (m *messageModel) toDomain() domain.Message {
	return domain.Message{ID: m.ID, Content: m.Content, Sender: m.Sender, ChatID: m.ChatID, CreatedAt: m.CreatedAt}
}

func orderedParticipants(db *gorm.DB) *gorm.DB {
	return db.Order("joined_at, user_id")
}

// FindUserByID implements domain.UserRepository.
func (s *SQLiteStore) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	var m userModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return m.toDomain(), nil
}

// FindUserByEmail implements domain.UserRepository.
func (s *SQLiteStore) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var m userModel
	if err := s.db.WithContext(ctx).First(&m, "email = ?", normalizeEmail(email)).Error; err != nil {
		return nil, notFound(err)
	}
	return m.toDomain(), nil
}

// CreateUser implements domain.UserRepository.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	if user == nil || strings.TrimSpace(user.Email) == "" {
		return nil, domain.ErrInvalidInput
	}
	m := userModel{ID: user.ID, Email: normalizeEmail(user.Email), Name: user.Name, CreatedAt: time.Now().UTC()}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&userModel{}).Where("email = ?", m.Email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrUserAlreadyExists
		}
		return tx.Create(&m).Error
	})
	if err != nil {
		if errors.Is(err, domain.ErrUserAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return m.toDomain(), nil
}

// ListChatIDsForUser implements domain.ChatRepository.
func (s *SQLiteStore) ListChatIDsForUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&participantModel{}).
		Where("user_id = ?", userID).Order("chat_id").Pluck("chat_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list chat ids for %s: %w", userID, err)
	}
	return ids, nil
}

// ListChatsForUser implements domain.ChatRepository.
func (s *SQLiteStore) ListChatsForUser(ctx context.Context, userID string) ([]domain.Chat, error) {
	var models []chatModel
	err := s.db.WithContext(ctx).
		Preload("Participants", orderedParticipants).
		Joins("JOIN chat_participants p ON p.chat_id = chats.id AND p.user_id = ?", userID).
		Order("chats.updated_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list chats for %s: %w", userID, err)
	}
	chats := make([]domain.Chat, 0, len(models))
	for i := range models {
		chats = append(chats, models[i].toDomain())
	}
	return chats, nil
}

func (s *SQLiteStore) findChat(tx *gorm.DB, chatID string) (*domain.Chat, error) {
	var m chatModel
	if err := tx.Preload("Participants", orderedParticipants).First(&m, "id = ?", chatID).Error; err != nil {
		return nil, notFound(err)
	}
	chat := m.toDomain()
	return &chat, nil
}

// FindChat implements domain.ChatRepository.
func (s *SQLiteStore) FindChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	return s.findChat(s.db.WithContext(ctx), chatID)
}

// CreateChat implements domain.ChatRepository.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *domain.Chat) (*domain.Chat, error) {
	if chat == nil {
		return nil, domain.ErrInvalidInput
	}
	now := time.Now().UTC()
	m := chatModel{ID: chat.ID, Name: chat.Name, CreatedBy: chat.CreatedBy, CreatedAt: now, UpdatedAt: now}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	for i, u := range uniqueParticipants(chat.CreatedBy, chat.Participants) {
		// Distinct join times keep the creator first when reloading.
		m.Participants = append(m.Participants, participantModel{ChatID: m.ID, UserID: u, JoinedAt: now.Add(time.Duration(i))})
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	created := m.toDomain()
	return &created, nil
}

// AddParticipant implements domain.ChatRepository.
func (s *SQLiteStore) AddParticipant(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	var out *domain.Chat
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.findChat(tx, chatID); err != nil {
			return err
		}
		now := time.Now().UTC()
		p := participantModel{ChatID: chatID, UserID: userID, JoinedAt: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error; err != nil {
			return err
		}
		if err := tx.Model(&chatModel{}).Where("id = ?", chatID).Update("updated_at", now).Error; err != nil {
			return err
		}
		chat, err := s.findChat(tx, chatID)
		out = chat
		return err
	})
	if err != nil {
		return nil, wrapStoreErr("add participant", err)
	}
	return out, nil
}

// RemoveParticipant implements domain.ChatRepository.
func (s *SQLiteStore) RemoveParticipant(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	var out *domain.Chat
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.findChat(tx, chatID); err != nil {
			return err
		}
		if err := tx.Delete(&participantModel{}, "chat_id = ? AND user_id = ?", chatID, userID).Error; err != nil {
			return err
		}
		if err := tx.Model(&chatModel{}).Where("id = ?", chatID).Update("updated_at", time.Now().UTC()).Error; err != nil {
			return err
		}
		chat, err := s.findChat(tx, chatID)
		out = chat
		return err
	})
	if err != nil {
		return nil, wrapStoreErr("remove participant", err)
	}
	return out, nil
}

// DeleteChat implements domain.ChatRepository.
func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&messageModel{}, "chat_id = ?", chatID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&participantModel{}, "chat_id = ?", chatID).Error; err != nil {
			return err
		}
		res := tx.Delete(&chatModel{}, "id = ?", chatID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
	return wrapStoreErr("delete chat", err)
}

// AppendMessage implements domain.MessageRepository.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	if msg == nil || msg.ChatID == "" {
		return nil, domain.ErrInvalidInput
	}
	m := messageModel{ID: msg.ID, ChatID: msg.ChatID, Sender: msg.Sender, Content: msg.Content, CreatedAt: msg.CreatedAt.UTC()}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&chatModel{}).Where("id = ?", m.ChatID).Update("updated_at", m.CreatedAt)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return tx.Create(&m).Error
	})
	if err != nil {
		return nil, wrapStoreErr("append message", err)
	}
	out := m.toDomain()
	return &out, nil
}

// ListMessages implements domain.MessageRepository.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	var models []messageModel
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC, id DESC").
		Limit(clampLimit(limit)).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", chatID, err)
	}
	msgs := make([]domain.Message, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msgs = append(msgs, models[i].toDomain())
	}
	return msgs, nil
}

func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
