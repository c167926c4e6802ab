// Package realtime ties authenticated connections to presence, chat rooms
// and the event bus, and fans chat events out to live connections.
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/events"
	"github.com/nfrund/relay/internal/presence"
	"github.com/nfrund/relay/internal/pubsub"
	"github.com/nfrund/relay/internal/rooms"
)

// DefaultMembershipTimeout bounds the membership read at admission.
const DefaultMembershipTimeout = 5 * time.Second

// ErrHubStopped is returned by Admit after Stop.
var ErrHubStopped = errors.New("realtime hub stopped")

// Authenticator resolves a handshake credential to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// MembershipSource lists the chats a user belongs to.
type MembershipSource interface {
	ListChatIDsForUser(ctx context.Context, userID string) ([]string, error)
}

// Hub owns the presence directory and room registry for one process.
type Hub struct {
	auth       Authenticator
	membership MembershipSource
	presence   *presence.Directory
	rooms      *rooms.Registry
	bus        pubsub.Subscriber
	validate   *validator.Validate
	logger     *slog.Logger

	membershipTimeout time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithSubscriber relays presence, chat-updated and notification events from
// the bus to connections once the hub is started.
func WithSubscriber(s pubsub.Subscriber) Option {
	return func(h *Hub) {
		h.bus = s
	}
}

// WithMembershipTimeout overrides DefaultMembershipTimeout.
func WithMembershipTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.membershipTimeout = d
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = l
	}
}

// NewHub builds a hub around explicitly constructed registries.
func NewHub(auth Authenticator, membership MembershipSource, dir *presence.Directory, reg *rooms.Registry, opts ...Option) *Hub {
	h := &Hub{
		auth:              auth,
		membership:        membership,
		presence:          dir,
		rooms:             reg,
		validate:          validator.New(),
		logger:            slog.Default().With("component", "realtime"),
		membershipTimeout: DefaultMembershipTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start subscribes the hub to the bus topics it relays. It returns once the
// subscriptions are active; they end when ctx is canceled or Stop is called.
func (h *Hub) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	if h.bus == nil {
		return nil
	}

	if err := pubsub.Subscribe(ctx, h.bus, presence.TopicUserStatus, h.relayStatus); err != nil {
		cancel()
		return err
	}
	if err := pubsub.Subscribe(ctx, h.bus, TopicChatUpdated, h.relayChatUpdate); err != nil {
		cancel()
		return err
	}
	if err := pubsub.Subscribe(ctx, h.bus, TopicNotification, h.relayNotification); err != nil {
		cancel()
		return err
	}
	h.logger.Info("Realtime hub started")
	return nil
}

// Stop cancels bus subscriptions and closes every live connection.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	cancel := h.cancel
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, conn := range h.presence.All() {
		conn.Close("server shutting down")
		h.Disconnect(conn.ID())
	}
	h.presence.Shutdown()
	h.logger.Info("Realtime hub stopped")
}

// Presence exposes the directory for read-only queries.
func (h *Hub) Presence() *presence.Directory {
	return h.presence
}

// Rooms exposes the room registry for read-only queries.
func (h *Hub) Rooms() *rooms.Registry {
	return h.rooms
}

// Stats returns online users, open connections and active rooms.
func (h *Hub) Stats() Stats {
	users, conns := h.presence.Stats()
	return Stats{Users: users, Connections: conns, Rooms: h.rooms.RoomCount()}
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Users       int `json:"users"`
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

func (h *Hub) isStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

func (h *Hub) relayStatus(ctx context.Context, sc presence.StatusChange) error {
	h.BroadcastGlobal(events.UserStatusChange{UserID: sc.UserID, Status: string(sc.Status)})
	return nil
}

func (h *Hub) relayChatUpdate(ctx context.Context, cu ChatUpdate) error {
	h.BroadcastToRoom(cu.ChatID, events.ChatUpdated{ChatID: cu.ChatID, Update: cu.Update})
	return nil
}

func (h *Hub) relayNotification(ctx context.Context, n UserNotification) error {
	h.BroadcastToUser(n.UserID, events.Notification{Payload: n.Payload})
	return nil
}
