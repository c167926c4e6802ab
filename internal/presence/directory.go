// Package presence tracks which users are online and through which
// connections.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nfrund/relay/internal/pubsub"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// OfflineDebounceDelay is how long a user with no connections left waits
// before an offline status is published. A reconnect inside the window
// cancels it, so page reloads do not flap the status.
const OfflineDebounceDelay = 5 * time.Second

// Directory is the user <-> connection index. The two maps are only mutated
// together under mu, so a lookup never sees one direction without the other.
type Directory struct {
	mu    sync.RWMutex
	users map[string]map[string]Conn // userID -> connID -> conn
	conns map[string]Conn            // connID -> conn

	publisher pubsub.Publisher
	logger    *slog.Logger

	offlineDebounce      map[string]*time.Timer // userID -> pending offline
	offlineDebounceDelay time.Duration
	debounceMu           sync.Mutex
}

// Option is a function that configures a Directory.
type Option func(*Directory)

// WithOfflineDebounce sets a custom debounce delay for offline events.
// Set to 0 to publish offline immediately (useful for testing).
func WithOfflineDebounce(delay time.Duration) Option {
	return func(d *Directory) {
		d.offlineDebounceDelay = delay
	}
}

// WithPublisher publishes status changes on the bus.
func WithPublisher(p pubsub.Publisher) Option {
	return func(d *Directory) {
		d.publisher = p
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Directory) {
		d.logger = l
	}
}

// NewDirectory creates an empty directory.
func NewDirectory(opts ...Option) *Directory {
	d := &Directory{
		users:                make(map[string]map[string]Conn),
		conns:                make(map[string]Conn),
		logger:               slog.Default().With("component", "presence"),
		offlineDebounce:      make(map[string]*time.Timer),
		offlineDebounceDelay: OfflineDebounceDelay,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds conn under its user. It returns false if the connection id
// is already registered, in which case nothing changes.
func (d *Directory) Register(conn Conn) bool {
	userID := conn.UserID()

	d.mu.Lock()
	if _, exists := d.conns[conn.ID()]; exists {
		d.mu.Unlock()
		return false
	}
	first := len(d.users[userID]) == 0
	if first {
		d.users[userID] = make(map[string]Conn)
	}
	d.users[userID][conn.ID()] = conn
	d.conns[conn.ID()] = conn
	total := len(d.users[userID])
	d.mu.Unlock()

	cancelled := d.cancelOfflineDebounce(userID)

	d.logger.Debug("Connection registered",
		"user_id", userID,
		"conn_id", conn.ID(),
		"user_connections", total)

	// A user coming back inside the debounce window never went offline.
	if first && !cancelled {
		d.logger.Info("User came online", "user_id", userID)
		d.publishStatus(userID, StatusOnline)
	}
	return true
}

// Unregister removes the connection from both indexes. It returns the
// removed connection and false if it was not registered.
func (d *Directory) Unregister(connID string) (Conn, bool) {
	d.mu.Lock()
	conn, exists := d.conns[connID]
	if !exists {
		d.mu.Unlock()
		return nil, false
	}
	userID := conn.UserID()
	delete(d.conns, connID)
	delete(d.users[userID], connID)
	remaining := len(d.users[userID])
	if remaining == 0 {
		delete(d.users, userID)
	}
	d.mu.Unlock()

	d.logger.Debug("Connection unregistered",
		"user_id", userID,
		"conn_id", connID,
		"remaining_connections", remaining)

	// Release lock before publishing to avoid deadlock.
	if remaining == 0 {
		d.scheduleOffline(userID)
	}
	return conn, true
}

// IsOnline reports whether the user has at least one live connection.
func (d *Directory) IsOnline(userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users[userID]) > 0
}

// ConnectionsOf returns a snapshot of the user's connections.
func (d *Directory) ConnectionsOf(userID string) []Conn {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Conn, 0, len(d.users[userID]))
	for _, c := range d.users[userID] {
		out = append(out, c)
	}
	return out
}

// Lookup finds a connection by id.
func (d *Directory) Lookup(connID string) (Conn, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.conns[connID]
	return c, ok
}

// All returns a snapshot of every registered connection.
func (d *Directory) All() []Conn {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Conn, 0, len(d.conns))
	for _, c := range d.conns {
		out = append(out, c)
	}
	return out
}

// OnlineUsers returns the ids of users with a live connection, sorted.
func (d *Directory) OnlineUsers() []string {
	d.mu.RLock()
	out := make([]string, 0, len(d.users))
	for userID := range d.users {
		out = append(out, userID)
	}
	d.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Stats returns the number of online users and open connections.
func (d *Directory) Stats() (users, connections int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users), len(d.conns)
}

// Shutdown stops pending offline timers without publishing.
func (d *Directory) Shutdown() {
	d.debounceMu.Lock()
	defer d.debounceMu.Unlock()
	for userID, timer := range d.offlineDebounce {
		timer.Stop()
		delete(d.offlineDebounce, userID)
	}
}

func (d *Directory) cancelOfflineDebounce(userID string) bool {
	d.debounceMu.Lock()
	defer d.debounceMu.Unlock()
	timer, exists := d.offlineDebounce[userID]
	if !exists {
		return false
	}
	timer.Stop()
	delete(d.offlineDebounce, userID)
	d.logger.Debug("Cancelled offline debounce due to reconnection", "user_id", userID)
	return true
}

func (d *Directory) scheduleOffline(userID string) {
	if d.offlineDebounceDelay <= 0 {
		d.logger.Info("User went offline", "user_id", userID)
		d.publishStatus(userID, StatusOffline)
		return
	}

	d.debounceMu.Lock()
	if timer, exists := d.offlineDebounce[userID]; exists {
		timer.Stop()
	}
	d.offlineDebounce[userID] = time.AfterFunc(d.offlineDebounceDelay, func() {
		d.handleDebouncedOffline(userID)
	})
	d.debounceMu.Unlock()
}

// handleDebouncedOffline runs when the debounce window closes.
func (d *Directory) handleDebouncedOffline(userID string) {
	d.debounceMu.Lock()
	if _, pending := d.offlineDebounce[userID]; !pending {
		// Cancelled by a reconnect that raced the timer.
		d.debounceMu.Unlock()
		return
	}
	delete(d.offlineDebounce, userID)
	d.debounceMu.Unlock()

	if d.IsOnline(userID) {
		return
	}
	d.logger.Info("User went offline after debounce period", "user_id", userID)
	d.publishStatus(userID, StatusOffline)
}

func (d *Directory) publishStatus(userID string, status Status) {
	if d.publisher == nil {
		return
	}
	change := StatusChange{UserID: userID, Status: status, Timestamp: time.Now().UTC()}
	if err := pubsub.Publish(context.Background(), d.publisher, TopicUserStatus, change); err != nil {
		d.logger.Error("Failed to publish presence update",
			"error", err,
			"topic", TopicUserStatus.Name(),
			"user_id", userID)
	}
}
