// Package client keeps one logical realtime connection per process: it
// reconnects with backoff, replays room subscriptions, drops duplicate
// messages and tracks who is typing in the active chat.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nfrund/relay/internal/events"
)

// State is the connection state seen by callers.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

const (
	// DefaultSeenLimit bounds the duplicate-detection window.
	DefaultSeenLimit = 1000
	// DefaultMaxRetries is the number of consecutive failed attempts before
	// Run gives up.
	DefaultMaxRetries = 10
	// DefaultMessageLimit bounds the messages kept per chat.
	DefaultMessageLimit = 500

	writeTimeout = 10 * time.Second
)

var (
	// ErrAuthFailed ends Run when the server refuses the credential. Set a new
	// token with SetToken before running again.
	ErrAuthFailed = errors.New("authentication refused by server")
	// ErrRetriesExhausted ends Run after too many consecutive failed attempts.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
	// ErrNotConnected is returned by sends that require a live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyRunning is returned when Run is called twice concurrently.
	ErrAlreadyRunning = errors.New("connection manager already running")
)

// Manager is the client-side connection state machine:
// Disconnected -> Connecting -> Connected, back to Disconnected on transport
// loss or Disconnect, and Connecting -> Disconnected on a refused credential.
type Manager struct {
	serverURL  string
	dialer     Dialer
	listener   events.OutboundHandler
	onState    func(State, error)
	newBackOff func() backoff.BackOff
	maxRetries int
	msgLimit   int
	logger     *slog.Logger

	mu         sync.Mutex
	token      string
	state      State
	cause      error
	running    bool
	cancel     context.CancelFunc
	transport  Transport
	joined     map[string]struct{}
	activeChat string
	typing     map[string]struct{}
	messages   map[string][]events.Message
	seen       *seenSet
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// WithListener receives every server event after the manager has applied it.
// Duplicate new-message events are not forwarded.
func WithListener(l events.OutboundHandler) Option {
	return func(m *Manager) {
		m.listener = l
	}
}

// WithStateHook is called on every state transition with the terminal cause,
// if any.
func WithStateHook(fn func(State, error)) Option {
	return func(m *Manager) {
		m.onState = fn
	}
}

// WithBackOff sets the reconnect schedule.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(m *Manager) {
		m.newBackOff = fn
	}
}

// WithMaxRetries sets how many consecutive failures are tolerated.
func WithMaxRetries(n int) Option {
	return func(m *Manager) {
		m.maxRetries = n
	}
}

// WithSeenLimit sets the duplicate-detection window.
func WithSeenLimit(n int) Option {
	return func(m *Manager) {
		m.seen = newSeenSet(n)
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a disconnected manager for serverURL.
func NewManager(serverURL, token string, opts ...Option) *Manager {
	m := &Manager{
		serverURL:  serverURL,
		token:      token,
		dialer:     WebsocketDialer{},
		listener:   NopListener{},
		newBackOff: defaultBackOff,
		maxRetries: DefaultMaxRetries,
		msgLimit:   DefaultMessageLimit,
		logger:     slog.Default().With("component", "client"),
		joined:     make(map[string]struct{}),
		typing:     make(map[string]struct{}),
		messages:   make(map[string][]events.Message),
		seen:       newSeenSet(DefaultSeenLimit),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	return b
}

// Run connects and keeps reconnecting until ctx ends, Disconnect is called,
// the credential is refused, or retries run out. It returns nil for the
// first two and ErrAuthFailed or ErrRetriesExhausted otherwise.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.cancel = cancel
	m.cause = nil
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.cancel = nil
		m.mu.Unlock()
	}()

	b := m.newBackOff()
	b.Reset()
	failures := 0

	for {
		wasConnected, err := m.session(ctx)

		if ctx.Err() != nil {
			m.setState(Disconnected, nil)
			return nil
		}
		if errors.Is(err, ErrAuthFailed) {
			m.logger.Warn("Server refused credential", "error", err)
			m.setState(Disconnected, ErrAuthFailed)
			return ErrAuthFailed
		}
		m.setState(Disconnected, nil)

		if wasConnected {
			b.Reset()
			failures = 0
		}
		failures++
		delay := b.NextBackOff()
		if (m.maxRetries > 0 && failures > m.maxRetries) || delay == backoff.Stop {
			m.logger.Error("Giving up reconnecting", "attempts", failures, "error", err)
			m.setState(Disconnected, ErrRetriesExhausted)
			return ErrRetriesExhausted
		}

		m.logger.Info("Connection lost, retrying", "attempt", failures, "delay", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.setState(Disconnected, nil)
			return nil
		case <-timer.C:
		}
	}
}

// Disconnect ends Run and closes the transport. Joined rooms are kept and
// replayed by the next Run.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	t := m.transport
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if t != nil {
		_ = t.Close()
	}
}

// SetToken replaces the credential used by the next connection attempt.
func (m *Manager) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the reason the last Run gave up, if it did.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cause
}

// JoinChat records the subscription and sends it if connected. While
// disconnected it is sent on the next connect.
func (m *Manager) JoinChat(ctx context.Context, chatID string) error {
	m.mu.Lock()
	m.joined[chatID] = struct{}{}
	m.mu.Unlock()
	return m.sendIfConnected(ctx, events.JoinChat{ChatID: chatID})
}

// LeaveChat drops the subscription and tells the server if connected.
func (m *Manager) LeaveChat(ctx context.Context, chatID string) error {
	m.mu.Lock()
	delete(m.joined, chatID)
	m.mu.Unlock()
	return m.sendIfConnected(ctx, events.LeaveChat{ChatID: chatID})
}

// JoinedChats returns the rooms that will be replayed on connect.
func (m *Manager) JoinedChats() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.joined)
}

// SendTyping tells the room the user is typing.
func (m *Manager) SendTyping(ctx context.Context, chatID string) error {
	return m.send(ctx, events.Typing{ChatID: chatID})
}

// SendStopTyping tells the room the user stopped typing.
func (m *Manager) SendStopTyping(ctx context.Context, chatID string) error {
	return m.send(ctx, events.StopTyping{ChatID: chatID})
}

// SetActiveChat scopes typing indicators to chatID and clears the current set.
func (m *Manager) SetActiveChat(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeChat = chatID
	m.typing = make(map[string]struct{})
}

// TypingUsers returns the names typing in the active chat.
func (m *Manager) TypingUsers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.typing)
}

// Messages returns the messages received for chatID, oldest first.
func (m *Manager) Messages(chatID string) []events.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.Message(nil), m.messages[chatID]...)
}

// Seed records messages loaded out of band (e.g. history over REST) so a
// later live copy of the same message is treated as a duplicate.
func (m *Manager) Seed(chatID string, msgs []events.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		if m.seen.add(msg.ID) {
			m.appendLocked(chatID, msg)
		}
	}
}

// session runs one connection attempt. It reports whether the server
// admitted the connection before it ended.
func (m *Manager) session(ctx context.Context) (bool, error) {
	m.setState(Connecting, nil)

	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	t, err := m.dialer.Dial(ctx, m.serverURL, token)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	m.transport = t
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.transport = nil
		m.mu.Unlock()
		_ = t.Close()
	}()

	admitted := false
	in := &inbox{m: m}
	for {
		env, err := t.Read(ctx)
		if err != nil {
			return admitted, err
		}
		e, err := events.Unwrap(env)
		if err != nil {
			m.logger.Debug("Ignoring undecodable event", "event", env.Event, "error", err)
			continue
		}

		switch v := e.(type) {
		case events.AuthError:
			m.listener.AuthError(v)
			return admitted, ErrAuthFailed
		case events.Connected:
			admitted = true
			m.setState(Connected, nil)
			if err := m.replay(ctx, t); err != nil {
				return admitted, err
			}
		}
		if err := events.DispatchOutbound(in, e); err != nil {
			m.logger.Debug("Ignoring event", "event", env.Event, "error", err)
		}
	}
}

// replay re-sends join-chat for every recorded room.
func (m *Manager) replay(ctx context.Context, t Transport) error {
	for _, chatID := range m.JoinedChats() {
		if err := m.write(ctx, t, events.JoinChat{ChatID: chatID}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) sendIfConnected(ctx context.Context, e events.Event) error {
	err := m.send(ctx, e)
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

func (m *Manager) send(ctx context.Context, e events.Event) error {
	m.mu.Lock()
	t, state := m.transport, m.state
	m.mu.Unlock()
	if t == nil || state != Connected {
		return ErrNotConnected
	}
	return m.write(ctx, t, e)
}

func (m *Manager) write(ctx context.Context, t Transport, e events.Event) error {
	env, err := events.Wrap(e)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return t.Write(wctx, env)
}

func (m *Manager) setState(s State, cause error) {
	m.mu.Lock()
	changed := m.state != s || cause != nil
	m.state = s
	if cause != nil {
		m.cause = cause
	}
	hook := m.onState
	m.mu.Unlock()
	if changed && hook != nil {
		hook(s, cause)
	}
}

func (m *Manager) appendLocked(chatID string, msg events.Message) {
	list := append(m.messages[chatID], msg)
	if len(list) > m.msgLimit {
		list = list[len(list)-m.msgLimit:]
	}
	m.messages[chatID] = list
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
