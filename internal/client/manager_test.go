package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nfrund/relay/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransportLost = errors.New("transport lost")

type fakeTransport struct {
	incoming chan events.Envelope
	closed   chan struct{}
	once     sync.Once

	mu      sync.Mutex
	written []events.Envelope
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		incoming: make(chan events.Envelope, 16),
		closed:   make(chan struct{}),
	}
}

func (t *fakeTransport) Read(ctx context.Context) (events.Envelope, error) {
	select {
	case env := <-t.incoming:
		return env, nil
	case <-t.closed:
		return events.Envelope{}, errTransportLost
	case <-ctx.Done():
		return events.Envelope{}, ctx.Err()
	}
}

func (t *fakeTransport) Write(ctx context.Context, env events.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.written = append(t.written, env)
	return nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) push(tb testing.TB, e events.Event) {
	tb.Helper()
	env, err := events.Wrap(e)
	require.NoError(tb, err)
	t.incoming <- env
}

func (t *fakeTransport) joins() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, env := range t.written {
		if env.Event != events.KindJoinChat {
			continue
		}
		e, err := events.Unwrap(env)
		if err == nil {
			out = append(out, e.(events.JoinChat).ChatID)
		}
	}
	return out
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	err        error
	dials      int
	tokens     []string
}

func (d *fakeDialer) Dial(ctx context.Context, serverURL, token string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.tokens = append(d.tokens, token)
	if d.err != nil {
		return nil, d.err
	}
	if len(d.transports) == 0 {
		return nil, errors.New("no transport available")
	}
	t := d.transports[0]
	d.transports = d.transports[1:]
	return t, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type recordingListener struct {
	NopListener
	mu       sync.Mutex
	messages []events.NewMessage
}

func (l *recordingListener) NewMessage(e events.NewMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, e)
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (s *stateLog) hook(st State, _ error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
}

func (s *stateLog) snapshot() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.states...)
}

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

func newTestManager(d Dialer, opts ...Option) *Manager {
	opts = append([]Option{WithDialer(d), WithBackOff(fastBackOff)}, opts...)
	return NewManager("ws://relay.test/ws", "tok", opts...)
}

func runAsync(m *Manager) <-chan error {
	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()
	return done
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, 2*time.Second, 5*time.Millisecond,
		"state never became %s", want)
}

func TestManager_ConnectReplaysJoins(t *testing.T) {
	tr := newFakeTransport()
	m := newTestManager(&fakeDialer{transports: []*fakeTransport{tr}})
	require.NoError(t, m.JoinChat(context.Background(), "c1"), "join while disconnected is recorded")
	require.NoError(t, m.JoinChat(context.Background(), "c2"))

	done := runAsync(m)
	waitState(t, m, Connecting)
	tr.push(t, events.Connected{ConnectionID: "x", UserID: "u"})
	waitState(t, m, Connected)

	assert.Eventually(t, func() bool { return len(tr.joins()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"c1", "c2"}, tr.joins())

	m.Disconnect()
	require.NoError(t, <-done)
	assert.Equal(t, Disconnected, m.State())
	assert.Equal(t, []string{"c1", "c2"}, m.JoinedChats(), "subscriptions survive disconnect")
}

func TestManager_DeduplicatesMessages(t *testing.T) {
	tr := newFakeTransport()
	listener := &recordingListener{}
	m := newTestManager(&fakeDialer{transports: []*fakeTransport{tr}}, WithListener(listener))
	done := runAsync(m)
	defer func() {
		m.Disconnect()
		<-done
	}()

	tr.push(t, events.Connected{})
	msg := events.NewMessage{ChatID: "c1", Message: events.Message{ID: "m1", Content: "hi", ChatID: "c1"}}
	tr.push(t, msg)
	tr.push(t, msg)
	tr.push(t, events.NewMessage{ChatID: "c1", Message: events.Message{ID: "m2", ChatID: "c1"}})

	assert.Eventually(t, func() bool { return len(m.Messages("c1")) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, m.Messages("c1"), 2)
	assert.Equal(t, 2, listener.count())
}

func TestManager_SeedMarksHistoryAsSeen(t *testing.T) {
	m := NewManager("ws://relay.test/ws", "tok")
	m.Seed("c1", []events.Message{{ID: "m1", ChatID: "c1"}})
	in := &inbox{m: m}
	in.NewMessage(events.NewMessage{ChatID: "c1", Message: events.Message{ID: "m1", ChatID: "c1"}})
	assert.Len(t, m.Messages("c1"), 1)
}

func TestManager_TypingScopedToActiveChat(t *testing.T) {
	m := NewManager("ws://relay.test/ws", "tok")
	in := &inbox{m: m}
	m.SetActiveChat("c1")

	in.UserTyping(events.UserTyping{UserID: "u2", UserName: "Bob", ChatID: "c1"})
	in.UserTyping(events.UserTyping{UserID: "u2", UserName: "Bob", ChatID: "c1"})
	in.UserTyping(events.UserTyping{UserID: "u3", UserName: "Cy", ChatID: "c2"})
	assert.Equal(t, []string{"Bob"}, m.TypingUsers())

	in.UserStopTyping(events.UserStopTyping{UserID: "u2", UserName: "Bob", ChatID: "c1"})
	assert.Empty(t, m.TypingUsers())

	in.UserTyping(events.UserTyping{UserName: "Bob", ChatID: "c1"})
	m.SetActiveChat("c2")
	assert.Empty(t, m.TypingUsers(), "switching chats clears indicators")
}

func TestManager_ReconnectsAndReplays(t *testing.T) {
	first, second := newFakeTransport(), newFakeTransport()
	d := &fakeDialer{transports: []*fakeTransport{first, second}}
	m := newTestManager(d)
	require.NoError(t, m.JoinChat(context.Background(), "c1"))

	done := runAsync(m)
	defer func() {
		m.Disconnect()
		<-done
	}()

	first.push(t, events.Connected{})
	waitState(t, m, Connected)
	assert.Eventually(t, func() bool { return len(first.joins()) == 1 }, time.Second, 5*time.Millisecond)

	first.Close()
	assert.Eventually(t, func() bool { return d.dialCount() == 2 }, time.Second, 5*time.Millisecond)

	second.push(t, events.Connected{})
	waitState(t, m, Connected)
	assert.Eventually(t, func() bool { return len(second.joins()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"c1"}, second.joins())

	second.push(t, events.NewMessage{ChatID: "c1", Message: events.Message{ID: "m9", ChatID: "c1"}})
	assert.Eventually(t, func() bool { return len(m.Messages("c1")) == 1 }, time.Second, 5*time.Millisecond)
}

func TestManager_AuthFailureIsTerminal(t *testing.T) {
	tr := newFakeTransport()
	states := &stateLog{}
	d := &fakeDialer{transports: []*fakeTransport{tr}}
	m := newTestManager(d, WithStateHook(states.hook))

	done := runAsync(m)
	tr.push(t, events.AuthError{Message: "token expired"})

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrAuthFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on auth failure")
	}
	assert.Equal(t, Disconnected, m.State())
	assert.ErrorIs(t, m.Err(), ErrAuthFailed)
	assert.Equal(t, 1, d.dialCount(), "no retry after a refused credential")
	assert.NotContains(t, states.snapshot(), Connected)
}

func TestManager_GivesUpAfterMaxRetries(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	m := newTestManager(d, WithMaxRetries(3))

	err := m.Run(context.Background())
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, m.Err(), ErrRetriesExhausted)
	assert.Equal(t, 4, d.dialCount())
	assert.Equal(t, Disconnected, m.State())
}

func TestManager_SendRequiresConnection(t *testing.T) {
	m := NewManager("ws://relay.test/ws", "tok")
	assert.ErrorIs(t, m.SendTyping(context.Background(), "c1"), ErrNotConnected)
	assert.ErrorIs(t, m.SendStopTyping(context.Background(), "c1"), ErrNotConnected)
	assert.NoError(t, m.LeaveChat(context.Background(), "c1"))
}

func TestManager_SetTokenUsedOnNextRun(t *testing.T) {
	d := &fakeDialer{err: errors.New("down")}
	m := newTestManager(d, WithMaxRetries(1))
	m.SetToken("fresh")
	_ = m.Run(context.Background())
	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Equal(t, "fresh", d.tokens[0])
}
