package websocket_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/domain/auth_errors"
	"github.com/nfrund/relay/internal/events"
	"github.com/nfrund/relay/internal/presence"
	"github.com/nfrund/relay/internal/realtime"
	"github.com/nfrund/relay/internal/rooms"
	ws "github.com/nfrund/relay/internal/websocket"
)

type tokenAuth struct{}

// Authenticate treats the token as the user id; "bad" is refused.
func (tokenAuth) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	switch token {
	case "":
		return nil, auth_errors.ErrMissingToken
	case "bad":
		return nil, auth_errors.ErrInvalidToken
	}
	return &domain.User{ID: token, Name: strings.ToUpper(token)}, nil
}

type staticMembership map[string][]string

func (m staticMembership) ListChatIDsForUser(ctx context.Context, userID string) ([]string, error) {
	return m[userID], nil
}

type testFixture struct {
	hub    *realtime.Hub
	server *httptest.Server
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	hub := realtime.NewHub(tokenAuth{},
		staticMembership{"alice": {"c1"}, "bob": {"c1"}},
		presence.NewDirectory(presence.WithOfflineDebounce(0)),
		rooms.NewRegistry())
	require.NoError(t, hub.Start(context.Background()))

	e := echo.New()
	e.GET("/ws", ws.NewServer(hub).Handler())
	server := httptest.NewServer(e)

	t.Cleanup(func() {
		hub.Stop()
		server.Close()
	})
	return &testFixture{hub: hub, server: server}
}

func (f *testFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close(websocket.StatusNormalClosure, "test complete")
	})
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var env events.Envelope
	require.NoError(t, wsjson.Read(ctx, conn, &env))
	e, err := events.Unwrap(env)
	require.NoError(t, err)
	return e
}

func readUntil(t *testing.T, conn *websocket.Conn, kind events.Kind) events.Event {
	t.Helper()
	for {
		e := readEvent(t, conn)
		if e.Kind() == kind {
			return e
		}
	}
}

func TestHandshake_RefusedCredential(t *testing.T) {
	f := setupTestFixture(t)
	conn := f.dial(t, "bad")

	e := readEvent(t, conn)
	authErr, ok := e.(events.AuthError)
	require.True(t, ok, "got %T", e)
	assert.Contains(t, authErr.Message, "invalid token")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Equal(t, ws.StatusAuthFailed, websocket.CloseStatus(err))

	users, conns := f.hub.Presence().Stats()
	assert.Zero(t, users)
	assert.Zero(t, conns)
}

func TestHandshake_AdmitsAndSubscribes(t *testing.T) {
	f := setupTestFixture(t)
	conn := f.dial(t, "alice")

	connected, ok := readEvent(t, conn).(events.Connected)
	require.True(t, ok)
	assert.Equal(t, "alice", connected.UserID)
	assert.Equal(t, []string{"c1"}, connected.Rooms)
	assert.False(t, connected.Degraded)
	assert.Equal(t, []string{connected.ConnectionID}, f.hub.Rooms().MembersOf("c1"))
}

func TestMessageAndTypingDelivery(t *testing.T) {
	f := setupTestFixture(t)
	alice := f.dial(t, "alice")
	readUntil(t, alice, events.KindConnected)
	bob := f.dial(t, "bob")
	readUntil(t, bob, events.KindConnected)

	ctx := context.Background()
	require.NoError(t, wsjson.Write(ctx, bob, events.Envelope{Event: events.KindTyping, Data: []byte(`{"chatId":"c1"}`)}))
	typing := readUntil(t, alice, events.KindUserTyping).(events.UserTyping)
	assert.Equal(t, events.UserTyping{UserID: "bob", UserName: "BOB", ChatID: "c1"}, typing)

	f.hub.BroadcastMessage("c1", domain.Message{ID: "m1", Content: "hi", Sender: "bob", ChatID: "c1", CreatedAt: time.Now()})
	nm := readUntil(t, alice, events.KindNewMessage).(events.NewMessage)
	assert.Equal(t, "m1", nm.Message.ID)

	// Bob gets the message but never his own typing event.
	for {
		e := readEvent(t, bob)
		require.NotEqual(t, events.KindUserTyping, e.Kind())
		if e.Kind() == events.KindNewMessage {
			break
		}
	}
}

func TestClientClose_Disconnects(t *testing.T) {
	f := setupTestFixture(t)
	conn := f.dial(t, "alice")
	readUntil(t, conn, events.KindConnected)
	require.True(t, f.hub.Presence().IsOnline("alice"))

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	assert.Eventually(t, func() bool {
		return !f.hub.Presence().IsOnline("alice") && len(f.hub.Rooms().MembersOf("c1")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
