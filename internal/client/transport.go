package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/nfrund/relay/internal/events"
)

// statusAuthFailed mirrors the close code the server uses for refused handshakes.
const statusAuthFailed websocket.StatusCode = 4401

// Transport is one open connection to the server.
type Transport interface {
	Read(ctx context.Context) (events.Envelope, error)
	Write(ctx context.Context, env events.Envelope) error
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, serverURL, token string) (Transport, error)
}

// WebsocketDialer dials the server's socket endpoint, passing the token as
// the token query parameter.
type WebsocketDialer struct {
	HTTPClient *http.Client
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, serverURL, token string) (Transport, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPClient: d.HTTPClient})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		return nil, err
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (t *wsTransport) Read(ctx context.Context) (events.Envelope, error) {
	var env events.Envelope
	if err := wsjson.Read(ctx, t.conn, &env); err != nil {
		if websocket.CloseStatus(err) == statusAuthFailed {
			return env, fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		return env, err
	}
	return env, nil
}

func (t *wsTransport) Write(ctx context.Context, env events.Envelope) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return wsjson.Write(ctx, t.conn, env)
}

func (t *wsTransport) Close() error {
	err := t.conn.Close(websocket.StatusNormalClosure, "client closing")
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return nil
	}
	return err
}
