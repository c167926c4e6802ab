package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/events"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pingPeriod is how often the server pings an idle peer.
	pingPeriod = 54 * time.Second
	// maxFrameSize limits inbound frames.
	maxFrameSize = 64 * 1024
)

var (
	// ErrSendBufferFull is returned by Send when the connection's outbound
	// queue has no room. The event is dropped.
	ErrSendBufferFull = errors.New("send buffer full")
	// ErrConnClosed is returned by Send after the connection has closed.
	ErrConnClosed = errors.New("connection closed")
)

// Conn is one admitted socket. Outbound frames go through a buffered queue
// drained by a single writer, so per-connection order equals Send order.
type Conn struct {
	id     string
	user   *domain.User
	ws     *websocket.Conn
	logger *slog.Logger

	mu     sync.RWMutex
	queue  chan []byte
	closed bool

	closeOnce   sync.Once
	closeReason string
	done        chan struct{}
}

func newConn(id string, user *domain.User, ws *websocket.Conn, buffer int, logger *slog.Logger) *Conn {
	return &Conn{
		id:     id,
		user:   user,
		ws:     ws,
		logger: logger.With("conn_id", id, "user_id", user.ID),
		queue:  make(chan []byte, buffer),
		done:   make(chan struct{}),
	}
}

func (c *Conn) ID() string       { return c.id }
func (c *Conn) UserID() string   { return c.user.ID }
func (c *Conn) UserName() string { return c.user.DisplayName() }

// Send queues env without blocking.
func (c *Conn) Send(env events.Envelope) error {
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.queue <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the writer, which then closes the socket with reason.
func (c *Conn) Close(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeReason = reason
		c.closed = true
		close(c.queue)
		c.mu.Unlock()
		close(c.done)
	})
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// readPump hands every inbound frame to handle until the peer goes away or
// ctx ends.
func (c *Conn) readPump(ctx context.Context, handle func(frame []byte) error) {
	for {
		typ, frame, err := c.ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				c.logger.Debug("WebSocket closed by client")
			case errors.Is(err, context.Canceled):
			default:
				c.logger.Debug("WebSocket read ended", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			c.logger.Debug("Ignoring binary frame")
			continue
		}
		if err := handle(frame); err != nil {
			c.logger.Warn("Rejected client frame", "error", err)
		}
	}
}

// writePump drains the send queue until Close, pinging when idle.
func (c *Conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.queue:
			if !ok {
				c.mu.RLock()
				reason := c.closeReason
				c.mu.RUnlock()
				_ = c.ws.Close(websocket.StatusNormalClosure, reason)
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.ws.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				c.logger.Debug("WebSocket write error", "error", err)
				c.Close("write failed")
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				c.logger.Debug("WebSocket ping failed", "error", err)
				c.Close("ping failed")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
