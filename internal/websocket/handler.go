// Package websocket is the socket transport for realtime chat: it performs
// the authenticated handshake and pumps frames between a peer and the hub.
package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/relay/internal/auth"
	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/domain/auth_errors"
	"github.com/nfrund/relay/internal/events"
	"github.com/nfrund/relay/internal/presence"
	"github.com/nfrund/relay/internal/realtime"
)

// StatusAuthFailed closes a socket whose handshake credential was refused.
const StatusAuthFailed websocket.StatusCode = 4401

// DefaultSendBuffer is the outbound queue length per connection.
const DefaultSendBuffer = 256

// Hub is the part of realtime.Hub the transport drives.
type Hub interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
	Admit(ctx context.Context, conn presence.Conn) (realtime.Admission, error)
	HandleFrame(conn presence.Conn, frame []byte) error
	Disconnect(connID string)
}

// Server accepts chat sockets.
type Server struct {
	hub            Hub
	sendBuffer     int
	originPatterns []string
	logger         *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithSendBuffer sets the per-connection outbound queue length.
func WithSendBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sendBuffer = n
		}
	}
}

// WithOriginPatterns restricts cross-origin handshakes. With no patterns
// every origin is accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) {
		s.originPatterns = patterns
	}
}

// WithLogger sets the logger connections derive theirs from.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l.With("component", "websocket")
		}
	}
}

// NewServer creates a socket server for hub.
func NewServer(hub Hub, opts ...Option) *Server {
	s := &Server{
		hub:        hub,
		sendBuffer: DefaultSendBuffer,
		logger:     slog.Default().With("component", "websocket"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the echo handler for the socket endpoint. The credential
// is read from the token query parameter or an Authorization bearer header.
// The handler blocks for the lifetime of the connection.
func (s *Server) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		token := c.QueryParam("token")
		if token == "" {
			token = auth.TokenFromHeader(req.Header.Get(echo.HeaderAuthorization))
		}

		user, authErr := s.hub.Authenticate(req.Context(), token)
		if authErr != nil && !errors.Is(authErr, auth_errors.ErrAuthentication) {
			s.logger.Error("Handshake could not be verified", "error", authErr)
			return echo.NewHTTPError(http.StatusServiceUnavailable, "authentication unavailable")
		}

		ws, err := websocket.Accept(c.Response(), req, s.acceptOptions())
		if err != nil {
			s.logger.Warn("Failed to upgrade connection to WebSocket", "error", err)
			return nil
		}
		ws.SetReadLimit(maxFrameSize)

		if authErr != nil {
			s.refuse(req.Context(), ws, authErr)
			return nil
		}

		s.serve(req.Context(), ws, user)
		return nil
	}
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	if len(s.originPatterns) == 0 {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: s.originPatterns}
}

// refuse tells the peer why and closes. The connection was never admitted.
func (s *Server) refuse(ctx context.Context, ws *websocket.Conn, cause error) {
	s.logger.Info("Refused socket handshake", "error", cause)
	env, err := events.Wrap(events.AuthError{Message: cause.Error()})
	if err == nil {
		wctx, cancel := context.WithTimeout(ctx, writeWait)
		_ = wsjson.Write(wctx, ws, env)
		cancel()
	}
	_ = ws.Close(StatusAuthFailed, "authentication failed")
}

func (s *Server) serve(ctx context.Context, ws *websocket.Conn, user *domain.User) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn := newConn(uuid.NewString(), user, ws, s.sendBuffer, s.logger)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		conn.writePump(ctx)
	}()

	if _, err := s.hub.Admit(ctx, conn); err != nil {
		conn.logger.Error("Admission failed", "error", err)
		conn.Close("admission failed")
		<-writerDone
		return
	}

	// A closed conn (hub shutdown, write failure) must also end the reader.
	go func() {
		select {
		case <-conn.Done():
			<-writerDone
			cancel()
		case <-ctx.Done():
		}
	}()

	conn.readPump(ctx, func(frame []byte) error {
		return s.hub.HandleFrame(conn, frame)
	})

	s.hub.Disconnect(conn.ID())
	conn.Close("client disconnected")
	<-writerDone
}
