package server

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/nfrund/relay/internal/handlers"
	"github.com/nfrund/relay/internal/middleware"
	"github.com/nfrund/relay/internal/pubsub"
	"github.com/nfrund/relay/internal/realtime"
	"github.com/nfrund/relay/internal/websocket"
)

// Dependencies holds the services the HTTP server routes to.
type Dependencies struct {
	Authenticator middleware.TokenAuthenticator
	Hub           *realtime.Hub
	Store         handlers.ChatStore
	// Health is optional; without it readiness always succeeds.
	Health    handlers.Pinger
	Publisher pubsub.Publisher
}

// Options tunes the HTTP surface.
type Options struct {
	SendBuffer     int
	AllowedOrigins []string
	RateLimit      float64
	HistoryLimit   int
	Version        string
}

// Server holds the echo instance and its handlers.
type Server struct {
	E      *echo.Echo
	logger *slog.Logger

	chatHandler     *handlers.ChatHandler
	presenceHandler *handlers.PresenceHandler
	healthHandler   *handlers.HealthHandler
	socketServer    *websocket.Server
	auth            middleware.TokenAuthenticator
	rateLimit       float64
}

// New builds the server and registers its routes.
func New(deps Dependencies, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewValidator()
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.Logger(logger))

	wsOpts := []websocket.Option{websocket.WithOriginPatterns(opts.AllowedOrigins...), websocket.WithLogger(logger)}
	if opts.SendBuffer > 0 {
		wsOpts = append(wsOpts, websocket.WithSendBuffer(opts.SendBuffer))
	}

	s := &Server{
		E:               e,
		logger:          logger.With("component", "http"),
		chatHandler:     handlers.NewChatHandler(deps.Store, deps.Hub, deps.Publisher, opts.HistoryLimit),
		presenceHandler: handlers.NewPresenceHandler(deps.Hub.Presence(), deps.Hub),
		healthHandler:   handlers.NewHealthHandler(deps.Health, opts.Version),
		socketServer:    websocket.NewServer(deps.Hub, wsOpts...),
		auth:            deps.Authenticator,
		rateLimit:       opts.RateLimit,
	}
	s.RegisterRoutes()
	return s
}

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	s.E.GET("/healthz", s.healthHandler.Live)
	s.E.GET("/readyz", s.healthHandler.Ready)
	s.E.GET("/ws", s.socketServer.Handler())

	api := s.E.Group("/api", middleware.RateLimiter(s.rateLimit), middleware.Auth(s.auth))
	api.GET("/chats", s.chatHandler.ListChats)
	api.POST("/chats", s.chatHandler.CreateChat)
	api.GET("/chats/:id", s.chatHandler.GetChat)
	api.DELETE("/chats/:id", s.chatHandler.DeleteChat)
	api.POST("/chats/:id/messages", s.chatHandler.PostMessage)
	api.POST("/chats/:id/participants", s.chatHandler.AddParticipant)
	api.DELETE("/chats/:id/participants/:userID", s.chatHandler.RemoveParticipant)

	api.GET("/presence", s.presenceHandler.GetPresence)
	api.GET("/users/:id/presence", s.presenceHandler.GetUserPresence)
}
