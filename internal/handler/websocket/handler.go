// Package websocket provides HTTP handlers for WebSocket connections.
package websocket

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/lllypuk/estately/internal/infrastructure/httpserver"
	ws "github.com/lllypuk/estately/internal/infrastructure/websocket"
)

// Handler configuration constants.
const (
	defaultHandlerReadBufferSize  = 1024
	defaultHandlerWriteBufferSize = 1024
)

// HandlerConfig holds configuration for the WebSocket handler.
type HandlerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int

	// CheckOrigin returns true if the request origin is acceptable.
	// If nil, all origins are allowed.
	CheckOrigin func(r *http.Request) bool

	ClientConfig ws.ClientConfig
}

// DefaultHandlerConfig returns a default configuration.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		ReadBufferSize:  defaultHandlerReadBufferSize,
		WriteBufferSize: defaultHandlerWriteBufferSize,
		ClientConfig:    ws.DefaultClientConfig(),
	}
}

// Handler upgrades connections and attaches them to the hub.
type Handler struct {
	hub          *ws.Hub
	upgrader     websocket.Upgrader
	logger       *slog.Logger
	clientConfig ws.ClientConfig
}

// HandlerOption configures the Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the logger for the handler.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithHandlerConfig sets the handler configuration.
func WithHandlerConfig(config HandlerConfig) HandlerOption {
	return func(h *Handler) {
		if config.ReadBufferSize > 0 {
			h.upgrader.ReadBufferSize = config.ReadBufferSize
		}
		if config.WriteBufferSize > 0 {
			h.upgrader.WriteBufferSize = config.WriteBufferSize
		}
		if config.CheckOrigin != nil {
			h.upgrader.CheckOrigin = config.CheckOrigin
		}
		h.clientConfig = config.ClientConfig
	}
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *ws.Hub, opts ...HandlerOption) *Handler {
	h := &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  defaultHandlerReadBufferSize,
			WriteBufferSize: defaultHandlerWriteBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:       slog.Default(),
		clientConfig: ws.DefaultClientConfig(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// RegisterRoutes implements httpserver.RouteRegistrar.
//   - GET /ws - subscriptions are managed with subscribe/unsubscribe frames
//   - GET /ws/streams/:id - subscribed to one stream from the start
func (h *Handler) RegisterRoutes(r *httpserver.Router) {
	r.WS().GET("", h.HandleWebSocket)
	r.WS().GET("/streams/:id", h.HandleStream)
}

// HandleWebSocket upgrades the connection without initial subscriptions.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	h.serve(c, "")
	return nil
}

// HandleStream upgrades the connection and subscribes it to the stream in the path.
func (h *Handler) HandleStream(c echo.Context) error {
	streamID := c.Param("id")
	if streamID == "" {
		return httpserver.RespondErrorWithCode(c, http.StatusBadRequest, "INVALID_INPUT", "stream id is required")
	}
	h.serve(c, streamID)
	return nil
}

func (h *Handler) serve(c echo.Context, streamID string) {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.logger.Warn("websocket upgrade failed",
			slog.String("remote_ip", c.RealIP()),
			slog.String("error", err.Error()),
		)
		return
	}

	client := ws.NewClient(h.hub, conn,
		ws.WithClientConfig(h.clientConfig),
		ws.WithClientLogger(h.logger),
	)
	h.hub.Register(client)
	if streamID != "" {
		h.hub.Subscribe(client, streamID)
	}

	h.logger.Info("websocket connection established",
		slog.String("client_id", client.ID()),
		slog.String("stream_id", streamID),
		slog.String("remote_ip", c.RealIP()),
	)

	go client.WritePump()
	go client.ReadPump()
}
