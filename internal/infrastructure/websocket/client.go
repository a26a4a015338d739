package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lllypuk/estately/internal/domain/uuid"
)

// Default client configuration constants.
const (
	defaultReadBufferSize  = 1024
	defaultWriteBufferSize = 1024
	defaultPingInterval    = 30 * time.Second
	defaultPongWait        = 60 * time.Second
	defaultWriteWait       = 10 * time.Second
	defaultMaxMessageSize  = 4096
	defaultSendBufferSize  = 64
)

// ClientConfig holds configuration for WebSocket clients.
type ClientConfig struct {
	ReadBufferSize  int
	WriteBufferSize int

	// PingInterval must be shorter than PongWait.
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration

	MaxMessageSize int64
}

// DefaultClientConfig returns sensible default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ReadBufferSize:  defaultReadBufferSize,
		WriteBufferSize: defaultWriteBufferSize,
		PingInterval:    defaultPingInterval,
		PongWait:        defaultPongWait,
		WriteWait:       defaultWriteWait,
		MaxMessageSize:  defaultMaxMessageSize,
	}
}

// ClientMessage is the client to server frame.
type ClientMessage struct {
	Type   string `json:"type"`
	Stream string `json:"stream,omitempty"`
}

// Client is one websocket connection.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu      sync.RWMutex
	streams map[string]bool

	config ClientConfig
	logger *slog.Logger

	closed   bool
	closedMu sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientConfig sets the client configuration.
func WithClientConfig(config ClientConfig) ClientOption {
	return func(c *Client) {
		c.config = config
	}
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a new WebSocket client.
func NewClient(hub *Hub, conn *websocket.Conn, opts ...ClientOption) *Client {
	c := &Client{
		id:      uuid.NewUUID().String(),
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, defaultSendBufferSize),
		streams: make(map[string]bool),
		config:  DefaultClientConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Streams returns the streams this client is subscribed to.
func (c *Client) Streams() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.streams))
	for s := range c.streams {
		out = append(out, s)
	}
	return out
}

// IsSubscribed reports whether the client follows stream.
func (c *Client) IsSubscribed(stream string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streams[stream]
}

func (c *Client) addStream(stream string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams[stream] = true
}

func (c *Client) removeStream(stream string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.streams, stream)
}

// IsClosed returns whether the client connection has been closed.
func (c *Client) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

// ReadPump reads client frames until the connection fails.
// It should be run as a goroutine.
func (c *Client) ReadPump() {
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait)); err != nil {
		c.logger.Error("failed to set read deadline", slog.String("error", err.Error()))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error",
					slog.String("client_id", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		c.handleClientMessage(message)
	}
}

// WritePump drains the send buffer and keeps the connection alive with pings.
// It should be run as a goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("websocket write error",
					slog.String("client_id", c.id),
					slog.String("error", err.Error()),
				)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleClientMessage(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.reply(Message{Type: MessageTypeError, Data: quote("invalid message format")})
		return
	}

	switch msg.Type {
	case "subscribe":
		if msg.Stream == "" {
			c.reply(Message{Type: MessageTypeError, Data: quote("stream is required")})
			return
		}
		c.hub.Subscribe(c, msg.Stream)
		c.reply(Message{Type: MessageTypeAck, Stream: msg.Stream, Data: quote("subscribed")})

	case "unsubscribe":
		if msg.Stream == "" {
			c.reply(Message{Type: MessageTypeError, Data: quote("stream is required")})
			return
		}
		c.hub.Unsubscribe(c, msg.Stream)
		c.reply(Message{Type: MessageTypeAck, Stream: msg.Stream, Data: quote("unsubscribed")})

	case "ping":
		c.reply(Message{Type: MessageTypePong})

	default:
		c.reply(Message{Type: MessageTypeError, Data: quote("unknown message type: " + msg.Type)})
	}
}

func (c *Client) reply(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.Send(data)
}

func quote(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

// Send queues a frame without blocking. Returns false if the frame was dropped.
func (c *Client) Send(message []byte) bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// Close closes the client connection.
func (c *Client) Close() {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}
