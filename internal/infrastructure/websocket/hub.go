// Package websocket pushes projected aggregate state to subscribed connections.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
)

const defaultBroadcastBufferSize = 256

// ErrHubStopped is returned by Publish after the hub has shut down.
var ErrHubStopped = errors.New("websocket hub stopped")

// Message types sent to clients.
const (
	MessageTypeState = "state"
	MessageTypeAck   = "ack"
	MessageTypeError = "error"
	MessageTypePong  = "pong"
)

// Message is the server to client frame.
type Message struct {
	Type          string          `json:"type"`
	Stream        string          `json:"stream,omitempty"`
	AggregateType string          `json:"aggregateType,omitempty"`
	Version       int             `json:"version,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// Hub tracks connections and their stream subscriptions.
type Hub struct {
	clients map[*Client]bool
	streams map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage

	mu     sync.RWMutex
	logger *slog.Logger

	done      chan struct{}
	stopOnce  sync.Once
	running   bool
	runningMu sync.RWMutex
}

type broadcastMessage struct {
	stream  string
	message []byte
}

// HubOption configures the Hub.
type HubOption func(*Hub)

// WithHubLogger sets the logger for the hub.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHub creates a new Hub with the given options.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		streams:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, defaultBroadcastBufferSize),
		logger:     slog.Default(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub's main event loop. It should be run as a goroutine.
func (h *Hub) Run(ctx context.Context) {
	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		return
	}
	h.running = true
	h.runningMu.Unlock()

	h.logger.InfoContext(ctx, "websocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case <-h.done:
			h.shutdown()
			return
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case msg := <-h.broadcast:
			h.handleBroadcast(msg)
		}
	}
}

// Stop signals the hub to stop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) shutdown() {
	h.runningMu.Lock()
	h.running = false
	h.runningMu.Unlock()
	h.Stop()

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.Close()
	}
	h.clients = make(map[*Client]bool)
	h.streams = make(map[string]map[*Client]bool)

	h.logger.Info("websocket hub stopped")
}

// Register registers a new client with the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister unregisters a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	h.logger.Debug("client registered",
		slog.String("client_id", client.id),
		slog.Int("total_clients", len(h.clients)),
	)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	for _, stream := range client.Streams() {
		h.removeFromStream(client, stream)
	}
	delete(h.clients, client)
	client.Close()

	h.logger.Debug("client unregistered",
		slog.String("client_id", client.id),
		slog.Int("total_clients", len(h.clients)),
	)
}

// Subscribe adds a client to a stream's subscribers.
func (h *Hub) Subscribe(client *Client, stream string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.IsClosed() {
		return
	}
	if h.streams[stream] == nil {
		h.streams[stream] = make(map[*Client]bool)
	}
	h.streams[stream][client] = true
	client.addStream(stream)
}

// Unsubscribe removes a client from a stream's subscribers.
func (h *Hub) Unsubscribe(client *Client, stream string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromStream(client, stream)
}

func (h *Hub) removeFromStream(client *Client, stream string) {
	if subs, ok := h.streams[stream]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.streams, stream)
		}
	}
	client.removeStream(stream)
}

// Publish queues a message for every subscriber of stream.
// Slow clients drop messages rather than block the hub.
func (h *Hub) Publish(ctx context.Context, stream string, message []byte) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	select {
	case h.broadcast <- &broadcastMessage{stream: stream, message: message}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) handleBroadcast(msg *broadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.streams[msg.stream] {
		if !client.Send(msg.message) {
			h.logger.Warn("client send buffer full, dropping message",
				slog.String("client_id", client.id),
				slog.String("stream", msg.stream),
			)
		}
	}
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StreamCount returns the number of streams with at least one subscriber.
func (h *Hub) StreamCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams)
}

// Subscribers returns the number of clients subscribed to stream.
func (h *Hub) Subscribers(stream string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[stream])
}

// IsRunning returns whether the hub is currently running.
func (h *Hub) IsRunning() bool {
	h.runningMu.RLock()
	defer h.runningMu.RUnlock()
	return h.running
}
