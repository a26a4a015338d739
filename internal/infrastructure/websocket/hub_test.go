package websocket_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ws "github.com/lllypuk/estately/internal/infrastructure/websocket"
)

func TestNewHub(t *testing.T) {
	hub := ws.NewHub(ws.WithHubLogger(nil))

	assert.False(t, hub.IsRunning())
	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, 0, hub.StreamCount())
}

func TestHub_Run(t *testing.T) {
	t.Run("stops with context cancellation", func(t *testing.T) {
		hub := ws.NewHub()
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan struct{})
		go func() {
			hub.Run(ctx)
			close(done)
		}()
		require.Eventually(t, hub.IsRunning, time.Second, 5*time.Millisecond)

		cancel()

		select {
		case <-done:
			assert.False(t, hub.IsRunning())
		case <-time.After(time.Second):
			t.Fatal("hub did not stop in time")
		}
	})

	t.Run("stops with Stop method", func(t *testing.T) {
		hub := ws.NewHub()

		done := make(chan struct{})
		go func() {
			hub.Run(context.Background())
			close(done)
		}()
		require.Eventually(t, hub.IsRunning, time.Second, 5*time.Millisecond)

		hub.Stop()
		hub.Stop()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("hub did not stop in time")
		}
	})

	t.Run("does not start twice", func(t *testing.T) {
		hub := ws.NewHub()
		go hub.Run(t.Context())
		require.Eventually(t, hub.IsRunning, time.Second, 5*time.Millisecond)

		done := make(chan struct{})
		go func() {
			hub.Run(t.Context())
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
			t.Fatal("second Run call did not return immediately")
		}
	})
}

func TestHub_PublishReachesOnlySubscribers(t *testing.T) {
	hub := startHub(t)

	client1, recv1 := connectClient(t, hub)
	client2, recv2 := connectClient(t, hub)
	hub.Subscribe(client1, "p-1")
	hub.Subscribe(client2, "p-2")

	assert.Equal(t, 2, hub.StreamCount())
	assert.Equal(t, 1, hub.Subscribers("p-1"))

	msg := []byte(`{"type":"state","stream":"p-1","version":3}`)
	require.NoError(t, hub.Publish(context.Background(), "p-1", msg))

	assertReceived(t, recv1, msg)
	assertNotReceived(t, recv2)
}

func TestHub_UnregisterDropsSubscriptions(t *testing.T) {
	hub := startHub(t)

	client, _ := connectClient(t, hub)
	hub.Subscribe(client, "p-1")
	hub.Subscribe(client, "p-2")
	require.Equal(t, 2, hub.StreamCount())

	hub.Unregister(client)

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, hub.StreamCount())
	assert.True(t, client.IsClosed())
}

func TestHub_PublishAfterStop(t *testing.T) {
	hub := ws.NewHub()
	hub.Stop()

	// буфер broadcast свободен, но остановленный хаб не должен принимать сообщения
	for range 100 {
		err := hub.Publish(context.Background(), "p-1", []byte(`{}`))
		require.ErrorIs(t, err, ws.ErrHubStopped)
	}
}

func TestClient_SubscribeOverConnection(t *testing.T) {
	hub := startHub(t)
	client, conn := serverClient(t, hub)
	go client.ReadPump()
	go client.WritePump()

	require.NoError(t, conn.WriteJSON(ws.ClientMessage{Type: "subscribe", Stream: "l-1"}))

	var ack ws.Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, ws.MessageTypeAck, ack.Type)
	assert.Equal(t, "l-1", ack.Stream)
	assert.True(t, client.IsSubscribed("l-1"))

	require.NoError(t, conn.WriteJSON(ws.ClientMessage{Type: "ping"}))
	var pong ws.Message
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, ws.MessageTypePong, pong.Type)

	require.NoError(t, conn.WriteJSON(ws.ClientMessage{Type: "subscribe"}))
	var failure ws.Message
	require.NoError(t, conn.ReadJSON(&failure))
	assert.Equal(t, ws.MessageTypeError, failure.Type)
}

func TestClient_SendAfterClose(t *testing.T) {
	hub := ws.NewHub()
	client, _ := serverClient(t, hub)

	client.Close()
	client.Close()

	assert.False(t, client.Send([]byte("x")))
}

func startHub(t *testing.T) *ws.Hub {
	t.Helper()
	hub := ws.NewHub()
	go hub.Run(t.Context())
	require.Eventually(t, hub.IsRunning, time.Second, 5*time.Millisecond)
	return hub
}

// connectClient registers a client whose outbound frames arrive on the returned channel.
func connectClient(t *testing.T, hub *ws.Hub) (*ws.Client, chan []byte) {
	t.Helper()

	client, conn := serverClient(t, hub)
	received := make(chan []byte, 10)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- msg
		}
	}()
	go client.WritePump()
	return client, received
}

// serverClient registers a hub client and returns the peer connection.
func serverClient(t *testing.T, hub *ws.Hub) (*ws.Client, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = peer.Close() })

	var serverConn *websocket.Conn
	select {
	case serverConn = <-serverConns:
	case <-time.After(time.Second):
		t.Fatal("server side of websocket not established")
	}

	client := ws.NewClient(hub, serverConn)
	t.Cleanup(client.Close)
	if hub.IsRunning() {
		hub.Register(client)
	}
	return client, peer
}

func assertReceived(t *testing.T, ch chan []byte, expected []byte) {
	t.Helper()
	select {
	case received := <-ch:
		var want, got any
		require.NoError(t, json.Unmarshal(expected, &want))
		require.NoError(t, json.Unmarshal(received, &got))
		assert.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Error("expected to receive message but did not")
	}
}

func assertNotReceived(t *testing.T, ch chan []byte) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Errorf("expected no message but received: %s", string(msg))
	case <-time.After(50 * time.Millisecond):
	}
}
