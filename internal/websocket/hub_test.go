package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func setupTestHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func connectWS(t *testing.T, hub *Hub) (*websocket.Conn, func()) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect WebSocket: %v", err)
	}

	return conn, func() {
		conn.Close()
		server.Close()
	}
}

func TestHub_ClientConnects(t *testing.T) {
	hub, _ := setupTestHub(t)

	conn, cleanup := connectWS(t, hub)
	defer cleanup()

	time.Sleep(50 * time.Millisecond)
	if count := hub.ClientCount(); count != 1 {
		t.Errorf("expected 1 client, got %d", count)
	}

	conn.Close()
	time.Sleep(50 * time.Millisecond)
	if count := hub.ClientCount(); count != 0 {
		t.Errorf("expected 0 clients after disconnect, got %d", count)
	}
}

func TestHub_BroadcastReachesClients(t *testing.T) {
	hub, _ := setupTestHub(t)

	conn1, cleanup1 := connectWS(t, hub)
	defer cleanup1()
	conn2, cleanup2 := connectWS(t, hub)
	defer cleanup2()

	time.Sleep(50 * time.Millisecond)

	hub.Broadcast(IngestEvent{
		Type:      EventVideoInserted,
		VideoID:   "dQw4w9WgXcQ",
		ChannelID: "UCIALMKvObZNtJ6AmdCLP7Lg",
		Origin:    "push",
	})

	for i, conn := range []*websocket.Conn{conn1, conn2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, message, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("client %d failed to read: %v", i+1, err)
		}
		msg := string(message)
		if !strings.Contains(msg, EventVideoInserted) || !strings.Contains(msg, "dQw4w9WgXcQ") {
			t.Errorf("client %d got unexpected message: %s", i+1, msg)
		}
		if !strings.Contains(msg, `"timestamp"`) {
			t.Errorf("client %d message has no timestamp: %s", i+1, msg)
		}
	}
}

func TestHub_StopClosesClients(t *testing.T) {
	hub, cancel := setupTestHub(t)

	conn, cleanup := connectWS(t, hub)
	defer cleanup()
	time.Sleep(50 * time.Millisecond)

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to close when the hub stops")
	}
	if count := hub.ClientCount(); count != 0 {
		t.Errorf("expected 0 clients after stop, got %d", count)
	}
}

func TestHub_BroadcastWithoutClientsDoesNotBlock(t *testing.T) {
	hub, _ := setupTestHub(t)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Broadcast(IngestEvent{Type: EventStubRetrying})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked")
	}
}
