package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testStreamConfig(url string) StreamConfig {
	cfg := DefaultStreamConfig()
	cfg.Venue = "binance"
	cfg.URL = url
	cfg.ReconnectBaseDelay = 10 * time.Millisecond
	cfg.ReconnectMaxDelay = 50 * time.Millisecond
	cfg.BufferSize = 100
	return cfg
}

func waitForConn(t *testing.T, s *Stream) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.IsConnected() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("stream never connected")
}

func TestStream_ConnectAndReceive(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	stream := NewStream(testStreamConfig(wsURL(server)), nil)
	if err := stream.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopStream(t, stream)

	waitForConn(t, stream)

	select {
	case msg := <-stream.Messages():
		if msg.Venue != "binance" {
			t.Errorf("Venue = %q", msg.Venue)
		}
		if string(msg.Data) != `{"type":"heartbeat"}` {
			t.Errorf("Data = %s", msg.Data)
		}
		if msg.ReceivedAt.IsZero() {
			t.Error("ReceivedAt not set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestStream_SubscribeSendsCommand(t *testing.T) {
	var mu sync.Mutex
	var commands []subscribeCommand

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd subscribeCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				continue
			}
			mu.Lock()
			commands = append(commands, cmd)
			mu.Unlock()
		}
	})
	defer server.Close()

	stream := NewStream(testStreamConfig(wsURL(server)), nil)
	if err := stream.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopStream(t, stream)

	waitForConn(t, stream)

	if err := stream.Subscribe("BTC-USD"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := stream.Unsubscribe("BTC-USD"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(commands)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(commands) < 2 {
		t.Fatalf("server saw %d commands, want 2", len(commands))
	}
	if commands[0].Op != "subscribe" || commands[0].Symbols[0] != "BTC-USD" {
		t.Errorf("command[0] = %+v", commands[0])
	}
	if commands[1].Op != "unsubscribe" {
		t.Errorf("command[1] = %+v", commands[1])
	}
}

func TestStream_SubscribeWhileDisconnected(t *testing.T) {
	cfg := testStreamConfig("ws://127.0.0.1:1/ws")
	stream := NewStream(cfg, nil)

	if err := stream.Subscribe("BTC-USD"); err != ErrFeedUnreachable {
		t.Errorf("expected ErrFeedUnreachable, got %v", err)
	}
	// The symbol stays tracked for replay once a connection comes up.
	if err := stream.Unsubscribe("BTC-USD"); err != nil {
		t.Errorf("Unsubscribe: %v", err)
	}
}

func TestStream_ReconnectReplaysSubscriptions(t *testing.T) {
	var mu sync.Mutex
	var sessions [][]string

	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd subscribeCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			return
		}
		mu.Lock()
		n := len(sessions)
		sessions = append(sessions, cmd.Symbols)
		mu.Unlock()

		// Kill the first connection to force a reconnect.
		if n == 0 {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	stream := NewStream(testStreamConfig(wsURL(server)), nil)
	if err := stream.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopStream(t, stream)

	waitForConn(t, stream)
	stream.Subscribe("BTC-USD")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(sessions)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(sessions) < 2 {
		t.Fatalf("saw %d sessions, want at least 2", len(sessions))
	}
	last := sessions[len(sessions)-1]
	if len(last) != 1 || last[0] != "BTC-USD" {
		t.Errorf("replayed subscription = %v", last)
	}
}

func stopStream(t *testing.T, s *Stream) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
