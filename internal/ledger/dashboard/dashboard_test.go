package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/intheblack/ledger/internal/ledger/daemon"
	ledgersync "github.com/intheblack/ledger/internal/ledger/sync"
)

func startServer(t *testing.T) (*Server, *Handler) {
	t.Helper()
	server := NewServer(&Config{
		Host:   "127.0.0.1",
		Port:   0,
		Logger: log.New(io.Discard, "", 0),
	})
	handler := NewHandler(server, log.New(io.Discard, "", 0))
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server, handler
}

func dial(t *testing.T, server *Server) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, server *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, server.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Host: "127.0.0.1", Logger: log.New(io.Discard, "", 0)})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.GetAddr(); addr == "" || addr == "127.0.0.1:0" {
		t.Fatalf("Unexpected address %q", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := startServer(t)

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if body.Status != "ok" || body.Clients != 0 {
		t.Errorf("Unexpected health %+v", body)
	}
}

func TestRootNotFoundForOtherPaths(t *testing.T) {
	server, _ := startServer(t)

	resp, err := http.Get("http://" + server.GetAddr() + "/nope")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestWebSocket_WelcomeCarriesStats(t *testing.T) {
	server, handler := startServer(t)
	handler.Notify(daemon.Event{Op: daemon.OpPushBook})

	conn, ctx := dial(t, server)
	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStats {
		t.Fatalf("Expected stats welcome, got %s", msg.Type)
	}
	var stats StatsData
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	if stats.Pushes != 1 {
		t.Errorf("Expected 1 push in welcome, got %+v", stats)
	}
	waitForClients(t, server, 1)
}

func TestHandler_BroadcastsEvents(t *testing.T) {
	server, handler := startServer(t)
	conn, ctx := dial(t, server)
	readMessage(t, ctx, conn) // welcome
	waitForClients(t, server, 1)

	tests := []struct {
		name  string
		event daemon.Event
		want  MessageType
		check func(t *testing.T, data json.RawMessage)
	}{
		{
			name:  "pull",
			event: daemon.Event{Op: daemon.OpPull, Stats: &ledgersync.PullStats{Mode: ledgersync.ModeFull, BooksInserted: 2}},
			want:  MessageTypeSyncComplete,
			check: func(t *testing.T, data json.RawMessage) {
				var d SyncCompleteData
				if err := json.Unmarshal(data, &d); err != nil {
					t.Fatal(err)
				}
				if d.Op != daemon.OpPull || d.Stats == nil || d.Stats.BooksInserted != 2 {
					t.Errorf("Unexpected data %+v", d)
				}
			},
		},
		{
			name:  "push",
			event: daemon.Event{Op: daemon.OpPushTransaction},
			want:  MessageTypePush,
			check: func(t *testing.T, data json.RawMessage) {
				var d PushData
				if err := json.Unmarshal(data, &d); err != nil {
					t.Fatal(err)
				}
				if d.Op != daemon.OpPushTransaction {
					t.Errorf("Unexpected op %q", d.Op)
				}
			},
		},
		{
			name:  "failure",
			event: daemon.Event{Op: daemon.OpPullIncremental, Err: errors.New("offline")},
			want:  MessageTypeSyncError,
			check: func(t *testing.T, data json.RawMessage) {
				var d SyncErrorData
				if err := json.Unmarshal(data, &d); err != nil {
					t.Fatal(err)
				}
				if d.Op != daemon.OpPullIncremental || d.Error != "offline" {
					t.Errorf("Unexpected data %+v", d)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler.Notify(tt.event)
			msg := readMessage(t, ctx, conn)
			if msg.Type != tt.want {
				t.Fatalf("Expected %s, got %s", tt.want, msg.Type)
			}
			tt.check(t, msg.Data)
			if follow := readMessage(t, ctx, conn); follow.Type != MessageTypeStats {
				t.Errorf("Expected stats after %s, got %s", tt.want, follow.Type)
			}
		})
	}

	stats := handler.Stats()
	if stats.Pulls != 1 || stats.Pushes != 1 || stats.Failures != 1 {
		t.Errorf("Unexpected counters %+v", stats)
	}
	if stats.LastError != "offline" {
		t.Errorf("Expected last error offline, got %q", stats.LastError)
	}
}

func TestServer_ClientDisconnect(t *testing.T) {
	server, _ := startServer(t)
	conn, ctx := dial(t, server)
	readMessage(t, ctx, conn)
	waitForClients(t, server, 1)

	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	waitForClients(t, server, 0)
}

func TestBroadcast_AfterStopDoesNotBlock(t *testing.T) {
	server := NewServer(&Config{Host: "127.0.0.1", Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			server.Broadcast(Message{Type: MessageTypePush})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked after Stop")
	}
}

func TestBroadcast_ReachesEveryClient(t *testing.T) {
	server, _ := startServer(t)
	first, ctx := dial(t, server)
	second, _ := dial(t, server)
	readMessage(t, ctx, first)
	readMessage(t, ctx, second)
	waitForClients(t, server, 2)

	server.Broadcast(Message{Type: MessageTypePush})
	server.Broadcast(Message{Type: MessageTypeStats})

	for i, conn := range []*websocket.Conn{first, second} {
		for _, want := range []MessageType{MessageTypePush, MessageTypeStats} {
			if got := readMessage(t, ctx, conn); got.Type != want {
				t.Errorf("client %d: expected %s, got %s", i, want, got.Type)
			}
		}
	}
}

func TestServer_StopDisconnectsClients(t *testing.T) {
	server, _ := startServer(t)
	conn, ctx := dial(t, server)
	readMessage(t, ctx, conn)
	waitForClients(t, server, 1)

	if err := server.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if n := server.ClientCount(); n != 0 {
		t.Errorf("Expected no clients after Stop, got %d", n)
	}
	if _, _, err := conn.Read(ctx); err == nil {
		t.Error("Expected read to fail after Stop")
	}
}
