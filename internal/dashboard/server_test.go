package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/sproutlabs/sproutsync/internal/engine"
	"github.com/sproutlabs/sproutsync/internal/op"
)

// stubSource is a fixed status snapshot.
type stubSource struct {
	pending int
	failed  []op.Record
	last    time.Time
	bytes   int64
}

func (s *stubSource) PendingCount() (int, error)             { return s.pending, nil }
func (s *stubSource) FailedOperations() ([]op.Record, error) { return s.failed, nil }
func (s *stubSource) LastSyncedAt() (time.Time, error)       { return s.last, nil }
func (s *stubSource) CacheUsage() (int64, error)             { return s.bytes, nil }

func startTestServer(t *testing.T, source StatusSource) *Server {
	t.Helper()

	server := NewServer(Config{
		Port:   0, // random available port
		Source: source,
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })

	time.Sleep(100 * time.Millisecond)
	return server
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(Config{
		Port:   0,
		Source: &stubSource{},
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if server.GetAddr() == "" {
		t.Fatal("Server address is empty")
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketConnection(t *testing.T) {
	server := startTestServer(t, &stubSource{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws://" + server.GetAddr() + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Connection registration is asynchronous with the upgrade.
	deadline := time.After(2 * time.Second)
	for server.ClientCount() != 1 {
		select {
		case <-deadline:
			t.Fatalf("Expected 1 client, got %d", server.ClientCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEventBroadcast(t *testing.T) {
	server := startTestServer(t, &stubSource{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws://" + server.GetAddr() + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	server.Publish(engine.Event{
		Kind:         engine.EventQueueChanged,
		Time:         time.Now(),
		PendingCount: 4,
	})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}

	var ev engine.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}
	if ev.Kind != engine.EventQueueChanged {
		t.Errorf("Expected queue_changed, got %s", ev.Kind)
	}
	if ev.PendingCount != 4 {
		t.Errorf("Expected pending count 4, got %d", ev.PendingCount)
	}
}

func TestPumpForwardsEngineEvents(t *testing.T) {
	server := startTestServer(t, &stubSource{})

	events := make(chan engine.Event, 1)
	server.Pump(events)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws://" + server.GetAddr() + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	events <- engine.Event{Kind: engine.EventNetState, Time: time.Now(), NetState: "online"}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read pumped event: %v", err)
	}

	var ev engine.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}
	if ev.Kind != engine.EventNetState || ev.NetState != "online" {
		t.Errorf("Unexpected event: %+v", ev)
	}
}

func TestStatusEndpoint(t *testing.T) {
	last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	source := &stubSource{
		pending: 2,
		failed:  []op.Record{{ID: "op-1", ErrorKind: op.ErrKindConflict}},
		last:    last,
		bytes:   1024,
	}
	server := startTestServer(t, source)

	resp, err := http.Get("http://" + server.GetAddr() + "/status")
	if err != nil {
		t.Fatalf("Failed to GET /status: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if st.PendingCount != 2 {
		t.Errorf("Expected 2 pending, got %d", st.PendingCount)
	}
	if len(st.Failed) != 1 || st.Failed[0].ID != "op-1" {
		t.Errorf("Failed list mismatch: %+v", st.Failed)
	}
	if !st.LastSyncedAt.Equal(last) {
		t.Errorf("Last synced mismatch: %v", st.LastSyncedAt)
	}
	if st.CacheBytes != 1024 {
		t.Errorf("Expected 1024 cache bytes, got %d", st.CacheBytes)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := startTestServer(t, &stubSource{})

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("Failed to GET /health: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Expected ok status, got %v", body["status"])
	}
}
