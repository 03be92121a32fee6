package websocket

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func startTestServer(t *testing.T, m *Manager) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		NewClient(m, conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestManagerBroadcastsToConnectedClient(t *testing.T) {
	m := NewManager()
	go m.Run()
	srv := startTestServer(t, m)
	conn := dial(t, srv)

	// give the registration goroutine a moment to run.
	time.Sleep(50 * time.Millisecond)

	msg, err := NewCycleStartedMessage(CycleStartedPayload{CycleID: "cycle-1", TriggeredBy: "manual"})
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	m.Broadcast(msg)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected to receive broadcast message: %v", err)
	}
	if string(data) == "" {
		t.Fatalf("expected non-empty broadcast payload")
	}
}

func TestManagerStatsTracksConnections(t *testing.T) {
	m := NewManager()
	go m.Run()
	srv := startTestServer(t, m)
	dial(t, srv)
	dial(t, srv)

	time.Sleep(50 * time.Millisecond)

	active, total := m.Stats()
	if active != 2 || total != 2 {
		t.Fatalf("expected 2 active/2 total connections, got active=%d total=%d", active, total)
	}
}
