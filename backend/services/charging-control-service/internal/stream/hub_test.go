package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestHubBroadcastReachesSubscriber(t *testing.T) {
	hub := NewHub(time.Second, time.Minute, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := hub.Serve(w, r, "sess-1"); err != nil {
			t.Errorf("serve: %v", err)
		}
	}))
	defer srv.Close()
	defer hub.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, 2*time.Second, func() bool { return hub.Subscribers("sess-1") == 1 })

	hub.Broadcast("other", "status", map[string]string{"status": "charging"})
	hub.Broadcast("sess-1", "telemetry", map[string]int{"meter_wh": 1200})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Type      string         `json:"type"`
		SessionID string         `json:"session_id"`
		Data      map[string]int `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != "telemetry" || msg.SessionID != "sess-1" || msg.Data["meter_wh"] != 1200 {
		t.Fatalf("unexpected message: %s", raw)
	}
}

func TestHubDropsClosedSubscriber(t *testing.T) {
	hub := NewHub(time.Second, time.Minute, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, "sess-2")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return hub.Subscribers("sess-2") == 1 })

	conn.Close()
	waitFor(t, 2*time.Second, func() bool { return hub.Subscribers("sess-2") == 0 })

	// no subscribers left, must not block
	hub.Broadcast("sess-2", "status", nil)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
