package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNotificationClientPostsInBackground(t *testing.T) {
	var mu sync.Mutex
	var got []Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/notifications" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var n Notification
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewNotificationClient(srv.URL+"/", time.Second, zap.NewNop())
	client.Notify(context.Background(), Notification{UserID: "u-1", Type: "reservation_created", Title: "Booked"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].UserID != "u-1" {
		t.Fatalf("expected one notification for u-1, got %+v", got)
	}
}

func TestNotificationClientDisabledWithoutURL(t *testing.T) {
	client := NewNotificationClient("", time.Second, zap.NewNop())
	if client.base.Enabled() {
		t.Fatalf("expected disabled client")
	}
	client.Notify(context.Background(), Notification{UserID: "u-1"})
}
