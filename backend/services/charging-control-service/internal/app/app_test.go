package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"evcsms/backend/services/charging-control-service/internal/config"
)

func TestNewWithMemoryStorage(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Driver = config.StorageMemory
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	a, err := New(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(a.Close)

	h := a.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health: %d %s", rec.Code, rec.Body)
	}

	body := bytes.NewBufferString(`{"station_id":"st-1","point_id":"P1","connector_type":"CCS2","start_time":"2099-01-01T09:00:00Z","end_time":"2099-01-01T10:00:00Z"}`)
	req := httptest.NewRequest(http.MethodPost, "/reservations", body)
	req.Header.Set("X-User-ID", "u1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("reservation")) {
		t.Fatalf("metrics: %d", rec.Code)
	}
}
