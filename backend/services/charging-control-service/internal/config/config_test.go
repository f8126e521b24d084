package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMemoryDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("CHARGING_STORAGE_DRIVER", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Lock.Timeout != 5*time.Second || cfg.Reservation.AutoExpireAfter != 20*time.Minute {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.HTTPAddress() != ":8083" {
		t.Fatalf("unexpected address %q", cfg.HTTPAddress())
	}
}

func TestLoadRequiresDSNForPostgres(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("CHARGING_STORAGE_DRIVER", "postgres")
	t.Setenv("CHARGING_POSTGRES_DSN", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error without dsn")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte(`
storage:
  driver: memory
lock:
  backend: local
  timeout: 2s
qr:
  baseURL: https://qr.example.org
cors:
  allowedOrigins: ["https://a.example"]
`)
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CHARGING_LOCK_TIMEOUT", "3s")
	t.Setenv("CHARGING_CORS_ALLOWED_ORIGINS", "https://b.example, https://c.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Lock.Timeout != 3*time.Second {
		t.Fatalf("expected env override, got %s", cfg.Lock.Timeout)
	}
	if cfg.QR.BaseURL != "https://qr.example.org" {
		t.Fatalf("expected file value, got %q", cfg.QR.BaseURL)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://c.example" {
		t.Fatalf("unexpected origins %v", cfg.CORS.AllowedOrigins)
	}
}

func TestValidateRejectsUnknownBackends(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.Driver = StorageMemory
	cfg.Events.Backend = "kafka"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown events backend")
	}
	cfg.Events.Backend = EventsAMQP
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing amqp url")
	}
}

func TestValidateLockLeaseExceedsTimeout(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.Driver = StorageMemory
	cfg.Lock.Backend = LockRedis
	cfg.Redis.Addr = "localhost:6379"
	cfg.Lock.Lease = cfg.Lock.Timeout

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when lease does not exceed timeout")
	}
	cfg.Lock.Lease = 30 * time.Second
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
