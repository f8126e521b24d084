package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "evcsms/backend/libs/config"
)

// Config defines charging-control-service configuration.
type Config struct {
	HTTP struct {
		Port            string        `yaml:"port" env:"CHARGING_HTTP_PORT"`
		ReadTimeout     time.Duration `yaml:"readTimeout" env:"CHARGING_HTTP_READ_TIMEOUT"`
		WriteTimeout    time.Duration `yaml:"writeTimeout" env:"CHARGING_HTTP_WRITE_TIMEOUT"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"CHARGING_HTTP_SHUTDOWN_TIMEOUT"`
	} `yaml:"http"`
	Storage struct {
		Driver string `yaml:"driver" env:"CHARGING_STORAGE_DRIVER"`
	} `yaml:"storage"`
	Database struct {
		DSN          string        `yaml:"dsn" env:"CHARGING_POSTGRES_DSN"`
		AutoMigrate  bool          `yaml:"autoMigrate" env:"CHARGING_POSTGRES_AUTO_MIGRATE"`
		MaxOpenConns int           `yaml:"maxOpenConns" env:"CHARGING_POSTGRES_MAX_OPEN_CONNS"`
		MaxIdleConns int           `yaml:"maxIdleConns" env:"CHARGING_POSTGRES_MAX_IDLE_CONNS"`
		ConnLifetime time.Duration `yaml:"connLifetime" env:"CHARGING_POSTGRES_CONN_LIFETIME"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr" env:"CHARGING_REDIS_ADDR"`
		Password string `yaml:"password" env:"CHARGING_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"CHARGING_REDIS_DB"`
	} `yaml:"redis"`
	Lock struct {
		Backend      string        `yaml:"backend" env:"CHARGING_LOCK_BACKEND"`
		Timeout      time.Duration `yaml:"timeout" env:"CHARGING_LOCK_TIMEOUT"`
		Lease        time.Duration `yaml:"lease" env:"CHARGING_LOCK_LEASE"`
		RetryBackoff time.Duration `yaml:"retryBackoff" env:"CHARGING_LOCK_RETRY_BACKOFF"`
	} `yaml:"lock"`
	Reservation struct {
		GraceWindow     time.Duration `yaml:"graceWindow" env:"CHARGING_RESERVATION_GRACE_WINDOW"`
		AutoExpireAfter time.Duration `yaml:"autoExpireAfter" env:"CHARGING_RESERVATION_AUTO_EXPIRE_AFTER"`
		SweepInterval   time.Duration `yaml:"sweepInterval" env:"CHARGING_RESERVATION_SWEEP_INTERVAL"`
	} `yaml:"reservation"`
	QR struct {
		BaseURL    string        `yaml:"baseURL" env:"CHARGING_QR_BASE_URL"`
		DefaultTTL time.Duration `yaml:"defaultTTL" env:"CHARGING_QR_DEFAULT_TTL"`
		MaxTTL     time.Duration `yaml:"maxTTL" env:"CHARGING_QR_MAX_TTL"`
	} `yaml:"qr"`
	Telemetry struct {
		DefaultPageSize int `yaml:"defaultPageSize" env:"CHARGING_TELEMETRY_DEFAULT_PAGE_SIZE"`
		MaxPageSize     int `yaml:"maxPageSize" env:"CHARGING_TELEMETRY_MAX_PAGE_SIZE"`
	} `yaml:"telemetry"`
	Pricing struct {
		DefaultPerKWh    float64       `yaml:"defaultPerKWh" env:"CHARGING_PRICING_DEFAULT_PER_KWH"`
		DefaultPerMinute float64       `yaml:"defaultPerMinute" env:"CHARGING_PRICING_DEFAULT_PER_MINUTE"`
		Currency         string        `yaml:"currency" env:"CHARGING_PRICING_CURRENCY"`
		CacheTTL         time.Duration `yaml:"cacheTTL" env:"CHARGING_PRICING_CACHE_TTL"`
	} `yaml:"pricing"`
	Events struct {
		Backend     string        `yaml:"backend" env:"CHARGING_EVENTS_BACKEND"`
		AMQPURL     string        `yaml:"amqpURL" env:"CHARGING_EVENTS_AMQP_URL"`
		Exchange    string        `yaml:"exchange" env:"CHARGING_EVENTS_EXCHANGE"`
		RedisPrefix string        `yaml:"redisPrefix" env:"CHARGING_EVENTS_REDIS_PREFIX"`
		Buffer      int           `yaml:"buffer" env:"CHARGING_EVENTS_BUFFER"`
		Workers     int           `yaml:"workers" env:"CHARGING_EVENTS_WORKERS"`
		MaxAttempts int           `yaml:"maxAttempts" env:"CHARGING_EVENTS_MAX_ATTEMPTS"`
		Backoff     time.Duration `yaml:"backoff" env:"CHARGING_EVENTS_BACKOFF"`
	} `yaml:"events"`
	Notification struct {
		BaseURL string        `yaml:"baseURL" env:"CHARGING_NOTIFICATION_BASE_URL"`
		Timeout time.Duration `yaml:"timeout" env:"CHARGING_NOTIFICATION_TIMEOUT"`
	} `yaml:"notification"`
	Identity struct {
		JWTSecret   string `yaml:"jwtSecret" env:"CHARGING_JWT_SECRET"`
		TrustHeader bool   `yaml:"trustHeader" env:"CHARGING_TRUST_USER_HEADER"`
	} `yaml:"identity"`
	RateLimit struct {
		RPS   float64 `yaml:"rps" env:"CHARGING_RATE_LIMIT_RPS"`
		Burst int     `yaml:"burst" env:"CHARGING_RATE_LIMIT_BURST"`
	} `yaml:"rateLimit"`
	CORS struct {
		AllowedOrigins []string `yaml:"allowedOrigins" env:"CHARGING_CORS_ALLOWED_ORIGINS"`
	} `yaml:"cors"`
	Stream struct {
		WriteTimeout time.Duration `yaml:"writeTimeout" env:"CHARGING_STREAM_WRITE_TIMEOUT"`
		PingInterval time.Duration `yaml:"pingInterval" env:"CHARGING_STREAM_PING_INTERVAL"`
	} `yaml:"stream"`
}

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Lock backends.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// Event backends.
const (
	EventsLog   = "log"
	EventsAMQP  = "amqp"
	EventsRedis = "redis"
)

// Defaults returns configuration with every optional value filled in.
func Defaults() *Config {
	cfg := &Config{}
	cfg.HTTP.Port = "8083"
	cfg.HTTP.ReadTimeout = 10 * time.Second
	cfg.HTTP.WriteTimeout = 15 * time.Second
	cfg.HTTP.ShutdownTimeout = 10 * time.Second
	cfg.Storage.Driver = StoragePostgres
	cfg.Database.AutoMigrate = true
	cfg.Database.MaxOpenConns = 20
	cfg.Database.MaxIdleConns = 10
	cfg.Database.ConnLifetime = 30 * time.Minute
	cfg.Redis.Addr = "localhost:6379"
	cfg.Lock.Backend = LockLocal
	cfg.Lock.Timeout = 5 * time.Second
	cfg.Lock.Lease = 30 * time.Second
	cfg.Lock.RetryBackoff = 200 * time.Millisecond
	cfg.Reservation.GraceWindow = 5 * time.Minute
	cfg.Reservation.AutoExpireAfter = 20 * time.Minute
	cfg.Reservation.SweepInterval = time.Minute
	cfg.QR.BaseURL = "https://example.com/qr"
	cfg.QR.DefaultTTL = 10 * time.Minute
	cfg.QR.MaxTTL = 24 * time.Hour
	cfg.Telemetry.DefaultPageSize = 100
	cfg.Telemetry.MaxPageSize = 5000
	cfg.Pricing.DefaultPerKWh = 20000
	cfg.Pricing.Currency = "KZT"
	cfg.Pricing.CacheTTL = 5 * time.Minute
	cfg.Events.Backend = EventsLog
	cfg.Events.Exchange = "charging.events"
	cfg.Events.RedisPrefix = "charging:events:"
	cfg.Events.Buffer = 1024
	cfg.Events.Workers = 2
	cfg.Events.MaxAttempts = 5
	cfg.Events.Backoff = 500 * time.Millisecond
	cfg.Notification.Timeout = 5 * time.Second
	cfg.Identity.TrustHeader = true
	cfg.RateLimit.RPS = 50
	cfg.RateLimit.Burst = 100
	cfg.Stream.WriteTimeout = 10 * time.Second
	cfg.Stream.PingInterval = 30 * time.Second
	return cfg
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	cfg := Defaults()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StoragePostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.New("config: database dsn required")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Lock.Backend {
	case LockLocal:
	case LockRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("config: redis addr required")
		}
	default:
		return fmt.Errorf("config: unknown lock backend %q", c.Lock.Backend)
	}

	switch c.Events.Backend {
	case EventsLog:
	case EventsAMQP:
		if strings.TrimSpace(c.Events.AMQPURL) == "" {
			return errors.New("config: events amqp url required")
		}
	case EventsRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("config: redis addr required")
		}
	default:
		return fmt.Errorf("config: unknown events backend %q", c.Events.Backend)
	}

	if c.Lock.Timeout <= 0 {
		return errors.New("config: lock timeout must be positive")
	}
	if c.Lock.Backend == LockRedis && c.Lock.Lease <= c.Lock.Timeout {
		return errors.New("config: lock lease must exceed lock timeout")
	}
	if c.QR.MaxTTL < c.QR.DefaultTTL {
		return errors.New("config: qr maxTTL must not be below defaultTTL")
	}
	if c.Telemetry.MaxPageSize <= 0 {
		return errors.New("config: telemetry maxPageSize must be positive")
	}
	return nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8083"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// UsesRedis reports whether any component needs a Redis client.
func (c *Config) UsesRedis() bool {
	return c.Lock.Backend == LockRedis || c.Events.Backend == EventsRedis || c.Storage.Driver == StoragePostgres && c.Pricing.CacheTTL > 0 && c.Redis.Addr != ""
}
