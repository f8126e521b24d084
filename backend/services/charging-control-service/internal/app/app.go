package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libdb "evcsms/backend/libs/db"
	libredis "evcsms/backend/libs/redis"
	"evcsms/backend/services/charging-control-service/internal/clients"
	"evcsms/backend/services/charging-control-service/internal/config"
	"evcsms/backend/services/charging-control-service/internal/db"
	"evcsms/backend/services/charging-control-service/internal/events"
	httpserver "evcsms/backend/services/charging-control-service/internal/http"
	"evcsms/backend/services/charging-control-service/internal/http/handlers"
	"evcsms/backend/services/charging-control-service/internal/http/middleware"
	"evcsms/backend/services/charging-control-service/internal/lock"
	"evcsms/backend/services/charging-control-service/internal/metrics"
	"evcsms/backend/services/charging-control-service/internal/pricing"
	redisstore "evcsms/backend/services/charging-control-service/internal/redis"
	"evcsms/backend/services/charging-control-service/internal/repository"
	"evcsms/backend/services/charging-control-service/internal/repository/memstore"
	"evcsms/backend/services/charging-control-service/internal/service"
	"evcsms/backend/services/charging-control-service/internal/stream"
)

// App wires charging-control-service dependencies.
type App struct {
	server      *httpserver.Server
	worker      *service.ExpiryWorker
	dispatcher  *events.Dispatcher
	amqp        *events.AMQPPublisher
	hub         *stream.Hub
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

type stores struct {
	reservations service.ReservationStore
	waitlist     service.WaitlistStore
	tokens       service.AccessTokenStore
	sessions     service.SessionStore
	telemetry    service.TelemetryStore
	tariffs      pricing.TariffSource
}

// New constructs the application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	st, err := a.openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.UsesRedis() {
		a.redisClient, err = libredis.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
	}

	m := metrics.New()

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Lock.Backend == config.LockRedis {
		locker = lock.NewRedisLocker(a.redisClient, lock.RedisOptions{Lease: cfg.Lock.Lease}, logger.Named("lock"))
	}
	locker = lock.WithObserver(locker, m.LockWait)

	a.dispatcher = events.NewDispatcher(a.eventTransport(cfg), events.DispatcherOptions{
		Buffer:      cfg.Events.Buffer,
		Workers:     cfg.Events.Workers,
		MaxAttempts: cfg.Events.MaxAttempts,
		Backoff:     cfg.Events.Backoff,
		Observe:     m.Event,
	}, logger.Named("events"))

	var rateCache pricing.Cache
	if a.redisClient != nil && cfg.Pricing.CacheTTL > 0 {
		rateCache = redisstore.NewTariffCache(a.redisClient, cfg.Pricing.CacheTTL)
	}
	rates := pricing.NewService(st.tariffs, rateCache, pricing.Rate{
		PerKWh:    cfg.Pricing.DefaultPerKWh,
		PerMinute: cfg.Pricing.DefaultPerMinute,
		Currency:  cfg.Pricing.Currency,
	}, logger.Named("pricing"))

	a.hub = stream.NewHub(cfg.Stream.WriteTimeout, cfg.Stream.PingInterval, logger.Named("stream"))

	out := service.Outbound{
		Publisher: a.dispatcher,
		Notifier:  clients.NewNotificationClient(cfg.Notification.BaseURL, cfg.Notification.Timeout, logger.Named("notification")),
		Stream:    a.hub,
		Metrics:   m,
	}

	reservationSvc := service.NewReservationService(st.reservations, st.sessions, locker, out, service.ReservationConfig{
		LockTimeout:     cfg.Lock.Timeout,
		RetryBackoff:    cfg.Lock.RetryBackoff,
		GraceWindow:     cfg.Reservation.GraceWindow,
		AutoExpireAfter: cfg.Reservation.AutoExpireAfter,
	}, logger.Named("reservations"))
	waitlistSvc := service.NewWaitlistService(st.waitlist, out, nil, logger.Named("waitlist"))
	tokenSvc := service.NewTokenService(st.tokens, st.reservations, out, service.TokenConfig{
		BaseURL:    cfg.QR.BaseURL,
		DefaultTTL: cfg.QR.DefaultTTL,
		MaxTTL:     cfg.QR.MaxTTL,
	}, logger.Named("tokens"))
	sessionSvc := service.NewSessionService(st.sessions, st.telemetry, reservationSvc, tokenSvc, rates, out, service.SessionConfig{
		DefaultTelemetryLimit: cfg.Telemetry.DefaultPageSize,
		MaxTelemetryLimit:     cfg.Telemetry.MaxPageSize,
	}, logger.Named("sessions"))

	a.worker = service.NewExpiryWorker(reservationSvc, tokenSvc, cfg.Reservation.SweepInterval, cfg.Reservation.AutoExpireAfter, logger.Named("expiry"))

	router := httpserver.NewRouter(httpserver.RouterDeps{
		Reservations: handlers.NewReservationHandlers(reservationSvc, cfg.Reservation.AutoExpireAfter, logger),
		Waitlist:     handlers.NewWaitlistHandlers(waitlistSvc, logger),
		QR:           handlers.NewQRHandlers(tokenSvc, reservationSvc, sessionSvc, logger),
		Sessions:     handlers.NewSessionHandlers(sessionSvc, a.hub, logger),
		Health:       handlers.NewHealthHandler(a.healthChecks()),
		Metrics:      m.Handler(),
	})

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	a.server = httpserver.NewServer(cfg.HTTPAddress(), router, httpserver.Options{
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, logger,
		middleware.RequestID,
		middleware.AccessLog(logger.Named("http"), m),
		middleware.Recover(logger),
		middleware.CORS(cfg.CORS.AllowedOrigins),
		middleware.Identity(cfg.Identity.JWTSecret, cfg.Identity.TrustHeader),
		limiter.Limit,
	)

	ok = true
	return a, nil
}

func (a *App) openStorage(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Storage.Driver == config.StorageMemory {
		mem := memstore.New()
		a.logger.Warn("using in-memory storage; state is lost on restart")
		return &stores{
			reservations: mem.Reservations(),
			waitlist:     mem.Waitlist(),
			tokens:       mem.AccessTokens(),
			sessions:     mem.Sessions(),
			telemetry:    mem.Telemetry(),
			tariffs:      mem.Tariffs(),
		}, nil
	}

	sqlDB, err := db.NewPostgres(cfg.Database.DSN, libdb.PoolOptions{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnLifetime: cfg.Database.ConnLifetime,
	})
	if err != nil {
		return nil, err
	}
	a.db = sqlDB
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, sqlDB); err != nil {
			return nil, err
		}
	}
	return &stores{
		reservations: repository.NewReservationRepository(sqlDB),
		waitlist:     repository.NewWaitlistRepository(sqlDB),
		tokens:       repository.NewAccessTokenRepository(sqlDB),
		sessions:     repository.NewSessionRepository(sqlDB),
		telemetry:    repository.NewTelemetryRepository(sqlDB),
		tariffs:      repository.NewTariffRepository(sqlDB),
	}, nil
}

func (a *App) eventTransport(cfg *config.Config) events.Publisher {
	switch cfg.Events.Backend {
	case config.EventsAMQP:
		a.amqp = events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, a.logger.Named("amqp"))
		return a.amqp
	case config.EventsRedis:
		return events.NewRedisPublisher(a.redisClient, cfg.Events.RedisPrefix)
	default:
		return events.NewLogPublisher(a.logger.Named("events"))
	}
}

func (a *App) healthChecks() map[string]handlers.Pinger {
	checks := make(map[string]handlers.Pinger)
	if a.db != nil {
		checks["postgres"] = a.db.PingContext
	}
	if a.redisClient != nil {
		client := a.redisClient
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	return checks
}

// Handler exposes the wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Run starts the expiry sweeper and the HTTP server.
func (a *App) Run(ctx context.Context) error {
	go a.worker.Start(ctx)
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.dispatcher.Close(ctx); err != nil {
			a.logger.Warn("event dispatcher did not drain", zap.Error(err))
		}
		cancel()
	}
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			a.logger.Warn("failed to close amqp publisher", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
