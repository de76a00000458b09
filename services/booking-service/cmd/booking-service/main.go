package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/consultslot/libs/auth"
	"github.com/md-rashed-zaman/consultslot/libs/config"
	"github.com/md-rashed-zaman/consultslot/libs/db"
	"github.com/md-rashed-zaman/consultslot/libs/grpcx"
	"github.com/md-rashed-zaman/consultslot/libs/httpx"
	"github.com/md-rashed-zaman/consultslot/libs/kafkax"
	otelx "github.com/md-rashed-zaman/consultslot/libs/otel"
	"github.com/md-rashed-zaman/consultslot/libs/outbox"
	"github.com/md-rashed-zaman/consultslot/libs/runtime"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/app"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/identity"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/locker"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/meetings"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/memstore"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/payments"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/reaper"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/reminders"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	ServiceName   string `env:"SERVICE_NAME" envDefault:"booking-service"`
	Port          string `env:"PORT" envDefault:"8083"`
	GRPCPort      string `env:"GRPC_PORT" envDefault:"9093"`
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	DatabaseURL   string `env:"DATABASE_URL"`
	KafkaBrokers  string `env:"KAFKA_BROKERS"`
	RedisAddr     string `env:"REDIS_ADDR"`
	SlotTimezone  string `env:"SLOT_TIMEZONE" envDefault:"UTC"`

	HoldTimeoutMinutes int           `env:"HOLD_TIMEOUT_MINUTES" envDefault:"20"`
	ReaperInterval     time.Duration `env:"REAPER_INTERVAL" envDefault:"10m"`
	ReaperBatchSize    int           `env:"REAPER_BATCH_SIZE" envDefault:"100"`

	ReminderOffsetsMinutes string        `env:"REMINDER_OFFSETS_MINUTES" envDefault:"1440,60"`
	ReminderPollInterval   time.Duration `env:"REMINDER_POLL_INTERVAL" envDefault:"5s"`
	ReminderMaxAttempts    int           `env:"REMINDER_MAX_ATTEMPTS" envDefault:"5"`
	ReminderBackoff        time.Duration `env:"REMINDER_BACKOFF" envDefault:"1m"`

	StripeSecretKey               string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret           string `env:"STRIPE_WEBHOOK_SECRET"`
	StripeWebhookToleranceSeconds int    `env:"STRIPE_WEBHOOK_TOLERANCE_SECONDS" envDefault:"300"`
	StripeCurrency                string `env:"STRIPE_CURRENCY" envDefault:"usd"`

	MeetingAPIURL          string `env:"MEETING_API_URL"`
	MeetingAPIToken        string `env:"MEETING_API_TOKEN"`
	MeetingFallbackBaseURL string `env:"MEETING_FALLBACK_BASE_URL"`

	AuthJWTSecret string `env:"AUTH_JWT_SECRET"`
	AuthJWKSURL   string `env:"AUTH_JWKS_URL"`

	RateLimitPerMinute int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"120"`
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS"`
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}
	if err := config.ValidatePort("PORT", cfg.Port); err != nil {
		panic(err)
	}
	if err := config.ValidatePort("GRPC_PORT", cfg.GRPCPort); err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.ServiceName)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.ServiceName))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	loc, err := time.LoadLocation(cfg.SlotTimezone)
	if err != nil {
		logger.Error("invalid slot timezone, using UTC", "timezone", cfg.SlotTimezone, "err", err)
		loc = time.UTC
	}
	offsets, invalid := config.Minutes(cfg.ReminderOffsetsMinutes)
	for _, v := range invalid {
		logger.Warn("invalid reminder offset", "value", v)
	}

	checks := []runtime.ReadyCheck{}
	ports := app.Ports{
		Logger:                 logger,
		Location:               loc,
		MeetingFallbackBaseURL: cfg.MeetingFallbackBaseURL,
		Scheduler:              reminders.SchedulerConfig{Offsets: offsets, MaxAttempts: cfg.ReminderMaxAttempts},
		Worker:                 reminders.WorkerConfig{Interval: cfg.ReminderPollInterval, Backoff: cfg.ReminderBackoff},
		Reaper: reaper.Config{
			Interval:    cfg.ReaperInterval,
			HoldTimeout: time.Duration(cfg.HoldTimeoutMinutes) * time.Minute,
			BatchSize:   cfg.ReaperBatchSize,
		},
	}

	var providerEvents handlers.ProviderEvents
	switch strings.ToLower(cfg.StorageDriver) {
	case "memory":
		logger.Warn("using in-memory storage; state is lost on restart")
		store := memstore.New()
		ids := identity.NewStatic()
		ids.Passthrough = true
		ports.Store = store
		ports.Identity = ids
		ports.Events = outbox.LogEmitter{Logger: logger}
		providerEvents = store
	default:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			panic("DATABASE_URL is required")
		}
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()

		store := storage.NewStore(pool)
		outboxRepo := outbox.NewRepository(pool)
		publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   cfg.KafkaBrokers,
			PollEvery: 2 * time.Second,
			BatchSize: 50,
		})
		go publisher.Run(ctx)

		ports.Store = store
		ports.Identity = identity.NewPostgres(pool)
		ports.Events = outboxRepo
		providerEvents = store
		checks = append(checks,
			runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
			runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
		)
	}
	ports.Notifier = notify.NewOutboxNotifier(ports.Events)

	if strings.TrimSpace(cfg.MeetingAPIURL) != "" {
		ports.Meetings = meetings.NewHTTPProvisioner(cfg.MeetingAPIURL, cfg.MeetingAPIToken, 5*time.Second)
	}
	if strings.TrimSpace(cfg.StripeSecretKey) != "" {
		ports.Processor = payments.NewStripeProcessor(cfg.StripeSecretKey, cfg.StripeCurrency)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set; payments settle in process")
		ports.Processor = payments.NewLocalProcessor()
	}

	var rateLimit httpx.Middleware
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		ports.Locker = locker.NewRedis(rdb, "consultslot:lock:")
		rateLimit = httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, "consultslot:rl").Middleware(logger, true)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	} else {
		rateLimit = httpx.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute).Middleware()
	}

	comp := app.Build(ports)
	go comp.Reaper.Run(ctx)
	go comp.Worker.Run(ctx)

	var verifier *auth.Verifier
	if cfg.AuthJWTSecret != "" || cfg.AuthJWKSURL != "" {
		var jwks *auth.JWKSClient
		if cfg.AuthJWKSURL != "" {
			jwks = auth.NewJWKSClient(cfg.AuthJWKSURL, 5*time.Minute)
		}
		verifier = auth.NewVerifier(cfg.AuthJWTSecret, jwks)
	}

	api := handlers.New(handlers.Deps{
		Appointments: comp.Appointments,
		Slots:        comp.Slots,
		Gateway:      comp.Gateway,
		Reaper:       comp.Reaper,
		Identity:     ports.Identity,
		Events:       providerEvents,
		Verifier:     verifier,
		Logger:       logger,
	}, handlers.Config{
		StripeWebhookSecret:           cfg.StripeWebhookSecret,
		StripeWebhookToleranceSeconds: cfg.StripeWebhookToleranceSeconds,
	})

	grpcServer := grpcx.NewServer(logger)
	go func() {
		if err := grpcServer.Serve(ctx, ":"+cfg.GRPCPort); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/v1/", api.Routes())
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{AllowedOrigins: httpx.SplitList(cfg.CORSAllowedOrigins)}),
		rateLimit,
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	runtime.ServeHTTP(ctx, srv, logger, 10*time.Second)
}
