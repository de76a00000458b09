package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/consultslot/libs/config"
	"github.com/md-rashed-zaman/consultslot/libs/db"
	"github.com/md-rashed-zaman/consultslot/libs/httpx"
	"github.com/md-rashed-zaman/consultslot/libs/kafkax"
	otelx "github.com/md-rashed-zaman/consultslot/libs/otel"
	"github.com/md-rashed-zaman/consultslot/libs/outbox"
	"github.com/md-rashed-zaman/consultslot/libs/runtime"
	"github.com/md-rashed-zaman/consultslot/services/notification-service/internal/consumer"
	"github.com/md-rashed-zaman/consultslot/services/notification-service/internal/contacts"
	"github.com/md-rashed-zaman/consultslot/services/notification-service/internal/delivery"
	"github.com/md-rashed-zaman/consultslot/services/notification-service/internal/email"
	"github.com/md-rashed-zaman/consultslot/services/notification-service/internal/handlers"
	"github.com/md-rashed-zaman/consultslot/services/notification-service/internal/inbox"
	"github.com/md-rashed-zaman/consultslot/services/notification-service/internal/push"
	"github.com/md-rashed-zaman/consultslot/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	ServiceName  string `env:"SERVICE_NAME" envDefault:"notification-service"`
	Port         string `env:"PORT" envDefault:"8085"`
	DatabaseURL  string `env:"DATABASE_URL,required"`
	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaGroupID string `env:"KAFKA_GROUP_ID" envDefault:"notification-service"`
	KafkaTopic   string `env:"KAFKA_CONSUME_TOPIC" envDefault:"consult.notification.requested.v1"`

	HandlerMaxAttempts int           `env:"HANDLER_MAX_ATTEMPTS" envDefault:"3"`
	HandlerBackoff     time.Duration `env:"HANDLER_BACKOFF" envDefault:"1s"`

	SMTPHost string `env:"SMTP_HOST" envDefault:"mailpit"`
	SMTPPort string `env:"SMTP_PORT" envDefault:"1025"`
	SMTPFrom string `env:"SMTP_FROM" envDefault:"no-reply@consultslot.local"`

	PushProvider string        `env:"PUSH_PROVIDER" envDefault:"webhook"`
	PushToken    string        `env:"PUSH_WEBHOOK_TOKEN"`
	PushTimeout  time.Duration `env:"PUSH_TIMEOUT" envDefault:"5s"`

	InternalAPIToken string `env:"INTERNAL_API_TOKEN"`
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}
	if err := config.ValidatePort("PORT", cfg.Port); err != nil {
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

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	contactsRepo := contacts.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	notificationsRepo := storage.NewRepository(pool, outboxRepo)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	var pushSender push.Sender
	switch strings.ToLower(cfg.PushProvider) {
	case "noop":
		pushSender = push.NewNoopSender()
	default:
		pushSender = push.NewWebhookSender(cfg.PushToken, cfg.PushTimeout)
	}
	svc := delivery.NewService(
		contactsRepo,
		email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom),
		pushSender,
		notificationsRepo,
		logger,
	)

	eventConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers:     cfg.KafkaBrokers,
		GroupID:     cfg.KafkaGroupID,
		Topic:       cfg.KafkaTopic,
		MaxAttempts: cfg.HandlerMaxAttempts,
		Backoff:     cfg.HandlerBackoff,
	}, requestHandler(svc, logger))
	go eventConsumer.Run(ctx)

	api := handlers.New(contactsRepo, cfg.InternalAPIToken, logger)
	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	)
	mux.Handle("/v1/", api.Routes())
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(64<<10),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	runtime.ServeHTTP(ctx, srv, logger, 10*time.Second)
}

// requestHandler drops malformed requests and returns storage errors so the
// consumer retries them.
func requestHandler(svc *delivery.Service, logger *slog.Logger) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var req delivery.Request
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			logger.Error("invalid notification payload", "err", err)
			return nil
		}
		_, err := svc.Deliver(ctx, req)
		if errors.Is(err, delivery.ErrInvalidRequest) {
			logger.Error("notification request rejected", "notification_id", req.NotificationID, "err", err)
			return nil
		}
		return err
	}
}
