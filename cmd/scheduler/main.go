package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/futursched/scheduler/internal/handlers"
	"github.com/futursched/scheduler/internal/notify"
	"github.com/futursched/scheduler/internal/outbox"
	"github.com/futursched/scheduler/internal/storage"
	"github.com/futursched/scheduler/internal/sweep"
	"github.com/futursched/scheduler/libs/config"
	"github.com/futursched/scheduler/libs/db"
	"github.com/futursched/scheduler/libs/httpx"
	"github.com/futursched/scheduler/libs/kafkax"
	"github.com/futursched/scheduler/libs/otelx"
	"github.com/futursched/scheduler/libs/runtime"
)

const serviceName = "scheduler"

var version = "dev"

func main() {
	config.Load()
	logger := runtime.NewLogger(serviceName)

	ctx, stop := runtime.SignalContext()
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	port, err := config.Port("PORT", "3000")
	if err != nil {
		return err
	}
	databaseURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return err
	}

	shutdownTracing, err := otelx.Setup(ctx, otelx.ConfigFromEnv(serviceName))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	pool, err := db.Open(ctx, databaseURL, int32(config.Int("DB_MAX_CONNS", 10)))
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to postgres")

	outboxRepo := outbox.NewRepository()
	store := storage.NewRepository(pool, outboxRepo)

	dispatcher := buildDispatcher(logger)

	worker := sweep.NewWorker(store, dispatcher, logger, sweep.Config{
		Interval:    config.Duration("REMINDER_CHECK_INTERVAL", time.Minute),
		Window:      config.Duration("REMINDER_WINDOW", 10*time.Minute),
		SendTimeout: config.Duration("REMINDER_SEND_TIMEOUT", 15*time.Second),
	})
	go worker.Run(ctx)

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkaBrokers,
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	readyChecks := []runtime.ReadyCheck{
		{Name: "postgres", Check: db.ReadyCheck(pool)},
	}
	if kafkaBrokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)

	apptHandler := handlers.NewAppointmentHandler(store, dispatcher, logger)
	apptHandler.Register(mux)

	statusHandler := handlers.NewStatusHandler(
		worker,
		dispatcher.EmailConfigured(),
		dispatcher.SMSConfigured(),
		kafkaBrokers != "",
		version,
	)
	statusHandler.Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.DefaultCORSPolicy(splitList(config.String("CORS_ALLOWED_ORIGINS", "*")))),
		rateLimitMiddleware(logger),
		httpx.WithBodyLimit(1<<20),
	)
	handler = otelhttp.NewHandler(handler, serviceName)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("scheduler listening", "port", port, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// buildDispatcher wires notification channels from the environment. A channel
// with no transport configured stays nil and sends report "unconfigured".
func buildDispatcher(logger *slog.Logger) *notify.Dispatcher {
	var email notify.EmailSender
	if host := config.String("SMTP_HOST", ""); host != "" {
		email = notify.NewSMTPSender(
			host,
			config.String("SMTP_PORT", "1025"),
			config.String("SMTP_USER", ""),
			config.String("SMTP_PASS", ""),
			config.String("SMTP_FROM", ""),
		)
		logger.Info("email notifications enabled", "smtp_host", host)
	} else {
		logger.Warn("email notifications disabled (SMTP_HOST not set)")
	}

	var sms notify.SMSSender
	if url := config.String("SMS_WEBHOOK_URL", ""); url != "" {
		sms = notify.NewWebhookSender(url, config.String("SMS_WEBHOOK_TOKEN", ""))
		logger.Info("sms notifications enabled")
	} else {
		logger.Warn("sms notifications disabled (SMS_WEBHOOK_URL not set)")
	}

	loc := time.Local
	if tz := config.String("SCHEDULER_TIMEZONE", ""); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			logger.Warn("invalid SCHEDULER_TIMEZONE, using local time", "tz", tz)
		}
	}

	return notify.NewDispatcher(email, sms, logger, loc)
}

// rateLimitMiddleware prefers the shared Redis limiter when REDIS_ADDR is set
// and falls back to the in-process one otherwise.
func rateLimitMiddleware(logger *slog.Logger) httpx.Middleware {
	limit := config.Int("RATE_LIMIT_REQUESTS", 100)
	window := config.Duration("RATE_LIMIT_WINDOW", time.Minute)

	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		logger.Info("using redis rate limiter", "addr", addr)
		return httpx.NewRedisRateLimiter(rdb, limit, window, serviceName).
			Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
	}
	return httpx.NewRateLimiter(limit, window).Middleware()
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
