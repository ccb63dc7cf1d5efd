package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jwttoken "moderation/internal/jwt_token"
	"moderation/internal/moderation/access"
	"moderation/internal/moderation/aggregate"
	"moderation/internal/moderation/bulk"
	"moderation/internal/moderation/engine"
	"moderation/internal/moderation/handler"
	"moderation/internal/moderation/metrics"
	"moderation/internal/moderation/notify"
	"moderation/internal/moderation/outbox"
	"moderation/internal/moderation/ports"
	"moderation/internal/moderation/push"
	"moderation/internal/moderation/service"
	"moderation/internal/moderation/store/memory"
	pgstore "moderation/internal/moderation/store/postgres"
	"moderation/internal/platform/config"
	"moderation/internal/platform/httpserver"
	"moderation/internal/platform/kafka"
	"moderation/internal/platform/logger"
	httpmetrics "moderation/internal/platform/metrics"
	"moderation/internal/platform/postgres"
	platformredis "moderation/internal/platform/redis"
	adminmw "moderation/pkg/platform/middleware/admin"
	authmw "moderation/pkg/platform/middleware/auth"
	request "moderation/pkg/platform/middleware/request"
	"moderation/pkg/platform/middleware/requesttime"
)

// closer is run in reverse order during shutdown.
type closer func(ctx context.Context) error

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	var closers []closer
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](shutdownCtx); err != nil {
				log.Warn("shutdown step failed", "error", err)
			}
		}
	}()

	modMetrics := metrics.New()
	reqMetrics := httpmetrics.New()

	st, closeStore, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	closers = append(closers, closeStore)

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}

	var gate ports.AccessGate
	dispatcherOpts := []notify.Option{
		notify.WithPushTimeout(cfg.Moderation.PushTimeout),
		notify.WithLogger(log),
		notify.WithMetrics(modMetrics),
	}
	if redisClient != nil {
		closers = append(closers, func(context.Context) error { return redisClient.Close() })
		gate = access.NewRedisGate(redisClient.Client, cfg.Redis.AccessPrefix)
		dispatcherOpts = append(dispatcherOpts, notify.WithPusher(push.NewRedisPusher(redisClient.Client, cfg.Redis.ChannelPrefix)))
		log.Info("redis enabled for access grants and live push")
	} else {
		static, err := access.ParseGrants(cfg.Moderation.AccessGrants)
		if err != nil {
			return err
		}
		gate = static
		log.Info("using static access grants, live push disabled")
	}

	aggregator := aggregate.New(st, aggregate.WithLogger(log), aggregate.WithMetrics(modMetrics))
	dispatcher := notify.New(st, dispatcherOpts...)
	closers = append(closers, dispatcher.Close)

	engineOpts := []engine.Option{
		engine.WithPolicy(engine.Policy{RequireRejectionReason: cfg.Moderation.RequireRejectionReason}),
		engine.WithLogger(log),
		engine.WithMetrics(modMetrics),
	}
	relayEnabled := len(cfg.Kafka.Brokers) > 0
	if relayEnabled {
		engineOpts = append(engineOpts, engine.WithOutboxTopic(cfg.Kafka.Topic))
	}
	eng := engine.New(st, gate, aggregator, dispatcher, engineOpts...)
	coordinator := bulk.New(eng,
		bulk.WithConcurrency(cfg.Moderation.BulkConcurrency),
		bulk.WithMaxSize(cfg.Moderation.BulkMaxSize),
		bulk.WithLogger(log),
		bulk.WithMetrics(modMetrics),
	)
	svc := service.New(st, gate, eng, coordinator, aggregator, dispatcher,
		service.WithLogger(log),
		service.WithMetrics(modMetrics),
	)

	scheduler, err := aggregate.NewScheduler(aggregator, cfg.Moderation.ReconcileSchedule, log)
	if err != nil {
		return err
	}
	scheduler.Start()
	closers = append(closers, scheduler.Stop)

	if relayEnabled {
		stopRelay, err := startRelay(ctx, cfg.Kafka, st, log, modMetrics)
		if err != nil {
			return err
		}
		closers = append(closers, stopRelay)
	}

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(reqMetrics.Middleware)
	r.Use(request.AccessLog(log))

	r.Get("/healthz", healthz(st, redisClient))
	r.Handle("/metrics", promhttp.Handler())
	handler.New(svc, log).Register(r,
		authmw.RequireActor(jwtService, log),
		adminmw.RequireServiceToken(cfg.IntakeTokenHash, log),
	)

	srv := httpserver.New(cfg.Addr, r, log)
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting moderation service", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (ports.Store, closer, error) {
	if cfg.URL == "" {
		log.Info("DATABASE_URL not set, using in-memory store")
		return memory.New(memory.WithTxTimeout(cfg.TxTimeout)), func(context.Context) error { return nil }, nil
	}
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.EnsureSchema(ctx, pool, cfg.Schema); err != nil {
		pool.Close()
		return nil, nil, err
	}
	st := pgstore.New(pool, cfg.TxTimeout)
	if err := st.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	log.Info("postgres store ready", "schema", cfg.Schema)
	return st, func(context.Context) error { pool.Close(); return nil }, nil
}

func startRelay(ctx context.Context, cfg config.KafkaConfig, st ports.Transactor, log *slog.Logger, m *metrics.Metrics) (closer, error) {
	producer, err := kafka.NewProducer(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := producer.EnsureTopics(ctx, 1, cfg.Topic); err != nil {
		producer.Close()
		return nil, err
	}
	relay := outbox.NewRelay(st, producer,
		outbox.WithBatchSize(cfg.BatchSize),
		outbox.WithPollInterval(cfg.PollInterval),
		outbox.WithLogger(log),
		outbox.WithMetrics(m),
	)

	relayCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		relay.Run(relayCtx)
	}()
	log.Info("outbox relay started", "topic", cfg.Topic, "brokers", cfg.Brokers)

	return func(shutdownCtx context.Context) error {
		cancel()
		defer producer.Close()
		select {
		case <-done:
			return nil
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		}
	}, nil
}

func healthz(st ports.Store, redisClient *platformredis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		body := `{"status":"ok"}`
		if err := st.Ping(ctx); err != nil {
			status, body = http.StatusServiceUnavailable, `{"status":"store unavailable"}`
		} else if redisClient != nil {
			if err := redisClient.Health(ctx); err != nil {
				status, body = http.StatusServiceUnavailable, `{"status":"redis unavailable"}`
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}
