package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kelseyhightower/envconfig"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/carelane/booking-api/internal/repository/postgres"
	reconcilerService "github.com/carelane/booking-api/internal/service/reconciler"
	"github.com/carelane/booking-api/pkg/logger"
	messagingRedis "github.com/carelane/booking-api/pkg/messaging/redis"
	"github.com/carelane/booking-api/pkg/metrics"
	"github.com/carelane/booking-api/pkg/worker"
)

// workerConfig is the env-only configuration of the standalone worker. It
// runs without the API's config file so it can be deployed on its own.
type workerConfig struct {
	DatabaseURL   string        `envconfig:"DATABASE_URL" required:"true"`
	RedisURL      string        `envconfig:"REDIS_URL" required:"true"`
	BatchSize     int           `envconfig:"BATCH_SIZE" default:"100"`
	PollInterval  time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	MaxRetries    int           `envconfig:"MAX_RETRIES" default:"5"`
	RetryDelay    time.Duration `envconfig:"RETRY_DELAY" default:"30s"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	Retention     time.Duration `envconfig:"OUTBOX_RETENTION" default:"168h"`
	HealthPort    string        `envconfig:"HEALTH_PORT" default:"8081"`
}

func main() {
	var cfg workerConfig
	if err := envconfig.Process("worker", &cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to load worker configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.InfoLevel,
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
	})

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	broker, err := messagingRedis.NewRedisBroker(messagingRedis.Config{URL: cfg.RedisURL}, &appLogger.ZL)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to redis")
	}
	defer broker.Close()

	slotRepo := postgres.NewSlotRepository(db)
	bookingRepo := postgres.NewBookingRepository(db)
	requestRepo := postgres.NewRequestRepository(db)
	outboxRepo := postgres.NewOutboxRepository(postgres.NewBaseRepository(db))

	m := metrics.New("booking_worker")
	registry := prometheus.NewRegistry()
	m.Register(registry)

	processor := worker.NewOutboxProcessor(outboxRepo, broker, worker.OutboxProcessorConfig{
		BatchSize:    cfg.BatchSize,
		PollInterval: cfg.PollInterval,
		MaxRetries:   cfg.MaxRetries,
		RetryDelay:   cfg.RetryDelay,
	}, appLogger, m)

	reconciler := reconcilerService.NewService(
		slotRepo, bookingRepo, requestRepo, m, appLogger, cfg.SweepInterval)

	setupHealthCheck(cfg.HealthPort, registry, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		appLogger.Info("shutting down worker")
		cancel()
	}()

	go reconciler.Start(ctx)
	go cleanupLoop(ctx, outboxRepo, cfg.Retention, appLogger)

	processor.Start(ctx)
}

// cleanupLoop prunes processed outbox rows past the retention window.
func cleanupLoop(ctx context.Context, repo interface {
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}, retention time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := repo.DeleteProcessedBefore(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Error(err, "failed to prune outbox")
				continue
			}
			if deleted > 0 {
				log.Info("pruned outbox", "deleted", deleted)
			}
		}
	}
}

func setupHealthCheck(port string, registry *prometheus.Registry, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	go func() {
		if err := http.ListenAndServe(":"+port, mux); err != nil {
			log.Error(err, "health check server failed")
		}
	}()
}
