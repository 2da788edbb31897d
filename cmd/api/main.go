package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/carelane/booking-api/internal/config"
	bookingHandler "github.com/carelane/booking-api/internal/handler/booking"
	healthHandler "github.com/carelane/booking-api/internal/handler/health"
	requestHandler "github.com/carelane/booking-api/internal/handler/request"
	slotHandler "github.com/carelane/booking-api/internal/handler/slot"
	"github.com/carelane/booking-api/internal/repository/postgres"
	"github.com/carelane/booking-api/internal/router"
	bookingService "github.com/carelane/booking-api/internal/service/booking"
	"github.com/carelane/booking-api/internal/service/capacity"
	reconcilerService "github.com/carelane/booking-api/internal/service/reconciler"
	slotService "github.com/carelane/booking-api/internal/service/slot"
	"github.com/carelane/booking-api/pkg/lock"
	"github.com/carelane/booking-api/pkg/logger"
	messagingRedis "github.com/carelane/booking-api/pkg/messaging/redis"
	"github.com/carelane/booking-api/pkg/metrics"
	"github.com/carelane/booking-api/pkg/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.InfoLevel,
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
	})

	loc, err := cfg.Booking.Location()
	if err != nil {
		appLogger.Fatal(err, "invalid timezone")
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	broker, err := messagingRedis.NewRedisBroker(messagingRedis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &appLogger.ZL)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to redis")
	}
	defer broker.Close()

	redisClient := broker.(*messagingRedis.RedisBroker).Client()

	// Repositories
	slotRepo := postgres.NewSlotRepository(db)
	bookingRepo := postgres.NewBookingRepository(db)
	requestRepo := postgres.NewRequestRepository(db)
	outboxRepo := postgres.NewOutboxRepository(postgres.NewBaseRepository(db))

	// Metrics
	m := metrics.New("booking_api")
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m.Register(registry)

	// Services
	ledger := capacity.NewLedger(bookingRepo, requestRepo, cfg.Booking.OccupancyCacheTTL())
	slotSvc := slotService.NewService(slotRepo, bookingRepo, ledger, loc, appLogger)
	reconciler := reconcilerService.NewService(
		slotRepo, bookingRepo, requestRepo, m, appLogger, cfg.Booking.SweepInterval())
	locker := lock.NewRedisSlotLocker(redisClient, cfg.Booking.LockTTL())
	bookingSvc := bookingService.NewService(
		slotRepo, bookingRepo, requestRepo, outboxRepo,
		ledger, reconciler, locker, m, appLogger, cfg.Booking.Interval())

	// Handlers
	slotH := slotHandler.NewHandler(slotSvc)
	bookingH := bookingHandler.NewHandler(bookingSvc)
	requestH := requestHandler.NewHandler(bookingSvc)
	healthH := healthHandler.NewHandler(db, redisClient)

	r := router.NewRouter(slotH, bookingH, requestH, healthH, registry, appLogger, router.Config{
		RateLimit: rate.Limit(cfg.Server.RateLimitRPS),
		RateBurst: cfg.Server.RateLimitBurst,
	})
	r.Setup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background loops: drift sweep and outbox dispatch.
	go reconciler.Start(ctx)

	processor := worker.NewOutboxProcessor(outboxRepo, broker, worker.OutboxProcessorConfig{
		BatchSize:    cfg.Outbox.BatchSize,
		PollInterval: cfg.Outbox.PollInterval(),
		MaxRetries:   cfg.Outbox.RetryAttempts,
		RetryDelay:   cfg.Outbox.RetryDelay(),
	}, appLogger, m)
	go processor.Start(ctx)

	go func() {
		appLogger.Info("starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(err, "failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Fatal(err, "server forced to shutdown")
	}

	appLogger.Info("server exited properly")
}
