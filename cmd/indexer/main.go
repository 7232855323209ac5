package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/user/lumen-indexer/internal/adapter/api"
	"github.com/user/lumen-indexer/internal/adapter/metrics"
	"github.com/user/lumen-indexer/internal/adapter/repository/postgres"
	redisrepo "github.com/user/lumen-indexer/internal/adapter/repository/redis"
	"github.com/user/lumen-indexer/internal/adapter/source/horizon"
	"github.com/user/lumen-indexer/internal/pkg/config"
	"github.com/user/lumen-indexer/internal/pkg/logger"
	"github.com/user/lumen-indexer/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	log.Info("starting indexer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stopChan
		log.Info("shutdown signal received, stopping indexer...")
		cancel()
	}()

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Error("failed to open postgres connection", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}
	log.Info("connected to postgres")

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to redis")

	m := metrics.NewIndexerMetrics()

	eventStore := postgres.NewEventStore(db, log)
	projectionStore := postgres.NewProjectionStore(db, log)
	queryRepo := postgres.NewQueryRepository(db)

	outbox, err := redisrepo.NewNoticeOutbox(ctx, redisClient, log)
	if err != nil {
		log.Error("failed to initialize notice outbox", "error", err)
		os.Exit(1)
	}

	source := horizon.NewClient(cfg.HorizonURL, log, cfg.SourceRPS)

	checkpoint, err := eventStore.LoadCheckpoint(ctx)
	if err != nil {
		log.Error("failed to load checkpoint", "error", err)
		os.Exit(1)
	}
	log.Info("resuming from checkpoint", "position", checkpoint)

	projectors := usecase.NewProjectors(log)
	dispatcher := usecase.NewDispatcher(eventStore, projectionStore, projectors, log, m,
		checkpoint, cfg.ProjectorMaxAttempts, cfg.ProjectorRetryBackoff)
	supervisor := usecase.NewSupervisor(source, eventStore, dispatcher, log, m,
		cfg.StreamBackoffInitial, cfg.StreamBackoffMax)
	sweeper := usecase.NewSweepSubscriptionsUseCase(queryRepo, outbox, log, m, cfg.ExpiryNoticeDays)
	pump := usecase.NewPumpNoticesUseCase(outbox, dispatcher, log, cfg.NoticeBatchSize)

	supervisor.Start(ctx)

	// Notice pump: drains the outbox into the dispatcher. Short interval; the
	// outbox read already blocks briefly when the stream is empty.
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := pump.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
					log.Error("notice pump batch failed", "error", err)
				}
			}
		}
	}()

	// Lifecycle sweep. The first pass runs at startup so a long sweep interval
	// cannot delay overdue expirations after a restart.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			if _, err := sweeper.Sweep(ctx); err != nil && ctx.Err() == nil {
				log.Error("expiry sweep failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	adminServer := &http.Server{
		Addr:    cfg.AdminServerAddr,
		Handler: api.NewAdminRouter(supervisor, eventStore, log),
	}
	go func() {
		log.Info("admin server listening", "addr", cfg.AdminServerAddr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin server failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	supervisor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server shutdown failed", "error", err)
	}

	log.Info("indexer stopped")
}
