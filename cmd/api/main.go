package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"webhook-sync-engine/config"
	httpHandler "webhook-sync-engine/internal/adapter/http/handler"
	pgStorage "webhook-sync-engine/internal/adapter/storage/postgres"
	redisStorage "webhook-sync-engine/internal/adapter/storage/redis"
	"webhook-sync-engine/internal/core/ports"
	"webhook-sync-engine/internal/service"
	"webhook-sync-engine/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Int("workers", cfg.Queue.Workers).
		Msg("Starting Webhook Sync Engine")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	eventRepo := pgStorage.NewEventRepo(pool)
	queueRepo := pgStorage.NewQueueRepo(pool)
	syncRepo := pgStorage.NewSyncStatusRepo(pool)
	operatorRepo := pgStorage.NewOperatorRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	dedupStore := redisStorage.NewDedupStore(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize core services
	sigSvc := service.NewHMACSignatureService()
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	verifierSvc := service.NewSourceVerifierService(cfg.Sources, sigSvc)
	dispatcherSvc := service.NewDispatcherService(service.DefaultRouteTable(), cfg.Sources, cfg.Queue.MaxRetries)

	// Initialize business services
	authSvc := service.NewAuthService(operatorRepo, hashSvc, tokenSvc, log)
	ingestSvc := service.NewIngestService(
		verifierSvc,
		dispatcherSvc,
		eventRepo,
		queueRepo,
		dedupStore,
		transactor,
		cfg.Retention.DedupTTL,
		log,
	)
	queueEngine := service.NewQueueEngine(queueRepo, cfg.Queue, log)
	processorSvc := service.NewProcessorService(queueEngine, syncRepo, eventRepo, cfg.Queue, log)
	queueAdminSvc := service.NewQueueAdminService(queueRepo, log)
	healthSvc := service.NewHealthService(eventRepo, queueRepo)
	retentionSvc := service.NewRetentionService(eventRepo, cfg.Retention, log)

	// Seed the operator account
	if err := authSvc.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed operator account")
	}

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		IngestSvc:      ingestSvc,
		AuthSvc:        authSvc,
		QueueAdminSvc:  queueAdminSvc,
		HealthSvc:      healthSvc,
		EventRepo:      eventRepo,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// Background workers: sync processor, stale-claim sweeper, event pruner
	workerCtx, stopWorkers := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		processorSvc.Run(workerCtx)
	}()
	go func() {
		defer wg.Done()
		queueEngine.RunSweeper(workerCtx)
	}()
	go func() {
		defer wg.Done()
		retentionSvc.RunPruner(workerCtx)
	}()

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop workers after the HTTP surface is closed; in-flight claims finish
	// before the pool drains.
	stopWorkers()
	wg.Wait()

	log.Info().Msg("Server exited")
}
