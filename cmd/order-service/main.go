package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orderhub/internal/auth"
	"orderhub/internal/config"
	"orderhub/internal/database"
	"orderhub/internal/enrichment"
	"orderhub/internal/handler"
	"orderhub/internal/idempotency"
	"orderhub/internal/ledger"
	"orderhub/internal/notify"
	"orderhub/internal/repository"
	"orderhub/internal/router"
	"orderhub/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := config.NewLogger(cfg.Logger, "order-service")
	logger.Info().Msg("starting order service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, database.OrdersSchema, logger); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	orderRepo := repository.NewOrderRepository(pool, logger)

	store, closeStore, err := newIdempotencyStore(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ledgerClient := ledger.NewClient(cfg.Inventory, logger)
	defer ledgerClient.Close()

	queue := enrichment.NewQueue(cfg.Enrichment, orderRepo, newSnapshotSink(ctx, cfg.S3, logger), logger)
	queue.Start(ctx)

	hub := notify.NewHub(logger)

	retry := service.RetryOptions{
		MaxRetries: cfg.Inventory.MaxRetries,
		Interval:   cfg.Inventory.RetryInterval,
	}
	orderService := service.NewOrderService(orderRepo, ledgerClient, queue, hub, service.OrderOptions{
		PartialFailurePolicy: cfg.Orders.PartialFailurePolicy,
		EnforceTransitions:   cfg.Orders.EnforceTransitions,
		Retry:                retry,
	}, logger)

	reconciler := service.NewReconciler(orderRepo, ledgerClient, hub, service.ReconcilerOptions{
		Interval:     cfg.Orders.ReconcileInterval,
		MaxAttempts:  cfg.Orders.ReconcileMaxAttempts,
		BatchSize:    cfg.Orders.ReconcileBatchSize,
		PendingAfter: cfg.Orders.ReconcilePendingAfter,
		Retry:        retry,
	}, logger)
	reconcilerDone := make(chan struct{})
	go func() {
		defer close(reconcilerDone)
		reconciler.Run(ctx)
	}()

	orderHandler := handler.NewOrderHandler(orderService, store, logger)
	mux := router.NewOrderRouter(orderHandler, hub, auth.NewJWTResolver(cfg.Auth.JWTSecret), logger)

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Info().
			Str("address", cfg.Server.Address()).
			Msg("HTTP server started")
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info().
			Str("signal", sig.String()).
			Msg("shutdown signal received, starting graceful shutdown")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		// Hijacked event stream connections are not tracked by Shutdown.
		hub.Close()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown server gracefully")
			if closeErr := server.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close server")
			}
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		// Compensations started by in-flight requests still need the ledger and the pool.
		orderHandler.Wait()

		queue.Close()
		cancel()
		<-reconcilerDone

		logger.Info().Msg("server shutdown completed")
	}

	return nil
}

// newIdempotencyStore returns the configured store and a func releasing its resources.
func newIdempotencyStore(
	ctx context.Context,
	cfg *config.Config,
	pool *pgxpool.Pool,
	logger zerolog.Logger,
) (idempotency.Store, func(), error) {
	switch cfg.Idempotency.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Idempotency.RedisAddr,
			Password: cfg.Idempotency.RedisPassword,
			DB:       cfg.Idempotency.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info().Str("address", cfg.Idempotency.RedisAddr).Msg("using redis idempotency store")
		return idempotency.NewRedisStore(client, cfg.Idempotency.TTL), func() { client.Close() }, nil
	default:
		logger.Info().Msg("using postgres idempotency store")
		return idempotency.NewPostgresStore(repository.NewIdempotencyRepository(pool, logger)), func() {}, nil
	}
}

// newSnapshotSink archives snapshots to S3 when enabled, falling back to the log.
func newSnapshotSink(ctx context.Context, cfg config.S3Config, logger zerolog.Logger) enrichment.Sink {
	logSink := enrichment.NewLogSink(logger)
	if !cfg.Enabled {
		logger.Info().Msg("S3 disabled, order snapshots are logged only")
		return logSink
	}

	s3Sink, err := enrichment.NewS3Sink(ctx, cfg.Bucket, cfg.Region, cfg.Prefix, logger)
	if err != nil {
		logger.Warn().
			Err(err).
			Msg("failed to initialise S3 sink, falling back to logging snapshots")
		return logSink
	}
	return enrichment.NewFallbackSink(s3Sink, logSink, logger)
}
