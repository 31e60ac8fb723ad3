package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saturnino-fabrica-de-software/facegate/internal/api"
	"github.com/saturnino-fabrica-de-software/facegate/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/facegate/internal/audit"
	"github.com/saturnino-fabrica-de-software/facegate/internal/config"
	"github.com/saturnino-fabrica-de-software/facegate/internal/database"
	"github.com/saturnino-fabrica-de-software/facegate/internal/face"
	"github.com/saturnino-fabrica-de-software/facegate/internal/quality"
	"github.com/saturnino-fabrica-de-software/facegate/internal/repository"
	"github.com/saturnino-fabrica-de-software/facegate/internal/service"
	"github.com/saturnino-fabrica-de-software/facegate/internal/storage"
	"github.com/saturnino-fabrica-de-software/facegate/internal/vectorindex"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger := config.NewLogger(os.Stdout, cfg.Environment, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting FaceGate API",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.Port),
		slog.String("provider", cfg.ProviderType),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Metadata store
	pool, err := database.Connect(ctx, database.DefaultPoolConfig(cfg.DatabaseURL))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	// Vector index
	index, err := vectorindex.Open(vectorindex.Config{
		Dir:       cfg.IndexDir,
		Dimension: cfg.IndexDimension,
		Metric:    vectorindex.Metric(cfg.DistanceMetric),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to open vector index: %w", err)
	}
	defer func() {
		if err := index.Close(); err != nil {
			logger.Error("failed to close vector index", slog.Any("error", err))
		}
	}()

	stats := index.Stats()
	logger.Info("vector index loaded",
		slog.String("dir", cfg.IndexDir),
		slog.Int("size", stats.Size),
		slog.Int("live", stats.Live),
	)

	faces, err := face.NewFaceProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create face provider: %w", err)
	}

	uploads, err := storage.NewLocalStore(cfg.UploadDir)
	if err != nil {
		return fmt.Errorf("failed to prepare upload dir: %w", err)
	}

	identities := repository.NewIdentityRepository(pool)
	records := repository.NewEmbeddingRecordRepository(pool)
	audits := repository.NewMatchAuditRepository(pool)

	gate := quality.NewGate(quality.NewScorer(), cfg.QualityMin, logger)
	timeouts := service.Timeouts{Provider: cfg.ProviderTimeout, Store: cfg.StoreTimeout}

	enrollment := service.NewEnrollmentService(identities, records, index, faces, gate, logger).
		WithTimeouts(timeouts).
		WithUploads(uploads).
		WithAudit(audit.NewSlogLogger(logger))
	matching := service.NewMatchService(identities, audits, index, faces, gate, logger).
		WithTimeouts(timeouts).
		WithThreshold(cfg.Threshold)

	// Setup router
	router := api.NewRouter(logger, &api.Dependencies{
		Enroller:       enrollment,
		Recognizer:     matching,
		Index:          index,
		Store:          pool,
		Model:          faces.Model(),
		APIKey:         cfg.APIKey,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxFileSize:    int64(cfg.MaxFileSize),
		RateLimit: middleware.RateLimiterConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
	})
	router.Setup()

	if cfg.APIKey == "" {
		logger.Warn("API_KEY not set, face endpoints are unauthenticated")
	}

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("server listening", slog.String("addr", addr))
		if err := router.Listen(addr); err != nil {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down server...")
	done := make(chan error, 1)
	go func() { done <- router.Shutdown() }()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("shutdown error", slog.Any("error", err))
		}
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out")
	}

	logger.Info("server stopped")
	return nil
}
