package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qaforge/botshield/infrastructure/analyzer"
	"github.com/qaforge/botshield/infrastructure/cache"
	"github.com/qaforge/botshield/infrastructure/layers"
	"github.com/qaforge/botshield/infrastructure/middleware"
	"github.com/qaforge/botshield/internal/application"
	"github.com/qaforge/botshield/internal/ports"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the detection engine as an HTTP service",
		Long: `Run the detection engine as an HTTP service.

Exposes POST /v1/classify for detection requests, GET /v1/status and
GET /v1/accuracy for observability, and /metrics for Prometheus.`,
		Example: `  # Serve with production defaults on :8080
  botshield serve

  # Serve with a configuration file
  botshield --config /etc/botshield/config.yaml serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
				cfg.ListenAddr = listen
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("listen", "", "listen address override (e.g. :9090)")
	return cmd
}

func runServe(ctx context.Context, cfg application.ServiceConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	// Verdict cache: SQLite when a path is configured, in-memory otherwise.
	var store ports.CacheStore
	if cfg.CachePath != "" {
		sqliteCache, err := cache.NewSQLiteCache(cfg.CachePath)
		if err != nil {
			return fmt.Errorf("opening verdict cache: %w", err)
		}
		defer sqliteCache.Close() //nolint:errcheck
		store = sqliteCache
		logger.Info("using sqlite verdict cache", zap.String("path", cfg.CachePath))
	} else {
		memCache := cache.NewMemoryCache()
		defer memCache.Close()
		store = memCache
		logger.Info("using in-memory verdict cache")
	}

	limiter, err := middleware.NewSlidingWindowLimiter(middleware.RateLimiterConfig{
		RequestsPerMinute: cfg.RequestsPerMinute,
		RequestsPerHour:   cfg.RequestsPerHour,
		Burst:             cfg.Burst,
	})
	if err != nil {
		return fmt.Errorf("initializing rate limiter: %w", err)
	}

	metrics := middleware.NewPrometheusMetrics()

	engine, err := buildEngine(cfg.Engine, store, limiter, metrics, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newRouter(engine, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// buildEngine assembles the full detection stack: the three layers, the
// coordinator, and the consensus engine.
func buildEngine(
	cfg application.EngineConfig,
	store ports.CacheStore,
	limiter ports.RateLimiter,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) (*application.ConsensusEngine, error) {
	signatureLayer, err := layers.NewSignatureLayer(layers.DefaultSignatureConfig())
	if err != nil {
		return nil, fmt.Errorf("building signature layer: %w", err)
	}
	behavioralLayer, err := layers.NewBehavioralLayer(layers.DefaultBehavioralConfig())
	if err != nil {
		return nil, fmt.Errorf("building behavioral layer: %w", err)
	}
	textAnalyzer := analyzer.NewHeuristicAnalyzer(analyzer.DefaultHeuristicConfig())
	authorshipLayer, err := layers.NewAuthorshipLayer(layers.DefaultAuthorshipConfig(), textAnalyzer)
	if err != nil {
		return nil, fmt.Errorf("building authorship layer: %w", err)
	}

	coordinator, err := application.NewCoordinator(
		cfg,
		[]ports.DetectionLayer{signatureLayer, behavioralLayer, authorshipLayer},
		store, limiter, metrics, logger,
	)
	if err != nil {
		return nil, fmt.Errorf("building coordinator: %w", err)
	}

	engine, err := application.NewConsensusEngine(cfg, coordinator, metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("building consensus engine: %w", err)
	}
	return engine, nil
}
