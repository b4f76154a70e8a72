package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/walletcore/service/config"
	"github.com/brojonat/walletcore/service/metrics"
	natspkg "github.com/brojonat/walletcore/service/nats"
	"github.com/brojonat/walletcore/service/networks"
	"github.com/brojonat/walletcore/service/temporal"
	"github.com/brojonat/walletcore/service/wallet"
)

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	if !cfg.TemporalEnabled {
		logger.Error("the worker requires Temporal; unset TEMPORAL_ENABLED=false")
		os.Exit(1)
	}

	// Cancelled on SIGINT or SIGTERM; the worker drains and stops
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry
	logger.Info("Prometheus metrics collector initialized")

	// Start metrics HTTP server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}

	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	// Build provider aggregators and networks for every enabled chain
	nets, err := networks.Build(ctx, cfg, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to build networks", "error", err)
		os.Exit(1)
	}
	defer nets.Close()

	// Initialize NATS publisher
	var sink wallet.EventSink
	if cfg.NATSEnabled {
		natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		sink = natspkg.NewSink(natsPublisher)
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	// Wallet managers are created on first refresh from the schedule input
	source := temporal.NewRegistrySource(wallet.NewRegistry(), nets, sink, metricsCollector, logger)

	// Initialize Temporal worker
	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:           cfg.TemporalHost,
		TemporalNamespace:      cfg.TemporalNamespace,
		TaskQueue:              cfg.TemporalTaskQueue,
		MaxConcurrentRefreshes: cfg.WorkerConcurrency,
		Wallets:                source,
		Metrics:                metricsCollector,
		Logger:                 logger,
	})
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"chains", nets.Blockchains(),
		"nats_enabled", cfg.NATSEnabled,
		"concurrency", cfg.WorkerConcurrency,
	)

	if err := worker.Run(ctx); err != nil {
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
