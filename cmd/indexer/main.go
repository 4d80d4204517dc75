package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	sgo "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arbwatch/indexer/service/config"
	"github.com/arbwatch/indexer/service/db"
	"github.com/arbwatch/indexer/service/ingest"
	"github.com/arbwatch/indexer/service/metrics"
	"github.com/arbwatch/indexer/service/nats"
	"github.com/arbwatch/indexer/service/solana"
	"github.com/arbwatch/indexer/service/stream"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting indexer",
		"stream_ws_url", cfg.StreamWSURL,
		"program_id", cfg.ProgramID,
		"commitment", cfg.Commitment,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	store := db.NewStore(dbPool)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	// Prometheus registry and metrics endpoint
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		logger.Info("metrics listener started", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "error", err)
		}
	}()

	// Optional NATS publisher
	var publisher nats.Publisher
	if cfg.NATSURL != "" {
		p, err := nats.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to initialize NATS publisher", "error", err)
			os.Exit(1)
		}
		defer p.Close()
		publisher = p
	}

	programID, err := sgo.PublicKeyFromBase58(cfg.ProgramID)
	if err != nil {
		logger.Error("invalid PROGRAM_ID", "program_id", cfg.ProgramID, "error", err)
		os.Exit(1)
	}

	// Block-time enrichment over the query RPC
	rpcClient := rpc.New(cfg.RPCURL)
	enricher := solana.NewBlockTimeFetcher(rpcClient, cfg.EnrichRPS, cfg.EnrichTimeout, m, logger)

	subscriber := stream.New(stream.Config{
		WSURL:          cfg.StreamWSURL,
		AuthToken:      cfg.StreamAuthToken,
		ProgramID:      programID,
		Commitment:     rpc.CommitmentType(cfg.Commitment),
		BufferSize:     cfg.StreamBuffer,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}, m, logger)

	pipeline := ingest.New(ingest.Config{
		ProgramID:     cfg.ProgramID,
		BotAccount:    cfg.BotAccount,
		Workers:       cfg.EnrichWorkers,
		ShutdownGrace: cfg.ShutdownGrace,
	}, enricher, store, publisher, m, logger)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := subscriber.Run(ctx); err != nil {
			errs <- err
		}
	}()
	go func() {
		defer wg.Done()
		if err := pipeline.Run(ctx, subscriber.Updates()); err != nil {
			errs <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	failed := false
	select {
	case err := <-errs:
		logger.Error("indexer error", "error", err)
		failed = true
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	// Stop the subscription. The pipeline drains in-flight records
	// within the configured grace window.
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown metrics listener", "error", err)
	}

	if failed {
		os.Exit(1)
	}
	logger.Info("indexer shutdown complete")
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
