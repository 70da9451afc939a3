// Command banditd serves one multi-armed bandit over HTTP, persisting its
// state to the configured snapshot store.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/fractal-lba/bayesbandit/internal/cache"
	"github.com/fractal-lba/bayesbandit/internal/config"
	"github.com/fractal-lba/bayesbandit/internal/journal"
	"github.com/fractal-lba/bayesbandit/internal/metrics"
	"github.com/fractal-lba/bayesbandit/internal/schemafile"
	"github.com/fractal-lba/bayesbandit/internal/service"
	"github.com/fractal-lba/bayesbandit/internal/snapshotstore"
	"github.com/fractal-lba/bayesbandit/pkg/otel"
)

func main() {
	cfg, err := config.Load(getEnv("BANDIT_CONFIG", ""))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("banditd stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		tp, err := otel.InitTracer(ctx, &otel.Config{
			ServiceName:       cfg.Telemetry.ServiceName,
			ServiceVersion:    "0.1.0",
			Environment:       getEnv("BANDIT_ENVIRONMENT", "production"),
			CollectorEndpoint: cfg.Telemetry.Endpoint,
			SamplingRate:      cfg.Telemetry.SamplingRate,
		})
		if err != nil {
			return err
		}
		defer otel.Shutdown(context.Background(), tp)
	}

	file, err := schemafile.Load(cfg.Bandit.SchemaFile)
	if err != nil {
		return err
	}
	schema, err := file.Build(logger)
	if err != nil {
		return err
	}
	logger.Info("schema loaded", "path", cfg.Bandit.SchemaFile, "arms", len(file.Arms), "digest", file.Digest())

	store, err := snapshotstore.New(ctx, cfg.Store)
	if err != nil {
		return err
	}

	var j *journal.Journal
	if cfg.Journal.Enabled {
		j, err = journal.Open(cfg.Journal.Dir)
		if err != nil {
			store.Close()
			return err
		}
	}

	pending, err := cache.NewPendingTickets(cfg.Pending.Size, cfg.Pending.TTL())
	if err != nil {
		store.Close()
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	svc, err := service.Open(ctx, service.Options{
		Name:          cfg.Bandit.Name,
		Schema:        schema,
		Store:         store,
		Journal:       j,
		Metrics:       m,
		Pending:       pending,
		Logger:        logger,
		DelayedReward: cfg.Bandit.DelayedReward,
	})
	if err != nil {
		store.Close()
		if j != nil {
			j.Close()
		}
		return err
	}

	// Rate limiter
	limiter := rate.NewLimiter(rate.Limit(cfg.Server.TokenRate), cfg.Server.TokenRate*2)

	srv := &Server{
		svc:      svc,
		metrics:  m,
		gatherer: reg,
		limiter:  limiter,
		logger:   logger,
	}
	srv.metricsAuth.enabled = cfg.Server.MetricsUser != ""
	srv.metricsAuth.user = cfg.Server.MetricsUser
	srv.metricsAuth.password = cfg.Server.MetricsPass

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go checkpointLoop(ctx, svc, cfg.Bandit.CheckpointInterval(), logger)

	errc := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Server.Port, "bandit", cfg.Bandit.Name)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err = <-errc:
		logger.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		logger.Error("server shutdown error", "error", serr)
	}

	// Close checkpoints the final state and releases the store and journal
	if cerr := svc.Close(shutdownCtx); cerr != nil {
		logger.Error("failed to close bandit", "error", cerr)
		if err == nil {
			err = cerr
		}
	}

	logger.Info("server stopped")
	return err
}

// checkpointLoop saves a snapshot every interval until ctx is done
func checkpointLoop(ctx context.Context, svc *service.Service, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.Checkpoint(ctx); err != nil {
				logger.Warn("periodic checkpoint failed", "error", err)
			}
		}
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
