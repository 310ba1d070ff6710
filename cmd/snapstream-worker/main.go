// Package main provides the entry point for the snapstream worker.
// The worker polls an Apache Iceberg table for new snapshots and hands the
// resulting scan tasks to a sink, checkpointing its position as it goes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/janovincze/snapstream/internal/api"
	"github.com/janovincze/snapstream/internal/api/middleware"
	"github.com/janovincze/snapstream/internal/checkpoint"
	"github.com/janovincze/snapstream/internal/config"
	"github.com/janovincze/snapstream/internal/health"
	"github.com/janovincze/snapstream/internal/iceberg"
	"github.com/janovincze/snapstream/internal/iceberg/catalog"
	"github.com/janovincze/snapstream/internal/iceberg/scan"
	"github.com/janovincze/snapstream/internal/metrics"
	"github.com/janovincze/snapstream/internal/sink"
	"github.com/janovincze/snapstream/internal/source"
	"github.com/janovincze/snapstream/internal/vault"
)

const shutdownTimeout = 10 * time.Second

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logger.Warn("unknown log level, using info", "log_level", cfg.LogLevel)
	}
	if err := vault.Resolve(ctx, cfg, logger); err != nil {
		logger.Error("failed to resolve credentials", "error", err)
		os.Exit(1)
	}
	if cfg.API.Enabled && cfg.API.AuthEnabled && cfg.API.JWTSecret == "" {
		logger.Error("api auth is enabled but no jwt secret was resolved")
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting snapstream worker",
		"version", cfg.Version,
		"environment", cfg.Environment,
		"source", cfg.Source.Name,
	)

	table, err := iceberg.ParseTableIdentifier(cfg.Source.Table)
	if err != nil {
		return fmt.Errorf("parse source table: %w", err)
	}

	cat := catalog.NewRESTCatalog(catalog.Config{
		CatalogURL:        cfg.Iceberg.CatalogURL,
		Warehouse:         cfg.Iceberg.Warehouse,
		Token:             cfg.Iceberg.Token,
		RequestTimeout:    cfg.Iceberg.RequestTimeout,
		RequestsPerSecond: cfg.Iceberg.RequestsPerSecond,
		PlanPollInterval:  cfg.Iceberg.PlanPollInterval,
	}, logger)
	defer cat.Close()

	fetcher := source.NewIncrementalFetcher(cat, source.FetcherConfig{
		Table:         table,
		AsOf:          cfg.Source.AsOfTime,
		CaseSensitive: cfg.Source.CaseSensitive,
		Select:        cfg.Source.Select,
		Filter:        cfg.Source.Filter,
		Scan: scan.Config{
			SplitTargetSize: cfg.Scan.SplitTargetSize,
			OpenFileCost:    cfg.Scan.OpenFileCost,
			Lookback:        cfg.Scan.Lookback,
		},
	}, logger)

	healthMgr := health.NewManager(health.ManagerConfig{Timeout: cfg.Health.ReadinessTimeout}, logger)

	out, queue, err := openSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer out.Close()
	if queue != nil {
		healthMgr.Register(health.NewPingChecker("task-queue", queue.Ping))
	}

	src, err := source.New(fetcher, out, source.Config{
		Name:               cfg.Source.Name,
		FromSnapshotID:     cfg.Source.FromSnapshotID,
		MinPollInterval:    cfg.Source.MinPollInterval,
		MaxPollInterval:    cfg.Source.MaxPollInterval,
		RemainingSnapshots: cfg.Source.RemainingSnapshots,
		Retry: source.RetryPolicy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
			Multiplier:      cfg.Retry.Multiplier,
			Jitter:          true,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}
	healthMgr.Register(health.NewSourceChecker("source", cfg.Source.StallAfter, func() health.SourceStatus {
		stats := src.Stats()
		return health.SourceStatus{
			State:          src.State().String(),
			Cursor:         src.Cursor(),
			LastProgressAt: stats.LastProgressAt,
		}
	}))

	var coord *checkpoint.Coordinator
	if cfg.Checkpoint.Enabled {
		manager, err := checkpoint.Open(ctx, checkpointOpenConfig(cfg), logger)
		if err != nil {
			return err
		}
		defer manager.Close()
		healthMgr.Register(health.NewPingChecker("checkpoint-store", manager.Ping))

		coord, err = checkpoint.NewCoordinator(manager, checkpoint.Config{
			Enabled:  true,
			Interval: cfg.Checkpoint.Interval,
			Schedule: cfg.Checkpoint.Schedule,
		}, logger)
		if err != nil {
			return fmt.Errorf("create checkpoint coordinator: %w", err)
		}

		if err := coord.Restore(ctx, src); err != nil {
			return fmt.Errorf("restore source: %w", err)
		}
	}

	logger.Info("snapstream source configured",
		"table", table.String(),
		"catalog_url", cfg.Iceberg.CatalogURL,
		"from_snapshot_id", cfg.Source.FromSnapshotID,
		"cursor", src.Cursor(),
		"min_poll_interval", cfg.Source.MinPollInterval,
		"max_poll_interval", cfg.Source.MaxPollInterval,
		"remaining_snapshots", cfg.Source.RemainingSnapshots,
		"sink", out.Name(),
		"checkpoint_enabled", cfg.Checkpoint.Enabled,
		"checkpoint_backend", cfg.Checkpoint.Backend,
	)

	// runCtx ends every background goroutine once the source stops, even when
	// it stops cleanly because its snapshot budget ran out.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.Metrics.Enabled {
		registry := metrics.NewRegistry()
		srv := &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("starting metrics server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Health.Enabled {
		healthSrv := health.NewServer(healthMgr, health.ServerConfig{
			ListenAddr:   cfg.Health.ListenAddr,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}, logger)
		g.Go(healthSrv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return healthSrv.Stop(shutdownCtx)
		})
	}

	if cfg.API.Enabled {
		apiCfg := api.ServerConfig{
			Version:        cfg.Version,
			Environment:    cfg.Environment,
			ListenAddr:     cfg.API.ListenAddr,
			ReadTimeout:    cfg.API.ReadTimeout,
			WriteTimeout:   cfg.API.WriteTimeout,
			Source:         src,
			MetricsEnabled: cfg.Metrics.Enabled,
			CORSConfig: middleware.CORSConfig{
				AllowedOrigins: cfg.API.CORSOrigins,
				MaxAge:         12 * time.Hour,
			},
			RateLimitConfig: middleware.RateLimitConfig{
				RequestsPerSecond: cfg.API.RateLimitRPS,
				BurstSize:         cfg.API.RateLimitBurst,
			},
			AuthConfig: middleware.AuthConfig{
				Enabled: cfg.API.AuthEnabled,
				Secret:  []byte(cfg.API.JWTSecret),
				Issuer:  cfg.API.JWTIssuer,
			},
		}
		if coord != nil {
			apiCfg.Coordinator = coord
		}
		apiSrv := api.NewServer(apiCfg, logger)
		g.Go(apiSrv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return apiSrv.Stop(shutdownCtx)
		})
	}

	if coord != nil {
		g.Go(func() error { return coord.Run(gctx, src) })
	}

	if queue != nil && cfg.Sink.CleanupInterval > 0 {
		g.Go(func() error {
			runQueueCleanup(gctx, queue, cfg.Sink.Retention, cfg.Sink.CleanupInterval, logger)
			return nil
		})
	}

	g.Go(func() error {
		defer cancelRun()

		runErr := src.Run(gctx)

		if coord != nil {
			// The source no longer emits, so this checkpoint holds the final cursor.
			finalCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if _, err := coord.Checkpoint(finalCtx, src); err != nil {
				logger.Error("failed to save final checkpoint", "error", err)
			}
		}

		if runErr != nil {
			return fmt.Errorf("source: %w", runErr)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("snapstream worker stopped gracefully",
		"state", src.State().String(),
		"cursor", src.Cursor(),
	)
	return nil
}

// openSink creates the configured sink. The postgres queue is also returned
// on its own so the worker can ping and clean it.
func openSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sink.Sink, *sink.PostgresSink, error) {
	switch cfg.Sink.Kind {
	case sink.KindPostgres:
		queue, err := sink.NewPostgresSink(ctx, sink.PostgresConfig{
			DSN:          cfg.Database.DSN(),
			SourceID:     cfg.Source.Name,
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create postgres sink: %w", err)
		}
		return queue, queue, nil
	case sink.KindParquet:
		out, err := sink.NewParquetSink(ctx, sink.ParquetConfig{
			Endpoint:    cfg.Storage.Endpoint,
			AccessKey:   cfg.Storage.AccessKey,
			SecretKey:   cfg.Storage.SecretKey,
			UseSSL:      cfg.Storage.UseSSL,
			Region:      cfg.Storage.Region,
			Bucket:      cfg.Storage.Bucket,
			Prefix:      cfg.Sink.ParquetPrefix,
			SourceID:    cfg.Source.Name,
			Compression: cfg.Sink.ParquetCompression,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create parquet sink: %w", err)
		}
		return out, nil, nil
	case sink.KindLog:
		return sink.NewLogSink(logger, slog.LevelInfo), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown sink kind %q", cfg.Sink.Kind)
	}
}

func checkpointOpenConfig(cfg *config.Config) checkpoint.OpenConfig {
	return checkpoint.OpenConfig{
		Backend: cfg.Checkpoint.Backend,
		Postgres: checkpoint.PostgresConfig{
			DSN:          cfg.Database.DSN(),
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		},
		SQLitePath: cfg.Checkpoint.SQLitePath,
		S3: checkpoint.S3Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Region:    cfg.Storage.Region,
			Bucket:    cfg.Storage.Bucket,
			Prefix:    cfg.Checkpoint.S3Prefix,
		},
	}
}

func runQueueCleanup(ctx context.Context, queue *sink.PostgresSink, retention, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := queue.Cleanup(ctx, retention); err != nil && ctx.Err() == nil {
				logger.Error("scan task cleanup failed", "error", err)
			}
		}
	}
}
