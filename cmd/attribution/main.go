package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shoptrail/attribution/internal/attribution"
	"github.com/shoptrail/attribution/internal/config"
	"github.com/shoptrail/attribution/internal/database"
	"github.com/shoptrail/attribution/internal/eventlog"
	"github.com/shoptrail/attribution/internal/httpserver"
	"github.com/shoptrail/attribution/internal/metrics"
	"github.com/shoptrail/attribution/internal/middleware"
	"github.com/shoptrail/attribution/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg)
	defer logger.Sync()

	logger.Info("starting attribution service",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
		zap.Duration("attribution_window", cfg.Attribution.Window),
	)

	m := metrics.NewMetrics("attribution")

	var db *database.PostgresDB
	if cfg.Database.Enabled {
		db, err = database.NewPostgresDB(cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			logger.Warn("PostgreSQL not available, using in-memory storage", zap.Error(err))
			db = nil
		} else {
			defer db.Close()
			logger.Info("connected to PostgreSQL")
		}
	}

	var redisDB *database.RedisDB
	if cfg.Redis.Enabled {
		redisDB, err = database.NewRedisDB(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis not available, reporting cache disabled", zap.Error(err))
			redisDB = nil
		} else {
			defer redisDB.Close()
			logger.Info("connected to Redis")
		}
	}

	var events eventlog.Sink = eventlog.Noop{}
	if cfg.ClickHouse.Enabled {
		sink, err := eventlog.NewClickHouseSink(
			cfg.ClickHouse.Addr, cfg.ClickHouse.Database,
			cfg.ClickHouse.User, cfg.ClickHouse.Password, logger)
		if err != nil {
			logger.Warn("ClickHouse not available, event stream disabled", zap.Error(err))
		} else {
			events = sink
			logger.Info("connected to ClickHouse")
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := sink.Close(ctx); err != nil {
					logger.Warn("failed to close event sink", zap.Error(err))
				}
			}()
		}
	}

	campaigns, visits, snapshots := newStores(db)
	deps := &httpserver.Dependencies{
		Campaigns: campaigns,
		Visits:    visits,
		Snapshots: snapshots,
		Redis:     redisDB,
		Events:    events,
		Config:    cfg,
		Logger:    logger,
		Metrics:   m,
	}
	handler := httpserver.NewServer(deps)

	// Middleware chain, innermost first.
	rateLimit := middleware.NewRateLimitMiddleware(cfg.RateLimit, logger)
	rateLimit.SetMetrics(m)
	handler = rateLimit.Handler(handler)
	handler = middleware.NewAuthMiddleware(cfg.Auth, logger).Handler(handler)
	handler = middleware.NewLoggingMiddleware(logger).Handler(handler)
	handler = middleware.NewRecoveryMiddleware(logger).Handler(handler)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Snapshots.Enabled {
		runner := attribution.NewSnapshotter(campaigns, visits, snapshots, logger)
		go runner.Run(rootCtx, cfg.Snapshots.Interval)
		logger.Info("snapshot runner enabled", zap.Duration("interval", cfg.Snapshots.Interval))
	}

	if db != nil {
		go poolStatsLoop(rootCtx, db, m)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// newStores picks postgres-backed storage when a database is up and
// falls back to in-memory otherwise. Built once so the HTTP server and
// the snapshot runner share the same data.
func newStores(db *database.PostgresDB) (storage.CampaignRepo, storage.VisitStore, storage.SnapshotRepo) {
	if db != nil {
		return storage.NewPostgresCampaignRepo(db.Pool),
			storage.NewPostgresVisitStore(db.Pool),
			storage.NewPostgresSnapshotRepo(db.Pool)
	}
	return storage.NewMemoryCampaignRepo(),
		storage.NewMemoryVisitStore(),
		storage.NewMemorySnapshotRepo()
}

func poolStatsLoop(ctx context.Context, db *database.PostgresDB, m *metrics.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle, inUse, total := db.Stats()
			m.UpdateDBStats(idle, inUse, total)
		}
	}
}

func setupLogger(cfg *config.Config) *zap.Logger {
	var zapCfg zap.Config

	if cfg.IsDevelopment() {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch cfg.Log.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}

	return logger
}
