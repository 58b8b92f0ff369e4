package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "prod")
		boot.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "overdue-worker").Logger()
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("overdue-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()

	var sink notify.Dispatcher = notify.NewLog(logger)
	if cfg.NotifySink == "redis" {
		rdb, err := redisclient.NewRedisClient(rootCtx, cfg)
		if err != nil {
			pgPool.Close()
			logger.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing redis")
			}
		}()
		sink = notify.NewRedisStream(rdb, cfg.NotifyStream)
	}

	m := metrics.NewSchedulingMetrics(prometheus.DefaultRegisterer)

	// the worker never books, so it runs without the slot locker
	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		appointment.NewPgDirectory(pgPool),
		nil,
		sink,
		cfg,
		appointment.WithLogger(logger),
		appointment.WithMetrics(m),
	)

	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping overdue worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.NotifyOverdue(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("overdue run error")
		return
	}
	logger.Info().Int("overdue", n).Dur("took", time.Since(start)).Msg("overdue run complete")
}
