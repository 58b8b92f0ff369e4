package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "api-server",
		Short: "Clinic appointment scheduling API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			return runServer(cfg)
		},
	}
}

func runServer(cfg config.Config) error {
	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "api-server").Logger()
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("version", version).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg)
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg)
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	m := metrics.NewSchedulingMetrics(prometheus.DefaultRegisterer)

	var sink notify.Dispatcher = notify.NewRedisStream(rdb, cfg.NotifyStream)
	if cfg.NotifySink == "log" {
		sink = notify.NewLog(logger)
	}
	dispatcher := notify.NewAsync(sink, cfg.NotifyWorkers, cfg.NotifyQueue, cfg.NotifyTimeout, logger, m)

	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		appointment.NewPgDirectory(pgPool),
		redisclient.NewRedisLocker(rdb, cfg.LockTTL, logger),
		dispatcher,
		cfg,
		appointment.WithLogger(logger),
		appointment.WithMetrics(m),
	)

	router := api.NewRouter(api.RouterConfig{
		Service:   svc,
		Postgres:  pgPool,
		Redis:     rdb,
		JWTSecret: []byte(cfg.JWTSecret),
		Logger:    logger,
		Metrics:   m,
		Gatherer:  prometheus.DefaultGatherer,
		Env:       cfg.Env,
		Version:   version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("notifications still queued at shutdown")
	}

	logger.Info().Msg("api-server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *db.Migrator, log zerolog.Logger) error {
				if err := m.Up(); err != nil {
					return err
				}
				log.Info().Msg("migrations complete")
				return nil
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			return withMigrator(func(m *db.Migrator, log zerolog.Logger) error {
				if err := m.Down(steps); err != nil {
					return err
				}
				log.Info().Int("steps", steps).Msg("rolled back")
				return nil
			})
		},
	}
	downCmd.Flags().Int("steps", 1, "number of migrations to roll back")

	forceCmd := &cobra.Command{
		Use:   "force <version>",
		Short: "Force the schema version after a failed migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			return withMigrator(func(m *db.Migrator, log zerolog.Logger) error {
				if err := m.Force(v); err != nil {
					return err
				}
				log.Info().Int("version", v).Msg("forced version")
				return nil
			})
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *db.Migrator, log zerolog.Logger) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				log.Info().Uint("version", v).Bool("dirty", dirty).Msg("schema version")
				return nil
			})
		},
	}

	cmd.AddCommand(upCmd, downCmd, forceCmd, versionCmd)
	return cmd
}

func withMigrator(fn func(*db.Migrator, zerolog.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "migrate").Logger()

	m, err := db.NewMigrator(cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn().Err(err).Msg("close migrator")
		}
	}()
	return fn(m, logger)
}
