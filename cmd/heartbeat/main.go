// Command heartbeat is the single entry point for every process in the
// pipeline: the synthetic source simulator, the ingest consumer, the
// anomaly-detection consumer, and the database migration helper all run
// from this binary, selected by subcommand.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/heartbeat-pipeline/internal/application/anomaly"
	"github.com/turtacn/heartbeat-pipeline/internal/application/ingest"
	"github.com/turtacn/heartbeat-pipeline/internal/application/simulator"
	"github.com/turtacn/heartbeat-pipeline/internal/config"
	"github.com/turtacn/heartbeat-pipeline/internal/health"
	"github.com/turtacn/heartbeat-pipeline/internal/infrastructure/database/postgres"
	"github.com/turtacn/heartbeat-pipeline/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/heartbeat-pipeline/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/heartbeat-pipeline/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/heartbeat-pipeline/internal/infrastructure/monitoring/prometheus"
)

// port offsets so the three long-running components can share one
// configured metrics base port without colliding when run on the same host.
const (
	portOffsetSimulator = 0
	portOffsetIngest    = 1
	portOffsetAnomaly   = 2
)

// shutdownGrace bounds how long a component waits for its in-flight work to
// finish after a shutdown signal before forcing exit.
const shutdownGrace = 5 * time.Second

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "heartbeat",
		Short: "Heartbeat ingestion and anomaly-detection pipeline",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (env vars are read regardless)")

	root.AddCommand(
		newSimulateCmd(),
		newIngestCmd(),
		newAnomalyCmd(),
		newMigrateCmd(),
		newPrintCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadFromEnv()
}

// buildLogger adapts the application's config.LogConfig (a flat,
// single-output shape meant for YAML/env binding) to logging.LogConfig (the
// zap-backed constructor's shape, which takes a path slice and a
// "console"|"json" format name).
func buildLogger(cfg config.LogConfig) (logging.Logger, error) {
	format := cfg.Format
	if format == "text" {
		format = "console"
	}
	output := cfg.Output
	if output == "" {
		output = "stdout"
	}
	return logging.NewLogger(logging.LogConfig{
		Level:            cfg.Level,
		Format:           format,
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
		EnableCaller:     cfg.EnableCaller,
		EnableStacktrace: cfg.EnableStacktrace,
		SamplingRate:     cfg.SamplingRate,
	})
}

// waitForShutdown blocks until SIGINT/SIGTERM, then cancels ctx and waits
// for wg with a grace period before returning.
func waitForShutdown(logger logging.Logger, cancel context.CancelFunc, wg *sync.WaitGroup) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("received shutdown signal", logging.String("signal", sig.String()))

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shut down cleanly")
	case <-time.After(shutdownGrace):
		logger.Warn("shutdown grace period exceeded, exiting anyway")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// simulate
// ─────────────────────────────────────────────────────────────────────────────

func newSimulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Run the synthetic heartbeat source, publishing to the raw topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := buildLogger(cfg.Log)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			logger = logger.Named("simulator")

			collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
				Namespace: "heartbeat",
				Subsystem: "simulator",
			}, logger)
			if err != nil {
				return fmt.Errorf("build metrics collector: %w", err)
			}
			metrics := prometheus.NewAppMetrics(collector)

			producer, err := kafka.NewProducer(kafka.ProducerConfig{
				// Acks, retries, batching window, batch size, and compression
				// are left at the factory's pinned defaults.
				Brokers: cfg.Kafka.BootstrapServers,
			}, logger)
			if err != nil {
				return fmt.Errorf("build producer: %w", err)
			}
			defer producer.Close()

			generator := simulator.NewGenerator(
				cfg.Simulator.CustomerCount,
				cfg.Simulator.InvalidRatio,
				cfg.Ingest.HeartRateMin,
				cfg.Ingest.HeartRateMax,
				time.Now().UnixNano(),
			)
			runner := simulator.NewRunner(generator, producer, cfg.Simulator, cfg.Kafka.TopicRaw, logger, metrics)

			healthSrv := health.NewServer(health.Addr(cfg.Metrics.BasePort, portOffsetSimulator), collector, logger)
			healthSrv.Start()

			ctx, cancel := context.WithCancel(context.Background())
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := runner.Run(ctx); err != nil {
					logger.Error("simulator stopped with error", logging.Err(err))
				}
			}()

			waitForShutdown(logger, cancel, &wg)

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer shutdownCancel()
			if err := healthSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("health server shutdown error", logging.Err(err))
			}
			return nil
		},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// ingest
// ─────────────────────────────────────────────────────────────────────────────

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Run the ingest consumer: validate raw events, persist them, quarantine the rest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := buildLogger(cfg.Log)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			logger = logger.Named("ingest")

			collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
				Namespace: "heartbeat",
				Subsystem: "ingest",
			}, logger)
			if err != nil {
				return fmt.Errorf("build metrics collector: %w", err)
			}
			metrics := prometheus.NewAppMetrics(collector)

			pool, err := postgres.NewConnectionPool(cfg.Database, logger)
			if err != nil {
				return fmt.Errorf("connect to postgres: %w", err)
			}
			defer pool.Close()

			store := repositories.NewHeartbeatRepository(pool, logger)

			reader, err := kafka.NewManualCommitReader(kafka.ConsumerConfig{
				Brokers:         cfg.Kafka.BootstrapServers,
				GroupID:         cfg.Kafka.ConsumerGroupDBWriter,
				Topics:          []string{cfg.Kafka.TopicRaw},
				AutoOffsetReset: "earliest",
			})
			if err != nil {
				return fmt.Errorf("build reader: %w", err)
			}

			producer, err := kafka.NewProducer(kafka.ProducerConfig{
				// Acks, retries, batching window, batch size, and compression
				// are left at the factory's pinned defaults.
				Brokers: cfg.Kafka.BootstrapServers,
			}, logger)
			if err != nil {
				return fmt.Errorf("build producer: %w", err)
			}

			consumer := ingest.NewConsumer(reader, producer, store, cfg.Ingest, cfg.Kafka, logger, metrics)

			healthSrv := health.NewServer(health.Addr(cfg.Metrics.BasePort, portOffsetIngest), collector, logger, health.NewPoolChecker(pool))
			healthSrv.Start()

			ctx, cancel := context.WithCancel(context.Background())
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := consumer.Run(ctx); err != nil {
					logger.Error("ingest consumer stopped with error", logging.Err(err))
				}
			}()

			waitForShutdown(logger, cancel, &wg)

			if err := consumer.Close(); err != nil {
				logger.Error("error closing consumer", logging.Err(err))
			}
			if err := producer.Close(); err != nil {
				logger.Error("error closing producer", logging.Err(err))
			}
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer shutdownCancel()
			if err := healthSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("health server shutdown error", logging.Err(err))
			}
			return nil
		},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// anomaly
// ─────────────────────────────────────────────────────────────────────────────

func newAnomalyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "anomaly",
		Short: "Run the anomaly-detection consumer over validated events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := buildLogger(cfg.Log)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			logger = logger.Named("anomaly")

			collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
				Namespace: "heartbeat",
				Subsystem: "anomaly",
			}, logger)
			if err != nil {
				return fmt.Errorf("build metrics collector: %w", err)
			}
			metrics := prometheus.NewAppMetrics(collector)

			pool, err := postgres.NewConnectionPool(cfg.Database, logger)
			if err != nil {
				return fmt.Errorf("connect to postgres: %w", err)
			}
			defer pool.Close()

			store := repositories.NewHeartbeatRepository(pool, logger)

			reader, err := kafka.NewManualCommitReader(kafka.ConsumerConfig{
				Brokers:         cfg.Kafka.BootstrapServers,
				GroupID:         cfg.Kafka.ConsumerGroupAnomaly,
				Topics:          []string{cfg.Kafka.TopicRaw},
				AutoOffsetReset: "earliest",
			})
			if err != nil {
				return fmt.Errorf("build reader: %w", err)
			}

			producer, err := kafka.NewProducer(kafka.ProducerConfig{
				// Acks, retries, batching window, batch size, and compression
				// are left at the factory's pinned defaults.
				Brokers: cfg.Kafka.BootstrapServers,
			}, logger)
			if err != nil {
				return fmt.Errorf("build producer: %w", err)
			}

			consumer := anomaly.NewConsumer(reader, producer, store, cfg.Anomaly, cfg.Kafka, logger, metrics)

			healthSrv := health.NewServer(health.Addr(cfg.Metrics.BasePort, portOffsetAnomaly), collector, logger, health.NewPoolChecker(pool))
			healthSrv.Start()

			ctx, cancel := context.WithCancel(context.Background())
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := consumer.Run(ctx); err != nil {
					logger.Error("anomaly consumer stopped with error", logging.Err(err))
				}
			}()

			waitForShutdown(logger, cancel, &wg)

			if err := consumer.Close(); err != nil {
				logger.Error("error closing consumer", logging.Err(err))
			}
			if err := producer.Close(); err != nil {
				logger.Error("error closing producer", logging.Err(err))
			}
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer shutdownCancel()
			if err := healthSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("health server shutdown error", logging.Err(err))
			}
			return nil
		},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// migrate
// ─────────────────────────────────────────────────────────────────────────────

func newMigrateCmd() *cobra.Command {
	var steps int
	var forceVersion int

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return postgres.RunMigrations(postgres.DSN(cfg.Database), migrationsURL(cfg.Database))
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the given number of migration steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return postgres.RollbackMigration(postgres.DSN(cfg.Database), migrationsURL(cfg.Database), steps)
		},
	}
	downCmd.Flags().IntVar(&steps, "steps", 1, "number of migration steps to roll back")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			version, dirty, err := postgres.MigrationStatus(postgres.DSN(cfg.Database), migrationsURL(cfg.Database))
			if err != nil {
				return err
			}
			fmt.Printf("version=%d dirty=%t\n", version, dirty)
			return nil
		},
	}

	forceCmd := &cobra.Command{
		Use:   "force",
		Short: "Force the migration version without running migrations (recovers from a dirty state)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return postgres.ForceMigrationVersion(postgres.DSN(cfg.Database), migrationsURL(cfg.Database), forceVersion)
		},
	}
	forceCmd.Flags().IntVar(&forceVersion, "version", -1, "version to force (-1 clears the dirty flag with no version applied)")

	migrateCmd.AddCommand(upCmd, downCmd, statusCmd, forceCmd)
	return migrateCmd
}

func migrationsURL(cfg config.DatabaseConfig) string {
	if strings.HasPrefix(cfg.MigrationPath, "file://") {
		return cfg.MigrationPath
	}
	if cfg.MigrationPath != "" {
		return "file://" + cfg.MigrationPath
	}
	return "file://internal/infrastructure/database/postgres/migrations"
}

// ─────────────────────────────────────────────────────────────────────────────
// print
// ─────────────────────────────────────────────────────────────────────────────

func newPrintCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "print",
		Short: "Emit the simulator's stream to stdout as JSON lines, with no broker involved",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			generator := simulator.NewGenerator(
				cfg.Simulator.CustomerCount,
				cfg.Simulator.InvalidRatio,
				cfg.Ingest.HeartRateMin,
				cfg.Ingest.HeartRateMax,
				time.Now().UnixNano(),
			)
			for i := 0; i < count; i++ {
				value, _ := generator.Next()
				fmt.Println(string(value))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 100, "number of events to emit")
	return cmd
}
