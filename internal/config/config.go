// Package config defines all configuration structures for the heartbeat
// ingestion and anomaly-detection pipeline. No I/O or parsing logic lives
// here — only plain data types and validation.
package config

import (
	"fmt"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host                  string        `mapstructure:"host"`
	Port                  int           `mapstructure:"port"`
	User                  string        `mapstructure:"user"`
	Password              string        `mapstructure:"password"`
	Database              string        `mapstructure:"database"`
	SSLMode               string        `mapstructure:"ssl_mode"`
	MaxOpenConnections    int           `mapstructure:"pool_max"`
	MaxIdleConnections    int           `mapstructure:"pool_min"`
	ConnectionMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectionMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationPath         string        `mapstructure:"migration_path"`
}

// KafkaConfig holds the topic, broker, and consumer-group wiring shared by
// every component that touches the durable log.
type KafkaConfig struct {
	BootstrapServers    []string `mapstructure:"bootstrap_servers"`
	TopicRaw            string   `mapstructure:"topic_raw"`
	TopicInvalid        string   `mapstructure:"topic_invalid"`
	TopicAnomaly        string   `mapstructure:"topic_anomaly"`
	TopicDLQ            string   `mapstructure:"topic_dlq"`
	ConsumerGroupDBWriter string `mapstructure:"consumer_group_db_writer"`
	ConsumerGroupAnomaly  string `mapstructure:"consumer_group_anomaly"`
}

// IngestConfig holds the soft validation bounds applied by the ingest
// consumer before a heartbeat event is persisted.
type IngestConfig struct {
	HeartRateMin int `mapstructure:"heart_rate_min"`
	HeartRateMax int `mapstructure:"heart_rate_max"`
}

// AnomalyConfig holds the anomaly-rule thresholds and the size of the
// per-subject rolling history window.
type AnomalyConfig struct {
	LowThreshold  int `mapstructure:"low_threshold"`
	HighThreshold int `mapstructure:"high_threshold"`
	SpikeDelta    int `mapstructure:"spike_delta"`
	HistorySize   int `mapstructure:"history_size"`
}

// SimulatorConfig holds the synthetic source generator's tunables.
type SimulatorConfig struct {
	CustomerCount     int           `mapstructure:"customer_count"`
	EventsPerSecond   int           `mapstructure:"events_per_second"`
	BurstMultiplier   int           `mapstructure:"burst_multiplier"`
	SleepInterval     time.Duration `mapstructure:"sleep_interval"`
	InvalidRatio      float64       `mapstructure:"invalid_ratio"`
}

// MetricsConfig holds the base port used for the per-process health and
// metrics HTTP surface. Each component offsets from this base so that
// multiple components can run on one host without colliding.
type MetricsConfig struct {
	BasePort int `mapstructure:"base_port"`
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level            string `mapstructure:"level"` // "debug" | "info" | "warn" | "error"
	Format           string `mapstructure:"format"` // "json" | "text"
	Output           string `mapstructure:"output"`
	EnableCaller     bool   `mapstructure:"enable_caller"`
	EnableStacktrace bool   `mapstructure:"enable_stacktrace"`
	SamplingRate     int    `mapstructure:"sampling_rate"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure shared by every subcommand.
// Each subcommand reads only the sub-structs it needs.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Anomaly   AnomalyConfig   `mapstructure:"anomaly"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config.
// It returns the first error encountered; callers should treat any error as
// fatal and refuse to start the application.
func (c *Config) Validate() error {
	// Database
	if c.Database.Host == "" {
		return fmt.Errorf("config: database.host is required")
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("config: database.port %d is out of range [1, 65535]", c.Database.Port)
	}
	if c.Database.User == "" {
		return fmt.Errorf("config: database.user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("config: database.database is required")
	}
	if c.Database.MaxOpenConnections < 1 {
		return fmt.Errorf("config: database.pool_max must be ≥ 1, got %d", c.Database.MaxOpenConnections)
	}
	if c.Database.MaxIdleConnections < 0 || c.Database.MaxIdleConnections > c.Database.MaxOpenConnections {
		return fmt.Errorf("config: database.pool_min must be between 0 and pool_max, got %d", c.Database.MaxIdleConnections)
	}

	// Kafka
	if len(c.Kafka.BootstrapServers) == 0 {
		return fmt.Errorf("config: kafka.bootstrap_servers must contain at least one broker address")
	}
	if c.Kafka.TopicRaw == "" || c.Kafka.TopicInvalid == "" || c.Kafka.TopicAnomaly == "" || c.Kafka.TopicDLQ == "" {
		return fmt.Errorf("config: kafka topic names must all be non-empty")
	}
	if c.Kafka.ConsumerGroupDBWriter == "" || c.Kafka.ConsumerGroupAnomaly == "" {
		return fmt.Errorf("config: kafka consumer group ids must all be non-empty")
	}

	// Ingest
	if c.Ingest.HeartRateMin >= c.Ingest.HeartRateMax {
		return fmt.Errorf("config: ingest.heart_rate_min must be < ingest.heart_rate_max")
	}

	// Anomaly
	if c.Anomaly.LowThreshold >= c.Anomaly.HighThreshold {
		return fmt.Errorf("config: anomaly.low_threshold must be < anomaly.high_threshold")
	}
	if c.Anomaly.SpikeDelta < 1 {
		return fmt.Errorf("config: anomaly.spike_delta must be ≥ 1, got %d", c.Anomaly.SpikeDelta)
	}
	if c.Anomaly.HistorySize < 1 {
		return fmt.Errorf("config: anomaly.history_size must be ≥ 1, got %d", c.Anomaly.HistorySize)
	}

	// Simulator
	if c.Simulator.CustomerCount < 1 {
		return fmt.Errorf("config: simulator.customer_count must be ≥ 1, got %d", c.Simulator.CustomerCount)
	}
	if c.Simulator.EventsPerSecond < 1 {
		return fmt.Errorf("config: simulator.events_per_second must be ≥ 1, got %d", c.Simulator.EventsPerSecond)
	}
	if c.Simulator.InvalidRatio < 0 || c.Simulator.InvalidRatio > 1 {
		return fmt.Errorf("config: simulator.invalid_ratio must be in [0, 1], got %f", c.Simulator.InvalidRatio)
	}

	// Metrics
	if c.Metrics.BasePort < 1 || c.Metrics.BasePort > 65535 {
		return fmt.Errorf("config: metrics.base_port %d is out of range [1, 65535]", c.Metrics.BasePort)
	}

	// Log
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|text", c.Log.Format)
	}

	return nil
}
