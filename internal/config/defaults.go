// Package config provides configuration loading, defaults, and validation for
// the heartbeat ingestion and anomaly-detection pipeline.
package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultDBHost    = "localhost"
	DefaultDBPort    = 5432
	DefaultDBName    = "heartbeat"
	DefaultDBPoolMax = 10
	DefaultDBPoolMin = 2

	DefaultKafkaBroker      = "localhost:19092"
	DefaultTopicRaw         = "events.raw.v1"
	DefaultTopicInvalid     = "events.invalid.v1"
	DefaultTopicAnomaly     = "events.anomaly.v1"
	DefaultTopicDLQ         = "events.dlq.v1"
	DefaultConsumerGroupDB  = "cg.db-writer.v1"
	DefaultConsumerGroupAnom = "cg.anomaly.v1"

	DefaultHeartRateMin = 45
	DefaultHeartRateMax = 185

	DefaultAnomalyLowThreshold  = 50
	DefaultAnomalyHighThreshold = 140
	DefaultAnomalySpikeDelta    = 30
	DefaultAnomalyHistorySize   = 6

	DefaultSimCustomerCount   = 1000
	DefaultSimEventsPerSecond = 200
	DefaultSimBurstMultiplier = 4
	DefaultSimInvalidRatio    = 0.02

	DefaultMetricsBasePort = 8000

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// DefaultSimSleepInterval is the pause between simulator batches.
const DefaultSimSleepInterval = 200 * time.Millisecond

// ─────────────────────────────────────────────────────────────────────────────
// ApplyDefaults fills zero-value fields in cfg with well-known defaults.
// It must be called after unmarshalling raw config data and before Validate()
// so that optional-but-defaulted fields are never seen as missing.
// ─────────────────────────────────────────────────────────────────────────────

// ApplyDefaults fills every zero-value field in cfg with the pipeline
// default. Fields already set by the caller (non-zero values) are left
// unchanged so that explicit configuration always wins.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Database ──────────────────────────────────────────────────────────────
	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.Database == "" {
		cfg.Database.Database = DefaultDBName
	}
	if cfg.Database.MaxOpenConnections == 0 {
		cfg.Database.MaxOpenConnections = DefaultDBPoolMax
	}
	if cfg.Database.MaxIdleConnections == 0 {
		cfg.Database.MaxIdleConnections = DefaultDBPoolMin
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MigrationPath == "" {
		cfg.Database.MigrationPath = "file://migrations"
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.BootstrapServers) == 0 {
		cfg.Kafka.BootstrapServers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.TopicRaw == "" {
		cfg.Kafka.TopicRaw = DefaultTopicRaw
	}
	if cfg.Kafka.TopicInvalid == "" {
		cfg.Kafka.TopicInvalid = DefaultTopicInvalid
	}
	if cfg.Kafka.TopicAnomaly == "" {
		cfg.Kafka.TopicAnomaly = DefaultTopicAnomaly
	}
	if cfg.Kafka.TopicDLQ == "" {
		cfg.Kafka.TopicDLQ = DefaultTopicDLQ
	}
	if cfg.Kafka.ConsumerGroupDBWriter == "" {
		cfg.Kafka.ConsumerGroupDBWriter = DefaultConsumerGroupDB
	}
	if cfg.Kafka.ConsumerGroupAnomaly == "" {
		cfg.Kafka.ConsumerGroupAnomaly = DefaultConsumerGroupAnom
	}

	// ── Ingest ────────────────────────────────────────────────────────────────
	if cfg.Ingest.HeartRateMin == 0 {
		cfg.Ingest.HeartRateMin = DefaultHeartRateMin
	}
	if cfg.Ingest.HeartRateMax == 0 {
		cfg.Ingest.HeartRateMax = DefaultHeartRateMax
	}

	// ── Anomaly ───────────────────────────────────────────────────────────────
	if cfg.Anomaly.LowThreshold == 0 {
		cfg.Anomaly.LowThreshold = DefaultAnomalyLowThreshold
	}
	if cfg.Anomaly.HighThreshold == 0 {
		cfg.Anomaly.HighThreshold = DefaultAnomalyHighThreshold
	}
	if cfg.Anomaly.SpikeDelta == 0 {
		cfg.Anomaly.SpikeDelta = DefaultAnomalySpikeDelta
	}
	if cfg.Anomaly.HistorySize == 0 {
		cfg.Anomaly.HistorySize = DefaultAnomalyHistorySize
	}

	// ── Simulator ─────────────────────────────────────────────────────────────
	if cfg.Simulator.CustomerCount == 0 {
		cfg.Simulator.CustomerCount = DefaultSimCustomerCount
	}
	if cfg.Simulator.EventsPerSecond == 0 {
		cfg.Simulator.EventsPerSecond = DefaultSimEventsPerSecond
	}
	if cfg.Simulator.BurstMultiplier == 0 {
		cfg.Simulator.BurstMultiplier = DefaultSimBurstMultiplier
	}
	if cfg.Simulator.SleepInterval == 0 {
		cfg.Simulator.SleepInterval = DefaultSimSleepInterval
	}
	// InvalidRatio: 0 is both the zero value and a legitimate explicit
	// setting ("never inject invalid events"), so only negative values
	// (never valid input) fall back to the default.
	if cfg.Simulator.InvalidRatio < 0 {
		cfg.Simulator.InvalidRatio = DefaultSimInvalidRatio
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.BasePort == 0 {
		cfg.Metrics.BasePort = DefaultMetricsBasePort
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}
