package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newValidConfig() *Config {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:               "localhost",
			Port:               5432,
			User:               "user",
			Password:           "password",
			Database:           "heartbeat",
			SSLMode:            "disable",
			MaxOpenConnections: 25,
			MaxIdleConnections: 5,
		},
		Kafka: KafkaConfig{
			BootstrapServers:      []string{"localhost:9092"},
			TopicRaw:              "heartbeat.raw",
			TopicInvalid:          "heartbeat.invalid",
			TopicAnomaly:          "heartbeat.anomaly",
			TopicDLQ:              "heartbeat.dlq",
			ConsumerGroupDBWriter: "db-writer",
			ConsumerGroupAnomaly:  "anomaly-detector",
		},
		Ingest: IngestConfig{
			HeartRateMin: 45,
			HeartRateMax: 185,
		},
		Anomaly: AnomalyConfig{
			LowThreshold:  50,
			HighThreshold: 140,
			SpikeDelta:    30,
			HistorySize:   6,
		},
		Simulator: SimulatorConfig{
			CustomerCount:   1000,
			EventsPerSecond: 200,
			InvalidRatio:    0.02,
		},
		Metrics: MetricsConfig{
			BasePort: 9100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
	return cfg
}

func TestConfig_Validate_ValidConfig(t *testing.T) {
	cfg := newValidConfig()
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_MissingDatabaseHost(t *testing.T) {
	cfg := newValidConfig()
	cfg.Database.Host = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_InvalidDatabasePort(t *testing.T) {
	cfg := newValidConfig()
	cfg.Database.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_PoolMinExceedsPoolMax(t *testing.T) {
	cfg := newValidConfig()
	cfg.Database.MaxIdleConnections = cfg.Database.MaxOpenConnections + 1
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_EmptyKafkaBrokers(t *testing.T) {
	cfg := newValidConfig()
	cfg.Kafka.BootstrapServers = nil
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_EmptyKafkaTopic(t *testing.T) {
	cfg := newValidConfig()
	cfg.Kafka.TopicDLQ = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_EmptyConsumerGroup(t *testing.T) {
	cfg := newValidConfig()
	cfg.Kafka.ConsumerGroupAnomaly = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_IngestBoundsInverted(t *testing.T) {
	cfg := newValidConfig()
	cfg.Ingest.HeartRateMin = 200
	cfg.Ingest.HeartRateMax = 100
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_AnomalyThresholdsInverted(t *testing.T) {
	cfg := newValidConfig()
	cfg.Anomaly.LowThreshold = 150
	cfg.Anomaly.HighThreshold = 50
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_ZeroHistorySize(t *testing.T) {
	cfg := newValidConfig()
	cfg.Anomaly.HistorySize = 0
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_InvalidRatioOutOfRange(t *testing.T) {
	cfg := newValidConfig()
	cfg.Simulator.InvalidRatio = 1.5
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_InvalidLogLevel(t *testing.T) {
	cfg := newValidConfig()
	cfg.Log.Level = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_InvalidLogFormat(t *testing.T) {
	cfg := newValidConfig()
	cfg.Log.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_MetricsPortOutOfRange(t *testing.T) {
	cfg := newValidConfig()
	cfg.Metrics.BasePort = 0
	assert.Error(t, cfg.Validate())
}
