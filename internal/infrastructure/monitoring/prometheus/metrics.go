package prometheus

import "time"

// AppMetrics holds every metric emitted by the pipeline's components.
// Metrics are grouped by the stage of the pipeline that produces them:
// ingest consumer, anomaly consumer, store writes, and the source simulator.
type AppMetrics struct {
	// Ingest consumer
	MessagesPolledTotal    CounterVec
	HeartbeatRowsInserted  CounterVec
	InvalidRoutedTotal     CounterVec
	DLQRoutedTotal         CounterVec
	IngestFetchDuration    HistogramVec
	IngestLagSeconds       GaugeVec

	// Kafka producer (used by both ingest's DLQ/invalid routing and anomaly publishing)
	ProduceSuccessesTotal CounterVec
	ProduceErrorsTotal    CounterVec
	ProduceDuration       HistogramVec

	// Anomaly consumer
	AnomaliesTotal        CounterVec
	AnomalyEvalDuration   HistogramVec
	HistorySizeGauge      GaugeVec

	// Postgres store / retry envelope
	StoreWriteDuration      HistogramVec
	StoreRetryAttemptsTotal CounterVec
	StoreRetryExhaustedTotal CounterVec
	DBPoolSize              GaugeVec
	DBPoolActive            GaugeVec

	// Source simulator
	SimulatorEventsEmittedTotal CounterVec
	SimulatorBurstsTotal        CounterVec

	// Process / service health
	ServiceUptime     GaugeVec
	HealthCheckStatus GaugeVec
	ErrorsTotal       CounterVec
}

// Default histogram buckets, chosen for the latency ranges each stage of the
// pipeline actually produces.
var (
	// DefaultFetchDurationBuckets covers a single Kafka poll cycle, typically
	// sub-second but occasionally stretching to a few seconds under backpressure.
	DefaultFetchDurationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}

	// DefaultWriteDurationBuckets covers a single Postgres write including the
	// retry envelope's total elapsed time (5 attempts, 4 sleeps between them:
	// worst case ~7.5s: 0.5+1+2+4).
	DefaultWriteDurationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 16}

	// DefaultEvalDurationBuckets covers the anomaly rule engine, an in-memory
	// operation expected to complete in microseconds.
	DefaultEvalDurationBuckets = []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01}
)

// NewAppMetrics registers every pipeline metric against collector and returns
// the populated AppMetrics struct.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	// Ingest consumer
	m.MessagesPolledTotal = collector.RegisterCounter("messages_polled_total", "Raw messages fetched from the ingest topic", "topic")
	m.HeartbeatRowsInserted = collector.RegisterCounter("heartbeat_rows_inserted_total", "Heartbeat rows written to the events table", "outcome")
	m.InvalidRoutedTotal = collector.RegisterCounter("invalid_routed_total", "Messages routed to the invalid-events topic", "reason")
	m.DLQRoutedTotal = collector.RegisterCounter("dlq_routed_total", "Messages routed to the dead-letter topic", "reason")
	m.IngestFetchDuration = collector.RegisterHistogram("ingest_fetch_duration_seconds", "Time spent per Kafka fetch cycle in the ingest consumer", DefaultFetchDurationBuckets, "topic")
	m.IngestLagSeconds = collector.RegisterGauge("ingest_consumer_lag_seconds", "Estimated consumer lag in seconds for the ingest group", "topic", "partition")

	// Producer (shared by ingest and anomaly consumers)
	m.ProduceSuccessesTotal = collector.RegisterCounter("produce_successes_total", "Messages successfully published", "topic")
	m.ProduceErrorsTotal = collector.RegisterCounter("produce_errors_total", "Messages that failed to publish", "topic", "reason")
	m.ProduceDuration = collector.RegisterHistogram("produce_duration_seconds", "Time spent publishing a single message", DefaultFetchDurationBuckets, "topic")

	// Anomaly consumer
	m.AnomaliesTotal = collector.RegisterCounter("anomalies_total", "Anomalies detected", "anomaly_type", "severity")
	m.AnomalyEvalDuration = collector.RegisterHistogram("anomaly_eval_duration_seconds", "Time spent evaluating the rule set for one event", DefaultEvalDurationBuckets, "customer_id_bucket")
	m.HistorySizeGauge = collector.RegisterGauge("anomaly_history_tracked_subjects", "Number of subjects with an active rolling history", "consumer_group")

	// Store / retry
	m.StoreWriteDuration = collector.RegisterHistogram("store_write_duration_seconds", "Time spent performing a Postgres write, including retries", DefaultWriteDurationBuckets, "operation")
	m.StoreRetryAttemptsTotal = collector.RegisterCounter("store_retry_attempts_total", "Write retry attempts, including the initial try", "operation")
	m.StoreRetryExhaustedTotal = collector.RegisterCounter("store_retry_exhausted_total", "Writes that exhausted the retry envelope without succeeding", "operation")
	m.DBPoolSize = collector.RegisterGauge("db_pool_size", "Configured maximum size of the Postgres connection pool", "pool")
	m.DBPoolActive = collector.RegisterGauge("db_pool_active", "Connections currently checked out of the Postgres pool", "pool")

	// Simulator
	m.SimulatorEventsEmittedTotal = collector.RegisterCounter("simulator_events_emitted_total", "Synthetic events produced by the source simulator", "status")
	m.SimulatorBurstsTotal = collector.RegisterCounter("simulator_bursts_total", "Burst intervals triggered by the simulator's burst heuristic")

	// Health
	m.ServiceUptime = collector.RegisterGauge("service_uptime_seconds", "Seconds since the component started", "component")
	m.HealthCheckStatus = collector.RegisterGauge("health_check_status", "Health check status (1=up, 0=down)", "component", "dependency")
	m.ErrorsTotal = collector.RegisterCounter("errors_total", "Errors observed, labeled by originating component and code", "component", "code")

	return m
}

// RegisterAppMetrics is an alias for NewAppMetrics kept for call sites that
// prefer the imperative name.
func RegisterAppMetrics(collector MetricsCollector) *AppMetrics {
	return NewAppMetrics(collector)
}

// Helpers

// RecordIngestFetch records a single Kafka poll cycle in the ingest consumer.
func RecordIngestFetch(metrics *AppMetrics, topic string, polled int, duration time.Duration) {
	metrics.MessagesPolledTotal.WithLabelValues(topic).Add(float64(polled))
	metrics.IngestFetchDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

// RecordHeartbeatInsert records the outcome of a single heartbeat row write.
// outcome is one of "inserted", "duplicate" (ON CONFLICT DO NOTHING no-op), or "failed".
func RecordHeartbeatInsert(metrics *AppMetrics, outcome string) {
	metrics.HeartbeatRowsInserted.WithLabelValues(outcome).Inc()
}

// RecordProduce records the outcome of a single Kafka publish attempt.
func RecordProduce(metrics *AppMetrics, topic string, err error, duration time.Duration) {
	metrics.ProduceDuration.WithLabelValues(topic).Observe(duration.Seconds())
	if err != nil {
		metrics.ProduceErrorsTotal.WithLabelValues(topic, "publish_error").Inc()
		return
	}
	metrics.ProduceSuccessesTotal.WithLabelValues(topic).Inc()
}

// RecordAnomalyEval records the time spent evaluating the rule set against
// one event, whether or not it produced a detection.
func RecordAnomalyEval(metrics *AppMetrics, evalDuration time.Duration) {
	metrics.AnomalyEvalDuration.WithLabelValues("all").Observe(evalDuration.Seconds())
}

// RecordAnomaly increments the anomalies-detected counter. Call only when the
// rule set actually produced a detection; a "none"/"none" series would count
// ordinary readings as anomalies.
func RecordAnomaly(metrics *AppMetrics, anomalyType, severity string) {
	metrics.AnomaliesTotal.WithLabelValues(anomalyType, severity).Inc()
}

// RecordStoreWrite records a completed write attempt, including retries, and
// the number of attempts it took.
func RecordStoreWrite(metrics *AppMetrics, operation string, attempts int, exhausted bool, duration time.Duration) {
	metrics.StoreWriteDuration.WithLabelValues(operation).Observe(duration.Seconds())
	metrics.StoreRetryAttemptsTotal.WithLabelValues(operation).Add(float64(attempts))
	if exhausted {
		metrics.StoreRetryExhaustedTotal.WithLabelValues(operation).Inc()
	}
}

// RecordError increments the cross-cutting error counter for a failure
// observed anywhere in the pipeline.
func RecordError(metrics *AppMetrics, component, code string) {
	metrics.ErrorsTotal.WithLabelValues(component, code).Inc()
}

// RecordInvalidRouted increments the invalid-topic quarantine counter.
func RecordInvalidRouted(metrics *AppMetrics, reason string) {
	metrics.InvalidRoutedTotal.WithLabelValues(reason).Inc()
}

// RecordDLQRouted increments the dead-letter quarantine counter.
func RecordDLQRouted(metrics *AppMetrics, reason string) {
	metrics.DLQRoutedTotal.WithLabelValues(reason).Inc()
}
