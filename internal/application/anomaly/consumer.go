// Package anomaly implements the anomaly detection consumer: decode a
// heartbeat reading, evaluate it against the subject's rolling history and
// the configured rule thresholds, persist and republish any detection, then
// advance the per-subject history before deciding whether to commit.
package anomaly

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/turtacn/heartbeat-pipeline/internal/config"
	"github.com/turtacn/heartbeat-pipeline/internal/domain/heartbeat"
	"github.com/turtacn/heartbeat-pipeline/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/heartbeat-pipeline/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/heartbeat-pipeline/pkg/types/common"
)

// Reader is the subset of *kafka-go.Reader the consumer depends on.
type Reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher is the subset of kafka.Producer used to republish detections.
type Publisher interface {
	Publish(ctx context.Context, msg *common.ProducerMessage) error
}

// Store is the subset of the heartbeat repository the consumer depends on.
type Store interface {
	InsertAnomaly(ctx context.Context, anomaly *heartbeat.AnomalyEvent) (attempts int, err error)
}

// Consumer drives the anomaly-detection flow against one partition.
type Consumer struct {
	reader      Reader
	publisher   Publisher
	store       Store
	rules       *heartbeat.RuleEngine
	history     *heartbeat.RollingHistory
	topicAnomaly string
	logger      logging.Logger
	metrics     *prometheus.AppMetrics
}

// NewConsumer wires a Consumer from its dependencies. thresholds and
// historySize come from config.AnomalyConfig.
func NewConsumer(reader Reader, publisher Publisher, store Store, cfg config.AnomalyConfig, kafkaCfg config.KafkaConfig, logger logging.Logger, metrics *prometheus.AppMetrics) *Consumer {
	return &Consumer{
		reader:    reader,
		publisher: publisher,
		store:     store,
		rules: heartbeat.NewRuleEngine(heartbeat.RuleThresholds{
			LowThreshold:  cfg.LowThreshold,
			HighThreshold: cfg.HighThreshold,
			SpikeDelta:    cfg.SpikeDelta,
		}),
		history:      heartbeat.NewRollingHistoryWithCapacity(cfg.HistorySize),
		topicAnomaly: kafkaCfg.TopicAnomaly,
		logger:       logger,
		metrics:      metrics,
	}
}

// Run polls and processes messages until ctx is cancelled, returning nil once
// the in-flight message has finished.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("anomaly fetch failed", logging.Err(err))
			continue
		}
		c.handle(ctx, m)
	}
}

// handle decodes one message, evaluates the rule set, persists and
// republishes any detection, then unconditionally advances the subject's
// rolling history before deciding whether to commit. A message that fails to
// decode is skipped and committed immediately — the anomaly consumer has no
// quarantine lane of its own; the ingest consumer is the system of record
// for malformed input.
func (c *Consumer) handle(ctx context.Context, m kafkago.Message) {
	var wire heartbeat.HeartbeatEvent
	if err := json.Unmarshal(m.Value, &wire); err != nil {
		c.logger.Warn("anomaly consumer could not decode message, skipping", logging.Err(err))
		c.commit(ctx, m)
		return
	}
	event, err := heartbeat.ReconstructHeartbeatEvent(wire.EventID, wire.CustomerID, wire.Timestamp, wire.HeartRate)
	if err != nil {
		c.logger.Warn("anomaly consumer decoded invariant-violating event, skipping", logging.Err(err))
		c.commit(ctx, m)
		return
	}

	evalStart := time.Now()
	recent := c.history.Readings(event.CustomerID)
	detected := c.rules.Evaluate(event, recent)
	prometheus.RecordAnomalyEval(c.metrics, time.Since(evalStart))

	var persistErr error
	if detected != nil {
		prometheus.RecordAnomaly(c.metrics, detected.AnomalyType, detected.Severity)
		persistErr = c.persistAndPublish(ctx, detected)
	}

	// Rolling-history update is unconditional and happens before the commit
	// decision, so a retried delivery sees the history it would have seen
	// anyway.
	c.history.Append(event.CustomerID, event.HeartRate)

	if persistErr != nil {
		c.logger.Error("anomaly persist or publish failed, offset not committed",
			logging.String("customer_id", event.CustomerID), logging.Err(persistErr))
		return
	}

	c.commit(ctx, m)
}

func (c *Consumer) persistAndPublish(ctx context.Context, detected *heartbeat.AnomalyEvent) error {
	_, err := c.store.InsertAnomaly(ctx, detected)
	if err != nil {
		return err
	}

	value, err := json.Marshal(detected)
	if err != nil {
		return err
	}

	publishCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	publishStart := time.Now()
	publishErr := c.publisher.Publish(publishCtx, &common.ProducerMessage{
		Topic: c.topicAnomaly,
		Key:   []byte(detected.CustomerID),
		Value: value,
	})
	prometheus.RecordProduce(c.metrics, c.topicAnomaly, publishErr, time.Since(publishStart))
	return publishErr
}

func (c *Consumer) commit(ctx context.Context, m kafkago.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.logger.Error("anomaly offset commit failed", logging.Err(err))
	}
}

// Close releases the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
