// Package ingest implements the pipeline's ingest consumer: the state
// machine that decodes raw heartbeat messages, validates them, persists the
// valid ones alongside a partition checkpoint, and routes everything else to
// a quarantine topic — deciding, message by message, whether the source
// offset is safe to commit.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/turtacn/heartbeat-pipeline/internal/config"
	"github.com/turtacn/heartbeat-pipeline/internal/domain/heartbeat"
	"github.com/turtacn/heartbeat-pipeline/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/heartbeat-pipeline/internal/infrastructure/monitoring/prometheus"
	pipelineerrors "github.com/turtacn/heartbeat-pipeline/pkg/errors"
	"github.com/turtacn/heartbeat-pipeline/pkg/types/common"
)

// Reader is the subset of *kafka-go.Reader the consumer depends on, so tests
// can substitute a fake without a broker.
type Reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// QuarantinePublisher is the subset of kafka.Producer used to route
// quarantined messages.
type QuarantinePublisher interface {
	Publish(ctx context.Context, msg *common.ProducerMessage) error
}

// Store is the subset of the heartbeat repository the consumer depends on.
type Store interface {
	PersistHeartbeatAndCheckpoint(ctx context.Context, event *heartbeat.HeartbeatEvent, topic string, partition int, offset int64, consumerGroup string) (attempts int, inserted bool, err error)
}

// Consumer drives the ingest state machine against one partition (or,
// within a consumer group, the set of partitions kafka-go assigns it).
type Consumer struct {
	reader        Reader
	quarantine    QuarantinePublisher
	store         Store
	bounds        config.IngestConfig
	topicInvalid  string
	topicDLQ      string
	consumerGroup string
	logger        logging.Logger
	metrics       *prometheus.AppMetrics
}

// NewConsumer wires a Consumer from its dependencies. kafkaCfg supplies the
// invalid/dlq topic names and the ingest consumer group id used when
// advancing the checkpoint.
func NewConsumer(reader Reader, quarantine QuarantinePublisher, store Store, bounds config.IngestConfig, kafkaCfg config.KafkaConfig, logger logging.Logger, metrics *prometheus.AppMetrics) *Consumer {
	return &Consumer{
		reader:        reader,
		quarantine:    quarantine,
		store:         store,
		bounds:        bounds,
		topicInvalid:  kafkaCfg.TopicInvalid,
		topicDLQ:      kafkaCfg.TopicDLQ,
		consumerGroup: kafkaCfg.ConsumerGroupDBWriter,
		logger:        logger,
		metrics:       metrics,
	}
}

// Run polls and processes messages until ctx is cancelled. The in-flight
// message is always allowed to finish before Run returns, so shutdown never
// truncates a partially-handled message.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		fetchStart := time.Now()
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("ingest fetch failed", logging.Err(err))
			continue
		}
		prometheus.RecordIngestFetch(c.metrics, m.Topic, 1, time.Since(fetchStart))

		c.handle(ctx, m)
	}
}

// handle runs one message through decode -> domain-check -> persist, routing
// failures to the appropriate quarantine topic and committing (or not) per
// the ingest offset-commit policy.
func (c *Consumer) handle(ctx context.Context, m kafkago.Message) {
	raw := string(m.Value)

	event, parseErr := decodeHeartbeat(m.Value)
	if parseErr != nil {
		c.quarantineValidation(ctx, m, raw, parseErr)
		return
	}

	if !event.WithinSoftBounds(c.bounds.HeartRateMin, c.bounds.HeartRateMax) {
		c.quarantineValidation(ctx, m, raw, errOutOfSoftBounds(event.HeartRate, c.bounds))
		return
	}

	writeStart := time.Now()
	attempts, inserted, err := c.store.PersistHeartbeatAndCheckpoint(ctx, event, m.Topic, m.Partition, int64(m.Offset), c.consumerGroup)
	prometheus.RecordStoreWrite(c.metrics, "persist_heartbeat", attempts, err != nil, time.Since(writeStart))

	outcome := "inserted"
	switch {
	case err != nil:
		outcome = "failed"
	case !inserted:
		outcome = "duplicate"
	}
	prometheus.RecordHeartbeatInsert(c.metrics, outcome)

	if err != nil {
		c.quarantineProcessing(ctx, m, raw, err)
		return
	}

	c.commit(ctx, m)
}

func (c *Consumer) quarantineValidation(ctx context.Context, m kafkago.Message, raw string, cause error) {
	c.publishQuarantine(ctx, c.topicInvalid, m, raw, heartbeat.ErrorTypeValidation, cause)
	prometheus.RecordInvalidRouted(c.metrics, "validation")
	c.logger.Warn("ingest validation quarantine",
		logging.String("topic", m.Topic), logging.Int64("offset", m.Offset), logging.Err(cause))
	// Validation failures are input-deterministic: a replay reproduces the
	// same classification, so the offset is safe to commit.
	c.commit(ctx, m)
}

func (c *Consumer) quarantineProcessing(ctx context.Context, m kafkago.Message, raw string, cause error) {
	c.publishQuarantine(ctx, c.topicDLQ, m, raw, heartbeat.ErrorTypeProcessing, cause)
	prometheus.RecordDLQRouted(c.metrics, "processing")
	c.logger.Error("ingest processing quarantine",
		logging.String("topic", m.Topic), logging.Int64("offset", m.Offset), logging.Err(cause))
	// Processing failures are not input-deterministic: leave the offset
	// uncommitted so the log redelivers the message after recovery.
}

func (c *Consumer) publishQuarantine(ctx context.Context, topic string, m kafkago.Message, raw string, errorType string, cause error) {
	invalid := heartbeat.NewInvalidEvent(cause, raw, errorType)
	value, marshalErr := json.Marshal(invalid)
	if marshalErr != nil {
		c.logger.Error("failed to marshal quarantine envelope", logging.Err(marshalErr))
		return
	}
	publishStart := time.Now()
	publishErr := c.quarantine.Publish(ctx, &common.ProducerMessage{
		Topic: topic,
		Key:   m.Key,
		Value: value,
	})
	prometheus.RecordProduce(c.metrics, topic, publishErr, time.Since(publishStart))
	if publishErr != nil {
		c.logger.Error("failed to publish quarantine envelope", logging.String("topic", topic), logging.Err(publishErr))
	}
}

func (c *Consumer) commit(ctx context.Context, m kafkago.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.logger.Error("ingest offset commit failed", logging.Err(err))
	}
}

// Close releases the reader. The quarantine producer is owned by the caller
// and closed separately, since it may be shared with other components.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func errOutOfSoftBounds(rate int, bounds config.IngestConfig) error {
	return pipelineerrors.New(pipelineerrors.CodeEventOutOfBounds,
		fmt.Sprintf("heart_rate %d outside configured bounds [%d, %d]", rate, bounds.HeartRateMin, bounds.HeartRateMax))
}

func decodeHeartbeat(raw []byte) (*heartbeat.HeartbeatEvent, error) {
	var wire heartbeat.HeartbeatEvent
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	return heartbeat.ReconstructHeartbeatEvent(wire.EventID, wire.CustomerID, wire.Timestamp, wire.HeartRate)
}
