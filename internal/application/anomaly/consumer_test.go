package anomaly

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/heartbeat-pipeline/internal/config"
	"github.com/turtacn/heartbeat-pipeline/internal/domain/heartbeat"
	"github.com/turtacn/heartbeat-pipeline/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/heartbeat-pipeline/internal/infrastructure/monitoring/prometheus"
	pipelineerrors "github.com/turtacn/heartbeat-pipeline/pkg/errors"
	"github.com/turtacn/heartbeat-pipeline/pkg/types/common"
)

type fakeReader struct {
	messages  []kafkago.Message
	pos       int
	committed []kafkago.Message
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	if f.pos >= len(f.messages) {
		<-ctx.Done()
		return kafkago.Message{}, ctx.Err()
	}
	m := f.messages[f.pos]
	f.pos++
	return m, nil
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafkago.Message) error {
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

type fakePublisher struct {
	published []*common.ProducerMessage
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, msg *common.ProducerMessage) error {
	f.published = append(f.published, msg)
	return f.err
}

type fakeStore struct {
	attempts int
	err      error
	inserted []*heartbeat.AnomalyEvent
}

func (f *fakeStore) InsertAnomaly(ctx context.Context, anomaly *heartbeat.AnomalyEvent) (int, error) {
	attempts := f.attempts
	if attempts == 0 {
		attempts = 1
	}
	if f.err == nil {
		f.inserted = append(f.inserted, anomaly)
	}
	return attempts, f.err
}

func testAnomalyConfig() config.AnomalyConfig {
	return config.AnomalyConfig{LowThreshold: 50, HighThreshold: 140, SpikeDelta: 30, HistorySize: 6}
}

func testKafkaConfig() config.KafkaConfig {
	return config.KafkaConfig{TopicAnomaly: "events.anomaly.v1"}
}

func newTestMetrics(t *testing.T) *prometheus.AppMetrics {
	t.Helper()
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace: "test",
		Subsystem: "anomaly",
	}, logging.NewNopLogger())
	require.NoError(t, err)
	return prometheus.NewAppMetrics(collector)
}

func wireMessage(t *testing.T, customerID string, heartRate int, offset int64) kafkago.Message {
	t.Helper()
	event, err := heartbeat.NewHeartbeatEvent(customerID, heartRate)
	require.NoError(t, err)
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafkago.Message{Topic: "events.raw.v1", Offset: offset, Value: value, Key: []byte(customerID)}
}

func TestHandle_NormalRateNoAnomalyCommitsAndUpdatesHistory(t *testing.T) {
	reader := &fakeReader{}
	publisher := &fakePublisher{}
	store := &fakeStore{}
	c := NewConsumer(reader, publisher, store, testAnomalyConfig(), testKafkaConfig(), logging.NewNopLogger(), newTestMetrics(t))

	msg := wireMessage(t, "cust-1", 80, 1)
	c.handle(context.Background(), msg)

	require.Len(t, reader.committed, 1)
	assert.Empty(t, publisher.published)
	assert.Empty(t, store.inserted)
	assert.Equal(t, []int{80}, c.history.Readings("cust-1"))
}

func TestHandle_LowHeartRateDetectsAndPersists(t *testing.T) {
	reader := &fakeReader{}
	publisher := &fakePublisher{}
	store := &fakeStore{}
	c := NewConsumer(reader, publisher, store, testAnomalyConfig(), testKafkaConfig(), logging.NewNopLogger(), newTestMetrics(t))

	msg := wireMessage(t, "cust-1", 45, 1)
	c.handle(context.Background(), msg)

	require.Len(t, store.inserted, 1)
	assert.Equal(t, heartbeat.AnomalyTypeLowHeartRate, store.inserted[0].AnomalyType)
	require.Len(t, publisher.published, 1)
	assert.Equal(t, "events.anomaly.v1", publisher.published[0].Topic)
	require.Len(t, reader.committed, 1)
}

func TestHandle_HighHeartRateDetectsAndPersists(t *testing.T) {
	reader := &fakeReader{}
	publisher := &fakePublisher{}
	store := &fakeStore{}
	c := NewConsumer(reader, publisher, store, testAnomalyConfig(), testKafkaConfig(), logging.NewNopLogger(), newTestMetrics(t))

	msg := wireMessage(t, "cust-1", 150, 1)
	c.handle(context.Background(), msg)

	require.Len(t, store.inserted, 1)
	assert.Equal(t, heartbeat.AnomalyTypeHighHeartRate, store.inserted[0].AnomalyType)
	require.Len(t, reader.committed, 1)
}

func TestHandle_SpikeOnlyFiresWithHistory(t *testing.T) {
	reader := &fakeReader{}
	publisher := &fakePublisher{}
	store := &fakeStore{}
	c := NewConsumer(reader, publisher, store, testAnomalyConfig(), testKafkaConfig(), logging.NewNopLogger(), newTestMetrics(t))

	// First reading: no history yet, no spike possible.
	c.handle(context.Background(), wireMessage(t, "cust-1", 80, 1))
	assert.Empty(t, store.inserted)

	// Second reading: delta of 35 >= spike threshold of 30.
	c.handle(context.Background(), wireMessage(t, "cust-1", 115, 2))
	require.Len(t, store.inserted, 1)
	assert.Equal(t, heartbeat.AnomalyTypeSpike, store.inserted[0].AnomalyType)
	require.Len(t, reader.committed, 2)
}

func TestHandle_LowPriorityOverSpike(t *testing.T) {
	reader := &fakeReader{}
	publisher := &fakePublisher{}
	store := &fakeStore{}
	c := NewConsumer(reader, publisher, store, testAnomalyConfig(), testKafkaConfig(), logging.NewNopLogger(), newTestMetrics(t))

	c.handle(context.Background(), wireMessage(t, "cust-1", 90, 1))
	store.inserted = nil

	// Delta from 90 to 40 is 50 (spike-eligible) but rate 40 <= low threshold 50,
	// so LOW_HEART_RATE must win.
	c.handle(context.Background(), wireMessage(t, "cust-1", 40, 2))
	require.Len(t, store.inserted, 1)
	assert.Equal(t, heartbeat.AnomalyTypeLowHeartRate, store.inserted[0].AnomalyType)
}

func TestHandle_StoreFailureDoesNotCommitButStillUpdatesHistory(t *testing.T) {
	reader := &fakeReader{}
	publisher := &fakePublisher{}
	store := &fakeStore{err: pipelineerrors.New(pipelineerrors.CodeStoreRetryExhausted, "exhausted"), attempts: 5}
	c := NewConsumer(reader, publisher, store, testAnomalyConfig(), testKafkaConfig(), logging.NewNopLogger(), newTestMetrics(t))

	msg := wireMessage(t, "cust-1", 45, 1)
	c.handle(context.Background(), msg)

	assert.Empty(t, reader.committed)
	assert.Equal(t, []int{45}, c.history.Readings("cust-1"))
}

func TestHandle_PublishFailureDoesNotCommit(t *testing.T) {
	reader := &fakeReader{}
	publisher := &fakePublisher{err: assertError("publish down")}
	store := &fakeStore{}
	c := NewConsumer(reader, publisher, store, testAnomalyConfig(), testKafkaConfig(), logging.NewNopLogger(), newTestMetrics(t))

	msg := wireMessage(t, "cust-1", 45, 1)
	c.handle(context.Background(), msg)

	require.Len(t, store.inserted, 1)
	assert.Empty(t, reader.committed)
	assert.Equal(t, []int{45}, c.history.Readings("cust-1"))
}

func TestHandle_MalformedMessageSkippedAndCommitted(t *testing.T) {
	reader := &fakeReader{}
	publisher := &fakePublisher{}
	store := &fakeStore{}
	c := NewConsumer(reader, publisher, store, testAnomalyConfig(), testKafkaConfig(), logging.NewNopLogger(), newTestMetrics(t))

	msg := kafkago.Message{Topic: "events.raw.v1", Offset: 1, Value: []byte("not json")}
	c.handle(context.Background(), msg)

	require.Len(t, reader.committed, 1)
	assert.Empty(t, publisher.published)
	assert.Empty(t, store.inserted)
}

func TestRun_StopsCleanlyOnContextCancellation(t *testing.T) {
	reader := &fakeReader{}
	publisher := &fakePublisher{}
	store := &fakeStore{}
	c := NewConsumer(reader, publisher, store, testAnomalyConfig(), testKafkaConfig(), logging.NewNopLogger(), newTestMetrics(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Run(ctx)
	assert.NoError(t, err)
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

func assertError(msg string) error { return simpleError(msg) }
