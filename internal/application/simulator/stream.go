// Package simulator generates a synthetic stream of heartbeat readings and
// publishes them to the raw topic, standing in for the real physiological
// data source this pipeline would otherwise ingest from.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/heartbeat-pipeline/internal/config"
	"github.com/turtacn/heartbeat-pipeline/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/heartbeat-pipeline/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/heartbeat-pipeline/pkg/types/common"
)

// invalidHeartRates are the two out-of-hard-bounds values injected at the
// configured ratio; heart_rate's hard bounds are [0, 250].
var invalidHeartRates = []int{-5, 260}

// Publisher is the subset of kafka.Producer the simulator depends on.
type Publisher interface {
	Publish(ctx context.Context, msg *common.ProducerMessage) error
}

// rawWireEvent mirrors heartbeat.HeartbeatEvent's wire shape directly, since
// an injected invalid heart_rate would be rejected by
// heartbeat.NewHeartbeatEvent's hard-bounds check.
type rawWireEvent struct {
	EventID    uuid.UUID `json:"event_id"`
	CustomerID string    `json:"customer_id"`
	Timestamp  string    `json:"timestamp"`
	HeartRate  int       `json:"heart_rate"`
}

// Generator emits synthetic heartbeat readings for a fixed pool of
// customer ids, with an occasional out-of-order timestamp and an injected
// fraction of invalid readings.
type Generator struct {
	customers    []string
	invalidRatio float64
	minRate      int
	maxRate      int
	rng          *rand.Rand
}

// NewGenerator builds a Generator over customerCount synthetic subjects.
// minRate/maxRate clamp the generator's healthy-range sampling (distinct
// from the hard invariant bounds, which only invalidRatio deliberately
// violates).
func NewGenerator(customerCount int, invalidRatio float64, minRate, maxRate int, seed int64) *Generator {
	customers := make([]string, customerCount)
	for i := range customers {
		customers[i] = fmt.Sprintf("cust_%05d", i+1)
	}
	return &Generator{
		customers:    customers,
		invalidRatio: invalidRatio,
		minRate:      minRate,
		maxRate:      maxRate,
		rng:          rand.New(rand.NewSource(seed)),
	}
}

// Next produces one synthetic event, encoded on the wire (not validated
// against the hard invariants — an intentionally invalid reading must still
// reach the log to exercise the ingest consumer's quarantine path).
func (g *Generator) Next() ([]byte, string) {
	customerID := g.customers[g.rng.Intn(len(g.customers))]
	timestamp := time.Now().UTC()

	if g.rng.Float64() < 0.05 {
		timestamp = timestamp.Add(-time.Duration(1+g.rng.Intn(8)) * time.Second)
	}

	var heartRate int
	if g.rng.Float64() < g.invalidRatio {
		heartRate = invalidHeartRates[g.rng.Intn(len(invalidHeartRates))]
	} else {
		heartRate = g.sampleHeartRate()
	}

	event := rawWireEvent{
		EventID:    uuid.New(),
		CustomerID: customerID,
		Timestamp:  timestamp.Format(time.RFC3339Nano),
		HeartRate:  heartRate,
	}
	value, err := json.Marshal(event)
	if err != nil {
		// event contains only primitives and a UUID; marshaling cannot fail.
		panic(err)
	}
	return value, customerID
}

// sampleHeartRate draws a plausible healthy-range reading, occasionally
// widened by a spike or a dip, then clamped to [minRate, maxRate].
func (g *Generator) sampleHeartRate() int {
	baseline := 58 + g.rng.Intn(95-58+1)
	if g.rng.Float64() < 0.08 {
		baseline += 15 + g.rng.Intn(70-15+1)
	}
	if g.rng.Float64() < 0.03 {
		baseline -= 10 + g.rng.Intn(20-10+1)
	}
	if baseline < g.minRate {
		return g.minRate
	}
	if baseline > g.maxRate {
		return g.maxRate
	}
	return baseline
}

// Runner drives a Generator against a topic at a configured rate, widening
// each batch on a burst heuristic.
type Runner struct {
	generator *Generator
	publisher Publisher
	cfg       config.SimulatorConfig
	topicRaw  string
	logger    logging.Logger
	metrics   *prometheus.AppMetrics
	now       func() time.Time
	sleep     func(time.Duration)
}

// NewRunner wires a Runner from its dependencies.
func NewRunner(generator *Generator, publisher Publisher, cfg config.SimulatorConfig, topicRaw string, logger logging.Logger, metrics *prometheus.AppMetrics) *Runner {
	return &Runner{
		generator: generator,
		publisher: publisher,
		cfg:       cfg,
		topicRaw:  topicRaw,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// Run emits batches until ctx is cancelled. Every outer iteration
// re-evaluates the burst heuristic (wallclock seconds divisible by 10
// widens the batch by BurstMultiplier), matching the reference generator's
// undebounced check.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		batchSize := r.cfg.EventsPerSecond
		burst := r.now().Unix()%10 == 0
		if burst {
			batchSize *= r.cfg.BurstMultiplier
			r.metrics.SimulatorBurstsTotal.WithLabelValues().Inc()
		}

		for i := 0; i < batchSize; i++ {
			if ctx.Err() != nil {
				return nil
			}
			value, customerID := r.generator.Next()
			err := r.publisher.Publish(ctx, &common.ProducerMessage{
				Topic: r.topicRaw,
				Key:   []byte(customerID),
				Value: value,
			})
			status := "ok"
			if err != nil {
				status = "error"
				r.logger.Error("simulator publish failed", logging.Err(err))
			}
			r.metrics.SimulatorEventsEmittedTotal.WithLabelValues(status).Inc()
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}
		r.sleep(r.cfg.SleepInterval)
	}
}
