// Package repositories implements the pipeline's store contract on top of a
// pooled Postgres connection: idempotent heartbeat inserts, anomaly inserts,
// and per-partition checkpoint upserts.
package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/heartbeat-pipeline/internal/domain/heartbeat"
	"github.com/turtacn/heartbeat-pipeline/internal/infrastructure/database/postgres"
)

// HeartbeatRepository implements the retrying store contract: insert_heartbeat,
// insert_anomaly, and upsert_checkpoint, each wrapped in the write retry
// envelope so transient connectivity faults are absorbed transparently.
type HeartbeatRepository struct {
	pool   *pgxpool.Pool
	logger Logger
}

// NewHeartbeatRepository constructs a HeartbeatRepository over an
// already-established connection pool.
func NewHeartbeatRepository(pool *pgxpool.Pool, logger Logger) *HeartbeatRepository {
	return &HeartbeatRepository{pool: pool, logger: logger}
}

// InsertHeartbeat persists one validated reading, tagged with its log
// provenance. Conflicts on (customer_id, event_id) are a silent no-op,
// making redelivery of the same message safe. Returns the number of write
// attempts made (for metrics) and whether the row was newly inserted.
func (r *HeartbeatRepository) InsertHeartbeat(ctx context.Context, event *heartbeat.HeartbeatEvent, topic string, partition int, offset int64) (attempts int, inserted bool, err error) {
	payload, marshalErr := json.Marshal(event)
	if marshalErr != nil {
		return 0, false, marshalErr
	}

	const query = `
		INSERT INTO heartbeat_events
			(event_id, customer_id, event_time, heart_rate, quality_flag, source_topic, source_partition, source_offset, payload_blob)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (customer_id, event_id) DO NOTHING`

	attempts, err = postgres.WithWriteRetry(ctx, func(ctx context.Context) error {
		conn, acqErr := postgres.AcquireConn(ctx, r.pool)
		if acqErr != nil {
			return acqErr
		}
		defer conn.Release()

		tag, execErr := conn.Exec(ctx, query,
			event.EventID, event.CustomerID, event.Timestamp, event.HeartRate,
			"ok", topic, partition, offset, payload)
		if execErr != nil {
			return execErr
		}
		inserted = tag.RowsAffected() == 1
		return nil
	})
	return attempts, inserted, err
}

// InsertAnomaly persists a detected anomaly. There is no uniqueness
// constraint, so a retried delivery after an ambiguous failure may produce a
// duplicate row.
func (r *HeartbeatRepository) InsertAnomaly(ctx context.Context, anomaly *heartbeat.AnomalyEvent) (attempts int, err error) {
	details, marshalErr := json.Marshal(anomaly.Details)
	if marshalErr != nil {
		return 0, marshalErr
	}

	const query = `
		INSERT INTO anomalies
			(event_id, customer_id, event_time, heart_rate, anomaly_type, severity, details_blob)
		VALUES
			($1, $2, $3, $4, $5, $6, $7)`

	attempts, err = postgres.WithWriteRetry(ctx, func(ctx context.Context) error {
		conn, acqErr := postgres.AcquireConn(ctx, r.pool)
		if acqErr != nil {
			return acqErr
		}
		defer conn.Release()

		_, execErr := conn.Exec(ctx, query,
			anomaly.EventID, anomaly.CustomerID, anomaly.Timestamp, anomaly.HeartRate,
			anomaly.AnomalyType, anomaly.Severity, details)
		return execErr
	})
	return attempts, err
}

// PersistHeartbeatAndCheckpoint writes the heartbeat row and advances the
// partition checkpoint in a single borrowed connection, so the two writes
// commit or roll back together. Returns the number of outer attempts made by
// the write-retry envelope and whether the heartbeat row was newly inserted
// (false on an idempotent conflict no-op).
func (r *HeartbeatRepository) PersistHeartbeatAndCheckpoint(ctx context.Context, event *heartbeat.HeartbeatEvent, topic string, partition int, offset int64, consumerGroup string) (attempts int, inserted bool, err error) {
	payload, marshalErr := json.Marshal(event)
	if marshalErr != nil {
		return 0, false, marshalErr
	}

	const insertQuery = `
		INSERT INTO heartbeat_events
			(event_id, customer_id, event_time, heart_rate, quality_flag, source_topic, source_partition, source_offset, payload_blob)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (customer_id, event_id) DO NOTHING`

	const checkpointQuery = `
		INSERT INTO ingest_checkpoint
			(consumer_group, topic, partition, last_offset, updated_at)
		VALUES
			($1, $2, $3, $4, $5)
		ON CONFLICT (consumer_group, topic, partition)
		DO UPDATE SET last_offset = EXCLUDED.last_offset, updated_at = EXCLUDED.updated_at`

	attempts, err = postgres.WithWriteRetry(ctx, func(ctx context.Context) error {
		return postgres.WithTransaction(ctx, r.pool, func(tx pgx.Tx) error {
			tag, execErr := tx.Exec(ctx, insertQuery,
				event.EventID, event.CustomerID, event.Timestamp, event.HeartRate,
				"ok", topic, partition, offset, payload)
			if execErr != nil {
				return execErr
			}
			inserted = tag.RowsAffected() == 1

			_, execErr = tx.Exec(ctx, checkpointQuery, consumerGroup, topic, partition, offset, time.Now().UTC())
			return execErr
		})
	})
	return attempts, inserted, err
}

// UpsertCheckpoint records the last committed offset for one
// (consumer_group, topic, partition) tuple, stamping updated_at with the
// current instant.
func (r *HeartbeatRepository) UpsertCheckpoint(ctx context.Context, consumerGroup, topic string, partition int, offset int64) (attempts int, err error) {
	const query = `
		INSERT INTO ingest_checkpoint
			(consumer_group, topic, partition, last_offset, updated_at)
		VALUES
			($1, $2, $3, $4, $5)
		ON CONFLICT (consumer_group, topic, partition)
		DO UPDATE SET last_offset = EXCLUDED.last_offset, updated_at = EXCLUDED.updated_at`

	attempts, err = postgres.WithWriteRetry(ctx, func(ctx context.Context) error {
		conn, acqErr := postgres.AcquireConn(ctx, r.pool)
		if acqErr != nil {
			return acqErr
		}
		defer conn.Release()

		_, execErr := conn.Exec(ctx, query, consumerGroup, topic, partition, offset, time.Now().UTC())
		return execErr
	})
	return attempts, err
}

// GetCheckpoint returns the last committed offset for the tuple, or
// (0, false, nil) if no checkpoint row exists yet.
func (r *HeartbeatRepository) GetCheckpoint(ctx context.Context, consumerGroup, topic string, partition int) (offset int64, found bool, err error) {
	const query = `
		SELECT last_offset FROM ingest_checkpoint
		WHERE consumer_group = $1 AND topic = $2 AND partition = $3`

	conn, err := postgres.AcquireConn(ctx, r.pool)
	if err != nil {
		return 0, false, err
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, query, consumerGroup, topic, partition)
	if scanErr := row.Scan(&offset); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, scanErr
	}
	return offset, true, nil
}
