package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	pipelineerrors "github.com/turtacn/heartbeat-pipeline/pkg/errors"
)

// Write retry envelope constants. Distinct from the connection-establishment
// backoff in connection.go (1s→8s, used once at startup): this envelope
// wraps every individual store write and starts much tighter since it runs
// on the hot path of both consumers.
const (
	writeMaxAttempts  = 5
	writeInitialDelay = 500 * time.Millisecond
)

// pgTransientClasses are PostgreSQL SQLSTATE class prefixes considered
// operational/transient rather than caused by the data or the query itself.
// Class 08 = connection exception, 53 = insufficient resources,
// 57 = operator intervention (includes admin_shutdown, crash_shutdown),
// 40001 = serialization_failure, 40P01 = deadlock_detected.
var pgTransientClasses = []string{"08", "53", "57"}
var pgTransientCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
}

// IsTransient classifies err as a retryable store fault: a connection
// problem, resource exhaustion, deadlock, or serialization failure. Anything
// else — constraint violations, syntax errors, authorization failures — is
// permanent and must not be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgTransientCodes[pgErr.Code] {
			return true
		}
		for _, class := range pgTransientClasses {
			if len(pgErr.Code) >= 2 && pgErr.Code[:2] == class {
				return true
			}
		}
		return false
	}
	// A connection-level failure (broken pipe, reset, pool timeout) with no
	// PgError surfaces as a plain net/pgconn error — treat as transient since
	// it is, by definition, not a constraint or syntax failure.
	return true
}

// WithWriteRetry runs op, retrying on transient failures with exponential
// backoff starting at 500ms and doubling each attempt, up to 5 attempts
// total — 4 sleeps between them (worst case ~7.5s: 0.5+1+2+4). A permanent
// failure returns immediately without retrying. Exhausting every attempt
// returns the last error wrapped as CodeStoreRetryExhausted; attempts
// reports how many tries were actually made, for metrics.
func WithWriteRetry(ctx context.Context, op func(ctx context.Context) error) (attempts int, err error) {
	delay := writeInitialDelay

	for attempt := 1; attempt <= writeMaxAttempts; attempt++ {
		attempts = attempt
		err = op(ctx)
		if err == nil {
			return attempts, nil
		}
		if !IsTransient(err) {
			return attempts, pipelineerrors.Wrap(err, pipelineerrors.CodePermanentStore, "store write failed permanently")
		}
		if attempt == writeMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return attempts, pipelineerrors.Wrap(ctx.Err(), pipelineerrors.CodeTransientStore, "store write cancelled during retry backoff")
		case <-time.After(delay):
		}
		delay *= 2
	}

	return attempts, pipelineerrors.Wrap(err, pipelineerrors.CodeStoreRetryExhausted, "store write retry envelope exhausted")
}
