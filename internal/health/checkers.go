package health

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/heartbeat-pipeline/internal/infrastructure/database/postgres"
)

// PoolChecker adapts postgres.HealthCheck to the Checker interface.
type PoolChecker struct {
	pool *pgxpool.Pool
}

// NewPoolChecker wraps pool as a Checker named "postgres".
func NewPoolChecker(pool *pgxpool.Pool) *PoolChecker {
	return &PoolChecker{pool: pool}
}

// Name identifies this checker in a readiness response.
func (c *PoolChecker) Name() string { return "postgres" }

// Check pings the pool.
func (c *PoolChecker) Check(ctx context.Context) error {
	return postgres.HealthCheck(ctx, c.pool)
}
