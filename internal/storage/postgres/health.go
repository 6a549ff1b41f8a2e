package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthProbe answers the readiness questions asked by /readyz.
type HealthProbe struct {
	pool *pgxpool.Pool
}

func NewHealthProbe(pool *pgxpool.Pool) *HealthProbe {
	return &HealthProbe{pool: pool}
}

func (p *HealthProbe) Ping(ctx context.Context) error {
	var one int
	return p.pool.QueryRow(ctx, "SELECT 1").Scan(&one)
}

func (p *HealthProbe) PoolStats() map[string]any {
	stats := p.pool.Stat()
	return map[string]any{
		"max_connections":      stats.MaxConns(),
		"total_connections":    stats.TotalConns(),
		"idle_connections":     stats.IdleConns(),
		"acquired_connections": stats.AcquiredConns(),
	}
}

// MigrationState reads the golang-migrate bookkeeping row.
func (p *HealthProbe) MigrationState(ctx context.Context) (int64, bool, error) {
	var version int64
	var dirty bool
	err := p.pool.QueryRow(ctx, `SELECT version, dirty FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version, &dirty)
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return version, dirty, nil
}

// ActiveJobs counts available and running River jobs. installed is false
// when River's tables have not been migrated.
func (p *HealthProbe) ActiveJobs(ctx context.Context) (installed bool, active int64, err error) {
	err = p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = 'river_job'
		)`).Scan(&installed)
	if err != nil {
		return false, 0, fmt.Errorf("check river_job table: %w", err)
	}
	if !installed {
		return false, 0, nil
	}
	err = p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM river_job WHERE state = ANY($1)`, []string{"available", "running"}).Scan(&active)
	if err != nil {
		return true, 0, fmt.Errorf("count river jobs: %w", err)
	}
	return true, active, nil
}
