package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spaceplaces/server/internal/domain/dashboard"
)

var _ dashboard.Querier = (*DashboardRepository)(nil)

type DashboardRepository struct {
	pool *pgxpool.Pool
}

func NewDashboardRepository(pool *pgxpool.Pool) *DashboardRepository {
	return &DashboardRepository{pool: pool}
}

var (
	termTablesAllowed    = map[string]bool{"tags": true, "categories": true}
	requestTablesAllowed = map[string]bool{"place_requests": true, "edit_requests": true}
)

func (r *DashboardRepository) CountPlaces(ctx context.Context) (total, featured int64, err error) {
	err = r.pool.QueryRow(ctx, `
SELECT count(*), count(*) FILTER (WHERE is_featured) FROM places
`).Scan(&total, &featured)
	if err != nil {
		return 0, 0, fmt.Errorf("count places: %w", err)
	}
	return total, featured, nil
}

func (r *DashboardRepository) CountPublishedTranslationsByLocale(ctx context.Context) (map[string]int64, error) {
	return r.countBy(ctx, "published translations", `
SELECT locale, count(*) FROM place_translations WHERE status = 'published' GROUP BY locale
`)
}

func (r *DashboardRepository) CountTerms(ctx context.Context, table string) (total, active int64, err error) {
	if !termTablesAllowed[table] {
		return 0, 0, fmt.Errorf("count terms: unknown table %q", table)
	}
	err = r.pool.QueryRow(ctx, `SELECT count(*), count(*) FILTER (WHERE is_active) FROM `+table).Scan(&total, &active)
	if err != nil {
		return 0, 0, fmt.Errorf("count %s: %w", table, err)
	}
	return total, active, nil
}

func (r *DashboardRepository) CountRequestsByStatus(ctx context.Context, table string) (map[string]int64, error) {
	if !requestTablesAllowed[table] {
		return nil, fmt.Errorf("count requests: unknown table %q", table)
	}
	return r.countBy(ctx, table, `SELECT status, count(*) FROM `+table+` GROUP BY status`)
}

func (r *DashboardRepository) CountAdmins(ctx context.Context) (total, active int64, err error) {
	err = r.pool.QueryRow(ctx, `
SELECT count(*), count(*) FILTER (WHERE is_active) FROM users
`).Scan(&total, &active)
	if err != nil {
		return 0, 0, fmt.Errorf("count admins: %w", err)
	}
	return total, active, nil
}

func (r *DashboardRepository) countBy(ctx context.Context, label, sql string) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", label, err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scan %s count: %w", label, err)
		}
		out[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s counts: %w", label, err)
	}
	return out, nil
}
