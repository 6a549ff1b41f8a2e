package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spaceplaces/server/internal/geocoding"
)

var _ geocoding.Cache = (*GeocodingCacheRepository)(nil)

// GeocodingCacheRepository stores encoded geocoding responses in Postgres.
// It backs the geocoding service when no Redis URL is configured.
type GeocodingCacheRepository struct {
	pool *pgxpool.Pool
}

func NewGeocodingCacheRepository(pool *pgxpool.Pool) *GeocodingCacheRepository {
	return &GeocodingCacheRepository{pool: pool}
}

// Get returns nil, nil on a miss or an expired entry.
func (r *GeocodingCacheRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, `
UPDATE geocoding_cache
   SET hit_count = hit_count + 1
 WHERE cache_key = $1 AND expires_at > now()
RETURNING payload
`, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read geocoding cache: %w", err)
	}
	return payload, nil
}

func (r *GeocodingCacheRepository) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO geocoding_cache (cache_key, payload, expires_at)
VALUES ($1, $2, now() + make_interval(secs => $3))
ON CONFLICT (cache_key) DO UPDATE
   SET payload = EXCLUDED.payload,
       expires_at = EXCLUDED.expires_at,
       created_at = now()
`, key, value, ttl.Seconds())
	if err != nil {
		return fmt.Errorf("write geocoding cache: %w", err)
	}
	return nil
}

// PurgeExpired deletes entries past their expiry.
func (r *GeocodingCacheRepository) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM geocoding_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("purge geocoding cache: %w", err)
	}
	return tag.RowsAffected(), nil
}
