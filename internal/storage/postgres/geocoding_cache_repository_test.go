package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGeocodingCacheRepository(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t)
	cache := NewGeocodingCacheRepository(pool)

	miss, err := cache.Get(ctx, "reverse:48.85:2.35")
	require.NoError(t, err)
	require.Nil(t, miss)

	require.NoError(t, cache.Set(ctx, "reverse:48.85:2.35", []byte(`{"display_name":"Paris"}`), time.Hour))
	require.NoError(t, cache.Set(ctx, "reverse:48.85:2.35", []byte(`{"display_name":"Paris, France"}`), time.Hour))
	got, err := cache.Get(ctx, "reverse:48.85:2.35")
	require.NoError(t, err)
	require.JSONEq(t, `{"display_name":"Paris, France"}`, string(got))

	var hits int
	require.NoError(t, pool.QueryRow(ctx, `SELECT hit_count FROM geocoding_cache WHERE cache_key = $1`, "reverse:48.85:2.35").Scan(&hits))
	require.Equal(t, 1, hits)

	require.NoError(t, cache.Set(ctx, "search:kourou", []byte(`[]`), -time.Minute))
	expired, err := cache.Get(ctx, "search:kourou")
	require.NoError(t, err)
	require.Nil(t, expired)

	purged, err := cache.PurgeExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)
}
