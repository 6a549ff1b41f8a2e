// Package geocoding resolves addresses for the proposal form and fills the
// address of places created without one.
package geocoding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/spaceplaces/server/internal/geocoding/nominatim"
	"github.com/spaceplaces/server/internal/metrics"
)

var (
	// ErrUpstream is returned when the provider cannot be reached or answers
	// with an error. Callers treat it as a 502.
	ErrUpstream = errors.New("geocoding provider unavailable")
	// ErrNoResults is returned when the provider answers with nothing usable.
	ErrNoResults = errors.New("no geocoding results found")
	// ErrInvalidQuery rejects empty or oversized queries before any call.
	ErrInvalidQuery = errors.New("invalid geocoding query")
)

const maxQueryLength = 200

// Provider is the subset of the Nominatim client used here.
type Provider interface {
	Search(ctx context.Context, query string, opts nominatim.SearchOptions) ([]nominatim.SearchResult, error)
	Reverse(ctx context.Context, lat, lon float64, language string) (*nominatim.ReverseResult, error)
}

// Result is a geocoded location as exposed to the proposal form.
type Result struct {
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lng"`
	DisplayName string  `json:"display_name"`
	Locality    string  `json:"locality,omitempty"`
	Country     string  `json:"country,omitempty"`
}

type Service struct {
	provider Provider
	cache    Cache
	ttl      time.Duration
	logger   zerolog.Logger
}

// NewService wires a provider with an optional cache. A nil cache disables
// caching.
func NewService(provider Provider, cache Cache, ttl time.Duration, logger zerolog.Logger) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	return &Service{
		provider: provider,
		cache:    cache,
		ttl:      ttl,
		logger:   logger.With().Str("component", "geocoding").Logger(),
	}
}

// Search returns up to limit candidates for a free-text address.
func (s *Service) Search(ctx context.Context, query, language string, limit int) ([]Result, error) {
	query = NormalizeQuery(query)
	if query == "" || len([]rune(query)) > maxQueryLength {
		return nil, ErrInvalidQuery
	}
	if limit <= 0 || limit > 10 {
		limit = 5
	}

	key := cacheKey("search", language, strconv.Itoa(limit), query)
	var cached []Result
	if s.lookup(ctx, "forward", key, &cached) {
		return cached, nil
	}

	start := time.Now()
	raw, err := s.provider.Search(ctx, query, nominatim.SearchOptions{Limit: limit, Language: language})
	s.observe("search", start, err)
	if err != nil {
		s.logger.Error().Err(err).Str("query", query).Msg("nominatim search failed")
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	results := make([]Result, 0, len(raw))
	for _, r := range raw {
		lat, lng, err := parseLatLng(r.Lat, r.Lon)
		if err != nil {
			s.logger.Warn().Err(err).Int64("osm_id", r.OSMID).Msg("skipping malformed nominatim result")
			continue
		}
		res := Result{Latitude: lat, Longitude: lng, DisplayName: r.DisplayName}
		if r.Address != nil {
			res.Locality = r.Address.Locality()
			res.Country = r.Address.Country
		}
		results = append(results, res)
	}
	if len(results) == 0 {
		return nil, ErrNoResults
	}

	s.store(ctx, key, results)
	return results, nil
}

// Reverse resolves coordinates to a display address.
func (s *Service) Reverse(ctx context.Context, lat, lng float64, language string) (*Result, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, ErrInvalidQuery
	}

	// 5 decimals is about one metre; finer keys only fragment the cache.
	key := cacheKey("reverse", language, strconv.FormatFloat(lat, 'f', 5, 64), strconv.FormatFloat(lng, 'f', 5, 64))
	var cached Result
	if s.lookup(ctx, "reverse", key, &cached) {
		return &cached, nil
	}

	start := time.Now()
	raw, err := s.provider.Reverse(ctx, lat, lng, language)
	s.observe("reverse", start, err)
	if err != nil {
		s.logger.Error().Err(err).Float64("lat", lat).Float64("lng", lng).Msg("nominatim reverse failed")
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if raw.Error != "" || raw.DisplayName == "" {
		return nil, ErrNoResults
	}

	res := Result{
		Latitude:    lat,
		Longitude:   lng,
		DisplayName: raw.DisplayName,
		Locality:    raw.Address.Locality(),
		Country:     raw.Address.Country,
	}
	s.store(ctx, key, res)
	return &res, nil
}

func (s *Service) lookup(ctx context.Context, kind, key string, dst any) bool {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		metrics.GeocodingCacheTotal.WithLabelValues(kind, "error").Inc()
		s.logger.Warn().Err(err).Msg("geocoding cache read failed")
		return false
	}
	if data == nil {
		metrics.GeocodingCacheTotal.WithLabelValues(kind, "miss").Inc()
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		metrics.GeocodingCacheTotal.WithLabelValues(kind, "error").Inc()
		return false
	}
	metrics.GeocodingCacheTotal.WithLabelValues(kind, "hit").Inc()
	return true
}

func (s *Service) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		s.logger.Warn().Err(err).Msg("geocoding cache write failed")
	}
}

func (s *Service) observe(operation string, start time.Time, err error) {
	metrics.UpstreamLatency.WithLabelValues("nominatim", operation).Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.UpstreamRequestsTotal.WithLabelValues("nominatim", operation, status).Inc()
}

// NormalizeQuery lowercases and collapses whitespace so equivalent queries
// share a cache entry.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func cacheKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return "geocode:" + parts[0] + ":" + hex.EncodeToString(sum[:16])
}

func parseLatLng(latRaw, lngRaw string) (float64, float64, error) {
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude %q: %w", latRaw, err)
	}
	lng, err := strconv.ParseFloat(lngRaw, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude %q: %w", lngRaw, err)
	}
	return lat, lng, nil
}
