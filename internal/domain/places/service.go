package places

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/spaceplaces/server/internal/api/pagination"
	"github.com/spaceplaces/server/internal/listing"
	"github.com/spaceplaces/server/internal/metrics"
	"github.com/spaceplaces/server/internal/sanitize"
	"github.com/spaceplaces/server/internal/slug"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100

	excerptLength = 160
	maxTagFilters = 20
	maxSlugTries  = 50
)

type ExploreMode string

const (
	ModeNearby    ExploreMode = "nearby"
	ModeWorldwide ExploreMode = "worldwide"
)

type ExploreFilters struct {
	Mode     ExploreMode
	TagSlugs []string
	Search   string
}

var tracer = otel.Tracer("github.com/spaceplaces/server/internal/domain/places")

type Service struct {
	repo        Repository
	photoPrefix string
	locales     []string
	logger      zerolog.Logger
}

func NewService(repo Repository, photoPrefix string, locales []string, logger zerolog.Logger) *Service {
	return &Service{
		repo:        repo,
		photoPrefix: strings.TrimRight(photoPrefix, "/"),
		locales:     locales,
		logger:      logger.With().Str("component", "places").Logger(),
	}
}

// PhotoURL maps a storage key to its public URL.
func (s *Service) PhotoURL(key string) string {
	return s.photoPrefix + "/" + key
}

// SupportsLocale reports whether locale is one of the configured locales.
func (s *Service) SupportsLocale(locale string) bool {
	for _, l := range s.locales {
		if l == locale {
			return true
		}
	}
	return false
}

func (s *Service) exploreQuery(filters ExploreFilters, box *BoundingBox, locale string) (ExploreQuery, error) {
	if !s.SupportsLocale(locale) {
		return ExploreQuery{}, FilterError{Field: "locale", Message: "unsupported locale"}
	}
	q := ExploreQuery{
		TagSlugs: filters.TagSlugs,
		Search:   filters.Search,
		Locale:   locale,
	}
	if filters.Mode != ModeWorldwide {
		if box == nil {
			return ExploreQuery{}, FilterError{Field: "bbox", Message: "required in nearby mode"}
		}
		if err := box.Validate(); err != nil {
			return ExploreQuery{}, err
		}
		b := *box
		q.Box = &b
	}
	return q, nil
}

// Coordinates returns marker projections for every published place matching
// the filters inside box.
func (s *Service) Coordinates(ctx context.Context, filters ExploreFilters, box *BoundingBox, locale string) ([]Coordinates, error) {
	ctx, span := tracer.Start(ctx, "places.Coordinates")
	defer span.End()

	q, err := s.exploreQuery(filters, box, locale)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	items, err := s.repo.Coordinates(ctx, q)
	metrics.ExploreQueryDuration.WithLabelValues("coordinates").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("load coordinates: %w", err)
	}
	span.SetAttributes(attribute.Int("places.count", len(items)))
	if items == nil {
		items = []Coordinates{}
	}
	return items, nil
}

// Explore returns one page of place cards. An empty cursor starts from the
// newest place; a malformed cursor yields ErrInvalidCursor.
func (s *Service) Explore(ctx context.Context, filters ExploreFilters, box *BoundingBox, locale string, perPage int, cursor string) (ExplorePage, error) {
	ctx, span := tracer.Start(ctx, "places.Explore")
	defer span.End()

	q, err := s.exploreQuery(filters, box, locale)
	if err != nil {
		return ExplorePage{}, err
	}
	q.Limit = clampPerPage(perPage)
	if strings.TrimSpace(cursor) != "" {
		decoded, err := pagination.DecodeCursor(cursor)
		if err != nil {
			return ExplorePage{}, ErrInvalidCursor
		}
		q.After = &decoded
	}

	start := time.Now()
	cards, err := s.repo.Explore(ctx, q)
	metrics.ExploreQueryDuration.WithLabelValues("places").Observe(time.Since(start).Seconds())
	if err != nil {
		return ExplorePage{}, fmt.Errorf("explore places: %w", err)
	}

	page := ExplorePage{Places: cards}
	if len(cards) > q.Limit {
		page.Places = cards[:q.Limit]
		last := page.Places[len(page.Places)-1]
		next := pagination.EncodeCursor(last.CreatedAt, last.ID)
		page.NextCursor = &next
		page.HasMorePages = true
	}
	if page.Places == nil {
		page.Places = []PlaceCard{}
	}

	if err := s.decorateCards(ctx, page.Places, locale); err != nil {
		return ExplorePage{}, err
	}
	span.SetAttributes(
		attribute.Int("places.count", len(page.Places)),
		attribute.Bool("places.has_more", page.HasMorePages),
	)
	return page, nil
}

// decorateCards fills main photos and tag badges with two batched queries
// run concurrently.
func (s *Service) decorateCards(ctx context.Context, cards []PlaceCard, locale string) error {
	if len(cards) == 0 {
		return nil
	}
	ids := make([]int64, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
	}

	var (
		photos map[int64]Photo
		tags   map[int64][]TagBadge
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		photos, err = s.repo.MainPhotos(gctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		tags, err = s.repo.TagBadges(gctx, ids, locale)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load card details: %w", err)
	}

	for i := range cards {
		cards[i].Excerpt = sanitize.Excerpt(cards[i].Excerpt, excerptLength)
		if photo, ok := photos[cards[i].ID]; ok {
			u := s.PhotoURL(photo.StorageKey)
			cards[i].MainPhoto = &u
		}
		cards[i].Tags = tags[cards[i].ID]
		if cards[i].Tags == nil {
			cards[i].Tags = []TagBadge{}
		}
	}
	return nil
}

func clampPerPage(perPage int) int {
	switch {
	case perPage <= 0:
		return DefaultPerPage
	case perPage > MaxPerPage:
		return MaxPerPage
	default:
		return perPage
	}
}

// GetPublishedBySlug loads a place through its published translation.
func (s *Service) GetPublishedBySlug(ctx context.Context, locale, placeSlug string) (*PlaceDetail, error) {
	return s.repo.GetPublishedBySlug(ctx, locale, placeSlug)
}

// ResolveSlug finds the published slug of the place behind (fromLocale,
// fromSlug) in toLocale. It returns ErrNotFound when either side is missing.
func (s *Service) ResolveSlug(ctx context.Context, fromLocale, fromSlug, toLocale string) (string, error) {
	placeID, err := s.repo.FindPlaceIDBySlug(ctx, fromLocale, fromSlug)
	if err != nil {
		return "", err
	}
	t, err := s.repo.FindPublishedTranslation(ctx, placeID, toLocale)
	if err != nil {
		return "", err
	}
	return t.Slug, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Place, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListAdmin(ctx context.Context, q listing.Query, locale string) ([]AdminRow, int, error) {
	return s.repo.ListAdmin(ctx, q, locale)
}

// Create validates and stores a place typed in by an admin.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Place, error) {
	if err := validateCoordinates(params.Latitude, params.Longitude); err != nil {
		return nil, err
	}
	translations, err := s.PrepareTranslations(ctx, params.Translations, 0)
	if err != nil {
		return nil, err
	}
	params.Translations = translations
	params.Address = sanitize.Text(params.Address)

	place, err := s.repo.Create(ctx, params)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("place_id", place.ID).Int("translations", len(translations)).Msg("place created")
	return place, nil
}

func (s *Service) Update(ctx context.Context, id int64, params UpdateParams) (*Place, error) {
	if params.Latitude != nil || params.Longitude != nil {
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		lat, lng := current.Latitude, current.Longitude
		if params.Latitude != nil {
			lat = *params.Latitude
		}
		if params.Longitude != nil {
			lng = *params.Longitude
		}
		if err := validateCoordinates(lat, lng); err != nil {
			return nil, err
		}
	}
	if len(params.Translations) > 0 {
		translations, err := s.PrepareTranslations(ctx, params.Translations, id)
		if err != nil {
			return nil, err
		}
		params.Translations = translations
	}
	if params.Address != nil {
		clean := sanitize.Text(*params.Address)
		params.Address = &clean
	}
	return s.repo.Update(ctx, id, params)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Int64("place_id", id).Msg("place deleted")
	return nil
}

func (s *Service) SetFeatured(ctx context.Context, id int64, featured bool) error {
	return s.repo.SetFeatured(ctx, id, featured)
}

// PrepareTranslations sanitizes inputs, rejects unsupported or duplicate
// locales and assigns a free slug per locale. placeID is excluded from the
// slug collision check so updates can keep their own slug.
func (s *Service) PrepareTranslations(ctx context.Context, inputs []TranslationInput, placeID int64) ([]TranslationInput, error) {
	if len(inputs) == 0 {
		return nil, FilterError{Field: "translations", Message: "at least one translation is required"}
	}
	seen := make(map[string]bool, len(inputs))
	out := make([]TranslationInput, 0, len(inputs))
	for _, in := range inputs {
		if !s.SupportsLocale(in.Locale) {
			return nil, FilterError{Field: "translations.locale", Message: fmt.Sprintf("unsupported locale %q", in.Locale)}
		}
		if seen[in.Locale] {
			return nil, FilterError{Field: "translations.locale", Message: fmt.Sprintf("duplicate locale %q", in.Locale)}
		}
		seen[in.Locale] = true

		in.Title = sanitize.Text(in.Title)
		if in.Title == "" {
			return nil, FilterError{Field: "translations.title", Message: "is required"}
		}
		in.Description = sanitize.HTML(in.Description)
		in.PracticalInfo = sanitize.HTML(in.PracticalInfo)
		if in.Status == "" {
			in.Status = StatusDraft
		}
		if !in.Status.Valid() {
			return nil, FilterError{Field: "translations.status", Message: "must be draft or published"}
		}

		base := slug.Make(in.Slug)
		if base == "" {
			base = slug.Make(in.Title)
		}
		if base == "" {
			return nil, FilterError{Field: "translations.slug", Message: "cannot be derived from title"}
		}
		free, err := s.UniqueSlug(ctx, in.Locale, base, placeID)
		if err != nil {
			return nil, err
		}
		in.Slug = free
		out = append(out, in)
	}
	return out, nil
}

// UniqueSlug returns base, or base-N for the first N not yet used in locale.
func (s *Service) UniqueSlug(ctx context.Context, locale, base string, excludePlaceID int64) (string, error) {
	for n := 1; n <= maxSlugTries; n++ {
		candidate := slug.WithSuffix(base, n)
		exists, err := s.repo.SlugExists(ctx, locale, candidate, excludePlaceID)
		if err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", ErrSlugTaken
}

func validateCoordinates(lat, lng float64) error {
	if lat < -90 || lat > 90 {
		return FilterError{Field: "latitude", Message: "must be between -90 and 90"}
	}
	if lng < -180 || lng > 180 {
		return FilterError{Field: "longitude", Message: "must be between -180 and 180"}
	}
	return nil
}

// ParseExploreFilters reads mode, tags and q from query values.
func ParseExploreFilters(values url.Values) (ExploreFilters, error) {
	return parseExploreFilters(values, true)
}

// ClampExploreFilters reads the same values for page URLs. Invalid values
// are dropped one by one and the rest are kept.
func ClampExploreFilters(values url.Values) ExploreFilters {
	filters, _ := parseExploreFilters(values, false)
	return filters
}

func parseExploreFilters(values url.Values, strict bool) (ExploreFilters, error) {
	filters := ExploreFilters{Mode: ModeNearby}

	switch mode := strings.TrimSpace(values.Get("mode")); mode {
	case "", string(ModeNearby):
	case string(ModeWorldwide):
		filters.Mode = ModeWorldwide
	default:
		if strict {
			return filters, FilterError{Field: "mode", Message: "must be nearby or worldwide"}
		}
	}

	seen := map[string]bool{}
	for _, raw := range values["tags"] {
		for _, part := range strings.Split(raw, ",") {
			tag := strings.ToLower(strings.TrimSpace(part))
			if tag == "" || seen[tag] {
				continue
			}
			if !slug.Valid(tag) {
				if strict {
					return filters, FilterError{Field: "tags", Message: fmt.Sprintf("invalid tag slug %q", tag)}
				}
				continue
			}
			seen[tag] = true
			filters.TagSlugs = append(filters.TagSlugs, tag)
		}
	}
	if len(filters.TagSlugs) > maxTagFilters {
		if strict {
			return filters, FilterError{Field: "tags", Message: fmt.Sprintf("at most %d tags", maxTagFilters)}
		}
		filters.TagSlugs = filters.TagSlugs[:maxTagFilters]
	}

	filters.Search = strings.TrimSpace(values.Get("q"))
	if len([]rune(filters.Search)) > 100 {
		if strict {
			return filters, FilterError{Field: "q", Message: "must be at most 100 characters"}
		}
		filters.Search = ""
	}
	return filters, nil
}

// ParsePerPage reads per_page; empty means the default.
func ParsePerPage(values url.Values) (int, error) {
	raw := strings.TrimSpace(values.Get("per_page"))
	if raw == "" {
		return DefaultPerPage, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 || v > MaxPerPage {
		return 0, FilterError{Field: "per_page", Message: fmt.Sprintf("must be between 1 and %d", MaxPerPage)}
	}
	return v, nil
}

// IsFilterError reports whether err is a user input problem.
func IsFilterError(err error) bool {
	var fe FilterError
	return errors.As(err, &fe)
}
