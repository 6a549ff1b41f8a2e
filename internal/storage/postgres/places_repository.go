package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spaceplaces/server/internal/domain/places"
	"github.com/spaceplaces/server/internal/listing"
)

var _ places.Repository = (*PlaceRepository)(nil)

type PlaceRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewPlaceRepository(pool *pgxpool.Pool) *PlaceRepository {
	return &PlaceRepository{pool: pool}
}

func (r *PlaceRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

// exploreWhere filters places with a published translation t in $1. The
// bounding box ($2..$5) is skipped when north is NULL; a west bound greater
// than east wraps around the antimeridian. Tags ($6) are OR-ed within the
// locale, then $7/$8 searches title and description.
const exploreWhere = `
  FROM places p
  JOIN place_translations t
    ON t.place_id = p.id AND t.locale = $1 AND t.status = 'published'
 WHERE ($2::float8 IS NULL OR (
         p.latitude BETWEEN $3::float8 AND $2::float8
         AND CASE WHEN $5::float8 <= $4::float8
                  THEN p.longitude BETWEEN $5::float8 AND $4::float8
                  ELSE p.longitude >= $5::float8 OR p.longitude <= $4::float8
             END))
   AND (cardinality($6::text[]) = 0 OR EXISTS (
         SELECT 1
           FROM place_tag pt
           JOIN tags tg ON tg.id = pt.tag_id AND tg.is_active
           JOIN tag_translations tt ON tt.tag_id = pt.tag_id AND tt.locale = $1
          WHERE pt.place_id = p.id
            AND tt.slug = ANY($6::text[])))
   AND ($7 = '' OR t.title ILIKE $8 OR t.description ILIKE $8)
`

func exploreArgs(q places.ExploreQuery) []any {
	var north, south, east, west *float64
	if q.Box != nil {
		north, south, east, west = &q.Box.North, &q.Box.South, &q.Box.East, &q.Box.West
	}
	tags := q.TagSlugs
	if tags == nil {
		tags = []string{}
	}
	return []any{q.Locale, north, south, east, west, tags, q.Search, likePattern(q.Search)}
}

func (r *PlaceRepository) Coordinates(ctx context.Context, q places.ExploreQuery) ([]places.Coordinates, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT p.id, p.latitude, p.longitude, p.is_featured`+exploreWhere+`
 ORDER BY p.created_at DESC, p.id DESC
`, exploreArgs(q)...)
	if err != nil {
		return nil, fmt.Errorf("query coordinates: %w", err)
	}
	defer rows.Close()

	items := []places.Coordinates{}
	for rows.Next() {
		var c places.Coordinates
		if err := rows.Scan(&c.ID, &c.Latitude, &c.Longitude, &c.IsFeatured); err != nil {
			return nil, fmt.Errorf("scan coordinates: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coordinates: %w", err)
	}
	return items, nil
}

// Explore returns up to Limit+1 cards so the caller can tell whether another
// page exists.
func (r *PlaceRepository) Explore(ctx context.Context, q places.ExploreQuery) ([]places.PlaceCard, error) {
	var cursorTimestamp *time.Time
	var cursorID *int64
	if q.After != nil {
		ts := q.After.CreatedAt.UTC()
		cursorTimestamp = &ts
		cursorID = &q.After.ID
	}
	limit := q.Limit
	if limit <= 0 {
		limit = places.DefaultPerPage
	}
	args := append(exploreArgs(q), cursorTimestamp, cursorID, limit+1)

	rows, err := r.queryer().Query(ctx, `
SELECT p.id, t.title, t.slug, t.description, p.is_featured, p.latitude, p.longitude, p.created_at`+exploreWhere+`
   AND ($9::timestamptz IS NULL OR (p.created_at, p.id) < ($9::timestamptz, $10::bigint))
 ORDER BY p.created_at DESC, p.id DESC
 LIMIT $11
`, args...)
	if err != nil {
		return nil, fmt.Errorf("explore places: %w", err)
	}
	defer rows.Close()

	cards := make([]places.PlaceCard, 0, limit+1)
	for rows.Next() {
		var c places.PlaceCard
		if err := rows.Scan(&c.ID, &c.Title, &c.Slug, &c.Excerpt, &c.IsFeatured, &c.Latitude, &c.Longitude, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan place card: %w", err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate place cards: %w", err)
	}
	return cards, nil
}

func (r *PlaceRepository) MainPhotos(ctx context.Context, placeIDs []int64) (map[int64]places.Photo, error) {
	out := make(map[int64]places.Photo, len(placeIDs))
	if len(placeIDs) == 0 {
		return out, nil
	}
	rows, err := r.queryer().Query(ctx, `
SELECT DISTINCT ON (place_id) id, place_id, storage_key, original_name, mime_type, size_bytes, is_main, sort_order
  FROM photos
 WHERE place_id = ANY($1)
 ORDER BY place_id, is_main DESC, sort_order, id
`, placeIDs)
	if err != nil {
		return nil, fmt.Errorf("query main photos: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		out[p.PlaceID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate main photos: %w", err)
	}
	return out, nil
}

func (r *PlaceRepository) TagBadges(ctx context.Context, placeIDs []int64, locale string) (map[int64][]places.TagBadge, error) {
	return termBadges(ctx, r.queryer(), "tag", placeIDs, locale)
}

// termBadges loads active tag or category badges for each place in locale.
func termBadges(ctx context.Context, q queryer, kind string, placeIDs []int64, locale string) (map[int64][]places.TagBadge, error) {
	out := make(map[int64][]places.TagBadge, len(placeIDs))
	if len(placeIDs) == 0 {
		return out, nil
	}
	var sql string
	switch kind {
	case "tag":
		sql = `
SELECT pt.place_id, tg.id, tt.name, tt.slug, tg.color
  FROM place_tag pt
  JOIN tags tg ON tg.id = pt.tag_id AND tg.is_active
  JOIN tag_translations tt ON tt.tag_id = tg.id AND tt.locale = $2
 WHERE pt.place_id = ANY($1)
 ORDER BY pt.place_id, tt.name
`
	default:
		sql = `
SELECT cp.place_id, c.id, ct.name, ct.slug, c.color
  FROM category_place cp
  JOIN categories c ON c.id = cp.category_id AND c.is_active
  JOIN category_translations ct ON ct.category_id = c.id AND ct.locale = $2
 WHERE cp.place_id = ANY($1)
 ORDER BY cp.place_id, ct.name
`
	}
	rows, err := q.Query(ctx, sql, placeIDs, locale)
	if err != nil {
		return nil, fmt.Errorf("query %s badges: %w", kind, err)
	}
	defer rows.Close()

	for rows.Next() {
		var placeID int64
		var b places.TagBadge
		if err := rows.Scan(&placeID, &b.ID, &b.Name, &b.Slug, &b.Color); err != nil {
			return nil, fmt.Errorf("scan %s badge: %w", kind, err)
		}
		out[placeID] = append(out[placeID], b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s badges: %w", kind, err)
	}
	return out, nil
}

func (r *PlaceRepository) GetByID(ctx context.Context, id int64) (*places.Place, error) {
	return loadPlace(ctx, r.queryer(), id)
}

func (r *PlaceRepository) GetPublishedBySlug(ctx context.Context, locale, placeSlug string) (*places.PlaceDetail, error) {
	q := r.queryer()
	id, err := r.FindPlaceIDBySlug(ctx, locale, placeSlug)
	if err != nil {
		return nil, err
	}
	place, err := loadPlace(ctx, q, id)
	if err != nil {
		return nil, err
	}

	detail := &places.PlaceDetail{Place: *place, Alternates: map[string]string{}}
	for _, t := range place.Translations {
		if t.Status != places.StatusPublished {
			continue
		}
		detail.Alternates[t.Locale] = t.Slug
		if t.Locale == locale {
			detail.Current = t
		}
	}

	tags, err := termBadges(ctx, q, "tag", []int64{id}, locale)
	if err != nil {
		return nil, err
	}
	categories, err := termBadges(ctx, q, "category", []int64{id}, locale)
	if err != nil {
		return nil, err
	}
	detail.Tags = tags[id]
	detail.Categories = categories[id]
	return detail, nil
}

func (r *PlaceRepository) FindPlaceIDBySlug(ctx context.Context, locale, placeSlug string) (int64, error) {
	var id int64
	err := r.queryer().QueryRow(ctx, `
SELECT place_id
  FROM place_translations
 WHERE locale = $1 AND slug = $2 AND status = 'published'
`, locale, placeSlug).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, places.ErrNotFound
		}
		return 0, fmt.Errorf("find place by slug: %w", err)
	}
	return id, nil
}

func (r *PlaceRepository) FindPublishedTranslation(ctx context.Context, placeID int64, locale string) (*places.Translation, error) {
	var t places.Translation
	err := r.queryer().QueryRow(ctx, `
SELECT place_id, locale, title, slug, description, practical_info, status
  FROM place_translations
 WHERE place_id = $1 AND locale = $2 AND status = 'published'
`, placeID, locale).Scan(&t.PlaceID, &t.Locale, &t.Title, &t.Slug, &t.Description, &t.PracticalInfo, &t.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, places.ErrNotFound
		}
		return nil, fmt.Errorf("find published translation: %w", err)
	}
	return &t, nil
}

func (r *PlaceRepository) SlugExists(ctx context.Context, locale, placeSlug string, excludePlaceID int64) (bool, error) {
	var exists bool
	err := r.queryer().QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM place_translations
   WHERE locale = $1 AND slug = $2 AND place_id <> $3
)`, locale, placeSlug, excludePlaceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return exists, nil
}

// adminWhere joins each place to its translation in $1, falling back to the
// first locale alphabetically.
const adminWhere = `
  FROM places p
  LEFT JOIN LATERAL (
        SELECT title, slug, status
          FROM place_translations
         WHERE place_id = p.id
         ORDER BY (locale = $1) DESC, locale
         LIMIT 1
       ) t ON true
 WHERE ($2 = '' OR t.status = $2)
   AND ($3 = '' OR p.is_featured = ($3 = 'yes'))
   AND ($4 = '' OR (p.request_id IS NOT NULL) = ($4 = 'request'))
   AND ($5 = '' OR t.title ILIKE $6)
`

func (r *PlaceRepository) ListAdmin(ctx context.Context, q listing.Query, locale string) ([]places.AdminRow, int, error) {
	queryer := r.queryer()
	args := []any{locale, q.Filter("status"), q.Filter("featured"), q.Filter("origin"), q.Search, likePattern(q.Search)}

	var total int
	if err := queryer.QueryRow(ctx, `SELECT count(*)`+adminWhere, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count places: %w", err)
	}

	// q.OrderBy comes from the listing allow-list.
	rows, err := queryer.Query(ctx, `
SELECT p.id, COALESCE(t.title, ''), COALESCE(t.slug, ''), COALESCE(t.status, 'draft'), p.is_featured,
       ARRAY(SELECT locale FROM place_translations WHERE place_id = p.id ORDER BY locale),
       (SELECT count(*) FROM photos ph WHERE ph.place_id = p.id),
       p.request_id IS NOT NULL,
       p.created_at`+adminWhere+`
 ORDER BY `+q.OrderBy+`, p.id DESC
 LIMIT $7 OFFSET $8
`, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list places: %w", err)
	}
	defer rows.Close()

	items := make([]places.AdminRow, 0, q.Limit)
	for rows.Next() {
		var row places.AdminRow
		if err := rows.Scan(&row.ID, &row.Title, &row.Slug, &row.Status, &row.IsFeatured,
			&row.Locales, &row.PhotoCount, &row.FromRequest, &row.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan place row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate place rows: %w", err)
	}
	return items, total, nil
}

func (r *PlaceRepository) Create(ctx context.Context, params places.CreateParams) (*places.Place, error) {
	var place *places.Place
	err := runInTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		id, err := insertPlace(ctx, tx, params)
		if err != nil {
			return err
		}
		place, err = loadPlace(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return place, nil
}

// insertPlace writes a place with its translations, photos and pivots.
func insertPlace(ctx context.Context, q queryer, params places.CreateParams) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `
INSERT INTO places (latitude, longitude, address, admin_id, is_featured, request_id)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id
`, params.Latitude, params.Longitude, params.Address, params.AdminID, params.IsFeatured, params.RequestID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert place: %w", err)
	}

	if err := upsertTranslations(ctx, q, id, params.Translations); err != nil {
		return 0, err
	}
	for i, photo := range params.Photos {
		if _, err := q.Exec(ctx, `
INSERT INTO photos (place_id, storage_key, original_name, mime_type, size_bytes, is_main, sort_order)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, id, photo.StorageKey, photo.OriginalName, photo.MIMEType, photo.SizeBytes, photo.IsMain, i); err != nil {
			return 0, fmt.Errorf("insert photo: %w", err)
		}
	}
	if err := replacePivots(ctx, q, id, params.TagIDs, params.CategoryIDs); err != nil {
		return 0, err
	}
	return id, nil
}

func upsertTranslations(ctx context.Context, q queryer, placeID int64, translations []places.TranslationInput) error {
	for _, t := range translations {
		status := t.Status
		if status == "" {
			status = places.StatusDraft
		}
		_, err := q.Exec(ctx, `
INSERT INTO place_translations (place_id, locale, title, slug, description, practical_info, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (place_id, locale) DO UPDATE
   SET title = EXCLUDED.title,
       slug = EXCLUDED.slug,
       description = EXCLUDED.description,
       practical_info = EXCLUDED.practical_info,
       status = EXCLUDED.status,
       updated_at = now()
`, placeID, t.Locale, t.Title, t.Slug, t.Description, t.PracticalInfo, status)
		if err != nil {
			if constraint, ok := uniqueConstraint(err); ok && constraint == "place_translations_locale_slug_key" {
				return places.ErrSlugTaken
			}
			return fmt.Errorf("upsert translation %s: %w", t.Locale, err)
		}
	}
	return nil
}

func replacePivots(ctx context.Context, q queryer, placeID int64, tagIDs, categoryIDs []int64) error {
	if _, err := q.Exec(ctx, `DELETE FROM place_tag WHERE place_id = $1`, placeID); err != nil {
		return fmt.Errorf("clear place tags: %w", err)
	}
	if _, err := q.Exec(ctx, `DELETE FROM category_place WHERE place_id = $1`, placeID); err != nil {
		return fmt.Errorf("clear place categories: %w", err)
	}
	if len(tagIDs) > 0 {
		if _, err := q.Exec(ctx, `
INSERT INTO place_tag (place_id, tag_id)
SELECT $1, id FROM tags WHERE id = ANY($2)
ON CONFLICT DO NOTHING
`, placeID, tagIDs); err != nil {
			return fmt.Errorf("attach tags: %w", err)
		}
	}
	if len(categoryIDs) > 0 {
		if _, err := q.Exec(ctx, `
INSERT INTO category_place (place_id, category_id)
SELECT $1, id FROM categories WHERE id = ANY($2)
ON CONFLICT DO NOTHING
`, placeID, categoryIDs); err != nil {
			return fmt.Errorf("attach categories: %w", err)
		}
	}
	return nil
}

// loadPlace reads a place with its translations, photos and pivot ids.
func loadPlace(ctx context.Context, q queryer, id int64) (*places.Place, error) {
	var p places.Place
	err := q.QueryRow(ctx, `
SELECT id, latitude, longitude, address, admin_id, is_featured, request_id, created_at, updated_at
  FROM places
 WHERE id = $1
`, id).Scan(&p.ID, &p.Latitude, &p.Longitude, &p.Address, &p.AdminID, &p.IsFeatured, &p.RequestID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, places.ErrNotFound
		}
		return nil, fmt.Errorf("get place: %w", err)
	}

	rows, err := q.Query(ctx, `
SELECT place_id, locale, title, slug, description, practical_info, status
  FROM place_translations
 WHERE place_id = $1
 ORDER BY locale
`, id)
	if err != nil {
		return nil, fmt.Errorf("query translations: %w", err)
	}
	for rows.Next() {
		var t places.Translation
		if err := rows.Scan(&t.PlaceID, &t.Locale, &t.Title, &t.Slug, &t.Description, &t.PracticalInfo, &t.Status); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan translation: %w", err)
		}
		p.Translations = append(p.Translations, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate translations: %w", err)
	}

	rows, err = q.Query(ctx, `
SELECT id, place_id, storage_key, original_name, mime_type, size_bytes, is_main, sort_order
  FROM photos
 WHERE place_id = $1
 ORDER BY is_main DESC, sort_order, id
`, id)
	if err != nil {
		return nil, fmt.Errorf("query photos: %w", err)
	}
	for rows.Next() {
		photo, err := scanPhoto(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		p.Photos = append(p.Photos, photo)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photos: %w", err)
	}

	err = q.QueryRow(ctx, `
SELECT ARRAY(SELECT tag_id FROM place_tag WHERE place_id = $1 ORDER BY tag_id),
       ARRAY(SELECT category_id FROM category_place WHERE place_id = $1 ORDER BY category_id)
`, id).Scan(&p.TagIDs, &p.CategoryIDs)
	if err != nil {
		return nil, fmt.Errorf("query place pivots: %w", err)
	}
	return &p, nil
}

func scanPhoto(row pgx.Row) (places.Photo, error) {
	var p places.Photo
	if err := row.Scan(&p.ID, &p.PlaceID, &p.StorageKey, &p.OriginalName, &p.MIMEType, &p.SizeBytes, &p.IsMain, &p.SortOrder); err != nil {
		return places.Photo{}, fmt.Errorf("scan photo: %w", err)
	}
	return p, nil
}

func (r *PlaceRepository) Update(ctx context.Context, id int64, params places.UpdateParams) (*places.Place, error) {
	var place *places.Place
	err := runInTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE places
   SET latitude = COALESCE($2, latitude),
       longitude = COALESCE($3, longitude),
       address = COALESCE($4, address),
       is_featured = COALESCE($5, is_featured),
       updated_at = now()
 WHERE id = $1
`, id, params.Latitude, params.Longitude, params.Address, params.IsFeatured)
		if err != nil {
			return fmt.Errorf("update place: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return places.ErrNotFound
		}
		if err := upsertTranslations(ctx, tx, id, params.Translations); err != nil {
			return err
		}
		if params.ReplaceTaxonomy {
			if err := replacePivots(ctx, tx, id, params.TagIDs, params.CategoryIDs); err != nil {
				return err
			}
		}
		place, err = loadPlace(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return place, nil
}

// Delete removes a place. Translations, photos and pivots cascade. Edit
// requests keep their moderation history with place_id set to NULL.
func (r *PlaceRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.queryer().Exec(ctx, `DELETE FROM places WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete place: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return places.ErrNotFound
	}
	return nil
}

func (r *PlaceRepository) SetFeatured(ctx context.Context, id int64, featured bool) error {
	tag, err := r.queryer().Exec(ctx, `UPDATE places SET is_featured = $2, updated_at = now() WHERE id = $1`, id, featured)
	if err != nil {
		return fmt.Errorf("set featured: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return places.ErrNotFound
	}
	return nil
}

func (r *PlaceRepository) SetAddress(ctx context.Context, id int64, address string) error {
	tag, err := r.queryer().Exec(ctx, `UPDATE places SET address = $2, updated_at = now() WHERE id = $1`, id, address)
	if err != nil {
		return fmt.Errorf("set address: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return places.ErrNotFound
	}
	return nil
}
