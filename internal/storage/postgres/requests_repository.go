package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spaceplaces/server/internal/domain/places"
	"github.com/spaceplaces/server/internal/domain/requests"
	"github.com/spaceplaces/server/internal/listing"
)

const foreignKeyViolation = "23503"

var _ requests.Repository = (*RequestRepository)(nil)

type RequestRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewRequestRepository(pool *pgxpool.Pool) *RequestRepository {
	return &RequestRepository{pool: pool}
}

func (r *RequestRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

func (r *RequestRepository) WithTx(ctx context.Context, fn func(tx requests.Repository) error) error {
	return runInTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		return fn(&RequestRepository{pool: r.pool, tx: tx})
	})
}

func requestTable(kind requests.Kind) (string, error) {
	switch kind {
	case requests.KindPlace:
		return "place_requests", nil
	case requests.KindEdit:
		return "edit_requests", nil
	default:
		return "", fmt.Errorf("unknown request kind %q", kind)
	}
}

const moderationColumns = `status, viewed_by_admin_id, viewed_at, processed_by_admin_id, processed_at, admin_reason`

func (r *RequestRepository) moderation(ctx context.Context, kind requests.Kind, id int64, lock bool) (requests.Moderation, error) {
	table, err := requestTable(kind)
	if err != nil {
		return requests.Moderation{}, err
	}
	sql := `SELECT ` + moderationColumns + ` FROM ` + table + ` WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var m requests.Moderation
	err = r.queryer().QueryRow(ctx, sql, id).Scan(
		&m.Status, &m.ViewedByAdminID, &m.ViewedAt, &m.ProcessedByAdminID, &m.ProcessedAt, &m.AdminReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return requests.Moderation{}, requests.ErrNotFound
		}
		return requests.Moderation{}, fmt.Errorf("read %s moderation: %w", kind, err)
	}
	return m, nil
}

func (r *RequestRepository) LockModeration(ctx context.Context, kind requests.Kind, id int64) (requests.Moderation, error) {
	if r.tx == nil {
		return requests.Moderation{}, errors.New("lock moderation: no transaction")
	}
	return r.moderation(ctx, kind, id, true)
}

func (r *RequestRepository) GetModeration(ctx context.Context, kind requests.Kind, id int64) (requests.Moderation, error) {
	return r.moderation(ctx, kind, id, false)
}

// MarkViewed only touches rows never viewed, so a second view keeps the
// first viewer and timestamp.
func (r *RequestRepository) MarkViewed(ctx context.Context, kind requests.Kind, id, adminID int64) (bool, error) {
	table, err := requestTable(kind)
	if err != nil {
		return false, err
	}
	tag, err := r.queryer().Exec(ctx, `
UPDATE `+table+`
   SET status = CASE WHEN status = 'submitted' THEN 'pending' ELSE status END,
       viewed_by_admin_id = $2,
       viewed_at = now()
 WHERE id = $1
   AND viewed_at IS NULL
   AND status IN ('submitted', 'pending')
`, id, adminID)
	if err != nil {
		return false, fmt.Errorf("mark %s request viewed: %w", kind, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *RequestRepository) SetRefused(ctx context.Context, kind requests.Kind, id, adminID int64, reason string) error {
	return r.process(ctx, kind, id, adminID, requests.StatusRefused, &reason)
}

// SetAccepted keeps any earlier refusal reason for the audit trail.
func (r *RequestRepository) SetAccepted(ctx context.Context, kind requests.Kind, id, adminID int64) error {
	return r.process(ctx, kind, id, adminID, requests.StatusAccepted, nil)
}

func (r *RequestRepository) process(ctx context.Context, kind requests.Kind, id, adminID int64, status requests.Status, reason *string) error {
	table, err := requestTable(kind)
	if err != nil {
		return err
	}
	tag, err := r.queryer().Exec(ctx, `
UPDATE `+table+`
   SET status = $2,
       processed_by_admin_id = $3,
       processed_at = now(),
       admin_reason = COALESCE($4, admin_reason),
       viewed_by_admin_id = COALESCE(viewed_by_admin_id, $3),
       viewed_at = COALESCE(viewed_at, now())
 WHERE id = $1
`, id, string(status), adminID, reason)
	if err != nil {
		return fmt.Errorf("set %s request %s: %w", kind, status, err)
	}
	if tag.RowsAffected() == 0 {
		return requests.ErrNotFound
	}
	return nil
}

const placeRequestColumns = `
r.id, r.title, r.slug, r.description, r.latitude, r.longitude, r.address, r.contact_email,
r.locale, r.detected_language, p.id, r.created_at,
r.status, r.viewed_by_admin_id, r.viewed_at, r.processed_by_admin_id, r.processed_at, r.admin_reason`

func scanPlaceRequest(row pgx.Row) (requests.PlaceRequest, error) {
	var req requests.PlaceRequest
	err := row.Scan(
		&req.ID, &req.Title, &req.Slug, &req.Description, &req.Latitude, &req.Longitude, &req.Address, &req.ContactEmail,
		&req.Locale, &req.DetectedLanguage, &req.PlaceID, &req.CreatedAt,
		&req.Status, &req.ViewedByAdminID, &req.ViewedAt, &req.ProcessedByAdminID, &req.ProcessedAt, &req.AdminReason,
	)
	return req, err
}

func (r *RequestRepository) GetPlaceRequest(ctx context.Context, id int64) (*requests.PlaceRequest, error) {
	q := r.queryer()
	req, err := scanPlaceRequest(q.QueryRow(ctx, `
SELECT `+placeRequestColumns+`
  FROM place_requests r
  LEFT JOIN places p ON p.request_id = r.id
 WHERE r.id = $1
`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, requests.ErrNotFound
		}
		return nil, fmt.Errorf("get place request: %w", err)
	}

	rows, err := q.Query(ctx, `
SELECT id, request_id, storage_key, original_name, mime_type, size_bytes, sort_order
  FROM place_request_photos
 WHERE request_id = $1
 ORDER BY sort_order, id
`, id)
	if err != nil {
		return nil, fmt.Errorf("query request photos: %w", err)
	}
	defer rows.Close()

	req.Photos = []requests.StagedPhoto{}
	for rows.Next() {
		var p requests.StagedPhoto
		if err := rows.Scan(&p.ID, &p.RequestID, &p.StorageKey, &p.OriginalName, &p.MIMEType, &p.SizeBytes, &p.SortOrder); err != nil {
			return nil, fmt.Errorf("scan request photo: %w", err)
		}
		req.Photos = append(req.Photos, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate request photos: %w", err)
	}
	return &req, nil
}

func (r *RequestRepository) ListPlaceRequests(ctx context.Context, q listing.Query) ([]requests.PlaceRequest, int, error) {
	queryer := r.queryer()
	const where = `
  FROM place_requests r
  LEFT JOIN places p ON p.request_id = r.id
 WHERE ($1 = '' OR r.status = $1)
   AND ($2 = '' OR r.title ILIKE $3 OR r.contact_email ILIKE $3)
`
	args := []any{q.Filter("status"), q.Search, likePattern(q.Search)}

	var total int
	if err := queryer.QueryRow(ctx, `SELECT count(*)`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count place requests: %w", err)
	}

	rows, err := queryer.Query(ctx, `SELECT `+placeRequestColumns+where+`
 ORDER BY `+q.OrderBy+`, r.id DESC
 LIMIT $4 OFFSET $5
`, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list place requests: %w", err)
	}
	defer rows.Close()

	items := make([]requests.PlaceRequest, 0, q.Limit)
	for rows.Next() {
		req, err := scanPlaceRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan place request: %w", err)
		}
		items = append(items, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate place requests: %w", err)
	}
	return items, total, nil
}

// CreatePlaceRequest inserts the request with its staged photos and fills
// ID, status and CreatedAt.
func (r *RequestRepository) CreatePlaceRequest(ctx context.Context, req *requests.PlaceRequest) error {
	return runInTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
INSERT INTO place_requests (title, slug, description, latitude, longitude, address, contact_email, locale, detected_language)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id, status, created_at
`, req.Title, req.Slug, req.Description, req.Latitude, req.Longitude, req.Address, req.ContactEmail,
			req.Locale, req.DetectedLanguage).Scan(&req.ID, &req.Status, &req.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert place request: %w", err)
		}
		for i := range req.Photos {
			p := &req.Photos[i]
			p.RequestID = req.ID
			p.SortOrder = i
			if err := tx.QueryRow(ctx, `
INSERT INTO place_request_photos (request_id, storage_key, original_name, mime_type, size_bytes, sort_order)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id
`, req.ID, p.StorageKey, p.OriginalName, p.MIMEType, p.SizeBytes, p.SortOrder).Scan(&p.ID); err != nil {
				return fmt.Errorf("insert request photo: %w", err)
			}
		}
		return nil
	})
}

const editRequestColumns = `
r.id, r.place_id, COALESCE(t.title, ''), r.type, r.contact_email, r.message, r.suggested_changes,
r.locale, r.detected_language, r.created_at,
r.status, r.viewed_by_admin_id, r.viewed_at, r.processed_by_admin_id, r.processed_at, r.admin_reason`

// editRequestFrom labels each request with the place title in the request
// locale, falling back to any translation.
const editRequestFrom = `
  FROM edit_requests r
  LEFT JOIN LATERAL (
        SELECT title
          FROM place_translations
         WHERE place_id = r.place_id
         ORDER BY (locale = r.locale) DESC, locale
         LIMIT 1
       ) t ON true`

func scanEditRequest(row pgx.Row) (requests.EditRequest, error) {
	var req requests.EditRequest
	err := row.Scan(
		&req.ID, &req.PlaceID, &req.PlaceTitle, &req.Type, &req.ContactEmail, &req.Message, &req.SuggestedChanges,
		&req.Locale, &req.DetectedLanguage, &req.CreatedAt,
		&req.Status, &req.ViewedByAdminID, &req.ViewedAt, &req.ProcessedByAdminID, &req.ProcessedAt, &req.AdminReason,
	)
	if req.SuggestedChanges == nil {
		req.SuggestedChanges = map[string]string{}
	}
	return req, err
}

func (r *RequestRepository) GetEditRequest(ctx context.Context, id int64) (*requests.EditRequest, error) {
	req, err := scanEditRequest(r.queryer().QueryRow(ctx, `SELECT `+editRequestColumns+editRequestFrom+`
 WHERE r.id = $1
`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, requests.ErrNotFound
		}
		return nil, fmt.Errorf("get edit request: %w", err)
	}
	return &req, nil
}

func (r *RequestRepository) ListEditRequests(ctx context.Context, q listing.Query) ([]requests.EditRequest, int, error) {
	queryer := r.queryer()
	const where = `
 WHERE ($1 = '' OR r.status = $1)
   AND ($2 = '' OR r.type = $2)
   AND ($3 = '' OR r.message ILIKE $4 OR r.contact_email ILIKE $4)
`
	args := []any{q.Filter("status"), q.Filter("type"), q.Search, likePattern(q.Search)}

	var total int
	if err := queryer.QueryRow(ctx, `SELECT count(*) FROM edit_requests r`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count edit requests: %w", err)
	}

	rows, err := queryer.Query(ctx, `SELECT `+editRequestColumns+editRequestFrom+where+`
 ORDER BY `+q.OrderBy+`, r.id DESC
 LIMIT $5 OFFSET $6
`, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list edit requests: %w", err)
	}
	defer rows.Close()

	items := make([]requests.EditRequest, 0, q.Limit)
	for rows.Next() {
		req, err := scanEditRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan edit request: %w", err)
		}
		items = append(items, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate edit requests: %w", err)
	}
	return items, total, nil
}

func (r *RequestRepository) CreateEditRequest(ctx context.Context, req *requests.EditRequest) error {
	changes := req.SuggestedChanges
	if changes == nil {
		changes = map[string]string{}
	}
	err := r.queryer().QueryRow(ctx, `
INSERT INTO edit_requests (place_id, type, contact_email, message, suggested_changes, locale, detected_language)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, status, created_at
`, req.PlaceID, string(req.Type), req.ContactEmail, req.Message, changes, req.Locale, req.DetectedLanguage).
		Scan(&req.ID, &req.Status, &req.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return requests.ErrPlaceNotFound
		}
		return fmt.Errorf("insert edit request: %w", err)
	}
	return nil
}

// CreatePlace inserts the accepted place on the request transaction.
func (r *RequestRepository) CreatePlace(ctx context.Context, params places.CreateParams) (*places.Place, error) {
	q := r.queryer()
	id, err := insertPlace(ctx, q, params)
	if err != nil {
		return nil, err
	}
	return loadPlace(ctx, q, id)
}
