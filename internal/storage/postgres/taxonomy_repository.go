package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spaceplaces/server/internal/domain/taxonomy"
	"github.com/spaceplaces/server/internal/listing"
)

var _ taxonomy.Repository = (*TaxonomyRepository)(nil)

type TaxonomyRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewTaxonomyRepository(pool *pgxpool.Pool) *TaxonomyRepository {
	return &TaxonomyRepository{pool: pool}
}

func (r *TaxonomyRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

// termTables names the tables behind one taxonomy kind.
type termTables struct {
	terms        string
	translations string
	foreignKey   string
	pivot        string
}

func tablesFor(kind taxonomy.Kind) (termTables, error) {
	switch kind {
	case taxonomy.KindTag:
		return termTables{terms: "tags", translations: "tag_translations", foreignKey: "tag_id", pivot: "place_tag"}, nil
	case taxonomy.KindCategory:
		return termTables{terms: "categories", translations: "category_translations", foreignKey: "category_id", pivot: "category_place"}, nil
	default:
		return termTables{}, fmt.Errorf("unknown taxonomy kind %q", kind)
	}
}

func (r *TaxonomyRepository) List(ctx context.Context, kind taxonomy.Kind, q listing.Query, locale string) ([]taxonomy.Row, int, error) {
	tt, err := tablesFor(kind)
	if err != nil {
		return nil, 0, err
	}
	queryer := r.queryer()
	where := `
  FROM ` + tt.terms + ` c
  LEFT JOIN LATERAL (
        SELECT name, slug
          FROM ` + tt.translations + `
         WHERE ` + tt.foreignKey + ` = c.id
         ORDER BY (locale = $1) DESC, locale
         LIMIT 1
       ) t ON true
 WHERE ($2 = '' OR c.is_active = ($2 = 'active'))
   AND ($3 = '' OR t.name ILIKE $4)
`
	args := []any{locale, q.Filter("active"), q.Search, likePattern(q.Search)}

	var total int
	if err := queryer.QueryRow(ctx, `SELECT count(*)`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", tt.terms, err)
	}

	rows, err := queryer.Query(ctx, `
SELECT c.id, COALESCE(t.name, ''), COALESCE(t.slug, ''), c.color, c.is_active,
       (SELECT count(*) FROM `+tt.pivot+` pv WHERE pv.`+tt.foreignKey+` = c.id) AS place_count,
       c.created_at`+where+`
 ORDER BY `+q.OrderBy+`, c.id DESC
 LIMIT $5 OFFSET $6
`, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", tt.terms, err)
	}
	defer rows.Close()

	items := make([]taxonomy.Row, 0, q.Limit)
	for rows.Next() {
		var row taxonomy.Row
		if err := rows.Scan(&row.ID, &row.Name, &row.Slug, &row.Color, &row.IsActive, &row.PlaceCount, &row.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan %s row: %w", kind, err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate %s: %w", tt.terms, err)
	}
	return items, total, nil
}

// ListActive returns active terms translated in locale, ordered by name.
func (r *TaxonomyRepository) ListActive(ctx context.Context, kind taxonomy.Kind, locale string) ([]taxonomy.Badge, error) {
	tt, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := r.queryer().Query(ctx, `
SELECT c.id, t.name, t.slug, c.color
  FROM `+tt.terms+` c
  JOIN `+tt.translations+` t ON t.`+tt.foreignKey+` = c.id AND t.locale = $1
 WHERE c.is_active
 ORDER BY t.name
`, locale)
	if err != nil {
		return nil, fmt.Errorf("list active %s: %w", tt.terms, err)
	}
	defer rows.Close()

	items := []taxonomy.Badge{}
	for rows.Next() {
		var b taxonomy.Badge
		if err := rows.Scan(&b.ID, &b.Name, &b.Slug, &b.Color); err != nil {
			return nil, fmt.Errorf("scan %s badge: %w", kind, err)
		}
		items = append(items, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s badges: %w", tt.terms, err)
	}
	return items, nil
}

func (r *TaxonomyRepository) Get(ctx context.Context, kind taxonomy.Kind, id int64) (*taxonomy.Term, error) {
	return loadTerm(ctx, r.queryer(), kind, id)
}

func loadTerm(ctx context.Context, q queryer, kind taxonomy.Kind, id int64) (*taxonomy.Term, error) {
	tt, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	term := taxonomy.Term{Kind: kind}
	err = q.QueryRow(ctx, `
SELECT id, color, is_active, created_at, updated_at
  FROM `+tt.terms+`
 WHERE id = $1
`, id).Scan(&term.ID, &term.Color, &term.IsActive, &term.CreatedAt, &term.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, taxonomy.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", kind, err)
	}

	rows, err := q.Query(ctx, `
SELECT locale, name, slug, description
  FROM `+tt.translations+`
 WHERE `+tt.foreignKey+` = $1
 ORDER BY locale
`, id)
	if err != nil {
		return nil, fmt.Errorf("query %s translations: %w", kind, err)
	}
	defer rows.Close()

	term.Translations = []taxonomy.Translation{}
	for rows.Next() {
		var t taxonomy.Translation
		if err := rows.Scan(&t.Locale, &t.Name, &t.Slug, &t.Description); err != nil {
			return nil, fmt.Errorf("scan %s translation: %w", kind, err)
		}
		term.Translations = append(term.Translations, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s translations: %w", kind, err)
	}
	return &term, nil
}

func (r *TaxonomyRepository) Create(ctx context.Context, kind taxonomy.Kind, in taxonomy.Input) (*taxonomy.Term, error) {
	tt, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	var term *taxonomy.Term
	err = runInTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		var id int64
		if err := tx.QueryRow(ctx, `
INSERT INTO `+tt.terms+` (color, is_active)
VALUES ($1, $2)
RETURNING id
`, in.Color, in.IsActive).Scan(&id); err != nil {
			return fmt.Errorf("insert %s: %w", kind, err)
		}
		if err := insertTermTranslations(ctx, tx, tt, id, in.Translations); err != nil {
			return err
		}
		term, err = loadTerm(ctx, tx, kind, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return term, nil
}

// Update replaces the term's color, active flag and full translation set.
func (r *TaxonomyRepository) Update(ctx context.Context, kind taxonomy.Kind, id int64, in taxonomy.Input) (*taxonomy.Term, error) {
	tt, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	var term *taxonomy.Term
	err = runInTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE `+tt.terms+`
   SET color = $2, is_active = $3, updated_at = now()
 WHERE id = $1
`, id, in.Color, in.IsActive)
		if err != nil {
			return fmt.Errorf("update %s: %w", kind, err)
		}
		if tag.RowsAffected() == 0 {
			return taxonomy.ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM `+tt.translations+` WHERE `+tt.foreignKey+` = $1`, id); err != nil {
			return fmt.Errorf("clear %s translations: %w", kind, err)
		}
		if err := insertTermTranslations(ctx, tx, tt, id, in.Translations); err != nil {
			return err
		}
		term, err = loadTerm(ctx, tx, kind, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return term, nil
}

func insertTermTranslations(ctx context.Context, q queryer, tt termTables, id int64, translations []taxonomy.TranslationInput) error {
	for _, t := range translations {
		_, err := q.Exec(ctx, `
INSERT INTO `+tt.translations+` (`+tt.foreignKey+`, locale, name, slug, description)
VALUES ($1, $2, $3, $4, $5)
`, id, t.Locale, t.Name, t.Slug, t.Description)
		if err != nil {
			if constraint, ok := uniqueConstraint(err); ok && constraint == tt.translations+"_locale_slug_key" {
				return taxonomy.ErrSlugTaken
			}
			return fmt.Errorf("insert %s translation %s: %w", tt.terms, t.Locale, err)
		}
	}
	return nil
}

// Delete detaches the term from every place, then removes it, in one
// transaction. Places themselves are untouched.
func (r *TaxonomyRepository) Delete(ctx context.Context, kind taxonomy.Kind, id int64) (int64, error) {
	tt, err := tablesFor(kind)
	if err != nil {
		return 0, err
	}
	var detached int64
	err = runInTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		var locked int64
		if err := tx.QueryRow(ctx, `SELECT id FROM `+tt.terms+` WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return taxonomy.ErrNotFound
			}
			return fmt.Errorf("lock %s: %w", kind, err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM `+tt.pivot+` WHERE `+tt.foreignKey+` = $1`, id)
		if err != nil {
			return fmt.Errorf("detach %s: %w", kind, err)
		}
		detached = tag.RowsAffected()
		if _, err := tx.Exec(ctx, `DELETE FROM `+tt.terms+` WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete %s: %w", kind, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return detached, nil
}

func (r *TaxonomyRepository) SetActive(ctx context.Context, kind taxonomy.Kind, id int64, active bool) error {
	tt, err := tablesFor(kind)
	if err != nil {
		return err
	}
	tag, err := r.queryer().Exec(ctx, `UPDATE `+tt.terms+` SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set %s active: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return taxonomy.ErrNotFound
	}
	return nil
}
