package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spaceplaces/server/internal/domain/users"
	"github.com/spaceplaces/server/internal/listing"
)

var _ users.Repository = (*UserRepository)(nil)

type UserRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) queryer() queryer {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

func (r *UserRepository) WithTx(ctx context.Context, fn func(tx users.Repository) error) error {
	return runInTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		return fn(&UserRepository{pool: r.pool, tx: tx})
	})
}

const userColumns = `u.id, u.username, u.email, u.password_hash, u.role, u.is_active, u.last_login_at, u.created_at, u.updated_at`

func scanUser(row pgx.Row) (*users.User, error) {
	var u users.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) getBy(ctx context.Context, column string, value any) (*users.User, error) {
	u, err := scanUser(r.queryer().QueryRow(ctx, `SELECT `+userColumns+` FROM users u WHERE u.`+column+` = $1`, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, users.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by %s: %w", column, err)
	}
	return u, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*users.User, error) {
	return r.getBy(ctx, "id", id)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*users.User, error) {
	return r.getBy(ctx, "username", username)
}

func (r *UserRepository) List(ctx context.Context, q listing.Query) ([]users.User, int, error) {
	queryer := r.queryer()
	const where = `
  FROM users u
 WHERE ($1 = '' OR u.role = $1)
   AND ($2 = '' OR u.is_active = ($2 = 'active'))
   AND ($3 = '' OR u.username ILIKE $4 OR u.email ILIKE $4)
`
	args := []any{q.Filter("role"), q.Filter("active"), q.Search, likePattern(q.Search)}

	var total int
	if err := queryer.QueryRow(ctx, `SELECT count(*)`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	rows, err := queryer.Query(ctx, `SELECT `+userColumns+where+`
 ORDER BY `+q.OrderBy+` NULLS LAST, u.id DESC
 LIMIT $5 OFFSET $6
`, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]users.User, 0, q.Limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate users: %w", err)
	}
	return items, total, nil
}

func (r *UserRepository) Create(ctx context.Context, u *users.User) error {
	err := r.queryer().QueryRow(ctx, `
INSERT INTO users (username, email, password_hash, role, is_active)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at, updated_at
`, u.Username, u.Email, u.PasswordHash, u.Role, u.IsActive).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok {
			switch constraint {
			case "users_username_key":
				return users.ErrUsernameTaken
			case "users_email_key":
				return users.ErrEmailTaken
			}
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) update(ctx context.Context, action string, sql string, args ...any) error {
	tag, err := r.queryer().Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	if tag.RowsAffected() == 0 {
		return users.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) UpdateRole(ctx context.Context, id int64, role string) error {
	return r.update(ctx, "update role", `UPDATE users SET role = $2, updated_at = now() WHERE id = $1`, id, role)
}

func (r *UserRepository) SetActive(ctx context.Context, id int64, active bool) error {
	return r.update(ctx, "set active", `UPDATE users SET is_active = $2, updated_at = now() WHERE id = $1`, id, active)
}

func (r *UserRepository) SetPassword(ctx context.Context, id int64, hash string) error {
	return r.update(ctx, "set password", `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
}

func (r *UserRepository) TouchLastLogin(ctx context.Context, id int64) error {
	return r.update(ctx, "touch last login", `UPDATE users SET last_login_at = now() WHERE id = $1`, id)
}

func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	return r.update(ctx, "delete user", `DELETE FROM users WHERE id = $1`, id)
}

func (r *UserRepository) CreateInvitation(ctx context.Context, inv *users.Invitation) error {
	err := r.queryer().QueryRow(ctx, `
INSERT INTO admin_invitations (user_id, token_hash, email, expires_at, created_by)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at
`, inv.UserID, inv.TokenHash, inv.Email, inv.ExpiresAt, inv.CreatedBy).Scan(&inv.ID, &inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (r *UserRepository) InvalidateInvitations(ctx context.Context, userID int64) error {
	_, err := r.queryer().Exec(ctx, `
UPDATE admin_invitations
   SET expires_at = LEAST(expires_at, now())
 WHERE user_id = $1 AND accepted_at IS NULL
`, userID)
	if err != nil {
		return fmt.Errorf("invalidate invitations: %w", err)
	}
	return nil
}

func (r *UserRepository) GetInvitationByTokenHash(ctx context.Context, hash string) (*users.Invitation, error) {
	sql := `
SELECT id, user_id, token_hash, email, expires_at, accepted_at, created_by, created_at
  FROM admin_invitations
 WHERE token_hash = $1
`
	if r.tx != nil {
		sql += ` FOR UPDATE`
	}
	var inv users.Invitation
	err := r.queryer().QueryRow(ctx, sql, hash).Scan(
		&inv.ID, &inv.UserID, &inv.TokenHash, &inv.Email, &inv.ExpiresAt, &inv.AcceptedAt, &inv.CreatedBy, &inv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, users.ErrInvalidToken
		}
		return nil, fmt.Errorf("get invitation: %w", err)
	}
	return &inv, nil
}

func (r *UserRepository) MarkInvitationAccepted(ctx context.Context, id int64) error {
	tag, err := r.queryer().Exec(ctx, `
UPDATE admin_invitations SET accepted_at = now() WHERE id = $1 AND accepted_at IS NULL
`, id)
	if err != nil {
		return fmt.Errorf("accept invitation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return users.ErrInvalidToken
	}
	return nil
}

// DeleteExpiredInvitations removes unaccepted invitations that expired
// before the cutoff.
func (r *UserRepository) DeleteExpiredInvitations(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.queryer().Exec(ctx, `
DELETE FROM admin_invitations WHERE accepted_at IS NULL AND expires_at < $1
`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired invitations: %w", err)
	}
	return tag.RowsAffected(), nil
}
