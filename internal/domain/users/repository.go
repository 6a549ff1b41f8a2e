package users

import (
	"context"
	"time"

	"github.com/spaceplaces/server/internal/listing"
)

// User is a back-office account. Visitors never have one.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	IsActive     bool       `json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Invitation is a single-use, time-boxed activation link. Only the SHA-256
// hash of the token is stored.
type Invitation struct {
	ID         int64
	UserID     int64
	TokenHash  string
	Email      string
	ExpiresAt  time.Time
	AcceptedAt *time.Time
	CreatedBy  *int64
	CreatedAt  time.Time
}

// Usable reports whether the invitation can still activate an account.
func (i *Invitation) Usable(now time.Time) bool {
	return i.AcceptedAt == nil && now.Before(i.ExpiresAt)
}

type Repository interface {
	WithTx(ctx context.Context, fn func(tx Repository) error) error

	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context, q listing.Query) ([]User, int, error)
	// Create inserts u and sets its ID. Unique violations map to
	// ErrUsernameTaken or ErrEmailTaken.
	Create(ctx context.Context, u *User) error
	UpdateRole(ctx context.Context, id int64, role string) error
	SetActive(ctx context.Context, id int64, active bool) error
	SetPassword(ctx context.Context, id int64, hash string) error
	TouchLastLogin(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error

	CreateInvitation(ctx context.Context, inv *Invitation) error
	// InvalidateInvitations expires every pending invitation of the user.
	InvalidateInvitations(ctx context.Context, userID int64) error
	// GetInvitationByTokenHash returns ErrInvalidToken when no row matches and
	// locks the row when called inside WithTx.
	GetInvitationByTokenHash(ctx context.Context, hash string) (*Invitation, error)
	MarkInvitationAccepted(ctx context.Context, id int64) error
	DeleteExpiredInvitations(ctx context.Context, before time.Time) (int64, error)
}
