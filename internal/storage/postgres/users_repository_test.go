package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spaceplaces/server/internal/domain/users"
	"github.com/spaceplaces/server/internal/listing"
)

func TestUserRepositoryUniqueness(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t)
	repo := NewUserRepository(pool)

	u := &users.User{Username: "ada", Email: "ada@example.org", PasswordHash: "hash", Role: "admin", IsActive: true}
	require.NoError(t, repo.Create(ctx, u))
	require.NotZero(t, u.ID)

	err := repo.Create(ctx, &users.User{Username: "ada", Email: "other@example.org", Role: "admin"})
	require.ErrorIs(t, err, users.ErrUsernameTaken)

	err = repo.Create(ctx, &users.User{Username: "grace", Email: "ADA@example.org", Role: "admin"})
	require.ErrorIs(t, err, users.ErrEmailTaken)

	got, err := repo.GetByUsername(ctx, "ada")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Nil(t, got.LastLoginAt)

	require.NoError(t, repo.TouchLastLogin(ctx, u.ID))
	require.NoError(t, repo.UpdateRole(ctx, u.ID, "super_admin"))
	got, err = repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLoginAt)
	require.Equal(t, "super_admin", got.Role)

	require.ErrorIs(t, repo.SetActive(ctx, 9999, false), users.ErrUserNotFound)
	_, err = repo.GetByUsername(ctx, "nobody")
	require.ErrorIs(t, err, users.ErrUserNotFound)
}

func TestUserRepositoryList(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t)
	repo := NewUserRepository(pool)

	require.NoError(t, repo.Create(ctx, &users.User{Username: "ada", Email: "ada@example.org", Role: "admin", IsActive: true}))
	require.NoError(t, repo.Create(ctx, &users.User{Username: "grace", Email: "grace@example.org", Role: "super_admin", IsActive: false}))

	q, err := listing.NewGuard().Query(listing.Admins, listing.Params{Filters: map[string]string{"active": "inactive"}})
	require.NoError(t, err)
	items, total, err := repo.List(ctx, q)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "grace", items[0].Username)

	q, err = listing.NewGuard().Query(listing.Admins, listing.Params{Sort: "last_login_at", Search: "ADA"})
	require.NoError(t, err)
	items, total, err = repo.List(ctx, q)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "ada", items[0].Username)
}

func TestUserRepositoryInvitations(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t)
	repo := NewUserRepository(pool)

	u := &users.User{Username: "ada", Email: "ada@example.org", Role: "admin"}
	require.NoError(t, repo.Create(ctx, u))

	inv := &users.Invitation{UserID: u.ID, TokenHash: "hash-1", Email: u.Email, ExpiresAt: time.Now().Add(72 * time.Hour)}
	require.NoError(t, repo.CreateInvitation(ctx, inv))

	err := repo.WithTx(ctx, func(tx users.Repository) error {
		got, err := tx.GetInvitationByTokenHash(ctx, "hash-1")
		if err != nil {
			return err
		}
		require.True(t, got.Usable(time.Now()))
		return tx.MarkInvitationAccepted(ctx, got.ID)
	})
	require.NoError(t, err)

	// Single use.
	require.ErrorIs(t, repo.MarkInvitationAccepted(ctx, inv.ID), users.ErrInvalidToken)
	got, err := repo.GetInvitationByTokenHash(ctx, "hash-1")
	require.NoError(t, err)
	require.False(t, got.Usable(time.Now()))

	_, err = repo.GetInvitationByTokenHash(ctx, "unknown")
	require.ErrorIs(t, err, users.ErrInvalidToken)
}

func TestUserRepositoryInvitationCleanup(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t)
	repo := NewUserRepository(pool)

	u := &users.User{Username: "ada", Email: "ada@example.org", Role: "admin"}
	require.NoError(t, repo.Create(ctx, u))
	fresh := &users.Invitation{UserID: u.ID, TokenHash: "fresh", Email: u.Email, ExpiresAt: time.Now().Add(time.Hour)}
	stale := &users.Invitation{UserID: u.ID, TokenHash: "stale", Email: u.Email, ExpiresAt: time.Now().Add(-48 * time.Hour)}
	require.NoError(t, repo.CreateInvitation(ctx, fresh))
	require.NoError(t, repo.CreateInvitation(ctx, stale))

	deleted, err := repo.DeleteExpiredInvitations(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	require.NoError(t, repo.InvalidateInvitations(ctx, u.ID))
	got, err := repo.GetInvitationByTokenHash(ctx, "fresh")
	require.NoError(t, err)
	require.False(t, got.Usable(time.Now().Add(time.Second)))
}
