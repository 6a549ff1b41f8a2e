package postgres

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/spaceplaces/server/internal/domain/requests"
	"github.com/spaceplaces/server/internal/listing"
)

func newRequestsService(t *testing.T, repo *RequestRepository, placeRepo *PlaceRepository) *requests.Service {
	t.Helper()
	return requests.NewService(requests.Deps{
		Repo:    repo,
		Places:  newPlacesService(placeRepo),
		Locales: []string{"fr", "en"},
		Logger:  zerolog.Nop(),
	})
}

func insertPlaceRequests(t *testing.T, ctx context.Context, repo *RequestRepository, n int) []*requests.PlaceRequest {
	t.Helper()
	var out []*requests.PlaceRequest
	for i := 1; i <= n; i++ {
		req := &requests.PlaceRequest{
			Title:        fmt.Sprintf("Proposition %d", i),
			Slug:         fmt.Sprintf("proposition-%d", i),
			Description:  "Un pas de tir",
			Latitude:     5.23,
			Longitude:    -52.77,
			ContactEmail: "citizen@example.org",
			Locale:       "fr",
			Photos:       []requests.StagedPhoto{{StorageKey: fmt.Sprintf("req-%d.jpg", i), MIMEType: "image/jpeg", SizeBytes: 100}},
		}
		require.NoError(t, repo.CreatePlaceRequest(ctx, req))
		out = append(out, req)
	}
	return out
}

func TestRequestRefuseThenAcceptSeven(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t)
	repo := NewRequestRepository(pool)
	placeRepo := NewPlaceRepository(pool)
	svc := newRequestsService(t, repo, placeRepo)
	admin := insertAdmin(t, ctx, pool, "moderator")

	created := insertPlaceRequests(t, ctx, repo, 7)
	require.Equal(t, int64(7), created[6].ID)
	require.Equal(t, requests.StatusSubmitted, created[6].Status)

	require.NoError(t, svc.RefusePlaceRequest(ctx, 7, admin, "duplicate entry"))
	req, err := repo.GetPlaceRequest(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, requests.StatusRefused, req.Status)
	require.Equal(t, "duplicate entry", req.AdminReason)
	require.Equal(t, admin, *req.ProcessedByAdminID)
	require.NotNil(t, req.ProcessedAt)

	// A refused request cannot be refused again.
	err = svc.RefusePlaceRequest(ctx, 7, admin, "again")
	require.ErrorIs(t, err, requests.ErrForbiddenTransition)

	place, err := svc.AcceptPlaceRequest(ctx, 7, admin, requests.AcceptInput{})
	require.NoError(t, err)
	require.NotNil(t, place.RequestID)
	require.Equal(t, int64(7), *place.RequestID)
	require.Len(t, place.Photos, 1)
	require.True(t, place.Photos[0].IsMain)

	req, err = repo.GetPlaceRequest(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, requests.StatusAccepted, req.Status)
	require.Equal(t, place.ID, *req.PlaceID)

	// Accepted requests stay accepted.
	_, err = svc.AcceptPlaceRequest(ctx, 7, admin, requests.AcceptInput{})
	require.ErrorIs(t, err, requests.ErrForbiddenTransition)
	err = svc.RefusePlaceRequest(ctx, 7, admin, "too late")
	require.ErrorIs(t, err, requests.ErrForbiddenTransition)

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM places WHERE request_id = 7`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestRequestMarkViewedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t)
	repo := NewRequestRepository(pool)
	first := insertAdmin(t, ctx, pool, "first")
	second := insertAdmin(t, ctx, pool, "second")
	insertPlaceRequests(t, ctx, repo, 1)

	changed, err := repo.MarkViewed(ctx, requests.KindPlace, 1, first)
	require.NoError(t, err)
	require.True(t, changed)
	before, err := repo.GetModeration(ctx, requests.KindPlace, 1)
	require.NoError(t, err)
	require.Equal(t, requests.StatusPending, before.Status)

	changed, err = repo.MarkViewed(ctx, requests.KindPlace, 1, second)
	require.NoError(t, err)
	require.False(t, changed)
	after, err := repo.GetModeration(ctx, requests.KindPlace, 1)
	require.NoError(t, err)
	require.Equal(t, first, *after.ViewedByAdminID)
	require.True(t, before.ViewedAt.Equal(*after.ViewedAt))

	_, err = repo.GetModeration(ctx, requests.KindPlace, 99)
	require.ErrorIs(t, err, requests.ErrNotFound)
}

func TestRequestLockModerationNeedsTransaction(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t)
	repo := NewRequestRepository(pool)
	insertPlaceRequests(t, ctx, repo, 1)

	_, err := repo.LockModeration(ctx, requests.KindPlace, 1)
	require.Error(t, err)

	err = repo.WithTx(ctx, func(tx requests.Repository) error {
		mod, err := tx.LockModeration(ctx, requests.KindPlace, 1)
		require.NoError(t, err)
		require.Equal(t, requests.StatusSubmitted, mod.Status)
		return nil
	})
	require.NoError(t, err)
}

func TestEditRequestRepository(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t)
	repo := NewRequestRepository(pool)
	placeRepo := NewPlaceRepository(pool)
	place := insertPublishedPlace(t, ctx, placeRepo, "Observatoire", 45, 1)

	req := &requests.EditRequest{
		PlaceID:          &place.ID,
		Type:             requests.EditModification,
		ContactEmail:     "citizen@example.org",
		Message:          "Horaires faux",
		SuggestedChanges: map[string]string{"practical_info": "Ouvert le dimanche"},
		Locale:           "fr",
	}
	require.NoError(t, repo.CreateEditRequest(ctx, req))
	require.Equal(t, requests.StatusSubmitted, req.Status)

	got, err := repo.GetEditRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, "Observatoire", got.PlaceTitle)
	require.Equal(t, "Ouvert le dimanche", got.SuggestedChanges["practical_info"])

	unknown := int64(9999)
	missing := &requests.EditRequest{PlaceID: &unknown, Type: requests.EditReport, ContactEmail: "a@b.c", Locale: "fr"}
	require.ErrorIs(t, repo.CreateEditRequest(ctx, missing), requests.ErrPlaceNotFound)

	q, err := listing.NewGuard().Query(listing.EditRequests, listing.Params{Filters: map[string]string{"type": "modification", "status": "submitted"}})
	require.NoError(t, err)
	items, total, err := repo.ListEditRequests(ctx, q)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, items, 1)

	require.NoError(t, placeRepo.Delete(ctx, place.ID))
	kept, err := repo.GetEditRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Nil(t, kept.PlaceID)
	require.Empty(t, kept.PlaceTitle)
	require.Equal(t, requests.StatusSubmitted, kept.Status)
	require.Equal(t, "Horaires faux", kept.Message)
}
