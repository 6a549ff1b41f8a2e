package requests

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/spaceplaces/server/internal/domain/places"
	"github.com/spaceplaces/server/internal/listing"
	"github.com/spaceplaces/server/internal/validation"
)

// memRepo keeps requests in memory. Transactions snapshot the state and
// restore it when fn fails.
type memRepo struct {
	place       map[int64]*PlaceRequest
	edit        map[int64]*EditRequest
	created     []*places.Place
	nextID      int64
	failCreate  bool
	failInserts bool
}

func newMemRepo() *memRepo {
	return &memRepo{place: map[int64]*PlaceRequest{}, edit: map[int64]*EditRequest{}, nextID: 1}
}

func (r *memRepo) moderation(kind Kind, id int64) (*Moderation, error) {
	switch kind {
	case KindPlace:
		if req, ok := r.place[id]; ok {
			return &req.Moderation, nil
		}
	case KindEdit:
		if req, ok := r.edit[id]; ok {
			return &req.Moderation, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memRepo) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	snapshot := make(map[int64]PlaceRequest, len(r.place))
	for id, req := range r.place {
		snapshot[id] = *req
	}
	editSnapshot := make(map[int64]EditRequest, len(r.edit))
	for id, req := range r.edit {
		editSnapshot[id] = *req
	}
	created := len(r.created)
	if err := fn(r); err != nil {
		for id, req := range snapshot {
			req := req
			r.place[id] = &req
		}
		for id, req := range editSnapshot {
			req := req
			r.edit[id] = &req
		}
		r.created = r.created[:created]
		return err
	}
	return nil
}

func (r *memRepo) LockModeration(ctx context.Context, kind Kind, id int64) (Moderation, error) {
	return r.GetModeration(ctx, kind, id)
}

func (r *memRepo) GetModeration(ctx context.Context, kind Kind, id int64) (Moderation, error) {
	m, err := r.moderation(kind, id)
	if err != nil {
		return Moderation{}, err
	}
	return *m, nil
}

func (r *memRepo) MarkViewed(ctx context.Context, kind Kind, id, adminID int64) (bool, error) {
	m, err := r.moderation(kind, id)
	if err != nil {
		return false, nil
	}
	if m.ViewedByAdminID != nil || !CanBeViewed(m.Status) {
		return false, nil
	}
	m.ViewedByAdminID = &adminID
	m.Status = StatusPending
	return true, nil
}

func (r *memRepo) SetRefused(ctx context.Context, kind Kind, id, adminID int64, reason string) error {
	m, err := r.moderation(kind, id)
	if err != nil {
		return err
	}
	m.Status, m.ProcessedByAdminID, m.AdminReason = StatusRefused, &adminID, reason
	return nil
}

func (r *memRepo) SetAccepted(ctx context.Context, kind Kind, id, adminID int64) error {
	m, err := r.moderation(kind, id)
	if err != nil {
		return err
	}
	m.Status, m.ProcessedByAdminID = StatusAccepted, &adminID
	return nil
}

func (r *memRepo) GetPlaceRequest(ctx context.Context, id int64) (*PlaceRequest, error) {
	req, ok := r.place[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (r *memRepo) ListPlaceRequests(ctx context.Context, q listing.Query) ([]PlaceRequest, int, error) {
	var out []PlaceRequest
	for _, req := range r.place {
		out = append(out, *req)
	}
	return out, len(out), nil
}

func (r *memRepo) CreatePlaceRequest(ctx context.Context, req *PlaceRequest) error {
	if r.failInserts {
		return errors.New("connection reset")
	}
	req.ID = r.nextID
	r.nextID++
	cp := *req
	r.place[req.ID] = &cp
	return nil
}

func (r *memRepo) GetEditRequest(ctx context.Context, id int64) (*EditRequest, error) {
	req, ok := r.edit[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (r *memRepo) ListEditRequests(ctx context.Context, q listing.Query) ([]EditRequest, int, error) {
	var out []EditRequest
	for _, req := range r.edit {
		out = append(out, *req)
	}
	return out, len(out), nil
}

func (r *memRepo) CreateEditRequest(ctx context.Context, req *EditRequest) error {
	if req.PlaceID != nil && *req.PlaceID == 404 {
		return ErrPlaceNotFound
	}
	req.ID = r.nextID
	r.nextID++
	cp := *req
	r.edit[req.ID] = &cp
	return nil
}

func (r *memRepo) CreatePlace(ctx context.Context, params places.CreateParams) (*places.Place, error) {
	if r.failCreate {
		return nil, errors.New("insert place: deadlock detected")
	}
	p := &places.Place{
		ID:         int64(100 + len(r.created)),
		Latitude:   params.Latitude,
		Longitude:  params.Longitude,
		Address:    params.Address,
		AdminID:    params.AdminID,
		IsFeatured: params.IsFeatured,
		RequestID:  params.RequestID,
	}
	for _, t := range params.Translations {
		p.Translations = append(p.Translations, places.Translation{Locale: t.Locale, Title: t.Title, Slug: t.Slug, Status: t.Status})
	}
	for _, ph := range params.Photos {
		p.Photos = append(p.Photos, places.Photo{StorageKey: ph.StorageKey, IsMain: ph.IsMain})
	}
	r.created = append(r.created, p)
	return p, nil
}

type passthroughPlaces struct {
	mock.Mock
}

func (p *passthroughPlaces) PrepareTranslations(ctx context.Context, inputs []places.TranslationInput, placeID int64) ([]places.TranslationInput, error) {
	return inputs, nil
}

func (p *passthroughPlaces) Update(ctx context.Context, id int64, params places.UpdateParams) (*places.Place, error) {
	args := p.Called(id, params)
	return nil, args.Error(0)
}

type stubCaptcha struct{ err error }

func (c stubCaptcha) Verify(ctx context.Context, token, remoteIP string) error { return c.err }

type stubDetector struct {
	lang string
	err  error
}

func (d stubDetector) Detect(ctx context.Context, text string) (string, error) { return d.lang, d.err }

type recordingJobs struct {
	notices   []NewRequestNotice
	decisions []Decision
	geocodes  []int64
}

func (j *recordingJobs) EnqueueNewRequest(ctx context.Context, n NewRequestNotice) error {
	j.notices = append(j.notices, n)
	return nil
}

func (j *recordingJobs) EnqueueDecision(ctx context.Context, d Decision) error {
	j.decisions = append(j.decisions, d)
	return nil
}

func (j *recordingJobs) EnqueueReverseGeocode(ctx context.Context, placeID int64) error {
	j.geocodes = append(j.geocodes, placeID)
	return nil
}

type fixture struct {
	repo   *memRepo
	jobs   *recordingJobs
	places *passthroughPlaces
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{repo: newMemRepo(), jobs: &recordingJobs{}, places: &passthroughPlaces{}}
	f.svc = NewService(Deps{
		Repo:     f.repo,
		Places:   f.places,
		Captcha:  stubCaptcha{},
		Detector: stubDetector{lang: "fr"},
		Jobs:     f.jobs,
		Locales:  []string{"fr", "en"},
		Logger:   zerolog.Nop(),
	})
	return f
}

func (f *fixture) seedPlaceRequest(id int64, status Status) {
	f.repo.place[id] = &PlaceRequest{
		ID:           id,
		Title:        "Centre spatial guyanais",
		Slug:         "centre-spatial-guyanais",
		Description:  "<p>Base de lancement</p>",
		Latitude:     5.236,
		Longitude:    -52.768,
		ContactEmail: "visitor@example.org",
		Locale:       "fr",
		Moderation:   Moderation{Status: status},
	}
	if id >= f.repo.nextID {
		f.repo.nextID = id + 1
	}
}

func TestMarkViewed_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPlaceRequest(3, StatusSubmitted)

	require.NoError(t, f.svc.MarkViewed(ctx, KindPlace, 3, 1))
	require.NoError(t, f.svc.MarkViewed(ctx, KindPlace, 3, 2))

	req, err := f.svc.GetPlaceRequest(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	require.NotNil(t, req.ViewedByAdminID)
	assert.Equal(t, int64(1), *req.ViewedByAdminID, "first viewer is kept")
}

func TestMarkViewed_UnknownRequest(t *testing.T) {
	f := newFixture(t)
	err := f.svc.MarkViewed(context.Background(), KindPlace, 99, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkViewed_ProcessedRequestUnchanged(t *testing.T) {
	f := newFixture(t)
	f.seedPlaceRequest(4, StatusAccepted)

	require.NoError(t, f.svc.MarkViewed(context.Background(), KindPlace, 4, 1))
	assert.Equal(t, StatusAccepted, f.repo.place[4].Status)
	assert.Nil(t, f.repo.place[4].ViewedByAdminID)
}

func TestRefuseThenAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPlaceRequest(7, StatusPending)

	require.NoError(t, f.svc.RefusePlaceRequest(ctx, 7, 1, "  duplicate entry "))
	req := f.repo.place[7]
	assert.Equal(t, StatusRefused, req.Status)
	assert.Equal(t, "duplicate entry", req.AdminReason)

	place, err := f.svc.AcceptPlaceRequest(ctx, 7, 2, AcceptInput{})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, f.repo.place[7].Status)
	require.NotNil(t, place.RequestID)
	assert.Equal(t, int64(7), *place.RequestID)

	require.Len(t, f.jobs.decisions, 2)
	assert.False(t, f.jobs.decisions[0].Accepted)
	assert.Equal(t, "duplicate entry", f.jobs.decisions[0].Reason)
	assert.True(t, f.jobs.decisions[1].Accepted)
	require.NotNil(t, f.jobs.decisions[1].PlaceID)
	assert.Equal(t, place.ID, *f.jobs.decisions[1].PlaceID)
}

func TestAccept_CreatesPlaceFromRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPlaceRequest(8, StatusSubmitted)
	f.repo.place[8].DetectedLanguage = "en"
	f.repo.place[8].Photos = []StagedPhoto{{StorageKey: "a.jpg"}, {StorageKey: "b.jpg"}}

	place, err := f.svc.AcceptPlaceRequest(ctx, 8, 1, AcceptInput{IsFeatured: true})
	require.NoError(t, err)

	require.Len(t, f.repo.created, 1)
	assert.Equal(t, int64(8), *place.RequestID)
	assert.True(t, place.IsFeatured)
	require.Len(t, place.Translations, 1)
	assert.Equal(t, "en", place.Translations[0].Locale)
	assert.Equal(t, places.StatusPublished, place.Translations[0].Status)
	require.Len(t, place.Photos, 2)
	assert.True(t, place.Photos[0].IsMain)
	assert.False(t, place.Photos[1].IsMain)

	assert.Equal(t, []int64{place.ID}, f.jobs.geocodes, "empty address schedules reverse geocoding")
}

func TestAccept_AcceptedRequestIsForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPlaceRequest(9, StatusAccepted)

	_, err := f.svc.AcceptPlaceRequest(ctx, 9, 1, AcceptInput{})
	assert.ErrorIs(t, err, ErrForbiddenTransition)
	assert.Empty(t, f.repo.created)
	assert.Empty(t, f.jobs.decisions)
}

func TestAccept_RollsBackWhenPlaceInsertFails(t *testing.T) {
	f := newFixture(t)
	f.seedPlaceRequest(10, StatusPending)
	f.repo.failCreate = true

	_, err := f.svc.AcceptPlaceRequest(context.Background(), 10, 1, AcceptInput{})
	require.Error(t, err)
	assert.Equal(t, StatusPending, f.repo.place[10].Status)
	assert.Empty(t, f.repo.created)
}

func TestAccept_AutoTranslateFailureKeepsPlace(t *testing.T) {
	f := newFixture(t)
	f.svc.translator = failingTranslator{}
	f.seedPlaceRequest(11, StatusPending)

	place, err := f.svc.AcceptPlaceRequest(context.Background(), 11, 1, AcceptInput{AutoTranslate: true})
	require.NoError(t, err)
	assert.NotNil(t, place)
	f.places.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

type failingTranslator struct{}

func (failingTranslator) Translate(ctx context.Context, text, src, tgt string) (string, error) {
	return "", errors.New("quota exceeded")
}

func TestRefuse_Guards(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		reason string
		want   error
	}{
		{"accepted cannot be refused", StatusAccepted, "late", ErrForbiddenTransition},
		{"refused twice", StatusRefused, "again", ErrForbiddenTransition},
		{"unknown request", "", "x", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.status != "" {
				f.seedPlaceRequest(5, tt.status)
			}
			err := f.svc.Refuse(context.Background(), KindPlace, 5, 1, tt.reason)
			assert.ErrorIs(t, err, tt.want)
			if tt.status != "" {
				assert.Equal(t, tt.status, f.repo.place[5].Status)
			}
		})
	}
}

func TestRefuse_RequiresReason(t *testing.T) {
	f := newFixture(t)
	f.seedPlaceRequest(6, StatusSubmitted)

	err := f.svc.Refuse(context.Background(), KindPlace, 6, 1, "   ")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "reason", verr.Field)
	assert.Equal(t, "validation.required", verr.Rule.Key())
	assert.Equal(t, StatusSubmitted, f.repo.place[6].Status)
}

func TestEditRequest_Moderation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	placeID := int64(3)
	f.repo.edit[20] = &EditRequest{ID: 20, PlaceID: &placeID, PlaceTitle: "Kourou", ContactEmail: "a@example.org", Locale: "en", Moderation: Moderation{Status: StatusSubmitted}}

	got, err := f.svc.ViewEditRequest(ctx, 20, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)

	require.NoError(t, f.svc.AcceptEditRequest(ctx, 20, 1))
	assert.ErrorIs(t, f.svc.RefuseEditRequest(ctx, 20, 1, "too late"), ErrForbiddenTransition)

	require.Len(t, f.jobs.decisions, 1)
	assert.Equal(t, "Kourou", f.jobs.decisions[0].Title)
	assert.Equal(t, int64(3), *f.jobs.decisions[0].PlaceID)
}

func TestEditRequest_ModerationAfterPlaceDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.edit[21] = &EditRequest{ID: 21, ContactEmail: "a@example.org", Locale: "fr", Moderation: Moderation{Status: StatusPending}}

	require.NoError(t, f.svc.RefuseEditRequest(ctx, 21, 1, "Le lieu n'existe plus"))

	require.Len(t, f.jobs.decisions, 1)
	assert.Nil(t, f.jobs.decisions[0].PlaceID)
	assert.Equal(t, StatusRefused, f.repo.edit[21].Status)
}

func validPlaceInput() SubmitPlaceInput {
	return SubmitPlaceInput{
		Title:        "Baïkonour <b>cosmodrome</b>",
		Description:  "<p>Launch site</p><script>alert(1)</script>",
		Latitude:     45.92,
		Longitude:    63.34,
		ContactEmail: "visitor@example.org",
		Locale:       "en",
	}
}

func TestSubmitPlaceRequest(t *testing.T) {
	f := newFixture(t)

	req, err := f.svc.SubmitPlaceRequest(context.Background(), validPlaceInput())
	require.NoError(t, err)

	assert.Equal(t, StatusSubmitted, req.Status)
	assert.Equal(t, "Baïkonour cosmodrome", req.Title)
	assert.Equal(t, "baikonour-cosmodrome", req.Slug)
	assert.NotContains(t, req.Description, "script")
	assert.Equal(t, "fr", req.DetectedLanguage)

	require.Len(t, f.jobs.notices, 1)
	assert.Equal(t, req.ID, f.jobs.notices[0].RequestID)
	assert.Equal(t, KindPlace, f.jobs.notices[0].Kind)
}

func TestSubmitPlaceRequest_DetectionFallsBackToLocale(t *testing.T) {
	f := newFixture(t)
	f.svc.detector = stubDetector{err: errors.New("timeout")}

	req, err := f.svc.SubmitPlaceRequest(context.Background(), validPlaceInput())
	require.NoError(t, err)
	assert.Equal(t, "en", req.DetectedLanguage)
}

func TestSubmitPlaceRequest_CaptchaFailsClosed(t *testing.T) {
	f := newFixture(t)
	captchaErr := errors.New("captcha rejected")
	f.svc.captcha = stubCaptcha{err: captchaErr}

	_, err := f.svc.SubmitPlaceRequest(context.Background(), validPlaceInput())
	assert.ErrorIs(t, err, captchaErr)
	assert.Empty(t, f.repo.place)
	assert.Empty(t, f.jobs.notices)
}

func TestSubmitPlaceRequest_Validation(t *testing.T) {
	f := newFixture(t)
	in := validPlaceInput()
	in.ContactEmail = "not-an-email"
	in.Latitude = 91

	_, err := f.svc.SubmitPlaceRequest(context.Background(), in)
	var ferrs validation.FieldErrors
	require.ErrorAs(t, err, &ferrs)
	assert.Contains(t, ferrs, "contact_email")
	assert.Contains(t, ferrs, "lat")
}

func TestSubmitEditRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := SubmitEditInput{
		PlaceID:          3,
		Type:             EditModification,
		ContactEmail:     "visitor@example.org",
		Message:          "The address moved",
		SuggestedChanges: map[string]string{"address": "Route de l'Espace"},
		Locale:           "fr",
	}

	req, err := f.svc.SubmitEditRequest(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "Route de l'Espace", req.SuggestedChanges["address"])

	in.SuggestedChanges = map[string]string{"admin_id": "1"}
	_, err = f.svc.SubmitEditRequest(ctx, in)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "validation.immutable", verr.Rule.Key())
	assert.Equal(t, "cannot be changed", verr.Message)

	in.SuggestedChanges = nil
	in.PlaceID = 404
	_, err = f.svc.SubmitEditRequest(ctx, in)
	assert.ErrorIs(t, err, ErrPlaceNotFound)
}
