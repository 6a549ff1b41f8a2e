package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaceplaces/server/internal/config"
	"github.com/spaceplaces/server/internal/domain/places"
	"github.com/spaceplaces/server/internal/domain/requests"
	"github.com/spaceplaces/server/internal/domain/users"
	"github.com/spaceplaces/server/internal/email"
	"github.com/spaceplaces/server/internal/geocoding"
	"github.com/spaceplaces/server/internal/locale"
)

var jobsConfig = config.JobsConfig{Workers: 4, RetryEmail: 5, RetryGeocoding: 3, InvitationCleanup: time.Hour}

func TestRetryPolicy(t *testing.T) {
	policy := NewRetryPolicy(jobsConfig)

	assert.Equal(t, 5, policy.configFor(JobKindDecisionEmail).MaxAttempts)
	assert.Equal(t, 3, policy.configFor(JobKindReverseGeocode).MaxAttempts)
	assert.Equal(t, 1, policy.configFor(JobKindInvitationCleanup).MaxAttempts)
	assert.Equal(t, policy.Default, policy.configFor("unknown"))

	attempted := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	job := &rivertype.JobRow{Kind: JobKindDecisionEmail, Attempt: 3, AttemptedAt: &attempted}
	assert.Equal(t, attempted.Add(2*time.Minute), policy.NextRetry(job))

	job.Attempt = 20
	assert.Equal(t, attempted.Add(30*time.Minute), policy.NextRetry(job), "delay is capped")
}

func TestInsertOpts_Queues(t *testing.T) {
	policy := NewRetryPolicy(jobsConfig)
	assert.Equal(t, QueueEmail, policy.InsertOpts(JobKindInvitationEmail).Queue)
	assert.Equal(t, QueueGeocoding, policy.InsertOpts(JobKindReverseGeocode).Queue)
	assert.Equal(t, "", policy.InsertOpts(JobKindInvitationCleanup).Queue)
}

func TestNewClientConfig(t *testing.T) {
	cfg := NewClientConfig(jobsConfig, river.NewWorkers(), nil, nil)
	assert.Equal(t, 4, cfg.Queues[QueueEmail].MaxWorkers)
	assert.Equal(t, 1, cfg.Queues[QueueGeocoding].MaxWorkers)
	assert.Len(t, cfg.PeriodicJobs, 1)
}

type recordingInserter struct {
	args []river.JobArgs
	opts []*river.InsertOpts
	err  error
}

func (r *recordingInserter) Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	r.args = append(r.args, args)
	r.opts = append(r.opts, opts)
	return &rivertype.JobInsertResult{}, r.err
}

func TestEnqueuer(t *testing.T) {
	ins := &recordingInserter{}
	e := NewEnqueuer(ins, NewRetryPolicy(jobsConfig))
	ctx := context.Background()
	placeID := int64(12)

	require.NoError(t, e.EnqueueNewRequest(ctx, requests.NewRequestNotice{Kind: requests.KindPlace, RequestID: 7, Title: "CNES"}))
	require.NoError(t, e.EnqueueDecision(ctx, requests.Decision{Kind: requests.KindPlace, RequestID: 7, To: "a@example.org", Accepted: true, PlaceID: &placeID}))
	require.NoError(t, e.EnqueueReverseGeocode(ctx, placeID))
	require.NoError(t, e.EnqueueInvitation(ctx, users.InvitationEmail{To: "b@example.org"}))

	require.Len(t, ins.args, 4)
	assert.Equal(t, AdminNotificationArgs{RequestKind: "place", RequestID: 7, Title: "CNES"}, ins.args[0])
	decision := ins.args[1].(DecisionEmailArgs)
	assert.Equal(t, "place", decision.RequestKind)
	assert.Equal(t, JobKindDecisionEmail, decision.Kind())
	assert.Equal(t, int64(12), *decision.PlaceID)
	assert.Equal(t, ReverseGeocodeArgs{PlaceID: 12}, ins.args[2])
	assert.Equal(t, QueueGeocoding, ins.opts[2].Queue)
	assert.Equal(t, 5, ins.opts[3].MaxAttempts)

	ins.err = errors.New("pool closed")
	err := e.EnqueueReverseGeocode(ctx, 1)
	assert.ErrorContains(t, err, "enqueue reverse_geocode_place")
}

func TestEnqueuer_Attach(t *testing.T) {
	e := NewEnqueuer(nil, NewRetryPolicy(jobsConfig))
	err := e.EnqueueReverseGeocode(context.Background(), 3)
	require.ErrorIs(t, err, ErrNoClient)

	ins := &recordingInserter{}
	e.Attach(ins)
	require.NoError(t, e.EnqueueReverseGeocode(context.Background(), 3))
	assert.Len(t, ins.args, 1)
}

type fakeMailer struct {
	invitations []string
	notices     []email.NewRequestData
	decisions   []email.DecisionData
	err         error
}

func (m *fakeMailer) SendInvitation(ctx context.Context, to, link, invitedBy string, expiresAt time.Time) error {
	m.invitations = append(m.invitations, to)
	return m.err
}

func (m *fakeMailer) NotifyNewRequest(ctx context.Context, data email.NewRequestData) error {
	m.notices = append(m.notices, data)
	return m.err
}

func (m *fakeMailer) SendDecision(ctx context.Context, to string, data email.DecisionData) error {
	m.decisions = append(m.decisions, data)
	return m.err
}

type translationTable map[int64]string

func (t translationTable) FindPublishedTranslation(ctx context.Context, placeID int64, loc string) (*places.Translation, error) {
	if slug, ok := t[placeID]; ok {
		return &places.Translation{PlaceID: placeID, Locale: loc, Slug: slug}, nil
	}
	return nil, places.ErrNotFound
}

func TestAdminNotificationWorker(t *testing.T) {
	mailer := &fakeMailer{}
	w := AdminNotificationWorker{Mailer: mailer, BaseURL: "https://places.example.org/"}

	err := w.Work(context.Background(), &river.Job[AdminNotificationArgs]{JobRow: &rivertype.JobRow{}, Args: AdminNotificationArgs{RequestKind: "edit", RequestID: 3}})
	require.NoError(t, err)
	require.Len(t, mailer.notices, 1)
	assert.Equal(t, "https://places.example.org/api/v1/admin/edit-requests/3", mailer.notices[0].ReviewLink)

	mailer.err = errors.New("smtp down")
	err = w.Work(context.Background(), &river.Job[AdminNotificationArgs]{JobRow: &rivertype.JobRow{}, Args: AdminNotificationArgs{RequestKind: "edit", RequestID: 3}})
	assert.Error(t, err, "errors are returned so River retries")
}

func TestDecisionEmailWorker_LinksPublishedPlace(t *testing.T) {
	routes, err := locale.LoadRoutes([]string{"fr", "en"})
	require.NoError(t, err)
	mailer := &fakeMailer{}
	w := DecisionEmailWorker{Mailer: mailer, Translations: translationTable{12: "cite-de-l-espace"}, Routes: routes, BaseURL: "https://places.example.org"}

	published := int64(12)
	unpublished := int64(13)
	for _, placeID := range []*int64{&published, &unpublished} {
		job := &river.Job[DecisionEmailArgs]{JobRow: &rivertype.JobRow{}, Args: DecisionEmailArgs{To: "a@example.org", Locale: "fr", Accepted: true, PlaceID: placeID}}
		require.NoError(t, w.Work(context.Background(), job))
	}

	require.Len(t, mailer.decisions, 2)
	assert.Equal(t, "https://places.example.org/fr/lieux/cite-de-l-espace", mailer.decisions[0].PlaceLink)
	assert.Empty(t, mailer.decisions[1].PlaceLink)
}

func TestInvitationEmailWorker_CancelsExpired(t *testing.T) {
	mailer := &fakeMailer{}
	w := InvitationEmailWorker{Mailer: mailer}

	job := &river.Job[InvitationEmailArgs]{JobRow: &rivertype.JobRow{}, Args: InvitationEmailArgs{To: "a@example.org", ExpiresAt: time.Now().Add(-time.Minute)}}
	assert.Error(t, w.Work(context.Background(), job))
	assert.Empty(t, mailer.invitations)

	job.Args.ExpiresAt = time.Now().Add(time.Hour)
	require.NoError(t, w.Work(context.Background(), job))
	assert.Equal(t, []string{"a@example.org"}, mailer.invitations)
}

type placeStore struct {
	place   *places.Place
	address string
}

func (s *placeStore) GetByID(ctx context.Context, id int64) (*places.Place, error) {
	if s.place == nil {
		return nil, places.ErrNotFound
	}
	return s.place, nil
}

func (s *placeStore) SetAddress(ctx context.Context, id int64, address string) error {
	s.address = address
	return nil
}

type stubGeocoder struct {
	res *geocoding.Result
	err error
}

func (g stubGeocoder) Reverse(ctx context.Context, lat, lng float64, language string) (*geocoding.Result, error) {
	return g.res, g.err
}

func TestReverseGeocodeWorker(t *testing.T) {
	ctx := context.Background()
	job := &river.Job[ReverseGeocodeArgs]{JobRow: &rivertype.JobRow{Attempt: 1}, Args: ReverseGeocodeArgs{PlaceID: 5}}

	t.Run("fills missing address", func(t *testing.T) {
		store := &placeStore{place: &places.Place{ID: 5, Latitude: 43.58, Longitude: 1.49}}
		w := ReverseGeocodeWorker{Places: store, Geocoder: stubGeocoder{res: &geocoding.Result{DisplayName: "Avenue Jean Gonord, Toulouse"}}}
		require.NoError(t, w.Work(ctx, job))
		assert.Equal(t, "Avenue Jean Gonord, Toulouse", store.address)
	})

	t.Run("keeps existing address", func(t *testing.T) {
		store := &placeStore{place: &places.Place{ID: 5, Address: "Set by admin"}}
		w := ReverseGeocodeWorker{Places: store, Geocoder: stubGeocoder{err: errors.New("must not be called")}}
		require.NoError(t, w.Work(ctx, job))
		assert.Empty(t, store.address)
	})

	t.Run("no results is not an error", func(t *testing.T) {
		store := &placeStore{place: &places.Place{ID: 5}}
		w := ReverseGeocodeWorker{Places: store, Geocoder: stubGeocoder{err: geocoding.ErrNoResults}}
		require.NoError(t, w.Work(ctx, job))
	})

	t.Run("upstream failure retries", func(t *testing.T) {
		store := &placeStore{place: &places.Place{ID: 5}}
		w := ReverseGeocodeWorker{Places: store, Geocoder: stubGeocoder{err: geocoding.ErrUpstream}}
		assert.ErrorIs(t, w.Work(ctx, job), geocoding.ErrUpstream)
	})

	t.Run("deleted place cancels", func(t *testing.T) {
		w := ReverseGeocodeWorker{Places: &placeStore{}, Geocoder: stubGeocoder{}}
		assert.Error(t, w.Work(ctx, job))
	})
}

type cleaner struct{ n int64 }

func (c cleaner) CleanupExpiredInvitations(ctx context.Context) (int64, error) { return c.n, nil }

func TestNewWorkers(t *testing.T) {
	workers := NewWorkers(Deps{Mailer: &fakeMailer{}, Users: cleaner{}})
	assert.NotNil(t, workers)

	w := InvitationCleanupWorker{Users: cleaner{n: 2}}
	assert.NoError(t, w.Work(context.Background(), &river.Job[InvitationCleanupArgs]{JobRow: &rivertype.JobRow{}}))
}

type purger struct {
	calls int
	err   error
}

func (p *purger) PurgeExpired(ctx context.Context) (int64, error) {
	p.calls++
	return 3, p.err
}

func TestInvitationCleanupWorker_PurgesCache(t *testing.T) {
	job := &river.Job[InvitationCleanupArgs]{JobRow: &rivertype.JobRow{}}

	p := &purger{}
	w := InvitationCleanupWorker{Users: cleaner{n: 1}, Cache: p}
	require.NoError(t, w.Work(context.Background(), job))
	assert.Equal(t, 1, p.calls)

	w.Cache = &purger{err: errors.New("relation does not exist")}
	assert.Error(t, w.Work(context.Background(), job))
}
