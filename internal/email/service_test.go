package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaceplaces/server/internal/config"
)

type recordingSender struct {
	sent []Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func newTestService(t *testing.T, cfg config.EmailConfig) (*Service, *recordingSender) {
	t.Helper()
	sender := &recordingSender{}
	svc, err := NewServiceWithSender(cfg, sender, zerolog.Nop())
	require.NoError(t, err)
	return svc, sender
}

func TestSendInvitation(t *testing.T) {
	svc, sender := newTestService(t, config.EmailConfig{})

	err := svc.SendInvitation(context.Background(), "new.admin@example.org",
		"https://spaceplaces.example/admin/accept-invitation?token=abc", "root", time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "new.admin@example.org", sender.sent[0].To)
	assert.Contains(t, sender.sent[0].HTML, "token=abc")
	assert.Contains(t, sender.sent[0].HTML, "2026-01-02 03:04 UTC")
}

func TestSendInvitation_RejectsUnsafeLink(t *testing.T) {
	svc, sender := newTestService(t, config.EmailConfig{})

	err := svc.SendInvitation(context.Background(), "a@example.org", "javascript:alert(1)", "root", time.Now())
	require.Error(t, err)
	assert.Empty(t, sender.sent)
}

func TestNotifyNewRequest(t *testing.T) {
	svc, sender := newTestService(t, config.EmailConfig{})
	require.NoError(t, svc.NotifyNewRequest(context.Background(), NewRequestData{Kind: "place", RequestID: 7, ReviewLink: "https://x.example/admin"}))
	assert.Empty(t, sender.sent, "no admin address configured")

	svc, sender = newTestService(t, config.EmailConfig{AdminNotify: "moderation@example.org"})
	require.NoError(t, svc.NotifyNewRequest(context.Background(), NewRequestData{
		Kind:       "place",
		RequestID:  7,
		Title:      "Baïkonour",
		Language:   "fr",
		ReviewLink: "https://x.example/admin/place-requests/7",
	}))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "New place request #7", sender.sent[0].Subject)
	assert.Contains(t, sender.sent[0].HTML, "Baïkonour")
}

func TestSendDecision_LocalizedAndEscaped(t *testing.T) {
	svc, sender := newTestService(t, config.EmailConfig{})

	require.NoError(t, svc.SendDecision(context.Background(), "citizen@example.org", DecisionData{
		Locale: "fr",
		Title:  "<b>Kourou</b>",
		Reason: "duplicate entry",
	}))
	require.NoError(t, svc.SendDecision(context.Background(), "citizen@example.org", DecisionData{
		Locale:    "de",
		Accepted:  true,
		Title:     "Kourou",
		PlaceLink: "https://x.example/en/places/kourou",
	}))

	require.Len(t, sender.sent, 2)
	assert.Equal(t, "Votre proposition n'a pas été retenue", sender.sent[0].Subject)
	assert.Contains(t, sender.sent[0].HTML, "duplicate entry")
	assert.NotContains(t, sender.sent[0].HTML, "<b>Kourou</b>")
	assert.Equal(t, "Your submission was accepted", sender.sent[1].Subject)
}

func TestDeliver_RecipientValidationAndSenderErrors(t *testing.T) {
	svc, _ := newTestService(t, config.EmailConfig{})
	err := svc.SendDecision(context.Background(), "not-an-email", DecisionData{Locale: "en"})
	require.Error(t, err)

	sender := &recordingSender{err: errors.New("boom")}
	svc, err = NewServiceWithSender(config.EmailConfig{}, sender, zerolog.Nop())
	require.NoError(t, err)
	err = svc.SendDecision(context.Background(), "a@example.org", DecisionData{Locale: "en"})
	require.ErrorContains(t, err, "boom")
}

func TestNewService_ProviderSelection(t *testing.T) {
	_, err := NewService(config.EmailConfig{Enabled: true, Provider: "resend", From: "noreply@example.org"}, zerolog.Nop())
	require.Error(t, err, "missing api key")

	_, err = NewService(config.EmailConfig{Enabled: true, Provider: "carrier-pigeon", From: "noreply@example.org"}, zerolog.Nop())
	require.Error(t, err)

	svc, err := NewService(config.EmailConfig{Enabled: true, Provider: "smtp", From: "noreply@example.org", SMTPHost: "localhost", SMTPPort: 2525}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &SMTPSender{}, svc.sender)

	svc, err = NewService(config.EmailConfig{}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, logSender{}, svc.sender)
}

func TestResendSender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req resend.SendEmailRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "noreply@example.org", req.From)
		assert.Equal(t, []string{"a@example.org"}, req.To)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "email-1"})
	}))
	defer srv.Close()

	sender := NewResendSender("test-key", "noreply@example.org", zerolog.Nop())
	base, _ := url.Parse(srv.URL)
	sender.client.BaseURL = base

	require.NoError(t, sender.Send(context.Background(), Message{To: "a@example.org", Subject: "s", HTML: "<p>x</p>"}))
}

func TestResendSender_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("ratelimit-limit", "2")
		w.Header().Set("ratelimit-remaining", "0")
		w.Header().Set("ratelimit-reset", "1")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Too many requests"})
	}))
	defer srv.Close()

	sender := NewResendSender("test-key", "noreply@example.org", zerolog.Nop())
	base, _ := url.Parse(srv.URL)
	sender.client.BaseURL = base

	err := sender.Send(context.Background(), Message{To: "a@example.org", Subject: "s", HTML: "x"})
	require.Error(t, err)
}
