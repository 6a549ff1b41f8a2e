package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/riverqueue/river"

	"github.com/spaceplaces/server/internal/domain/places"
	"github.com/spaceplaces/server/internal/email"
	"github.com/spaceplaces/server/internal/locale"
)

// Mailer is the part of the email service used by workers.
type Mailer interface {
	SendInvitation(ctx context.Context, to, inviteLink, invitedBy string, expiresAt time.Time) error
	NotifyNewRequest(ctx context.Context, data email.NewRequestData) error
	SendDecision(ctx context.Context, to string, data email.DecisionData) error
}

// TranslationLookup finds the published translation used to link a place.
type TranslationLookup interface {
	FindPublishedTranslation(ctx context.Context, placeID int64, locale string) (*places.Translation, error)
}

type AdminNotificationArgs struct {
	RequestKind string `json:"kind"`
	RequestID   int64  `json:"request_id"`
	Title       string `json:"title"`
	Language    string `json:"language"`
}

func (AdminNotificationArgs) Kind() string { return JobKindAdminNotification }

type AdminNotificationWorker struct {
	river.WorkerDefaults[AdminNotificationArgs]
	Mailer  Mailer
	BaseURL string
	Logger  *slog.Logger
}

func (w AdminNotificationWorker) Work(ctx context.Context, job *river.Job[AdminNotificationArgs]) error {
	args := job.Args
	link := fmt.Sprintf("%s/api/v1/admin/%s-requests/%d", strings.TrimRight(w.BaseURL, "/"), args.RequestKind, args.RequestID)
	err := w.Mailer.NotifyNewRequest(ctx, email.NewRequestData{
		Kind:       args.RequestKind,
		RequestID:  args.RequestID,
		Title:      args.Title,
		Language:   args.Language,
		ReviewLink: link,
	})
	if err != nil {
		return fmt.Errorf("notify admins of %s request %d: %w", args.RequestKind, args.RequestID, err)
	}
	return nil
}

type DecisionEmailArgs struct {
	RequestKind string `json:"kind"`
	RequestID   int64  `json:"request_id"`
	To          string `json:"to"`
	Locale      string `json:"locale"`
	Accepted    bool   `json:"accepted"`
	Title       string `json:"title"`
	Reason      string `json:"reason,omitempty"`
	PlaceID     *int64 `json:"place_id,omitempty"`
}

func (DecisionEmailArgs) Kind() string { return JobKindDecisionEmail }

// DecisionEmailWorker tells a requester the outcome of moderation. Accepted
// requests link to the place when it is published in the requester's locale.
type DecisionEmailWorker struct {
	river.WorkerDefaults[DecisionEmailArgs]
	Mailer       Mailer
	Translations TranslationLookup
	Routes       *locale.Routes
	BaseURL      string
	Logger       *slog.Logger
}

func (w DecisionEmailWorker) Work(ctx context.Context, job *river.Job[DecisionEmailArgs]) error {
	args := job.Args
	data := email.DecisionData{
		Locale:   args.Locale,
		Accepted: args.Accepted,
		Title:    args.Title,
		Reason:   args.Reason,
	}
	if args.Accepted && args.PlaceID != nil && w.Translations != nil && w.Routes != nil {
		t, err := w.Translations.FindPublishedTranslation(ctx, *args.PlaceID, args.Locale)
		if err == nil {
			data.PlaceLink = strings.TrimRight(w.BaseURL, "/") + w.Routes.Path(args.Locale, locale.RoutePlaces, t.Slug)
		} else if w.Logger != nil {
			w.Logger.Info("decision email without place link", "place_id", *args.PlaceID, "locale", args.Locale, "error", err)
		}
	}
	if err := w.Mailer.SendDecision(ctx, args.To, data); err != nil {
		return fmt.Errorf("send decision for %s request %d: %w", args.RequestKind, args.RequestID, err)
	}
	return nil
}

type InvitationEmailArgs struct {
	To        string    `json:"to"`
	Link      string    `json:"link"`
	InvitedBy string    `json:"invited_by"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (InvitationEmailArgs) Kind() string { return JobKindInvitationEmail }

type InvitationEmailWorker struct {
	river.WorkerDefaults[InvitationEmailArgs]
	Mailer Mailer
}

func (w InvitationEmailWorker) Work(ctx context.Context, job *river.Job[InvitationEmailArgs]) error {
	args := job.Args
	if time.Now().After(args.ExpiresAt) {
		// Nobody can use the link anymore.
		return river.JobCancel(fmt.Errorf("invitation for %s expired before delivery", args.To))
	}
	return w.Mailer.SendInvitation(ctx, args.To, args.Link, args.InvitedBy, args.ExpiresAt)
}
