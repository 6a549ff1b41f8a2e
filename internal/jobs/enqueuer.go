package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/spaceplaces/server/internal/domain/requests"
	"github.com/spaceplaces/server/internal/domain/users"
)

// Inserter is satisfied by *river.Client.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// ErrNoClient is returned by an enqueuer that was never attached.
var ErrNoClient = errors.New("job client not attached")

// Enqueuer turns domain side effects into River jobs.
type Enqueuer struct {
	client Inserter
	policy *RetryPolicy
}

func NewEnqueuer(client Inserter, policy *RetryPolicy) *Enqueuer {
	return &Enqueuer{client: client, policy: policy}
}

// Attach sets the client. The client needs workers whose services already
// hold this enqueuer, so it is created empty and attached last.
func (e *Enqueuer) Attach(client Inserter) {
	e.client = client
}

func (e *Enqueuer) insert(ctx context.Context, args river.JobArgs) error {
	if e.client == nil {
		return fmt.Errorf("enqueue %s: %w", args.Kind(), ErrNoClient)
	}
	if _, err := e.client.Insert(ctx, args, e.policy.InsertOpts(args.Kind())); err != nil {
		return fmt.Errorf("enqueue %s: %w", args.Kind(), err)
	}
	return nil
}

func (e *Enqueuer) EnqueueNewRequest(ctx context.Context, n requests.NewRequestNotice) error {
	return e.insert(ctx, AdminNotificationArgs{
		RequestKind: string(n.Kind),
		RequestID:   n.RequestID,
		Title:       n.Title,
		Language:    n.Language,
	})
}

func (e *Enqueuer) EnqueueDecision(ctx context.Context, d requests.Decision) error {
	return e.insert(ctx, DecisionEmailArgs{
		RequestKind: string(d.Kind),
		RequestID:   d.RequestID,
		To:          d.To,
		Locale:      d.Locale,
		Accepted:    d.Accepted,
		Title:       d.Title,
		Reason:      d.Reason,
		PlaceID:     d.PlaceID,
	})
}

func (e *Enqueuer) EnqueueReverseGeocode(ctx context.Context, placeID int64) error {
	return e.insert(ctx, ReverseGeocodeArgs{PlaceID: placeID})
}

func (e *Enqueuer) EnqueueInvitation(ctx context.Context, msg users.InvitationEmail) error {
	return e.insert(ctx, InvitationEmailArgs{
		To:        msg.To,
		Link:      msg.Link,
		InvitedBy: msg.InvitedBy,
		ExpiresAt: msg.ExpiresAt,
	})
}

var (
	_ requests.JobEnqueuer   = (*Enqueuer)(nil)
	_ users.InvitationSender = (*Enqueuer)(nil)
)
