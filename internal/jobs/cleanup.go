package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"
)

type InvitationCleaner interface {
	CleanupExpiredInvitations(ctx context.Context) (int64, error)
}

// CachePurger drops expired geocoding cache entries.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type InvitationCleanupArgs struct{}

func (InvitationCleanupArgs) Kind() string { return JobKindInvitationCleanup }

// InvitationCleanupWorker deletes invitations that expired unaccepted. When
// Cache is set, the same run purges expired geocoding cache rows.
type InvitationCleanupWorker struct {
	river.WorkerDefaults[InvitationCleanupArgs]
	Users  InvitationCleaner
	Cache  CachePurger
	Logger *slog.Logger
}

func (w InvitationCleanupWorker) Work(ctx context.Context, job *river.Job[InvitationCleanupArgs]) error {
	removed, err := w.Users.CleanupExpiredInvitations(ctx)
	if err != nil {
		return fmt.Errorf("cleanup invitations: %w", err)
	}
	if w.Logger != nil && removed > 0 {
		w.Logger.Info("expired invitations removed", "count", removed)
	}
	if w.Cache == nil {
		return nil
	}
	purged, err := w.Cache.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("purge geocoding cache: %w", err)
	}
	if w.Logger != nil && purged > 0 {
		w.Logger.Info("expired geocoding cache entries purged", "count", purged)
	}
	return nil
}
