// Package jobs runs the fire-and-forget side effects of the site on River:
// notification emails, reverse geocoding and invitation cleanup.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"

	"github.com/spaceplaces/server/internal/config"
)

const (
	JobKindAdminNotification = "admin_notification"
	JobKindDecisionEmail     = "decision_email"
	JobKindInvitationEmail   = "invitation_email"
	JobKindReverseGeocode    = "reverse_geocode_place"
	JobKindInvitationCleanup = "invitation_cleanup"

	QueueEmail     = "email"
	QueueGeocoding = "geocoding"
)

// RetryConfig controls per-kind retry behavior.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryPolicy implements River's ClientRetryPolicy with per-kind exponential
// backoff.
type RetryPolicy struct {
	Default RetryConfig
	ByKind  map[string]RetryConfig
}

// NewRetryPolicy derives attempt counts from configuration.
func NewRetryPolicy(cfg config.JobsConfig) *RetryPolicy {
	email := RetryConfig{MaxAttempts: max(cfg.RetryEmail, 1), BaseDelay: 30 * time.Second, MaxDelay: 30 * time.Minute}
	geocoding := RetryConfig{MaxAttempts: max(cfg.RetryGeocoding, 1), BaseDelay: time.Minute, MaxDelay: 30 * time.Minute}
	return &RetryPolicy{
		Default: RetryConfig{MaxAttempts: 3, BaseDelay: 30 * time.Second, MaxDelay: 10 * time.Minute},
		ByKind: map[string]RetryConfig{
			JobKindAdminNotification: email,
			JobKindDecisionEmail:     email,
			JobKindInvitationEmail:   email,
			JobKindReverseGeocode:    geocoding,
			JobKindInvitationCleanup: {MaxAttempts: 1},
		},
	}
}

// NextRetry determines the next retry time for a failed job.
func (p *RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	cfg := p.configFor(job.Kind)
	if cfg.BaseDelay == 0 {
		return time.Now()
	}
	attempt := job.Attempt
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if job.AttemptedAt != nil {
		return job.AttemptedAt.Add(delay)
	}
	return time.Now().Add(delay)
}

func (p *RetryPolicy) configFor(kind string) RetryConfig {
	if c, ok := p.ByKind[kind]; ok {
		return c
	}
	return p.Default
}

// InsertOpts returns the queue and attempt limit for a job kind.
func (p *RetryPolicy) InsertOpts(kind string) *river.InsertOpts {
	opts := &river.InsertOpts{MaxAttempts: p.configFor(kind).MaxAttempts}
	switch kind {
	case JobKindAdminNotification, JobKindDecisionEmail, JobKindInvitationEmail:
		opts.Queue = QueueEmail
	case JobKindReverseGeocode:
		opts.Queue = QueueGeocoding
	}
	return opts
}

// NewClientConfig builds a River client configuration. The geocoding queue
// runs one worker so Nominatim sees at most one caller per process.
func NewClientConfig(cfg config.JobsConfig, workers *river.Workers, logger *slog.Logger, hooks []rivertype.Hook) *river.Config {
	policy := NewRetryPolicy(cfg)
	rc := &river.Config{
		Workers:      workers,
		RetryPolicy:  policy,
		MaxAttempts:  policy.Default.MaxAttempts,
		PeriodicJobs: NewPeriodicJobs(cfg.InvitationCleanup),
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
			QueueEmail:         {MaxWorkers: max(cfg.Workers, 1)},
			QueueGeocoding:     {MaxWorkers: 1},
		},
		Hooks: hooks,
	}
	if logger != nil {
		rc.Logger = logger
		rc.ErrorHandler = &ErrorHandler{Logger: logger}
	}
	return rc
}

func NewClient(pool *pgxpool.Pool, cfg config.JobsConfig, workers *river.Workers, logger *slog.Logger, hooks []rivertype.Hook) (*river.Client[pgx.Tx], error) {
	return river.NewClient(riverpgxv5.New(pool), NewClientConfig(cfg, workers, logger, hooks))
}

// NewPeriodicJobs schedules invitation cleanup every interval.
func NewPeriodicJobs(interval time.Duration) []*river.PeriodicJob {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return InvitationCleanupArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}

// ErrorHandler logs failed and panicking jobs.
type ErrorHandler struct {
	Logger *slog.Logger
}

func (h *ErrorHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	h.Logger.Error("job failed", "job_id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "max_attempts", job.MaxAttempts, "error", err)
	return nil
}

func (h *ErrorHandler) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	h.Logger.Error("job panicked", "job_id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "error", fmt.Sprint(panicVal), "trace", trace)
	return nil
}
