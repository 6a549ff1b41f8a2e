// Package audit records admin state changes as structured log lines.
package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/spaceplaces/server/internal/requestctx"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Entry is one audited admin action.
type Entry struct {
	Timestamp    time.Time         `json:"timestamp"`
	Action       string            `json:"action"`
	ActorID      int64             `json:"actor_id,omitempty"`
	Actor        string            `json:"actor"`
	ResourceType string            `json:"resource_type,omitempty"`
	ResourceID   string            `json:"resource_id,omitempty"`
	IPAddress    string            `json:"ip_address,omitempty"`
	Status       string            `json:"status"`
	Details      map[string]string `json:"details,omitempty"`
}

type Logger struct {
	logger zerolog.Logger
}

func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger.With().Str("component", "audit").Logger()}
}

func (l *Logger) Log(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Actor == "" {
		entry.Actor = "system"
	}
	event := l.logger.Info()
	if entry.Status == StatusFailure {
		event = l.logger.Warn()
	}
	event.Interface("audit", entry).Msg(entry.Action)
}

// Record logs an action performed by the actor found in ctx.
func (l *Logger) Record(ctx context.Context, action, resourceType string, resourceID int64, status string, details map[string]string) {
	rc := requestctx.From(ctx)
	l.Log(Entry{
		Action:       action,
		ActorID:      rc.Actor.ID,
		Actor:        rc.Actor.Username,
		ResourceType: resourceType,
		ResourceID:   strconv.FormatInt(resourceID, 10),
		IPAddress:    rc.ClientIP,
		Status:       status,
		Details:      details,
	})
}

// Outcome maps an error to a status value.
func Outcome(err error) string {
	if err != nil {
		return StatusFailure
	}
	return StatusSuccess
}
