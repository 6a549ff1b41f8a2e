package requests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spaceplaces/server/internal/domain/places"
	"github.com/spaceplaces/server/internal/listing"
	"github.com/spaceplaces/server/internal/validation"
)

var (
	ErrNotFound = errors.New("request not found")
	// ErrForbiddenTransition is returned when a guard rejects a moderation
	// action for the request's current status.
	ErrForbiddenTransition = errors.New("forbidden status transition")
	ErrPlaceNotFound       = errors.New("place not found")
)

// ValidationError is a user input problem safe to display.
type ValidationError struct {
	Field   string
	Message string
	Rule    validation.Rule
}

func invalid(field string, rule validation.Rule) *ValidationError {
	return &ValidationError{Field: field, Message: rule.Message(), Rule: rule}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Moderation is the audit trail shared by both request kinds.
type Moderation struct {
	Status             Status     `json:"status"`
	ViewedByAdminID    *int64     `json:"viewed_by_admin_id"`
	ViewedAt           *time.Time `json:"viewed_at"`
	ProcessedByAdminID *int64     `json:"processed_by_admin_id"`
	ProcessedAt        *time.Time `json:"processed_at"`
	AdminReason        string     `json:"admin_reason,omitempty"`
}

type StagedPhoto struct {
	ID           int64  `json:"id"`
	RequestID    int64  `json:"request_id"`
	StorageKey   string `json:"storage_key"`
	OriginalName string `json:"original_name"`
	MIMEType     string `json:"mime_type"`
	SizeBytes    int64  `json:"size_bytes"`
	SortOrder    int    `json:"sort_order"`
}

// PlaceRequest is a citizen proposal for a new place.
type PlaceRequest struct {
	ID               int64         `json:"id"`
	Title            string        `json:"title"`
	Slug             string        `json:"slug"`
	Description      string        `json:"description"`
	Latitude         float64       `json:"lat"`
	Longitude        float64       `json:"lng"`
	Address          string        `json:"address"`
	ContactEmail     string        `json:"contact_email"`
	Locale           string        `json:"locale"`
	DetectedLanguage string        `json:"detected_language"`
	PlaceID          *int64        `json:"place_id"`
	Photos           []StagedPhoto `json:"photos"`
	CreatedAt        time.Time     `json:"created_at"`
	Moderation
}

// EditRequest is a change proposal or problem report on an existing place.
// PlaceID becomes nil when the place is deleted; the request and its
// moderation history stay.
type EditRequest struct {
	ID               int64             `json:"id"`
	PlaceID          *int64            `json:"place_id"`
	PlaceTitle       string            `json:"place_title"`
	Type             EditType          `json:"type"`
	ContactEmail     string            `json:"contact_email"`
	Message          string            `json:"message"`
	SuggestedChanges map[string]string `json:"suggested_changes"`
	Locale           string            `json:"locale"`
	DetectedLanguage string            `json:"detected_language"`
	CreatedAt        time.Time         `json:"created_at"`
	Moderation
}

type Repository interface {
	// WithTx runs fn against a repository bound to one transaction.
	WithTx(ctx context.Context, fn func(tx Repository) error) error

	// LockModeration reads the moderation columns with SELECT ... FOR UPDATE.
	// It must run inside WithTx.
	LockModeration(ctx context.Context, kind Kind, id int64) (Moderation, error)
	GetModeration(ctx context.Context, kind Kind, id int64) (Moderation, error)
	// MarkViewed records the first view of a viewable request and reports
	// whether a row changed.
	MarkViewed(ctx context.Context, kind Kind, id, adminID int64) (bool, error)
	SetRefused(ctx context.Context, kind Kind, id, adminID int64, reason string) error
	SetAccepted(ctx context.Context, kind Kind, id, adminID int64) error

	GetPlaceRequest(ctx context.Context, id int64) (*PlaceRequest, error)
	ListPlaceRequests(ctx context.Context, q listing.Query) ([]PlaceRequest, int, error)
	CreatePlaceRequest(ctx context.Context, r *PlaceRequest) error

	GetEditRequest(ctx context.Context, id int64) (*EditRequest, error)
	ListEditRequests(ctx context.Context, q listing.Query) ([]EditRequest, int, error)
	CreateEditRequest(ctx context.Context, r *EditRequest) error

	// CreatePlace inserts a place and its children in the current transaction.
	CreatePlace(ctx context.Context, params places.CreateParams) (*places.Place, error)
}
