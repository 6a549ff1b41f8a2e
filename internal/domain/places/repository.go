package places

import (
	"context"
	"errors"
	"time"

	"github.com/spaceplaces/server/internal/api/pagination"
	"github.com/spaceplaces/server/internal/listing"
)

var (
	ErrNotFound      = errors.New("place not found")
	ErrInvalidCursor = errors.New("invalid cursor")
	ErrSlugTaken     = errors.New("slug already used in this locale")
)

type TranslationStatus string

const (
	StatusDraft     TranslationStatus = "draft"
	StatusPublished TranslationStatus = "published"
)

func (s TranslationStatus) Valid() bool {
	return s == StatusDraft || s == StatusPublished
}

type Place struct {
	ID           int64
	Latitude     float64
	Longitude    float64
	Address      string
	AdminID      *int64
	IsFeatured   bool
	RequestID    *int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Translations []Translation
	Photos       []Photo
	TagIDs       []int64
	CategoryIDs  []int64
}

// Translation returns the translation for locale, if any.
func (p *Place) Translation(locale string) (Translation, bool) {
	for _, t := range p.Translations {
		if t.Locale == locale {
			return t, true
		}
	}
	return Translation{}, false
}

type Translation struct {
	PlaceID       int64
	Locale        string
	Title         string
	Slug          string
	Description   string
	PracticalInfo string
	Status        TranslationStatus
}

type Photo struct {
	ID           int64
	PlaceID      int64
	StorageKey   string
	OriginalName string
	MIMEType     string
	SizeBytes    int64
	IsMain       bool
	SortOrder    int
}

// TagBadge is the tag projection shown on place cards.
type TagBadge struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Color string `json:"color"`
}

// Coordinates is the marker projection for map rendering.
type Coordinates struct {
	ID         int64   `json:"id"`
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"lng"`
	IsFeatured bool    `json:"is_featured"`
}

// PlaceCard is the denormalized projection used by the infinite-scroll list.
type PlaceCard struct {
	ID         int64      `json:"id"`
	Title      string     `json:"title"`
	Slug       string     `json:"slug"`
	Excerpt    string     `json:"excerpt"`
	MainPhoto  *string    `json:"main_photo"`
	Tags       []TagBadge `json:"tags"`
	IsFeatured bool       `json:"is_featured"`
	Latitude   float64    `json:"lat"`
	Longitude  float64    `json:"lng"`

	CreatedAt time.Time `json:"-"`
}

// ExplorePage is the contract returned to the exploration UI. NextCursor is
// nil on the last page.
type ExplorePage struct {
	Places       []PlaceCard `json:"places"`
	NextCursor   *string     `json:"next_cursor"`
	HasMorePages bool        `json:"has_more_pages"`
}

// ExploreQuery is the repository-level form of an exploration request.
// Box is nil for worldwide mode.
type ExploreQuery struct {
	Box      *BoundingBox
	TagSlugs []string
	Search   string
	Locale   string
	Limit    int
	After    *pagination.Cursor
}

// PlaceDetail is a published place resolved for one locale.
type PlaceDetail struct {
	Place
	Current    Translation
	Tags       []TagBadge
	Categories []TagBadge
	// Alternates maps locale to slug for every published translation.
	Alternates map[string]string
}

// AdminRow is one line of the back-office places table.
type AdminRow struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Status      string    `json:"status"`
	IsFeatured  bool      `json:"is_featured"`
	Locales     []string  `json:"locales"`
	PhotoCount  int       `json:"photo_count"`
	FromRequest bool      `json:"from_request"`
	CreatedAt   time.Time `json:"created_at"`
}

type TranslationInput struct {
	Locale        string            `json:"locale" validate:"required,len=2"`
	Title         string            `json:"title" validate:"required,max=255"`
	Slug          string            `json:"slug" validate:"omitempty,max=180"`
	Description   string            `json:"description" validate:"max=20000"`
	PracticalInfo string            `json:"practical_info" validate:"max=5000"`
	Status        TranslationStatus `json:"status" validate:"omitempty,oneof=draft published"`
}

type PhotoInput struct {
	StorageKey   string
	OriginalName string
	MIMEType     string
	SizeBytes    int64
	IsMain       bool
}

type CreateParams struct {
	Latitude     float64
	Longitude    float64
	Address      string
	AdminID      *int64
	IsFeatured   bool
	RequestID    *int64
	Translations []TranslationInput
	TagIDs       []int64
	CategoryIDs  []int64
	Photos       []PhotoInput
}

type UpdateParams struct {
	Latitude     *float64
	Longitude    *float64
	Address      *string
	IsFeatured   *bool
	Translations []TranslationInput
	TagIDs       []int64
	CategoryIDs  []int64
	// ReplaceTaxonomy is true when TagIDs and CategoryIDs should overwrite
	// the current pivots, even when empty.
	ReplaceTaxonomy bool
}

type Repository interface {
	Coordinates(ctx context.Context, q ExploreQuery) ([]Coordinates, error)
	Explore(ctx context.Context, q ExploreQuery) ([]PlaceCard, error)
	MainPhotos(ctx context.Context, placeIDs []int64) (map[int64]Photo, error)
	TagBadges(ctx context.Context, placeIDs []int64, locale string) (map[int64][]TagBadge, error)

	GetByID(ctx context.Context, id int64) (*Place, error)
	GetPublishedBySlug(ctx context.Context, locale, slug string) (*PlaceDetail, error)
	FindPlaceIDBySlug(ctx context.Context, locale, slug string) (int64, error)
	FindPublishedTranslation(ctx context.Context, placeID int64, locale string) (*Translation, error)
	SlugExists(ctx context.Context, locale, slug string, excludePlaceID int64) (bool, error)

	ListAdmin(ctx context.Context, q listing.Query, locale string) ([]AdminRow, int, error)
	Create(ctx context.Context, params CreateParams) (*Place, error)
	Update(ctx context.Context, id int64, params UpdateParams) (*Place, error)
	Delete(ctx context.Context, id int64) error
	SetFeatured(ctx context.Context, id int64, featured bool) error
	SetAddress(ctx context.Context, id int64, address string) error
}
