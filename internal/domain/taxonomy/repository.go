// Package taxonomy manages the tags and categories attached to places.
// Both share one shape and differ only by table.
package taxonomy

import (
	"context"
	"errors"
	"time"

	"github.com/spaceplaces/server/internal/listing"
)

var (
	ErrNotFound  = errors.New("term not found")
	ErrSlugTaken = errors.New("slug already used in this locale")
)

type Kind string

const (
	KindTag      Kind = "tag"
	KindCategory Kind = "category"
)

// ListType maps the kind to its listing allow-list.
func (k Kind) ListType() listing.ListType {
	if k == KindCategory {
		return listing.Categories
	}
	return listing.Tags
}

type Term struct {
	ID           int64         `json:"id"`
	Kind         Kind          `json:"kind"`
	Color        string        `json:"color"`
	IsActive     bool          `json:"is_active"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Translations []Translation `json:"translations"`
}

type Translation struct {
	Locale      string `json:"locale"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

// Row is one line of the back-office tag or category table.
type Row struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	Color      string    `json:"color"`
	IsActive   bool      `json:"is_active"`
	PlaceCount int       `json:"place_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Badge is the public projection used by filters and place pages.
type Badge struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Color string `json:"color"`
}

type TranslationInput struct {
	Locale      string `json:"locale" validate:"required,len=2"`
	Name        string `json:"name" validate:"required,max=100"`
	Slug        string `json:"slug" validate:"omitempty,max=120"`
	Description string `json:"description" validate:"max=2000"`
}

type Input struct {
	Color        string             `json:"color" validate:"required,hexcolor"`
	IsActive     bool               `json:"is_active"`
	Translations []TranslationInput `json:"translations" validate:"required,min=1,dive"`
}

type Repository interface {
	List(ctx context.Context, kind Kind, q listing.Query, locale string) ([]Row, int, error)
	ListActive(ctx context.Context, kind Kind, locale string) ([]Badge, error)
	Get(ctx context.Context, kind Kind, id int64) (*Term, error)
	Create(ctx context.Context, kind Kind, in Input) (*Term, error)
	Update(ctx context.Context, kind Kind, id int64, in Input) (*Term, error)
	// Delete detaches the term from every place and removes it in one
	// transaction. It returns the number of detached places.
	Delete(ctx context.Context, kind Kind, id int64) (int64, error)
	SetActive(ctx context.Context, kind Kind, id int64, active bool) error
}
