package taxonomy

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/spaceplaces/server/internal/listing"
	"github.com/spaceplaces/server/internal/sanitize"
	"github.com/spaceplaces/server/internal/slug"
	"github.com/spaceplaces/server/internal/validation"
)

type Service struct {
	repo    Repository
	locales []string
	logger  zerolog.Logger
}

func NewService(repo Repository, locales []string, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		locales: locales,
		logger:  logger.With().Str("component", "taxonomy").Logger(),
	}
}

func (s *Service) List(ctx context.Context, kind Kind, q listing.Query, locale string) ([]Row, int, error) {
	return s.repo.List(ctx, kind, q, locale)
}

func (s *Service) ListActive(ctx context.Context, kind Kind, locale string) ([]Badge, error) {
	return s.repo.ListActive(ctx, kind, locale)
}

func (s *Service) Get(ctx context.Context, kind Kind, id int64) (*Term, error) {
	return s.repo.Get(ctx, kind, id)
}

func (s *Service) Create(ctx context.Context, kind Kind, in Input) (*Term, error) {
	in, err := s.prepare(in)
	if err != nil {
		return nil, err
	}
	term, err := s.repo.Create(ctx, kind, in)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("kind", string(kind)).Int64("id", term.ID).Msg("term created")
	return term, nil
}

func (s *Service) Update(ctx context.Context, kind Kind, id int64, in Input) (*Term, error) {
	in, err := s.prepare(in)
	if err != nil {
		return nil, err
	}
	return s.repo.Update(ctx, kind, id, in)
}

// Delete removes the term after detaching it from its places. The places
// themselves are kept.
func (s *Service) Delete(ctx context.Context, kind Kind, id int64) error {
	detached, err := s.repo.Delete(ctx, kind, id)
	if err != nil {
		return err
	}
	s.logger.Info().Str("kind", string(kind)).Int64("id", id).Int64("detached_places", detached).Msg("term deleted")
	return nil
}

// ToggleActive flips the active flag and returns the new value.
func (s *Service) ToggleActive(ctx context.Context, kind Kind, id int64) (bool, error) {
	term, err := s.repo.Get(ctx, kind, id)
	if err != nil {
		return false, err
	}
	active := !term.IsActive
	if err := s.repo.SetActive(ctx, kind, id, active); err != nil {
		return false, err
	}
	return active, nil
}

func (s *Service) prepare(in Input) (Input, error) {
	in.Color = strings.ToLower(strings.TrimSpace(in.Color))
	if err := validation.Struct(in); err != nil {
		return Input{}, err
	}
	seen := make(map[string]bool, len(in.Translations))
	out := make([]TranslationInput, 0, len(in.Translations))
	for i, t := range in.Translations {
		field := fmt.Sprintf("translations[%d]", i)
		if !s.supported(t.Locale) {
			return Input{}, validation.FieldErrors{field + ".locale": "is not a supported locale"}
		}
		if seen[t.Locale] {
			return Input{}, validation.FieldErrors{field + ".locale": "is duplicated"}
		}
		seen[t.Locale] = true

		t.Name = sanitize.Text(t.Name)
		t.Description = sanitize.Text(t.Description)
		if t.Name == "" {
			return Input{}, validation.FieldErrors{field + ".name": "is required"}
		}
		base := t.Slug
		if base == "" {
			base = t.Name
		}
		t.Slug = slug.Make(base)
		if t.Slug == "" {
			return Input{}, validation.FieldErrors{field + ".slug": "cannot be derived from name"}
		}
		out = append(out, t)
	}
	in.Translations = out
	return in, nil
}

func (s *Service) supported(locale string) bool {
	for _, l := range s.locales {
		if l == locale {
			return true
		}
	}
	return false
}
