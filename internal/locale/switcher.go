package locale

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// SlugResolver finds the published slug of the same place in another
// locale.
type SlugResolver interface {
	ResolveSlug(ctx context.Context, fromLocale, fromSlug, toLocale string) (string, error)
}

type Switcher struct {
	routes   *Routes
	resolver *Resolver
	slugs    SlugResolver
	logger   zerolog.Logger
}

func NewSwitcher(routes *Routes, resolver *Resolver, slugs SlugResolver, logger zerolog.Logger) *Switcher {
	return &Switcher{
		routes:   routes,
		resolver: resolver,
		slugs:    slugs,
		logger:   logger.With().Str("component", "locale").Logger(),
	}
}

// PlaceURL returns the target-locale URL of the place shown at
// (currentLocale, slug), or the target homepage when the place has no
// published translation there.
func (s *Switcher) PlaceURL(ctx context.Context, currentLocale, slug, targetLocale string) string {
	if !s.resolver.IsSupported(targetLocale) {
		targetLocale = s.resolver.Default()
	}
	targetSlug, err := s.slugs.ResolveSlug(ctx, currentLocale, slug, targetLocale)
	if err != nil || targetSlug == "" {
		s.logger.Debug().Err(err).Str("slug", slug).Str("from", currentLocale).Str("to", targetLocale).Msg("no translation, falling back to home")
		return Home(targetLocale)
	}
	return s.routes.Path(targetLocale, RoutePlaces, targetSlug)
}

// SwitchPath maps any public path to its equivalent in targetLocale.
// Unknown paths land on the target homepage.
func (s *Switcher) SwitchPath(ctx context.Context, path, targetLocale string) string {
	if !s.resolver.IsSupported(targetLocale) {
		targetLocale = s.resolver.Default()
	}
	current, ok := s.resolver.FromPath(path)
	if !ok {
		return Home(targetLocale)
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 {
		return Home(targetLocale)
	}
	key, ok := s.routes.Key(current, parts[1])
	if !ok {
		return Home(targetLocale)
	}
	if key == RoutePlaces {
		if len(parts) < 3 || parts[2] == "" {
			return Home(targetLocale)
		}
		url := s.PlaceURL(ctx, current, parts[2], targetLocale)
		if len(parts) == 4 && url != Home(targetLocale) {
			if sub, ok := s.routes.Key(current, parts[3]); ok {
				url += "/" + s.routes.Segment(targetLocale, sub)
			}
		}
		return url
	}
	return s.routes.Path(targetLocale, key)
}
