package locale

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaceplaces/server/internal/config"
	"github.com/spaceplaces/server/internal/requestctx"
)

var testLocales = config.LocaleConfig{Default: "fr", Supported: []string{"fr", "en"}, CookieName: "locale", CookieDays: 365}

func TestLoadRoutes(t *testing.T) {
	routes, err := LoadRoutes([]string{"fr", "en"})
	require.NoError(t, err)

	assert.Equal(t, "/fr/lieux/cnes", routes.Path("fr", RoutePlaces, "cnes"))
	assert.Equal(t, "/en/explore", routes.Path("en", RouteExplore))
	key, ok := routes.Key("fr", "a-propos")
	assert.True(t, ok)
	assert.Equal(t, RouteAbout, key)
	assert.Equal(t, []string{"en", "fr"}, routes.Locales())
}

func TestParseRoutes_RejectsIncompleteTable(t *testing.T) {
	_, err := ParseRoutes([]byte("fr:\n  places: lieux\n"), []string{"fr"})
	assert.Error(t, err)

	_, err = ParseRoutes([]byte("fr:\n  places: lieux\n"), []string{"de"})
	assert.Error(t, err)
}

func TestResolve_Order(t *testing.T) {
	res := NewResolver(testLocales, false)

	tests := []struct {
		name     string
		path     string
		cookie   string
		accept   string
		want     string
		fromPath bool
	}{
		{"path wins", "/en/places/x", "fr", "fr", "en", true},
		{"cookie next", "/", "en", "fr", "en", false},
		{"unsupported cookie ignored", "/", "de", "en-US,en;q=0.8", "en", false},
		{"accept language", "/api/v1/geocode/search", "", "en-GB", "en", false},
		{"default", "/", "", "de-DE", "fr", false},
		{"unknown prefix", "/de/", "", "", "fr", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: "locale", Value: tt.cookie})
			}
			if tt.accept != "" {
				r.Header.Set("Accept-Language", tt.accept)
			}
			got, fromPath := res.Resolve(r)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.fromPath, fromPath)
		})
	}
}

func TestMiddleware_StoresLocaleAndRefreshesCookie(t *testing.T) {
	res := NewResolver(testLocales, true)
	var seen string
	h := res.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestctx.From(r.Context()).Locale
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/en/explore", nil))

	assert.Equal(t, "en", seen)
	assert.Equal(t, "en", rec.Header().Get("Content-Language"))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "en", cookies[0].Value)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, 365*24*3600, cookies[0].MaxAge)
}

type slugTable map[string]string

func (s slugTable) ResolveSlug(ctx context.Context, fromLocale, fromSlug, toLocale string) (string, error) {
	if slug, ok := s[fromLocale+"/"+fromSlug+">"+toLocale]; ok {
		return slug, nil
	}
	return "", errors.New("place not found")
}

func newTestSwitcher(t *testing.T) *Switcher {
	t.Helper()
	routes, err := LoadRoutes(testLocales.Supported)
	require.NoError(t, err)
	slugs := slugTable{"fr/cite-de-l-espace>en": "space-city"}
	return NewSwitcher(routes, NewResolver(testLocales, false), slugs, zerolog.Nop())
}

func TestPlaceURL(t *testing.T) {
	s := newTestSwitcher(t)
	ctx := context.Background()

	assert.Equal(t, "/en/places/space-city", s.PlaceURL(ctx, "fr", "cite-de-l-espace", "en"))
	assert.Equal(t, "/en/", s.PlaceURL(ctx, "fr", "kourou", "en"), "missing translation falls back to home")
	assert.Equal(t, "/fr/", s.PlaceURL(ctx, "fr", "kourou", "xx"))
}

func TestSwitchPath(t *testing.T) {
	s := newTestSwitcher(t)
	ctx := context.Background()

	tests := []struct {
		path, target, want string
	}{
		{"/fr/lieux/cite-de-l-espace", "en", "/en/places/space-city"},
		{"/fr/lieux/cite-de-l-espace/signaler", "en", "/en/places/space-city/report"},
		{"/fr/lieux/inconnu", "en", "/en/"},
		{"/fr/explorer", "en", "/en/explore"},
		{"/en/about", "fr", "/fr/a-propos"},
		{"/fr/", "en", "/en/"},
		{"/admin", "en", "/en/"},
		{"/fr/nowhere", "en", "/en/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.SwitchPath(ctx, tt.path, tt.target), tt.path)
	}
}
