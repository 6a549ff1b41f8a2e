package web

import (
	"html/template"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaceplaces/server/internal/api/render"
	"github.com/spaceplaces/server/internal/locale"
)

func TestMessages_CatalogsAreComplete(t *testing.T) {
	m, err := LoadMessages("en")
	require.NoError(t, err)

	assert.Empty(t, m.Missing("fr"))
	assert.Equal(t, "Explorer", m.T("fr", "nav.explore"))
	assert.Equal(t, "Explore", m.T("de", "nav.explore"), "unknown locale falls back")
	assert.Equal(t, "no.such.key", m.T("fr", "no.such.key"))
}

func TestMessages_TParam(t *testing.T) {
	m, err := LoadMessages("en")
	require.NoError(t, err)

	assert.Equal(t, "doit contenir au plus 200 caractères", m.TParam("fr", "validation.max", "200"))
	assert.Equal(t, "file exceeds 10 MB", m.TParam("en", "photos.size", "10"))
	assert.Equal(t, "est obligatoire", m.TParam("fr", "validation.required", ""))
}

func TestParseMessages_RequiresFallbackCatalog(t *testing.T) {
	_, err := ParseMessages([]byte("fr:\n  a: b\n"), "en")
	assert.Error(t, err)
}

func TestTemplates_Parse(t *testing.T) {
	m, err := LoadMessages("en")
	require.NoError(t, err)
	routes, err := locale.LoadRoutes([]string{"fr", "en"})
	require.NoError(t, err)

	r, err := render.New(Templates(), Funcs(m, routes))
	require.NoError(t, err)
	for _, page := range []string{"home", "explore", "place", "propose", "report", "about"} {
		assert.True(t, r.Has(page), page)
	}
}

func TestFuncs_SafeStripsScripts(t *testing.T) {
	routes, err := locale.LoadRoutes([]string{"fr", "en"})
	require.NoError(t, err)
	m, err := LoadMessages("en")
	require.NoError(t, err)

	safe := Funcs(m, routes)["safe"].(func(string) template.HTML)
	out := string(safe(`<p>Kourou</p><script>alert(1)</script>`))
	assert.Contains(t, out, "<p>Kourou</p>")
	assert.NotContains(t, out, "<script>")

	path := Funcs(m, routes)["path"].(func(string, string, ...string) string)
	assert.Equal(t, "/fr/lieux/kourou", path("fr", "places", "kourou"))
}

func TestRobotsTxtHandler(t *testing.T) {
	w := httptest.NewRecorder()
	RobotsTxtHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/robots.txt", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "Disallow: /api/")

	w = httptest.NewRecorder()
	RobotsTxtHandler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/robots.txt", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "GET, HEAD", w.Header().Get("Allow"))
}

func TestStaticHandler(t *testing.T) {
	h := StaticHandler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/css/site.css", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/css"))
	assert.Equal(t, "public, max-age=3600", w.Header().Get("Cache-Control"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/js/", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/missing.js", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
