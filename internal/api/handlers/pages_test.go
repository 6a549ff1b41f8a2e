package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"html/template"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/spaceplaces/server/internal/api/render"
	"github.com/spaceplaces/server/internal/captcha"
	"github.com/spaceplaces/server/internal/config"
	"github.com/spaceplaces/server/internal/domain/places"
	"github.com/spaceplaces/server/internal/domain/requests"
	"github.com/spaceplaces/server/internal/domain/taxonomy"
	"github.com/spaceplaces/server/internal/listing"
	"github.com/spaceplaces/server/internal/locale"
	"github.com/spaceplaces/server/internal/photos"
	"github.com/spaceplaces/server/internal/requestctx"
	"github.com/spaceplaces/server/internal/seo"
	"github.com/spaceplaces/server/internal/validation"
	"github.com/spaceplaces/server/web"
)

type slugMap map[string]string

func (s slugMap) ResolveSlug(_ context.Context, fromLocale, fromSlug, toLocale string) (string, error) {
	if slug, ok := s[fromLocale+"/"+fromSlug+">"+toLocale]; ok {
		return slug, nil
	}
	return "", places.ErrNotFound
}

type submitterStub struct {
	placeErr error
	editErr  error
	place    *requests.SubmitPlaceInput
	edit     *requests.SubmitEditInput
}

func (s *submitterStub) SubmitPlaceRequest(_ context.Context, in requests.SubmitPlaceInput) (*requests.PlaceRequest, error) {
	s.place = &in
	if s.placeErr != nil {
		return nil, s.placeErr
	}
	return &requests.PlaceRequest{ID: 11}, nil
}

func (s *submitterStub) SubmitEditRequest(_ context.Context, in requests.SubmitEditInput) (*requests.EditRequest, error) {
	s.edit = &in
	if s.editErr != nil {
		return nil, s.editErr
	}
	return &requests.EditRequest{ID: 12}, nil
}

func kourou() *places.PlaceDetail {
	return &places.PlaceDetail{
		Place: places.Place{
			ID:        7,
			Latitude:  5.239,
			Longitude: -52.768,
			Address:   "Kourou, Guyane",
			Photos: []places.Photo{
				{StorageKey: "side.jpg"},
				{StorageKey: "main.jpg", IsMain: true},
			},
		},
		Current: places.Translation{
			Locale:      "fr",
			Title:       "Centre spatial guyanais",
			Slug:        "centre-spatial-guyanais",
			Description: "<p>Base de lancement européenne.</p><script>alert(1)</script>",
		},
		Tags: []places.TagBadge{{ID: 1, Name: "Lanceurs", Slug: "lanceurs", Color: "#aa3300"}},
		Alternates: map[string]string{
			"fr": "centre-spatial-guyanais",
			"en": "guiana-space-centre",
		},
	}
}

func noTerms() termsFunc {
	return func(context.Context, taxonomy.Kind, string) ([]taxonomy.Badge, error) {
		return []taxonomy.Badge{{ID: 3, Name: "Observatoires", Slug: "observatoires", Color: "#123456"}}, nil
	}
}

func newPagesHandler(t *testing.T, finder PlaceFinder, submitter Submitter) *PagesHandler {
	t.Helper()
	routes, err := locale.LoadRoutes([]string{"fr", "en"})
	require.NoError(t, err)
	messages, err := web.LoadMessages("en")
	require.NoError(t, err)
	renderer, err := render.New(web.Templates(), web.Funcs(messages, routes))
	require.NoError(t, err)

	resolver := locale.NewResolver(config.LocaleConfig{Default: "fr", Supported: []string{"fr", "en"}, CookieName: "locale", CookieDays: 365}, false)
	slugs := slugMap{"fr/centre-spatial-guyanais>en": "guiana-space-centre"}

	return &PagesHandler{
		Places:   finder,
		Terms:    noTerms(),
		Requests: submitter,
		Routes:   routes,
		Locales:  resolver,
		Switcher: locale.NewSwitcher(routes, resolver, slugs, zerolog.Nop()),
		SEO:      seo.NewResolver(),
		Renderer: renderer,
		Messages: messages,
		Lists:    listing.NewGuard(),
		CSRFField: func(*http.Request) template.HTML {
			return `<input type="hidden" name="gorilla.csrf.Token" value="tok">`
		},
		Site: SiteInfo{Name: "Lieux de l'espace", BaseURL: "https://example.org", CaptchaSiteKey: "site-key", MaxPhotos: 5},
	}
}

func parseHTML(t *testing.T, w *httptest.ResponseRecorder) *goquery.Document {
	t.Helper()
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	doc, err := goquery.NewDocumentFromReader(w.Body)
	require.NoError(t, err)
	return doc
}

// fieldError reads the message rendered next to a form input.
func fieldError(doc *goquery.Document, field string) string {
	if field == "captcha" {
		return doc.Find(".g-recaptcha ~ .error").Text()
	}
	return doc.Find("#" + field).NextFiltered(".error").Text()
}

func formPost(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req.WithContext(requestctx.WithClientIP(req.Context(), "203.0.113.9"))
}

func TestRoot_RedirectsToResolvedLocale(t *testing.T) {
	h := newPagesHandler(t, new(MockPlaceFinder), &submitterStub{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "en-GB,en;q=0.9")
	w := httptest.NewRecorder()
	h.Root(w, req)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/en/", w.Header().Get("Location"))

	w = httptest.NewRecorder()
	h.Root(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "/fr/", w.Header().Get("Location"))
}

func TestHome_RendersLatestPlaces(t *testing.T) {
	m := new(MockPlaceFinder)
	photo := "/media/main.jpg"
	m.On("Explore", mock.Anything, places.ExploreFilters{Mode: places.ModeWorldwide}, mock.Anything, "fr", homeCards, "").
		Return(places.ExplorePage{Places: []places.PlaceCard{
			{ID: 7, Title: "Centre spatial guyanais", Slug: "centre-spatial-guyanais", Excerpt: "Base de lancement", MainPhoto: &photo, IsFeatured: true},
		}}, nil)
	h := newPagesHandler(t, m, &submitterStub{})

	w := httptest.NewRecorder()
	h.Home("fr")(w, httptest.NewRequest(http.MethodGet, "/fr/?sent=proposal", nil))

	require.Equal(t, http.StatusOK, w.Code)
	doc := parseHTML(t, w)
	assert.Equal(t, "fr", doc.Find("html").AttrOr("lang", ""))
	assert.Equal(t, "/fr/lieux/centre-spatial-guyanais", doc.Find(".card h3 a").AttrOr("href", ""))
	assert.True(t, doc.Find(".card").HasClass("featured"))
	assert.Equal(t, "/fr/explorer?tags=observatoires", doc.Find(".tags a").AttrOr("href", ""))
	assert.Equal(t, "Merci ! Votre proposition sera examinée rapidement.", doc.Find(".flash").Text())
	assert.Equal(t, "https://example.org/en/", doc.Find(`link[hreflang="en"]`).AttrOr("href", ""))
	assert.Equal(t, "/locale/en?from=%2Ffr%2F", doc.Find(`.languages a[hreflang="en"]`).AttrOr("href", ""))
	m.AssertExpectations(t)
}

func TestPlace_RendersDetailAndJSONLD(t *testing.T) {
	m := new(MockPlaceFinder)
	m.On("GetPublishedBySlug", mock.Anything, "fr", "centre-spatial-guyanais").Return(kourou(), nil)
	h := newPagesHandler(t, m, &submitterStub{})

	req := withPath(httptest.NewRequest(http.MethodGet, "/fr/lieux/centre-spatial-guyanais", nil), "slug", "centre-spatial-guyanais")
	w := httptest.NewRecorder()
	h.Place("fr")(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	doc := parseHTML(t, w)
	assert.Equal(t, "Centre spatial guyanais", doc.Find("article h1").Text())
	assert.Equal(t, "Centre spatial guyanais | Lieux de l'espace", doc.Find("title").Text())
	assert.Equal(t, "https://example.org/fr/lieux/centre-spatial-guyanais", doc.Find(`link[rel="canonical"]`).AttrOr("href", ""))
	assert.Equal(t, "https://example.org/en/places/guiana-space-centre", doc.Find(`link[hreflang="en"]`).AttrOr("href", ""))
	assert.Equal(t, "https://example.org/media/main.jpg", doc.Find(`meta[property="og:image"]`).AttrOr("content", ""))
	assert.Equal(t, "/fr/lieux/centre-spatial-guyanais/signaler", doc.Find("a.report").AttrOr("href", ""))
	assert.Equal(t, 0, doc.Find(".description script").Length())
	assert.Equal(t, 2, doc.Find(".gallery img").Length())

	var ld map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc.Find(`script[type="application/ld+json"]`).Text()), &ld))
	assert.Equal(t, "TouristAttraction", ld["@type"])
	assert.Equal(t, "Lanceurs", ld["keywords"])
	assert.Equal(t, 5.239, ld["geo"].(map[string]any)["latitude"])
}

func TestPlace_NotFoundRedirectsHome(t *testing.T) {
	m := new(MockPlaceFinder)
	m.On("GetPublishedBySlug", mock.Anything, "en", "nowhere").Return(nil, places.ErrNotFound)
	h := newPagesHandler(t, m, &submitterStub{})

	w := httptest.NewRecorder()
	h.Place("en")(w, withPath(httptest.NewRequest(http.MethodGet, "/en/places/nowhere", nil), "slug", "nowhere"))

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/en/?notfound=1", w.Header().Get("Location"))
}

func TestSwitchLocale(t *testing.T) {
	h := newPagesHandler(t, new(MockPlaceFinder), &submitterStub{})

	tests := []struct {
		name   string
		target string
		from   string
		want   string
	}{
		{"translated place", "en", "/fr/lieux/centre-spatial-guyanais", "/en/places/guiana-space-centre"},
		{"untranslated place", "en", "/fr/lieux/tour-eiffel", "/en/"},
		{"static page", "en", "/fr/a-propos", "/en/about"},
		{"report page", "en", "/fr/lieux/centre-spatial-guyanais/signaler", "/en/places/guiana-space-centre/report"},
		{"external from", "en", "//evil.example/fr/", "/en/"},
		{"unsupported target", "de", "/en/explore", "/fr/explorer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withPath(httptest.NewRequest(http.MethodGet, "/locale/"+tt.target+"?from="+url.QueryEscape(tt.from), nil), "target", tt.target)
			w := httptest.NewRecorder()
			h.SwitchLocale(w, req)

			assert.Equal(t, http.StatusFound, w.Code)
			assert.Equal(t, tt.want, w.Header().Get("Location"))
			cookies := w.Result().Cookies()
			require.Len(t, cookies, 1)
			assert.Equal(t, "locale", cookies[0].Name)
		})
	}
}

func TestExplorePage(t *testing.T) {
	t.Run("next page link", func(t *testing.T) {
		m := new(MockPlaceFinder)
		next := "abc"
		m.On("Explore", mock.Anything, mock.Anything, mock.Anything, "en", exploreCards, "").
			Return(places.ExplorePage{Places: []places.PlaceCard{{ID: 1, Title: "Baikonur", Slug: "baikonur"}}, NextCursor: &next, HasMorePages: true}, nil)
		h := newPagesHandler(t, m, &submitterStub{})

		w := httptest.NewRecorder()
		h.Explore("en")(w, httptest.NewRequest(http.MethodGet, "/en/explore?q=cosmo", nil))

		require.Equal(t, http.StatusOK, w.Code)
		doc := parseHTML(t, w)
		assert.Equal(t, "/en/explore?cursor=abc&q=cosmo", doc.Find(`a[rel="next"]`).AttrOr("href", ""))
		assert.Equal(t, "cosmo", doc.Find("#q").AttrOr("value", ""))
		assert.Equal(t, "/api/v1/en", doc.Find("#map").AttrOr("data-api", ""))

		filters := m.Calls[0].Arguments.Get(1).(places.ExploreFilters)
		assert.Equal(t, places.ModeWorldwide, filters.Mode)
		assert.Equal(t, "cosmo", filters.Search)
	})

	t.Run("invalid cursor restarts", func(t *testing.T) {
		m := new(MockPlaceFinder)
		m.On("Explore", mock.Anything, mock.Anything, mock.Anything, "fr", exploreCards, "garbage").
			Return(places.ExplorePage{}, places.ErrInvalidCursor)
		h := newPagesHandler(t, m, &submitterStub{})

		w := httptest.NewRecorder()
		h.Explore("fr")(w, httptest.NewRequest(http.MethodGet, "/fr/explorer?cursor=garbage&tags=lanceurs", nil))

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/fr/explorer?tags=lanceurs", w.Header().Get("Location"))
	})

	t.Run("bad list values are reset silently", func(t *testing.T) {
		m := new(MockPlaceFinder)
		next := "abc"
		m.On("Explore", mock.Anything, mock.Anything, mock.Anything, "en", exploreCards, "").
			Return(places.ExplorePage{Places: []places.PlaceCard{{ID: 1, Title: "Baikonur", Slug: "baikonur"}}, NextCursor: &next, HasMorePages: true}, nil)
		h := newPagesHandler(t, m, &submitterStub{})

		w := httptest.NewRecorder()
		h.Explore("en")(w, httptest.NewRequest(http.MethodGet, "/en/explore?q=cosmo&sort=popularity&per_page=7&tags=launchers,Not+A+Slug&mode=orbit", nil))

		require.Equal(t, http.StatusOK, w.Code)
		filters := m.Calls[0].Arguments.Get(1).(places.ExploreFilters)
		assert.Equal(t, "cosmo", filters.Search)
		assert.Equal(t, []string{"launchers"}, filters.TagSlugs)
		assert.Equal(t, places.ModeWorldwide, filters.Mode)

		doc := parseHTML(t, w)
		assert.Equal(t, "/en/explore?cursor=abc&q=cosmo&tags=launchers", doc.Find(`a[rel="next"]`).AttrOr("href", ""))
		assert.Empty(t, doc.Find(".form-error").Text())
	})

	t.Run("allowed page size is kept", func(t *testing.T) {
		m := new(MockPlaceFinder)
		m.On("Explore", mock.Anything, mock.Anything, mock.Anything, "en", 24, "").
			Return(places.ExplorePage{}, nil)
		h := newPagesHandler(t, m, &submitterStub{})

		w := httptest.NewRecorder()
		h.Explore("en")(w, httptest.NewRequest(http.MethodGet, "/en/explore?per_page=24&sort=created_at", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		m.AssertExpectations(t)
	})
}

func proposalForm() url.Values {
	return url.Values{
		"title":                {"Observatoire du Pic du Midi"},
		"description":          {"Coupoles au sommet des Pyrénées."},
		"lat":                  {"42.9364"},
		"lng":                  {"0.1411"},
		"contact_email":        {"astro@example.org"},
		"g-recaptcha-response": {"captcha-ok"},
	}
}

func TestPropose_Get(t *testing.T) {
	h := newPagesHandler(t, new(MockPlaceFinder), &submitterStub{})

	w := httptest.NewRecorder()
	h.Propose("fr")(w, httptest.NewRequest(http.MethodGet, "/fr/proposer", nil))

	require.Equal(t, http.StatusOK, w.Code)
	doc := parseHTML(t, w)
	form := doc.Find("form.proposal")
	assert.Equal(t, "/fr/proposer", form.AttrOr("action", ""))
	assert.Equal(t, "multipart/form-data", form.AttrOr("enctype", ""))
	assert.Equal(t, "tok", form.Find(`input[name="gorilla.csrf.Token"]`).AttrOr("value", ""))
	assert.Equal(t, "site-key", doc.Find(".g-recaptcha").AttrOr("data-sitekey", ""))
	assert.Equal(t, "noindex", doc.Find(`meta[name="robots"]`).AttrOr("content", ""))
}

func TestPropose_Success(t *testing.T) {
	sub := &submitterStub{}
	h := newPagesHandler(t, new(MockPlaceFinder), sub)

	w := httptest.NewRecorder()
	h.Propose("fr")(w, formPost("/fr/proposer", proposalForm()))

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/fr/?sent=proposal", w.Header().Get("Location"))
	require.NotNil(t, sub.place)
	assert.Equal(t, "Observatoire du Pic du Midi", sub.place.Title)
	assert.Equal(t, 42.9364, sub.place.Latitude)
	assert.Equal(t, 0.1411, sub.place.Longitude)
	assert.Equal(t, "fr", sub.place.Locale)
	assert.Equal(t, "captcha-ok", sub.place.CaptchaToken)
	assert.Equal(t, "203.0.113.9", sub.place.RemoteIP)
}

func TestPropose_MultipartPhotos(t *testing.T) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range proposalForm() {
		require.NoError(t, mw.WriteField(k, v[0]))
	}
	part, err := mw.CreateFormFile("photos", "coupole.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte{0xFF, 0xD8, 0xFF, 0xE0})
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/fr/proposer", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	sub := &submitterStub{}
	w := httptest.NewRecorder()
	newPagesHandler(t, new(MockPlaceFinder), sub).Propose("fr")(w, req)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	require.NotNil(t, sub.place)
	require.Len(t, sub.place.Photos, 1)
	assert.Equal(t, "coupole.jpg", sub.place.Photos[0].Filename)
}

type emailField struct {
	Email string `json:"contact_email" validate:"email"`
}

type shortTitle struct {
	Title string `json:"title" validate:"max=3"`
}

type reportType struct {
	Type string `json:"type" validate:"oneof=modification signalement"`
}

func TestPropose_Failures(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(url.Values)
		err     error
		status  int
		field   string
		message string
		called  bool
	}{
		{
			name:    "coordinate not a number",
			edit:    func(v url.Values) { v.Set("lat", "nord") },
			status:  http.StatusUnprocessableEntity,
			field:   "lat",
			message: "doit être un nombre décimal",
		},
		{
			name:    "validation",
			err:     validation.Struct(emailField{Email: "nope"}),
			status:  http.StatusUnprocessableEntity,
			field:   "contact_email",
			message: "doit être une adresse e-mail valide",
			called:  true,
		},
		{
			name:    "validation with parameter",
			err:     validation.Struct(shortTitle{Title: "Observatoire"}),
			status:  http.StatusUnprocessableEntity,
			field:   "title",
			message: "doit contenir au plus 3 caractères",
			called:  true,
		},
		{
			name:    "request rule",
			err:     &requests.ValidationError{Field: "title", Message: "is required", Rule: validation.Rule{Tag: "required"}},
			status:  http.StatusUnprocessableEntity,
			field:   "title",
			message: "est obligatoire",
			called:  true,
		},
		{
			name:    "photo rejected",
			err:     &photos.ValidationError{Reason: "size", Filename: "coupole.jpg", Message: "file exceeds 10 MB", Param: "10"},
			status:  http.StatusUnprocessableEntity,
			field:   "photos",
			message: "coupole.jpg: le fichier dépasse 10 Mo",
			called:  true,
		},
		{
			name:    "photo processing",
			err:     photos.ErrProcessing,
			status:  http.StatusUnprocessableEntity,
			field:   "photos",
			message: "Le traitement des photos a échoué, merci de réessayer avec des fichiers plus légers.",
			called:  true,
		},
		{
			name:    "captcha rejected",
			err:     captcha.ErrVerificationFailed,
			status:  http.StatusUnprocessableEntity,
			field:   "captcha",
			message: "Merci de compléter le captcha et de réessayer.",
			called:  true,
		},
		{
			name:    "captcha provider down",
			err:     captcha.ErrUnavailable,
			status:  http.StatusBadGateway,
			message: "La vérification est indisponible pour le moment. Merci de réessayer dans quelques minutes.",
			called:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := proposalForm()
			if tt.edit != nil {
				tt.edit(form)
			}
			sub := &submitterStub{placeErr: tt.err}
			w := httptest.NewRecorder()
			newPagesHandler(t, new(MockPlaceFinder), sub).Propose("fr")(w, formPost("/fr/proposer", form))

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.called, sub.place != nil)
			doc := parseHTML(t, w)
			if tt.field != "" {
				assert.Equal(t, tt.message, fieldError(doc, tt.field))
			} else {
				assert.Equal(t, tt.message, doc.Find(".form-error").Text())
			}
			assert.Equal(t, "Observatoire du Pic du Midi", doc.Find("#title").AttrOr("value", ""), "values are kept")
		})
	}
}

func TestReport(t *testing.T) {
	newReport := func(sub *submitterStub) (*PagesHandler, *MockPlaceFinder) {
		m := new(MockPlaceFinder)
		m.On("GetPublishedBySlug", mock.Anything, "fr", "centre-spatial-guyanais").Return(kourou(), nil)
		return newPagesHandler(t, m, sub), m
	}
	target := "/fr/lieux/centre-spatial-guyanais/signaler"

	t.Run("form", func(t *testing.T) {
		h, _ := newReport(&submitterStub{})
		w := httptest.NewRecorder()
		h.Report("fr")(w, withPath(httptest.NewRequest(http.MethodGet, target, nil), "slug", "centre-spatial-guyanais"))

		require.Equal(t, http.StatusOK, w.Code)
		doc := parseHTML(t, w)
		assert.Equal(t, target, doc.Find("form.report").AttrOr("action", ""))
		assert.Equal(t, 6, doc.Find(".suggestions input").Length())
		_, checked := doc.Find(`input[value="signalement"]`).Attr("checked")
		assert.True(t, checked)
	})

	t.Run("modification with suggestions", func(t *testing.T) {
		sub := &submitterStub{}
		h, _ := newReport(sub)
		form := url.Values{
			"type":                 {"modification"},
			"message":              {"Le nom officiel a changé."},
			"contact_email":        {"fan@example.org"},
			"change_title":         {"Port spatial de l'Europe"},
			"change_address":       {"  "},
			"g-recaptcha-response": {"captcha-ok"},
		}
		w := httptest.NewRecorder()
		h.Report("fr")(w, withPath(formPost(target, form), "slug", "centre-spatial-guyanais"))

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/fr/lieux/centre-spatial-guyanais?sent=report", w.Header().Get("Location"))
		require.NotNil(t, sub.edit)
		assert.Equal(t, int64(7), sub.edit.PlaceID)
		assert.Equal(t, requests.EditModification, sub.edit.Type)
		assert.Equal(t, map[string]string{"title": "Port spatial de l'Europe"}, sub.edit.SuggestedChanges)
	})

	t.Run("report ignores suggestions", func(t *testing.T) {
		sub := &submitterStub{}
		h, _ := newReport(sub)
		form := url.Values{
			"type":          {"signalement"},
			"message":       {"Le site est fermé."},
			"contact_email": {"fan@example.org"},
			"change_title":  {"Autre"},
		}
		w := httptest.NewRecorder()
		h.Report("fr")(w, withPath(formPost(target, form), "slug", "centre-spatial-guyanais"))

		assert.Equal(t, http.StatusSeeOther, w.Code)
		require.NotNil(t, sub.edit)
		assert.Empty(t, sub.edit.SuggestedChanges)
	})

	t.Run("invalid type", func(t *testing.T) {
		sub := &submitterStub{editErr: validation.Struct(reportType{Type: "other"})}
		h, _ := newReport(sub)
		w := httptest.NewRecorder()
		h.Report("fr")(w, withPath(formPost(target, url.Values{"type": {"other"}}), "slug", "centre-spatial-guyanais"))

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		doc := parseHTML(t, w)
		assert.Equal(t, "doit être l'une des valeurs : modification signalement", doc.Find("fieldset .error").Text())
	})
}
