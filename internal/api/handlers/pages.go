package handlers

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/spaceplaces/server/internal/api/render"
	"github.com/spaceplaces/server/internal/captcha"
	"github.com/spaceplaces/server/internal/domain/places"
	"github.com/spaceplaces/server/internal/domain/requests"
	"github.com/spaceplaces/server/internal/domain/taxonomy"
	"github.com/spaceplaces/server/internal/listing"
	"github.com/spaceplaces/server/internal/locale"
	"github.com/spaceplaces/server/internal/photos"
	"github.com/spaceplaces/server/internal/requestctx"
	"github.com/spaceplaces/server/internal/seo"
	"github.com/spaceplaces/server/internal/validation"
)

const (
	homeCards       = 6
	exploreCards    = 12
	multipartMemory = 8 << 20
)

// Submitter receives the public proposal and report forms.
type Submitter interface {
	SubmitPlaceRequest(ctx context.Context, in requests.SubmitPlaceInput) (*requests.PlaceRequest, error)
	SubmitEditRequest(ctx context.Context, in requests.SubmitEditInput) (*requests.EditRequest, error)
}

// PageRenderer executes a named page template inside the site layout.
type PageRenderer interface {
	HTML(w http.ResponseWriter, r *http.Request, status int, page string, data any)
}

// Translator looks up interface strings.
type Translator interface {
	T(locale, key string) string
	TParam(locale, key, param string) string
}

// SiteInfo is the static part of every page.
type SiteInfo struct {
	Name           string
	BaseURL        string
	CaptchaSiteKey string
	MaxPhotos      int
}

// PagesHandler serves the public HTML site. Each page method takes the
// locale its route was registered for and returns the handler.
type PagesHandler struct {
	Places    PlaceFinder
	Terms     TermLister
	Requests  Submitter
	Routes    *locale.Routes
	Locales   *locale.Resolver
	Switcher  *locale.Switcher
	SEO       *seo.Resolver
	Renderer  PageRenderer
	Messages  Translator
	Lists     *listing.Guard
	CSRFField func(*http.Request) template.HTML
	Site      SiteInfo
}

type navLinks struct {
	Home    string
	Explore string
	Propose string
	About   string
}

type languageLink struct {
	Locale  string
	URL     string
	Current bool
}

type pageData struct {
	Locale    string
	Page      string
	Site      SiteInfo
	Meta      seo.Meta
	Nav       navLinks
	Languages []languageLink
	CSRFField template.HTML
	Flash     string
	JSONLD    any
	Content   any
}

type homeContent struct {
	Places []places.PlaceCard
	Tags   []taxonomy.Badge
}

type exploreContent struct {
	Places     []places.PlaceCard
	Tags       []taxonomy.Badge
	Query      string
	ActiveTags map[string]bool
	NextURL    string
	APIBase    string
}

type placeContent struct {
	Place      *places.PlaceDetail
	Photos     []string
	ReportPath string
	MapURL     string
}

type formContent struct {
	Action      string
	Values      map[string]string
	Errors      map[string]string
	Error       string
	Place       *places.PlaceDetail
	PlacePath   string
	Suggestions []string
}

var suggestionKeys = []string{"title", "description", "practical_info", "address", "latitude", "longitude"}

var flashes = map[string]string{
	"proposal": "flash.proposal_sent",
	"report":   "flash.report_sent",
}

func (h *PagesHandler) page(r *http.Request, loc, page string, meta seo.Data, content any) pageData {
	meta.Page = page
	meta.Locale = loc
	meta.SiteName = h.Site.Name
	meta.BaseURL = h.Site.BaseURL
	if meta.Path == "" {
		meta.Path = r.URL.Path
	}

	d := pageData{
		Locale:  loc,
		Page:    page,
		Site:    h.Site,
		Meta:    h.SEO.Resolve(r.Context(), meta),
		Content: content,
		Nav: navLinks{
			Home:    locale.Home(loc),
			Explore: h.Routes.Path(loc, locale.RouteExplore),
			Propose: h.Routes.Path(loc, locale.RoutePropose),
			About:   h.Routes.Path(loc, locale.RouteAbout),
		},
	}
	for _, l := range h.Locales.Supported() {
		d.Languages = append(d.Languages, languageLink{
			Locale:  l,
			URL:     "/locale/" + l + "?from=" + url.QueryEscape(r.URL.Path),
			Current: l == loc,
		})
	}
	if h.CSRFField != nil {
		d.CSRFField = h.CSRFField(r)
	}
	q := r.URL.Query()
	if key, ok := flashes[q.Get("sent")]; ok {
		d.Flash = key
	} else if q.Get("notfound") != "" {
		d.Flash = "flash.place_not_found"
	}
	return d
}

// staticAlternates maps every locale to the same route in that locale.
func (h *PagesHandler) staticAlternates(key string) map[string]string {
	out := make(map[string]string)
	for _, l := range h.Locales.Supported() {
		if key == "" {
			out[l] = locale.Home(l)
			continue
		}
		out[l] = h.Routes.Path(l, key)
	}
	return out
}

func (h *PagesHandler) serverError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg(msg)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// Root handles GET / by redirecting to the resolved locale home.
func (h *PagesHandler) Root(w http.ResponseWriter, r *http.Request) {
	loc, _ := h.Locales.Resolve(r)
	http.Redirect(w, r, locale.Home(loc), http.StatusFound)
}

// SwitchLocale handles GET /locale/{target}?from=. Unsafe or missing from
// values land on the target homepage.
func (h *PagesHandler) SwitchLocale(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	if !h.Locales.IsSupported(target) {
		target = h.Locales.Default()
	}
	dest := locale.Home(target)
	if from := r.URL.Query().Get("from"); validation.SafeRedirect(from) {
		dest = h.Switcher.SwitchPath(r.Context(), from, target)
	}
	h.Locales.SetCookie(w, target)
	http.Redirect(w, r, dest, http.StatusFound)
}

// Home handles GET /{locale}/.
func (h *PagesHandler) Home(loc string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		latest, err := h.Places.Explore(r.Context(), places.ExploreFilters{Mode: places.ModeWorldwide}, nil, loc, homeCards, "")
		if err != nil {
			h.serverError(w, r, err, "home: load places")
			return
		}
		tags, err := h.Terms.ListActive(r.Context(), taxonomy.KindTag, loc)
		if err != nil {
			h.serverError(w, r, err, "home: load tags")
			return
		}
		data := h.page(r, loc, seo.PageHome, seo.Data{Alternates: h.staticAlternates("")},
			homeContent{Places: latest.Places, Tags: tags})
		h.Renderer.HTML(w, r, http.StatusOK, "home", data)
	}
}

// Explore handles GET /{locale}/{explore}. The map is driven by the JSON
// API; the server renders the worldwide list so the page works without
// scripts. Stale or invalid query values from shared URLs are dropped
// silently and the valid ones are kept.
func (h *PagesHandler) Explore(loc string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query()
		filters := places.ClampExploreFilters(raw)
		filters.Mode = places.ModeWorldwide
		list := h.Lists.ClampFromURL(listing.Explore, listing.ParseParams(raw))
		perPage := exploreCards
		if list.PerPage != 0 {
			perPage = list.PerPage
		}
		values := exploreValues(filters, list)

		page, err := h.Places.Explore(r.Context(), filters, nil, loc, perPage, raw.Get("cursor"))
		if errors.Is(err, places.ErrInvalidCursor) {
			http.Redirect(w, r, h.Routes.Path(loc, locale.RouteExplore)+encodeQuery(values), http.StatusSeeOther)
			return
		}
		if err != nil {
			h.serverError(w, r, err, "explore: load places")
			return
		}
		tags, err := h.Terms.ListActive(r.Context(), taxonomy.KindTag, loc)
		if err != nil {
			h.serverError(w, r, err, "explore: load tags")
			return
		}

		content := exploreContent{
			Places:     page.Places,
			Tags:       tags,
			Query:      filters.Search,
			ActiveTags: make(map[string]bool, len(filters.TagSlugs)),
			APIBase:    "/api/v1/" + loc,
		}
		for _, s := range filters.TagSlugs {
			content.ActiveTags[s] = true
		}
		if page.NextCursor != nil {
			values.Set("cursor", *page.NextCursor)
			content.NextURL = h.Routes.Path(loc, locale.RouteExplore) + encodeQuery(values)
		}

		data := h.page(r, loc, seo.PageExplore, seo.Data{
			Path:       h.Routes.Path(loc, locale.RouteExplore),
			Alternates: h.staticAlternates(locale.RouteExplore),
		}, content)
		h.Renderer.HTML(w, r, http.StatusOK, "explore", data)
	}
}

// exploreValues rebuilds the explore query string from clamped state,
// without the cursor.
func exploreValues(filters places.ExploreFilters, list listing.Params) url.Values {
	values := url.Values{}
	if filters.Search != "" {
		values.Set("q", filters.Search)
	}
	if len(filters.TagSlugs) > 0 {
		values.Set("tags", strings.Join(filters.TagSlugs, ","))
	}
	if list.Sort != "" {
		values.Set("sort", list.Sort)
	}
	if list.PerPage != 0 {
		values.Set("per_page", strconv.Itoa(list.PerPage))
	}
	return values
}

func encodeQuery(v url.Values) string {
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

// loadPlace fetches the published place behind the {slug} path value. A
// missing place redirects to the homepage with a flash flag.
func (h *PagesHandler) loadPlace(w http.ResponseWriter, r *http.Request, loc string) (*places.PlaceDetail, bool) {
	detail, err := h.Places.GetPublishedBySlug(r.Context(), loc, r.PathValue("slug"))
	if errors.Is(err, places.ErrNotFound) {
		http.Redirect(w, r, locale.Home(loc)+"?notfound=1", http.StatusSeeOther)
		return nil, false
	}
	if err != nil {
		h.serverError(w, r, err, "load place")
		return nil, false
	}
	return detail, true
}

func (h *PagesHandler) placeAlternates(d *places.PlaceDetail) map[string]string {
	out := make(map[string]string, len(d.Alternates))
	for l, s := range d.Alternates {
		out[l] = h.Routes.Path(l, locale.RoutePlaces, s)
	}
	return out
}

// Place handles GET /{locale}/{places}/{slug}.
func (h *PagesHandler) Place(loc string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, ok := h.loadPlace(w, r, loc)
		if !ok {
			return
		}
		path := h.Routes.Path(loc, locale.RoutePlaces, detail.Current.Slug)

		content := placeContent{
			Place:      detail,
			ReportPath: path + "/" + h.Routes.Segment(loc, locale.RouteReport),
			MapURL:     h.Routes.Path(loc, locale.RouteExplore) + "#" + strconv.FormatInt(detail.ID, 10),
		}
		var image string
		for _, p := range detail.Photos {
			u := h.Places.PhotoURL(p.StorageKey)
			content.Photos = append(content.Photos, u)
			if p.IsMain || image == "" {
				image = u
			}
		}

		data := h.page(r, loc, seo.PagePlace, seo.Data{
			Path:       path,
			Title:      detail.Current.Title,
			Body:       detail.Current.Description,
			Image:      image,
			Alternates: h.placeAlternates(detail),
		}, content)

		keywords := make([]string, 0, len(detail.Tags))
		for _, t := range detail.Tags {
			keywords = append(keywords, t.Name)
		}
		data.JSONLD = render.PlaceJSONLD(render.PlaceDoc{
			Name:        detail.Current.Title,
			Description: data.Meta.Description,
			URL:         data.Meta.Canonical,
			Image:       data.Meta.Image,
			Latitude:    detail.Latitude,
			Longitude:   detail.Longitude,
			Address:     detail.Address,
			Language:    loc,
			Keywords:    keywords,
		})
		h.Renderer.HTML(w, r, http.StatusOK, "place", data)
	}
}

// About handles GET /{locale}/{about}.
func (h *PagesHandler) About(loc string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := h.page(r, loc, seo.PageAbout, seo.Data{Alternates: h.staticAlternates(locale.RouteAbout)}, nil)
		h.Renderer.HTML(w, r, http.StatusOK, "about", data)
	}
}

// Propose handles GET and POST /{locale}/{propose}.
func (h *PagesHandler) Propose(loc string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form := formContent{
			Action: h.Routes.Path(loc, locale.RoutePropose),
			Values: map[string]string{},
			Errors: map[string]string{},
		}
		if r.Method != http.MethodPost {
			h.renderForm(w, r, loc, seo.PagePropose, "propose", http.StatusOK, form)
			return
		}

		if status, err := parseSubmission(r); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("proposal form unreadable")
			form.Error = "form.too_large"
			h.renderForm(w, r, loc, seo.PagePropose, "propose", status, form)
			return
		}
		for _, k := range []string{"title", "description", "lat", "lng", "address", "contact_email"} {
			form.Values[k] = r.PostFormValue(k)
		}

		in := requests.SubmitPlaceInput{
			Title:        form.Values["title"],
			Description:  form.Values["description"],
			Address:      form.Values["address"],
			ContactEmail: form.Values["contact_email"],
			Locale:       loc,
			CaptchaToken: captchaToken(r),
			RemoteIP:     requestctx.From(r.Context()).ClientIP,
		}
		var err error
		if in.Latitude, err = parseFormCoordinate(form.Values["lat"]); err != nil {
			form.Errors["lat"] = h.Messages.T(loc, "form.coordinate_invalid")
		}
		if in.Longitude, err = parseFormCoordinate(form.Values["lng"]); err != nil {
			form.Errors["lng"] = h.Messages.T(loc, "form.coordinate_invalid")
		}
		if len(form.Errors) > 0 {
			h.renderForm(w, r, loc, seo.PagePropose, "propose", http.StatusUnprocessableEntity, form)
			return
		}
		if r.MultipartForm != nil {
			in.Photos = r.MultipartForm.File["photos"]
		}

		if _, err := h.Requests.SubmitPlaceRequest(r.Context(), in); err != nil {
			status := h.formFailure(r, loc, err, &form)
			h.renderForm(w, r, loc, seo.PagePropose, "propose", status, form)
			return
		}
		http.Redirect(w, r, locale.Home(loc)+"?sent=proposal", http.StatusSeeOther)
	}
}

// Report handles GET and POST /{locale}/{places}/{slug}/{report}.
func (h *PagesHandler) Report(loc string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, ok := h.loadPlace(w, r, loc)
		if !ok {
			return
		}
		placePath := h.Routes.Path(loc, locale.RoutePlaces, detail.Current.Slug)
		form := formContent{
			Action:      placePath + "/" + h.Routes.Segment(loc, locale.RouteReport),
			Values:      map[string]string{"type": string(requests.EditReport)},
			Errors:      map[string]string{},
			Place:       detail,
			PlacePath:   placePath,
			Suggestions: suggestionKeys,
		}
		if r.Method != http.MethodPost {
			h.renderForm(w, r, loc, seo.PageReport, "report", http.StatusOK, form)
			return
		}

		if status, err := parseSubmission(r); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("report form unreadable")
			form.Error = "form.too_large"
			h.renderForm(w, r, loc, seo.PageReport, "report", status, form)
			return
		}
		for _, k := range []string{"type", "contact_email", "message"} {
			form.Values[k] = r.PostFormValue(k)
		}
		in := requests.SubmitEditInput{
			PlaceID:          detail.ID,
			Type:             requests.EditType(form.Values["type"]),
			ContactEmail:     form.Values["contact_email"],
			Message:          form.Values["message"],
			SuggestedChanges: map[string]string{},
			Locale:           loc,
			CaptchaToken:     captchaToken(r),
			RemoteIP:         requestctx.From(r.Context()).ClientIP,
		}
		if in.Type == requests.EditModification {
			for _, k := range suggestionKeys {
				v := strings.TrimSpace(r.PostFormValue("change_" + k))
				form.Values["change_"+k] = v
				if v != "" {
					in.SuggestedChanges[k] = v
				}
			}
		}

		if _, err := h.Requests.SubmitEditRequest(r.Context(), in); err != nil {
			if errors.Is(err, requests.ErrPlaceNotFound) {
				http.Redirect(w, r, locale.Home(loc)+"?notfound=1", http.StatusSeeOther)
				return
			}
			status := h.formFailure(r, loc, err, &form)
			h.renderForm(w, r, loc, seo.PageReport, "report", status, form)
			return
		}
		http.Redirect(w, r, placePath+"?sent=report", http.StatusSeeOther)
	}
}

func (h *PagesHandler) renderForm(w http.ResponseWriter, r *http.Request, loc, page, tmpl string, status int, form formContent) {
	d := seo.Data{Path: form.Action}
	if form.Place != nil {
		d.Title = form.Place.Current.Title
	} else {
		d.Alternates = h.staticAlternates(locale.RoutePropose)
	}
	h.Renderer.HTML(w, r, status, tmpl, h.page(r, loc, page, d, form))
}

// formFailure turns a submission error into form messages and the status
// the re-rendered form is sent with.
func (h *PagesHandler) formFailure(r *http.Request, loc string, err error, form *formContent) int {
	var (
		violations *validation.Violations
		fieldErrs  validation.FieldErrors
		reqErr     *requests.ValidationError
		photoErr   *photos.ValidationError
	)
	switch {
	case errors.As(err, &violations):
		for field, rule := range violations.Rules {
			form.Errors[field] = h.Messages.TParam(loc, rule.Key(), rule.Param)
		}
	case errors.As(err, &fieldErrs):
		for field := range fieldErrs {
			form.Errors[field] = h.Messages.T(loc, "validation.invalid")
		}
	case errors.As(err, &reqErr):
		form.Errors[reqErr.Field] = h.Messages.TParam(loc, reqErr.Rule.Key(), reqErr.Rule.Param)
	case errors.As(err, &photoErr):
		msg := h.Messages.TParam(loc, photoErr.Key(), photoErr.Param)
		if photoErr.Filename != "" {
			msg = photoErr.Filename + ": " + msg
		}
		form.Errors["photos"] = msg
	case errors.Is(err, photos.ErrProcessing):
		form.Errors["photos"] = h.Messages.T(loc, "photos.processing")
	case errors.Is(err, captcha.ErrVerificationFailed):
		form.Errors["captcha"] = h.Messages.T(loc, "form.captcha_failed")
	case errors.Is(err, captcha.ErrUnavailable):
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("captcha provider unavailable")
		form.Error = "form.captcha_unavailable"
		return http.StatusBadGateway
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("submission failed")
		form.Error = "form.server_error"
		return http.StatusInternalServerError
	}
	return http.StatusUnprocessableEntity
}

// parseSubmission reads a multipart or urlencoded form.
func parseSubmission(r *http.Request) (int, error) {
	err := r.ParseMultipartForm(multipartMemory)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err == nil {
		return http.StatusOK, nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, err
	}
	return http.StatusBadRequest, err
}

func parseFormCoordinate(raw string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(raw), 64)
}

// captchaToken accepts the field names of the supported widgets.
func captchaToken(r *http.Request) string {
	for _, k := range []string{"g-recaptcha-response", "h-captcha-response", "captcha_token"} {
		if v := r.PostFormValue(k); v != "" {
			return v
		}
	}
	return ""
}
