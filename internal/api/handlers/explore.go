package handlers

import (
	"context"
	"net/http"

	"github.com/spaceplaces/server/internal/api/problem"
	"github.com/spaceplaces/server/internal/domain/places"
	"github.com/spaceplaces/server/internal/domain/taxonomy"
)

// PlaceFinder is the read side of the places service used by public pages.
type PlaceFinder interface {
	Coordinates(ctx context.Context, filters places.ExploreFilters, box *places.BoundingBox, locale string) ([]places.Coordinates, error)
	Explore(ctx context.Context, filters places.ExploreFilters, box *places.BoundingBox, locale string, perPage int, cursor string) (places.ExplorePage, error)
	GetPublishedBySlug(ctx context.Context, locale, slug string) (*places.PlaceDetail, error)
	PhotoURL(key string) string
	SupportsLocale(locale string) bool
}

// TermLister returns the active tags or categories of a locale.
type TermLister interface {
	ListActive(ctx context.Context, kind taxonomy.Kind, locale string) ([]taxonomy.Badge, error)
}

type ExploreHandler struct {
	Places PlaceFinder
	Terms  TermLister
	Env    string
}

func NewExploreHandler(finder PlaceFinder, terms TermLister, env string) *ExploreHandler {
	return &ExploreHandler{Places: finder, Terms: terms, Env: env}
}

type coordinatesResponse struct {
	Coordinates []places.Coordinates `json:"coordinates"`
}

type photoResponse struct {
	URL    string `json:"url"`
	IsMain bool   `json:"is_main"`
}

type publicPlaceResponse struct {
	ID            int64             `json:"id"`
	Locale        string            `json:"locale"`
	Title         string            `json:"title"`
	Slug          string            `json:"slug"`
	Description   string            `json:"description"`
	PracticalInfo string            `json:"practical_info"`
	Latitude      float64           `json:"lat"`
	Longitude     float64           `json:"lng"`
	Address       string            `json:"address"`
	IsFeatured    bool              `json:"is_featured"`
	Photos        []photoResponse   `json:"photos"`
	Tags          []places.TagBadge `json:"tags"`
	Categories    []places.TagBadge `json:"categories"`
	Alternates    map[string]string `json:"alternates"`
}

type termsResponse struct {
	Data []taxonomy.Badge `json:"data"`
}

// locale reads the {locale} path segment of public API routes.
func (h *ExploreHandler) locale(w http.ResponseWriter, r *http.Request) (string, bool) {
	loc := r.PathValue("locale")
	if !h.Places.SupportsLocale(loc) {
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Unsupported locale", nil, h.Env,
			problem.WithDetail("Unknown locale "+loc+"."))
		return "", false
	}
	return loc, true
}

// filters parses the query shared by both explore endpoints: bbox first,
// then tags and search.
func (h *ExploreHandler) filters(r *http.Request) (places.ExploreFilters, *places.BoundingBox, error) {
	values := r.URL.Query()
	box, ok, err := places.ParseBoundingBox(values)
	if err != nil {
		return places.ExploreFilters{}, nil, err
	}
	filters, err := places.ParseExploreFilters(values)
	if err != nil {
		return places.ExploreFilters{}, nil, err
	}
	if !ok {
		return filters, nil, nil
	}
	return filters, &box, nil
}

// Coordinates handles GET /api/v1/{locale}/explore/coordinates.
func (h *ExploreHandler) Coordinates(w http.ResponseWriter, r *http.Request) {
	loc, ok := h.locale(w, r)
	if !ok {
		return
	}
	filters, box, err := h.filters(r)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	items, err := h.Places.Coordinates(r.Context(), filters, box, loc)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, coordinatesResponse{Coordinates: items})
}

// ExplorePlaces handles GET /api/v1/{locale}/explore/places.
func (h *ExploreHandler) ExplorePlaces(w http.ResponseWriter, r *http.Request) {
	loc, ok := h.locale(w, r)
	if !ok {
		return
	}
	filters, box, err := h.filters(r)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	perPage, err := places.ParsePerPage(r.URL.Query())
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	page, err := h.Places.Explore(r.Context(), filters, box, loc, perPage, r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Place handles GET /api/v1/{locale}/places/{slug}.
func (h *ExploreHandler) Place(w http.ResponseWriter, r *http.Request) {
	loc, ok := h.locale(w, r)
	if !ok {
		return
	}
	detail, err := h.Places.GetPublishedBySlug(r.Context(), loc, r.PathValue("slug"))
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, h.publicPlace(loc, detail))
}

func (h *ExploreHandler) publicPlace(loc string, d *places.PlaceDetail) publicPlaceResponse {
	resp := publicPlaceResponse{
		ID:            d.ID,
		Locale:        loc,
		Title:         d.Current.Title,
		Slug:          d.Current.Slug,
		Description:   d.Current.Description,
		PracticalInfo: d.Current.PracticalInfo,
		Latitude:      d.Latitude,
		Longitude:     d.Longitude,
		Address:       d.Address,
		IsFeatured:    d.IsFeatured,
		Photos:        make([]photoResponse, 0, len(d.Photos)),
		Tags:          d.Tags,
		Categories:    d.Categories,
		Alternates:    d.Alternates,
	}
	for _, p := range d.Photos {
		resp.Photos = append(resp.Photos, photoResponse{URL: h.Places.PhotoURL(p.StorageKey), IsMain: p.IsMain})
	}
	if resp.Tags == nil {
		resp.Tags = []places.TagBadge{}
	}
	if resp.Categories == nil {
		resp.Categories = []places.TagBadge{}
	}
	return resp
}

// Tags handles GET /api/v1/{locale}/tags.
func (h *ExploreHandler) Tags(w http.ResponseWriter, r *http.Request) {
	h.terms(w, r, taxonomy.KindTag)
}

// Categories handles GET /api/v1/{locale}/categories.
func (h *ExploreHandler) Categories(w http.ResponseWriter, r *http.Request) {
	h.terms(w, r, taxonomy.KindCategory)
}

func (h *ExploreHandler) terms(w http.ResponseWriter, r *http.Request, kind taxonomy.Kind) {
	loc, ok := h.locale(w, r)
	if !ok {
		return
	}
	badges, err := h.Terms.ListActive(r.Context(), kind, loc)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	if badges == nil {
		badges = []taxonomy.Badge{}
	}
	writeJSON(w, http.StatusOK, termsResponse{Data: badges})
}
