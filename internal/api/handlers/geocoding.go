package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/spaceplaces/server/internal/api/problem"
	"github.com/spaceplaces/server/internal/geocoding"
	"github.com/spaceplaces/server/internal/requestctx"
)

// OSMAttribution is the attribution string required by OpenStreetMap usage policy
const OSMAttribution = "Data © OpenStreetMap contributors, ODbL 1.0"

// Geocoder defines the geocoding operations used by the proposal form.
type Geocoder interface {
	Search(ctx context.Context, query, language string, limit int) ([]geocoding.Result, error)
	Reverse(ctx context.Context, lat, lng float64, language string) (*geocoding.Result, error)
}

type GeocodingHandler struct {
	Service Geocoder
	Env     string
}

func NewGeocodingHandler(service Geocoder, env string) *GeocodingHandler {
	return &GeocodingHandler{Service: service, Env: env}
}

type geocodeSearchResponse struct {
	Results     []geocoding.Result `json:"results"`
	Attribution string             `json:"attribution"`
}

type geocodeReverseResponse struct {
	geocoding.Result
	Attribution string `json:"attribution"`
}

// Search handles GET /api/v1/geocode/search?q=&limit=.
func (h *GeocodingHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Missing required parameter",
			errors.New("query parameter 'q' is required"), h.Env,
			problem.WithErrors(map[string]interface{}{"q": "is required"}))
		return
	}
	limit := 5
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}

	results, err := h.Service.Search(r.Context(), query, requestctx.From(r.Context()).Locale, limit)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, geocodeSearchResponse{Results: results, Attribution: OSMAttribution})
}

// Reverse handles GET /api/v1/geocode/reverse?lat=&lng=.
func (h *GeocodingHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	lat, latErr := parseCoordinate(r.URL.Query().Get("lat"), 90)
	lng, lngErr := parseCoordinate(r.URL.Query().Get("lng"), 180)
	if latErr != "" || lngErr != "" {
		errs := map[string]interface{}{}
		if latErr != "" {
			errs["lat"] = latErr
		}
		if lngErr != "" {
			errs["lng"] = lngErr
		}
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid coordinates", nil, h.Env,
			problem.WithErrors(errs))
		return
	}

	result, err := h.Service.Reverse(r.Context(), lat, lng, requestctx.From(r.Context()).Locale)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, geocodeReverseResponse{Result: *result, Attribution: OSMAttribution})
}

// parseCoordinate returns a display message when raw is not a number
// within [-limit, limit].
func parseCoordinate(raw string, limit float64) (float64, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, "is required"
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, "must be a number"
	}
	if v < -limit || v > limit {
		return 0, "must be between -" + strconv.FormatFloat(limit, 'f', -1, 64) + " and " + strconv.FormatFloat(limit, 'f', -1, 64)
	}
	return v, ""
}
