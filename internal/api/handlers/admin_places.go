package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/spaceplaces/server/internal/audit"
	"github.com/spaceplaces/server/internal/domain/places"
	"github.com/spaceplaces/server/internal/listing"
	"github.com/spaceplaces/server/internal/requestctx"
	"github.com/spaceplaces/server/internal/validation"
)

// PlaceAdmin is the write side of the places service.
type PlaceAdmin interface {
	ListAdmin(ctx context.Context, q listing.Query, locale string) ([]places.AdminRow, int, error)
	Get(ctx context.Context, id int64) (*places.Place, error)
	Create(ctx context.Context, params places.CreateParams) (*places.Place, error)
	Update(ctx context.Context, id int64, params places.UpdateParams) (*places.Place, error)
	Delete(ctx context.Context, id int64) error
	SetFeatured(ctx context.Context, id int64, featured bool) error
	PhotoURL(key string) string
}

// PhotoRemover deletes stored photo files.
type PhotoRemover interface {
	Delete(key string) error
}

type AdminPlacesHandler struct {
	Places PlaceAdmin
	Photos PhotoRemover
	Guard  *listing.Guard
	Audit  AuditRecorder
	Env    string
}

func NewAdminPlacesHandler(service PlaceAdmin, photoStore PhotoRemover, guard *listing.Guard, auditLogger AuditRecorder, env string) *AdminPlacesHandler {
	return &AdminPlacesHandler{
		Places: service,
		Photos: photoStore,
		Guard:  guard,
		Audit:  auditOrNop(auditLogger),
		Env:    env,
	}
}

type placeTranslationResponse struct {
	Locale        string `json:"locale"`
	Title         string `json:"title"`
	Slug          string `json:"slug"`
	Description   string `json:"description"`
	PracticalInfo string `json:"practical_info"`
	Status        string `json:"status"`
}

type adminPhotoResponse struct {
	ID           int64  `json:"id"`
	URL          string `json:"url"`
	OriginalName string `json:"original_name"`
	IsMain       bool   `json:"is_main"`
}

type adminPlaceResponse struct {
	ID           int64                      `json:"id"`
	Latitude     float64                    `json:"lat"`
	Longitude    float64                    `json:"lng"`
	Address      string                     `json:"address"`
	IsFeatured   bool                       `json:"is_featured"`
	AdminID      *int64                     `json:"admin_id"`
	RequestID    *int64                     `json:"request_id"`
	Translations []placeTranslationResponse `json:"translations"`
	Photos       []adminPhotoResponse       `json:"photos"`
	TagIDs       []int64                    `json:"tag_ids"`
	CategoryIDs  []int64                    `json:"category_ids"`
	CreatedAt    time.Time                  `json:"created_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
}

// placeRequest is the admin create/update body. Nil fields are left
// unchanged on update.
type placeRequest struct {
	Latitude     *float64                  `json:"lat" validate:"omitempty,latitude"`
	Longitude    *float64                  `json:"lng" validate:"omitempty,longitude"`
	Address      *string                   `json:"address" validate:"omitempty,max=500"`
	IsFeatured   *bool                     `json:"is_featured"`
	Translations []places.TranslationInput `json:"translations" validate:"omitempty,dive"`
	TagIDs       *[]int64                  `json:"tag_ids"`
	CategoryIDs  *[]int64                  `json:"category_ids"`
}

type featureRequest struct {
	Featured bool `json:"featured"`
}

func (h *AdminPlacesHandler) toResponse(p *places.Place) adminPlaceResponse {
	resp := adminPlaceResponse{
		ID:           p.ID,
		Latitude:     p.Latitude,
		Longitude:    p.Longitude,
		Address:      p.Address,
		IsFeatured:   p.IsFeatured,
		AdminID:      p.AdminID,
		RequestID:    p.RequestID,
		Translations: make([]placeTranslationResponse, 0, len(p.Translations)),
		Photos:       make([]adminPhotoResponse, 0, len(p.Photos)),
		TagIDs:       p.TagIDs,
		CategoryIDs:  p.CategoryIDs,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
	for _, t := range p.Translations {
		resp.Translations = append(resp.Translations, placeTranslationResponse{
			Locale:        t.Locale,
			Title:         t.Title,
			Slug:          t.Slug,
			Description:   t.Description,
			PracticalInfo: t.PracticalInfo,
			Status:        string(t.Status),
		})
	}
	for _, ph := range p.Photos {
		resp.Photos = append(resp.Photos, adminPhotoResponse{
			ID:           ph.ID,
			URL:          h.Places.PhotoURL(ph.StorageKey),
			OriginalName: ph.OriginalName,
			IsMain:       ph.IsMain,
		})
	}
	if resp.TagIDs == nil {
		resp.TagIDs = []int64{}
	}
	if resp.CategoryIDs == nil {
		resp.CategoryIDs = []int64{}
	}
	return resp
}

// List handles GET /api/v1/admin/places. Titles are shown in the admin's
// current locale.
func (h *AdminPlacesHandler) List(w http.ResponseWriter, r *http.Request) {
	q, meta, err := adminListQuery(h.Guard, r, listing.Places)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	rows, total, err := h.Places.ListAdmin(r.Context(), q, requestctx.From(r.Context()).Locale)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(rows, total, meta))
}

// Get handles GET /api/v1/admin/places/{id}.
func (h *AdminPlacesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, r, h.Env)
		return
	}
	place, err := h.Places.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(place))
}

// Create handles POST /api/v1/admin/places.
func (h *AdminPlacesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadBody(w, r, err, h.Env)
		return
	}
	missing := validation.FieldErrors{}
	if req.Latitude == nil {
		missing["lat"] = "is required"
	}
	if req.Longitude == nil {
		missing["lng"] = "is required"
	}
	if len(missing) > 0 {
		writeError(w, r, missing, h.Env)
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, r, err, h.Env)
		return
	}

	actor := requestctx.From(r.Context()).Actor
	params := places.CreateParams{
		Latitude:     *req.Latitude,
		Longitude:    *req.Longitude,
		Translations: req.Translations,
	}
	if actor.Authenticated() {
		params.AdminID = &actor.ID
	}
	if req.Address != nil {
		params.Address = *req.Address
	}
	if req.IsFeatured != nil {
		params.IsFeatured = *req.IsFeatured
	}
	if req.TagIDs != nil {
		params.TagIDs = *req.TagIDs
	}
	if req.CategoryIDs != nil {
		params.CategoryIDs = *req.CategoryIDs
	}

	place, err := h.Places.Create(r.Context(), params)
	if err != nil {
		h.Audit.Record(r.Context(), "place.created", "place", 0, audit.StatusFailure, nil)
		writeError(w, r, err, h.Env)
		return
	}
	h.Audit.Record(r.Context(), "place.created", "place", place.ID, audit.StatusSuccess, nil)
	writeJSON(w, http.StatusCreated, h.toResponse(place))
}

// Update handles PUT /api/v1/admin/places/{id}. Sending tag_ids or
// category_ids replaces both pivots.
func (h *AdminPlacesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, r, h.Env)
		return
	}
	var req placeRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadBody(w, r, err, h.Env)
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, r, err, h.Env)
		return
	}

	params := places.UpdateParams{
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		Address:      req.Address,
		IsFeatured:   req.IsFeatured,
		Translations: req.Translations,
	}
	if req.TagIDs != nil || req.CategoryIDs != nil {
		params.ReplaceTaxonomy = true
		current, err := h.Places.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, h.Env)
			return
		}
		params.TagIDs, params.CategoryIDs = current.TagIDs, current.CategoryIDs
		if req.TagIDs != nil {
			params.TagIDs = *req.TagIDs
		}
		if req.CategoryIDs != nil {
			params.CategoryIDs = *req.CategoryIDs
		}
	}

	place, err := h.Places.Update(r.Context(), id, params)
	h.Audit.Record(r.Context(), "place.updated", "place", id, audit.Outcome(err), nil)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(place))
}

// Delete handles DELETE /api/v1/admin/places/{id}. Photo files are removed
// after the rows are gone; a file left behind is only logged.
func (h *AdminPlacesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, r, h.Env)
		return
	}
	place, err := h.Places.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	err = h.Places.Delete(r.Context(), id)
	h.Audit.Record(r.Context(), "place.deleted", "place", id, audit.Outcome(err), nil)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}

	if h.Photos != nil {
		logger := zerolog.Ctx(r.Context())
		for _, ph := range place.Photos {
			if err := h.Photos.Delete(ph.StorageKey); err != nil {
				logger.Warn().Err(err).Int64("place_id", id).Str("key", ph.StorageKey).Msg("photo file not removed")
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// Feature handles POST /api/v1/admin/places/{id}/feature.
func (h *AdminPlacesHandler) Feature(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, r, h.Env)
		return
	}
	var req featureRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadBody(w, r, err, h.Env)
		return
	}
	err := h.Places.SetFeatured(r.Context(), id, req.Featured)
	h.Audit.Record(r.Context(), "place.featured", "place", id, audit.Outcome(err),
		map[string]string{"featured": strconv.FormatBool(req.Featured)})
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_featured": req.Featured})
}
