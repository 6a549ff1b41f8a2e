package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/spaceplaces/server/internal/audit"
	"github.com/spaceplaces/server/internal/domain/places"
	"github.com/spaceplaces/server/internal/domain/requests"
	"github.com/spaceplaces/server/internal/listing"
)

// Moderator runs the moderation workflow on both request kinds.
type Moderator interface {
	ListPlaceRequests(ctx context.Context, q listing.Query) ([]requests.PlaceRequest, int, error)
	ListEditRequests(ctx context.Context, q listing.Query) ([]requests.EditRequest, int, error)
	ViewPlaceRequest(ctx context.Context, id, actorID int64) (*requests.PlaceRequest, error)
	ViewEditRequest(ctx context.Context, id, actorID int64) (*requests.EditRequest, error)
	AcceptPlaceRequest(ctx context.Context, id, actorID int64, in requests.AcceptInput) (*places.Place, error)
	AcceptEditRequest(ctx context.Context, id, actorID int64) error
	Refuse(ctx context.Context, kind requests.Kind, id, actorID int64, reason string) error
}

// PhotoLinker turns a storage key into a public URL.
type PhotoLinker interface {
	URL(key string) string
}

type AdminRequestsHandler struct {
	Requests Moderator
	Photos   PhotoLinker
	Guard    *listing.Guard
	Audit    AuditRecorder
	Env      string
}

func NewAdminRequestsHandler(service Moderator, photoLinks PhotoLinker, guard *listing.Guard, auditLogger AuditRecorder, env string) *AdminRequestsHandler {
	return &AdminRequestsHandler{
		Requests: service,
		Photos:   photoLinks,
		Guard:    guard,
		Audit:    auditOrNop(auditLogger),
		Env:      env,
	}
}

type placeRequestResponse struct {
	*requests.PlaceRequest
	PhotoURLs []string `json:"photo_urls"`
}

type refuseRequest struct {
	Reason string `json:"reason"`
}

type acceptedPlaceResponse struct {
	RequestID int64 `json:"request_id"`
	PlaceID   int64 `json:"place_id"`
}

func (h *AdminRequestsHandler) withPhotos(req *requests.PlaceRequest) placeRequestResponse {
	out := placeRequestResponse{PlaceRequest: req, PhotoURLs: make([]string, 0, len(req.Photos))}
	if h.Photos != nil {
		for _, p := range req.Photos {
			out.PhotoURLs = append(out.PhotoURLs, h.Photos.URL(p.StorageKey))
		}
	}
	return out
}

// ListPlaceRequests handles GET /api/v1/admin/place-requests.
func (h *AdminRequestsHandler) ListPlaceRequests(w http.ResponseWriter, r *http.Request) {
	q, meta, err := adminListQuery(h.Guard, r, listing.PlaceRequests)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	items, total, err := h.Requests.ListPlaceRequests(r.Context(), q)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(items, total, meta))
}

// ListEditRequests handles GET /api/v1/admin/edit-requests.
func (h *AdminRequestsHandler) ListEditRequests(w http.ResponseWriter, r *http.Request) {
	q, meta, err := adminListQuery(h.Guard, r, listing.EditRequests)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	items, total, err := h.Requests.ListEditRequests(r.Context(), q)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(items, total, meta))
}

// GetPlaceRequest handles GET /api/v1/admin/place-requests/{id}. Opening a
// submitted request moves it to pending.
func (h *AdminRequestsHandler) GetPlaceRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, r, h.Env)
		return
	}
	req, err := h.Requests.ViewPlaceRequest(r.Context(), id, actorOf(r).ID)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, h.withPhotos(req))
}

// GetEditRequest handles GET /api/v1/admin/edit-requests/{id}.
func (h *AdminRequestsHandler) GetEditRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, r, h.Env)
		return
	}
	req, err := h.Requests.ViewEditRequest(r.Context(), id, actorOf(r).ID)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// AcceptPlaceRequest handles POST /api/v1/admin/place-requests/{id}/accept.
// An empty body publishes the request as submitted.
func (h *AdminRequestsHandler) AcceptPlaceRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, r, h.Env)
		return
	}
	var in requests.AcceptInput
	if err := decodeJSON(r, &in, true); err != nil {
		writeBadBody(w, r, err, h.Env)
		return
	}
	place, err := h.Requests.AcceptPlaceRequest(r.Context(), id, actorOf(r).ID, in)
	if err != nil {
		h.Audit.Record(r.Context(), "place_request.accepted", "place_request", id, audit.StatusFailure, nil)
		writeError(w, r, err, h.Env)
		return
	}
	h.Audit.Record(r.Context(), "place_request.accepted", "place_request", id, audit.StatusSuccess,
		map[string]string{"place_id": strconv.FormatInt(place.ID, 10)})
	writeJSON(w, http.StatusOK, acceptedPlaceResponse{RequestID: id, PlaceID: place.ID})
}

// AcceptEditRequest handles POST /api/v1/admin/edit-requests/{id}/accept.
func (h *AdminRequestsHandler) AcceptEditRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, r, h.Env)
		return
	}
	err := h.Requests.AcceptEditRequest(r.Context(), id, actorOf(r).ID)
	h.Audit.Record(r.Context(), "edit_request.accepted", "edit_request", id, audit.Outcome(err), nil)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Edit request accepted"})
}

// RefusePlaceRequest handles POST /api/v1/admin/place-requests/{id}/refuse.
func (h *AdminRequestsHandler) RefusePlaceRequest(w http.ResponseWriter, r *http.Request) {
	h.refuse(w, r, requests.KindPlace, "place_request")
}

// RefuseEditRequest handles POST /api/v1/admin/edit-requests/{id}/refuse.
func (h *AdminRequestsHandler) RefuseEditRequest(w http.ResponseWriter, r *http.Request) {
	h.refuse(w, r, requests.KindEdit, "edit_request")
}

func (h *AdminRequestsHandler) refuse(w http.ResponseWriter, r *http.Request, kind requests.Kind, resource string) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, r, h.Env)
		return
	}
	var req refuseRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeBadBody(w, r, err, h.Env)
		return
	}
	err := h.Requests.Refuse(r.Context(), kind, id, actorOf(r).ID, req.Reason)
	h.Audit.Record(r.Context(), resource+".refused", resource, id, audit.Outcome(err), nil)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Request refused"})
}
