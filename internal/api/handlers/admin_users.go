package handlers

import (
	"context"
	"net/http"

	"github.com/spaceplaces/server/internal/domain/users"
	"github.com/spaceplaces/server/internal/listing"
	"github.com/spaceplaces/server/internal/requestctx"
)

// UserService defines the account management operations. The service
// checks the actor's role and writes its own audit entries.
type UserService interface {
	List(ctx context.Context, actor requestctx.Actor, q listing.Query) ([]users.User, int, error)
	Get(ctx context.Context, actor requestctx.Actor, id int64) (*users.User, error)
	Invite(ctx context.Context, actor requestctx.Actor, in users.InviteInput) (*users.User, error)
	ResendInvitation(ctx context.Context, actor requestctx.Actor, id int64) error
	ChangeRole(ctx context.Context, actor requestctx.Actor, id int64, role string) error
	Deactivate(ctx context.Context, actor requestctx.Actor, id int64) error
	Activate(ctx context.Context, actor requestctx.Actor, id int64) error
	Delete(ctx context.Context, actor requestctx.Actor, id int64) error
}

// AdminUsersHandler serves /api/v1/admin/users. The router only lets super
// admins through.
type AdminUsersHandler struct {
	Users UserService
	Guard *listing.Guard
	Env   string
}

func NewAdminUsersHandler(service UserService, guard *listing.Guard, env string) *AdminUsersHandler {
	return &AdminUsersHandler{Users: service, Guard: guard, Env: env}
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

func actorOf(r *http.Request) requestctx.Actor {
	return requestctx.From(r.Context()).Actor
}

// List handles GET /api/v1/admin/users.
func (h *AdminUsersHandler) List(w http.ResponseWriter, r *http.Request) {
	q, meta, err := adminListQuery(h.Guard, r, listing.Admins)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	items, total, err := h.Users.List(r.Context(), actorOf(r), q)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(items, total, meta))
}

// Get handles GET /api/v1/admin/users/{id}.
func (h *AdminUsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, r, h.Env)
		return
	}
	user, err := h.Users.Get(r.Context(), actorOf(r), id)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Invite handles POST /api/v1/admin/users. The account stays inactive until
// the invitation is accepted.
func (h *AdminUsersHandler) Invite(w http.ResponseWriter, r *http.Request) {
	var in users.InviteInput
	if err := decodeJSON(r, &in, false); err != nil {
		writeBadBody(w, r, err, h.Env)
		return
	}
	user, err := h.Users.Invite(r.Context(), actorOf(r), in)
	if err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// ChangeRole handles PUT /api/v1/admin/users/{id}/role.
func (h *AdminUsersHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, r, h.Env)
		return
	}
	var req changeRoleRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadBody(w, r, err, h.Env)
		return
	}
	if err := h.Users.ChangeRole(r.Context(), actorOf(r), id, req.Role); err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Role updated"})
}

// Deactivate handles POST /api/v1/admin/users/{id}/deactivate.
func (h *AdminUsersHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.Users.Deactivate, "User deactivated")
}

// Activate handles POST /api/v1/admin/users/{id}/activate.
func (h *AdminUsersHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.Users.Activate, "User activated")
}

// ResendInvitation handles POST /api/v1/admin/users/{id}/resend-invitation.
func (h *AdminUsersHandler) ResendInvitation(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.Users.ResendInvitation, "Invitation sent")
}

// Delete handles DELETE /api/v1/admin/users/{id}.
func (h *AdminUsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, r, h.Env)
		return
	}
	if err := h.Users.Delete(r.Context(), actorOf(r), id); err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminUsersHandler) action(w http.ResponseWriter, r *http.Request, fn func(context.Context, requestctx.Actor, int64) error, message string) {
	id, ok := pathID(r, "id")
	if !ok {
		writeBadID(w, r, h.Env)
		return
	}
	if err := fn(r.Context(), actorOf(r), id); err != nil {
		writeError(w, r, err, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: message})
}
