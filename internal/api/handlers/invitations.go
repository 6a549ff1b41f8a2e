package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/spaceplaces/server/internal/api/problem"
	"github.com/spaceplaces/server/internal/audit"
	"github.com/spaceplaces/server/internal/auth"
	"github.com/spaceplaces/server/internal/domain/users"
)

// InvitationAccepter activates an invited account.
type InvitationAccepter interface {
	AcceptInvitation(ctx context.Context, token, password string) (*users.User, error)
}

// InvitationsHandler handles the public (unauthenticated) invitation
// acceptance endpoint.
type InvitationsHandler struct {
	Users InvitationAccepter
	Audit AuditRecorder
	Env   string
}

func NewInvitationsHandler(service InvitationAccepter, auditLogger AuditRecorder, env string) *InvitationsHandler {
	return &InvitationsHandler{Users: service, Audit: auditOrNop(auditLogger), Env: env}
}

type acceptInvitationRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type acceptInvitationResponse struct {
	Message string   `json:"message"`
	User    userInfo `json:"user"`
}

// AcceptInvitation handles POST /api/v1/accept-invitation.
func (h *InvitationsHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req acceptInvitationRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadBody(w, r, err, h.Env)
		return
	}
	missing := map[string]interface{}{}
	if req.Token == "" {
		missing["token"] = "is required"
	}
	if req.Password == "" {
		missing["password"] = "is required"
	}
	if len(missing) > 0 {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Missing required fields", nil, h.Env,
			problem.WithErrors(missing))
		return
	}

	user, err := h.Users.AcceptInvitation(r.Context(), req.Token, req.Password)
	if err != nil {
		reason := "internal_error"
		switch {
		case errors.Is(err, users.ErrInvalidToken):
			reason = "invalid_or_expired_token"
		case errors.Is(err, auth.ErrWeakPassword):
			reason = "weak_password"
		}
		// Only a prefix of the token reaches the audit trail.
		preview := req.Token
		if len(preview) > 8 {
			preview = preview[:8] + "..."
		}
		h.Audit.Record(r.Context(), "user.invitation_accept_failed", "user", 0, audit.StatusFailure,
			map[string]string{"reason": reason, "token_preview": preview})
		writeError(w, r, err, h.Env)
		return
	}

	writeJSON(w, http.StatusOK, acceptInvitationResponse{
		Message: "Invitation accepted. You can now sign in.",
		User: userInfo{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
			Role:     user.Role,
		},
	})
}
