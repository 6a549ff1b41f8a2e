package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/spaceplaces/server/internal/api/problem"
	"github.com/spaceplaces/server/internal/audit"
	"github.com/spaceplaces/server/internal/auth"
	"github.com/spaceplaces/server/internal/domain/users"
	"github.com/spaceplaces/server/internal/requestctx"
)

// Authenticator checks admin credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*users.User, error)
}

type AdminAuthHandler struct {
	Users        Authenticator
	JWTManager   *auth.JWTManager
	Audit        AuditRecorder
	CookieName   string
	SecureCookie bool
	Env          string
}

func NewAdminAuthHandler(accounts Authenticator, jwtManager *auth.JWTManager, auditLogger AuditRecorder, cookieName string, secureCookie bool, env string) *AdminAuthHandler {
	return &AdminAuthHandler{
		Users:        accounts,
		JWTManager:   jwtManager,
		Audit:        auditOrNop(auditLogger),
		CookieName:   cookieName,
		SecureCookie: secureCookie,
		Env:          env,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string   `json:"token"`
	ExpiresAt string   `json:"expires_at"`
	User      userInfo `json:"user"`
}

type userInfo struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// Login handles POST /api/v1/admin/login.
// The token is returned in the body for API clients and set as an HttpOnly
// cookie for the back-office UI.
func (h *AdminAuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadBody(w, r, err, h.Env)
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Username and password are required", nil, h.Env,
			problem.WithErrors(map[string]interface{}{"username": "is required", "password": "is required"}))
		return
	}

	user, err := h.Users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			h.Audit.Record(r.Context(), "admin.login", "user", 0, audit.StatusFailure, map[string]string{"username": req.Username})
		}
		writeError(w, r, err, h.Env)
		return
	}

	token, expiresAt, err := h.JWTManager.Generate(user.ID, user.Username, user.Role)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	ctx := requestctx.WithActor(r.Context(), requestctx.Actor{ID: user.ID, Username: user.Username, Role: user.Role})
	h.Audit.Record(ctx, "admin.login", "user", user.ID, audit.StatusSuccess, nil)

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
		User: userInfo{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
			Role:     user.Role,
		},
	})
}

// Logout handles POST /api/v1/admin/logout by clearing the session cookie.
func (h *AdminAuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}
