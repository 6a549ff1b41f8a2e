package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaceplaces/server/internal/auth"
	"github.com/spaceplaces/server/internal/domain/users"
)

type authFunc func(ctx context.Context, username, password string) (*users.User, error)

func (f authFunc) Authenticate(ctx context.Context, username, password string) (*users.User, error) {
	return f(ctx, username, password)
}

func newTestAuthHandler(fn authFunc, trail AuditRecorder) (*AdminAuthHandler, *auth.JWTManager) {
	manager := auth.NewJWTManager([]byte("0123456789abcdef0123456789abcdef"), time.Hour, "spaceplaces-test")
	return NewAdminAuthHandler(fn, manager, trail, "sp_admin", true, "test"), manager
}

func TestLogin_Success(t *testing.T) {
	trail := &recordingAudit{}
	handler, manager := newTestAuthHandler(func(_ context.Context, username, password string) (*users.User, error) {
		if username == "ada" && password == "correct horse" {
			return &users.User{ID: 3, Username: "ada", Email: "ada@example.org", Role: "admin"}, nil
		}
		return nil, users.ErrInvalidCredentials
	}, trail)

	w := httptest.NewRecorder()
	handler.Login(w, jsonRequest(http.MethodPost, "/api/v1/admin/login", `{"username":"ada","password":"correct horse"}`))

	require.Equal(t, http.StatusOK, w.Code)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sp_admin", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)

	claims, err := manager.Validate(cookies[0].Value)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	body := decodeBody(t, w)
	assert.Equal(t, cookies[0].Value, body["token"])
	assert.Equal(t, "admin", body["user"].(map[string]any)["role"])
	assert.Equal(t, []string{"admin.login:success"}, trail.actions())
}

func TestLogin_InvalidCredentials(t *testing.T) {
	trail := &recordingAudit{}
	handler, _ := newTestAuthHandler(func(context.Context, string, string) (*users.User, error) {
		return nil, users.ErrInvalidCredentials
	}, trail)

	w := httptest.NewRecorder()
	handler.Login(w, jsonRequest(http.MethodPost, "/api/v1/admin/login", `{"username":"ada","password":"nope"}`))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, w.Result().Cookies())
	assert.Equal(t, []string{"admin.login:failure"}, trail.actions())
	assert.Equal(t, "ada", trail.calls[0].Details["username"])
}

func TestLogin_Validation(t *testing.T) {
	handler, _ := newTestAuthHandler(func(context.Context, string, string) (*users.User, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}, nil)

	for _, body := range []string{``, `{"username":"ada"}`, `{"username":" ","password":"x"}`, `{"user":"ada"}`} {
		w := httptest.NewRecorder()
		handler.Login(w, jsonRequest(http.MethodPost, "/api/v1/admin/login", body))
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
	}
}

func TestLogout_ClearsCookie(t *testing.T) {
	handler, _ := newTestAuthHandler(nil, nil)

	w := httptest.NewRecorder()
	handler.Logout(w, jsonRequest(http.MethodPost, "/api/v1/admin/logout", ""))

	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "sp_admin", cookies[0].Name)
	assert.Equal(t, "", cookies[0].Value)
	assert.True(t, cookies[0].MaxAge < 0)
}
