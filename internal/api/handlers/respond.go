package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/spaceplaces/server/internal/api/problem"
	"github.com/spaceplaces/server/internal/auth"
	"github.com/spaceplaces/server/internal/captcha"
	"github.com/spaceplaces/server/internal/domain/places"
	"github.com/spaceplaces/server/internal/domain/requests"
	"github.com/spaceplaces/server/internal/domain/taxonomy"
	"github.com/spaceplaces/server/internal/domain/users"
	"github.com/spaceplaces/server/internal/geocoding"
	"github.com/spaceplaces/server/internal/listing"
	"github.com/spaceplaces/server/internal/photos"
	"github.com/spaceplaces/server/internal/validation"
)

const contentTypeJSON = "application/json"

// AuditRecorder writes one audit entry per admin state change.
type AuditRecorder interface {
	Record(ctx context.Context, action, resourceType string, resourceID int64, status string, details map[string]string)
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, string, string, int64, string, map[string]string) {}

func auditOrNop(a AuditRecorder) AuditRecorder {
	if a == nil {
		return nopAudit{}
	}
	return a
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type messageResponse struct {
	Message string `json:"message"`
}

var errEmptyBody = errors.New("request body is empty")

// decodeJSON reads a single JSON document into dst. allowEmpty keeps dst
// untouched when the body is empty.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	if r.Body == nil {
		if allowEmpty {
			return nil
		}
		return errEmptyBody
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if allowEmpty {
				return nil
			}
			return errEmptyBody
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON: trailing data")
	}
	return nil
}

func writeBadBody(w http.ResponseWriter, r *http.Request, err error, env string) {
	problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err,
		env, problem.WithDetail("The request body must be a valid JSON document."))
}

// pathID parses a positive int64 path parameter.
func pathID(r *http.Request, key string) (int64, bool) {
	raw := strings.TrimSpace(r.PathValue(key))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func writeBadID(w http.ResponseWriter, r *http.Request, env string) {
	problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Not found", nil, env)
}

// writeError maps domain errors to problem responses. Unknown errors
// become 500s whose detail only shows outside production.
func writeError(w http.ResponseWriter, r *http.Request, err error, env string) {
	var (
		fieldErrs   validation.FieldErrors
		listErr     *listing.FieldError
		requestErr  *requests.ValidationError
		photoErr    *photos.ValidationError
		placeFilter places.FilterError
	)

	switch {
	case errors.As(err, &fieldErrs):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Validation failed", err, env,
			problem.WithErrors(fieldErrs.AsMap()))
	case errors.As(err, &requestErr):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Validation failed", err, env,
			problem.WithDetail(requestErr.Error()),
			problem.WithErrors(map[string]interface{}{requestErr.Field: requestErr.Message}))
	case errors.As(err, &listErr):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid list parameter", err, env,
			problem.WithDetail(listErr.Error()),
			problem.WithErrors(map[string]interface{}{listErr.Field: listErr.Message}))
	case errors.Is(err, places.ErrInvalidCursor):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeInvalidCursor, "Invalid cursor", err, env,
			problem.WithDetail("The pagination cursor is malformed or expired. Restart from the first page."))
	case errors.As(err, &placeFilter):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid filter", err, env,
			problem.WithDetail(placeFilter.Error()),
			problem.WithErrors(map[string]interface{}{placeFilter.Field: placeFilter.Message}))
	case errors.As(err, &photoErr):
		problem.Write(w, r, http.StatusBadRequest, problem.TypePhotos, "Photo rejected", err, env,
			problem.WithDetail(photoErr.Error()))
	case errors.Is(err, photos.ErrProcessing):
		problem.Write(w, r, http.StatusBadRequest, problem.TypePhotos, "Photo processing failed", err, env,
			problem.WithDetail(photos.ErrProcessing.Error()))

	case errors.Is(err, auth.ErrWeakPassword):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Password too weak", err, env,
			problem.WithDetail(err.Error()),
			problem.WithErrors(map[string]interface{}{"password": strings.TrimPrefix(err.Error(), auth.ErrWeakPassword.Error()+": ")}))
	case errors.Is(err, users.ErrInvalidToken):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid or expired invitation", err, env,
			problem.WithDetail("The invitation token is invalid or has expired."))
	case errors.Is(err, users.ErrInvalidCredentials):
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Invalid credentials", err, env,
			problem.WithDetail(users.ErrInvalidCredentials.Error()))

	case errors.Is(err, requests.ErrForbiddenTransition):
		problem.Write(w, r, http.StatusConflict, problem.TypeForbiddenTransition, "Forbidden transition", err, env,
			problem.WithDetail("The request's current status does not allow this action."))

	case errors.Is(err, places.ErrSlugTaken), errors.Is(err, taxonomy.ErrSlugTaken):
		problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Slug already used", err, env,
			problem.WithDetail("Another entry already uses this slug in the same locale."))
	case errors.Is(err, users.ErrEmailTaken):
		problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Email already taken", err, env,
			problem.WithErrors(map[string]interface{}{"email": "is already taken"}))
	case errors.Is(err, users.ErrUsernameTaken):
		problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Username already taken", err, env,
			problem.WithErrors(map[string]interface{}{"username": "is already taken"}))
	case errors.Is(err, users.ErrUserAlreadyActive):
		problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "User is already active", err, env)

	case errors.Is(err, users.ErrForbidden):
		problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Insufficient permissions", err, env)
	case errors.Is(err, users.ErrSelfAction):
		problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Not allowed on your own account", err, env,
			problem.WithDetail(users.ErrSelfAction.Error()))

	case errors.Is(err, places.ErrNotFound),
		errors.Is(err, requests.ErrNotFound),
		errors.Is(err, requests.ErrPlaceNotFound),
		errors.Is(err, taxonomy.ErrNotFound),
		errors.Is(err, users.ErrUserNotFound):
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Not found", err, env)

	case errors.Is(err, captcha.ErrVerificationFailed):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeCaptcha, "Captcha verification failed", err, env,
			problem.WithDetail("Please complete the captcha and try again."))
	case errors.Is(err, geocoding.ErrInvalidQuery):
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid geocoding query", err, env,
			problem.WithDetail("q must be between 1 and 200 characters."))
	case errors.Is(err, geocoding.ErrNoResults):
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "No results", err, env)
	case errors.Is(err, captcha.ErrUnavailable), errors.Is(err, geocoding.ErrUpstream):
		problem.Write(w, r, http.StatusBadGateway, problem.TypeUpstream, "Upstream service unavailable", err, env)

	default:
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, env)
	}
}
