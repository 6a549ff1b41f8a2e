package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/spaceplaces/server/internal/api/problem"
	"github.com/spaceplaces/server/internal/auth"
	"github.com/spaceplaces/server/internal/requestctx"
)

var errUnauthenticated = errors.New("authentication required")

// SessionLoader reloads the account a valid token points at.
type SessionLoader interface {
	Session(ctx context.Context, userID int64) (requestctx.Actor, error)
}

// AdminAuth accepts a session token from the admin cookie or a Bearer
// header, reloads the account and stores it as the request actor.
func AdminAuth(manager *auth.JWTManager, sessions SessionLoader, cookieName, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := sessionToken(r, cookieName)
			if manager == nil || token == "" {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", errUnauthenticated, env)
				return
			}

			claims, err := manager.Validate(token)
			if err != nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Invalid token", err, env)
				return
			}
			userID, err := claims.UserID()
			if err != nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Invalid token", err, env)
				return
			}

			actor := requestctx.Actor{ID: userID, Username: claims.Username, Role: claims.Role}
			if sessions != nil {
				actor, err = sessions.Session(r.Context(), userID)
				if err != nil {
					problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Account is not active", err, env)
					return
				}
			}
			if !auth.ValidRole(actor.Role) {
				problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Insufficient permissions", nil, env)
				return
			}

			ctx := requestctx.WithActor(r.Context(), actor)
			log := LoggerFromContext(ctx).With().Int64("actor_id", actor.ID).Logger()
			next.ServeHTTP(w, r.WithContext(log.WithContext(ctx)))
		})
	}
}

// RequireRole rejects actors that do not hold one of roles. It must run
// after AdminAuth.
func RequireRole(env string, roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := requestctx.From(r.Context()).Actor
			if !actor.Authenticated() {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", errUnauthenticated, env)
				return
			}
			if !auth.HasRole(actor.Role, roles...) {
				problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Insufficient permissions", nil, env)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func sessionToken(r *http.Request, cookieName string) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, err := auth.TokenFromHeader(header); err == nil {
			return token
		}
		return ""
	}
	if cookie, err := r.Cookie(cookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}
