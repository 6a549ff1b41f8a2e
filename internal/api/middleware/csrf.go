package middleware

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/gorilla/csrf"

	"github.com/spaceplaces/server/internal/api/problem"
)

// CSRFHeader carries the token for JSON clients. Safe admin responses echo
// a fresh token in it.
const CSRFHeader = "X-CSRF-Token"

// CSRFProtection guards state-changing requests that rely on cookies: the
// public proposal and report forms, and admin calls made with the session
// cookie. Without secure the requests are marked plaintext so the
// Referer check that only makes sense over TLS is skipped.
func CSRFProtection(authKey []byte, secure bool, trustedOrigins ...string) func(http.Handler) http.Handler {
	protect := csrf.Protect(authKey,
		csrf.Secure(secure),
		csrf.Path("/"),
		csrf.HttpOnly(true),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.RequestHeader(CSRFHeader),
		csrf.TrustedOrigins(trustedOrigins),
		csrf.ErrorHandler(http.HandlerFunc(csrfErrorHandler)),
	)
	return func(next http.Handler) http.Handler {
		protected := protect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !secure {
				r = csrf.PlaintextHTTPRequest(r)
			}
			protected.ServeHTTP(w, r)
		})
	}
}

// SessionCSRF applies protect only to requests authenticated by cookie.
// Bearer-token clients cannot be driven cross-site and skip it.
func SessionCSRF(protect func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		protected := protect(exposeCSRFToken(next))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
				next.ServeHTTP(w, r)
				return
			}
			protected.ServeHTTP(w, r)
		})
	}
}

func exposeCSRFToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			w.Header().Set(CSRFHeader, csrf.Token(r))
		}
		next.ServeHTTP(w, r)
	})
}

func csrfErrorHandler(w http.ResponseWriter, r *http.Request) {
	problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "CSRF token validation failed",
		csrf.FailureReason(r), "", problem.WithDetail("Reload the page and try again."))
}

// CSRFToken returns the masked token for embedding in forms.
func CSRFToken(r *http.Request) string {
	return csrf.Token(r)
}

// CSRFTemplateField renders the hidden input gorilla/csrf expects.
func CSRFTemplateField(r *http.Request) template.HTML {
	return csrf.TemplateField(r)
}
