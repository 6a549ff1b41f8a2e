package middleware

import (
	"net/http"
)

const (
	// DefaultMaxBodySize is 1MB for public JSON and form endpoints.
	DefaultMaxBodySize int64 = 1 << 20

	// AdminMaxBodySize is 5MB for admin endpoints.
	AdminMaxBodySize int64 = 5 << 20
)

// RequestSize wraps the request body with http.MaxBytesReader. Reads past
// maxBytes fail and the server answers 413.
func RequestSize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func PublicRequestSize() func(http.Handler) http.Handler {
	return RequestSize(DefaultMaxBodySize)
}

func AdminRequestSize() func(http.Handler) http.Handler {
	return RequestSize(AdminMaxBodySize)
}

// SubmissionRequestSize fits a proposal form carrying maxPhotos photos of
// at most photoBytes each, plus 1MB for the text fields.
func SubmissionRequestSize(maxPhotos int, photoBytes int64) func(http.Handler) http.Handler {
	return RequestSize(int64(maxPhotos)*photoBytes + DefaultMaxBodySize)
}
