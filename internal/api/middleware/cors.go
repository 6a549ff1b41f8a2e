package middleware

import (
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/spaceplaces/server/internal/config"
)

// CORS opens the public JSON API to browser clients. Development allows
// every origin; elsewhere only CORS_ALLOWED_ORIGINS are accepted and
// rejected origins are logged.
func CORS(cfg config.CORSConfig, logger zerolog.Logger) func(http.Handler) http.Handler {
	log := logger.With().Str("component", "cors").Logger()
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		allowed[origin] = true
	}

	c := cors.New(cors.Options{
		AllowOriginFunc: func(origin string) bool {
			if cfg.AllowAllOrigins || allowed[origin] {
				return true
			}
			log.Warn().Str("origin", origin).Msg("CORS request rejected: origin not in allow list")
			return false
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Accept", "X-Request-ID", "X-CSRF-Token"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           86400,
	})
	return c.Handler
}
