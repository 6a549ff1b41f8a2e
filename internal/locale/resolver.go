package locale

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/spaceplaces/server/internal/config"
	"github.com/spaceplaces/server/internal/requestctx"
)

// Resolver picks the request locale: path prefix, then cookie, then
// Accept-Language, then the default.
type Resolver struct {
	supported  []string
	def        string
	cookieName string
	cookieAge  time.Duration
	secure     bool
	matcher    language.Matcher
}

func NewResolver(cfg config.LocaleConfig, secureCookie bool) *Resolver {
	tags := make([]language.Tag, 0, len(cfg.Supported))
	// The default goes first so the matcher falls back to it.
	ordered := append([]string{cfg.Default}, cfg.Supported...)
	seen := map[string]bool{}
	var supported []string
	for _, loc := range ordered {
		if loc == "" || seen[loc] {
			continue
		}
		seen[loc] = true
		supported = append(supported, loc)
		tags = append(tags, language.Make(loc))
	}
	return &Resolver{
		supported:  supported,
		def:        cfg.Default,
		cookieName: cfg.CookieName,
		cookieAge:  time.Duration(cfg.CookieDays) * 24 * time.Hour,
		secure:     secureCookie,
		matcher:    language.NewMatcher(tags),
	}
}

func (res *Resolver) Default() string {
	return res.def
}

func (res *Resolver) Supported() []string {
	return res.supported
}

func (res *Resolver) IsSupported(locale string) bool {
	for _, l := range res.supported {
		if l == locale {
			return true
		}
	}
	return false
}

// FromPath returns the locale prefix of path when it is supported.
func (res *Resolver) FromPath(path string) (string, bool) {
	trimmed := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[:i]
	}
	if res.IsSupported(trimmed) {
		return trimmed, true
	}
	return "", false
}

// Resolve returns the locale for r and whether it came from the path.
func (res *Resolver) Resolve(r *http.Request) (string, bool) {
	if loc, ok := res.FromPath(r.URL.Path); ok {
		return loc, true
	}
	if c, err := r.Cookie(res.cookieName); err == nil && res.IsSupported(c.Value) {
		return c.Value, false
	}
	if header := r.Header.Get("Accept-Language"); header != "" {
		if loc := res.match(header); loc != "" {
			return loc, false
		}
	}
	return res.def, false
}

func (res *Resolver) match(header string) string {
	prefs, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(prefs) == 0 {
		return ""
	}
	_, index, confidence := res.matcher.Match(prefs...)
	if confidence == language.No {
		return ""
	}
	return res.supported[index]
}

// SetCookie remembers locale for later visits.
func (res *Resolver) SetCookie(w http.ResponseWriter, locale string) {
	http.SetCookie(w, &http.Cookie{
		Name:     res.cookieName,
		Value:    locale,
		Path:     "/",
		MaxAge:   int(res.cookieAge.Seconds()),
		HttpOnly: true,
		Secure:   res.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Middleware stores the resolved locale in the request context and
// refreshes the cookie when the path names a locale.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loc, fromPath := res.Resolve(r)
		if fromPath {
			if c, err := r.Cookie(res.cookieName); err != nil || c.Value != loc {
				res.SetCookie(w, loc)
			}
		}
		w.Header().Set("Content-Language", loc)
		next.ServeHTTP(w, r.WithContext(requestctx.WithLocale(r.Context(), loc)))
	})
}
