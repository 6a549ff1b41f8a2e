package api

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"

	"github.com/spaceplaces/server/internal/api/handlers"
	"github.com/spaceplaces/server/internal/api/middleware"
	"github.com/spaceplaces/server/internal/api/render"
	"github.com/spaceplaces/server/internal/audit"
	"github.com/spaceplaces/server/internal/auth"
	"github.com/spaceplaces/server/internal/captcha"
	"github.com/spaceplaces/server/internal/config"
	"github.com/spaceplaces/server/internal/domain/dashboard"
	"github.com/spaceplaces/server/internal/domain/places"
	"github.com/spaceplaces/server/internal/domain/requests"
	"github.com/spaceplaces/server/internal/domain/taxonomy"
	"github.com/spaceplaces/server/internal/domain/users"
	"github.com/spaceplaces/server/internal/email"
	"github.com/spaceplaces/server/internal/geocoding"
	"github.com/spaceplaces/server/internal/geocoding/nominatim"
	"github.com/spaceplaces/server/internal/jobs"
	"github.com/spaceplaces/server/internal/listing"
	"github.com/spaceplaces/server/internal/locale"
	"github.com/spaceplaces/server/internal/metrics"
	"github.com/spaceplaces/server/internal/photos"
	"github.com/spaceplaces/server/internal/seo"
	"github.com/spaceplaces/server/internal/storage/postgres"
	"github.com/spaceplaces/server/internal/telemetry"
	"github.com/spaceplaces/server/internal/translation"
	"github.com/spaceplaces/server/web"
)

const jwtIssuer = "spaceplaces"

// Router is the assembled HTTP handler plus the job client the serve
// command starts and stops.
type Router struct {
	Handler     http.Handler
	RiverClient *river.Client[pgx.Tx]
	Users       *users.Service
}

// routeSet is everything the route table mounts.
type routeSet struct {
	Pages       *handlers.PagesHandler
	Explore     *handlers.ExploreHandler
	Geocoding   *handlers.GeocodingHandler
	Invitations *handlers.InvitationsHandler
	AdminAuth   *handlers.AdminAuthHandler
	Dashboard   *handlers.AdminDashboardHandler
	Places      *handlers.AdminPlacesHandler
	Tags        *handlers.AdminTaxonomyHandler
	Categories  *handlers.AdminTaxonomyHandler
	Requests    *handlers.AdminRequestsHandler
	Users       *handlers.AdminUsersHandler
	Health      *handlers.HealthChecker
	Routes      *locale.Routes
	Locales     *locale.Resolver
	JWT         *auth.JWTManager
	Sessions    middleware.SessionLoader
	PhotoDir    string
	Build       BuildInfo
}

// BuildInfo is stamped at link time.
type BuildInfo struct {
	Version   string
	GitCommit string
	BuildDate string
}

// NewRouter builds repositories, services, the job client and the route
// table. The River client is returned unstarted.
func NewRouter(cfg config.Config, logger zerolog.Logger, pool *pgxpool.Pool, version, gitCommit, buildDate string) (*Router, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	supported := cfg.Locale.Supported
	routes, err := locale.LoadRoutes(supported)
	if err != nil {
		return nil, err
	}
	resolver := locale.NewResolver(cfg.Locale, cfg.Auth.SecureCookie)

	placeRepo := postgres.NewPlaceRepository(pool)
	taxonomyRepo := postgres.NewTaxonomyRepository(pool)
	requestRepo := postgres.NewRequestRepository(pool)
	userRepo := postgres.NewUserRepository(pool)
	geoCacheRepo := postgres.NewGeocodingCacheRepository(pool)

	photoStore, err := photos.NewStore(cfg.Photos, logger)
	if err != nil {
		return nil, err
	}
	mailer, err := email.NewService(cfg.Email, logger)
	if err != nil {
		return nil, err
	}
	auditLogger := audit.NewLogger(logger)
	translator := translation.New(cfg.Translation, logger)
	geocoder := geocoding.NewService(newNominatim(cfg.Geocoding), geocodingCache(ctx, cfg, geoCacheRepo, logger), cfg.Geocoding.CacheTTL, logger)

	placeService := places.NewService(placeRepo, cfg.Photos.PublicPrefix, supported, logger)
	taxonomyService := taxonomy.NewService(taxonomyRepo, supported, logger)

	enqueuer := jobs.NewEnqueuer(nil, jobs.NewRetryPolicy(cfg.Jobs))
	userService := users.NewService(userRepo, enqueuer, auditLogger, cfg.Server.BaseURL, logger)
	requestService := requests.NewService(requests.Deps{
		Repo:       requestRepo,
		Places:     placeService,
		Captcha:    captcha.New(cfg.Captcha, logger),
		Detector:   translator,
		Translator: translator,
		Photos:     photoStore,
		Jobs:       enqueuer,
		Locales:    supported,
		Logger:     logger,
	})

	jobLogger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	workers := jobs.NewWorkers(jobs.Deps{
		Mailer:       mailer,
		Translations: placeRepo,
		Places:       placeRepo,
		Geocoder:     geocoder,
		Users:        userService,
		Cache:        geoCacheRepo,
		Routes:       routes,
		BaseURL:      cfg.Server.BaseURL,
		Language:     cfg.Locale.Default,
		Logger:       jobLogger,
	})
	riverClient, err := jobs.NewClient(pool, cfg.Jobs, workers, jobLogger, []rivertype.Hook{metrics.NewRiverMetricsHook()})
	if err != nil {
		return nil, fmt.Errorf("create job client: %w", err)
	}
	enqueuer.Attach(riverClient)

	messages, err := web.LoadMessages(cfg.Locale.Default)
	if err != nil {
		return nil, err
	}
	renderer, err := render.New(web.Templates(), web.Funcs(messages, routes))
	if err != nil {
		return nil, err
	}

	guard := listing.NewGuard()
	env := cfg.Environment
	jwtManager := auth.NewJWTManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTExpiry, jwtIssuer)

	rs := routeSet{
		Pages: &handlers.PagesHandler{
			Places:    placeService,
			Terms:     taxonomyService,
			Requests:  requestService,
			Routes:    routes,
			Locales:   resolver,
			Switcher:  locale.NewSwitcher(routes, resolver, placeService, logger),
			SEO:       seo.NewResolver(),
			Renderer:  renderer,
			Messages:  messages,
			Lists:     guard,
			CSRFField: middleware.CSRFTemplateField,
			Site: handlers.SiteInfo{
				Name:           cfg.Server.SiteName,
				BaseURL:        cfg.Server.BaseURL,
				CaptchaSiteKey: captchaSiteKey(cfg.Captcha),
				MaxPhotos:      cfg.Photos.MaxCount,
			},
		},
		Explore:     handlers.NewExploreHandler(placeService, taxonomyService, env),
		Geocoding:   handlers.NewGeocodingHandler(geocoder, env),
		Invitations: handlers.NewInvitationsHandler(userService, auditLogger, env),
		AdminAuth:   handlers.NewAdminAuthHandler(userService, jwtManager, auditLogger, cfg.Auth.CookieName, cfg.Auth.SecureCookie, env),
		Dashboard:   handlers.NewAdminDashboardHandler(dashboard.NewService(postgres.NewDashboardRepository(pool)), env),
		Places:      handlers.NewAdminPlacesHandler(placeService, photoStore, guard, auditLogger, env),
		Tags:        handlers.NewAdminTaxonomyHandler(taxonomyService, taxonomy.KindTag, guard, auditLogger, env),
		Categories:  handlers.NewAdminTaxonomyHandler(taxonomyService, taxonomy.KindCategory, guard, auditLogger, env),
		Requests:    handlers.NewAdminRequestsHandler(requestService, photoStore, guard, auditLogger, env),
		Users:       handlers.NewAdminUsersHandler(userService, guard, env),
		Health:      handlers.NewHealthChecker(postgres.NewHealthProbe(pool), true, version, gitCommit),
		Routes:      routes,
		Locales:     resolver,
		JWT:         jwtManager,
		Sessions:    userService,
		PhotoDir:    photoStore.Dir(),
		Build:       BuildInfo{Version: version, GitCommit: gitCommit, BuildDate: buildDate},
	}

	return &Router{
		Handler:     newHandler(cfg, logger, rs),
		RiverClient: riverClient,
		Users:       userService,
	}, nil
}

// newHandler registers every route and wraps the mux in the global chain.
func newHandler(cfg config.Config, logger zerolog.Logger, rs routeSet) http.Handler {
	mux := http.NewServeMux()
	env := cfg.Environment

	limit := middleware.RateLimit(cfg.RateLimit)
	tier := func(t middleware.RateLimitTier, h http.Handler) http.Handler {
		return middleware.WithRateLimitTierHandler(t)(limit(h))
	}
	public := func(h http.Handler) http.Handler {
		return tier(middleware.TierPublic, h)
	}
	protect := middleware.CSRFProtection(csrfKey(cfg.Auth), cfg.Auth.SecureCookie, trustedOrigins(cfg)...)
	cors := middleware.CORS(cfg.CORS, logger)

	// Operations.
	mux.Handle("GET /healthz", handlers.Healthz())
	mux.Handle("GET /readyz", rs.Health.Readyz())
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.Handle("GET /version", VersionHandler(rs.Build.Version, rs.Build.GitCommit, rs.Build.BuildDate))
	mux.Handle("GET /api/v1/openapi.json", cors(OpenAPIHandler()))
	mux.Handle("/robots.txt", web.RobotsTxtHandler())
	mux.Handle("GET /static/", web.StaticHandler())
	if prefix := strings.TrimRight(cfg.Photos.PublicPrefix, "/"); prefix != "" && rs.PhotoDir != "" {
		mux.Handle("GET "+prefix+"/", mediaHandler(prefix, rs.PhotoDir))
	}

	// Public site.
	pages := rs.Pages
	mux.Handle("GET /{$}", public(http.HandlerFunc(pages.Root)))
	mux.Handle("GET /locale/{target}", public(http.HandlerFunc(pages.SwitchLocale)))
	submission := middleware.SubmissionRequestSize(max(cfg.Photos.MaxCount, 1), cfg.Photos.MaxSizeBytes)
	for _, loc := range rs.Locales.Supported() {
		base := "/" + loc + "/"
		segment := func(key string) string { return rs.Routes.Segment(loc, key) }
		form := func(h http.Handler) http.Handler {
			guarded := protect(h)
			return methodMux(map[string]http.Handler{
				http.MethodGet:  public(guarded),
				http.MethodHead: public(guarded),
				http.MethodPost: tier(middleware.TierSubmit, submission(guarded)),
			})
		}

		mux.Handle("GET "+base+"{$}", public(pages.Home(loc)))
		mux.Handle("GET "+base+segment(locale.RouteExplore), public(pages.Explore(loc)))
		mux.Handle("GET "+base+segment(locale.RouteAbout), public(pages.About(loc)))
		mux.Handle("GET "+base+segment(locale.RoutePlaces)+"/{slug}", public(pages.Place(loc)))
		mux.Handle(base+segment(locale.RoutePropose), form(pages.Propose(loc)))
		mux.Handle(base+segment(locale.RoutePlaces)+"/{slug}/"+segment(locale.RouteReport), form(pages.Report(loc)))
	}

	// Public JSON.
	publicJSON := func(h http.HandlerFunc) http.Handler {
		return cors(public(middleware.PublicRequestSize()(h)))
	}
	mux.Handle("OPTIONS /api/v1/", cors(http.HandlerFunc(noContent)))
	mux.Handle("GET /api/v1/{locale}/explore/coordinates", publicJSON(rs.Explore.Coordinates))
	mux.Handle("GET /api/v1/{locale}/explore/places", publicJSON(rs.Explore.ExplorePlaces))
	mux.Handle("GET /api/v1/{locale}/places/{slug}", publicJSON(rs.Explore.Place))
	mux.Handle("GET /api/v1/{locale}/tags", publicJSON(rs.Explore.Tags))
	mux.Handle("GET /api/v1/{locale}/categories", publicJSON(rs.Explore.Categories))
	mux.Handle("GET /api/v1/geocode/search", publicJSON(rs.Geocoding.Search))
	mux.Handle("GET /api/v1/geocode/reverse", publicJSON(rs.Geocoding.Reverse))
	mux.Handle("POST /api/v1/accept-invitation", tier(middleware.TierLogin, middleware.PublicRequestSize()(http.HandlerFunc(rs.Invitations.AcceptInvitation))))

	// Admin JSON.
	mux.Handle("POST /api/v1/admin/login", tier(middleware.TierLogin, middleware.PublicRequestSize()(http.HandlerFunc(rs.AdminAuth.Login))))
	mux.Handle("POST /api/v1/admin/logout", tier(middleware.TierAdmin, http.HandlerFunc(rs.AdminAuth.Logout)))

	sessionCSRF := middleware.SessionCSRF(protect)
	authenticated := middleware.AdminAuth(rs.JWT, rs.Sessions, cfg.Auth.CookieName, env)
	guarded := func(roles ...auth.Role) func(http.HandlerFunc) http.Handler {
		requireRole := middleware.RequireRole(env, roles...)
		return func(h http.HandlerFunc) http.Handler {
			return tier(middleware.TierAdmin, middleware.AdminRequestSize()(sessionCSRF(authenticated(requireRole(h)))))
		}
	}
	admin := guarded(auth.RoleAdmin, auth.RoleSuperAdmin)
	superAdmin := guarded(auth.RoleSuperAdmin)

	mux.Handle("GET /api/v1/admin/dashboard", admin(rs.Dashboard.Get))

	mux.Handle("GET /api/v1/admin/places", admin(rs.Places.List))
	mux.Handle("POST /api/v1/admin/places", admin(rs.Places.Create))
	mux.Handle("GET /api/v1/admin/places/{id}", admin(rs.Places.Get))
	mux.Handle("PUT /api/v1/admin/places/{id}", admin(rs.Places.Update))
	mux.Handle("DELETE /api/v1/admin/places/{id}", admin(rs.Places.Delete))
	mux.Handle("POST /api/v1/admin/places/{id}/feature", admin(rs.Places.Feature))

	for name, h := range map[string]*handlers.AdminTaxonomyHandler{"tags": rs.Tags, "categories": rs.Categories} {
		root := "/api/v1/admin/" + name
		mux.Handle("GET "+root, admin(h.List))
		mux.Handle("POST "+root, admin(h.Create))
		mux.Handle("GET "+root+"/{id}", admin(h.Get))
		mux.Handle("PUT "+root+"/{id}", admin(h.Update))
		mux.Handle("DELETE "+root+"/{id}", admin(h.Delete))
		mux.Handle("POST "+root+"/{id}/toggle-active", admin(h.ToggleActive))
	}

	mux.Handle("GET /api/v1/admin/place-requests", admin(rs.Requests.ListPlaceRequests))
	mux.Handle("GET /api/v1/admin/place-requests/{id}", admin(rs.Requests.GetPlaceRequest))
	mux.Handle("POST /api/v1/admin/place-requests/{id}/accept", admin(rs.Requests.AcceptPlaceRequest))
	mux.Handle("POST /api/v1/admin/place-requests/{id}/refuse", admin(rs.Requests.RefusePlaceRequest))
	mux.Handle("GET /api/v1/admin/edit-requests", admin(rs.Requests.ListEditRequests))
	mux.Handle("GET /api/v1/admin/edit-requests/{id}", admin(rs.Requests.GetEditRequest))
	mux.Handle("POST /api/v1/admin/edit-requests/{id}/accept", admin(rs.Requests.AcceptEditRequest))
	mux.Handle("POST /api/v1/admin/edit-requests/{id}/refuse", admin(rs.Requests.RefuseEditRequest))

	mux.Handle("GET /api/v1/admin/users", superAdmin(rs.Users.List))
	mux.Handle("POST /api/v1/admin/users", superAdmin(rs.Users.Invite))
	mux.Handle("GET /api/v1/admin/users/{id}", superAdmin(rs.Users.Get))
	mux.Handle("DELETE /api/v1/admin/users/{id}", superAdmin(rs.Users.Delete))
	mux.Handle("PUT /api/v1/admin/users/{id}/role", superAdmin(rs.Users.ChangeRole))
	mux.Handle("POST /api/v1/admin/users/{id}/activate", superAdmin(rs.Users.Activate))
	mux.Handle("POST /api/v1/admin/users/{id}/deactivate", superAdmin(rs.Users.Deactivate))
	mux.Handle("POST /api/v1/admin/users/{id}/resend-invitation", superAdmin(rs.Users.ResendInvitation))

	var handler http.Handler = mux
	handler = rs.Locales.Middleware(handler)
	handler = middleware.ClientIP(cfg.RateLimit.TrustedProxyCIDRs)(handler)
	handler = middleware.SecurityHeaders(cfg.Environment == "production")(handler)
	handler = middleware.RequestLogging()(handler)
	handler = metrics.HTTPMiddleware(handler)
	handler = telemetry.Middleware(handler)
	handler = middleware.CorrelationID(logger)(handler)
	return handler
}

func newNominatim(cfg config.GeocodingConfig) *nominatim.Client {
	opts := []nominatim.Option{
		nominatim.WithRateLimit(cfg.RequestsPerSec),
		nominatim.WithUserAgent(cfg.UserAgent),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, nominatim.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	return nominatim.NewClient(cfg.NominatimURL, cfg.Email, opts...)
}

// geocodingCache prefers Redis and falls back to the Postgres table when
// Redis is not configured or cannot be reached.
func geocodingCache(ctx context.Context, cfg config.Config, fallback geocoding.Cache, logger zerolog.Logger) geocoding.Cache {
	if cfg.Redis.URL == "" {
		return fallback
	}
	cache, err := geocoding.NewRedisCache(ctx, cfg.Redis.URL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, geocoding cache uses postgres")
		return fallback
	}
	return cache
}

func captchaSiteKey(cfg config.CaptchaConfig) string {
	if !cfg.Enabled {
		return ""
	}
	return cfg.SiteKey
}

// csrfKey returns the configured key or one derived from the JWT secret so
// tokens survive restarts.
func csrfKey(cfg config.AuthConfig) []byte {
	if cfg.CSRFKey != "" {
		return []byte(cfg.CSRFKey)
	}
	sum := sha256.Sum256([]byte("csrf:" + cfg.JWTSecret))
	return sum[:]
}

// trustedOrigins lists the hosts allowed to post forms besides the request
// host: the public base URL and the CORS origins.
func trustedOrigins(cfg config.Config) []string {
	seen := map[string]bool{}
	var hosts []string
	for _, raw := range append([]string{cfg.Server.BaseURL}, cfg.CORS.AllowedOrigins...) {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || seen[u.Host] {
			continue
		}
		seen[u.Host] = true
		hosts = append(hosts, u.Host)
	}
	return hosts
}

// mediaHandler serves uploaded photos without directory listings.
func mediaHandler(prefix, dir string) http.Handler {
	files := http.StripPrefix(prefix+"/", http.FileServer(http.Dir(dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=86400")
		files.ServeHTTP(w, r)
	})
}

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func methodMux(handlers map[string]http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Allow", allowedMethods(handlers))
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
}

func allowedMethods(handlers map[string]http.Handler) string {
	methods := make([]string, 0, len(handlers))
	for method := range handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}
