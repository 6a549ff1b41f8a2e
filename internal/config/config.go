package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Auth           AuthConfig
	RateLimit      RateLimitConfig
	AdminBootstrap AdminBootstrapConfig
	Email          EmailConfig
	Geocoding      GeocodingConfig
	Translation    TranslationConfig
	Captcha        CaptchaConfig
	Photos         PhotosConfig
	Locale         LocaleConfig
	Redis          RedisConfig
	Jobs           JobsConfig
	Tracing        TracingConfig
	Logging        LoggingConfig
	CORS           CORSConfig
	Environment    string
}

type ServerConfig struct {
	Host     string
	Port     int
	BaseURL  string
	SiteName string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdle        int
	MigrationsPath string
}

type AuthConfig struct {
	JWTSecret    string
	JWTExpiry    time.Duration
	CSRFKey      string
	CookieName   string
	SecureCookie bool
}

type RateLimitConfig struct {
	PublicPerMinute   int
	SubmitPerMinute   int
	AdminPerMinute    int
	LoginPer15Minutes int
	TrustedProxyCIDRs []string
}

type AdminBootstrapConfig struct {
	Username string
	Password string
	Email    string
}

type EmailConfig struct {
	Enabled      bool
	Provider     string // "resend" or "smtp"
	From         string
	AdminNotify  string
	ResendAPIKey string
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
}

type GeocodingConfig struct {
	NominatimURL   string
	UserAgent      string
	Email          string
	RequestsPerSec float64
	Timeout        time.Duration
	CacheTTL       time.Duration
}

type TranslationConfig struct {
	Enabled        bool
	APIURL         string
	APIKey         string
	RequestsPerSec float64
	Timeout        time.Duration
}

type CaptchaConfig struct {
	Enabled   bool
	VerifyURL string
	SiteKey   string
	SecretKey string
	MinScore  float64
	Timeout   time.Duration
}

type PhotosConfig struct {
	StorageDir        string
	PublicPrefix      string
	MaxSizeBytes      int64
	MaxCount          int
	AllowedExtensions []string
	AllowedMIMETypes  []string
}

type LocaleConfig struct {
	Default    string
	Supported  []string
	CookieName string
	CookieDays int
}

type RedisConfig struct {
	URL string
}

type JobsConfig struct {
	Workers           int
	RetryEmail        int
	RetryGeocoding    int
	InvitationCleanup time.Duration
}

type TracingConfig struct {
	Enabled      bool
	Exporter     string
	ServiceName  string
	OTLPEndpoint string
	SampleRate   float64
}

type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

type CORSConfig struct {
	AllowedOrigins  []string
	AllowAllOrigins bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENVIRONMENT", "development")

	cfg := Config{
		Server: ServerConfig{
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			Port:     getEnvInt("SERVER_PORT", 8080),
			BaseURL:  strings.TrimRight(getEnv("SERVER_BASE_URL", "http://localhost:8080"), "/"),
			SiteName: getEnv("SITE_NAME", "Lieux de l'espace"),
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConnections: getEnvInt("DATABASE_MAX_CONNECTIONS", 25),
			MaxIdle:        getEnvInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			MigrationsPath: getEnv("DATABASE_MIGRATIONS_PATH", "internal/storage/postgres/migrations"),
		},
		Auth: AuthConfig{
			JWTSecret:    getEnv("JWT_SECRET", ""),
			JWTExpiry:    time.Duration(getEnvInt("JWT_EXPIRY_HOURS", 24)) * time.Hour,
			CSRFKey:      getEnv("CSRF_KEY", ""),
			CookieName:   getEnv("ADMIN_COOKIE_NAME", "admin_session"),
			SecureCookie: env == "production" || env == "staging",
		},
		RateLimit: RateLimitConfig{
			PublicPerMinute:   getEnvInt("RATE_LIMIT_PUBLIC", 120),
			SubmitPerMinute:   getEnvInt("RATE_LIMIT_SUBMIT", 5),
			AdminPerMinute:    getEnvInt("RATE_LIMIT_ADMIN", 0),
			LoginPer15Minutes: getEnvInt("RATE_LIMIT_LOGIN", 5),
			TrustedProxyCIDRs: getEnvList("TRUSTED_PROXY_CIDRS", nil),
		},
		AdminBootstrap: AdminBootstrapConfig{
			Username: getEnv("ADMIN_USERNAME", ""),
			Password: getEnv("ADMIN_PASSWORD", ""),
			Email:    getEnv("ADMIN_EMAIL", ""),
		},
		Email: EmailConfig{
			Enabled:      getEnvBool("EMAIL_ENABLED", false),
			Provider:     getEnv("EMAIL_PROVIDER", "resend"),
			From:         getEnv("EMAIL_FROM", "noreply@spaceplaces.local"),
			AdminNotify:  getEnv("EMAIL_ADMIN_NOTIFY", ""),
			ResendAPIKey: getEnv("RESEND_API_KEY", ""),
			SMTPHost:     getEnv("SMTP_HOST", "localhost"),
			SMTPPort:     getEnvInt("SMTP_PORT", 587),
			SMTPUser:     getEnv("SMTP_USER", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		},
		Geocoding: GeocodingConfig{
			NominatimURL:   getEnv("NOMINATIM_API_URL", "https://nominatim.openstreetmap.org"),
			UserAgent:      getEnv("NOMINATIM_USER_AGENT", "spaceplaces/1.0"),
			Email:          getEnv("NOMINATIM_EMAIL", ""),
			RequestsPerSec: getEnvFloat("NOMINATIM_RATE_LIMIT_PER_SEC", 1.0),
			Timeout:        getEnvDuration("NOMINATIM_TIMEOUT", 5*time.Second),
			CacheTTL:       getEnvDuration("GEOCODING_CACHE_TTL", 24*time.Hour),
		},
		Translation: TranslationConfig{
			Enabled:        getEnvBool("TRANSLATION_ENABLED", false),
			APIURL:         getEnv("TRANSLATION_API_URL", "https://api-free.deepl.com/v2"),
			APIKey:         getEnv("TRANSLATION_API_KEY", ""),
			RequestsPerSec: getEnvFloat("TRANSLATION_RATE_LIMIT_PER_SEC", 5),
			Timeout:        getEnvDuration("TRANSLATION_TIMEOUT", 10*time.Second),
		},
		Captcha: CaptchaConfig{
			Enabled:   getEnvBool("CAPTCHA_ENABLED", env == "production"),
			VerifyURL: getEnv("CAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify"),
			SiteKey:   getEnv("CAPTCHA_SITE_KEY", ""),
			SecretKey: getEnv("CAPTCHA_SECRET_KEY", ""),
			MinScore:  getEnvFloat("CAPTCHA_MIN_SCORE", 0.5),
			Timeout:   getEnvDuration("CAPTCHA_TIMEOUT", 5*time.Second),
		},
		Photos: PhotosConfig{
			StorageDir:        getEnv("PHOTOS_STORAGE_DIR", "storage/photos"),
			PublicPrefix:      getEnv("PHOTOS_PUBLIC_PREFIX", "/media/photos"),
			MaxSizeBytes:      int64(getEnvInt("PHOTOS_MAX_SIZE_KB", 5120)) * 1024,
			MaxCount:          getEnvInt("PHOTOS_MAX_COUNT", 5),
			AllowedExtensions: getEnvList("PHOTOS_ALLOWED_EXTENSIONS", []string{"jpg", "jpeg", "png", "webp"}),
			AllowedMIMETypes:  getEnvList("PHOTOS_ALLOWED_MIME_TYPES", []string{"image/jpeg", "image/png", "image/webp"}),
		},
		Locale: LocaleConfig{
			Default:    getEnv("LOCALE_DEFAULT", "fr"),
			Supported:  getEnvList("LOCALE_SUPPORTED", []string{"fr", "en"}),
			CookieName: getEnv("LOCALE_COOKIE_NAME", "locale"),
			CookieDays: getEnvInt("LOCALE_COOKIE_DAYS", 365),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Jobs: JobsConfig{
			Workers:           getEnvInt("JOB_WORKERS", 5),
			RetryEmail:        getEnvInt("JOB_RETRY_EMAIL", 5),
			RetryGeocoding:    getEnvInt("JOB_RETRY_GEOCODING", 3),
			InvitationCleanup: getEnvDuration("JOB_INVITATION_CLEANUP_INTERVAL", 24*time.Hour),
		},
		Tracing: TracingConfig{
			Enabled:      getEnvBool("TRACING_ENABLED", false),
			Exporter:     getEnv("TRACING_EXPORTER", "stdout"),
			ServiceName:  getEnv("TRACING_SERVICE_NAME", "spaceplaces"),
			OTLPEndpoint: getEnv("TRACING_OTLP_ENDPOINT", "localhost:4317"),
			SampleRate:   getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", defaultLogFormat(env)),
			File:   getEnv("LOG_FILE", ""),
		},
		CORS: CORSConfig{
			AllowedOrigins:  getEnvList("CORS_ALLOWED_ORIGINS", nil),
			AllowAllOrigins: env == "development" || env == "test",
		},
		Environment: env,
	}

	if cfg.Database.URL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if len(cfg.Auth.JWTSecret) < 32 {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if cfg.Auth.CSRFKey != "" && len(cfg.Auth.CSRFKey) != 32 {
		return Config{}, fmt.Errorf("CSRF_KEY must be exactly 32 bytes")
	}
	if env == "production" && len(cfg.CORS.AllowedOrigins) == 0 {
		return Config{}, fmt.Errorf("CORS_ALLOWED_ORIGINS is required in production")
	}
	if cfg.Captcha.Enabled && cfg.Captcha.SecretKey == "" {
		return Config{}, fmt.Errorf("CAPTCHA_SECRET_KEY is required when CAPTCHA_ENABLED is true")
	}
	if !contains(cfg.Locale.Supported, cfg.Locale.Default) {
		return Config{}, fmt.Errorf("LOCALE_DEFAULT %q is not in LOCALE_SUPPORTED", cfg.Locale.Default)
	}
	return cfg, nil
}

func defaultLogFormat(env string) string {
	if env == "development" {
		return "console"
	}
	return "json"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
