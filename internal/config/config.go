// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, persistence, edge rate limiting, observability, and the upstream
// settings for the X content API and the xAI completion/image API.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "x-consensus-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// XAPIConfig holds the content API (X v2) client and quota settings.
type XAPIConfig struct {
	BearerToken       string        // X_BEARER_TOKEN
	BaseURL           string        // X_API_BASE_URL
	Timeout           time.Duration // per attempt
	MinInterval       time.Duration // spacing between two upstream calls
	MonthlyLimit      int           // plan allowance (reporting)
	MonthlyCeiling    int           // local hard stop, <= MonthlyLimit
	MaxAttempts       int           // retry ceiling per extraction
	BackoffBase       time.Duration // first transient backoff, doubled per attempt
	DefaultRetryAfter time.Duration // used when a 429 carries no retry-after
}

// XAIConfig holds the completion and image-generation settings.
type XAIConfig struct {
	APIKey        string        // XAI_API_KEY
	BaseURL       string        // XAI_BASE_URL
	Model         string        // analysis model
	SearchModel   string        // live search model
	ImageModel    string        // image model
	Timeout       time.Duration // analysis completion timeout
	SearchTimeout time.Duration // live search timeout
	LiveSearch    bool          // LIVE_SEARCH_ENABLED
	Images        bool          // IMAGE_ENABLED
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // analysis can take minutes when the X API throttles
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Persistence
	DBPath string // SQLite path for analysis history and idempotency keys

	// Edge rate limiting (per client, expensive routes only)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Upstreams
	XAPI XAPIConfig
	XAI  XAIConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 5*time.Minute),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api")),

		// Persistence
		DBPath: getenv("DB_PATH", "consensus.db"),

		// Edge rate limiting
		RateRPS:   getfloat("RATE_RPS", 0.2),
		RateBurst: getint("RATE_BURST", 3),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// X content API
		XAPI: XAPIConfig{
			BearerToken:       strings.TrimSpace(getenv("X_BEARER_TOKEN", "")),
			BaseURL:           strings.TrimRight(getenv("X_API_BASE_URL", "https://api.twitter.com/2"), "/"),
			Timeout:           getdur("X_API_TIMEOUT", 30*time.Second),
			MinInterval:       getdur("X_API_MIN_INTERVAL", 5*time.Second),
			MonthlyLimit:      getint("X_API_MONTHLY_LIMIT", 100),
			MonthlyCeiling:    getint("X_API_MONTHLY_CEILING", 95),
			MaxAttempts:       getint("X_API_MAX_ATTEMPTS", 3),
			BackoffBase:       getdur("X_API_BACKOFF_BASE", time.Second),
			DefaultRetryAfter: getdur("X_API_DEFAULT_RETRY_AFTER", 60*time.Second),
		},

		// xAI completion / image API
		XAI: XAIConfig{
			APIKey:        strings.TrimSpace(getenv("XAI_API_KEY", "")),
			BaseURL:       strings.TrimRight(getenv("XAI_BASE_URL", "https://api.x.ai/v1"), "/"),
			Model:         getenv("XAI_MODEL", "grok-3-mini"),
			SearchModel:   getenv("XAI_SEARCH_MODEL", "grok-3-mini"),
			ImageModel:    getenv("XAI_IMAGE_MODEL", "grok-2-image"),
			Timeout:       getdur("XAI_TIMEOUT", 60*time.Second),
			SearchTimeout: getdur("XAI_SEARCH_TIMEOUT", 30*time.Second),
			LiveSearch:    getbool("LIVE_SEARCH_ENABLED", true),
			Images:        getbool("IMAGE_ENABLED", true),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "x-consensus-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	if err := cfg.XAPI.validate(); err != nil {
		return cfg, err
	}
	if err := cfg.XAI.validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (x XAPIConfig) validate() error {
	if x.BearerToken == "" {
		return errors.New("X_BEARER_TOKEN is required")
	}
	if !strings.HasPrefix(x.BaseURL, "http://") && !strings.HasPrefix(x.BaseURL, "https://") {
		return errors.New("X_API_BASE_URL must be an http(s) URL")
	}
	if x.Timeout <= 0 || x.BackoffBase <= 0 || x.DefaultRetryAfter <= 0 {
		return errors.New("X_API_TIMEOUT, X_API_BACKOFF_BASE and X_API_DEFAULT_RETRY_AFTER must be positive")
	}
	if x.MinInterval < 0 {
		return errors.New("X_API_MIN_INTERVAL must be >= 0")
	}
	if x.MonthlyLimit < 1 {
		return errors.New("X_API_MONTHLY_LIMIT must be >= 1")
	}
	if x.MonthlyCeiling < 1 || x.MonthlyCeiling > x.MonthlyLimit {
		return errors.New("X_API_MONTHLY_CEILING must be in [1, X_API_MONTHLY_LIMIT]")
	}
	if x.MaxAttempts < 1 {
		return errors.New("X_API_MAX_ATTEMPTS must be >= 1")
	}
	return nil
}

func (x XAIConfig) validate() error {
	if x.APIKey == "" {
		return errors.New("XAI_API_KEY is required")
	}
	if !strings.HasPrefix(x.BaseURL, "http://") && !strings.HasPrefix(x.BaseURL, "https://") {
		return errors.New("XAI_BASE_URL must be an http(s) URL")
	}
	if strings.TrimSpace(x.Model) == "" || strings.TrimSpace(x.SearchModel) == "" || strings.TrimSpace(x.ImageModel) == "" {
		return errors.New("XAI_MODEL, XAI_SEARCH_MODEL and XAI_IMAGE_MODEL must not be empty")
	}
	if x.Timeout <= 0 || x.SearchTimeout <= 0 {
		return errors.New("XAI_TIMEOUT and XAI_SEARCH_TIMEOUT must be positive")
	}
	return nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
