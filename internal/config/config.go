// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the HTTP
// server, logging, the two persistent stores, the Redis cache backend, the
// cache layer itself (hot window, TTLs, circuit breaker), rate limiting, and
// observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
//
// AllowedOrigins may contain exact web origins and browser-extension origins
// (e.g. "chrome-extension://abcdef..."). AllowExtensions additionally accepts
// any chrome-extension:// or moz-extension:// origin, which is convenient in
// development when the unpacked extension id changes on every reload.
type CORSConfig struct {
	AllowedOrigins  []string
	AllowExtensions bool
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
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// RedisConfig holds connection settings for the cache backend.
type RedisConfig struct {
	Enabled        bool          // REDIS_ENABLED; false runs every cache call on the fallback path
	Addr           string        // REDIS_ADDR host:port
	Password       string        // REDIS_PASSWORD
	DB             int           // REDIS_DB
	DialTimeout    time.Duration // REDIS_DIAL_TIMEOUT
	CommandTimeout time.Duration // REDIS_COMMAND_TIMEOUT, applied per cache operation
	PoolSize       int           // REDIS_POOL_SIZE
	HealthSchedule string        // REDIS_HEALTH_SCHEDULE, cron spec for PING checks
}

// CacheConfig tunes the cache-aside layer.
type CacheConfig struct {
	KeyPrefix           string        // CACHE_KEY_PREFIX
	HotWindowSize       int           // CHAT_HOT_WINDOW_SIZE
	ChatTTL             time.Duration // CHAT_CACHE_TTL (seconds or duration)
	JobTTL              time.Duration // JOB_CACHE_TTL (seconds or duration)
	BreakerThreshold    int           // CACHE_BREAKER_THRESHOLD
	BreakerResetTimeout time.Duration // CACHE_BREAKER_RESET_TIMEOUT (milliseconds or duration)
	ScanCount           int           // CACHE_SCAN_COUNT, SCAN batch hint for invalidation
	WarmTimeout         time.Duration // CACHE_WARM_TIMEOUT, bound for background warms
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool
	SwaggerEnabled bool
	APIBasePath    string

	// Stores
	DBPath     string // primary document store (users, jobs)
	ChatDBPath string // chat/collaboration store (groups, members, messages)

	// Rate limiting
	RateRPS   float64
	RateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration

	Redis RedisConfig
	Cache CacheConfig

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
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 15*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DBPath:     getenv("DB_PATH", "jobtrack.db"),
		ChatDBPath: getenv("CHAT_DB_PATH", "jobtrack_chat.db"),

		RateRPS:   getfloat("RATE_RPS", 10.0),
		RateBurst: getint("RATE_BURST", 20),

		CORS: CORSConfig{
			AllowedOrigins:  splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
			AllowExtensions: getbool("CORS_ALLOW_EXTENSIONS", false),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		Redis: RedisConfig{
			Enabled:        getbool("REDIS_ENABLED", true),
			Addr:           getenv("REDIS_ADDR", "localhost:6379"),
			Password:       getenv("REDIS_PASSWORD", ""),
			DB:             getint("REDIS_DB", 0),
			DialTimeout:    getdur("REDIS_DIAL_TIMEOUT", 2*time.Second),
			CommandTimeout: getdur("REDIS_COMMAND_TIMEOUT", 500*time.Millisecond),
			PoolSize:       getint("REDIS_POOL_SIZE", 20),
			HealthSchedule: getenv("REDIS_HEALTH_SCHEDULE", "@every 15s"),
		},

		Cache: CacheConfig{
			KeyPrefix:           getenv("CACHE_KEY_PREFIX", "jt:"),
			HotWindowSize:       getint("CHAT_HOT_WINDOW_SIZE", 50),
			ChatTTL:             getdurUnit("CHAT_CACHE_TTL", 86400*time.Second, time.Second),
			JobTTL:              getdurUnit("JOB_CACHE_TTL", 300*time.Second, time.Second),
			BreakerThreshold:    getint("CACHE_BREAKER_THRESHOLD", 5),
			BreakerResetTimeout: getdurUnit("CACHE_BREAKER_RESET_TIMEOUT", 60000*time.Millisecond, time.Millisecond),
			ScanCount:           getint("CACHE_SCAN_COUNT", 100),
			WarmTimeout:         getdur("CACHE_WARM_TIMEOUT", 5*time.Second),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-jobtrack-backend"),
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
	if cfg.Cache.KeyPrefix != "" && !strings.HasSuffix(cfg.Cache.KeyPrefix, ":") {
		cfg.Cache.KeyPrefix += ":"
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
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" || strings.TrimSpace(cfg.ChatDBPath) == "" {
		return cfg, errors.New("DB_PATH and CHAT_DB_PATH must not be empty")
	}
	if cfg.DBPath == cfg.ChatDBPath {
		return cfg, errors.New("DB_PATH and CHAT_DB_PATH must point at different stores")
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
	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return cfg, errors.New("REDIS_ADDR must not be empty when REDIS_ENABLED")
	}
	if cfg.Redis.CommandTimeout <= 0 || cfg.Redis.DialTimeout <= 0 {
		return cfg, errors.New("REDIS_DIAL_TIMEOUT and REDIS_COMMAND_TIMEOUT must be > 0")
	}
	if cfg.Redis.PoolSize < 1 {
		return cfg, errors.New("REDIS_POOL_SIZE must be >= 1")
	}
	if _, err := cron.ParseStandard(cfg.Redis.HealthSchedule); err != nil {
		return cfg, errors.New("REDIS_HEALTH_SCHEDULE must be a valid cron spec")
	}
	if cfg.Cache.HotWindowSize < 1 {
		return cfg, errors.New("CHAT_HOT_WINDOW_SIZE must be >= 1")
	}
	if cfg.Cache.ChatTTL <= 0 || cfg.Cache.JobTTL <= 0 {
		return cfg, errors.New("CHAT_CACHE_TTL and JOB_CACHE_TTL must be > 0")
	}
	if cfg.Cache.BreakerThreshold < 1 {
		return cfg, errors.New("CACHE_BREAKER_THRESHOLD must be >= 1")
	}
	if cfg.Cache.BreakerResetTimeout <= 0 {
		return cfg, errors.New("CACHE_BREAKER_RESET_TIMEOUT must be > 0")
	}
	if cfg.Cache.ScanCount < 1 {
		return cfg, errors.New("CACHE_SCAN_COUNT must be >= 1")
	}
	if cfg.Cache.WarmTimeout <= 0 {
		return cfg, errors.New("CACHE_WARM_TIMEOUT must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

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

// getdurUnit accepts either a bare integer, interpreted in unit, or a Go
// duration string ("90s", "1h").
func getdurUnit(k string, def, unit time.Duration) time.Duration {
	v, ok := os.LookupEnv(k)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(n) * unit
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
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
