package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port           int
	LogLevel       string
	Timezone       *time.Location
	AllowedOrigins []string
	// Widest from/to window a query may ask for, in days
	MaxRangeDays int

	// HTTP client (PostgREST)
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	UseSupabase        bool

	// JWT / Auth (tokens are issued elsewhere and only verified here)
	JWTSecret   string
	AuthEnabled bool

	// Auto-realize timer; zero disables it
	AutoRealizeInterval time.Duration

	// Reconciliation
	MatchTolerances domain.MatchTolerances
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	defaults := domain.DefaultMatchTolerances()

	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Timezone: getEnvLocation("TIMEZONE", time.UTC),

		AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		MaxRangeDays:   getEnvInt("MAX_RANGE_DAYS", 731),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		UseSupabase:        getEnvBool("USE_SUPABASE", false),

		JWTSecret:   getEnv("JWT_SECRET", "ledger-default-dev-secret-change-me"),
		AuthEnabled: getEnvBool("AUTH_ENABLED", false),

		AutoRealizeInterval: getEnvDuration("AUTO_REALIZE_INTERVAL", 0),

		MatchTolerances: domain.MatchTolerances{
			DateToleranceDays:      getEnvInt("MATCH_DATE_TOLERANCE_DAYS", defaults.DateToleranceDays),
			AmountTolerance:        getEnvDecimal("MATCH_AMOUNT_TOLERANCE", defaults.AmountTolerance),
			AmountTolerancePercent: getEnvDecimal("MATCH_AMOUNT_TOLERANCE_PERCENT", defaults.AmountTolerancePercent),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvLocation(key string, fallback *time.Location) *time.Location {
	if v := os.Getenv(key); v != "" {
		if loc, err := time.LoadLocation(v); err == nil {
			return loc
		}
	}
	return fallback
}
