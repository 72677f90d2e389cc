package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreBadger   = "badger"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	LogLevel    string
	Port        string
	StoreDriver string
	DatabaseURL string
	BadgerPath  string
	StoragePath string

	ModelCatalogPath string
	GeminiAPIKey     string
	GeminiModel      string

	NanoBananaBaseURL string
	NanoBananaAPIKey  string
	MidjourneyBaseURL string
	MidjourneyAPIKey  string
	ProviderRPS       int

	PollInitialDelay       time.Duration
	PollProcessingInterval time.Duration
	PollPendingInterval    time.Duration
	PollTransientBackoff   time.Duration
	PollMaxAttempts        int
	PollTransientRetries   int
	BatchGroupSize         int
	BatchGroupDelay        time.Duration
	BatchMaxInFlight       int
	FanOutPolicy           string
	AggregatorSweep        time.Duration
	DerivedTimeout         time.Duration

	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	CORSAllowedOrigins []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
// Values in .env and .env.local are used when the variable is not already set.
func LoadConfig() (*Config, error) {
	for _, file := range []string{".env", ".env.local"} {
		_ = godotenv.Load(file)
	}

	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		Port:        getEnv("PORT", "8080"),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreMemory)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		BadgerPath:  getEnv("BADGER_PATH", "data/badger"),
		StoragePath: getEnv("STORAGE_PATH", "data/artifacts"),

		ModelCatalogPath: os.Getenv("MODEL_CATALOG_PATH"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		NanoBananaBaseURL: os.Getenv("NANOBANANA_BASE_URL"),
		NanoBananaAPIKey:  os.Getenv("NANOBANANA_API_KEY"),
		MidjourneyBaseURL: os.Getenv("MIDJOURNEY_BASE_URL"),
		MidjourneyAPIKey:  os.Getenv("MIDJOURNEY_API_KEY"),
		ProviderRPS:       getEnvInt("PROVIDER_REQUESTS_PER_SECOND", 5),

		PollInitialDelay:       getEnvDuration("POLL_INITIAL_DELAY_MS", time.Millisecond, 3*time.Second),
		PollProcessingInterval: getEnvDuration("POLL_PROCESSING_INTERVAL_MS", time.Millisecond, 3*time.Second),
		PollPendingInterval:    getEnvDuration("POLL_PENDING_INTERVAL_MS", time.Millisecond, 5*time.Second),
		PollTransientBackoff:   getEnvDuration("POLL_TRANSIENT_BACKOFF_MS", time.Millisecond, 0),
		PollMaxAttempts:        getEnvInt("POLL_MAX_ATTEMPTS", 180),
		PollTransientRetries:   getEnvInt("POLL_TRANSIENT_RETRIES", 5),
		BatchGroupSize:         getEnvInt("BATCH_GROUP_SIZE", 3),
		BatchGroupDelay:        getEnvDuration("BATCH_GROUP_DELAY_MS", time.Millisecond, 100*time.Millisecond),
		BatchMaxInFlight:       getEnvInt("BATCH_MAX_IN_FLIGHT", 12),
		FanOutPolicy:           getEnv("FANOUT_POLICY", "accept_partial"),
		AggregatorSweep:        getEnvDuration("AGGREGATOR_SWEEP_SECONDS", time.Second, 5*time.Second),
		DerivedTimeout:         getEnvDuration("DERIVED_TIMEOUT_SECONDS", time.Second, 60*time.Second),

		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}

	switch cfg.StoreDriver {
	case StoreMemory, StoreBadger:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be one of memory, postgres, badger; got %q", cfg.StoreDriver)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration reads an integer count of unit.
func getEnvDuration(key string, unit, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return time.Duration(i) * unit
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
