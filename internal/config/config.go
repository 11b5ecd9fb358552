package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment variables
type Config struct {
	Env  string
	Port string

	DatabaseURL string
	RedisURL    string

	// Completion API (LLM)
	CompletionAPIURL string
	CompletionAPIKey string
	CompletionModel  string

	// Web search API
	SearchAPIURL string
	SearchAPIKey string

	// Stripe billing
	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceIDPro    string
	FrontendURL         string

	// AES-256 key (base64) for encrypting stored per-user API keys
	EncryptionKey string

	// Free-tier monthly generation allowance
	FreeMonthlyLimit int

	// Retention window (days) before soft-deleted emails are pruned
	EmailRetentionDays int

	// Cron spec for the maintenance scheduler
	MaintenanceSchedule string

	LogLevel  string
	LogFormat string

	// StubMode makes the LLM and search clients return canned output
	// instead of calling external APIs (local development)
	StubMode bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is honored when present (development convenience).
func Load() *Config {
	// .env is optional; real deployments set env vars directly
	_ = godotenv.Load()

	cfg := &Config{
		Env:  getEnvWithDefault("ENV", "development"),
		Port: getEnvWithDefault("PORT", "8080"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getEnvWithDefault("REDIS_URL", "redis://localhost:6379/0"),

		CompletionAPIURL: getEnvWithDefault("COMPLETION_API_URL", "https://api.openai.com/v1"),
		CompletionAPIKey: os.Getenv("COMPLETION_API_KEY"),
		CompletionModel:  getEnvWithDefault("COMPLETION_MODEL", "gpt-4o-mini"),

		SearchAPIURL: getEnvWithDefault("SEARCH_API_URL", "https://google.serper.dev"),
		SearchAPIKey: os.Getenv("SEARCH_API_KEY"),

		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripePriceIDPro:    os.Getenv("STRIPE_PRICE_ID_PRO"),
		FrontendURL:         getEnvWithDefault("FRONTEND_URL", "http://localhost:3000"),

		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),

		FreeMonthlyLimit:   getEnvIntWithDefault("FREE_MONTHLY_LIMIT", 10),
		EmailRetentionDays: getEnvIntWithDefault("EMAIL_RETENTION_DAYS", 30),

		MaintenanceSchedule: getEnvWithDefault("MAINTENANCE_SCHEDULE", "0 3 * * *"),

		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvWithDefault("LOG_FORMAT", "text"),

		StubMode: getEnvBool("STUB_MODE"),
	}

	if cfg.CompletionAPIKey == "" && !cfg.StubMode {
		log.Println("WARNING: COMPLETION_API_KEY is not set; email generation will fail. Set STUB_MODE=true for local development.")
	}

	return cfg
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("WARNING: invalid integer for %s (%q), using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}
