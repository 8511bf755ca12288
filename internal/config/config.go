// Package config provides environment configuration for the bot server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Database settings
	DatabaseDriver string
	DatabaseDSN    string

	// NATS settings (empty URL disables audit fan-out)
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Redis settings (empty address selects in-process chat locking)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT settings
	JWTSecret string

	// LLM settings
	AnthropicAPIKey  string
	AnthropicBaseURL string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	GeminiAPIKey     string
	GeminiBaseURL    string

	// Telegram settings
	TelegramAPIEndpoint string

	// Orchestration
	HistoryLimit       int
	MaxToolTurns       int
	ProviderTimeout    time.Duration
	ProviderMaxRetries int
	ToolTimeout        time.Duration
	ActionTimeout      time.Duration
	WebhookTimeout     time.Duration
	LockTTL            time.Duration

	// Rate limiting
	RateLimitRequests   int
	RateLimitWindow     time.Duration
	WebhookRateRequests int
	WebhookRateWindow   time.Duration

	// CORS origins of the audit API (comma separated)
	CORSAllowedOrigins []string

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// Database
		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "toolbot.db"),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Redis
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", ""),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", ""),

		// Telegram
		TelegramAPIEndpoint: getEnv("TELEGRAM_API_ENDPOINT", "https://api.telegram.org/bot%s/%s"),

		// Orchestration
		HistoryLimit:       clamp(getIntEnv("HISTORY_LIMIT", 20), 10, 20),
		MaxToolTurns:       getIntEnv("MAX_TOOL_TURNS", 8),
		ProviderTimeout:    getDurationEnv("PROVIDER_TIMEOUT", 60*time.Second),
		ProviderMaxRetries: getIntEnv("PROVIDER_MAX_RETRIES", 2),
		ToolTimeout:        getDurationEnv("TOOL_TIMEOUT", 30*time.Second),
		ActionTimeout:      getDurationEnv("ACTION_TIMEOUT", 15*time.Second),
		WebhookTimeout:     getDurationEnv("WEBHOOK_TIMEOUT", 55*time.Second),
		LockTTL:            getDurationEnv("LOCK_TTL", 2*time.Minute),

		// Rate limiting
		RateLimitRequests:   getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:     getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		WebhookRateRequests: getIntEnv("WEBHOOK_RATE_LIMIT_REQUESTS", 60),
		WebhookRateWindow:   getDurationEnv("WEBHOOK_RATE_LIMIT_WINDOW", time.Minute),

		// CORS
		CORSAllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS"),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate rejects combinations that break request handling. The chat lock
// must outlive a webhook so a slow run cannot lose it to the next update.
func (c *Config) Validate() error {
	if c.LockTTL <= c.WebhookTimeout {
		return fmt.Errorf("LOCK_TTL (%s) must exceed WEBHOOK_TIMEOUT (%s)", c.LockTTL, c.WebhookTimeout)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
