package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the server.
type Config struct {
	Environment string
	Port        string

	PostgresDSN string

	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// AI provider
	AIProviderURL    string
	AIProviderKey    string
	AIDefaultModel   string
	AIRequestTimeout time.Duration

	// Payment processor webhook verification
	BillingWebhookSecret string

	BaseURL        string
	AllowedOrigins []string

	Debug bool
}

// LoadConfig reads configuration from the environment, loading a .env file
// first when present.
func LoadConfig() *Config {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	switch env {
	case "production":
		_ = godotenv.Load(".env.production")
	default:
		_ = godotenv.Load(".env.local", ".env")
	}

	cfg := &Config{
		Environment:      getEnvWithDefault("ENVIRONMENT", "development"),
		Port:             getEnvWithDefault("PORT", "3000"),
		JWTSecret:        getEnvWithDefault("JWT_SECRET", "dev-secret-change-in-production"),
		AccessTokenTTL:   getEnvDuration("ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL:  getEnvDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		AIDefaultModel:   getEnvWithDefault("AI_DEFAULT_MODEL", "gpt-4o-mini"),
		AIRequestTimeout: getEnvDuration("AI_REQUEST_TIMEOUT", 60*time.Second),
		Debug:            getEnvBool("DEBUG", false),
	}

	// Trim whitespace to avoid stray CR/LF from env sources.
	cfg.PostgresDSN = strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	cfg.AIProviderURL = strings.TrimSpace(getEnvWithDefault("AI_PROVIDER_URL", "https://api.openai.com/v1"))
	cfg.AIProviderKey = strings.TrimSpace(os.Getenv("AI_PROVIDER_KEY"))
	cfg.BillingWebhookSecret = strings.TrimSpace(os.Getenv("BILLING_WEBHOOK_SECRET"))
	cfg.BaseURL = strings.TrimSpace(getEnvWithDefault("BASE_URL", "http://localhost:3000"))

	allowedOrigins := getEnvWithDefault("ALLOWED_ORIGINS", "*")
	if allowedOrigins == "*" {
		cfg.AllowedOrigins = []string{"*"}
	} else {
		cfg.AllowedOrigins = strings.Split(allowedOrigins, ",")
	}

	if cfg.Environment == "production" {
		cfg.Debug = false
	}

	return cfg
}

var (
	cachedConfig *Config
	configOnce   sync.Once
)

// GetCached returns the process-wide cached Config, initializing it once.
func GetCached() *Config {
	configOnce.Do(func() {
		cachedConfig = LoadConfig()
	})
	return cachedConfig
}

// Validate checks that required settings are usable before serving traffic.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}
	if c.Environment == "production" {
		if c.JWTSecret == "" || c.JWTSecret == "dev-secret-change-in-production" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if c.BillingWebhookSecret == "" {
			return fmt.Errorf("BILLING_WEBHOOK_SECRET must be set in production")
		}
	}
	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
