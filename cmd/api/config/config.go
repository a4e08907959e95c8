package config

import (
	"errors"
	"strings"
	"time"

	"questionbank_go_backend/internal/database"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string
	AllowedOrigins []string
	Environment    string
	LogLevel       string
	LogFormat      string

	DB database.Config

	GoogleAIStudioAPIKey string
	GenerationTimeout    time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration
	LockWait      time.Duration

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeSuccessURL    string
	StripeCancelURL     string

	Auth0Domain   string
	AuthJWTSecret string

	PricingFile string
}

var defaults = map[string]any{
	"PORT":                     "3000",
	"ALLOWED_ORIGINS":          "http://localhost:5173",
	"ENVIRONMENT":              "development",
	"LOG_LEVEL":                "info",
	"LOG_FORMAT":               "",
	"DB_HOST":                  "localhost",
	"DB_PORT":                  "5432",
	"DB_USER":                  "postgres",
	"DB_PASSWORD":              "",
	"DB_NAME":                  "questionbank",
	"DB_SSLMODE":               "disable",
	"GENERATION_TIMEOUT":       "90s",
	"REDIS_ADDR":               "",
	"REDIS_PASSWORD":           "",
	"REDIS_DB":                 0,
	"GENERATION_LOCK_TTL":      "2m",
	"GENERATION_LOCK_WAIT":     "60s",
	"STRIPE_SUCCESS_URL":       "http://localhost:5173/wallet?checkout=success",
	"STRIPE_CANCEL_URL":        "http://localhost:5173/wallet?checkout=cancel",
	"STRIPE_SECRET_KEY":        "",
	"STRIPE_WEBHOOK_SECRET":    "",
	"AUTH0_DOMAIN":             "",
	"AUTH_JWT_SECRET":          "",
	"PRICING_FILE":             "",
	"GOOGLE_AI_STUDIO_API_KEY": "",
}

// Load reads .env if present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	cfg := &Config{
		Port:           v.GetString("PORT"),
		AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		Environment:    v.GetString("ENVIRONMENT"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		LogFormat:      v.GetString("LOG_FORMAT"),
		DB: database.Config{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Name:     v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		GoogleAIStudioAPIKey: v.GetString("GOOGLE_AI_STUDIO_API_KEY"),
		GenerationTimeout:    v.GetDuration("GENERATION_TIMEOUT"),
		RedisAddr:            v.GetString("REDIS_ADDR"),
		RedisPassword:        v.GetString("REDIS_PASSWORD"),
		RedisDB:              v.GetInt("REDIS_DB"),
		LockTTL:              v.GetDuration("GENERATION_LOCK_TTL"),
		LockWait:             v.GetDuration("GENERATION_LOCK_WAIT"),
		StripeSecretKey:      v.GetString("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:  v.GetString("STRIPE_WEBHOOK_SECRET"),
		StripeSuccessURL:     v.GetString("STRIPE_SUCCESS_URL"),
		StripeCancelURL:      v.GetString("STRIPE_CANCEL_URL"),
		Auth0Domain:          strings.TrimSpace(v.GetString("AUTH0_DOMAIN")),
		AuthJWTSecret:        strings.TrimSpace(v.GetString("AUTH_JWT_SECRET")),
		PricingFile:          v.GetString("PRICING_FILE"),
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
		if cfg.Environment == "development" {
			cfg.LogFormat = "console"
		}
	}
	return cfg, nil
}

// ValidateServe checks what the HTTP server needs on top of the database.
func (c *Config) ValidateServe() error {
	if c.GoogleAIStudioAPIKey == "" {
		return errors.New("GOOGLE_AI_STUDIO_API_KEY is not set in the environment")
	}
	if c.Auth0Domain == "" && c.AuthJWTSecret == "" {
		return errors.New("either AUTH0_DOMAIN or AUTH_JWT_SECRET must be set")
	}
	if c.GenerationTimeout <= 0 {
		return errors.New("GENERATION_TIMEOUT must be positive")
	}
	return nil
}

// StripeEnabled reports whether wallet top-ups can be offered.
func (c *Config) StripeEnabled() bool {
	return c.StripeSecretKey != "" && c.StripeWebhookSecret != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
