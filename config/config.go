package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application.
type Config struct {
	Port       string
	AdminToken string

	DBDriver string // "postgres" or "sqlite"
	DBDSN    string

	// Directory holding the whatsmeow device stores, one file per session.
	SessionStorePath string

	// Pairing and restart behaviour.
	QRTimeout          time.Duration
	SessionSettleDelay time.Duration

	// Notification channels.
	RabbitURL         string
	RabbitQueue       string
	RabbitQueuePrefix string
	GlobalWebhookURL  string

	// Phone number normalization heuristics. Numbers shorter than a full
	// international number get these prefixes applied.
	DefaultCountryCode string
	DefaultAreaCode    string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables.
// A .env file is loaded first if present; real environment takes precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		AdminToken:         os.Getenv("ADMIN_TOKEN"),
		DBDriver:           getEnv("DB_DRIVER", "sqlite"),
		DBDSN:              getEnv("DB_DSN", "file:zapdesk.db?_pragma=foreign_keys(1)"),
		SessionStorePath:   getEnv("SESSION_STORE_PATH", "./sessions"),
		QRTimeout:          getDuration("QR_TIMEOUT", 30*time.Second),
		SessionSettleDelay: getDuration("SESSION_SETTLE_DELAY", 5*time.Second),
		RabbitURL:          os.Getenv("RABBITMQ_URL"),
		RabbitQueue:        getEnv("RABBITMQ_QUEUE", "zapdesk_events"),
		RabbitQueuePrefix:  getEnv("RABBITMQ_QUEUE_PREFIX", "zapdesk"),
		GlobalWebhookURL:   os.Getenv("GLOBAL_WEBHOOK_URL"),
		DefaultCountryCode: getEnv("DEFAULT_COUNTRY_CODE", "55"),
		DefaultAreaCode:    getEnv("DEFAULT_AREA_CODE", "11"),
		LogLevel:           os.Getenv("LOG_LEVEL"),
		LogFormat:          os.Getenv("LOG_FORMAT"),
	}

	log.Info().
		Str("dbDriver", cfg.DBDriver).
		Str("port", cfg.Port).
		Msg("Configuration loaded")
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration, using default")
	return fallback
}
