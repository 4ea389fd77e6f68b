// Package config loads and validates all runtime settings from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv  string
	BaseURL string
	Port    int

	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SessionSecret     string
	CardEncryptionKey string
	SentryDSN         string

	MinPasswordAge   time.Duration
	MaxPasswordAge   time.Duration
	LoginMaxAttempts int
	LoginLockWindow  time.Duration
	ResetTokenTTL    time.Duration
	SessionIdleTTL   time.Duration
	SecureCookies    bool
	TOTPIssuer       string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	CaptchaSecret   string
	CaptchaMinScore float64

	CronSecret       string
	AuditRetention   time.Duration
	CleanupBatchSize int

	LoginRateLimitMax    int
	LoginRateLimitWindow time.Duration
}

// Load reads the environment into a Config. Only DATABASE_URL and
// SESSION_SECRET are required; everything else has a working default.
func Load() (*Config, error) {
	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	sessionSecret, err := mustEnv("SESSION_SECRET")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:  envOrDefault("APP_ENV", "development"),
		BaseURL: envOrDefault("BASE_URL", "http://localhost:8080"),
		Port:    envIntOrDefault("PORT", 8080),

		DatabaseURL:       databaseURL,
		DBMaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
		DBConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),

		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envIntOrDefault("REDIS_DB", 0),

		SessionSecret:     sessionSecret,
		CardEncryptionKey: envOrDefault("CARD_ENCRYPTION_KEY", sessionSecret),
		SentryDSN:         os.Getenv("SENTRY_DSN"),

		MinPasswordAge:   envMinutesOrDefault("MIN_PASSWORD_AGE_MINUTES", 1),
		MaxPasswordAge:   envMinutesOrDefault("MAX_PASSWORD_AGE_MINUTES", 2),
		LoginMaxAttempts: envIntOrDefault("LOGIN_MAX_ATTEMPTS", 3),
		LoginLockWindow:  envMinutesOrDefault("LOGIN_LOCK_MINUTES", 15),
		ResetTokenTTL:    envMinutesOrDefault("RESET_TOKEN_TTL_MINUTES", 30),
		SessionIdleTTL:   envMinutesOrDefault("SESSION_IDLE_MINUTES", 30),
		SecureCookies:    envBoolOrDefault("SECURE_COOKIES", false),
		TOTPIssuer:       envOrDefault("TOTP_ISSUER", "bookstore"),

		SMTPHost:     strings.TrimSpace(os.Getenv("SMTP_HOST")),
		SMTPPort:     envIntOrDefault("SMTP_PORT", 587),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     strings.TrimSpace(os.Getenv("SMTP_FROM")),

		CaptchaSecret:   strings.TrimSpace(os.Getenv("CAPTCHA_SECRET")),
		CaptchaMinScore: envFloatOrDefault("CAPTCHA_MIN_SCORE", 0.5),

		CronSecret:       os.Getenv("CRON_SECRET"),
		AuditRetention:   envDaysOrDefault("AUDIT_RETENTION_DAYS", 90),
		CleanupBatchSize: envIntOrDefault("AUDIT_CLEANUP_BATCH_SIZE", 500),

		LoginRateLimitMax:    envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		LoginRateLimitWindow: envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
	}

	if cfg.SMTPHost != "" && cfg.SMTPFrom == "" {
		return nil, fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}

	return cfg, nil
}

// MailConfigured reports whether enough SMTP settings are present to
// deliver real mail.
func (c *Config) MailConfigured() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

// EnvBool reads one boolean flag directly. Used by wrappers that must pick
// bootstrap options before the full config exists.
func EnvBool(name string, fallback bool) bool {
	return envBoolOrDefault(name, fallback)
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envFloatOrDefault(name string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
