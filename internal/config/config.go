package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName            = "BackendLedger"
	defaultAppEnv             = "development"
	defaultPort               = "8080"
	defaultLogLevel           = "info"
	defaultLogFormat          = "json"
	defaultShutdownDelay      = 10 * time.Second
	defaultPostingAttempts    = 3
	defaultPostingRetryBase   = 25 * time.Millisecond
	defaultNotifyQueue        = "redis"
	defaultNotifyWorkers      = 2
	defaultNotifyAttempts     = 5
	defaultSMTPPort           = 465
	defaultRateLimitPerMinute = 60
	shutdownSecondsEnvVar     = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar    = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	LogFormat      string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	MigrateOnStart bool

	JWTSecret string

	PostingMaxAttempts int
	PostingRetryBase   time.Duration

	NotifyQueue       string
	NotifyWorkers     int
	NotifyMaxAttempts int

	SMTP SMTPConfig

	RateLimitPerMinute int
}

// SMTPConfig holds outbound mail settings. An empty Host disables SMTP delivery.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Load reads an optional .env file, then environment variables, and populates a Config instance.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:     getEnv("APP_NAME", defaultAppName),
		AppEnv:      strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:        getEnv("PORT", defaultPort),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:   strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		NotifyQueue: strings.ToLower(getEnv("NOTIFY_QUEUE", defaultNotifyQueue)),
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
		},
		ShutdownPeriod: defaultShutdownDelay,
	}

	var err error

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if cfg.ShutdownPeriod, err = getDuration(shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}

	if cfg.MigrateOnStart, err = getBool("MIGRATE_ON_START", false); err != nil {
		return Config{}, err
	}
	if cfg.PostingMaxAttempts, err = getInt("POSTING_MAX_ATTEMPTS", defaultPostingAttempts); err != nil {
		return Config{}, err
	}
	if cfg.PostingRetryBase, err = getDuration("POSTING_RETRY_BASE", defaultPostingRetryBase); err != nil {
		return Config{}, err
	}
	if cfg.NotifyWorkers, err = getInt("NOTIFY_WORKERS", defaultNotifyWorkers); err != nil {
		return Config{}, err
	}
	if cfg.NotifyMaxAttempts, err = getInt("NOTIFY_MAX_ATTEMPTS", defaultNotifyAttempts); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitPerMinute, err = getInt("RATE_LIMIT_PER_MINUTE", defaultRateLimitPerMinute); err != nil {
		return Config{}, err
	}
	if cfg.SMTP.Port, err = getInt("SMTP_PORT", defaultSMTPPort); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.PostingMaxAttempts < 1 {
		return fmt.Errorf("POSTING_MAX_ATTEMPTS must be at least 1")
	}
	switch c.NotifyQueue {
	case "redis", "memory":
	default:
		return fmt.Errorf("NOTIFY_QUEUE must be redis or memory, got %q", c.NotifyQueue)
	}

	if c.IsDevelopment() {
		return nil
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", c.AppEnv)
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
	}
	return nil
}

// IsDevelopment reports whether the service may fall back to in-memory backends.
func (c Config) IsDevelopment() bool {
	switch c.AppEnv {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
