/*
config.go - Process configuration and logger construction

PURPOSE:
  Reads settings from the environment and an optional .env file, applies
  defaults, and refuses configurations that cannot run safely.

SETTINGS:
  APP_ENV            development | test | production (default development)
  PORT               HTTP port (default 8080)
  LOG_LEVEL          debug | info | warn | error (default by APP_ENV)
  DB_DRIVER          sqlite | postgres | memory (default sqlite)
  DB_PATH            SQLite file, ":memory:" allowed (default leave.db)
  DATABASE_URL       Postgres DSN, required when DB_DRIVER=postgres
  REDIS_URL          Enables idempotent apply when set
  SESSION_SECRET     HS256 key for session tokens, required outside development
  CORS_ORIGINS       Comma-separated allowed origins
  RATE_LIMIT_RPS     Requests per second per user, 0 disables (default 10)
  RATE_LIMIT_BURST   Bucket size (default 20)
  IDEMPOTENCY_TTL    How long a replay is kept (default 24h)

SEE ALSO:
  - cmd/server/main.go: Uses Load and NewLogger
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"

	devSessionSecret = "dev-only-session-secret"
)

// Config holds everything the server needs at startup.
type Config struct {
	Env            string
	Port           int
	LogLevel       string
	DBDriver       string
	DBPath         string
	DatabaseURL    string
	RedisURL       string
	SessionSecret  string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	IdempotencyTTL time.Duration
}

// Load reads the environment, and envFile first when it exists. An empty
// envFile means ".env".
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil && !isMissingFile(err) {
		return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
	}
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_PATH", "leave.db")
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("IDEMPOTENCY_TTL", "24h")

	cfg := &Config{
		Env:            strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
		Port:           v.GetInt("PORT"),
		LogLevel:       strings.TrimSpace(v.GetString("LOG_LEVEL")),
		DBDriver:       strings.ToLower(strings.TrimSpace(v.GetString("DB_DRIVER"))),
		DBPath:         v.GetString("DB_PATH"),
		DatabaseURL:    v.GetString("DATABASE_URL"),
		RedisURL:       v.GetString("REDIS_URL"),
		SessionSecret:  v.GetString("SESSION_SECRET"),
		CORSOrigins:    splitList(v.GetString("CORS_ORIGINS")),
		RateLimitRPS:   v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),
		IdempotencyTTL: v.GetDuration("IDEMPOTENCY_TTL"),
	}
	if cfg.SessionSecret == "" && cfg.Env == EnvDevelopment {
		cfg.SessionSecret = devSessionSecret
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Env {
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		return fmt.Errorf("APP_ENV: unknown environment %q", c.Env)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT: %d out of range", c.Port)
	}
	switch c.DBDriver {
	case "sqlite", "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER: unknown driver %q", c.DBDriver)
	}
	if c.SessionSecret == "" {
		return errors.New("SESSION_SECRET is required outside development")
	}
	if c.RateLimitRPS < 0 {
		return errors.New("RATE_LIMIT_RPS must not be negative")
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		return errors.New("RATE_LIMIT_BURST must be positive when rate limiting is on")
	}
	if c.IdempotencyTTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL must be positive")
	}
	return nil
}

// NewLogger builds a JSON logger for production and a console logger
// otherwise. An empty level means debug in development and info elsewhere.
func NewLogger(level, env string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if env == EnvDevelopment {
		lvl = zapcore.DebugLevel
	}
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("LOG_LEVEL: %w", err)
		}
		lvl = parsed
	}

	var cfg zap.Config
	if env == EnvProduction {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg.Build()
}

func isMissingFile(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
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
