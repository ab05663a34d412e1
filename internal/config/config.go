// Package config содержит логику чтения конфигурации сервиса учёта ваучеров.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	// AuthModeStrict требует действующую сессию для защищённых маршрутов.
	AuthModeStrict = "strict"
	// AuthModeBypass подставляет отладочных пользователей вместо отсутствующей сессии.
	AuthModeBypass = "bypass"
)

// Config содержит параметры конфигурации сервиса учёта ваучеров.
type Config struct {
	RunAddress         string        `env:"RUN_ADDRESS"`
	DatabaseURI        string        `env:"DATABASE_URI"`
	AuthMode           string        `env:"AUTH_MODE"`
	SessionSecret      string        `env:"SESSION_SECRET"`
	SessionTTL         time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	RedisAddr          string        `env:"REDIS_ADDR"`
	RedisPassword      string        `env:"REDIS_PASSWORD"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
	SeedOwnerUsername  string        `env:"SEED_OWNER_USERNAME"`
	SeedOwnerPassword  string        `env:"SEED_OWNER_PASSWORD"`
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Непустые переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthMode := cfg.AuthMode
	envSessionSecret := cfg.SessionSecret
	envRedisAddr := cfg.RedisAddr

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI (empty for in-memory storage)")
	flag.StringVar(&cfg.AuthMode, "m", AuthModeStrict, "auth mode: strict or bypass")
	flag.StringVar(&cfg.SessionSecret, "s", "", "session token signing key")
	flag.StringVar(&cfg.RedisAddr, "redis", "", "redis address for sessions (empty for in-memory sessions)")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthMode != "" {
		cfg.AuthMode = envAuthMode
	}
	if envSessionSecret != "" {
		cfg.SessionSecret = envSessionSecret
	}
	if envRedisAddr != "" {
		cfg.RedisAddr = envRedisAddr
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.AuthMode == "" {
		cfg.AuthMode = AuthModeStrict
	}

	if cfg.AuthMode != AuthModeStrict && cfg.AuthMode != AuthModeBypass {
		return nil, fmt.Errorf("invalid auth mode %q: want %s or %s", cfg.AuthMode, AuthModeStrict, AuthModeBypass)
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("invalid session ttl %s", cfg.SessionTTL)
	}

	return cfg, nil
}
