/*
Package config loads server configuration from the environment.

PURPOSE:
  One place for every tunable: port, database path, log level, CORS origins.
  A .env file is loaded when present (development convenience); real
  environments set variables directly. Command-line flags in cmd/server
  override both.

VARIABLES:
  APP_PORT      HTTP server port (default 8080)
  DB_PATH       SQLite database path (default dispatch.db, ":memory:" works)
  LOG_LEVEL     debug | info | warn | error (default info)
  APP_ENV       environment label attached to every log line
  CORS_ORIGINS  comma-separated allowed origins
*/
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	App AppConfig
	DB  DBConfig
}

// AppConfig holds application configuration.
type AppConfig struct {
	Port        int
	Env         string
	LogLevel    string
	CORSOrigins []string
}

// DBConfig holds database configuration.
type DBConfig struct {
	Path string
}

func Load() (*Config, error) {
	// Missing .env is fine; variables may come from the real environment.
	_ = godotenv.Load()

	port, err := strconv.Atoi(getEnv("APP_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid APP_PORT: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Port:        port,
			Env:         getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			CORSOrigins: getEnvSlice("CORS_ORIGINS", "http://localhost:5173,http://localhost:8080"),
		},
		DB: DBConfig{
			Path: getEnv("DB_PATH", "dispatch.db"),
		},
	}
	return cfg, nil
}

// SlogLevel maps the configured log level onto slog's scale.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.App.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvSlice(key, fallback string) []string {
	return strings.Split(getEnv(key, fallback), ",")
}
