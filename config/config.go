// Package config loads and validates the server's environment configuration,
// generalizing the teacher's config.Load() into a validated struct following
// the accumulated-error-list pattern used across the example pack.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the server's environment-derived settings. Every field has a
// safe default: the spec names no mandatory external dependency, so nothing
// here is strictly required.
type Config struct {
	Port             string
	AppEnv           string
	LogLevel         string
	ChatHistoryLimit int

	RateLimitWsConnectPerIP string
	RateLimitCommandsPerUser string
}

const (
	defaultPort             = "8767"
	defaultAppEnv           = "production"
	defaultLogLevel         = "info"
	defaultChatHistoryLimit = 200
	defaultWsConnectRate    = "20-M"
	defaultCommandRate      = "120-M"
)

// Load reads a .env file if present (ignored if absent — this is a
// development convenience, not a requirement) and returns a validated Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                     getEnvOrDefault("PORT", defaultPort),
		AppEnv:                   getEnvOrDefault("APP_ENV", defaultAppEnv),
		LogLevel:                 getEnvOrDefault("LOG_LEVEL", defaultLogLevel),
		RateLimitWsConnectPerIP:  getEnvOrDefault("RATE_LIMIT_WS_CONNECT", defaultWsConnectRate),
		RateLimitCommandsPerUser: getEnvOrDefault("RATE_LIMIT_COMMANDS", defaultCommandRate),
	}

	var errs []string

	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got %q)", cfg.Port))
	}

	limitStr := getEnvOrDefault("CHAT_HISTORY_LIMIT", strconv.Itoa(defaultChatHistoryLimit))
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 0 {
		errs = append(errs, fmt.Sprintf("CHAT_HISTORY_LIMIT must be a non-negative integer (got %q)", limitStr))
	}
	cfg.ChatHistoryLimit = limit

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return defaultValue
}
