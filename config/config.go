// Package config loads runtime settings from the environment, with an
// optional .env file in the working directory.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the server, worker and CLI.
type Config struct {
	DBPath           string // SQLite file, ":memory:" for ephemeral
	HTTPPort         int
	AdminToken       string // bearer token for mutating API routes; empty disables auth
	RedisURL         string // asynq broker; empty disables the worker and async refresh
	DetectMismatches bool
	AtomicImport     bool
}

// Load reads configuration from environment variables. A missing .env
// file is not an error; in production variables are set directly.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(), nil
}

// FromEnv reads configuration without touching .env.
func FromEnv() *Config {
	return &Config{
		DBPath:           getEnv("RATES_DB_PATH", "rates.db"),
		HTTPPort:         getInt("RATES_HTTP_PORT", 8080),
		AdminToken:       getEnv("RATES_ADMIN_TOKEN", ""),
		RedisURL:         getEnv("RATES_REDIS_URL", ""),
		DetectMismatches: getBool("RATES_DETECT_MISMATCHES", false),
		AtomicImport:     getBool("RATES_ATOMIC_IMPORT", true),
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(strings.TrimSpace(getEnv(key, "")))
	if err != nil {
		return defaultValue
	}
	return n
}

func getBool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(getEnv(key, "")))
	if err != nil {
		return defaultValue
	}
	return b
}
