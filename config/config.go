// Package config loads runtime configuration from the environment. A .env
// file in the working directory is applied first when present, so local
// development does not need exported variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP
	Addr string

	// Storage
	DBPath string

	// Scheduling
	AutoGenerate     bool
	GenerateSchedule string // cron expression, default: 06:00 on the 1st
	OverdueSchedule  string // cron expression, default: 01:00 daily

	// Rendering
	RenderDir string // empty disables document rendering

	// Logging
	LogLevel      string // trace, debug, info, warn, error
	LogFormat     string // json, console
	LogTimeFormat string
	LogOutput     string // stdout, stderr, or file path
}

// Load reads the .env file (if any) and the environment.
func Load() (*Config, error) {
	// Missing .env is fine; env vars alone are a valid configuration.
	_ = godotenv.Load()

	cfg := &Config{
		Addr:             getEnv("BILLING_ADDR", ":8080"),
		DBPath:           getEnv("BILLING_DB_PATH", "./data/billing.db"),
		AutoGenerate:     getEnvBool("BILLING_AUTO_GENERATE", false),
		GenerateSchedule: getEnv("BILLING_GENERATE_SCHEDULE", "0 6 1 * *"),
		OverdueSchedule:  getEnv("BILLING_OVERDUE_SCHEDULE", "0 1 * * *"),
		RenderDir:        getEnv("BILLING_RENDER_DIR", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:    getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:        getEnv("LOG_OUTPUT", "stdout"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("BILLING_ADDR is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("BILLING_DB_PATH is required")
	}
	return nil
}

// LoggerConfig returns the logging subset of the configuration.
func (c *Config) LoggerConfig() LogConfig {
	return LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}
