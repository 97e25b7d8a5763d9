// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	DiagnosticsAddr string
	GenerationAddr  string
	OTLPEndpoint    string

	// DockerRemedy selects the Docker-backed remedy runner; when false the
	// executor runs simulated remedies with SimulatedPacing per operation.
	DockerRemedy    bool
	SimulatedPacing time.Duration

	RunTimeout      time.Duration
	TaskTTL         time.Duration
	CleanupInterval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/opspilot.db"),
		DiagnosticsAddr: getEnv("DIAGNOSTICS_ADDR", "http://localhost:8600"),
		GenerationAddr:  getEnv("GENERATION_ADDR", ""),
		OTLPEndpoint:    getEnv("OTLP_ENDPOINT", ""),
		DockerRemedy:    getEnvBool("DOCKER_REMEDY", false),
		SimulatedPacing: getEnvDuration("SIMULATED_PACING", 200*time.Millisecond),
		RunTimeout:      getEnvDuration("RUN_TIMEOUT", 5*time.Minute),
		TaskTTL:         getEnvDuration("TASK_TTL", 24*time.Hour),
		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", 10*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.DiagnosticsAddr == "" {
		return fmt.Errorf("DIAGNOSTICS_ADDR cannot be empty")
	}
	if c.RunTimeout <= 0 {
		return fmt.Errorf("RUN_TIMEOUT must be > 0")
	}
	if c.TaskTTL <= 0 {
		return fmt.Errorf("TASK_TTL must be > 0")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
