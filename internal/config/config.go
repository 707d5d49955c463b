// Package config provides environment-aware configuration management for Medic.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	Env Environment

	// HTTP server
	ListenAddr   string
	MedicBaseURL string

	// Database
	PGUser           string
	PGPass           string
	DBHost           string
	DBName           string
	DBMaxConnections int
	DBIdleTimeout    time.Duration

	// Secrets
	SecretsKey string // MEDIC_SECRETS_KEY, 32 bytes base64

	// Notification targets
	SlackAPIToken        string
	SlackChannelID       string
	SlackSigningSecret   string
	PagerDutyRoutingKey  string

	// Webhook delivery / SSRF guard
	WebhookSecret            string
	AllowedWebhookHosts      []string
	AdditionalScriptEnvVars  []string

	// Monitor loop
	HeartbeatTickInterval time.Duration
	MonitorWorkers        int

	// Logging
	LogLevel  string
	LogFormat string

	// Security
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSOrigins       []string

	// Features
	EnableDebugEndpoints bool
	TestMode             bool
	MetricsEnabled       bool
	MetricsPort          int
}

// Load loads configuration based on the MEDIC_ENV environment variable.
func Load() (*Config, error) {
	envStr := os.Getenv("MEDIC_ENV")
	if envStr == "" {
		envStr = string(Development)
	}

	env, ok := parseEnvironment(envStr)
	if !ok {
		return nil, fmt.Errorf("invalid MEDIC_ENV: %s (must be development, testing, or production)", envStr)
	}

	// Load environment-specific .env file
	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		// Config file is optional; only warn on non-"file not found" errors
		// (e.g. parse errors) to avoid noisy logs during tests and CI runs.
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("Warning: Could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{
		Env: env,
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

func parseEnvironment(raw string) (Environment, bool) {
	switch Environment(strings.ToLower(strings.TrimSpace(raw))) {
	case Development:
		return Development, true
	case Testing:
		return Testing, true
	case Production:
		return Production, true
	default:
		return "", false
	}
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() error {
	c.ListenAddr = getEnv("LISTEN_ADDR", ":8080")
	c.MedicBaseURL = getEnv("MEDIC_BASE_URL", "")

	c.PGUser = getEnv("PG_USER", "medic")
	c.PGPass = getEnv("PG_PASS", "")
	c.DBHost = getEnv("DB_HOST", "localhost")
	c.DBName = getEnv("DB_NAME", "medic")
	c.DBMaxConnections = getIntEnv("DB_MAX_CONNECTIONS", 20)
	dbIdleTimeout := getEnv("DB_IDLE_TIMEOUT", "5m")
	idleTimeout, err := time.ParseDuration(dbIdleTimeout)
	if err != nil {
		return fmt.Errorf("invalid DB_IDLE_TIMEOUT: %w", err)
	}
	c.DBIdleTimeout = idleTimeout

	c.SecretsKey = getEnv("MEDIC_SECRETS_KEY", "")

	c.SlackAPIToken = getEnv("SLACK_API_TOKEN", "")
	c.SlackChannelID = getEnv("SLACK_CHANNEL_ID", "")
	c.SlackSigningSecret = getEnv("SLACK_SIGNING_SECRET", "")
	c.PagerDutyRoutingKey = getEnv("PAGERDUTY_ROUTING_KEY", "")

	c.WebhookSecret = getEnv("MEDIC_WEBHOOK_SECRET", "")
	c.AllowedWebhookHosts = splitCSV(getEnv("MEDIC_ALLOWED_WEBHOOK_HOSTS", ""))
	c.AdditionalScriptEnvVars = splitCSV(getEnv("MEDIC_ADDITIONAL_SCRIPT_ENV_VARS", ""))

	tickInterval := getEnv("MEDIC_HEARTBEAT_TICK_INTERVAL", "15s")
	tick, err := time.ParseDuration(tickInterval)
	if err != nil {
		return fmt.Errorf("invalid MEDIC_HEARTBEAT_TICK_INTERVAL: %w", err)
	}
	c.HeartbeatTickInterval = tick
	c.MonitorWorkers = getIntEnv("MEDIC_MONITOR_WORKERS", 8)

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")

	c.RateLimitEnabled = getBoolEnv("RATE_LIMIT_ENABLED", true)
	c.RateLimitRequests = getIntEnv("RATE_LIMIT_REQUESTS", 100)
	rateLimitWindow := getEnv("RATE_LIMIT_WINDOW", "1m")
	window, err := time.ParseDuration(rateLimitWindow)
	if err != nil {
		return fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
	}
	c.RateLimitWindow = window
	c.CORSOrigins = splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "*"))

	c.EnableDebugEndpoints = getBoolEnv("ENABLE_DEBUG_ENDPOINTS", false)
	c.TestMode = getBoolEnv("TEST_MODE", false)
	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", c.Env != Production)
	c.MetricsPort = getIntEnv("METRICS_PORT", 9090)

	return nil
}

// IsDevelopment returns true if running in development environment.
func (c *Config) IsDevelopment() bool {
	return c.Env == Development
}

// IsTesting returns true if running in testing environment.
func (c *Config) IsTesting() bool {
	return c.Env == Testing
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Env == Production
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.EnableDebugEndpoints {
			return fmt.Errorf("ENABLE_DEBUG_ENDPOINTS must be false in production")
		}
		if c.TestMode {
			return fmt.Errorf("TEST_MODE must be false in production")
		}
		if !c.RateLimitEnabled {
			return fmt.Errorf("RATE_LIMIT_ENABLED must be true in production")
		}
		if c.MedicBaseURL == "" {
			return fmt.Errorf("MEDIC_BASE_URL is required in production")
		}
	}

	if c.DBHost == "" || c.DBName == "" {
		return fmt.Errorf("DB_HOST and DB_NAME are required")
	}

	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid METRICS_PORT: %d", c.MetricsPort)
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
