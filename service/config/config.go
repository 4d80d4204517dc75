package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Valid stream commitment levels.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Logging / observability
	LogLevel    string
	MetricsAddr string

	// Stream configuration
	StreamWSURL     string
	StreamAuthToken string
	Commitment      string
	StreamBuffer    int

	// Enrichment RPC configuration
	RPCURL        string
	EnrichWorkers int
	EnrichTimeout time.Duration
	EnrichRPS     int

	// Subject filters
	ProgramID  string
	BotAccount string // optional fee-payer filter

	// Database configuration
	DatabaseURL string

	// NATS configuration (optional; publishing disabled when empty)
	NATSURL string

	// Shutdown configuration
	ShutdownGrace time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9090")

	cfg.StreamWSURL = os.Getenv("STREAM_WS_URL")
	if cfg.StreamWSURL == "" {
		errs = append(errs, fmt.Errorf("STREAM_WS_URL is required"))
	}
	cfg.StreamAuthToken = os.Getenv("STREAM_AUTH_TOKEN")

	cfg.Commitment = getEnvOrDefault("COMMITMENT", CommitmentConfirmed)
	switch cfg.Commitment {
	case CommitmentProcessed, CommitmentConfirmed, CommitmentFinalized:
	default:
		errs = append(errs, fmt.Errorf("COMMITMENT: invalid value %q", cfg.Commitment))
	}

	cfg.RPCURL = os.Getenv("RPC_URL")
	if cfg.RPCURL == "" {
		errs = append(errs, fmt.Errorf("RPC_URL is required"))
	}

	cfg.ProgramID = os.Getenv("PROGRAM_ID")
	if cfg.ProgramID == "" {
		errs = append(errs, fmt.Errorf("PROGRAM_ID is required"))
	}
	cfg.BotAccount = os.Getenv("BOT_ACCOUNT")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	cfg.NATSURL = os.Getenv("NATS_URL")

	workers, err := parseInt("ENRICH_WORKERS", 8)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.EnrichWorkers = workers
	}

	rps, err := parseInt("ENRICH_RPS", 10)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.EnrichRPS = rps
	}

	buffer, err := parseInt("STREAM_BUFFER", 256)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.StreamBuffer = buffer
	}

	enrichTimeout, err := parseDuration("ENRICH_TIMEOUT", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.EnrichTimeout = enrichTimeout
	}

	grace, err := parseDuration("SHUTDOWN_GRACE", "20s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ShutdownGrace = grace
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for service initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.StreamWSURL == "" {
		errs = append(errs, fmt.Errorf("StreamWSURL is required"))
	}
	if c.RPCURL == "" {
		errs = append(errs, fmt.Errorf("RPCURL is required"))
	}
	if c.ProgramID == "" {
		errs = append(errs, fmt.Errorf("ProgramID is required"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	switch c.Commitment {
	case CommitmentProcessed, CommitmentConfirmed, CommitmentFinalized:
	default:
		errs = append(errs, fmt.Errorf("Commitment: invalid value %q", c.Commitment))
	}

	if c.EnrichWorkers < 1 {
		errs = append(errs, fmt.Errorf("EnrichWorkers must be at least 1"))
	}
	if c.EnrichRPS < 1 {
		errs = append(errs, fmt.Errorf("EnrichRPS must be at least 1"))
	}
	if c.StreamBuffer < 1 {
		errs = append(errs, fmt.Errorf("StreamBuffer must be at least 1"))
	}
	if c.EnrichTimeout < time.Second {
		errs = append(errs, fmt.Errorf("EnrichTimeout must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
