package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SinkKind selects where payloads are published
type SinkKind string

const (
	SinkClipboard SinkKind = "clipboard"
	SinkMemory    SinkKind = "memory"
)

const DefaultListenAddress = "127.0.0.1:5494"

// Config holds all application configuration
type Config struct {
	// Core
	Debug     bool
	LogFormat string // text, json

	// Server
	ListenAddress string
	HealthAddress string // empty disables the health server

	// Sink
	Sink        SinkKind
	HistorySize int

	// Process
	Console  bool
	LockFile string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Debug:     getEnvBool("DEBUG", false),
		LogFormat: getEnv("CLIPSOCK_LOG_FORMAT", "text"),

		ListenAddress: getEnv("CLIPSOCK_LISTEN_ADDRESS", DefaultListenAddress),
		HealthAddress: getEnv("CLIPSOCK_HEALTH_ADDRESS", ""),

		Sink:        SinkKind(strings.ToLower(getEnv("CLIPSOCK_SINK", string(SinkClipboard)))),
		HistorySize: getEnvInt("CLIPSOCK_HISTORY_SIZE", 16),

		Console:  getEnvBool("CLIPSOCK_CONSOLE", false),
		LockFile: getEnv("CLIPSOCK_LOCK_FILE", filepath.Join(os.TempDir(), "clipsock.lock")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures configuration is coherent
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("CLIPSOCK_LISTEN_ADDRESS must not be empty")
	}

	switch c.Sink {
	case SinkClipboard, SinkMemory:
	default:
		return fmt.Errorf("unsupported CLIPSOCK_SINK: %s (supported: %s, %s)", c.Sink, SinkClipboard, SinkMemory)
	}

	if c.HistorySize < 1 {
		return fmt.Errorf("CLIPSOCK_HISTORY_SIZE must be positive, got %d", c.HistorySize)
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported CLIPSOCK_LOG_FORMAT: %s (supported: text, json)", c.LogFormat)
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

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}
