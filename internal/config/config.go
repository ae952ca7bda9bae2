// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backend kinds.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	Port         string // HTTP/WebSocket listen port
	TCPAddr      string // TCP line-protocol listen address
	StoreKind    string // "sqlite" or "memory"
	DBPath       string
	RetentionTTL time.Duration // stale guest session sweep; 0 disables
	LM           LMConfig
}

// LMConfig configures the OpenAI-compatible completion provider.
type LMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration // per-request client-side timeout
	CheckTTL    time.Duration // availability probe cache
}

// Load reads configuration from environment variables. The AI_* names take
// precedence over the legacy LM_* names.
func Load() (*Config, error) {
	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		TCPAddr:      getEnv("TCP_ADDR", ":9000"),
		StoreKind:    getEnv("STORE", StoreSQLite),
		DBPath:       getEnv("DB_PATH", "./data/fitbot.db"),
		RetentionTTL: getEnvDuration("RETENTION_TTL", 30*24*time.Hour),
		LM: LMConfig{
			BaseURL:     getEnvAny([]string{"AI_BASE_URL", "LM_BASE_URL"}, "https://api.groq.com/openai/v1"),
			APIKey:      getEnvAny([]string{"AI_API_KEY", "GROQ_API_KEY", "LM_API_KEY"}, ""),
			Model:       getEnvAny([]string{"AI_MODEL", "LM_MODEL"}, "llama-3.1-8b-instant"),
			Temperature: getEnvFloat([]string{"AI_TEMPERATURE", "LM_TEMPERATURE"}, 0.7),
			MaxTokens:   getEnvInt([]string{"AI_MAX_TOKENS", "LM_MAX_TOKENS"}, 1500),
			Timeout:     getEnvDuration("AI_CLIENT_TIMEOUT", 2*time.Minute),
			CheckTTL:    getEnvDuration("AI_CLIENT_CHECK_TTL", 10*time.Second),
		},
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
	if c.TCPAddr == "" {
		return fmt.Errorf("TCP_ADDR cannot be empty")
	}
	switch c.StoreKind {
	case StoreSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty with the sqlite store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StoreSQLite, StoreMemory, c.StoreKind)
	}
	if c.LM.BaseURL == "" {
		return fmt.Errorf("AI_BASE_URL cannot be empty")
	}
	if c.LM.Model == "" {
		return fmt.Errorf("AI_MODEL cannot be empty")
	}
	if c.LM.MaxTokens <= 0 {
		return fmt.Errorf("AI_MAX_TOKENS must be > 0")
	}
	if c.LM.Timeout <= 0 {
		return fmt.Errorf("AI_CLIENT_TIMEOUT must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAny(keys []string, fallback string) string {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok && value != "" {
			return value
		}
	}
	return fallback
}

func getEnvInt(keys []string, fallback int) int {
	for _, key := range keys {
		value, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(keys []string, fallback float64) float64 {
	for _, key := range keys {
		value, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	// Plain numbers are treated as seconds.
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}
