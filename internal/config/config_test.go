package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "TCP_ADDR", "STORE", "DB_PATH", "RETENTION_TTL",
		"AI_BASE_URL", "LM_BASE_URL", "AI_API_KEY", "GROQ_API_KEY", "LM_API_KEY",
		"AI_MODEL", "LM_MODEL", "AI_TEMPERATURE", "LM_TEMPERATURE",
		"AI_MAX_TOKENS", "LM_MAX_TOKENS", "AI_CLIENT_TIMEOUT", "AI_CLIENT_CHECK_TTL",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.TCPAddr != ":9000" {
		t.Errorf("expected default TCP addr :9000, got %q", cfg.TCPAddr)
	}
	if cfg.StoreKind != StoreSQLite {
		t.Errorf("expected sqlite store by default, got %q", cfg.StoreKind)
	}
	if cfg.RetentionTTL != 30*24*time.Hour {
		t.Errorf("expected 30-day retention default, got %v", cfg.RetentionTTL)
	}
	if cfg.LM.Timeout != 2*time.Minute {
		t.Errorf("expected 2-minute provider timeout, got %v", cfg.LM.Timeout)
	}
	if cfg.LM.Model != "llama-3.1-8b-instant" {
		t.Errorf("unexpected default model %q", cfg.LM.Model)
	}
}

func TestLoadPrefersAINamesOverLegacy(t *testing.T) {
	t.Setenv("LM_MODEL", "legacy-model")
	t.Setenv("AI_MODEL", "new-model")
	t.Setenv("LM_API_KEY", "legacy-key")
	t.Setenv("GROQ_API_KEY", "groq-key")
	t.Setenv("AI_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LM.Model != "new-model" {
		t.Errorf("AI_MODEL must win over LM_MODEL, got %q", cfg.LM.Model)
	}
	if cfg.LM.APIKey != "groq-key" {
		t.Errorf("GROQ_API_KEY must win over LM_API_KEY, got %q", cfg.LM.APIKey)
	}
}

func TestLoadMemoryStore(t *testing.T) {
	t.Setenv("STORE", StoreMemory)
	t.Setenv("DB_PATH", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.StoreKind != StoreMemory {
		t.Errorf("expected memory store, got %q", cfg.StoreKind)
	}
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	t.Setenv("STORE", "redis")

	if _, err := Load(); err == nil {
		t.Errorf("expected an error for an unknown store kind")
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"go duration", "90s", 90 * time.Second},
		{"plain seconds", "45", 45 * time.Second},
		{"fractional seconds", "0.5", 500 * time.Millisecond},
		{"garbage falls back", "soon", time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			if got := getEnvDuration("TEST_DURATION", time.Minute); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Port:      "8080",
			TCPAddr:   ":9000",
			StoreKind: StoreSQLite,
			DBPath:    "./data/test.db",
			LM: LMConfig{
				BaseURL:   "https://api.groq.com/openai/v1",
				Model:     "llama-3.1-8b-instant",
				MaxTokens: 1500,
				Timeout:   2 * time.Minute,
			},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Port = "" }},
		{"empty tcp addr", func(c *Config) { c.TCPAddr = "" }},
		{"sqlite without path", func(c *Config) { c.DBPath = "" }},
		{"empty base url", func(c *Config) { c.LM.BaseURL = "" }},
		{"empty model", func(c *Config) { c.LM.Model = "" }},
		{"zero max tokens", func(c *Config) { c.LM.MaxTokens = 0 }},
		{"zero timeout", func(c *Config) { c.LM.Timeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation to fail")
			}
		})
	}
}
