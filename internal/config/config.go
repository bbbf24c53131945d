package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// Config is the top-level mailhive configuration.
type Config struct {
	Hive      HiveConfig                `json:"hive"`
	Stores    StoresConfig              `json:"stores"`
	Spool     SpoolConfig               `json:"spool"`
	Domains   DomainsConfig             `json:"domains"`
	Providers map[string]ProviderConfig `json:"providers"`
	Triage    TriageConfig              `json:"triage"`
}

// HiveConfig holds instance-level settings.
type HiveConfig struct {
	ID      string `json:"id"`
	DataDir string `json:"data_dir"`
	LogSize int    `json:"log_size,omitempty"` // ring buffer entries, default 500
}

// StoresConfig holds SQLite store settings. Empty paths default to files
// under the data dir.
type StoresConfig struct {
	TicketDB     string `json:"ticket_db,omitempty"`
	IndexDB      string `json:"index_db,omitempty"`
	BusyAttempts int    `json:"busy_attempts,omitempty"`   // default 3
	BusyBackoff  int    `json:"busy_backoff_ms,omitempty"` // per-attempt step, default 100
}

// SpoolConfig holds mail intake settings.
type SpoolConfig struct {
	Dir      string `json:"dir"`
	Schedule string `json:"schedule,omitempty"` // cron spec, default "@every 1m"
	Workers  int    `json:"workers,omitempty"`  // default 4
}

// DomainsConfig lists the configured sender domain classifications.
// Suffix matching, so "company.com" also covers "mail.company.com".
type DomainsConfig struct {
	Internal []string `json:"internal"`
	External []string `json:"external"`
}

// ProviderConfig holds LLM provider settings.
type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "openai" (default) or "anthropic"
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model"`
}

// TriageConfig holds ticket decision settings. Provider names an entry in
// Providers; when empty the engine runs on keyword rules alone.
type TriageConfig struct {
	Provider  string `json:"provider,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"` // default 256
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a minimal config from environment variables with
// MAILHIVE_ prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Hive: HiveConfig{
			ID:      getenv("MAILHIVE_HIVE_ID", "default"),
			DataDir: getenv("MAILHIVE_DATA_DIR", "/data"),
		},
		Spool: SpoolConfig{
			Dir:      os.Getenv("MAILHIVE_SPOOL_DIR"),
			Schedule: os.Getenv("MAILHIVE_SPOOL_SCHEDULE"),
			Workers:  getenvInt("MAILHIVE_WORKERS", 0),
		},
		Domains: DomainsConfig{
			Internal: parseStringList(os.Getenv("MAILHIVE_INTERNAL_DOMAINS")),
			External: parseStringList(os.Getenv("MAILHIVE_EXTERNAL_DOMAINS")),
		},
		Providers: make(map[string]ProviderConfig),
	}

	// Default provider from env
	if apiKey := os.Getenv("MAILHIVE_ANTHROPIC_API_KEY"); apiKey != "" {
		cfg.Providers["default"] = ProviderConfig{
			Type:   "anthropic",
			APIKey: apiKey,
			Model:  getenv("MAILHIVE_MODEL", "claude-sonnet-4-20250514"),
		}
		cfg.Triage.Provider = "default"
	} else if apiKey := os.Getenv("MAILHIVE_OPENAI_API_KEY"); apiKey != "" {
		cfg.Providers["default"] = ProviderConfig{
			Type:    "openai",
			APIKey:  apiKey,
			BaseURL: os.Getenv("MAILHIVE_OPENAI_BASE_URL"),
			Model:   getenv("MAILHIVE_MODEL", "gpt-4o-mini"),
		}
		cfg.Triage.Provider = "default"
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in values derivable from the data dir plus fixed
// fallbacks for tunables left at zero.
func (c *Config) applyDefaults() {
	if c.Hive.LogSize == 0 {
		c.Hive.LogSize = 500
	}
	if c.Stores.TicketDB == "" && c.Hive.DataDir != "" {
		c.Stores.TicketDB = filepath.Join(c.Hive.DataDir, "tickets.db")
	}
	if c.Stores.IndexDB == "" && c.Hive.DataDir != "" {
		c.Stores.IndexDB = filepath.Join(c.Hive.DataDir, "mailindex.db")
	}
	if c.Stores.BusyAttempts == 0 {
		c.Stores.BusyAttempts = 3
	}
	if c.Stores.BusyBackoff == 0 {
		c.Stores.BusyBackoff = 100
	}
	if c.Spool.Dir == "" && c.Hive.DataDir != "" {
		c.Spool.Dir = filepath.Join(c.Hive.DataDir, "spool")
	}
	if c.Spool.Schedule == "" {
		c.Spool.Schedule = "@every 1m"
	}
	if c.Spool.Workers == 0 {
		c.Spool.Workers = 4
	}
	if c.Triage.MaxTokens == 0 {
		c.Triage.MaxTokens = 256
	}
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Hive.ID == "" {
		errs = append(errs, "hive.id is required")
	}
	if c.Hive.DataDir == "" {
		errs = append(errs, "hive.data_dir is required")
	}

	for name, p := range c.Providers {
		if p.APIKey == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.api_key is required", name))
		}
		if p.Model == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.model is required", name))
		}
		switch p.Type {
		case "", "openai", "anthropic":
		default:
			errs = append(errs, fmt.Sprintf("providers.%s.type %q is unknown", name, p.Type))
		}
	}

	if c.Triage.Provider != "" {
		if _, ok := c.Providers[c.Triage.Provider]; !ok {
			errs = append(errs, fmt.Sprintf("triage.provider references unknown provider %q", c.Triage.Provider))
		}
	}

	if c.Spool.Workers < 0 {
		errs = append(errs, "spool.workers must be positive")
	}
	if c.Spool.Schedule != "" {
		if _, err := cron.ParseStandard(c.Spool.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("spool.schedule %q is not a valid cron spec: %v", c.Spool.Schedule, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		result = append(result, p)
	}
	return result
}
