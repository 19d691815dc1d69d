package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all ruleflow configuration.
type Config struct {
	// Oracle (LLM) configuration
	Oracle OracleConfig `yaml:"oracle"`

	// Per-stage consistency settings, keyed by stage name. Stages absent
	// from the map run with the engine defaults.
	Stages map[string]StageConfig `yaml:"stages"`

	// Request pacing
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Trace shipping
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Product/policy term catalog
	Catalog CatalogConfig `yaml:"catalog"`

	// Stage instruction overrides
	Prompts PromptsConfig `yaml:"prompts"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// OracleConfig configures the LLM backend.
type OracleConfig struct {
	Provider string `yaml:"provider"` // openai, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// StageConfig tunes one pipeline stage.
type StageConfig struct {
	ConsistencyThreshold float64 `yaml:"consistency_threshold"`
	MaxRetries           int     `yaml:"max_retries"`
}

// RateLimitConfig paces outbound oracle calls.
type RateLimitConfig struct {
	// Minimum delay between calls, e.g. "1s". Empty or "0" disables pacing.
	RequestDelay string `yaml:"request_delay"`
}

// TelemetryConfig configures the trace shipping queue.
type TelemetryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	PublicKey string `yaml:"public_key"`
	SecretKey string `yaml:"secret_key"`
}

// CatalogConfig configures the SQLite term catalog.
type CatalogConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// PromptsConfig configures stage instruction overrides.
type PromptsConfig struct {
	// Directory of YAML override files. Empty means built-ins only.
	Dir string `yaml:"dir"`

	// Watch reloads overrides when files in Dir change.
	Watch bool `yaml:"watch"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Oracle: OracleConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			BaseURL:  "https://api.openai.com/v1",
			Timeout:  "120s",
		},

		Stages: map[string]StageConfig{},

		RateLimit: RateLimitConfig{
			RequestDelay: "1s",
		},

		Telemetry: TelemetryConfig{
			Enabled: false,
			Host:    "https://cloud.langfuse.com",
		},

		Catalog: CatalogConfig{
			DatabasePath: "data/ruleflow.db",
		},

		Prompts: PromptsConfig{
			Dir:   "prompts",
			Watch: false,
		},

		Logging: LoggingConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Load loads configuration from a YAML file. A missing file is not an
// error; defaults plus environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides. Secrets never
// have to live in the YAML file.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("RULEFLOW_API_KEY"); key != "" {
		c.Oracle.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.Oracle.APIKey == "" {
		c.Oracle.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.Oracle.Provider == "gemini" {
		c.Oracle.APIKey = key
	}

	if key := os.Getenv("RULEFLOW_TELEMETRY_PUBLIC_KEY"); key != "" {
		c.Telemetry.PublicKey = key
	}
	if key := os.Getenv("RULEFLOW_TELEMETRY_SECRET_KEY"); key != "" {
		c.Telemetry.SecretKey = key
	}

	if path := os.Getenv("RULEFLOW_DB"); path != "" {
		c.Catalog.DatabasePath = path
	}
}

// GetOracleTimeout returns the oracle timeout as a duration.
func (c *Config) GetOracleTimeout() time.Duration {
	d, err := time.ParseDuration(c.Oracle.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetRequestDelay returns the rate-limit delay as a duration. Zero means
// pacing is disabled.
func (c *Config) GetRequestDelay() time.Duration {
	if c.RateLimit.RequestDelay == "" {
		return 0
	}
	d, err := time.ParseDuration(c.RateLimit.RequestDelay)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// ValidProviders lists all supported oracle providers.
var ValidProviders = []string{"openai", "gemini"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Oracle.APIKey == "" {
		return fmt.Errorf("oracle API key not configured (set RULEFLOW_API_KEY, OPENAI_API_KEY, or GEMINI_API_KEY)")
	}

	validProvider := false
	for _, p := range ValidProviders {
		if c.Oracle.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid oracle provider: %s (valid: %v)", c.Oracle.Provider, ValidProviders)
	}

	for name, sc := range c.Stages {
		if sc.ConsistencyThreshold < 0 || sc.ConsistencyThreshold > 1 {
			return fmt.Errorf("stage %s: consistency_threshold must be in [0,1], got %g", name, sc.ConsistencyThreshold)
		}
		if sc.MaxRetries < 0 {
			return fmt.Errorf("stage %s: max_retries must be >= 0, got %d", name, sc.MaxRetries)
		}
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Host == "" {
			return fmt.Errorf("telemetry enabled but host not set")
		}
		if c.Telemetry.PublicKey == "" || c.Telemetry.SecretKey == "" {
			return fmt.Errorf("telemetry enabled but keys not set (set RULEFLOW_TELEMETRY_PUBLIC_KEY and RULEFLOW_TELEMETRY_SECRET_KEY)")
		}
	}

	return nil
}
