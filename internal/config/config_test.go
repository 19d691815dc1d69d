package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Oracle.Provider)
	assert.Equal(t, "1s", cfg.RateLimit.RequestDelay)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
oracle:
  provider: gemini
  model: gemini-2.0-flash
stages:
  decomposition:
    consistency_threshold: 0.9
    max_retries: 5
rate_limit:
  request_delay: 250ms
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.Oracle.Provider)
	assert.Equal(t, "gemini-2.0-flash", cfg.Oracle.Model)
	assert.Equal(t, StageConfig{ConsistencyThreshold: 0.9, MaxRetries: 5}, cfg.Stages["decomposition"])
	assert.Equal(t, int64(250), cfg.GetRequestDelay().Milliseconds())
	// Untouched sections keep defaults.
	assert.Equal(t, "data/ruleflow.db", cfg.Catalog.DatabasePath)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RULEFLOW_API_KEY", "sk-env")
	t.Setenv("RULEFLOW_TELEMETRY_SECRET_KEY", "tele-secret")
	t.Setenv("RULEFLOW_DB", "/tmp/other.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.Oracle.APIKey)
	assert.Equal(t, "tele-secret", cfg.Telemetry.SecretKey)
	assert.Equal(t, "/tmp/other.db", cfg.Catalog.DatabasePath)
}

func TestRuleflowKeyWinsOverProviderKey(t *testing.T) {
	t.Setenv("RULEFLOW_API_KEY", "sk-ruleflow")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sk-ruleflow", cfg.Oracle.APIKey)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err, "missing API key must fail")

	cfg.Oracle.APIKey = "sk-test"
	require.NoError(t, cfg.Validate())

	cfg.Oracle.Provider = "cohere"
	assert.ErrorContains(t, cfg.Validate(), "invalid oracle provider")
	cfg.Oracle.Provider = "openai"

	cfg.Stages = map[string]StageConfig{"validation": {ConsistencyThreshold: 1.5}}
	assert.ErrorContains(t, cfg.Validate(), "consistency_threshold")
	cfg.Stages = nil

	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Host = "https://cloud.langfuse.com"
	assert.ErrorContains(t, cfg.Validate(), "keys not set")
	cfg.Telemetry.PublicKey = "pk"
	cfg.Telemetry.SecretKey = "sk"
	require.NoError(t, cfg.Validate())
}

func TestGetRequestDelayGarbageDisables(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.RequestDelay = "soon"
	assert.Zero(t, cfg.GetRequestDelay())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Oracle.Model = "gpt-4o"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", loaded.Oracle.Model)
}
