package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "cothink", cfg.Name)
	assert.True(t, cfg.Pipeline.Async)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().LLM.Model, cfg.LLM.Model)
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Model = "gemini-2.5-pro"
	cfg.Memory.RecallK = 7
	cfg.Pipeline.Async = false
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", loaded.LLM.Model)
	assert.Equal(t, 7, loaded.Memory.RecallK)
	assert.False(t, loaded.Pipeline.Async)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key-from-env")
	t.Setenv("COTHINK_STATE_DIR", "/tmp/cothink-test")
	t.Setenv("COTHINK_MODEL", "gemini-exp")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "key-from-env", cfg.LLM.APIKey)
	assert.Equal(t, "key-from-env", cfg.Embedding.GenAIAPIKey)
	assert.Equal(t, "/tmp/cothink-test", cfg.Memory.StateDir)
	assert.Equal(t, "gemini-exp", cfg.LLM.Model)
}

func TestCothinkKeyBeatsGeminiKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("COTHINK_API_KEY", "cothink-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "cothink-key", cfg.LLM.APIKey)
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero recall_k", func(c *Config) { c.Memory.RecallK = 0 }},
		{"cutoff above one", func(c *Config) { c.Pipeline.SignificanceCutoff = 1.5 }},
		{"negative confidence", func(c *Config) { c.Pipeline.MinConfidence = -1 }},
		{"bad idle ttl", func(c *Config) { c.Session.IdleTTL = "forever" }},
		{"bad async delay", func(c *Config) { c.Pipeline.AsyncDelay = "soonish" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()

	ttl, err := cfg.SessionIdleTTL()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, ttl)

	delay, err := cfg.AsyncDelay()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, delay)

	cfg.LLM.Timeout = ""
	timeout, err := cfg.LLMTimeout()
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, timeout)
}

func TestDatabasePathDefaultsUnderStateDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Memory.StateDir = "/var/lib/cothink"
	assert.Equal(t, filepath.Join("/var/lib/cothink", "cothink.db"), cfg.DatabasePath())

	cfg.Memory.DatabasePath = "/custom/db.sqlite"
	assert.Equal(t, "/custom/db.sqlite", cfg.DatabasePath())
}
