// Package config holds all cothink configuration.
// Configuration is loaded from a YAML file with environment variable
// overrides for credentials, falling back to defaults when no file exists.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all cothink configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM collaborator (generation + classification)
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine for the recall index
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Persistent memory
	Memory MemoryConfig `yaml:"memory"`

	// Signal pipeline tuning
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Session registry
	Session SessionConfig `yaml:"session"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the text-generation collaborator.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`

	// How many short-term turns the generator keeps as conversational context.
	HistoryWindow int `yaml:"history_window"`
}

// EmbeddingConfig configures the embedding backend.
type EmbeddingConfig struct {
	// Provider: "genai" or "ollama". Empty disables semantic search
	// (the recall index degrades to keyword matching).
	Provider string `yaml:"provider"`

	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`

	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
}

// MemoryConfig configures the pattern store and recall index.
type MemoryConfig struct {
	// StateDir is the root for databases and logs.
	StateDir string `yaml:"state_dir"`

	// DatabasePath overrides the default <state_dir>/cothink.db.
	DatabasePath string `yaml:"database_path"`

	// RecallK is how many recall hits the context assembler quotes.
	RecallK int `yaml:"recall_k"`
}

// PipelineConfig configures the signal pipeline.
type PipelineConfig struct {
	// MinTokens below which an utterance is not analyzed.
	MinTokens int `yaml:"min_tokens"`

	// SignificanceFloor is the word count under which an utterance is
	// never written to the recall index.
	SignificanceFloor int `yaml:"significance_floor"`

	// SignificanceCutoff gates recall writes on the scored importance.
	SignificanceCutoff float64 `yaml:"significance_cutoff"`

	// MinConfidence a detection needs before an observation is recorded.
	MinConfidence int `yaml:"min_confidence"`

	// Async runs analysis off the reply path when true.
	Async bool `yaml:"async"`

	// AsyncDelay is how long a queued analysis waits before dispatch, so
	// it does not contend with the primary reply for the outbound budget.
	AsyncDelay string `yaml:"async_delay"`
}

// SessionConfig configures the session registry.
type SessionConfig struct {
	// IdleTTL evicts sessions with no activity for this long.
	IdleTTL string `yaml:"idle_ttl"`

	// MaxSessions caps live sessions; the least recently used is evicted.
	MaxSessions int `yaml:"max_sessions"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "cothink",
		Version: "0.3.0",

		LLM: LLMConfig{
			Model:         "gemini-2.5-flash",
			BaseURL:       "https://generativelanguage.googleapis.com/v1beta",
			Timeout:       "120s",
			HistoryWindow: 12,
		},

		Embedding: EmbeddingConfig{
			Provider:       "genai",
			GenAIModel:     "gemini-embedding-001",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
		},

		Memory: MemoryConfig{
			StateDir: ".cothink",
			RecallK:  3,
		},

		Pipeline: PipelineConfig{
			MinTokens:          4,
			SignificanceFloor:  5,
			SignificanceCutoff: 0.6,
			MinConfidence:      60,
			Async:              true,
			AsyncDelay:         "2s",
		},

		Session: SessionConfig{
			IdleTTL:     "30m",
			MaxSessions: 256,
		},

		Logging: LoggingConfig{
			Debug: false,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment variables are applied last.
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

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variables over file values.
// GEMINI_API_KEY feeds both generation and embeddings unless the file
// set them explicitly.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if c.LLM.APIKey == "" {
			c.LLM.APIKey = key
		}
		if c.Embedding.GenAIAPIKey == "" {
			c.Embedding.GenAIAPIKey = key
		}
	}
	if key := os.Getenv("COTHINK_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if dir := os.Getenv("COTHINK_STATE_DIR"); dir != "" {
		c.Memory.StateDir = dir
	}
	if model := os.Getenv("COTHINK_MODEL"); model != "" {
		c.LLM.Model = model
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Memory.RecallK <= 0 {
		return fmt.Errorf("memory.recall_k must be positive, got %d", c.Memory.RecallK)
	}
	if c.Pipeline.SignificanceCutoff < 0 || c.Pipeline.SignificanceCutoff > 1 {
		return fmt.Errorf("pipeline.significance_cutoff must be in [0,1], got %f", c.Pipeline.SignificanceCutoff)
	}
	if c.Pipeline.MinConfidence < 0 || c.Pipeline.MinConfidence > 100 {
		return fmt.Errorf("pipeline.min_confidence must be in [0,100], got %d", c.Pipeline.MinConfidence)
	}
	if _, err := c.SessionIdleTTL(); err != nil {
		return fmt.Errorf("session.idle_ttl: %w", err)
	}
	if _, err := c.AsyncDelay(); err != nil {
		return fmt.Errorf("pipeline.async_delay: %w", err)
	}
	return nil
}

// DatabasePath resolves the SQLite path, defaulting under the state dir.
func (c *Config) DatabasePath() string {
	if c.Memory.DatabasePath != "" {
		return c.Memory.DatabasePath
	}
	return filepath.Join(c.Memory.StateDir, "cothink.db")
}

// SessionIdleTTL parses the configured idle TTL.
func (c *Config) SessionIdleTTL() (time.Duration, error) {
	if c.Session.IdleTTL == "" {
		return 30 * time.Minute, nil
	}
	return time.ParseDuration(c.Session.IdleTTL)
}

// AsyncDelay parses the configured background analysis delay.
func (c *Config) AsyncDelay() (time.Duration, error) {
	if c.Pipeline.AsyncDelay == "" {
		return 2 * time.Second, nil
	}
	return time.ParseDuration(c.Pipeline.AsyncDelay)
}

// LLMTimeout parses the configured generation timeout.
func (c *Config) LLMTimeout() (time.Duration, error) {
	if c.LLM.Timeout == "" {
		return 120 * time.Second, nil
	}
	return time.ParseDuration(c.LLM.Timeout)
}
