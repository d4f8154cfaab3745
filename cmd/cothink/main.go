package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"cothink/internal/classifier"
	"cothink/internal/config"
	"cothink/internal/embedding"
	"cothink/internal/llm"
	"cothink/internal/logging"
	"cothink/internal/memory"
	"cothink/internal/orchestrator"
	"cothink/internal/recall"
	"cothink/internal/signal"
)

var (
	// Global flags
	configPath string
	userKey    string
	debug      bool
	syncMode   bool
)

// rootCmd launches the interactive chat loop by default.
var rootCmd = &cobra.Command{
	Use:   "cothink",
	Short: "cothink - a thinking-partner agent with long-term memory",
	Long: `cothink is a conversational coaching agent.

It answers directly in Copilot mode, walks you through a structured
reasoning pipeline in Partner mode, and builds a long-term picture of
how you think: recurring reasoning patterns, stable traits, and the
moments worth remembering.

Run without arguments to start the interactive chat.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()
		return runChat(app, userKey)
	},
}

// configCmd writes a starter configuration file.
var configCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultConfig()
		if err := cfg.Save(configPath); err != nil {
			return err
		}
		fmt.Printf("wrote default configuration to %s\n", configPath)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.DefaultConfig()
		fmt.Printf("%s %s\n", cfg.Name, cfg.Version)
	},
}

// app bundles the wired subsystems for the CLI commands.
type app struct {
	cfg      *config.Config
	store    *memory.Store
	index    *recall.Index
	registry *orchestrator.Registry
}

// Close tears subsystems down in dependency order: sessions first, then
// storage, then the log sink.
func (a *app) Close() {
	a.registry.Close()
	if err := a.store.Close(); err != nil {
		logging.Get(logging.CategoryStore).Errorf("store close failed: %v", err)
	}
	logging.Sync()
}

// buildApp loads configuration and wires every subsystem.
func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Logging.Debug = true
	}
	if syncMode {
		cfg.Pipeline.Async = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.Memory.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := logging.Initialize(cfg.Memory.StateDir, cfg.Logging.Debug); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.Boot("%s %s starting (state dir %s)", cfg.Name, cfg.Version, cfg.Memory.StateDir)

	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("no API key configured; set GEMINI_API_KEY or llm.api_key in %s", configPath)
	}

	store, err := memory.NewStore(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}

	// Embedding failures degrade recall to keyword matching instead of
	// refusing to start.
	var engine embedding.Engine
	if cfg.Embedding.Provider != "" {
		engine, err = embedding.NewEngine(embedding.Config{
			Provider:       cfg.Embedding.Provider,
			GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
			GenAIModel:     cfg.Embedding.GenAIModel,
			OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
			OllamaModel:    cfg.Embedding.OllamaModel,
		})
		if err != nil {
			logging.Boot("embedding engine unavailable, recall degrades to keyword search: %v", err)
			engine = nil
		}
	}

	index, err := recall.NewIndex(store.DB(), engine)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open recall index: %w", err)
	}

	timeout, _ := cfg.LLMTimeout()
	generator := llm.NewGeminiClient(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: timeout,
	})
	cls := classifier.NewLLMClassifier(generator, nil)

	asyncDelay, _ := cfg.AsyncDelay()
	pipelineCfg := signal.Config{
		MinTokens:          cfg.Pipeline.MinTokens,
		MinConfidence:      cfg.Pipeline.MinConfidence,
		SignificanceFloor:  cfg.Pipeline.SignificanceFloor,
		SignificanceCutoff: cfg.Pipeline.SignificanceCutoff,
	}
	ctrlCfg := orchestrator.Config{
		Async:         cfg.Pipeline.Async,
		AsyncDelay:    asyncDelay,
		RecallK:       cfg.Memory.RecallK,
		Pipeline:      &pipelineCfg,
		HistoryWindow: cfg.LLM.HistoryWindow,
	}

	factory := func(key string) (*orchestrator.Controller, error) {
		return orchestrator.NewController(key, store, index, generator, cls, ctrlCfg)
	}

	idleTTL, _ := cfg.SessionIdleTTL()
	registry := orchestrator.NewRegistry(factory, orchestrator.RegistryConfig{
		IdleTTL:     idleTTL,
		MaxSessions: cfg.Session.MaxSessions,
	})

	return &app{cfg: cfg, store: store, index: index, registry: registry}, nil
}

func init() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	defaultConfig := filepath.Join(home, ".cothink", "config.yaml")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "configuration file path")
	rootCmd.PersistentFlags().StringVar(&userKey, "user", "default", "user key for memory partitioning")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&syncMode, "sync", false, "run signal analysis inline instead of in the background")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
