package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"docsieve/internal/config"
	"docsieve/internal/embedding"
	"docsieve/internal/llm"
	"docsieve/internal/logging"
	"docsieve/internal/pipeline"
	"docsieve/internal/schema"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "docsieve",
	Short: "docsieve - schema-driven field extraction from unstructured documents",
	Long: `docsieve extracts structured field values from large unstructured
documents (medical records, legal contracts, lab reports) by fanning
per-chunk extraction jobs out to an LLM and reconciling the results.

Domains, sub-domains and fields are declared in a schema registry;
extra domains can be loaded from YAML files.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if workspace == "" {
			workspace, _ = os.Getwd()
		}
		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("file logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default .docsieve/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default cwd)")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(domainsCmd)
	rootCmd.AddCommand(queryCmd)
}

// loadConfig resolves and loads the effective configuration.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(workspace, ".docsieve", "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildRegistry creates the registries with built-in domains plus any YAML
// schemas from the configured schema directory.
func buildRegistry(cfg *config.Config) (*schema.Registry, error) {
	functions := schema.NewFunctionRegistry()
	registry := schema.NewRegistry(functions)
	if err := schema.RegisterBuiltins(registry); err != nil {
		return nil, err
	}
	if cfg.Extraction.SchemaDir != "" {
		if err := schema.LoadDomainDir(registry, cfg.Extraction.SchemaDir); err != nil {
			return nil, err
		}
		logger.Debug("loaded user schemas", zap.String("dir", cfg.Extraction.SchemaDir))
	}
	return registry, nil
}

// buildPipeline wires the LLM client, the embedding engine and the pipeline.
func buildPipeline(cfg *config.Config) (*pipeline.Pipeline, error) {
	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	client := llm.NewGeminiClientWithConfig(llm.GeminiConfig{
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Model:           cfg.LLM.Model,
		Temperature:     cfg.LLM.Temperature,
		MaxOutputTokens: cfg.LLM.MaxTokens,
		Timeout:         cfg.GetLLMTimeout(),
	})

	var embedder embedding.Engine
	if eng, err := embedding.NewEngine(cfg.Embedding); err != nil {
		logger.Warn("embedding engine unavailable, dedup falls back to lexical similarity", zap.Error(err))
	} else {
		embedder = eng
	}

	return pipeline.New(registry, client, embedder), nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigs)
	}()
	return ctx, cancel
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
