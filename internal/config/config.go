// Package config holds docsieve configuration, loaded from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all docsieve configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Embedding configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Extraction pipeline configuration
	Extraction ExtractionConfig `yaml:"extraction"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the completion provider.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // gemini
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     string  `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // "ollama" or "genai"
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
}

// ExtractionConfig configures the extraction pipeline.
type ExtractionConfig struct {
	ChunkSize            int      `yaml:"chunk_size"`
	ChunkOverlap         int      `yaml:"chunk_overlap"`
	MaxConcurrency       int      `yaml:"max_concurrency"`
	RequestTimeout       string   `yaml:"request_timeout"`
	ExtractionDeadline   string   `yaml:"extraction_deadline"`
	DedupThreshold       float64  `yaml:"dedup_threshold"`
	DefaultOutputFormats []string `yaml:"default_output_formats"`
	DefaultDomain        string   `yaml:"default_domain"`
	SchemaDir            string   `yaml:"schema_dir"` // extra YAML domain definitions
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "docsieve",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider:    "gemini",
			Model:       "gemini-2.5-flash",
			BaseURL:     "https://generativelanguage.googleapis.com/v1beta",
			Temperature: 0.1,
			MaxTokens:   8192,
			Timeout:     "60s",
		},

		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
		},

		Extraction: ExtractionConfig{
			ChunkSize:            4000,
			ChunkOverlap:         200,
			MaxConcurrency:       20,
			RequestTimeout:       "60s",
			ExtractionDeadline:   "10m",
			DedupThreshold:       0.9,
			DefaultOutputFormats: []string{"structured"},
			DefaultDomain:        "general",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
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

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "gemini"
		}
		// Share the key with the GenAI embedding backend unless set separately
		if c.Embedding.GenAIAPIKey == "" {
			c.Embedding.GenAIAPIKey = key
		}
	}
	if key := os.Getenv("DOCSIEVE_EMBEDDING_API_KEY"); key != "" {
		c.Embedding.GenAIAPIKey = key
	}
	if url := os.Getenv("DOCSIEVE_LLM_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if model := os.Getenv("DOCSIEVE_LLM_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if endpoint := os.Getenv("OLLAMA_HOST"); endpoint != "" {
		c.Embedding.OllamaEndpoint = endpoint
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Extraction.ChunkSize <= 0 {
		return fmt.Errorf("extraction.chunk_size must be positive, got %d", c.Extraction.ChunkSize)
	}
	if c.Extraction.ChunkOverlap < 0 || c.Extraction.ChunkOverlap >= c.Extraction.ChunkSize {
		return fmt.Errorf("extraction.chunk_overlap must be in [0, chunk_size), got %d", c.Extraction.ChunkOverlap)
	}
	if c.Extraction.MaxConcurrency <= 0 {
		return fmt.Errorf("extraction.max_concurrency must be positive, got %d", c.Extraction.MaxConcurrency)
	}
	if c.Extraction.DedupThreshold < 0 || c.Extraction.DedupThreshold > 1 {
		return fmt.Errorf("extraction.dedup_threshold must be in [0,1], got %v", c.Extraction.DedupThreshold)
	}
	if len(c.Extraction.DefaultOutputFormats) == 0 {
		return fmt.Errorf("extraction.default_output_formats must name at least one format")
	}
	return nil
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetRequestTimeout returns the per-job request timeout as a duration.
func (c *Config) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Extraction.RequestTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetExtractionDeadline returns the overall extraction deadline as a duration.
func (c *Config) GetExtractionDeadline() time.Duration {
	d, err := time.ParseDuration(c.Extraction.ExtractionDeadline)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}
