// Package config loads doclens configuration from YAML with environment
// overrides. Precedence: defaults < config file < DOCLENS_* env vars.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the complete doclens configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Paths      PathsConfig      `yaml:"paths"`
	Search     SearchConfig     `yaml:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Server     ServerConfig     `yaml:"server"`
}

// PathsConfig locates the on-disk stores.
type PathsConfig struct {
	// DataDir holds the SQLite database, lexical index, and vector graph.
	DataDir string `yaml:"data_dir"`
}

// SearchConfig tunes hybrid retrieval. Weights need not sum to 1; they are
// relative contributions to the fused score.
type SearchConfig struct {
	// LexicalWeight is the RRF weight for lexical rank contributions.
	LexicalWeight float64 `yaml:"lexical_weight"`

	// VectorWeight is the RRF weight for vector rank contributions.
	VectorWeight float64 `yaml:"vector_weight"`

	// RRFConstant is the RRF smoothing parameter k. Higher values flatten
	// the impact of rank differences.
	RRFConstant int `yaml:"rrf_constant"`

	// SimilarityThreshold drops vector hits at or below this cosine
	// similarity before fusion.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// TopK is the default fused result count per query.
	TopK int `yaml:"top_k"`

	// CandidateLimit is how many hits each search arm fetches before fusion.
	CandidateLimit int `yaml:"candidate_limit"`

	// TokenBudget is the default context-expansion budget per query.
	TokenBudget int `yaml:"token_budget"`

	// Tokenizer selects the token estimator: "heuristic" (default) or
	// "tiktoken" for exact BPE counts.
	Tokenizer string `yaml:"tokenizer"`

	// HierarchyCacheSize bounds the per-document hierarchy LRU cache.
	HierarchyCacheSize int `yaml:"hierarchy_cache_size"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama" or "static" (deterministic offline fallback).
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`

	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host"`

	// TimeoutSeconds bounds a single embedding call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

// NewConfig returns the default configuration.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: defaultDataDir(),
		},
		Search: SearchConfig{
			LexicalWeight:       0.4,
			VectorWeight:        0.6,
			RRFConstant:         60,
			SimilarityThreshold: 0.0,
			TopK:                10,
			CandidateLimit:      50,
			TokenBudget:         8000,
			Tokenizer:           "heuristic",
			HierarchyCacheSize:  64,
		},
		Embeddings: EmbeddingsConfig{
			Provider:       "ollama",
			Model:          "nomic-embed-text",
			Dimensions:     768,
			BatchSize:      32,
			OllamaHost:     "http://localhost:11434",
			TimeoutSeconds: 30,
		},
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8385,
			LogLevel: "info",
		},
	}
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "doclens")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "doclens")
	}
	return filepath.Join(home, ".local", "share", "doclens")
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (skipped when path is empty and the default location is absent), then
// DOCLENS_* environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		path = DefaultConfigPath()
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfigPath returns the per-user config file location.
func DefaultConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "doclens", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "doclens", "config.yaml")
	}
	return filepath.Join(home, ".config", "doclens", "config.yaml")
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCLENS_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("DOCLENS_LEXICAL_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.LexicalWeight = f
		}
	}
	if v := os.Getenv("DOCLENS_VECTOR_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.VectorWeight = f
		}
	}
	if v := os.Getenv("DOCLENS_RRF_CONSTANT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Search.RRFConstant = n
		}
	}
	if v := os.Getenv("DOCLENS_TOKEN_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Search.TokenBudget = n
		}
	}
	if v := os.Getenv("DOCLENS_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("DOCLENS_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("DOCLENS_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("DOCLENS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		}
	}
	if v := os.Getenv("DOCLENS_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Search.LexicalWeight < 0 || c.Search.VectorWeight < 0 {
		return fmt.Errorf("search weights must be non-negative, got lexical=%g vector=%g",
			c.Search.LexicalWeight, c.Search.VectorWeight)
	}
	if c.Search.LexicalWeight == 0 && c.Search.VectorWeight == 0 {
		return fmt.Errorf("at least one search weight must be positive")
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.Search.TopK)
	}
	if c.Search.TokenBudget <= 0 {
		return fmt.Errorf("token_budget must be positive, got %d", c.Search.TokenBudget)
	}
	switch c.Search.Tokenizer {
	case "heuristic", "tiktoken":
	default:
		return fmt.Errorf("unknown tokenizer %q", c.Search.Tokenizer)
	}
	switch c.Embeddings.Provider {
	case "ollama", "static":
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}

// WriteYAML writes the configuration to path, creating parent directories.
func (c *Config) WriteYAML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
