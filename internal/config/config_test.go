package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 0.4, cfg.Search.LexicalWeight)
	assert.Equal(t, 0.6, cfg.Search.VectorWeight)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, 10, cfg.Search.TopK)
	assert.Equal(t, 8000, cfg.Search.TokenBudget)
	assert.Equal(t, "heuristic", cfg.Search.Tokenizer)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	// Given: a YAML file overriding a few fields
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
version: 1
search:
  lexical_weight: 0.5
  vector_weight: 0.5
  top_k: 25
server:
  port: 9000
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	// When: I load it
	cfg, err := Load(path)
	require.NoError(t, err)

	// Then: overridden fields change, the rest keep their defaults
	assert.Equal(t, 0.5, cfg.Search.LexicalWeight)
	assert.Equal(t, 25, cfg.Search.TopK)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, 8000, cfg.Search.TokenBudget)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search:\n  rrf_constant: 30\n"), 0o644))

	t.Setenv("DOCLENS_RRF_CONSTANT", "90")
	t.Setenv("DOCLENS_EMBEDDINGS_PROVIDER", "static")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.Search.RRFConstant)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative weight", func(c *Config) { c.Search.LexicalWeight = -0.1 }},
		{"both weights zero", func(c *Config) { c.Search.LexicalWeight = 0; c.Search.VectorWeight = 0 }},
		{"zero rrf constant", func(c *Config) { c.Search.RRFConstant = 0 }},
		{"zero top_k", func(c *Config) { c.Search.TopK = 0 }},
		{"zero budget", func(c *Config) { c.Search.TokenBudget = 0 }},
		{"unknown tokenizer", func(c *Config) { c.Search.Tokenizer = "word-count" }},
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "openai" }},
		{"zero dimensions", func(c *Config) { c.Embeddings.Dimensions = 0 }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := NewConfig()
	cfg.Search.TopK = 42

	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Search.TopK)
}
