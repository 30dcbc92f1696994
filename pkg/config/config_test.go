package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
llm:
  base_url: "https://openrouter.ai/api/v1"
  model: "mistralai/mistral-7b-instruct"
  max_tokens: 1000
  temperature: 0.5

embedder:
  provider: "openai"
  base_url: "http://localhost:8080/v1"
  model: "instructor-base"
  api_key_env: "EMBED_KEY"
  batch_size: 16

splitter:
  chunk_size: 400
  chunk_overlap: 80

store:
  backend: "local"
  dir: "/tmp/kb"
  dedupe: false

retrieval:
  top_k: 6

ui:
  streaming: true
  addr: ":9000"
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	// Test loading config
	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	// Verify loaded values
	assert.Equal(t, "https://openrouter.ai/api/v1", config.LLM.BaseURL)
	assert.Equal(t, "mistralai/mistral-7b-instruct", config.LLM.Model)
	assert.Equal(t, 1000, config.LLM.MaxTokens)
	assert.Equal(t, 0.5, config.Temperature())
	assert.Equal(t, "openai", config.Embedder.Provider)
	assert.Equal(t, "instructor-base", config.Embedder.Model)
	assert.Equal(t, 16, config.Embedder.BatchSize)
	assert.Equal(t, 400, config.Splitter.ChunkSize)
	assert.Equal(t, 80, config.Splitter.ChunkOverlap)
	assert.Equal(t, "/tmp/kb", config.Store.Dir)
	assert.False(t, config.DedupeEnabled())
	assert.Equal(t, 6, config.Retrieval.TopK)
	assert.True(t, config.UI.Streaming)

	// Unset values fall back to defaults
	assert.Equal(t, DefaultInstruction, config.Embedder.Instruction)
	assert.Equal(t, DefaultAPIKeyEnv, config.LLM.APIKeyEnv)
	assert.Equal(t, 200, config.Retrieval.ExcerptLen)
	assert.Empty(t, config.Validate())
}

func TestDefaultConfig(t *testing.T) {
	config, err := getDefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, 500, config.Splitter.ChunkSize)
	assert.Equal(t, 100, config.Splitter.ChunkOverlap)
	assert.Equal(t, 4, config.Retrieval.TopK)
	assert.Equal(t, "local", config.Store.Backend)
	assert.True(t, config.DedupeEnabled())
	assert.Equal(t, "Represent this sentence for retrieval:", config.Embedder.Instruction)
}

func TestTemperature(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want float64
	}{
		{"unset uses default", "llm:\n  model: m\n", DefaultTemperature},
		{"explicit zero is kept", "llm:\n  temperature: 0\n", 0},
		{"explicit value", "llm:\n  temperature: 1.2\n", 1.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))

			config, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, config.Temperature())
			assert.Empty(t, config.Validate())
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(c *Config)
		expectedErrs  int
		errorMessages []string
	}{
		{
			name:         "valid config",
			mutate:       func(c *Config) {},
			expectedErrs: 0,
		},
		{
			name: "invalid config",
			mutate: func(c *Config) {
				c.LLM.BaseURL = "invalid-url"
				c.LLM.MaxTokens = 50000
				temperature := 3.0
				c.LLM.Temperature = &temperature
				c.Splitter.ChunkOverlap = 600
				c.Store.Backend = "chroma"
			},
			expectedErrs: 5,
			errorMessages: []string{
				"llm.base_url: chat completion base URL must be an http(s) URL",
				"llm.max_tokens: max_tokens must be between 1 and 32768",
				"llm.temperature: temperature must be between 0 and 2",
				"splitter.chunk_overlap: chunk_overlap must be non-negative and less than chunk_size",
				"store.backend: unknown store backend: chroma",
			},
		},
		{
			name: "pgvector without database url",
			mutate: func(c *Config) {
				c.Store.Backend = "pgvector"
			},
			expectedErrs:  1,
			errorMessages: []string{"database.url: database URL is required"},
		},
		{
			name: "unknown embedding provider",
			mutate: func(c *Config) {
				c.Embedder.Provider = "instructor"
			},
			expectedErrs:  1,
			errorMessages: []string{"embedder.provider: unknown embedding provider: instructor"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{}
			applyDefaults(config)
			tt.mutate(config)

			errors := config.Validate()
			assert.Len(t, errors, tt.expectedErrs)

			for i, msg := range tt.errorMessages {
				assert.Contains(t, errors[i].Error(), msg)
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("DOCQA_STORE_DIR", "/var/lib/docqa")
	t.Setenv("PORT", "9999")

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, "http://env-ollama:11434", config.Embedder.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Database.URL)
	assert.Equal(t, "/var/lib/docqa", config.Store.Dir)
	assert.Equal(t, ":9999", config.UI.Addr)
}

func TestAPIKey(t *testing.T) {
	config := &Config{}
	applyDefaults(config)

	t.Setenv(DefaultAPIKeyEnv, "")
	assert.Empty(t, config.APIKey())

	t.Setenv(DefaultAPIKeyEnv, "sk-test")
	assert.Equal(t, "sk-test", config.APIKey())
}
