package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		BaseURL     string   `yaml:"base_url"`
		Model       string   `yaml:"model"`
		APIKeyEnv   string   `yaml:"api_key_env"`
		MaxTokens   int      `yaml:"max_tokens"`
		Temperature *float64 `yaml:"temperature"`
	} `yaml:"llm"`

	Embedder struct {
		Provider    string `yaml:"provider"`
		BaseURL     string `yaml:"base_url"`
		Model       string `yaml:"model"`
		APIKeyEnv   string `yaml:"api_key_env"`
		Instruction string `yaml:"instruction"`
		BatchSize   int    `yaml:"batch_size"`
	} `yaml:"embedder"`

	Splitter struct {
		ChunkSize    int `yaml:"chunk_size"`
		ChunkOverlap int `yaml:"chunk_overlap"`
	} `yaml:"splitter"`

	Store struct {
		Backend     string `yaml:"backend"`
		Dir         string `yaml:"dir"`
		Dedupe      *bool  `yaml:"dedupe"`
		LockTimeout int    `yaml:"lock_timeout_secs"`
	} `yaml:"store"`

	Database struct {
		URL       string `yaml:"url"`
		TableName string `yaml:"table_name"`
		VectorDim int    `yaml:"vector_dim"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"database"`

	Retrieval struct {
		TopK       int `yaml:"top_k"`
		ExcerptLen int `yaml:"excerpt_len"`
	} `yaml:"retrieval"`

	Scraper struct {
		MaxDepth          int      `yaml:"max_depth"`
		RateLimit         float64  `yaml:"rate_limit"`
		TimeoutSecs       int      `yaml:"timeout_secs"`
		IgnorePatterns    []string `yaml:"ignore_patterns"`
		AllowedExtensions []string `yaml:"allowed_extensions"`
	} `yaml:"scraper"`

	UI struct {
		Streaming bool   `yaml:"streaming"`
		Addr      string `yaml:"addr"`
	} `yaml:"ui"`

	Log struct {
		Debug bool `yaml:"debug"`
	} `yaml:"log"`
}

const (
	DefaultInstruction = "Represent this sentence for retrieval:"
	DefaultStoreDir    = "vector_db"
	DefaultAPIKeyEnv   = "OPENROUTER_API_KEY"
	DefaultTemperature = 0.7
)

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/docqa/config.yaml"),
			"/etc/docqa/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

// Default returns the built-in configuration with environment overrides applied.
func Default() *Config {
	config, _ := getDefaultConfig()
	return config
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

// APIKey returns the chat-completion key from the environment variable named by llm.api_key_env.
func (c *Config) APIKey() string {
	return os.Getenv(c.LLM.APIKeyEnv)
}

// EmbedderAPIKey returns the key for an OpenAI-compatible embedding endpoint, if any.
func (c *Config) EmbedderAPIKey() string {
	if c.Embedder.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Embedder.APIKeyEnv)
}

// Temperature returns llm.temperature. An explicit 0 is kept.
func (c *Config) Temperature() float64 {
	if c.LLM.Temperature == nil {
		return DefaultTemperature
	}
	return *c.LLM.Temperature
}

// DedupeEnabled reports whether re-ingesting identical chunks is skipped.
func (c *Config) DedupeEnabled() bool {
	return c.Store.Dedupe == nil || *c.Store.Dedupe
}

func applyDefaults(config *Config) {
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "https://openrouter.ai/api/v1"
	}
	if config.LLM.Model == "" {
		config.LLM.Model = "mistralai/mistral-7b-instruct"
	}
	if config.LLM.APIKeyEnv == "" {
		config.LLM.APIKeyEnv = DefaultAPIKeyEnv
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 1024
	}
	if config.LLM.Temperature == nil {
		temperature := DefaultTemperature
		config.LLM.Temperature = &temperature
	}

	if config.Embedder.Provider == "" {
		config.Embedder.Provider = "ollama"
	}
	if config.Embedder.BaseURL == "" && config.Embedder.Provider == "ollama" {
		config.Embedder.BaseURL = "http://localhost:11434"
	}
	if config.Embedder.Model == "" {
		config.Embedder.Model = "nomic-embed-text"
	}
	if config.Embedder.Instruction == "" {
		config.Embedder.Instruction = DefaultInstruction
	}
	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 32
	}

	if config.Splitter.ChunkSize == 0 {
		config.Splitter.ChunkSize = 500
	}
	if config.Splitter.ChunkOverlap == 0 {
		config.Splitter.ChunkOverlap = 100
	}

	if config.Store.Backend == "" {
		config.Store.Backend = "local"
	}
	if config.Store.Dir == "" {
		config.Store.Dir = DefaultStoreDir
	}
	if config.Store.LockTimeout == 0 {
		config.Store.LockTimeout = 5
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "chunks"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 4
	}
	if config.Retrieval.ExcerptLen == 0 {
		config.Retrieval.ExcerptLen = 200
	}

	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if config.Scraper.TimeoutSecs == 0 {
		config.Scraper.TimeoutSecs = 30
	}
	if len(config.Scraper.AllowedExtensions) == 0 {
		config.Scraper.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}

	if config.UI.Addr == "" {
		config.UI.Addr = ":8501"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OPENROUTER_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if model := os.Getenv("DOCQA_MODEL"); model != "" {
		config.LLM.Model = model
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.Embedder.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if dir := os.Getenv("DOCQA_STORE_DIR"); dir != "" {
		config.Store.Dir = dir
	}
	if port := os.Getenv("PORT"); port != "" {
		config.UI.Addr = ":" + port
	}
}
