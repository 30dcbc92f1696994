package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const DefaultInstruction = "Represent this sentence for retrieval:"

// EmbedderConfig represents the configuration for an embedding adapter.
type EmbedderConfig struct {
	Provider    string // "ollama" or "openai"
	Model       string
	BaseURL     string
	APIKey      string // only used by the openai provider
	Instruction string
	BatchSize   int
}

// Embedder pairs every input with a fixed instruction before handing it to the
// backing embedding model. Ingestion and queries must share one configuration.
type Embedder struct {
	config EmbedderConfig
	client embeddings.EmbedderClient
}

// NewEmbedderWithConfig builds the embedding client for config.Provider.
func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Provider == "" {
		config.Provider = "ollama"
	}
	if config.Model == "" {
		config.Model = "nomic-embed-text"
	}

	var client embeddings.EmbedderClient
	switch config.Provider {
	case "ollama":
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}
		emb, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		client = emb
	case "openai":
		opts := []openai.Option{openai.WithEmbeddingModel(config.Model)}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		// Self-hosted compatible servers accept any bearer token.
		token := config.APIKey
		if token == "" {
			token = "unused"
		}
		opts = append(opts, openai.WithToken(token))
		emb, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		client = emb
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", config.Provider)
	}

	return NewEmbedder(client, config), nil
}

// NewEmbedder wraps an existing embedding client.
func NewEmbedder(client embeddings.EmbedderClient, config EmbedderConfig) *Embedder {
	if config.Instruction == "" {
		config.Instruction = DefaultInstruction
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	return &Embedder{config: config, client: client}
}

// EmbedDocuments returns one vector per text, in input order.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	inputs := make([]string, len(texts))
	for i, text := range texts {
		inputs[i] = e.pair(text)
	}

	vectors, err := embeddings.BatchedEmbed(ctx, e.client, inputs, e.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding model returned %d vectors for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.client.CreateEmbedding(ctx, []string{e.pair(text)})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedding model returned no vector")
	}
	return vectors[0], nil
}

// Fingerprint identifies the provider, model and instruction that produced a vector space.
func (e *Embedder) Fingerprint() string {
	return fmt.Sprintf("%s/%s|%s", e.config.Provider, e.config.Model, e.config.Instruction)
}

func (e *Embedder) pair(text string) string {
	return e.config.Instruction + " " + text
}
