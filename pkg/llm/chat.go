package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xhad/docqa/internal/logger"
	"github.com/xhad/docqa/internal/models"
)

const (
	NoContextAnswer = "No relevant context found."

	DefaultSystemTemplate  = "Answer the question based on the provided context."
	DefaultContextTemplate = "Context:\n%s\n\nQuestion: %s"
)

var (
	ErrMissingAPIKey = errors.New("missing API key for the chat completion service")
	ErrEmptyResponse = errors.New("chat completion returned no choices")
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model           string
	Temperature     float64
	MaxTokens       int
	SystemTemplate  string
	ContextTemplate string
	BaseURL         string // OpenAI-compatible endpoint, OpenRouter by default
	APIKey          string
}

// ChatEngine answers questions from retrieved chunks with a hosted chat model.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine backed by an OpenAI-compatible chat completion endpoint.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://openrouter.ai/api/v1"
	}
	if config.Model == "" {
		config.Model = "mistralai/mistral-7b-instruct"
	}

	llm, err := openai.New(
		openai.WithToken(config.APIKey),
		openai.WithBaseURL(config.BaseURL),
		openai.WithModel(config.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return NewWithModel(llm, config)
}

// NewWithModel wraps an existing model.
func NewWithModel(model llms.Model, config ChatConfig) (*ChatEngine, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = DefaultSystemTemplate
	}
	if config.ContextTemplate == "" {
		config.ContextTemplate = DefaultContextTemplate
	}

	return &ChatEngine{
		config: config,
		llm:    model,
	}, nil
}

// BuildContext joins chunk texts with blank lines, in the order given.
func BuildContext(chunks []models.Chunk) string {
	parts := make([]string, len(chunks))
	for i, chunk := range chunks {
		parts[i] = chunk.Content
	}
	return strings.Join(parts, "\n\n")
}

func (ce *ChatEngine) messages(chunks []models.Chunk, query string) []llms.MessageContent {
	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(ce.config.ContextTemplate, BuildContext(chunks), query)),
	}
}

// Generate answers query from chunks. With no chunks it returns NoContextAnswer without calling the model.
func (ce *ChatEngine) Generate(ctx context.Context, chunks []models.Chunk, query string) (string, error) {
	return ce.generate(ctx, chunks, query, nil)
}

// GenerateStream is Generate with onChunk called for every streamed fragment.
// The returned string is the complete, trimmed answer.
func (ce *ChatEngine) GenerateStream(ctx context.Context, chunks []models.Chunk, query string, onChunk func(string)) (string, error) {
	return ce.generate(ctx, chunks, query, onChunk)
}

func (ce *ChatEngine) generate(ctx context.Context, chunks []models.Chunk, query string, onChunk func(string)) (string, error) {
	if len(chunks) == 0 {
		return NoContextAnswer, nil
	}

	options := []llms.CallOption{
		llms.WithMaxTokens(ce.config.MaxTokens),
		llms.WithTemperature(ce.config.Temperature),
	}
	if onChunk != nil {
		options = append(options, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			onChunk(string(chunk))
			return nil
		}))
	}

	logger.Debug("Generating answer from %d chunks with model %s", len(chunks), ce.config.Model)
	response, err := ce.llm.GenerateContent(ctx, ce.messages(chunks, query), options...)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return "", ErrEmptyResponse
	}

	return strings.TrimSpace(response.Choices[0].Content), nil
}
