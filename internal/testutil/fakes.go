// Package testutil holds deterministic stand-ins for the remote embedding and chat models.
package testutil

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
)

const EmbeddingDim = 256

// HashEmbedding maps text to a bag-of-words vector: each lowercased word bumps one hashed bucket.
func HashEmbedding(text string) []float32 {
	vec := make([]float32, EmbeddingDim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%EmbeddingDim]++
	}
	return vec
}

// EmbeddingClient is a fake embeddings.EmbedderClient that records every input it sees.
type EmbeddingClient struct {
	mu     sync.Mutex
	Inputs []string
	Calls  int
	Err    error
}

var _ embeddings.EmbedderClient = (*EmbeddingClient)(nil)

func (c *EmbeddingClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Calls++
	if c.Err != nil {
		return nil, c.Err
	}
	c.Inputs = append(c.Inputs, texts...)

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = HashEmbedding(text)
	}
	return out, nil
}

// ChatModel is a fake llms.Model. It answers with Reply, or, when Reply is empty,
// echoes the first context line of the prompt it was sent.
type ChatModel struct {
	mu       sync.Mutex
	Reply    string
	Err      error
	NoChoice bool
	Messages [][]llms.MessageContent
	Options  []llms.CallOptions
}

var _ llms.Model = (*ChatModel)(nil)

func (m *ChatModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	m.Messages = append(m.Messages, messages)
	m.Options = append(m.Options, opts)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if m.NoChoice {
		return &llms.ContentResponse{}, nil
	}

	reply := m.Reply
	if reply == "" {
		reply = echoContext(messages)
	}

	if opts.StreamingFunc != nil {
		for _, word := range strings.SplitAfter(reply, " ") {
			if word == "" {
				continue
			}
			if err := opts.StreamingFunc(ctx, []byte(word)); err != nil {
				return nil, err
			}
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: reply}},
	}, nil
}

func (m *ChatModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// LastPrompt returns the text of the last message of the most recent call.
func (m *ChatModel) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return TextOf(m.Messages[len(m.Messages)-1][len(m.Messages[len(m.Messages)-1])-1])
}

// TextOf concatenates the text parts of a message.
func TextOf(msg llms.MessageContent) string {
	var b strings.Builder
	for _, part := range msg.Parts {
		if text, ok := part.(llms.TextContent); ok {
			b.WriteString(text.Text)
		}
	}
	return b.String()
}

func echoContext(messages []llms.MessageContent) string {
	if len(messages) == 0 {
		return ""
	}
	prompt := TextOf(messages[len(messages)-1])
	prompt = strings.TrimPrefix(prompt, "Context:\n")
	if i := strings.IndexByte(prompt, '\n'); i >= 0 {
		prompt = prompt[:i]
	}
	return prompt
}

var ErrUnavailable = errors.New("model unavailable")
