package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/docqa/internal/testutil"
	"github.com/xhad/docqa/pkg/config"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/rag"
)

type harness struct {
	configPath string
	model      *testutil.ChatModel
}

func setup(t *testing.T, seed string) *harness {
	t.Helper()
	t.Setenv(config.DefaultAPIKeyEnv, "sk-test")

	h := &harness{model: &testutil.ChatModel{}}
	embedder := llm.NewEmbedder(&testutil.EmbeddingClient{}, llm.EmbedderConfig{Provider: "fake", Model: "bow"})

	original := newPipeline
	newPipeline = func(cfg *config.Config) (*rag.Pipeline, error) {
		gen, err := llm.NewWithModel(h.model, llm.ChatConfig{})
		if err != nil {
			return nil, err
		}
		return rag.New(cfg, rag.Components{Embedder: embedder, Generator: gen})
	}
	t.Cleanup(func() { newPipeline = original })

	dir := t.TempDir()
	storeDir := filepath.Join(dir, "vector_db")
	h.configPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(h.configPath, []byte("store:\n  dir: "+storeDir+"\n"), 0644))

	if seed != "" {
		cfg, err := config.LoadConfig(h.configPath)
		require.NoError(t, err)
		p, err := newPipeline(cfg)
		require.NoError(t, err)

		path := filepath.Join(dir, "seed.txt")
		require.NoError(t, os.WriteFile(path, []byte(seed), 0644))
		_, err = p.IngestSource(context.Background(), path, nil)
		require.NoError(t, err)
		require.NoError(t, p.Close())
	}
	return h
}

func TestRunRequiresAPIKey(t *testing.T) {
	t.Setenv(config.DefaultAPIKeyEnv, "")

	var stdout, stderr bytes.Buffer
	code := run(nil, strings.NewReader(""), &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), config.DefaultAPIKeyEnv+" is not set")
}

func TestChatSession(t *testing.T) {
	h := setup(t, "Paris is the capital of France.")
	h.model.Reply = "Paris."

	input := "\n   \nWhat is the capital of France?\nQUIT\nnever asked\n"
	var stdout, stderr bytes.Buffer
	code := run([]string{"-config", h.configPath}, strings.NewReader(input), &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	out := stdout.String()
	assert.Contains(t, out, "[1] Paris is the capital of France....")
	assert.Contains(t, out, "Assistant: Paris.")
	assert.NotContains(t, out, "never asked")

	// Blank lines never reach the model, and input stops at quit.
	assert.Len(t, h.model.Messages, 1)
}

func TestChatStreaming(t *testing.T) {
	h := setup(t, "Paris is the capital of France.")
	h.model.Reply = "The capital is Paris."

	var stdout, stderr bytes.Buffer
	code := run([]string{"-config", h.configPath, "-stream"}, strings.NewReader("capital of France?\nexit\n"), &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "Assistant: The capital is Paris.")
}

func TestChatEmptyKnowledgeBase(t *testing.T) {
	h := setup(t, "")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-config", h.configPath}, strings.NewReader("anything?\n"), &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "Run ingest first")
	assert.Contains(t, stdout.String(), llm.NoContextAnswer)
	assert.Empty(t, h.model.Messages)
}
