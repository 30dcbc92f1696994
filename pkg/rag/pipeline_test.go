package rag_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/docqa/internal/testutil"
	"github.com/xhad/docqa/pkg/config"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/loader"
	"github.com/xhad/docqa/pkg/rag"
)

const capitals = "Paris is the capital of France.\n\nBerlin is the capital of Germany.\n\nRome is the capital of Italy."

type fixture struct {
	pipeline *rag.Pipeline
	model    *testutil.ChatModel
	client   *testutil.EmbeddingClient
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Store.Dir = filepath.Join(t.TempDir(), "vector_db")
	cfg.Splitter.ChunkSize = 60
	cfg.Splitter.ChunkOverlap = 10

	f := &fixture{
		model:  &testutil.ChatModel{},
		client: &testutil.EmbeddingClient{},
		dir:    t.TempDir(),
	}

	gen, err := llm.NewWithModel(f.model, llm.ChatConfig{})
	require.NoError(t, err)

	f.pipeline, err = rag.New(cfg, rag.Components{
		Embedder:  llm.NewEmbedder(f.client, llm.EmbedderConfig{Provider: "fake", Model: "bow"}),
		Generator: gen,
	})
	require.NoError(t, err)
	t.Cleanup(func() { f.pipeline.Close() })
	return f
}

func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestIngestAndAsk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	path := f.write(t, "capitals.txt", capitals)

	var stages []string
	report, err := f.pipeline.IngestSource(ctx, path, func(stage string) { stages = append(stages, stage) })
	require.NoError(t, err)
	assert.Equal(t, rag.IngestReport{Source: path, Documents: 1, Chunks: 3, Stored: 3}, report)
	assert.Equal(t, []string{rag.StageLoad, rag.StageSplit, rag.StageEmbed, rag.StageDone}, stages)

	turn, err := f.pipeline.Ask(ctx, "What is the capital of France?", 0)
	require.NoError(t, err)
	assert.Equal(t, "What is the capital of France?", turn.Query)
	require.Len(t, turn.Chunks, 3)
	assert.Equal(t, "Paris is the capital of France.", turn.Chunks[0].Content)
	assert.Equal(t, path, turn.Chunks[0].Source())

	// The fake model echoes the first context line, which is the best match.
	assert.Equal(t, "Paris is the capital of France.", turn.Answer)
	assert.True(t, strings.HasSuffix(f.model.LastPrompt(), "Question: What is the capital of France?"))
}

func TestRetrieveTopK(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.pipeline.IngestSource(ctx, f.write(t, "capitals.txt", capitals), nil)
	require.NoError(t, err)

	chunks, err := f.pipeline.Retrieve(ctx, "capital of Germany", 1)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Berlin is the capital of Germany.", chunks[0].Content)
}

func TestReingestSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	path := f.write(t, "capitals.txt", capitals)

	_, err := f.pipeline.IngestSource(ctx, path, nil)
	require.NoError(t, err)

	report, err := f.pipeline.IngestSource(ctx, path, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Stored)
	assert.Equal(t, 3, report.Skipped)
}

func TestIngestAsRecordsSource(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.write(t, "upload-1.txt", capitals)
	report, err := f.pipeline.IngestAs(ctx, first, "capitals.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "capitals.txt", report.Source)
	assert.Equal(t, 3, report.Stored)

	// Same name and content from a different location is already present.
	second := f.write(t, "upload-2.txt", capitals)
	report, err = f.pipeline.IngestAs(ctx, second, "capitals.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Stored)
	assert.Equal(t, 3, report.Skipped)

	chunks, err := f.pipeline.Retrieve(ctx, "capital of Germany", 1)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "capitals.txt", chunks[0].Source())
}

func TestIngestUnsupportedType(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.IngestSource(context.Background(), f.write(t, "report.docx", "x"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, loader.ErrUnsupportedType))
	assert.Contains(t, err.Error(), ".docx")
}

func TestAskEmptyStore(t *testing.T) {
	f := newFixture(t)

	turn, err := f.pipeline.Ask(context.Background(), "Anything there?", 4)
	require.NoError(t, err)
	assert.Empty(t, turn.Chunks)
	assert.Equal(t, llm.NoContextAnswer, turn.Answer)
	assert.Empty(t, f.model.Messages)
}

func TestAskBlankQuery(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Ask(context.Background(), "   ", 4)
	assert.ErrorIs(t, err, rag.ErrEmptyQuery)
}

func TestAskStream(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.model.Reply = "Rome, the capital of Italy."

	_, err := f.pipeline.IngestSource(ctx, f.write(t, "capitals.txt", capitals), nil)
	require.NoError(t, err)

	var streamed strings.Builder
	turn, err := f.pipeline.AskStream(ctx, "Which city is the capital of Italy?", 2, func(s string) {
		streamed.WriteString(s)
	})
	require.NoError(t, err)
	assert.Equal(t, "Rome, the capital of Italy.", turn.Answer)
	assert.Equal(t, turn.Answer, streamed.String())
	require.Len(t, turn.Chunks, 2)
	assert.Equal(t, "Rome is the capital of Italy.", turn.Chunks[0].Content)
}

func TestAskWithoutGenerator(t *testing.T) {
	t.Setenv(config.DefaultAPIKeyEnv, "")

	cfg := config.Default()
	cfg.Store.Dir = t.TempDir()

	p, err := rag.New(cfg, rag.Components{
		Embedder: llm.NewEmbedder(&testutil.EmbeddingClient{}, llm.EmbedderConfig{}),
	})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Ask(context.Background(), "hello?", 1)
	assert.ErrorIs(t, err, rag.ErrNoGenerator)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.pipeline.IngestSource(ctx, f.write(t, "capitals.txt", capitals), nil)
	require.NoError(t, err)
	require.NoError(t, f.pipeline.Reset(ctx))

	chunks, err := f.pipeline.Retrieve(ctx, "capital", 4)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
