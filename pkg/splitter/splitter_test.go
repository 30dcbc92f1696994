package splitter_test

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/splitter"
)

func TestSplitShortDocument(t *testing.T) {
	s := splitter.New()

	doc := models.Document{
		Content:  "Paris is the capital of France.",
		Metadata: map[string]interface{}{"source": "notes.txt"},
	}

	chunks, err := s.Split([]models.Document{doc})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Paris is the capital of France.", chunks[0].Content)
	assert.Equal(t, "notes.txt", chunks[0].Source())
	assert.Equal(t, 0, chunks[0].Metadata["chunk_index"])

	// The parent document's metadata is not modified.
	_, ok := doc.Metadata["chunk_index"]
	assert.False(t, ok)
}

func TestSplitLongDocument(t *testing.T) {
	s, err := splitter.NewWithConfig(splitter.SplitterConfig{ChunkSize: 500, ChunkOverlap: 100})
	require.NoError(t, err)

	words := make([]string, 400)
	for i := range words {
		words[i] = fmt.Sprintf("word%03d", i)
	}
	doc := models.Document{
		Content:  strings.Join(words, " "),
		Metadata: map[string]interface{}{"source": "long.txt", "page": 3},
	}

	chunks, err := s.Split([]models.Document{doc})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk.Content), 500)
		assert.Equal(t, i, chunk.Metadata["chunk_index"])
		assert.Equal(t, 3, chunk.Metadata["page"])
		assert.Equal(t, "long.txt", chunk.Source())
	}

	// Consecutive chunks overlap.
	first := strings.Fields(chunks[1].Content)[0]
	assert.Contains(t, chunks[0].Content, first)
}

func TestSplitPrefersParagraphs(t *testing.T) {
	s, err := splitter.NewWithConfig(splitter.SplitterConfig{ChunkSize: 60, ChunkOverlap: 10})
	require.NoError(t, err)

	doc := models.Document{
		Content: "Paris is the capital of France.\n\nBerlin is the capital of Germany.",
	}

	chunks, err := s.Split([]models.Document{doc})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Paris is the capital of France.", chunks[0].Content)
	assert.Equal(t, "Berlin is the capital of Germany.", chunks[1].Content)
}

func TestSplitKeepsSentencePeriods(t *testing.T) {
	s, err := splitter.NewWithConfig(splitter.SplitterConfig{ChunkSize: 60, ChunkOverlap: 10})
	require.NoError(t, err)

	doc := models.Document{
		Content: "The first sentence is short. The second sentence is a little longer. " +
			"The third one ends here. The fourth closes the text.",
	}

	chunks, err := s.Split([]models.Document{doc})
	require.NoError(t, err)

	var got []string
	for _, chunk := range chunks {
		got = append(got, chunk.Content)
	}
	assert.Equal(t, []string{
		"The first sentence is short.",
		"The second sentence is a little longer.",
		"The third one ends here. The fourth closes the text.",
	}, got)
}

func TestSplitIndexesPerDocument(t *testing.T) {
	s := splitter.New()

	chunks, err := s.Split([]models.Document{
		{Content: "first page", Metadata: map[string]interface{}{"page": 1}},
		{Content: "second page", Metadata: map[string]interface{}{"page": 2}},
	})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].Metadata["chunk_index"])
	assert.Equal(t, 0, chunks[1].Metadata["chunk_index"])
	assert.Equal(t, 2, chunks[1].Metadata["page"])
}

func TestSplitterConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  splitter.SplitterConfig
		wantErr bool
	}{
		{"defaults", splitter.SplitterConfig{}, false},
		{"custom", splitter.SplitterConfig{ChunkSize: 200, ChunkOverlap: 20}, false},
		{"overlap too large", splitter.SplitterConfig{ChunkSize: 100, ChunkOverlap: 100}, true},
		{"negative size", splitter.SplitterConfig{ChunkSize: -1, ChunkOverlap: 10}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := splitter.NewWithConfig(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
