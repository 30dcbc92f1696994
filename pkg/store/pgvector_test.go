package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/docqa/internal/testutil"
	"github.com/xhad/docqa/pkg/store"
)

func getTestConfig(t *testing.T) store.VectorStoreConfig {
	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	return store.VectorStoreConfig{
		ConnString: connString,
		TableName:  "test_chunks",
		VectorDim:  testutil.EmbeddingDim,
		Dedupe:     true,
	}
}

func TestVectorStore(t *testing.T) {
	ctx := context.Background()
	config := getTestConfig(t)

	s, err := store.NewWithConfig(ctx, config, newEmbedder(&testutil.EmbeddingClient{}))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Reset(ctx))

	stats, err := s.AddChunks(ctx, capitals())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Stored)

	stats, err = s.AddChunks(ctx, capitals())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Skipped)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	results, err := s.SimilaritySearch(ctx, "What is the capital of France?", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Paris is the capital of France.", results[0].Content)
	assert.Equal(t, "capitals.txt", results[0].Source())
}

func TestVectorStoreInvalidTableName(t *testing.T) {
	_, err := store.NewWithConfig(context.Background(), store.VectorStoreConfig{
		ConnString: "postgres://localhost/none",
		TableName:  "chunks; DROP TABLE users",
	}, newEmbedder(&testutil.EmbeddingClient{}))
	assert.ErrorContains(t, err, "invalid table name")
}
