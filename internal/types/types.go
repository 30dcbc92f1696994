package types

import (
	"context"

	"github.com/xhad/docqa/internal/models"
)

// Core interfaces
type Loader interface {
	Load(ctx context.Context, source string) ([]models.Document, error)
}

type Splitter interface {
	Split(docs []models.Document) ([]models.Chunk, error)
}

// Embedder matches langchaingo's embeddings.Embedder, plus a fingerprint
// identifying the model and instruction that produced the vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Fingerprint() string
}

type VectorStore interface {
	AddChunks(ctx context.Context, chunks []models.Chunk) (IngestStats, error)
	SimilaritySearch(ctx context.Context, query string, k int) ([]models.Chunk, error)
	Count(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
	Close() error
}

type Generator interface {
	Generate(ctx context.Context, chunks []models.Chunk, query string) (string, error)
	GenerateStream(ctx context.Context, chunks []models.Chunk, query string, onChunk func(string)) (string, error)
}

// IngestStats reports how many chunks a store wrote and how many it skipped as duplicates.
type IngestStats struct {
	Stored  int
	Skipped int
}
