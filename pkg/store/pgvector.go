package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/docqa/internal/logger"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
	Dedupe     bool
}

// VectorStore is the Postgres backend: chunks live in one table with a pgvector column.
type VectorStore struct {
	config   VectorStoreConfig
	pool     *pgxpool.Pool
	embedder types.Embedder
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig, embedder types.Embedder) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "chunks"
	}
	if !tableNamePattern.MatchString(config.TableName) {
		return nil, fmt.Errorf("invalid table name: %q", config.TableName)
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config:   config,
		pool:     pool,
		embedder: embedder,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) metaTable() string {
	return vs.config.TableName + "_meta"
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			source TEXT NOT NULL,
			chunk_index INTEGER,
			content TEXT NOT NULL,
			digest TEXT UNIQUE,
			embedding vector(%d),
			metadata JSONB
		)`, vs.config.TableName, vs.config.VectorDim)

	if _, err = vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createMeta := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`, vs.metaTable())

	if _, err = vs.pool.Exec(ctx, createMeta); err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING hnsw (embedding vector_cosine_ops)`,
		vs.config.TableName, vs.config.TableName)

	if _, err = vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	var stored string
	err = vs.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT value FROM %s WHERE key = 'fingerprint'", vs.metaTable())).Scan(&stored)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to read fingerprint: %w", err)
	}
	if stored != "" && stored != vs.embedder.Fingerprint() {
		return fmt.Errorf("%w: store has %q, embedder is %q", ErrFingerprintMismatch, stored, vs.embedder.Fingerprint())
	}

	return nil
}

func (vs *VectorStore) AddChunks(ctx context.Context, chunks []models.Chunk) (types.IngestStats, error) {
	var stats types.IngestStats
	if len(chunks) == 0 {
		return stats, nil
	}

	digests := make([]string, len(chunks))
	for i, chunk := range chunks {
		digests[i] = Digest(chunk)
	}

	pending := make([]int, 0, len(chunks))
	if vs.config.Dedupe {
		existing, err := vs.existingDigests(ctx, digests)
		if err != nil {
			return stats, err
		}
		for i, d := range digests {
			if existing[d] {
				stats.Skipped++
				continue
			}
			existing[d] = true
			pending = append(pending, i)
		}
	} else {
		for i := range chunks {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return stats, nil
	}

	texts := make([]string, len(pending))
	for j, i := range pending {
		texts[j] = sanitizeUTF8(chunks[i].Content)
	}
	vectors, err := vs.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return stats, fmt.Errorf("failed to create embeddings: %w", err)
	}
	for _, v := range vectors {
		if len(v) != vs.config.VectorDim {
			return stats, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), vs.config.VectorDim)
		}
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (source, chunk_index, content, digest, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		vs.config.TableName)

	// Insert chunks in batches
	for start := 0; start < len(pending); start += vs.config.BatchSize {
		end := start + vs.config.BatchSize
		if end > len(pending) {
			end = len(pending)
		}

		batch := &pgx.Batch{}
		for j := start; j < end; j++ {
			chunk := chunks[pending[j]]
			var digest interface{}
			if vs.config.Dedupe {
				digest = digests[pending[j]]
			}
			batch.Queue(stmt,
				chunk.Source(),
				chunkIndex(chunk),
				texts[j],
				digest,
				pgvector.NewVector(vectors[j]),
				chunk.Metadata,
			)
		}

		br := tx.SendBatch(ctx, batch)
		for j := start; j < end; j++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return stats, fmt.Errorf("failed to insert chunk: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return stats, fmt.Errorf("failed to insert chunks: %w", err)
		}
	}

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, value) VALUES ('fingerprint', $1)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, vs.metaTable()),
		vs.embedder.Fingerprint())
	if err != nil {
		return stats, fmt.Errorf("failed to record fingerprint: %w", err)
	}

	// Commit transaction
	if err := tx.Commit(ctx); err != nil {
		return stats, fmt.Errorf("failed to commit transaction: %w", err)
	}

	stats.Stored = len(pending)
	logger.Debug("Stored %d chunks in %s, skipped %d", stats.Stored, vs.config.TableName, stats.Skipped)
	return stats, nil
}

func (vs *VectorStore) existingDigests(ctx context.Context, digests []string) (map[string]bool, error) {
	rows, err := vs.pool.Query(ctx,
		fmt.Sprintf("SELECT digest FROM %s WHERE digest = ANY($1)", vs.config.TableName), digests)
	if err != nil {
		return nil, fmt.Errorf("failed to query digests: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan digest: %w", err)
		}
		existing[d] = true
	}
	return existing, rows.Err()
}

// SimilaritySearch ranks by the cosine operator; Score is 1 minus the cosine distance.
func (vs *VectorStore) SimilaritySearch(ctx context.Context, query string, k int) ([]models.Chunk, error) {
	results := []models.Chunk{}
	if k <= 0 {
		return results, nil
	}

	queryVec, err := vs.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(queryVec) != vs.config.VectorDim {
		return nil, fmt.Errorf("%w: query has %d, store has %d", ErrDimensionMismatch, len(queryVec), vs.config.VectorDim)
	}

	sql := fmt.Sprintf(`
		SELECT content, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1, id
		LIMIT $2`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, sql, pgvector.NewVector(queryVec), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var chunk models.Chunk
		var score float64
		if err := rows.Scan(&chunk.Content, &chunk.Metadata, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		chunk.Score = float32(score)
		results = append(results, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return results, nil
}

func (vs *VectorStore) Count(ctx context.Context) (int, error) {
	var n int
	err := vs.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", vs.config.TableName)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func (vs *VectorStore) Reset(ctx context.Context) error {
	if _, err := vs.pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s", vs.config.TableName)); err != nil {
		return fmt.Errorf("failed to truncate table: %w", err)
	}
	if _, err := vs.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s", vs.metaTable())); err != nil {
		return fmt.Errorf("failed to clear meta table: %w", err)
	}
	return nil
}

func (vs *VectorStore) Close() error {
	if vs.pool != nil {
		vs.pool.Close()
	}
	return nil
}

func chunkIndex(chunk models.Chunk) interface{} {
	switch v := chunk.Metadata["chunk_index"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return nil
	}
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
