package store

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/xhad/docqa/internal/logger"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"go.etcd.io/bbolt"
)

const FileName = "vectors.db"

var (
	bucketRecords = []byte("records")
	bucketMeta    = []byte("meta")
	bucketDigests = []byte("digests")

	keyFingerprint = []byte("fingerprint")
	keyDim         = []byte("dim")
)

var (
	ErrFingerprintMismatch = errors.New("store was built with a different embedding configuration")
	ErrDimensionMismatch   = errors.New("vector dimension does not match the store")
)

type LocalStoreConfig struct {
	Dir         string
	Dedupe      bool
	LockTimeout time.Duration
}

// LocalStore keeps (text, metadata, vector) records in a single bbolt file
// and answers queries by exact cosine similarity over every record.
type LocalStore struct {
	config   LocalStoreConfig
	db       *bbolt.DB
	embedder types.Embedder
}

type record struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
	Vector   []float32              `json:"vector"`
}

// Ingest embeds chunks and writes them to the store in dir, creating it if needed.
// The records are committed to disk before Ingest returns.
func Ingest(ctx context.Context, chunks []models.Chunk, embedder types.Embedder, dir string) (*LocalStore, error) {
	s, err := Open(dir, embedder)
	if err != nil {
		return nil, err
	}
	if _, err := s.AddChunks(ctx, chunks); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Open attaches to the store in dir without re-embedding anything. A missing store is created empty.
func Open(dir string, embedder types.Embedder) (*LocalStore, error) {
	return OpenWithConfig(LocalStoreConfig{Dir: dir, Dedupe: true}, embedder)
}

func OpenWithConfig(config LocalStoreConfig, embedder types.Embedder) (*LocalStore, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("persistence directory is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if config.LockTimeout == 0 {
		config.LockTimeout = 5 * time.Second
	}

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	path := filepath.Join(config.Dir, FileName)
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: config.LockTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}

	var stored string
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketRecords, bucketMeta, bucketDigests} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		stored = string(tx.Bucket(bucketMeta).Get(keyFingerprint))
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	if stored != "" && stored != embedder.Fingerprint() {
		db.Close()
		return nil, fmt.Errorf("%w: store has %q, embedder is %q", ErrFingerprintMismatch, stored, embedder.Fingerprint())
	}

	logger.Debug("Opened vector store %s", path)
	return &LocalStore{config: config, db: db, embedder: embedder}, nil
}

// AddChunks embeds and appends chunks in one transaction. With dedupe on, chunks
// already in the store are skipped and not embedded again.
func (s *LocalStore) AddChunks(ctx context.Context, chunks []models.Chunk) (types.IngestStats, error) {
	var stats types.IngestStats
	if len(chunks) == 0 {
		return stats, nil
	}

	digests := make([]string, len(chunks))
	for i, chunk := range chunks {
		digests[i] = Digest(chunk)
	}

	pending := chunks
	pendingDigests := digests
	if s.config.Dedupe {
		pending = nil
		pendingDigests = nil
		seen := make(map[string]bool, len(chunks))
		err := s.db.View(func(tx *bbolt.Tx) error {
			b := tx.Bucket(bucketDigests)
			for i, chunk := range chunks {
				if seen[digests[i]] || b.Get([]byte(digests[i])) != nil {
					stats.Skipped++
					continue
				}
				seen[digests[i]] = true
				pending = append(pending, chunk)
				pendingDigests = append(pendingDigests, digests[i])
			}
			return nil
		})
		if err != nil {
			return stats, fmt.Errorf("failed to read digests: %w", err)
		}
	}

	if len(pending) == 0 {
		logger.Debug("All %d chunks already stored", len(chunks))
		return stats, nil
	}

	texts := make([]string, len(pending))
	for i, chunk := range pending {
		texts[i] = chunk.Content
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return stats, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(vectors) != len(pending) {
		return stats, fmt.Errorf("got %d embeddings for %d chunks", len(vectors), len(pending))
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		records := tx.Bucket(bucketRecords)
		digestBucket := tx.Bucket(bucketDigests)

		dim := storedDim(meta)
		if dim == 0 {
			dim = len(vectors[0])
		}

		for i, chunk := range pending {
			if len(vectors[i]) != dim {
				return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vectors[i]), dim)
			}

			seq, err := records.NextSequence()
			if err != nil {
				return err
			}
			data, err := json.Marshal(record{
				Content:  chunk.Content,
				Metadata: chunk.Metadata,
				Vector:   vectors[i],
			})
			if err != nil {
				return fmt.Errorf("failed to encode record: %w", err)
			}
			key := sequenceKey(seq)
			if err := records.Put(key, data); err != nil {
				return err
			}
			if err := digestBucket.Put([]byte(pendingDigests[i]), key); err != nil {
				return err
			}
		}

		if err := meta.Put(keyDim, []byte(strconv.Itoa(dim))); err != nil {
			return err
		}
		return meta.Put(keyFingerprint, []byte(s.embedder.Fingerprint()))
	})
	if err != nil {
		return stats, fmt.Errorf("failed to store chunks: %w", err)
	}

	stats.Stored = len(pending)
	logger.Debug("Stored %d chunks, skipped %d", stats.Stored, stats.Skipped)
	return stats, nil
}

// SimilaritySearch returns the k stored chunks most similar to query, best first.
// Score holds the cosine similarity. An empty store yields an empty result.
func (s *LocalStore) SimilaritySearch(ctx context.Context, query string, k int) ([]models.Chunk, error) {
	results := []models.Chunk{}
	if k <= 0 {
		return results, nil
	}

	count, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return results, nil
	}

	queryVec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	err = s.db.View(func(tx *bbolt.Tx) error {
		if dim := storedDim(tx.Bucket(bucketMeta)); dim != 0 && dim != len(queryVec) {
			return fmt.Errorf("%w: query has %d, store has %d", ErrDimensionMismatch, len(queryVec), dim)
		}

		return tx.Bucket(bucketRecords).ForEach(func(_, v []byte) error {
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("failed to decode record: %w", err)
			}
			results = append(results, models.Chunk{
				Content:  r.Content,
				Metadata: r.Metadata,
				Score:    cosineSimilarity(queryVec, r.Vector),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// Stable sort keeps insertion order among equal scores.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *LocalStore) Count(_ context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketRecords).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// Reset drops every record along with the recorded fingerprint and dimension.
func (s *LocalStore) Reset(_ context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketRecords, bucketMeta, bucketDigests} {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *LocalStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Digest identifies a chunk by source, position and text.
func Digest(chunk models.Chunk) string {
	h := sha256.New()
	h.Write([]byte(chunk.Source()))
	h.Write([]byte{0})
	h.Write([]byte(fmt.Sprint(chunk.Metadata["chunk_index"])))
	h.Write([]byte{0})
	h.Write([]byte(chunk.Content))
	return hex.EncodeToString(h.Sum(nil))
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func storedDim(meta *bbolt.Bucket) int {
	raw := meta.Get(keyDim)
	if raw == nil {
		return 0
	}
	dim, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0
	}
	return dim
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
