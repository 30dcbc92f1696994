// Package rag wires loading, splitting, embedding, storage and answering into one pipeline.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xhad/docqa/internal/logger"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/config"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/loader"
	"github.com/xhad/docqa/pkg/scraper"
	"github.com/xhad/docqa/pkg/splitter"
	"github.com/xhad/docqa/pkg/store"
)

// Ingestion stages reported to the progress callback.
const (
	StageLoad  = "loading"
	StageSplit = "splitting"
	StageEmbed = "embedding"
	StageDone  = "done"
)

var (
	ErrEmptyQuery  = errors.New("question is empty")
	ErrNoGenerator = errors.New("no answer generator configured")
)

// IngestReport summarizes one IngestSource call.
type IngestReport struct {
	Source    string
	Documents int
	Chunks    int
	Stored    int
	Skipped   int
}

// Components overrides the parts New would otherwise build from the config.
type Components struct {
	Loader    types.Loader
	Splitter  types.Splitter
	Embedder  types.Embedder
	Generator types.Generator
	Store     types.VectorStore
}

// Pipeline holds everything a front end needs. It is built once at startup and closed at exit.
type Pipeline struct {
	config    *config.Config
	loader    types.Loader
	splitter  types.Splitter
	embedder  types.Embedder
	generator types.Generator

	mu    sync.Mutex
	store types.VectorStore
}

// New builds missing components from cfg. The answer generator is only built when
// the chat API key is set, so ingestion works without one.
func New(cfg *config.Config, c Components) (*Pipeline, error) {
	p := &Pipeline{
		config:    cfg,
		loader:    c.Loader,
		splitter:  c.Splitter,
		embedder:  c.Embedder,
		generator: c.Generator,
		store:     c.Store,
	}

	if p.loader == nil {
		p.loader = loader.NewWithConfig(loader.LoaderConfig{
			Scraper: scraper.ScraperConfig{
				MaxDepth:          cfg.Scraper.MaxDepth,
				RateLimit:         cfg.Scraper.RateLimit,
				IgnorePatterns:    cfg.Scraper.IgnorePatterns,
				AllowedExtensions: cfg.Scraper.AllowedExtensions,
				Timeout:           time.Duration(cfg.Scraper.TimeoutSecs) * time.Second,
				OnProgress: func(url string) {
					logger.Debug("Fetching %s", url)
				},
			},
		})
	}

	if p.splitter == nil {
		s, err := splitter.NewWithConfig(splitter.SplitterConfig{
			ChunkSize:    cfg.Splitter.ChunkSize,
			ChunkOverlap: cfg.Splitter.ChunkOverlap,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create splitter: %w", err)
		}
		p.splitter = s
	}

	if p.embedder == nil {
		emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
			Provider:    cfg.Embedder.Provider,
			Model:       cfg.Embedder.Model,
			BaseURL:     cfg.Embedder.BaseURL,
			APIKey:      cfg.EmbedderAPIKey(),
			Instruction: cfg.Embedder.Instruction,
			BatchSize:   cfg.Embedder.BatchSize,
		})
		if err != nil {
			return nil, err
		}
		p.embedder = emb
	}

	if p.generator == nil && cfg.APIKey() != "" {
		gen, err := llm.NewWithConfig(llm.ChatConfig{
			Model:       cfg.LLM.Model,
			Temperature: cfg.Temperature(),
			MaxTokens:   cfg.LLM.MaxTokens,
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.APIKey(),
		})
		if err != nil {
			return nil, err
		}
		p.generator = gen
	}

	return p, nil
}

// Store opens the configured vector store on first use.
func (p *Pipeline) Store(ctx context.Context) (types.VectorStore, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.store != nil {
		return p.store, nil
	}
	s, err := store.New(ctx, p.config, p.embedder)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	p.store = s
	return s, nil
}

// IngestSource loads, splits, embeds and stores one file or URL. progress may be nil.
func (p *Pipeline) IngestSource(ctx context.Context, source string, progress func(stage string)) (IngestReport, error) {
	return p.IngestAs(ctx, source, source, progress)
}

// IngestAs ingests the file or URL at location but records source as the chunks' origin.
func (p *Pipeline) IngestAs(ctx context.Context, location, source string, progress func(stage string)) (IngestReport, error) {
	report := IngestReport{Source: source}
	if progress == nil {
		progress = func(string) {}
	}

	progress(StageLoad)
	docs, err := p.loader.Load(ctx, location)
	if err != nil {
		return report, err
	}
	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = map[string]interface{}{}
		}
		docs[i].Metadata["source"] = source
	}
	report.Documents = len(docs)

	progress(StageSplit)
	chunks, err := p.splitter.Split(docs)
	if err != nil {
		return report, err
	}
	report.Chunks = len(chunks)

	progress(StageEmbed)
	s, err := p.Store(ctx)
	if err != nil {
		return report, err
	}
	stats, err := s.AddChunks(ctx, chunks)
	if err != nil {
		return report, err
	}
	report.Stored = stats.Stored
	report.Skipped = stats.Skipped

	progress(StageDone)
	logger.Info("Ingested %s: %d documents, %d chunks (%d stored, %d skipped)",
		source, report.Documents, report.Chunks, report.Stored, report.Skipped)
	return report, nil
}

// Reset empties the vector store.
func (p *Pipeline) Reset(ctx context.Context) error {
	s, err := p.Store(ctx)
	if err != nil {
		return err
	}
	return s.Reset(ctx)
}

// Count returns the number of stored chunks.
func (p *Pipeline) Count(ctx context.Context) (int, error) {
	s, err := p.Store(ctx)
	if err != nil {
		return 0, err
	}
	return s.Count(ctx)
}

// Retrieve returns the k chunks closest to query. k <= 0 uses retrieval.top_k.
func (p *Pipeline) Retrieve(ctx context.Context, query string, k int) ([]models.Chunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = p.config.Retrieval.TopK
	}

	s, err := p.Store(ctx)
	if err != nil {
		return nil, err
	}
	return s.SimilaritySearch(ctx, query, k)
}

// Ask retrieves context for query and answers it.
func (p *Pipeline) Ask(ctx context.Context, query string, k int) (models.Turn, error) {
	return p.ask(ctx, query, k, nil)
}

// AskStream is Ask with the answer streamed to onChunk as it is generated.
func (p *Pipeline) AskStream(ctx context.Context, query string, k int, onChunk func(string)) (models.Turn, error) {
	return p.ask(ctx, query, k, onChunk)
}

func (p *Pipeline) ask(ctx context.Context, query string, k int, onChunk func(string)) (models.Turn, error) {
	turn := models.Turn{Query: query}
	if p.generator == nil {
		return turn, ErrNoGenerator
	}

	chunks, err := p.Retrieve(ctx, query, k)
	if err != nil {
		return turn, err
	}
	turn.Chunks = chunks

	answer, err := p.Answer(ctx, query, chunks, onChunk)
	if err != nil {
		return turn, err
	}
	turn.Answer = answer
	return turn, nil
}

// Answer generates a reply to query from already retrieved chunks. A nil onChunk disables streaming.
func (p *Pipeline) Answer(ctx context.Context, query string, chunks []models.Chunk, onChunk func(string)) (string, error) {
	if p.generator == nil {
		return "", ErrNoGenerator
	}
	if onChunk != nil {
		return p.generator.GenerateStream(ctx, chunks, query, onChunk)
	}
	return p.generator.Generate(ctx, chunks, query)
}

func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.store == nil {
		return nil
	}
	err := p.store.Close()
	p.store = nil
	return err
}
