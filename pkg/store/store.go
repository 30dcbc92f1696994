// Package store persists embedded chunks and answers similarity queries over them.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/config"
)

var (
	_ types.VectorStore = (*LocalStore)(nil)
	_ types.VectorStore = (*VectorStore)(nil)
)

// New opens the backend selected by cfg.Store.Backend.
func New(ctx context.Context, cfg *config.Config, embedder types.Embedder) (types.VectorStore, error) {
	switch cfg.Store.Backend {
	case "", "local":
		s, err := OpenWithConfig(LocalStoreConfig{
			Dir:         cfg.Store.Dir,
			Dedupe:      cfg.DedupeEnabled(),
			LockTimeout: time.Duration(cfg.Store.LockTimeout) * time.Second,
		}, embedder)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "pgvector":
		vs, err := NewWithConfig(ctx, VectorStoreConfig{
			ConnString: cfg.Database.URL,
			TableName:  cfg.Database.TableName,
			VectorDim:  cfg.Database.VectorDim,
			BatchSize:  cfg.Database.BatchSize,
			Dedupe:     cfg.DedupeEnabled(),
		}, embedder)
		if err != nil {
			return nil, err
		}
		return vs, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}
