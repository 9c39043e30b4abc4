// Package vectorstore provides the vector collection behind retrieval,
// with an embedded file-backed backend and a networked Elasticsearch
// backend behind one interface.
package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"waris-go/internal/config"
	"waris-go/internal/model"
)

var (
	// ErrUnavailable marks failures to reach the vector store backend.
	ErrUnavailable = errors.New("vector store unavailable")
	// ErrDimensionMismatch is returned when a vector does not match the
	// collection dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Store is the vector collection interface shared by both backends.
//
// Similarity scores are backend specific: the embedded store reports raw
// cosine in [-1, 1], Elasticsearch reports (1+cosine)/2 in [0, 1]. Each
// backend filters with its own configured minimum score, so thresholds
// are never compared across backends.
type Store interface {
	// EnsureCollection creates the collection if it does not exist.
	EnsureCollection(ctx context.Context) error
	// Insert upserts embedded chunks by chunk ID.
	Insert(ctx context.Context, chunks []model.EmbeddedChunk) error
	// Search returns up to topK chunks most similar to the query vector,
	// above the backend's minimum score, best first. A non-empty category
	// restricts results to that category.
	Search(ctx context.Context, vector []float32, topK int, category string) ([]model.SearchResult, error)
	// DeleteBySource removes every chunk of one source document and
	// reports how many were removed.
	DeleteBySource(ctx context.Context, source string) (int64, error)
	// Stats reports the collection size and dimension.
	Stats(ctx context.Context) (model.CollectionStats, error)
	// Drop removes the whole collection.
	Drop(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// New creates the store selected by cfg.Mode.
func New(cfg config.VectorConfig) (Store, error) {
	switch cfg.Mode {
	case "embedded", "":
		return NewEmbeddedStore(cfg.Embedded.Path, cfg.Collection, cfg.Dimension, cfg.Embedded.MinScore)
	case "elastic":
		return NewElasticStore(cfg.Elastic, cfg.Collection, cfg.Dimension)
	default:
		return nil, fmt.Errorf("unknown vector store mode: %q", cfg.Mode)
	}
}
