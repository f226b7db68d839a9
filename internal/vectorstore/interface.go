package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyChunks indicates empty or nil chunk records.
	ErrEmptyChunks = errors.New("empty or nil chunk records")

	// ErrMissingEmbedding indicates a chunk record without a complete
	// embedding. Partial vectors are never persisted.
	ErrMissingEmbedding = errors.New("chunk record missing embedding")

	// ErrDimensionMismatch indicates an embedding whose length does not
	// match the store's configured vector size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrConnectionFailed indicates the store backend is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to vector store")
)

// ChunkStore is the interface for chunk-level vector storage and
// retrieval.
//
// Upserts are keyed by (documentID, chunkIndex): writing the same key
// twice overwrites text, embedding, and metadata in place, making
// re-ingestion idempotent. All writes in one UpsertChunks call are
// attempted as a unit; on error the caller must not assume any row of
// that call was persisted.
//
// The store trusts its inputs. Limit and threshold validation belongs
// to the orchestrator, before any I/O happens.
type ChunkStore interface {
	// UpsertChunks writes chunk rows for a document.
	UpsertChunks(ctx context.Context, documentID string, chunks []ChunkRecord) error

	// SimilaritySearch ranks chunks by vector similarity. Results with
	// a vector score below params.Threshold are dropped; the rest are
	// returned in descending score order, capped at params.Limit.
	SimilaritySearch(ctx context.Context, params SearchParams) ([]SearchResult, error)

	// HybridSearch ranks chunks by a fixed blend of vector and lexical
	// relevance. Lexical overlap with params.QueryText is a hard
	// prerequisite; params.Threshold filters on the vector component
	// only.
	HybridSearch(ctx context.Context, params SearchParams) ([]SearchResult, error)

	// DeleteDocument removes all chunk rows belonging to a document.
	DeleteDocument(ctx context.Context, documentID string) error

	// Count reports the number of stored chunk rows.
	Count(ctx context.Context) (int, error)

	// Close releases the store's resources.
	Close() error
}
