package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("corpusd.vectorstore.chromem")

// hybridCandidateFactor controls how many vector candidates are fetched
// per requested result before lexical filtering. Lexical overlap is a
// prerequisite in hybrid search, so the vector pass must over-fetch or
// the final list comes up short.
const hybridCandidateFactor = 4

// metadata keys reserved for chunk identity.
const (
	metaDocumentID = "document_id"
	metaChunkIndex = "chunk_index"
)

// ChromemConfig holds configuration for the chromem-go embedded store.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means
	// in-memory only (tests, ephemeral deployments).
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the chunk collection name.
	// Default: "corpusd_chunks"
	Collection string

	// VectorSize is the expected embedding dimension. Must match the
	// embedding provider's output exactly.
	// Default: 1024
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "corpusd_chunks"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 1024
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore implements ChunkStore using chromem-go.
//
// chromem-go is an embeddable vector database with zero third-party
// dependencies: pure Go, no external service, optional persistence to
// gob files. Chunk rows are stored as chromem documents whose ID is
// "documentID:chunkIndex", which is what makes UpsertChunks idempotent.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	logger     *zap.Logger
	metrics    *Metrics
}

// NewChromemStore creates a ChromemStore with the given configuration.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		expandedPath, err := expandChromemPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(expandedPath, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
		}
		db, err = chromem.NewPersistentDB(expandedPath, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	// Embeddings always arrive precomputed; chromem must never embed
	// on its own.
	rejectEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("chromem embedding func called: embeddings must be precomputed")
	}

	collection, err := db.GetOrCreateCollection(config.Collection, nil, rejectEmbed)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", config.Collection, err)
	}

	logger.Info("ChromemStore initialized",
		zap.String("path", config.Path),
		zap.String("collection", config.Collection),
		zap.Int("vector_size", config.VectorSize),
	)

	return &ChromemStore{
		db:         db,
		collection: collection,
		config:     config,
		logger:     logger,
		metrics:    NewMetrics(logger),
	}, nil
}

// expandChromemPath expands ~ to home directory.
func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// UpsertChunks writes chunk rows for a document.
func (s *ChromemStore) UpsertChunks(ctx context.Context, documentID string, chunks []ChunkRecord) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.UpsertChunks")
	defer span.End()
	span.SetAttributes(
		attribute.String("document_id", documentID),
		attribute.Int("chunk_count", len(chunks)),
	)

	if documentID == "" {
		return fmt.Errorf("%w: document ID required", ErrInvalidConfig)
	}
	if err := validateChunks(chunks, s.config.VectorSize); err != nil {
		span.RecordError(err)
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		metadata := map[string]string{
			metaDocumentID: documentID,
			metaChunkIndex: strconv.Itoa(chunk.Index),
		}
		for k, v := range chunk.Metadata {
			if k == metaDocumentID || k == metaChunkIndex {
				continue
			}
			metadata[k] = v
		}

		docs[i] = chromem.Document{
			ID:        chunkPointID(documentID, chunk.Index),
			Content:   chunk.Text,
			Embedding: chunk.Embedding,
			Metadata:  metadata,
		}
	}

	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordUpsert(ctx, "chromem", len(chunks), err)
		return fmt.Errorf("upserting %d chunks for document %s: %w", len(chunks), documentID, err)
	}

	s.metrics.RecordUpsert(ctx, "chromem", len(chunks), nil)
	return nil
}

// SimilaritySearch ranks chunks by vector similarity.
func (s *ChromemStore) SimilaritySearch(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.SimilaritySearch")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", params.Limit))

	candidates, err := s.queryCandidates(ctx, params, params.Limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordSearch(ctx, "chromem", "similarity", 0, err)
		return nil, err
	}

	if len(candidates) > params.Limit && params.Limit > 0 {
		candidates = candidates[:params.Limit]
	}
	s.metrics.RecordSearch(ctx, "chromem", "similarity", len(candidates), nil)
	return candidates, nil
}

// HybridSearch ranks chunks by blended vector and lexical relevance.
func (s *ChromemStore) HybridSearch(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.HybridSearch")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", params.Limit))

	candidates, err := s.queryCandidates(ctx, params, params.Limit*hybridCandidateFactor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordSearch(ctx, "chromem", "hybrid", 0, err)
		return nil, err
	}

	results := blendHybrid(candidates, params.QueryText, params.Limit)
	s.metrics.RecordSearch(ctx, "chromem", "hybrid", len(results), nil)
	return results, nil
}

// queryCandidates runs the vector query and applies the threshold on
// the vector component.
func (s *ChromemStore) queryCandidates(ctx context.Context, params SearchParams, limit int) ([]SearchResult, error) {
	if len(params.Embedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding required", ErrMissingEmbedding)
	}
	if len(params.Embedding) != s.config.VectorSize {
		return nil, fmt.Errorf("%w: query has %d dimensions, store expects %d",
			ErrDimensionMismatch, len(params.Embedding), s.config.VectorSize)
	}

	// chromem rejects nResults greater than the collection size.
	count := s.collection.Count()
	if count == 0 {
		return []SearchResult{}, nil
	}
	if limit <= 0 || limit > count {
		limit = count
	}

	var where map[string]string
	if params.DocumentID != "" {
		where = map[string]string{metaDocumentID: params.DocumentID}
	}

	hits, err := s.collection.QueryEmbedding(ctx, params.Embedding, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		if hit.Similarity < params.Threshold {
			continue
		}
		results = append(results, resultFromChromem(hit))
	}
	return results, nil
}

// resultFromChromem converts a chromem hit into a SearchResult.
func resultFromChromem(hit chromem.Result) SearchResult {
	result := SearchResult{
		Text:        hit.Content,
		Score:       hit.Similarity,
		VectorScore: hit.Similarity,
		Metadata:    make(map[string]string, len(hit.Metadata)),
	}
	for k, v := range hit.Metadata {
		switch k {
		case metaDocumentID:
			result.DocumentID = v
		case metaChunkIndex:
			if idx, err := strconv.Atoi(v); err == nil {
				result.ChunkIndex = idx
			}
		default:
			result.Metadata[k] = v
		}
	}
	return result
}

// DeleteDocument removes all chunk rows belonging to a document.
func (s *ChromemStore) DeleteDocument(ctx context.Context, documentID string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteDocument")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", documentID))

	if documentID == "" {
		return fmt.Errorf("%w: document ID required", ErrInvalidConfig)
	}

	where := map[string]string{metaDocumentID: documentID}
	if err := s.collection.Delete(ctx, where, nil); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting chunks for document %s: %w", documentID, err)
	}
	return nil
}

// Count reports the number of stored chunk rows.
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	return s.collection.Count(), nil
}

// Close releases the store's resources. chromem persists on every
// mutation, so there is nothing to flush.
func (s *ChromemStore) Close() error {
	return nil
}

// chunkPointID derives the storage key for a chunk row.
func chunkPointID(documentID string, index int) string {
	return documentID + ":" + strconv.Itoa(index)
}

// validateChunks rejects empty batches and incomplete embeddings before
// any row is written.
func validateChunks(chunks []ChunkRecord, vectorSize int) error {
	if len(chunks) == 0 {
		return ErrEmptyChunks
	}
	for _, chunk := range chunks {
		if chunk.Index < 0 {
			return fmt.Errorf("%w: negative chunk index %d", ErrInvalidConfig, chunk.Index)
		}
		if len(chunk.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %d", ErrMissingEmbedding, chunk.Index)
		}
		if len(chunk.Embedding) != vectorSize {
			return fmt.Errorf("%w: chunk %d has %d dimensions, store expects %d",
				ErrDimensionMismatch, chunk.Index, len(chunk.Embedding), vectorSize)
		}
	}
	return nil
}
