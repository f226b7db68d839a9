package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/cache"
	"github.com/fyrsmithlabs/corpusd/internal/docstore"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

const (
	// DefaultLimit is the result count used when a request leaves
	// Limit unset.
	DefaultLimit = 10

	// MaxLimit caps the result count a single request may ask for.
	MaxLimit = 100

	// noAnswerMessage is returned when retrieval produces nothing to
	// ground an answer on. The model is not called in that case.
	noAnswerMessage = "No relevant information was found for this question."
)

// Extractor converts raw document bytes into plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Chunker splits text into overlapping spans.
type Chunker interface {
	Chunk(text string) []string
}

// Embedder produces vectors for document chunks, one batch at a time.
type Embedder interface {
	EmbedBatch(ctx context.Context, chunks []string, batch int) ([]embeddings.IndexedEmbedding, error)
	BatchSize() int
}

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// DocumentStore persists document records alongside their vectors.
type DocumentStore interface {
	Save(ctx context.Context, doc *docstore.Document) error
	Get(ctx context.Context, id string) (*docstore.Document, error)
	Delete(ctx context.Context, id string) error
}

// Generator produces a grounded answer from retrieved passages.
type Generator interface {
	Answer(ctx context.Context, question string, passages []string) (string, error)
}

// Deps holds the pipeline's collaborators. Extractor, Chunker,
// Embedder, QueryEmbedder, and Store are required; Documents, Cache,
// and Generator are optional.
type Deps struct {
	Extractor     Extractor
	Chunker       Chunker
	Embedder      Embedder
	QueryEmbedder QueryEmbedder
	Store         vectorstore.ChunkStore
	Documents     DocumentStore
	Cache         cache.ResultCache
	Generator     Generator
}

// Pipeline is the retrieval orchestrator.
type Pipeline struct {
	deps   Deps
	logger *zap.Logger
}

// NewPipeline validates deps and constructs the orchestrator. A nil
// Cache falls back to a no-op cache; a nil Generator disables Answer.
func NewPipeline(deps Deps, logger *zap.Logger) (*Pipeline, error) {
	switch {
	case deps.Extractor == nil:
		return nil, errors.New("orchestrator: extractor is required")
	case deps.Chunker == nil:
		return nil, errors.New("orchestrator: chunker is required")
	case deps.Embedder == nil:
		return nil, errors.New("orchestrator: embedder is required")
	case deps.QueryEmbedder == nil:
		return nil, errors.New("orchestrator: query embedder is required")
	case deps.Store == nil:
		return nil, errors.New("orchestrator: chunk store is required")
	}
	if deps.Cache == nil {
		deps.Cache = cache.NoopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, logger: logger}, nil
}

// IngestRequest describes one document to ingest. DocumentID is
// optional; when empty the document store assigns one.
type IngestRequest struct {
	DocumentID string
	Title      string
	MimeType   string
	Data       []byte
	Metadata   map[string]string
}

// IngestResult reports what ingestion produced.
type IngestResult struct {
	DocumentID string `json:"document_id"`
	ChunkCount int    `json:"chunk_count"`
}

// Ingest runs the full write path: extract, chunk, then embed and
// upsert batch by batch in increasing order. A batch is committed to
// the store before the next one embeds; a later failure leaves
// committed batches in place. Re-ingesting the same document ID
// overwrites its chunks. Cached query results are invalidated
// best-effort afterward.
func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	const op = "ingest"

	if len(req.Data) == 0 {
		return nil, invalidInput(op, "document data is empty")
	}

	text, err := p.deps.Extractor.Extract(ctx, req.Data, req.MimeType)
	if err != nil {
		return nil, invalidInput(op, "extraction failed: %w", err)
	}

	doc := &docstore.Document{
		ID:       req.DocumentID,
		Title:    req.Title,
		MimeType: req.MimeType,
		Text:     text,
		Metadata: req.Metadata,
	}
	if p.deps.Documents != nil {
		if err := p.deps.Documents.Save(ctx, doc); err != nil {
			return nil, wrap(KindStoreFailure, op, err)
		}
	} else if doc.ID == "" {
		return nil, invalidInput(op, "document id is required")
	}

	chunks := p.deps.Chunker.Chunk(text)
	if len(chunks) == 0 {
		return nil, invalidInput(op, "document produced no chunks")
	}

	count := 0
	batchSize := p.deps.Embedder.BatchSize()
	for batch := 0; batch*batchSize < len(chunks); batch++ {
		embedded, err := p.embedBatchWithRetry(ctx, chunks, batch)
		if err != nil {
			return nil, wrap(KindEmbeddingFailure, op, err)
		}

		records := make([]vectorstore.ChunkRecord, 0, len(embedded))
		for _, e := range embedded {
			records = append(records, vectorstore.ChunkRecord{
				Index:     e.ChunkIndex,
				Text:      chunks[e.ChunkIndex],
				Embedding: e.Vector,
				Metadata:  req.Metadata,
			})
		}
		if err := p.deps.Store.UpsertChunks(ctx, doc.ID, records); err != nil {
			return nil, wrap(KindStoreFailure, op,
				fmt.Errorf("batch %d: %w", batch, err))
		}
		count += len(records)
	}

	p.invalidateCache(ctx, op)

	p.logger.Info("document ingested",
		zap.String("document_id", doc.ID),
		zap.Int("chunk_count", count))

	return &IngestResult{DocumentID: doc.ID, ChunkCount: count}, nil
}

// embedBatchWithRetry embeds one batch, retrying once on failure.
func (p *Pipeline) embedBatchWithRetry(ctx context.Context, chunks []string, batch int) ([]embeddings.IndexedEmbedding, error) {
	embedded, err := p.deps.Embedder.EmbedBatch(ctx, chunks, batch)
	if err == nil {
		return embedded, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	p.logger.Warn("embedding batch failed, retrying once",
		zap.Int("batch", batch),
		zap.Error(err))

	embedded, rerr := p.deps.Embedder.EmbedBatch(ctx, chunks, batch)
	if rerr != nil {
		return nil, fmt.Errorf("batch %d failed after retry: %w", batch, rerr)
	}
	return embedded, nil
}

// SearchRequest describes one retrieval query.
type SearchRequest struct {
	Query      string  `json:"query"`
	Limit      int     `json:"limit"`
	Threshold  float32 `json:"threshold"`
	DocumentID string  `json:"document_id"`
}

// Search ranks chunks by vector similarity. Results are served from
// the cache when a fingerprint-identical query was answered recently.
// An empty result list is a valid outcome, not an error.
func (p *Pipeline) Search(ctx context.Context, req SearchRequest) ([]vectorstore.SearchResult, error) {
	return p.search(ctx, "search", req, cache.ModeSimilarity)
}

// HybridSearch ranks chunks by the fixed blend of vector similarity
// and lexical overlap. Chunks sharing no query terms are excluded.
func (p *Pipeline) HybridSearch(ctx context.Context, req SearchRequest) ([]vectorstore.SearchResult, error) {
	return p.search(ctx, "hybrid_search", req, cache.ModeHybrid)
}

func (p *Pipeline) search(ctx context.Context, op string, req SearchRequest, mode string) ([]vectorstore.SearchResult, error) {
	req.Query = strings.TrimSpace(req.Query)
	if err := validateSearch(op, req); err != nil {
		return nil, err
	}
	if req.Limit == 0 {
		req.Limit = DefaultLimit
	}

	fingerprint := cache.Fingerprint(cache.QueryKey{
		Query:          req.Query,
		Limit:          req.Limit,
		Threshold:      req.Threshold,
		DocumentFilter: req.DocumentID,
		SearchMode:     mode,
	})
	if results, ok := p.deps.Cache.Get(ctx, fingerprint); ok {
		p.logger.Debug("cache hit", zap.String("op", op))
		return results, nil
	}

	embedding, err := p.deps.QueryEmbedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, wrap(KindEmbeddingFailure, op, err)
	}

	params := vectorstore.SearchParams{
		Embedding:  embedding,
		QueryText:  req.Query,
		Limit:      req.Limit,
		Threshold:  req.Threshold,
		DocumentID: req.DocumentID,
	}

	var results []vectorstore.SearchResult
	if mode == cache.ModeHybrid {
		results, err = p.deps.Store.HybridSearch(ctx, params)
	} else {
		results, err = p.deps.Store.SimilaritySearch(ctx, params)
	}
	if err != nil {
		return nil, wrap(KindStoreFailure, op, err)
	}

	if !p.deps.Cache.Put(ctx, fingerprint, results, 0) {
		p.logger.Debug("cache put skipped", zap.String("op", op))
	}
	return results, nil
}

func validateSearch(op string, req SearchRequest) error {
	if req.Query == "" {
		return invalidInput(op, "query is empty")
	}
	if req.Limit < 0 || req.Limit > MaxLimit {
		return invalidInput(op, "limit %d out of range [1, %d]", req.Limit, MaxLimit)
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		return invalidInput(op, "threshold %v out of range [0, 1]", req.Threshold)
	}
	return nil
}

// AnswerResult is a generated answer with the passages it was
// grounded on. Grounded is false when retrieval found nothing and the
// model was not consulted.
type AnswerResult struct {
	Answer   string                     `json:"answer"`
	Sources  []vectorstore.SearchResult `json:"sources,omitempty"`
	Grounded bool                       `json:"grounded"`
}

// Answer retrieves context with hybrid search and asks the model for
// a grounded answer. When nothing relevant is retrieved the model is
// skipped and a fixed no-answer message is returned.
func (p *Pipeline) Answer(ctx context.Context, req SearchRequest) (*AnswerResult, error) {
	const op = "answer"

	if p.deps.Generator == nil {
		return nil, wrap(KindGenerationFailure, op, errors.New("no generator configured"))
	}

	results, err := p.HybridSearch(ctx, req)
	if err != nil {
		var pe *Error
		if errors.As(err, &pe) {
			return nil, wrap(pe.Kind, op, pe.Err)
		}
		return nil, err
	}

	if len(results) == 0 {
		return &AnswerResult{Answer: noAnswerMessage, Grounded: false}, nil
	}

	passages := make([]string, 0, len(results))
	for _, r := range results {
		passages = append(passages, r.Text)
	}

	answer, err := p.deps.Generator.Answer(ctx, req.Query, passages)
	if err != nil {
		return nil, wrap(KindGenerationFailure, op, err)
	}

	return &AnswerResult{Answer: answer, Sources: results, Grounded: true}, nil
}

// DeleteDocument removes a document and all derived state: its record,
// its chunk vectors, and any cached query results.
func (p *Pipeline) DeleteDocument(ctx context.Context, documentID string) error {
	const op = "delete_document"

	if strings.TrimSpace(documentID) == "" {
		return invalidInput(op, "document id is empty")
	}

	if p.deps.Documents != nil {
		if err := p.deps.Documents.Delete(ctx, documentID); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return invalidInput(op, "%w", err)
			}
			return wrap(KindStoreFailure, op, err)
		}
	}

	if err := p.deps.Store.DeleteDocument(ctx, documentID); err != nil {
		return wrap(KindStoreFailure, op, err)
	}

	p.invalidateCache(ctx, op)
	return nil
}

// GetDocument returns a stored document record.
func (p *Pipeline) GetDocument(ctx context.Context, documentID string) (*docstore.Document, error) {
	const op = "get_document"

	if p.deps.Documents == nil {
		return nil, invalidInput(op, "no document store configured")
	}
	doc, err := p.deps.Documents.Get(ctx, documentID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, invalidInput(op, "%w", err)
		}
		return nil, wrap(KindStoreFailure, op, err)
	}
	return doc, nil
}

// invalidateCache clears cached query results after a write. Failures
// are logged, never propagated: stale entries expire by TTL anyway.
func (p *Pipeline) invalidateCache(ctx context.Context, op string) {
	if err := p.deps.Cache.Invalidate(ctx); err != nil {
		cacheErr := wrap(KindCacheFailure, op, err)
		p.logger.Warn("cache invalidation failed", zap.Error(cacheErr))
	}
}
