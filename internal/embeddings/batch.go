package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultBatchSize is the number of chunks embedded per provider call.
const DefaultBatchSize = 10

// ErrBatchFailed indicates a batch could not be embedded. Earlier
// batches are unaffected; the caller decides whether to retry or abort.
var ErrBatchFailed = errors.New("embedding batch failed")

// BatchError reports which batch failed and which global chunk indices
// it covered.
type BatchError struct {
	// Batch is the zero-based batch number.
	Batch int

	// Start and End are the global chunk index range [Start, End).
	Start int
	End   int

	// Err is the underlying cause.
	Err error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("embedding batch %d (chunks %d-%d): %v", e.Batch, e.Start, e.End-1, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches ErrBatchFailed.
func (e *BatchError) Is(target error) bool {
	return target == ErrBatchFailed
}

// IndexedEmbedding pairs a chunk's global index with its vector.
type IndexedEmbedding struct {
	// ChunkIndex is the zero-based position of the chunk in the
	// original sequence.
	ChunkIndex int

	// Vector is the normalized embedding.
	Vector []float32
}

// BatchConfig holds configuration for the batch processor.
type BatchConfig struct {
	// BatchSize is the number of chunks per provider call.
	// Default: 10.
	BatchSize int

	// RequestsPerSecond throttles provider calls. Zero disables
	// throttling.
	RequestsPerSecond float64
}

// ApplyDefaults sets default values for unset fields.
func (c *BatchConfig) ApplyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
}

// Validate validates the configuration.
func (c BatchConfig) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: requests per second cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// BatchProcessor groups chunks into bounded batches and embeds each
// batch with a single provider call.
//
// Batches are processed sequentially in increasing index order. This
// bounds memory and keeps request pressure on the provider fair; the
// limiter additionally smooths bursts across concurrent ingestion runs.
type BatchProcessor struct {
	provider Provider
	config   BatchConfig
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewBatchProcessor creates a batch processor over the given provider.
func NewBatchProcessor(provider Provider, config BatchConfig, logger *zap.Logger) (*BatchProcessor, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	return &BatchProcessor{
		provider: provider,
		config:   config,
		limiter:  limiter,
		logger:   logger,
	}, nil
}

// BatchSize reports the configured chunks-per-batch.
func (p *BatchProcessor) BatchSize() int {
	return p.config.BatchSize
}

// EmbedBatches embeds chunks in fixed-size batches, preserving order.
//
// Batch i covers global indices [i*batchSize, i*batchSize+batchSize).
// A length mismatch or an unusable vector fails the whole batch: the
// returned embeddings cover exactly the batches completed before the
// failure, and the *BatchError identifies the failed range so the
// caller can retry from there.
func (p *BatchProcessor) EmbedBatches(ctx context.Context, chunks []string) ([]IndexedEmbedding, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: chunks cannot be empty", ErrEmptyInput)
	}
	for i, chunk := range chunks {
		if chunk == "" {
			return nil, fmt.Errorf("%w: chunk at index %d is empty", ErrEmptyInput, i)
		}
	}

	batchSize := p.config.BatchSize
	results := make([]IndexedEmbedding, 0, len(chunks))

	for batch := 0; batch*batchSize < len(chunks); batch++ {
		start := batch * batchSize
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		embeddings, err := p.embedBatch(ctx, chunks[start:end])
		if err != nil {
			return results, &BatchError{Batch: batch, Start: start, End: end, Err: err}
		}

		for i, vector := range embeddings {
			results = append(results, IndexedEmbedding{
				ChunkIndex: start + i,
				Vector:     vector,
			})
		}

		p.logger.Debug("embedded batch",
			zap.Int("batch", batch),
			zap.Int("chunk_start", start),
			zap.Int("chunk_end", end),
		)
	}

	return results, nil
}

// EmbedBatch embeds a single batch identified by its zero-based batch
// number, for retrying a failed batch without recomputing earlier ones.
func (p *BatchProcessor) EmbedBatch(ctx context.Context, chunks []string, batch int) ([]IndexedEmbedding, error) {
	batchSize := p.config.BatchSize
	start := batch * batchSize
	if batch < 0 || start >= len(chunks) {
		return nil, fmt.Errorf("%w: batch %d out of range for %d chunks", ErrInvalidConfig, batch, len(chunks))
	}
	end := start + batchSize
	if end > len(chunks) {
		end = len(chunks)
	}

	embeddings, err := p.embedBatch(ctx, chunks[start:end])
	if err != nil {
		return nil, &BatchError{Batch: batch, Start: start, End: end, Err: err}
	}

	results := make([]IndexedEmbedding, len(embeddings))
	for i, vector := range embeddings {
		results[i] = IndexedEmbedding{ChunkIndex: start + i, Vector: vector}
	}
	return results, nil
}

// embedBatch performs one rate-limited provider call and validates the
// one-to-one response shape.
func (p *BatchProcessor) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	start := time.Now()
	vectors, err := p.provider.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d chunks, received %d embeddings", ErrShapeMismatch, len(texts), len(vectors))
	}
	for i, vector := range vectors {
		if len(vector) == 0 {
			return nil, fmt.Errorf("%w: empty embedding for chunk %d", ErrShapeMismatch, i)
		}
	}

	p.logger.Debug("provider call complete",
		zap.Int("texts", len(texts)),
		zap.Duration("duration", time.Since(start)),
	)
	return vectors, nil
}
