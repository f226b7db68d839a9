package vectorstore

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const vectorstoreInstrumentationName = "github.com/fyrsmithlabs/corpusd/internal/vectorstore"

// Metrics holds vector store operation metrics.
type Metrics struct {
	meter        metric.Meter
	logger       *zap.Logger
	upsertChunks metric.Int64Counter
	searchHits   metric.Int64Histogram
	errors       metric.Int64Counter
}

// NewMetrics creates a new Metrics instance for vector store operations.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		meter:  otel.Meter(vectorstoreInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.upsertChunks, err = m.meter.Int64Counter(
		"corpusd.vectorstore.upserted_chunks_total",
		metric.WithDescription("Total chunk rows written, labeled by backend (chromem, qdrant)."),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		m.logger.Warn("failed to create upsert counter", zap.Error(err))
	}

	m.searchHits, err = m.meter.Int64Histogram(
		"corpusd.vectorstore.search_results",
		metric.WithDescription("Result count per search, labeled by backend and mode (similarity, hybrid). A sustained drop to zero usually means a dimension or threshold misconfiguration."),
		metric.WithUnit("{result}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 5, 10, 25, 50, 100),
	)
	if err != nil {
		m.logger.Warn("failed to create search histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"corpusd.vectorstore.errors_total",
		metric.WithDescription("Total vector store operation errors by backend and operation."),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}
}

// RecordUpsert records an upsert operation.
func (m *Metrics) RecordUpsert(ctx context.Context, backend string, chunks int, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("backend", backend),
		attribute.String("operation", "upsert"),
	}
	if err != nil {
		if m.errors != nil {
			m.errors.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
		return
	}
	if m.upsertChunks != nil {
		m.upsertChunks.Add(ctx, int64(chunks), metric.WithAttributes(attrs...))
	}
}

// RecordSearch records a search operation and its result count.
func (m *Metrics) RecordSearch(ctx context.Context, backend, mode string, results int, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("backend", backend),
		attribute.String("mode", mode),
	}
	if err != nil {
		if m.errors != nil {
			m.errors.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("operation", "search"))...))
		}
		return
	}
	if m.searchHits != nil {
		m.searchHits.Record(ctx, int64(results), metric.WithAttributes(attrs...))
	}
}
