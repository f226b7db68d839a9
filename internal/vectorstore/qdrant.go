package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// qdrantTracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("corpusd.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server host. Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port. Default: 6334
	Port int

	// APIKey authenticates against Qdrant Cloud. Optional.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// Collection is the chunk collection name.
	// Default: "corpusd_chunks"
	Collection string

	// VectorSize is the expected embedding dimension.
	// Default: 1024
	VectorSize int

	// MaxRetries is the retry budget for transient gRPC failures.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per attempt.
	// Default: 100ms
	RetryBackoff time.Duration

	// MaxMessageSize caps gRPC message sizes. Large ingestion batches
	// with high-dimensional vectors exceed the 4MB gRPC default.
	// Default: 32MB
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "corpusd_chunks"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 1024
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 32 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c *QdrantConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// QdrantStore implements ChunkStore using Qdrant's native gRPC client.
//
// Point IDs are UUIDv5 digests of (documentID, chunkIndex), so writing
// the same chunk key twice overwrites the existing point in place.
type QdrantStore struct {
	client  *qdrant.Client
	config  QdrantConfig
	logger  *zap.Logger
	metrics *Metrics
}

// NewQdrantStore creates a QdrantStore and verifies connectivity.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{
		client:  client,
		config:  config,
		logger:  logger,
		metrics: NewMetrics(logger),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("QdrantStore initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
		zap.Int("vector_size", config.VectorSize),
	)

	return store, nil
}

// ensureCollection creates the chunk collection if it does not exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.config.Collection, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.config.VectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}
	return nil
}

// UpsertChunks writes chunk rows for a document.
func (s *QdrantStore) UpsertChunks(ctx context.Context, documentID string, chunks []ChunkRecord) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.UpsertChunks")
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

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		payload := map[string]*qdrant.Value{
			"text":         {Kind: &qdrant.Value_StringValue{StringValue: chunk.Text}},
			metaDocumentID: {Kind: &qdrant.Value_StringValue{StringValue: documentID}},
			metaChunkIndex: {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(chunk.Index)}},
		}
		for k, v := range chunk.Metadata {
			if _, reserved := payload[k]; reserved {
				continue
			}
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
		}

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(chunkPointUUID(documentID, chunk.Index)),
			Vectors: qdrant.NewVectors(chunk.Embedding...),
			Payload: payload,
		}
	}

	err := s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordUpsert(ctx, "qdrant", len(chunks), err)
		return fmt.Errorf("upserting %d chunks for document %s: %w", len(chunks), documentID, err)
	}

	s.metrics.RecordUpsert(ctx, "qdrant", len(chunks), nil)
	return nil
}

// SimilaritySearch ranks chunks by vector similarity.
func (s *QdrantStore) SimilaritySearch(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.SimilaritySearch")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", params.Limit))

	results, err := s.queryCandidates(ctx, params, params.Limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordSearch(ctx, "qdrant", "similarity", 0, err)
		return nil, err
	}

	s.metrics.RecordSearch(ctx, "qdrant", "similarity", len(results), nil)
	return results, nil
}

// HybridSearch ranks chunks by blended vector and lexical relevance.
func (s *QdrantStore) HybridSearch(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.HybridSearch")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", params.Limit))

	candidates, err := s.queryCandidates(ctx, params, params.Limit*hybridCandidateFactor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordSearch(ctx, "qdrant", "hybrid", 0, err)
		return nil, err
	}

	results := blendHybrid(candidates, params.QueryText, params.Limit)
	s.metrics.RecordSearch(ctx, "qdrant", "hybrid", len(results), nil)
	return results, nil
}

// queryCandidates runs the vector query with the threshold pushed down
// to the engine.
func (s *QdrantStore) queryCandidates(ctx context.Context, params SearchParams, limit int) ([]SearchResult, error) {
	if len(params.Embedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding required", ErrMissingEmbedding)
	}
	if len(params.Embedding) != s.config.VectorSize {
		return nil, fmt.Errorf("%w: query has %d dimensions, store expects %d",
			ErrDimensionMismatch, len(params.Embedding), s.config.VectorSize)
	}
	if limit <= 0 {
		limit = 10
	}

	var filter *qdrant.Filter
	if params.DocumentID != "" {
		filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				{
					ConditionOneOf: &qdrant.Condition_Field{
						Field: &qdrant.FieldCondition{
							Key: metaDocumentID,
							Match: &qdrant.Match{
								MatchValue: &qdrant.Match_Keyword{Keyword: params.DocumentID},
							},
						},
					},
				},
			},
		}
	}

	var points []*qdrant.ScoredPoint
	err := s.retryOperation(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(params.Embedding...),
			Limit:          qdrant.PtrOf(uint64(limit)),
			ScoreThreshold: qdrant.PtrOf(params.Threshold),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         filter,
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	results := make([]SearchResult, 0, len(points))
	for _, point := range points {
		results = append(results, resultFromQdrant(point))
	}
	return results, nil
}

// resultFromQdrant converts a scored point into a SearchResult.
func resultFromQdrant(point *qdrant.ScoredPoint) SearchResult {
	result := SearchResult{
		Score:       point.Score,
		VectorScore: point.Score,
		Metadata:    make(map[string]string),
	}

	for key, value := range point.Payload {
		switch v := value.Kind.(type) {
		case *qdrant.Value_StringValue:
			switch key {
			case "text":
				result.Text = v.StringValue
			case metaDocumentID:
				result.DocumentID = v.StringValue
			default:
				result.Metadata[key] = v.StringValue
			}
		case *qdrant.Value_IntegerValue:
			if key == metaChunkIndex {
				result.ChunkIndex = int(v.IntegerValue)
			} else {
				result.Metadata[key] = strconv.FormatInt(v.IntegerValue, 10)
			}
		case *qdrant.Value_DoubleValue:
			result.Metadata[key] = strconv.FormatFloat(v.DoubleValue, 'f', -1, 64)
		case *qdrant.Value_BoolValue:
			result.Metadata[key] = strconv.FormatBool(v.BoolValue)
		}
	}
	return result
}

// DeleteDocument removes all chunk rows belonging to a document.
func (s *QdrantStore) DeleteDocument(ctx context.Context, documentID string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteDocument")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", documentID))

	if documentID == "" {
		return fmt.Errorf("%w: document ID required", ErrInvalidConfig)
	}

	err := s.retryOperation(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{
						Must: []*qdrant.Condition{
							{
								ConditionOneOf: &qdrant.Condition_Field{
									Field: &qdrant.FieldCondition{
										Key: metaDocumentID,
										Match: &qdrant.Match{
											MatchValue: &qdrant.Match_Keyword{Keyword: documentID},
										},
									},
								},
							},
						},
					},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting chunks for document %s: %w", documentID, err)
	}
	return nil
}

// Count reports the number of stored chunk rows.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.config.Collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("counting collection %s: %w", s.config.Collection, err)
	}
	return int(count), nil
}

// Close closes the Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// retryOperation retries an operation with exponential backoff on
// transient gRPC failures.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff

	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if !isTransientGRPC(lastErr) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, lastErr)
		}

		s.logger.Warn("transient qdrant failure, retrying",
			zap.String("operation", operationName),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}

	return fmt.Errorf("%s failed after %d retries: %w", operationName, s.config.MaxRetries, lastErr)
}

// isTransientGRPC reports whether err is worth retrying.
func isTransientGRPC(err error) bool {
	st, ok := grpcstatus.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.ResourceExhausted, grpccodes.Aborted:
		return true
	default:
		return false
	}
}

// chunkPointUUID derives a deterministic point ID from the chunk key,
// which is what makes Qdrant upserts idempotent per (document, index).
func chunkPointUUID(documentID string, index int) string {
	key := chunkPointID(documentID, index)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("corpusd://chunk/"+key)).String()
}
