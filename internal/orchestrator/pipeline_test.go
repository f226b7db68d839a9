package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/docstore"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

// fakeExtractor treats document bytes as already-extracted text.
type fakeExtractor struct {
	err   error
	calls int
}

func (f *fakeExtractor) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return string(data), nil
}

// fakeEmbedder produces deterministic unit vectors and can be scripted
// to fail specific EmbedBatch invocations.
type fakeEmbedder struct {
	batchSize  int
	embedCalls int
	queryCalls int
	failCalls  map[int]error // invocation number (1-based) -> error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{batchSize: embeddings.DefaultBatchSize, failCalls: map[int]error{}}
}

func vectorFor(text string) []float32 {
	// Orthogonal-ish deterministic vector keyed on first byte.
	v := make([]float32, 4)
	if len(text) > 0 {
		v[int(text[0])%4] = 1
	}
	return v
}

func (f *fakeEmbedder) BatchSize() int {
	return f.batchSize
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, chunks []string, batch int) ([]embeddings.IndexedEmbedding, error) {
	f.embedCalls++
	if err, ok := f.failCalls[f.embedCalls]; ok {
		return nil, &embeddings.BatchError{Batch: batch, Err: err}
	}
	start := batch * f.batchSize
	end := start + f.batchSize
	if end > len(chunks) {
		end = len(chunks)
	}
	out := make([]embeddings.IndexedEmbedding, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, embeddings.IndexedEmbedding{ChunkIndex: i, Vector: vectorFor(chunks[i])})
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.queryCalls++
	return vectorFor(text), nil
}

// memStore is an in-memory ChunkStore ranking by dot product.
type memStore struct {
	chunks      map[string][]vectorstore.ChunkRecord
	upsertErr   error
	searchErr   error
	hybridCalls int
}

func newMemStore() *memStore {
	return &memStore{chunks: map[string][]vectorstore.ChunkRecord{}}
}

func (m *memStore) UpsertChunks(ctx context.Context, documentID string, chunks []vectorstore.ChunkRecord) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	existing := m.chunks[documentID]
	for _, chunk := range chunks {
		replaced := false
		for i, have := range existing {
			if have.Index == chunk.Index {
				existing[i] = chunk
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, chunk)
		}
	}
	m.chunks[documentID] = existing
	return nil
}

func (m *memStore) SimilaritySearch(ctx context.Context, params vectorstore.SearchParams) ([]vectorstore.SearchResult, error) {
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	var results []vectorstore.SearchResult
	for docID, records := range m.chunks {
		if params.DocumentID != "" && params.DocumentID != docID {
			continue
		}
		for _, rec := range records {
			var score float32
			for i := range rec.Embedding {
				if i < len(params.Embedding) {
					score += rec.Embedding[i] * params.Embedding[i]
				}
			}
			if score < params.Threshold {
				continue
			}
			results = append(results, vectorstore.SearchResult{
				DocumentID:  docID,
				ChunkIndex:  rec.Index,
				Text:        rec.Text,
				Score:       score,
				VectorScore: score,
			})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > params.Limit {
		results = results[:params.Limit]
	}
	return results, nil
}

func (m *memStore) HybridSearch(ctx context.Context, params vectorstore.SearchParams) ([]vectorstore.SearchResult, error) {
	m.hybridCalls++
	return m.SimilaritySearch(ctx, params)
}

func (m *memStore) DeleteDocument(ctx context.Context, documentID string) error {
	delete(m.chunks, documentID)
	return nil
}

func (m *memStore) Count(ctx context.Context) (int, error) {
	n := 0
	for _, records := range m.chunks {
		n += len(records)
	}
	return n, nil
}

func (m *memStore) Close() error { return nil }

// memCache is a map-backed ResultCache with call accounting.
type memCache struct {
	entries       map[string][]vectorstore.SearchResult
	gets, puts    int
	invalidations int
	invalidateErr error
}

func newMemCache() *memCache {
	return &memCache{entries: map[string][]vectorstore.SearchResult{}}
}

func (c *memCache) Get(ctx context.Context, fingerprint string) ([]vectorstore.SearchResult, bool) {
	c.gets++
	results, ok := c.entries[fingerprint]
	return results, ok
}

func (c *memCache) Put(ctx context.Context, fingerprint string, results []vectorstore.SearchResult, ttl time.Duration) bool {
	c.puts++
	c.entries[fingerprint] = results
	return true
}

func (c *memCache) Invalidate(ctx context.Context) error {
	c.invalidations++
	if c.invalidateErr != nil {
		return c.invalidateErr
	}
	c.entries = map[string][]vectorstore.SearchResult{}
	return nil
}

func (c *memCache) Close() error { return nil }

// memDocs is a map-backed DocumentStore.
type memDocs struct {
	docs    map[string]*docstore.Document
	nextID  int
	saveErr error
}

func newMemDocs() *memDocs {
	return &memDocs{docs: map[string]*docstore.Document{}}
}

func (d *memDocs) Save(ctx context.Context, doc *docstore.Document) error {
	if d.saveErr != nil {
		return d.saveErr
	}
	if doc.ID == "" {
		d.nextID++
		doc.ID = fmt.Sprintf("doc-%d", d.nextID)
	}
	d.docs[doc.ID] = doc
	return nil
}

func (d *memDocs) Get(ctx context.Context, id string) (*docstore.Document, error) {
	doc, ok := d.docs[id]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return doc, nil
}

func (d *memDocs) Delete(ctx context.Context, id string) error {
	if _, ok := d.docs[id]; !ok {
		return docstore.ErrNotFound
	}
	delete(d.docs, id)
	return nil
}

// fakeGenerator records what it was asked and returns a canned answer.
type fakeGenerator struct {
	answer   string
	err      error
	calls    int
	question string
	passages []string
}

func (g *fakeGenerator) Answer(ctx context.Context, question string, passages []string) (string, error) {
	g.calls++
	g.question = question
	g.passages = passages
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

type fixture struct {
	pipeline  *Pipeline
	extractor *fakeExtractor
	embedder  *fakeEmbedder
	store     *memStore
	docs      *memDocs
	cache     *memCache
	generator *fakeGenerator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	splitter, err := chunker.New(chunker.Config{TargetSize: 1000, Overlap: 200})
	require.NoError(t, err)

	f := &fixture{
		extractor: &fakeExtractor{},
		embedder:  newFakeEmbedder(),
		store:     newMemStore(),
		docs:      newMemDocs(),
		cache:     newMemCache(),
		generator: &fakeGenerator{answer: "generated answer"},
	}
	f.pipeline, err = NewPipeline(Deps{
		Extractor:     f.extractor,
		Chunker:       splitter,
		Embedder:      f.embedder,
		QueryEmbedder: f.embedder,
		Store:         f.store,
		Documents:     f.docs,
		Cache:         f.cache,
		Generator:     f.generator,
	}, zap.NewNop())
	require.NoError(t, err)
	return f
}

func TestNewPipeline_MissingDeps(t *testing.T) {
	_, err := NewPipeline(Deps{}, zap.NewNop())
	require.Error(t, err)
}

func TestIngest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 2500 chars with no sentence boundaries: three windows of
	// 1000/1000/900 with 200 overlap.
	text := strings.Repeat("a", 2500)
	result, err := f.pipeline.Ingest(ctx, IngestRequest{
		Title:    "long doc",
		MimeType: "text/plain",
		Data:     []byte(text),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ChunkCount)
	require.NotEmpty(t, result.DocumentID)

	records := f.store.chunks[result.DocumentID]
	require.Len(t, records, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{records[0].Index, records[1].Index, records[2].Index})
	assert.Len(t, records[0].Text, 1000)
	assert.Len(t, records[2].Text, 900)

	doc, err := f.docs.Get(ctx, result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "long doc", doc.Title)
}

func TestIngest_EmptyData(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Ingest(context.Background(), IngestRequest{MimeType: "text/plain"})
	require.Error(t, err)
	assert.Equal(t, KindInvalidInput, KindOf(err))
	assert.Zero(t, f.extractor.calls)
	assert.Zero(t, f.embedder.embedCalls)
}

func TestIngest_ExtractionFailure(t *testing.T) {
	f := newFixture(t)
	f.extractor.err = errors.New("unsupported")

	_, err := f.pipeline.Ingest(context.Background(), IngestRequest{
		MimeType: "application/msword",
		Data:     []byte("blob"),
	})
	require.Error(t, err)
	assert.Equal(t, KindInvalidInput, KindOf(err))
	assert.Zero(t, f.embedder.embedCalls)
}

func TestIngest_EmbeddingRetrySucceeds(t *testing.T) {
	f := newFixture(t)
	f.embedder.failCalls[1] = errors.New("provider flake")

	result, err := f.pipeline.Ingest(context.Background(), IngestRequest{
		MimeType: "text/plain",
		Data:     []byte(strings.Repeat("b", 2500)),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ChunkCount)
	// One failed call plus its retry, then no further batches with the
	// default batch size.
	assert.Equal(t, 2, f.embedder.embedCalls)
	require.Len(t, f.store.chunks[result.DocumentID], 3)
}

func TestIngest_EmbeddingRetryExhausted(t *testing.T) {
	f := newFixture(t)
	f.embedder.failCalls[1] = errors.New("provider down")
	f.embedder.failCalls[2] = errors.New("still down")

	_, err := f.pipeline.Ingest(context.Background(), IngestRequest{
		MimeType: "text/plain",
		Data:     []byte("short document"),
	})
	require.Error(t, err)
	assert.Equal(t, KindEmbeddingFailure, KindOf(err))
	assert.Empty(t, f.store.chunks)
}

func TestIngest_LaterBatchFailureKeepsCommittedBatches(t *testing.T) {
	f := newFixture(t)
	f.embedder.batchSize = 1
	// Batches 0 and 1 succeed (calls 1 and 2); batch 2 fails on both
	// its first attempt and the retry (calls 3 and 4).
	f.embedder.failCalls[3] = errors.New("provider down")
	f.embedder.failCalls[4] = errors.New("still down")

	_, err := f.pipeline.Ingest(context.Background(), IngestRequest{
		DocumentID: "doc-1",
		MimeType:   "text/plain",
		Data:       []byte(strings.Repeat("b", 2500)),
	})
	require.Error(t, err)
	assert.Equal(t, KindEmbeddingFailure, KindOf(err))
	require.Len(t, f.store.chunks["doc-1"], 2)
}

func TestIngest_Reingest_Overwrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.pipeline.Ingest(ctx, IngestRequest{
		DocumentID: "doc-1", MimeType: "text/plain", Data: []byte("original text"),
	})
	require.NoError(t, err)

	second, err := f.pipeline.Ingest(ctx, IngestRequest{
		DocumentID: "doc-1", MimeType: "text/plain", Data: []byte("revised text"),
	})
	require.NoError(t, err)

	assert.Equal(t, first.DocumentID, second.DocumentID)
	require.Len(t, f.store.chunks, 1)
	assert.Equal(t, "revised text", f.store.chunks["doc-1"][0].Text)
}

func TestIngest_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.upsertErr = errors.New("backend unreachable")

	_, err := f.pipeline.Ingest(context.Background(), IngestRequest{
		MimeType: "text/plain",
		Data:     []byte("some text"),
	})
	require.Error(t, err)
	assert.Equal(t, KindStoreFailure, KindOf(err))
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, IngestRequest{
		DocumentID: "doc-1", MimeType: "text/plain", Data: []byte("alpha content"),
	})
	require.NoError(t, err)

	// Query sharing the chunk's first byte gets the identity vector
	// and a perfect dot product.
	results, err := f.pipeline.Search(ctx, SearchRequest{Query: "alpha"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "doc-1", results[0].DocumentID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-6)
	assert.Equal(t, 1, f.embedder.queryCalls)
}

func TestSearch_EmptyStoreIsNotAnError(t *testing.T) {
	f := newFixture(t)

	results, err := f.pipeline.Search(context.Background(), SearchRequest{Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  SearchRequest
	}{
		{"empty query", SearchRequest{Query: "   "}},
		{"limit too large", SearchRequest{Query: "q", Limit: 150}},
		{"negative limit", SearchRequest{Query: "q", Limit: -1}},
		{"threshold above one", SearchRequest{Query: "q", Threshold: 1.5}},
		{"negative threshold", SearchRequest{Query: "q", Threshold: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.pipeline.Search(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, KindInvalidInput, KindOf(err))
		})
	}

	// Validation rejects before any embedding or store traffic.
	assert.Zero(t, f.embedder.queryCalls)
}

func TestSearch_CacheHitSkipsEmbedding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, IngestRequest{
		DocumentID: "doc-1", MimeType: "text/plain", Data: []byte("alpha content"),
	})
	require.NoError(t, err)

	first, err := f.pipeline.Search(ctx, SearchRequest{Query: "alpha"})
	require.NoError(t, err)
	require.NotEmpty(t, first)
	require.Equal(t, 1, f.cache.puts)

	second, err := f.pipeline.Search(ctx, SearchRequest{Query: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.embedder.queryCalls)
}

func TestSearch_EquivalentQueriesShareCacheEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, IngestRequest{
		DocumentID: "doc-1", MimeType: "text/plain", Data: []byte("alpha content"),
	})
	require.NoError(t, err)

	_, err = f.pipeline.Search(ctx, SearchRequest{Query: "Alpha  Content"})
	require.NoError(t, err)
	_, err = f.pipeline.Search(ctx, SearchRequest{Query: "alpha content"})
	require.NoError(t, err)

	assert.Equal(t, 1, f.cache.puts)
	assert.Equal(t, 1, f.embedder.queryCalls)
}

func TestIngest_InvalidatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, IngestRequest{
		DocumentID: "doc-1", MimeType: "text/plain", Data: []byte("alpha content"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.invalidations)

	_, err = f.pipeline.Search(ctx, SearchRequest{Query: "alpha"})
	require.NoError(t, err)
	require.Len(t, f.cache.entries, 1)

	_, err = f.pipeline.Ingest(ctx, IngestRequest{
		DocumentID: "doc-2", MimeType: "text/plain", Data: []byte("beta content"),
	})
	require.NoError(t, err)
	assert.Empty(t, f.cache.entries)
}

func TestIngest_CacheInvalidationFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.cache.invalidateErr = errors.New("redis down")

	result, err := f.pipeline.Ingest(context.Background(), IngestRequest{
		DocumentID: "doc-1", MimeType: "text/plain", Data: []byte("alpha content"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunkCount)
}

func TestHybridSearch_UsesHybridPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, IngestRequest{
		DocumentID: "doc-1", MimeType: "text/plain", Data: []byte("alpha content"),
	})
	require.NoError(t, err)

	_, err = f.pipeline.HybridSearch(ctx, SearchRequest{Query: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.hybridCalls)
}

func TestAnswer_Grounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, IngestRequest{
		DocumentID: "doc-1", MimeType: "text/plain", Data: []byte("alpha facts about chunking"),
	})
	require.NoError(t, err)

	result, err := f.pipeline.Answer(ctx, SearchRequest{Query: "alpha question"})
	require.NoError(t, err)
	assert.True(t, result.Grounded)
	assert.Equal(t, "generated answer", result.Answer)
	require.NotEmpty(t, result.Sources)
	assert.Equal(t, 1, f.generator.calls)
	assert.Equal(t, "alpha question", f.generator.question)
	assert.Equal(t, []string{"alpha facts about chunking"}, f.generator.passages)
}

func TestAnswer_NoRelevantInformation(t *testing.T) {
	f := newFixture(t)

	result, err := f.pipeline.Answer(context.Background(), SearchRequest{Query: "unknown topic"})
	require.NoError(t, err)
	assert.False(t, result.Grounded)
	assert.NotEmpty(t, result.Answer)
	assert.Empty(t, result.Sources)
	assert.Zero(t, f.generator.calls)
}

func TestAnswer_GenerationFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, IngestRequest{
		DocumentID: "doc-1", MimeType: "text/plain", Data: []byte("alpha content"),
	})
	require.NoError(t, err)

	f.generator.err = errors.New("model unavailable")
	_, err = f.pipeline.Answer(ctx, SearchRequest{Query: "alpha"})
	require.Error(t, err)
	assert.Equal(t, KindGenerationFailure, KindOf(err))
}

func TestDeleteDocument_Cascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.Ingest(ctx, IngestRequest{
		DocumentID: "doc-1", MimeType: "text/plain", Data: []byte("alpha content"),
	})
	require.NoError(t, err)

	require.NoError(t, f.pipeline.DeleteDocument(ctx, "doc-1"))

	assert.Empty(t, f.store.chunks)
	_, err = f.docs.Get(ctx, "doc-1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestDeleteDocument_NotFound(t *testing.T) {
	f := newFixture(t)

	err := f.pipeline.DeleteDocument(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, KindInvalidInput, KindOf(err))
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}
