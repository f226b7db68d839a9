package vectorstore

// Hybrid ranking weights. The blend is fixed: tuning it per-query would
// make cached results incomparable across requests.
const (
	// VectorWeight is the vector-similarity share of the hybrid score.
	VectorWeight = 0.7

	// LexicalWeight is the lexical-relevance share of the hybrid score.
	LexicalWeight = 0.3
)

// ChunkRecord is one chunk row to persist: a span of document text with
// its embedding and metadata.
type ChunkRecord struct {
	// Index is the zero-based chunk position, unique within a document.
	Index int

	// Text is the chunk's text span.
	Text string

	// Embedding is the chunk's vector. Must match the store's
	// configured dimensionality and must be complete; rows without a
	// full vector are rejected.
	Embedding []float32

	// Metadata holds free-form key-value pairs carried with the chunk.
	Metadata map[string]string
}

// SearchParams describes one similarity or hybrid query.
type SearchParams struct {
	// Embedding is the query vector.
	Embedding []float32

	// QueryText is the raw query text, used for lexical scoring in
	// hybrid search. Ignored by pure similarity search.
	QueryText string

	// Limit caps the number of results.
	Limit int

	// Threshold drops results whose vector score falls below it.
	Threshold float32

	// DocumentID optionally restricts the search to one document.
	DocumentID string
}

// SearchResult is one ranked retrieval hit. Ephemeral, never persisted.
type SearchResult struct {
	// DocumentID identifies the parent document.
	DocumentID string

	// ChunkIndex is the chunk's position within the document.
	ChunkIndex int

	// Text is the chunk text.
	Text string

	// Score is the ranking score: the vector similarity for pure
	// search, or the blended score for hybrid search.
	Score float32

	// VectorScore is the vector-similarity component.
	VectorScore float32

	// LexicalScore is the lexical term-overlap component. Zero for
	// pure similarity search.
	LexicalScore float32

	// Metadata carries the chunk metadata.
	Metadata map[string]string
}
