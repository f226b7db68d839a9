package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "lowercases and splits on punctuation",
			text: "Vector-Store Retrieval, explained.",
			want: []string{"vector", "store", "retrieval", "explained"},
		},
		{
			name: "filters stopwords and short tokens",
			text: "what is the best DB for it",
			want: []string{"best"},
		},
		{
			name: "keeps underscores and digits",
			text: "chunk_index 42 rows",
			want: []string{"chunk_index", "rows"},
		},
		{
			name: "empty text",
			text: "",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenize(tt.text))
		})
	}
}

func TestLexicalScore(t *testing.T) {
	query := tokenize("database index performance")

	tests := []struct {
		name string
		text string
		want float32
	}{
		{name: "full overlap", text: "database index performance tuning", want: 1.0},
		{name: "partial overlap", text: "the index was rebuilt", want: 1.0 / 3.0},
		{name: "no overlap", text: "completely unrelated words", want: 0},
		{name: "duplicate query terms counted once", text: "index index index", want: 1.0 / 3.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, lexicalScore(query, tt.text), 1e-6)
		})
	}
}

func TestLexicalScore_EmptyQuery(t *testing.T) {
	assert.Zero(t, lexicalScore(nil, "anything"))
	assert.Zero(t, lexicalScore(tokenize("the is a"), "anything"))
}

func TestBlendHybrid(t *testing.T) {
	candidates := []SearchResult{
		{Text: "vector databases store embeddings", VectorScore: 0.9},
		{Text: "embeddings compress meaning into vectors", VectorScore: 0.5},
		{Text: "nothing relevant whatsoever here", VectorScore: 0.99},
	}

	results := blendHybrid(candidates, "vector embeddings", 10)

	// The lexically unrelated candidate is excluded despite its top
	// vector score.
	require := assert.New(t)
	require.Len(results, 2)
	for _, result := range results {
		require.Positive(result.LexicalScore)
	}

	// combined = 0.7*vector + 0.3*lexical, descending. The second
	// candidate matches only "embeddings", not "vector", so its
	// lexical score is 0.5.
	require.InDelta(0.7*0.9+0.3*1.0, float64(results[0].Score), 1e-6)
	require.InDelta(0.7*0.5+0.3*0.5, float64(results[1].Score), 1e-6)
	require.GreaterOrEqual(results[0].Score, results[1].Score)
}

func TestBlendHybrid_LimitApplied(t *testing.T) {
	candidates := make([]SearchResult, 10)
	for i := range candidates {
		candidates[i] = SearchResult{Text: "shared token", VectorScore: float32(i) / 10}
	}

	results := blendHybrid(candidates, "shared token", 3)
	assert.Len(t, results, 3)
	assert.InDelta(t, 0.7*0.9+0.3*1.0, float64(results[0].Score), 1e-6)
}

func TestBlendHybrid_NoLexicalMatches(t *testing.T) {
	candidates := []SearchResult{
		{Text: "alpha beta gamma", VectorScore: 0.99},
	}
	results := blendHybrid(candidates, "delta epsilon", 10)
	assert.Empty(t, results)
}
