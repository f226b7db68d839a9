package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_Stable(t *testing.T) {
	key := QueryKey{
		Query:          "what is hybrid search",
		Limit:          10,
		Threshold:      0.5,
		DocumentFilter: "doc-1",
		SearchMode:     ModeHybrid,
	}

	assert.Equal(t, Fingerprint(key), Fingerprint(key))
	assert.Len(t, Fingerprint(key), 64)
}

func TestFingerprint_QueryNormalization(t *testing.T) {
	base := QueryKey{Query: "hybrid search", Limit: 10, SearchMode: ModeSimilarity}
	shouted := base
	shouted.Query = "  HYBRID    Search  "

	assert.Equal(t, Fingerprint(base), Fingerprint(shouted),
		"logically identical queries must hash identically")
}

func TestFingerprint_DistinguishesOptions(t *testing.T) {
	base := QueryKey{Query: "hybrid search", Limit: 10, Threshold: 0.5, SearchMode: ModeSimilarity}

	variants := []QueryKey{
		{Query: "hybrid search", Limit: 20, Threshold: 0.5, SearchMode: ModeSimilarity},
		{Query: "hybrid search", Limit: 10, Threshold: 0.7, SearchMode: ModeSimilarity},
		{Query: "hybrid search", Limit: 10, Threshold: 0.5, SearchMode: ModeHybrid},
		{Query: "hybrid search", Limit: 10, Threshold: 0.5, DocumentFilter: "doc-1", SearchMode: ModeSimilarity},
		{Query: "other query", Limit: 10, Threshold: 0.5, SearchMode: ModeSimilarity},
	}

	for _, variant := range variants {
		assert.NotEqual(t, Fingerprint(base), Fingerprint(variant), "variant %+v must not collide", variant)
	}
}

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Hello World", want: "hello world"},
		{in: "  spaced \t out \n query ", want: "spaced out query"},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeQuery(tt.in))
	}
}
