package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

func setupCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	c := NewRedisCache(Config{Addr: mr.Addr()}, zap.NewNop())
	t.Cleanup(func() {
		_ = c.Close()
		mr.Close()
	})
	return c, mr
}

func sampleResults() []vectorstore.SearchResult {
	return []vectorstore.SearchResult{
		{
			DocumentID:   "doc-1",
			ChunkIndex:   0,
			Text:         "cached chunk",
			Score:        0.92,
			VectorScore:  0.9,
			LexicalScore: 0.5,
			Metadata:     map[string]string{"source": "upload"},
		},
		{
			DocumentID:  "doc-2",
			ChunkIndex:  3,
			Text:        "second chunk",
			Score:       0.81,
			VectorScore: 0.81,
		},
	}
}

func TestRedisCache_RoundTrip(t *testing.T) {
	c, _ := setupCache(t)
	ctx := context.Background()

	want := sampleResults()
	fingerprint := Fingerprint(QueryKey{Query: "round trip", Limit: 10, SearchMode: ModeSimilarity})

	require.True(t, c.Put(ctx, fingerprint, want, time.Minute))

	got, ok := c.Get(ctx, fingerprint)
	require.True(t, ok)
	assert.Equal(t, want, got, "cached results must round-trip deep-equal")
}

func TestRedisCache_MissOnUnknownKey(t *testing.T) {
	c, _ := setupCache(t)

	_, ok := c.Get(context.Background(), "no-such-fingerprint")
	assert.False(t, ok)
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()

	fingerprint := Fingerprint(QueryKey{Query: "expiring", Limit: 5, SearchMode: ModeSimilarity})
	require.True(t, c.Put(ctx, fingerprint, sampleResults(), time.Second))

	mr.FastForward(2 * time.Second)

	_, ok := c.Get(ctx, fingerprint)
	assert.False(t, ok, "entry must expire after its TTL")
}

func TestRedisCache_FailsOpenWhenTransportDown(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()

	fingerprint := Fingerprint(QueryKey{Query: "broken transport", Limit: 5, SearchMode: ModeSimilarity})
	require.True(t, c.Put(ctx, fingerprint, sampleResults(), time.Minute))

	mr.Close()

	// Reads degrade to misses, never errors.
	results, ok := c.Get(ctx, fingerprint)
	assert.False(t, ok)
	assert.Nil(t, results)

	// Writes degrade to unsuccessful no-ops.
	assert.False(t, c.Put(ctx, fingerprint, sampleResults(), time.Minute))
}

func TestRedisCache_CorruptEntryIsMiss(t *testing.T) {
	c, mr := setupCache(t)

	fingerprint := "deadbeef"
	require.NoError(t, mr.Set(queryPrefix+fingerprint, "not json"))

	_, ok := c.Get(context.Background(), fingerprint)
	assert.False(t, ok)
}

func TestRedisCache_InvalidateSweepsNamespace(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()

	for _, query := range []string{"first", "second", "third"} {
		fp := Fingerprint(QueryKey{Query: query, Limit: 10, SearchMode: ModeHybrid})
		require.True(t, c.Put(ctx, fp, sampleResults(), time.Minute))
	}
	// A foreign key outside the corpusd namespace must survive.
	require.NoError(t, mr.Set("other:app:key", "kept"))

	require.NoError(t, c.Invalidate(ctx))

	for _, query := range []string{"first", "second", "third"} {
		fp := Fingerprint(QueryKey{Query: query, Limit: 10, SearchMode: ModeHybrid})
		_, ok := c.Get(ctx, fp)
		assert.False(t, ok)
	}
	assert.True(t, mr.Exists("other:app:key"))
}

func TestRedisCache_PutDefaultTTL(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()

	fingerprint := Fingerprint(QueryKey{Query: "default ttl", Limit: 10, SearchMode: ModeSimilarity})
	require.True(t, c.Put(ctx, fingerprint, sampleResults(), 0))

	ttl := mr.TTL(queryPrefix + fingerprint)
	assert.Equal(t, DefaultTTL, ttl)
}

func TestNoopCache(t *testing.T) {
	var c NoopCache
	ctx := context.Background()

	_, ok := c.Get(ctx, "anything")
	assert.False(t, ok)
	assert.True(t, c.Put(ctx, "anything", sampleResults(), time.Minute))
	assert.NoError(t, c.Invalidate(ctx))
	assert.NoError(t, c.Close())
}
