package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid cache configuration")

// DefaultTTL is the bounded lifetime for cached query results.
const DefaultTTL = time.Hour

// keyspacePrefix namespaces every corpusd entry. Invalidation sweeps
// this whole namespace: fingerprints are opaque and do not encode
// document identity, so precise per-document invalidation is not
// possible.
const keyspacePrefix = "corpusd:"

// queryPrefix namespaces query-result entries.
const queryPrefix = keyspacePrefix + "query:"

// ResultCache caches ranked search results keyed by query fingerprint.
//
// Implementations must fail open: Get degrades errors to misses, Put
// reports success without ever returning an error.
type ResultCache interface {
	// Get returns the cached results for a fingerprint, or ok=false on
	// miss or any cache failure.
	Get(ctx context.Context, fingerprint string) (results []vectorstore.SearchResult, ok bool)

	// Put stores results under a fingerprint with the given TTL and
	// reports whether the write succeeded.
	Put(ctx context.Context, fingerprint string, results []vectorstore.SearchResult, ttl time.Duration) bool

	// Invalidate removes all corpusd entries. Called after any chunk
	// mutation; failures are non-fatal.
	Invalidate(ctx context.Context) error

	// Close releases the cache transport.
	Close() error
}

// Config holds configuration for the Redis result cache.
type Config struct {
	// Addr is the Redis address. Default: "localhost:6379"
	Addr string

	// Password authenticates against Redis. Optional.
	Password string

	// DB selects the Redis logical database.
	DB int

	// TTL is the lifetime of query-result entries. Default: 1h.
	TTL time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
}

// RedisCache implements ResultCache on a Redis transport.
type RedisCache struct {
	client *redis.Client
	config Config
	logger *zap.Logger
}

// NewRedisCache creates a RedisCache. Connectivity is not verified at
// construction: a cache that is down at startup is a latency problem,
// not a startup failure.
func NewRedisCache(config Config, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return &RedisCache{
		client: client,
		config: config,
		logger: logger,
	}
}

// Get returns cached results, treating every failure as a miss.
func (c *RedisCache) Get(ctx context.Context, fingerprint string) ([]vectorstore.SearchResult, bool) {
	payload, err := c.client.Get(ctx, queryPrefix+fingerprint).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache read failed, treating as miss",
				zap.String("fingerprint", fingerprint),
				zap.Error(err),
			)
		}
		return nil, false
	}

	var results []vectorstore.SearchResult
	if err := json.Unmarshal(payload, &results); err != nil {
		c.logger.Warn("cache entry corrupt, treating as miss",
			zap.String("fingerprint", fingerprint),
			zap.Error(err),
		)
		return nil, false
	}
	return results, true
}

// Put stores results best-effort and reports success.
func (c *RedisCache) Put(ctx context.Context, fingerprint string, results []vectorstore.SearchResult, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.config.TTL
	}

	payload, err := json.Marshal(results)
	if err != nil {
		c.logger.Warn("cache serialization failed, skipping write",
			zap.String("fingerprint", fingerprint),
			zap.Error(err),
		)
		return false
	}

	if err := c.client.Set(ctx, queryPrefix+fingerprint, payload, ttl).Err(); err != nil {
		c.logger.Warn("cache write failed",
			zap.String("fingerprint", fingerprint),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Invalidate sweeps the whole corpusd namespace with SCAN+DEL.
func (c *RedisCache) Invalidate(ctx context.Context) error {
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyspacePrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("scanning cache keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("deleting %d cache keys: %w", len(keys), err)
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	c.logger.Debug("cache invalidated", zap.Int("deleted", deleted))
	return nil
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// NoopCache is a ResultCache that caches nothing. Used when caching is
// disabled; every read is a miss and every write is a successful no-op.
type NoopCache struct{}

// Get always misses.
func (NoopCache) Get(ctx context.Context, fingerprint string) ([]vectorstore.SearchResult, bool) {
	return nil, false
}

// Put always reports success.
func (NoopCache) Put(ctx context.Context, fingerprint string, results []vectorstore.SearchResult, ttl time.Duration) bool {
	return true
}

// Invalidate is a no-op.
func (NoopCache) Invalidate(ctx context.Context) error { return nil }

// Close is a no-op.
func (NoopCache) Close() error { return nil }
