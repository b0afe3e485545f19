package external

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/variant-calibration-server/internal/domain"
)

// cachedClassification wraps a classification with its expiry metadata.
type cachedClassification struct {
	Classification string    `json:"classification"`
	CachedAt       time.Time `json:"cached_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// EvidenceCache is a two-tier cache for classifier results: an
// in-memory LRU tier that is always on, and an optional Redis tier
// shared across replicas. Cache failures are treated as misses.
type EvidenceCache struct {
	memory *lru.Cache[string, cachedClassification]
	redis  *redis.Client
	ttl    time.Duration
}

// NewEvidenceCache creates the cache. When cfg.RedisURL is empty only
// the memory tier is used; otherwise the Redis connection is verified
// up front.
func NewEvidenceCache(cfg domain.CacheConfig) (*EvidenceCache, error) {
	size := cfg.MemorySize
	if size <= 0 {
		size = 1000
	}
	memory, err := lru.New[string, cachedClassification](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	cache := &EvidenceCache{
		memory: memory,
		ttl:    cfg.DefaultTTL,
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		opts.PoolSize = cfg.PoolSize
		opts.PoolTimeout = cfg.PoolTimeout
		opts.MaxRetries = cfg.MaxRetries

		client := redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		cache.redis = client
	}

	return cache, nil
}

// Get returns a cached classification for the variant key.
func (c *EvidenceCache) Get(ctx context.Context, gene, hgvsProtein string) (string, bool) {
	key := cacheKey(gene, hgvsProtein)
	now := time.Now()

	if cached, ok := c.memory.Get(key); ok {
		if now.Before(cached.ExpiresAt) {
			return cached.Classification, true
		}
		c.memory.Remove(key)
	}

	if c.redis == nil {
		return "", false
	}

	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		// Miss or Redis failure: either way, fall through to the source.
		return "", false
	}

	var cached cachedClassification
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		c.redis.Del(ctx, key)
		return "", false
	}
	if now.After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return "", false
	}

	// Promote to the memory tier.
	c.memory.Add(key, cached)
	return cached.Classification, true
}

// Set stores a classification in both tiers.
func (c *EvidenceCache) Set(ctx context.Context, gene, hgvsProtein, classification string) {
	key := cacheKey(gene, hgvsProtein)
	cached := cachedClassification{
		Classification: classification,
		CachedAt:       time.Now(),
		ExpiresAt:      time.Now().Add(c.ttl),
	}
	c.memory.Add(key, cached)

	if c.redis == nil {
		return
	}
	data, err := json.Marshal(cached)
	if err != nil {
		return
	}
	// Best effort; a failed write just means a future miss.
	c.redis.Set(ctx, key, data, c.ttl)
}

// Close releases the Redis connection if one is open.
func (c *EvidenceCache) Close() error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Close()
}

func cacheKey(gene, hgvsProtein string) string {
	hash := sha256.Sum256([]byte(gene + ":" + hgvsProtein))
	return fmt.Sprintf("evidence:variant:%x", hash[:8])
}
