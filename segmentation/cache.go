package segmentation

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-cutout/common"
)

// DefaultCacheTTL is how long a cached candidate list stays valid.
const DefaultCacheTTL = time.Hour

const cacheKeyPrefix = "segment:"

// KV is the subset of a Redis client the cache needs. *redis.Client
// satisfies it.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Cache memoises a Segmenter by the MD5 of the image bytes. Cache failures
// are logged and bypassed.
type Cache struct {
	next   Segmenter
	kv     KV
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache wraps next with a Redis-backed cache.
func NewCache(next Segmenter, kv KV, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{next: next, kv: kv, ttl: ttl, logger: logger}
}

// CacheKey returns the key under which candidates for image are stored.
func CacheKey(image []byte) string {
	sum := md5.Sum(image)
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

// Segment returns cached candidates when present, otherwise calls the wrapped
// Segmenter and stores its result.
func (c *Cache) Segment(ctx context.Context, filename string, image []byte) ([]common.Candidate, error) {
	key := CacheKey(image)

	raw, err := c.kv.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		cands, perr := ParseResponse(raw)
		if perr == nil {
			c.logger.Debug("segmentation cache hit", zap.String("key", key), zap.Int("candidates", len(cands)))
			return cands, nil
		}
		c.logger.Warn("discarding unreadable cache entry", zap.String("key", key), zap.Error(perr))
	case err != redis.Nil:
		c.logger.Warn("segmentation cache read failed", zap.String("key", key), zap.Error(err))
	}

	cands, err := c.next.Segment(ctx, filename, image)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(cands)
	if err != nil {
		c.logger.Warn("encode cache entry", zap.Error(err))
		return cands, nil
	}
	if err := c.kv.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("segmentation cache write failed", zap.String("key", key), zap.Error(err))
	}
	return cands, nil
}
