package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bookmind/internal/core"
	"bookmind/internal/logger"
)

// TTLs per namespace. The cache is never authoritative; these bound
// staleness, and writers invalidate eagerly on top.
const (
	TTLRecommendation = 5 * time.Minute
	TTLIntent         = time.Hour
	TTLBookmarkList   = 10 * time.Minute
	TTLAnalysis       = 24 * time.Hour
	TTLPreferences    = 7 * 24 * time.Hour
	TTLProgressSlack  = 10 * time.Minute // added to the job's expected duration
)

// Key builders for the shared namespaces.
func RecommendationKey(userID int64, requestHash string) string {
	return fmt.Sprintf("rec:%d:%s", userID, requestHash)
}

func RecommendationPrefix(userID int64) string {
	return fmt.Sprintf("rec:%d:", userID)
}

func IntentKey(contextHash string) string {
	return "intent:" + contextHash
}

func BookmarkListKey(userID int64) string {
	return fmt.Sprintf("bookmarks:%d", userID)
}

func AnalysisKey(contentID int64) string {
	return fmt.Sprintf("analysis:%d", contentID)
}

func PreferencesKey(userID int64) string {
	return fmt.Sprintf("prefs:%d", userID)
}

func ProgressKey(userID int64, jobID string) string {
	return fmt.Sprintf("progress:%d:%s", userID, jobID)
}

// Cache wraps a Redis client. Every failure except on the caller's own
// context is swallowed and reported as a miss: losing the cache degrades
// latency, never correctness.
type Cache struct {
	client *redis.Client
}

// New connects to Redis at the given URL ("redis://host:port/db").
func New(url string) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &Cache{client: redis.NewClient(opts)}, nil
}

// NewFromClient wraps an existing client. Test hook (miniredis).
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Get returns the raw value, or ("", false) on miss or cache failure.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		logger.Debug("cache get degraded to miss", "key", key, "error", err.Error())
		return "", false
	}
	return val, true
}

// GetJSON unmarshals a cached value into out; false on miss or bad data.
func (c *Cache) GetJSON(ctx context.Context, key string, out any) bool {
	val, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		logger.Warn("cache entry corrupt, dropping", "key", key)
		c.Delete(ctx, key)
		return false
	}
	return true
}

// SetWithTTL stores a value; failures are logged and ignored.
func (c *Cache) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		logger.Debug("cache set failed", "key", key, "error", err.Error())
	}
}

// SetJSON marshals and stores a value under the given TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		logger.Warn("cache marshal failed", "key", key)
		return
	}
	c.SetWithTTL(ctx, key, string(data), ttl)
}

// Delete removes keys; failures are ignored.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		logger.Debug("cache delete failed", "error", err.Error())
	}
}

// DeletePrefix removes every key under a prefix using SCAN, so a large
// keyspace never blocks the server the way KEYS would.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, prefix+"*", 200).Result()
		if err != nil {
			logger.Debug("cache scan failed", "prefix", prefix, "error", err.Error())
			return
		}
		c.Delete(ctx, keys...)
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// Incr atomically increments a counter, returning the new value; 0 and
// false on cache failure.
func (c *Cache) Incr(ctx context.Context, key string) (int64, bool) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		logger.Debug("cache incr failed", "key", key, "error", err.Error())
		return 0, false
	}
	return n, true
}

// SetIfAbsent sets the key only when missing; returns whether this call
// won. Cache failure reports false.
func (c *Cache) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) bool {
	ok, err := c.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		logger.Debug("cache setnx failed", "key", key, "error", err.Error())
		return false
	}
	return ok
}

// RPushJSON appends a JSON-encoded entry to a list and refreshes its TTL.
// Used by the progress event log.
func (c *Cache) RPushJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return core.Internal("progress event marshal", err)
	}
	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, key, string(data))
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return core.CacheUnavailable(err)
	}
	return nil
}

// LRangeJSON reads list entries [start, stop] and unmarshals each into a
// value produced by newElem. Failures degrade to an empty slice.
func (c *Cache) LRangeJSON(ctx context.Context, key string, start, stop int64, visit func(raw []byte) error) {
	vals, err := c.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		logger.Debug("cache lrange failed", "key", key, "error", err.Error())
		return
	}
	for _, v := range vals {
		if err := visit([]byte(v)); err != nil {
			logger.Warn("progress log entry corrupt", "key", key)
		}
	}
}

// Ping verifies connectivity; used only at startup for a log line.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return core.CacheUnavailable(err)
	}
	return nil
}

// InvalidateUserContent drops every cache entry derived from a user's
// bookmark set: recommendation results and the list cache. Called by all
// bookmark write paths.
func (c *Cache) InvalidateUserContent(ctx context.Context, userID int64) {
	c.DeletePrefix(ctx, RecommendationPrefix(userID))
	c.Delete(ctx, BookmarkListKey(userID))
}
