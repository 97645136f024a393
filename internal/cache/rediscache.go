package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache is a Redis-backed Cache for multi-process deployments. Each
// entry is stored as one JSON value under a namespaced key with a native
// Redis TTL, so expiry is enforced by Redis itself rather than a local
// sweep.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCache returns a cache backed by rdb.
func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: "ace:cache:"}
}

type redisPair struct {
	RootBefore []byte    `json:"root_before"`
	RootAfter  []byte    `json:"root_after"`
	CreatedAt  time.Time `json:"created_at"`
}

func (c *RedisCache) key(k string) string { return c.prefix + k }

func (c *RedisCache) Get(key string) (Pair, bool) {
	ctx := context.Background()
	data, err := c.rdb.Get(ctx, c.key(key)).Result()
	if err != nil {
		return Pair{}, false
	}
	var rp redisPair
	if err := json.Unmarshal([]byte(data), &rp); err != nil {
		return Pair{}, false
	}
	return Pair{RootBefore: rp.RootBefore, RootAfter: rp.RootAfter, CreatedAt: rp.CreatedAt}, true
}

func (c *RedisCache) Put(key string, pair Pair, ttl time.Duration) error {
	rp := redisPair{RootBefore: pair.RootBefore, RootAfter: pair.RootAfter, CreatedAt: pair.CreatedAt}
	data, err := json.Marshal(rp)
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}
	return c.rdb.Set(context.Background(), c.key(key), data, ttl).Err()
}

func (c *RedisCache) Invalidate(key string) {
	c.rdb.Del(context.Background(), c.key(key))
}

// Size scans the cache's key namespace. This is an O(n) SCAN and is meant
// for diagnostics, not the hot path.
func (c *RedisCache) Size() int {
	ctx := context.Background()
	var count int
	iter := c.rdb.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count
}

var _ Cache = (*RedisCache)(nil)
