package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// AnswerCache memoises validated answers in redis. Identical questions
// hit the cache instead of re-running retrieval and generation. A nil
// cache is a no-op, so the handler works without redis.
type AnswerCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewAnswerCache(rdb *redis.Client, ttl time.Duration) *AnswerCache {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AnswerCache{rdb: rdb, ttl: ttl}
}

func cacheKey(question string) string {
	sum := sha256.Sum256([]byte(question))
	return "answer:" + hex.EncodeToString(sum[:])
}

// Get returns the cached answer, or "" on a miss. Redis errors count as
// misses; the cache never fails a request.
func (c *AnswerCache) Get(ctx context.Context, question string) string {
	if c == nil {
		return ""
	}
	val, err := c.rdb.Get(ctx, cacheKey(question)).Result()
	if err != nil {
		return ""
	}
	return val
}

func (c *AnswerCache) Set(ctx context.Context, question, answer string) {
	if c == nil {
		return
	}
	_ = c.rdb.Set(ctx, cacheKey(question), answer, c.ttl).Err()
}

// Flush drops all cached answers. Called after re-ingest so stale
// answers don't outlive the documents they were grounded on.
func (c *AnswerCache) Flush(ctx context.Context) {
	if c == nil {
		return
	}
	iter := c.rdb.Scan(ctx, 0, "answer:*", 0).Iterator()
	for iter.Next(ctx) {
		_ = c.rdb.Del(ctx, iter.Val()).Err()
	}
}
