// Package cache memoizes derived aggregates in Redis with an explicit
// staleness window. Age is always derived from the stored computation
// timestamp, never a TTL countdown, so any caller can independently verify
// freshness or display "last updated".
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Recorder counts cache outcomes. A nil Recorder disables counting.
type Recorder interface {
	CacheHit()
	CacheMiss()
}

// envelope wraps a cached value with its computation timestamp.
type envelope struct {
	ComputedAt time.Time       `json:"computed_at"`
	Value      json.RawMessage `json:"value"`
}

// Cache is a Redis-backed memoization layer for derived aggregates.
type Cache struct {
	rdb      *redis.Client
	recorder Recorder

	// now is injectable for freshness tests.
	now func() time.Time
}

// New creates a cache. recorder may be nil.
func New(rdb *redis.Client, recorder Recorder) *Cache {
	return &Cache{rdb: rdb, recorder: recorder, now: time.Now}
}

// GetOrCompute returns the cached value for key when it is younger than ttl,
// decoded into dest, along with its age in hours. On a miss or expiry it
// runs compute synchronously, stores the result, and returns age 0. Age is
// never negative. Concurrent recomputes for the same key are tolerated:
// both writers store identical values for identical inputs, so redundant
// computation is acceptable and corruption is not.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, dest any, compute func(ctx context.Context) (any, error)) (float64, error) {
	if env, ok := c.load(ctx, key); ok {
		age := c.now().Sub(env.ComputedAt)
		if age >= 0 && age < ttl {
			if err := json.Unmarshal(env.Value, dest); err == nil {
				if c.recorder != nil {
					c.recorder.CacheHit()
				}
				return age.Hours(), nil
			}
			// Undecodable entries are treated as a miss and overwritten.
		}
	}

	if c.recorder != nil {
		c.recorder.CacheMiss()
	}

	value, err := compute(ctx)
	if err != nil {
		return 0, err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("encode cache value: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return 0, fmt.Errorf("decode computed value: %w", err)
	}

	c.store(ctx, key, ttl, raw)
	return 0, nil
}

// Invalidate drops a cached entry so the next read recomputes.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, redisKey(key)).Err()
}

func (c *Cache) load(ctx context.Context, key string) (*envelope, bool) {
	data, err := c.rdb.Get(ctx, redisKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("[Cache] read failed for %s: %v", key, err)
		return nil, false
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("[Cache] corrupt entry for %s: %v", key, err)
		return nil, false
	}
	return &env, true
}

func (c *Cache) store(ctx context.Context, key string, ttl time.Duration, raw json.RawMessage) {
	data, err := json.Marshal(envelope{ComputedAt: c.now(), Value: raw})
	if err != nil {
		return
	}
	// The Redis expiry is only hygiene; staleness is decided by ComputedAt.
	// Keep entries around past the ttl so callers can still read the age of
	// a stale value if a recompute fails.
	if err := c.rdb.Set(ctx, redisKey(key), data, 4*ttl).Err(); err != nil {
		log.Printf("[Cache] write failed for %s: %v", key, err)
	}
}

func redisKey(key string) string {
	return "aggregate:" + key
}
