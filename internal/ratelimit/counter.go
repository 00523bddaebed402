package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is the fast-path hourly counter. The production implementation is
// Redis; tests use the in-memory one.
type Counter interface {
	// Incr bumps key and applies ttl on its first increment.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns the current count; missing keys read as zero.
	Get(ctx context.Context, key string) (int64, error)
}

type RedisCounter struct {
	rdb *redis.Client
}

func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		c.rdb.Expire(ctx, key, ttl)
	}
	return count, nil
}

func (c *RedisCounter) Get(ctx context.Context, key string) (int64, error) {
	count, err := c.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

// MemoryCounter is a process-local Counter for tests and single-node setups.
type MemoryCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		counts:  make(map[string]int64),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetClock replaces the time source; tests only.
func (c *MemoryCounter) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *MemoryCounter) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked(key)
	c.counts[key]++
	if c.counts[key] == 1 {
		c.expires[key] = c.now().Add(ttl)
	}
	return c.counts[key], nil
}

func (c *MemoryCounter) Get(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked(key)
	return c.counts[key], nil
}

func (c *MemoryCounter) expireLocked(key string) {
	if exp, ok := c.expires[key]; ok && c.now().After(exp) {
		delete(c.counts, key)
		delete(c.expires, key)
	}
}
