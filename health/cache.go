package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmdatafocus/recipe_integrity/config"
	"github.com/mmdatafocus/recipe_integrity/models"
)

// Cache holds per-store metrics for a short TTL.
type Cache interface {
	Get(ctx context.Context, storeId int) (*models.HealthMetrics, bool)
	Set(ctx context.Context, m models.HealthMetrics, ttl time.Duration)
	Delete(ctx context.Context, storeId int)
}

func cacheKey(storeId int) string {
	return fmt.Sprintf("IntegrityHealth:%d", storeId)
}

type cacheEntry struct {
	metrics   models.HealthMetrics
	expiresAt time.Time
}

type MemoryCache struct {
	mu      sync.Mutex
	entries map[int]cacheEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[int]cacheEntry), now: time.Now}
}

func (c *MemoryCache) Get(ctx context.Context, storeId int) (*models.HealthMetrics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[storeId]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, storeId)
		return nil, false
	}
	m := e.metrics
	return &m, true
}

func (c *MemoryCache) Set(ctx context.Context, m models.HealthMetrics, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[m.StoreId] = cacheEntry{metrics: m, expiresAt: c.now().Add(ttl)}
}

func (c *MemoryCache) Delete(ctx context.Context, storeId int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, storeId)
}

// RedisCache shares metrics between service instances. Redis errors read as misses.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, storeId int) (*models.HealthMetrics, bool) {
	var m models.HealthMetrics
	ok, err := config.GetRedisObject(ctx, c.rdb, cacheKey(storeId), &m)
	if err != nil || !ok {
		return nil, false
	}
	return &m, true
}

func (c *RedisCache) Set(ctx context.Context, m models.HealthMetrics, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	_ = config.SetRedisObject(ctx, c.rdb, cacheKey(m.StoreId), m, ttl)
}

func (c *RedisCache) Delete(ctx context.Context, storeId int) {
	_ = config.RemoveRedisKey(ctx, c.rdb, cacheKey(storeId))
}
