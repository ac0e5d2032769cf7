package revalidation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/mmdatafocus/recipe_integrity/models"
)

const redisBacklogKey = "integrity:revalidation"

// Backlog is the FIFO behind the queue. Pop removes the event it returns and
// reports nil when the backlog is empty.
type Backlog interface {
	Push(ctx context.Context, ev models.ValidationEvent) error
	Pop(ctx context.Context) (*models.ValidationEvent, error)
	Len(ctx context.Context) (int, error)
}

type MemoryBacklog struct {
	mu     sync.Mutex
	events []models.ValidationEvent
}

func NewMemoryBacklog() *MemoryBacklog {
	return &MemoryBacklog{}
}

func (b *MemoryBacklog) Push(ctx context.Context, ev models.ValidationEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *MemoryBacklog) Pop(ctx context.Context) (*models.ValidationEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return nil, nil
	}
	ev := b.events[0]
	b.events[0] = models.ValidationEvent{}
	b.events = b.events[1:]
	return &ev, nil
}

func (b *MemoryBacklog) Len(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events), nil
}

// RedisBacklog shares one backlog between service instances. LPOP hands each
// event to exactly one consumer.
type RedisBacklog struct {
	rdb *redis.Client
	key string
}

func NewRedisBacklog(rdb *redis.Client) *RedisBacklog {
	return &RedisBacklog{rdb: rdb, key: redisBacklogKey}
}

func (b *RedisBacklog) Push(ctx context.Context, ev models.ValidationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.RPush(ctx, b.key, data).Err()
}

func (b *RedisBacklog) Pop(ctx context.Context) (*models.ValidationEvent, error) {
	data, err := b.rdb.LPop(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ev models.ValidationEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (b *RedisBacklog) Len(ctx context.Context) (int, error) {
	n, err := b.rdb.LLen(ctx, b.key).Result()
	return int(n), err
}
