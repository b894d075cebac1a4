package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"todo-api/domain"
)

// Cache wraps a Remote with a Redis-backed read-through cache for todo lists.
// Every mutation evicts the user's cached list.
type Cache struct {
	base  Remote
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Remote using the provided Redis client and TTL.
func NewCache(base Remote, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchTodos(ctx context.Context, userID string) ([]domain.Task, error) {
	if tasks, ok := c.load(ctx, userID); ok {
		return tasks, nil
	}

	tasks, err := c.base.FetchTodos(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, userID, tasks)
	return tasks, nil
}

func (c *Cache) InsertTodo(ctx context.Context, userID, text string) (domain.Task, error) {
	t, err := c.base.InsertTodo(ctx, userID, text)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, userID)
	return t, nil
}

func (c *Cache) UpdateTodo(ctx context.Context, userID, id string, patch domain.TaskPatch) error {
	if err := c.base.UpdateTodo(ctx, userID, id, patch); err != nil {
		return err
	}
	c.evict(ctx, userID)
	return nil
}

func (c *Cache) DeleteTodo(ctx context.Context, userID, id string) error {
	if err := c.base.DeleteTodo(ctx, userID, id); err != nil {
		return err
	}
	c.evict(ctx, userID)
	return nil
}

func (c *Cache) DeleteCompletedTodos(ctx context.Context, userID string) (int, error) {
	n, err := c.base.DeleteCompletedTodos(ctx, userID)
	// a partial batch failure may still have removed rows
	c.evict(ctx, userID)
	return n, err
}

func (c *Cache) load(ctx context.Context, userID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, todosCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, todosCacheKey(userID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, todosCacheKey(userID)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) store(ctx context.Context, userID string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, todosCacheKey(userID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, todosCacheKey(userID)).Result()
}

func todosCacheKey(userID string) string {
	return "todos:" + userID
}
