package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Cache is the shared redis handle for counters that do not need their own adapter.
type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
