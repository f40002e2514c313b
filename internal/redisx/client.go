package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Cache backs the HTTP fast-paths (intent idempotency, status polling).
// Fail-open: a Redis outage degrades to the DB path, never to an error.
type Cache struct{ Client *redis.Client }

func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if c == nil || c.Client == nil {
		return "", false
	}
	s, err := c.Client.Get(ctx, key).Result()
	if err != nil || s == "" {
		return "", false
	}
	return s, true
}

func (c *Cache) Set(ctx context.Context, key, val string, ttl time.Duration) {
	if c == nil || c.Client == nil {
		return
	}
	_ = c.Client.Set(ctx, key, val, ttl).Err()
}

// Dedup wraps the processed-event marker as the small interface the services
// consume. Failing open: a Redis outage means a redelivered event may run
// twice, and every transition is compare-and-set anyway.
type Dedup struct {
	Client  *redis.Client
	Service string
}

func (d *Dedup) Seen(ctx context.Context, eventID string) bool {
	if d == nil || d.Client == nil {
		return false
	}
	key := fmt.Sprintf(KeyDedup, d.Service, eventID)
	ok, err := d.Client.SetNX(ctx, key, "1", TTLDedup).Result()
	if err != nil {
		return false
	}
	return !ok
}
