package dedup

import (
	"context"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RedisDeduper implements Deduper on Redis SET NX with a TTL.
type RedisDeduper struct {
	client *backend.Client
	prefix string
}

// NewRedisDeduper creates a deduper with the given key prefix.
func NewRedisDeduper(client *backend.Client, prefix string) *RedisDeduper {
	return &RedisDeduper{
		client: client,
		prefix: prefix,
	}
}

// MarkOnce records the key and reports whether this caller was first.
func (d *RedisDeduper) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	first, err := d.client.SetNX(ctx, d.prefix+"dedup:"+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis error marking dedup key: %w", err)
	}

	return first, nil
}
