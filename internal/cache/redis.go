package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects and pings within five seconds.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: ping redis: %w", err)
	}
	return client, nil
}

// RedisCache stores JSON values under a versioned namespace so that Purge is a
// single INCR shared by every process using the same prefix.
type RedisCache[T any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache[T any](client *redis.Client, prefix string, ttl time.Duration) *RedisCache[T] {
	return &RedisCache[T]{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache[T]) versionKey() string {
	return c.prefix + ":version"
}

func (c *RedisCache[T]) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, c.versionKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache: read version: %w", err)
	}
	return ver, nil
}

func (c *RedisCache[T]) key(ctx context.Context, key string) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return c.prefix + ":" + strconv.FormatInt(ver, 10) + ":" + key, nil
}

func (c *RedisCache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	full, err := c.key(ctx, key)
	if err != nil {
		return zero, false, err
	}
	payload, err := c.client.Get(ctx, full).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return zero, false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return out, true, nil
}

func (c *RedisCache[T]) Set(ctx context.Context, key string, data T) error {
	full, err := c.key(ctx, key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, full, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache[T]) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		fk, err := c.key(ctx, k)
		if err != nil {
			return err
		}
		full = append(full, fk)
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("cache: delete: %w", err)
	}
	return nil
}

// Purge bumps the namespace version. Old entries expire on their own TTL.
func (c *RedisCache[T]) Purge(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.versionKey()).Err(); err != nil {
		return fmt.Errorf("cache: bump version: %w", err)
	}
	return nil
}
