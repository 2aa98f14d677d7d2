// Package cache provides a typed redis cache with key prefixing.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cyberkid042/distributed-job-queue/metrics"
)

// ICache defines a general caching interface
type ICache[T any] interface {
	Get(context.Context, string) (*T, error)
	Set(context.Context, string, *T, ...time.Duration) error
	Delete(context.Context, string) error
	Exists(context.Context, string) (bool, error)
}

// Cache implements the ICache interface
type Cache[T any] struct {
	rc        *redis.Client
	key       string
	collector metrics.Collector
}

// NewCache creates a new Cache instance
func NewCache[T any](rc *redis.Client, key string) *Cache[T] {
	return &Cache[T]{
		rc:        rc,
		key:       key,
		collector: metrics.NoOpCollector{},
	}
}

// NewCacheWithMetrics creates a new Cache instance with a collector
func NewCacheWithMetrics[T any](rc *redis.Client, key string, collector metrics.Collector) *Cache[T] {
	c := NewCache[T](rc, key)
	if collector != nil {
		c.collector = collector
	}
	return c
}

// Key defines the cache key
func (c *Cache[T]) Key(field string) string {
	if c.key != "" {
		return fmt.Sprintf("%s:%s", c.key, field)
	}
	return field
}

// Get retrieves a single item from cache. A miss returns nil, nil.
func (c *Cache[T]) Get(ctx context.Context, field string) (*T, error) {
	if c.rc == nil {
		err := errors.New("redis client is nil, cannot get cache")
		c.collector.RedisCommand("get", err)
		return nil, err
	}

	result, err := c.rc.Get(ctx, c.Key(field)).Result()
	c.collector.RedisCommand("get", err)

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}

	var row T
	if err = json.Unmarshal([]byte(result), &row); err != nil {
		c.collector.RedisCommand("unmarshal", err)
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return &row, nil
}

// Set saves a single item into cache
func (c *Cache[T]) Set(ctx context.Context, field string, data *T, expire ...time.Duration) error {
	if c.rc == nil {
		err := errors.New("redis client is nil, cannot set cache")
		c.collector.RedisCommand("set", err)
		return err
	}

	bytes, err := json.Marshal(data)
	if err != nil {
		c.collector.RedisCommand("marshal", err)
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	exp := time.Duration(0)
	if len(expire) > 0 {
		exp = expire[0]
	}
	err = c.rc.Set(ctx, c.Key(field), bytes, exp).Err()
	c.collector.RedisCommand("set", err)

	if err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// Delete removes data from cache
func (c *Cache[T]) Delete(ctx context.Context, field string) error {
	if c.rc == nil {
		err := errors.New("redis client is nil, cannot delete cache")
		c.collector.RedisCommand("delete", err)
		return err
	}

	err := c.rc.Del(ctx, c.Key(field)).Err()
	c.collector.RedisCommand("del", err)

	if err != nil {
		return fmt.Errorf("failed to delete cache: %w", err)
	}
	return nil
}

// Exists checks if cache key exists
func (c *Cache[T]) Exists(ctx context.Context, field string) (bool, error) {
	if c.rc == nil {
		err := errors.New("redis client is nil, cannot check existence")
		c.collector.RedisCommand("exists", err)
		return false, err
	}

	count, err := c.rc.Exists(ctx, c.Key(field)).Result()
	c.collector.RedisCommand("exists", err)

	if err != nil {
		return false, fmt.Errorf("failed to check cache existence: %w", err)
	}

	return count > 0, nil
}
