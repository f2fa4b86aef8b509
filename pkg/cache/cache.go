// Package cache provides a Redis client wrapper used as the gateway's key-value
// store. Response cache entries, conversation logs, per-fingerprint daily counters
// and model usage counters all live here as JSON documents under string keys.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Cache wraps a Redis client with gateway-specific key-value operations.
type Cache struct {
	client *redis.Client
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewCache creates a new Redis cache client connected to the given address.
func NewCache(ctx context.Context, opts Options) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	log.WithField("addr", opts.Addr).Info("cache: connected to Redis")
	return &Cache{client: client}, nil
}

// Close gracefully shuts down the Redis client connection.
func (c *Cache) Close() error {
	if c.client != nil {
		log.Info("cache: closing Redis connection")
		return c.client.Close()
	}
	return nil
}

// Get retrieves a value from the cache by key.
// Returns an empty string and no error if the key does not exist.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("cache: get %q: %w", key, err)
	}
	return val, nil
}

// Set stores a key-value pair in the cache with the given TTL.
// A zero TTL means the key will not expire.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %q: %w", key, err)
	}
	return nil
}

// Keys returns every key starting with prefix, walking the keyspace with SCAN.
func (c *Cache) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := c.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("cache: scan %q: %w", prefix, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// incrWithExpireLua atomically increments the counter and sets TTL only on the
// first increment.
var incrWithExpireLua = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 and tonumber(ARGV[1]) > 0 then
		redis.call('EXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

// Incr atomically increments an integer counter and returns the new value.
// The TTL is applied once, when the counter is created.
func (c *Cache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ttlSeconds := int(ttl / time.Second)
	count, err := incrWithExpireLua.Run(ctx, c.client, []string{key}, ttlSeconds).Int64()
	if err != nil {
		return 0, fmt.Errorf("cache: incr %q: %w", key, err)
	}
	return count, nil
}
