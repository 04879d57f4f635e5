package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxUpdateRetries bounds optimistic-transaction retries in RedisCache.Update.
const maxUpdateRetries = 10

// ErrConflict is returned when Update could not commit after repeated
// concurrent modification of the watched key.
var ErrConflict = errors.New("cache: too many concurrent updates")

// MutateFunc receives the current value of a key (found=false if absent or
// expired) and returns the value to store. write=false leaves the key as is.
type MutateFunc func(current []byte, found bool) (next []byte, write bool, err error)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
	// Update reads key and conditionally replaces it in one atomic step.
	// It reports whether a write happened.
	Update(ctx context.Context, key string, ttl time.Duration, fn MutateFunc) (bool, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// Client exposes the underlying connection so the Redis queue can share it.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Update runs fn inside WATCH/MULTI/EXEC. If another client touches key
// between the read and the commit, the transaction is retried.
func (c *RedisCache) Update(ctx context.Context, key string, ttl time.Duration, fn MutateFunc) (bool, error) {
	var wrote bool
	txf := func(tx *redis.Tx) error {
		wrote = false
		cur, err := tx.Get(ctx, key).Bytes()
		found := true
		if err == redis.Nil {
			found = false
		} else if err != nil {
			return err
		}

		next, write, err := fn(cur, found)
		if err != nil || !write {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, ttl)
			return nil
		})
		if err == nil {
			wrote = true
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := c.client.Watch(ctx, txf, key)
		if err == nil {
			return wrote, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return false, err
	}
	return false, fmt.Errorf("updating %s: %w", key, ErrConflict)
}

var _ Cache = (*RedisCache)(nil)
