package preference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
)

// Common errors for the fast cache tier.
var (
	// ErrCacheMiss is returned when a key has no entry. Not a failure.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheUnavailable wraps fast-cache failures. The engine degrades to
	// store-only operation; never surfaced to read callers.
	ErrCacheUnavailable = errors.New("fast cache unavailable")
)

// FastCache is a TTL key-value store for hot preference vectors.
// Entries are ephemeral and reconstructible from the durable tier.
type FastCache interface {
	// Get retrieves the blob for a key. Returns ErrCacheMiss when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetWithTTL stores a blob under a key with the given TTL.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// RedisCache implements FastCache on Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a FastCache backed by the given Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get retrieves the blob for a key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %s", ErrCacheUnavailable, key, err)
	}
	return val, nil
}

// SetWithTTL stores a blob under a key with the given TTL.
func (c *RedisCache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %s", ErrCacheUnavailable, key, err)
	}
	return nil
}

// Delete removes a key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %s", ErrCacheUnavailable, key, err)
	}
	return nil
}

// BreakerCache wraps a FastCache with a circuit breaker so a down cache
// backend fails fast instead of stalling every read on a timeout. While the
// breaker is open, every operation reports ErrCacheUnavailable and the
// engine runs store-only.
type BreakerCache struct {
	inner   FastCache
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// NewBreakerCache wraps inner with a circuit breaker.
func NewBreakerCache(inner FastCache) *BreakerCache {
	settings := gobreaker.Settings{
		Name:    "fast-cache",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// A miss is a normal outcome, not a backend failure.
			return err == nil || errors.Is(err, ErrCacheMiss)
		},
	}
	return &BreakerCache{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
	}
}

// Get retrieves the blob for a key through the breaker.
func (c *BreakerCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.breaker.Execute(func() ([]byte, error) {
		return c.inner.Get(ctx, key)
	})
	return val, c.mapErr(err)
}

// SetWithTTL stores a blob through the breaker.
func (c *BreakerCache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := c.breaker.Execute(func() ([]byte, error) {
		return nil, c.inner.SetWithTTL(ctx, key, value, ttl)
	})
	return c.mapErr(err)
}

// Delete removes a key through the breaker.
func (c *BreakerCache) Delete(ctx context.Context, key string) error {
	_, err := c.breaker.Execute(func() ([]byte, error) {
		return nil, c.inner.Delete(ctx, key)
	})
	return c.mapErr(err)
}

func (c *BreakerCache) mapErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit open", ErrCacheUnavailable)
	}
	return err
}
