package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"otp-service/internal/client"
	"otp-service/internal/util"
)

const rateLimitKeyPrefix = "rate_limit:"

// RateLimitCache tracks per-(application, identifier) generation counts
// in fixed windows. The first Record in a window creates the counter with
// the window TTL; later Records increment it without touching the TTL, so
// the window ends at a fixed time regardless of traffic.
//
// Check and Record are deliberately separate calls. Two concurrent
// requests can both pass Check before either Records, letting the counter
// briefly exceed the cap. That overshoot is bounded by in-flight
// concurrency and accepted.
type RateLimitCache struct {
	redisClient *client.RedisClient
}

func NewRateLimitCache(redisClient *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{redisClient: redisClient}
}

func (c *RateLimitCache) Key(applicationID, identifier string) string {
	return fmt.Sprintf("%s%s:%s", rateLimitKeyPrefix, applicationID, identifier)
}

// Count returns the number of generations recorded in the current window.
// A missing key means zero.
func (c *RateLimitCache) Count(ctx context.Context, applicationID, identifier string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	val, err := c.redisClient.Get(ctx, c.Key(applicationID, identifier))
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read rate limit counter: %w", err)
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("corrupt rate limit counter: %w", err)
	}
	return count, nil
}

// TTL returns the time until the current window resets. ErrCacheMiss when
// no window is open.
func (c *RateLimitCache) TTL(ctx context.Context, applicationID, identifier string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	ttl, err := c.redisClient.TTL(ctx, c.Key(applicationID, identifier))
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return 0, ErrCacheMiss
		}
		return 0, fmt.Errorf("failed to read rate limit ttl: %w", err)
	}
	return ttl, nil
}

// Record counts one generation against the current window. A fresh window
// is opened with the full TTL; an existing one is incremented as-is.
func (c *RateLimitCache) Record(ctx context.Context, applicationID, identifier string, window time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	key := c.Key(applicationID, identifier)
	exists, err := c.redisClient.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to check rate limit counter: %w", err)
	}

	if !exists {
		if err := c.redisClient.Set(ctx, key, 1, window); err != nil {
			return fmt.Errorf("failed to open rate limit window: %w", err)
		}
		return nil
	}

	if _, err := c.redisClient.Incr(ctx, key); err != nil {
		return fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	return nil
}

// Keys lists every rate limit key currently in Redis.
func (c *RateLimitCache) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	keys, err := c.redisClient.ScanKeys(ctx, rateLimitKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to scan rate limit keys: %w", err)
	}
	return keys, nil
}

// DeleteAll removes every rate limit counter and returns how many were
// removed.
func (c *RateLimitCache) DeleteAll(ctx context.Context) (int64, error) {
	keys, err := c.Keys(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	deleted, err := c.redisClient.Del(ctx, keys...)
	if err != nil {
		return 0, fmt.Errorf("failed to flush rate limit counters: %w", err)
	}
	return deleted, nil
}

// PurgeOrphans deletes counters that lost their expiry and would
// otherwise never reset. Returns how many were removed.
func (c *RateLimitCache) PurgeOrphans(ctx context.Context) (int64, error) {
	keys, err := c.Keys(ctx)
	if err != nil {
		return 0, err
	}

	var purged int64
	for _, key := range keys {
		opCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
		ttl, err := c.redisClient.TTL(opCtx, key)
		if err != nil && !errors.Is(err, client.ErrKeyNotFound) {
			cancel()
			util.Warn("failed to inspect rate limit key",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		if err == nil && ttl == -1 {
			if _, delErr := c.redisClient.Del(opCtx, key); delErr == nil {
				purged++
			}
		}
		cancel()
	}
	return purged, nil
}
