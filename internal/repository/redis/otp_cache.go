package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"otp-service/internal/client"
	"otp-service/internal/model"
	"otp-service/internal/util"
)

const (
	otpKeyPrefix = "otp:"

	cacheOpTimeout = 5 * time.Second
)

// ErrCacheMiss is returned when no entry exists for the key.
var ErrCacheMiss = errors.New("otp cache miss")

// OtpCache mirrors active OTP records into Redis for the hot verify path.
// Entries carry a TTL equal to the record's remaining validity, so Redis
// forgets codes on its own as they expire. Every failure here is
// recoverable: callers fall back to the durable store.
type OtpCache struct {
	redisClient *client.RedisClient
}

func NewOtpCache(redisClient *client.RedisClient) *OtpCache {
	return &OtpCache{redisClient: redisClient}
}

// Key builds the cache key for a tenant/identifier pair.
func (c *OtpCache) Key(applicationID, identifier string) string {
	return fmt.Sprintf("%s%s:%s", otpKeyPrefix, applicationID, identifier)
}

// Set stores the projection with a TTL equal to the record's remaining
// validity. Records already at or past expiry are not cached.
func (c *OtpCache) Set(ctx context.Context, record *model.OtpRecord) error {
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	entry := model.NewCacheEntry(record)
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal otp cache entry: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	key := c.Key(record.ApplicationID, record.Identifier)
	if err := c.redisClient.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("failed to cache otp entry: %w", err)
	}

	util.Debug("otp entry cached",
		zap.String("key", key),
		zap.Duration("ttl", ttl))
	return nil
}

// Get returns the cached projection, or ErrCacheMiss when absent. A
// corrupt entry is deleted and reported as a miss so the caller re-reads
// the durable store.
func (c *OtpCache) Get(ctx context.Context, applicationID, identifier string) (*model.CacheEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	key := c.Key(applicationID, identifier)
	data, err := c.redisClient.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read otp cache: %w", err)
	}

	var entry model.CacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		util.Warn("corrupt otp cache entry, evicting",
			zap.String("key", key),
			zap.Error(err))
		_, _ = c.redisClient.Del(ctx, key)
		return nil, ErrCacheMiss
	}
	return &entry, nil
}

// Delete removes the entry for a tenant/identifier pair.
func (c *OtpCache) Delete(ctx context.Context, applicationID, identifier string) error {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	if _, err := c.redisClient.Del(ctx, c.Key(applicationID, identifier)); err != nil {
		return fmt.Errorf("failed to delete otp cache entry: %w", err)
	}
	return nil
}

// DeleteKey removes a raw cache key, as returned by Keys.
func (c *OtpCache) DeleteKey(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	if _, err := c.redisClient.Del(ctx, key); err != nil {
		return fmt.Errorf("failed to delete otp cache key: %w", err)
	}
	return nil
}

// TTL returns the remaining lifetime of an entry.
func (c *OtpCache) TTL(ctx context.Context, applicationID, identifier string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	ttl, err := c.redisClient.TTL(ctx, c.Key(applicationID, identifier))
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return 0, ErrCacheMiss
		}
		return 0, fmt.Errorf("failed to read otp cache ttl: %w", err)
	}
	return ttl, nil
}

// Keys lists every OTP cache key currently in Redis.
func (c *OtpCache) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	keys, err := c.redisClient.ScanKeys(ctx, otpKeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to scan otp cache keys: %w", err)
	}
	return keys, nil
}

// DeleteAll flushes every OTP cache entry and returns how many were
// removed.
func (c *OtpCache) DeleteAll(ctx context.Context) (int64, error) {
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
		return 0, fmt.Errorf("failed to flush otp cache: %w", err)
	}
	return deleted, nil
}
