package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-service/internal/client"
	"otp-service/internal/model"
)

func newTestCache(t *testing.T) (*OtpCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rc := client.NewRedisClientFromAddr(s.Addr())
	t.Cleanup(func() { _ = rc.Close() })
	return NewOtpCache(rc), s
}

func activeRecord(id string) *model.OtpRecord {
	return &model.OtpRecord{
		ID:            id,
		Identifier:    "user@example.com",
		ApplicationID: "webapp",
		HashedCode:    "$2a$04$digest",
		Attempts:      1,
		ExpiresAt:     time.Now().Add(5 * time.Minute),
	}
}

func TestOtpCacheSetGet(t *testing.T) {
	cache, s := newTestCache(t)
	ctx := context.Background()

	record := activeRecord("rec-1")
	require.NoError(t, cache.Set(ctx, record))

	entry, err := cache.Get(ctx, "webapp", "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "rec-1", entry.ID)
	assert.Equal(t, record.HashedCode, entry.HashedCode)
	assert.Equal(t, 1, entry.Attempts)
	assert.False(t, entry.Blocked)

	// TTL tracks the record's remaining validity.
	ttl := s.TTL(cache.Key("webapp", "user@example.com"))
	assert.Greater(t, ttl, 4*time.Minute)
	assert.LessOrEqual(t, ttl, 5*time.Minute)
}

func TestOtpCacheMiss(t *testing.T) {
	cache, _ := newTestCache(t)

	_, err := cache.Get(context.Background(), "webapp", "nobody@example.com")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestOtpCacheExpiredRecordNotStored(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	record := activeRecord("rec-old")
	record.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, cache.Set(ctx, record))

	_, err := cache.Get(ctx, "webapp", "user@example.com")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestOtpCacheEntryExpires(t *testing.T) {
	cache, s := newTestCache(t)
	ctx := context.Background()

	record := activeRecord("rec-ttl")
	record.ExpiresAt = time.Now().Add(30 * time.Second)
	require.NoError(t, cache.Set(ctx, record))

	s.FastForward(time.Minute)

	_, err := cache.Get(ctx, "webapp", "user@example.com")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestOtpCacheCorruptEntryEvicted(t *testing.T) {
	cache, s := newTestCache(t)
	ctx := context.Background()

	key := cache.Key("webapp", "user@example.com")
	require.NoError(t, s.Set(key, "{not json"))

	_, err := cache.Get(ctx, "webapp", "user@example.com")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.False(t, s.Exists(key))
}

func TestOtpCacheDelete(t *testing.T) {
	cache, s := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, activeRecord("rec-del")))
	require.NoError(t, cache.Delete(ctx, "webapp", "user@example.com"))
	assert.False(t, s.Exists(cache.Key("webapp", "user@example.com")))

	// Deleting an absent entry is not an error.
	assert.NoError(t, cache.Delete(ctx, "webapp", "user@example.com"))
}

func TestOtpCacheKeysAndDeleteAll(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	first := activeRecord("rec-a")
	second := activeRecord("rec-b")
	second.Identifier = "other@example.com"
	require.NoError(t, cache.Set(ctx, first))
	require.NoError(t, cache.Set(ctx, second))

	keys, err := cache.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	deleted, err := cache.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	keys, err = cache.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
