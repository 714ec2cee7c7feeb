package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-service/internal/service"
)

func TestSweepRemovesInactiveEntries(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig())
	ctx := context.Background()

	// One live identifier, one whose row will be expired manually.
	_, err := env.svc.Generate(ctx, generateReq())
	require.NoError(t, err)

	staleReq := generateReq()
	staleReq.Identifier = "stale@example.com"
	_, err = env.svc.Generate(ctx, staleReq)
	require.NoError(t, err)

	record, err := env.repo.FindActive(ctx, "stale@example.com", "webapp")
	require.NoError(t, err)
	record.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, env.repo.Save(ctx, record))

	env.cron.Sweep(ctx)

	assert.True(t, env.redis.Exists(env.otpCache.Key("webapp", "user@example.com")))
	assert.False(t, env.redis.Exists(env.otpCache.Key("webapp", "stale@example.com")))
}

func TestSweepPurgesOrphanCounters(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig())
	ctx := context.Background()

	orphanKey := env.rateCache.Key("webapp", "orphan@example.com")
	require.NoError(t, env.redis.Set(orphanKey, "9"))

	env.cron.Sweep(ctx)
	assert.False(t, env.redis.Exists(orphanKey))
}

func TestFlushDropsEverything(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig())
	ctx := context.Background()

	_, err := env.svc.Generate(ctx, generateReq())
	require.NoError(t, err)

	env.cron.Flush(ctx)

	keys := env.redis.Keys()
	assert.Empty(t, keys)

	// Durable state survives a flush.
	count, err := env.repo.CountAll(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSyncFromDatabase(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig())
	ctx := context.Background()

	_, err := env.svc.Generate(ctx, generateReq())
	require.NoError(t, err)
	other := generateReq()
	other.Identifier = "second@example.com"
	_, err = env.svc.Generate(ctx, other)
	require.NoError(t, err)

	env.redis.FlushAll()

	synced, err := env.cron.SyncFromDatabase(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, synced)
	assert.True(t, env.redis.Exists(env.otpCache.Key("webapp", "user@example.com")))
	assert.True(t, env.redis.Exists(env.otpCache.Key("webapp", "second@example.com")))

	// Verified rows are not resynced.
	code := env.sender.last()
	result, err := env.svc.Verify(ctx, service.VerifyRequest{
		Identifier:    "second@example.com",
		ApplicationID: "webapp",
		Code:          code,
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	env.redis.FlushAll()
	synced, err = env.cron.SyncFromDatabase(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, synced)
}

func TestManualCleanup(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig())
	ctx := context.Background()

	_, err := env.svc.Generate(ctx, generateReq())
	require.NoError(t, err)

	result, err := env.cron.ManualCleanup(ctx)
	require.NoError(t, err)
	// One cache entry plus one rate limit counter.
	assert.Equal(t, int64(2), result.RedisKeysDeleted)
	assert.Equal(t, int64(1), result.DBRecordsKept)
	assert.Empty(t, env.redis.Keys())
}

func TestStatusReportsJobs(t *testing.T) {
	env := newTestEnv(t, defaultTestConfig())

	status := env.cron.Status()
	require.Len(t, status, 3)
	for _, job := range status {
		assert.Equal(t, "never", job.LastRun)
		assert.False(t, job.Running)
	}
}
