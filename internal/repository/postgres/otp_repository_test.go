package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"otp-service/internal/model"
)

func newTestRepo(t *testing.T) *OtpRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.OtpRecord{}))
	return NewOtpRepository(db)
}

func seedRecord(t *testing.T, repo *OtpRepository, mutate func(*model.OtpRecord)) *model.OtpRecord {
	t.Helper()
	record := &model.OtpRecord{
		Identifier:    "user@example.com",
		ApplicationID: "webapp",
		Channel:       model.ChannelEmail,
		HashedCode:    "$2a$04$digest",
		ExpiresAt:     time.Now().Add(10 * time.Minute),
	}
	if mutate != nil {
		mutate(record)
	}
	require.NoError(t, repo.Create(context.Background(), record))
	return record
}

func TestCreateAssignsID(t *testing.T) {
	repo := newTestRepo(t)
	record := seedRecord(t, repo, nil)
	assert.NotEmpty(t, record.ID)

	found, err := repo.FindByID(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", found.Identifier)
}

func TestFindByIDNotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.FindByID(context.Background(), "missing-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindActive(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("excludes verified and expired rows", func(t *testing.T) {
		seedRecord(t, repo, func(r *model.OtpRecord) { r.Verified = true })
		seedRecord(t, repo, func(r *model.OtpRecord) { r.ExpiresAt = time.Now().Add(-time.Minute) })

		_, err := repo.FindActive(ctx, "user@example.com", "webapp")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("prefers the newest row", func(t *testing.T) {
		older := seedRecord(t, repo, func(r *model.OtpRecord) {
			r.CreatedAt = time.Now().Add(-time.Hour)
		})
		newer := seedRecord(t, repo, nil)

		found, err := repo.FindActive(ctx, "user@example.com", "webapp")
		require.NoError(t, err)
		assert.Equal(t, newer.ID, found.ID)
		assert.NotEqual(t, older.ID, found.ID)
	})

	t.Run("scoped by application", func(t *testing.T) {
		_, err := repo.FindActive(ctx, "user@example.com", "mobile")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFindLatest(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.FindLatest(ctx, "user@example.com", "webapp")
	assert.ErrorIs(t, err, ErrNotFound)

	seedRecord(t, repo, func(r *model.OtpRecord) {
		r.Verified = true
		r.CreatedAt = time.Now().Add(-time.Hour)
	})
	newest := seedRecord(t, repo, func(r *model.OtpRecord) { r.Verified = true })

	found, err := repo.FindLatest(ctx, "user@example.com", "webapp")
	require.NoError(t, err)
	assert.Equal(t, newest.ID, found.ID)
}

func TestSaveUpdatesRow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	record := seedRecord(t, repo, nil)
	record.Attempts = 2
	record.Verified = true
	require.NoError(t, repo.Save(ctx, record))

	found, err := repo.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, found.Attempts)
	assert.True(t, found.Verified)
}

func TestFindExpiredIncludesVerified(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seedRecord(t, repo, func(r *model.OtpRecord) { r.ExpiresAt = time.Now().Add(-time.Hour) })
	seedRecord(t, repo, func(r *model.OtpRecord) {
		r.ExpiresAt = time.Now().Add(-time.Hour)
		r.Verified = true
	})
	seedRecord(t, repo, nil)

	expired, err := repo.FindExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Len(t, expired, 2)
}

func TestDeleteRecords(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		r := seedRecord(t, repo, nil)
		ids = append(ids, r.ID)
	}

	deleted, err := repo.DeleteRecords(ctx, ids[:2])
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	count, err := repo.CountAll(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	deleted, err = repo.DeleteRecords(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestFindInactive(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	now := time.Now()
	future := now.Add(10 * time.Minute)

	seedRecord(t, repo, func(r *model.OtpRecord) { r.ExpiresAt = now.Add(-time.Minute) })
	seedRecord(t, repo, func(r *model.OtpRecord) { r.Verified = true })
	seedRecord(t, repo, func(r *model.OtpRecord) {
		r.Blocked = true
		r.BlockedUntil = &future
	})
	active := seedRecord(t, repo, nil)

	inactive, err := repo.FindInactive(ctx, now)
	require.NoError(t, err)
	require.Len(t, inactive, 3)
	for _, r := range inactive {
		assert.NotEqual(t, active.ID, r.ID)
	}
}

func TestCounts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	seedRecord(t, repo, nil)                                                           // active
	seedRecord(t, repo, func(r *model.OtpRecord) { r.Verified = true })                // verified
	seedRecord(t, repo, func(r *model.OtpRecord) { r.ExpiresAt = now.Add(-time.Hour) }) // expired
	future := now.Add(time.Hour)
	seedRecord(t, repo, func(r *model.OtpRecord) {
		r.Blocked = true
		r.BlockedUntil = &future
	}) // blocked, still active window
	seedRecord(t, repo, func(r *model.OtpRecord) { r.ApplicationID = "mobile" })

	total, err := repo.CountAll(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	total, err = repo.CountAll(ctx, "webapp")
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)

	active, err := repo.CountActive(ctx, "webapp", now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), active)

	verified, err := repo.CountVerified(ctx, "webapp")
	require.NoError(t, err)
	assert.Equal(t, int64(1), verified)

	blocked, err := repo.CountBlocked(ctx, "webapp")
	require.NoError(t, err)
	assert.Equal(t, int64(1), blocked)

	expired, err := repo.CountExpired(ctx, "webapp", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)
}
