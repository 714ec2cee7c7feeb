package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"otp-service/internal/repository/postgres"
	redisrepo "otp-service/internal/repository/redis"
	"otp-service/internal/util"
)

const (
	jobSweep  = "cleanup-redis-otps"
	jobFlush  = "aggressive-redis-cleanup"
	jobReport = "daily-redis-report"

	sweepInterval  = 30 * time.Minute
	flushInterval  = 6 * time.Hour
	reportInterval = 24 * time.Hour
)

// JobStatus describes one scheduled job for the admin endpoint.
type JobStatus struct {
	Running bool   `json:"running"`
	LastRun string `json:"lastRun"`
	NextRun string `json:"nextRun"`
}

// ManualCleanupResult reports a manual Redis flush. Durable rows are
// never touched by cache maintenance.
type ManualCleanupResult struct {
	RedisKeysDeleted int64 `json:"redisKeysDeleted"`
	DBRecordsKept    int64 `json:"dbRecordsKept"`
}

type jobState struct {
	lastRun time.Time
	nextRun time.Time
}

// CronService runs the background cache maintenance loops. All three
// jobs operate on Redis only; the durable store keeps full history and
// is cleaned exclusively through the explicit cleanup operation.
type CronService struct {
	repo           *postgres.OtpRepository
	otpCache       *redisrepo.OtpCache
	rateLimitCache *redisrepo.RateLimitCache

	sweepRunning atomic.Bool

	mu     sync.Mutex
	jobs   map[string]*jobState
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewCronService(
	repo *postgres.OtpRepository,
	otpCache *redisrepo.OtpCache,
	rateLimitCache *redisrepo.RateLimitCache,
) *CronService {
	return &CronService{
		repo:           repo,
		otpCache:       otpCache,
		rateLimitCache: rateLimitCache,
		jobs: map[string]*jobState{
			jobSweep:  {},
			jobFlush:  {},
			jobReport: {},
		},
		stopCh: make(chan struct{}),
	}
}

// Start launches the maintenance loops. Call Stop to shut them down.
func (c *CronService) Start() {
	c.launch(jobSweep, sweepInterval, func(ctx context.Context) { c.Sweep(ctx) })
	c.launch(jobFlush, flushInterval, func(ctx context.Context) { c.Flush(ctx) })
	c.launch(jobReport, reportInterval, func(ctx context.Context) { c.Report(ctx) })
	util.Info("cache maintenance jobs started")
}

func (c *CronService) launch(name string, interval time.Duration, run func(context.Context)) {
	c.mu.Lock()
	c.jobs[name].nextRun = time.Now().Add(interval)
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.markRun(name, interval)
				run(context.Background())
			case <-c.stopCh:
				return
			}
		}
	}()
}

func (c *CronService) markRun(name string, interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.jobs[name].lastRun = now
	c.jobs[name].nextRun = now.Add(interval)
}

// Stop halts the loops and waits for any in-flight run to finish.
func (c *CronService) Stop() {
	close(c.stopCh)
	c.wg.Wait()
	util.Info("cache maintenance jobs stopped")
}

// Sweep drops cache entries whose durable rows are no longer active and
// purges rate limit counters that lost their expiry. Overlapping sweeps
// are skipped rather than queued.
func (c *CronService) Sweep(ctx context.Context) {
	if !c.sweepRunning.CompareAndSwap(false, true) {
		util.Warn("cache sweep already running, skipping")
		return
	}
	defer c.sweepRunning.Store(false)

	start := time.Now()
	util.Info("starting cache sweep")

	inactive, err := c.repo.FindInactive(ctx, start)
	if err != nil {
		util.Error("cache sweep failed", zap.Error(err))
		return
	}

	var deletedKeys int64
	for _, record := range inactive {
		if err := c.otpCache.Delete(ctx, record.ApplicationID, record.Identifier); err != nil {
			util.Warn("failed to delete cache entry",
				zap.String("application_id", record.ApplicationID),
				zap.String("identifier", util.MaskIdentifier(record.Identifier)),
				zap.Error(err))
			continue
		}
		deletedKeys++
	}

	purged, err := c.rateLimitCache.PurgeOrphans(ctx)
	if err != nil {
		util.Warn("rate limit orphan purge failed", zap.Error(err))
	}

	util.Info("cache sweep completed",
		zap.Int64("cache_keys_deleted", deletedKeys),
		zap.Int64("rate_limit_keys_purged", purged),
		zap.Int("db_records_kept", len(inactive)),
		zap.Duration("duration", time.Since(start)))
}

// Flush drops every OTP cache entry and rate limit counter. Active
// entries are rebuilt lazily from the durable store on the next verify.
func (c *CronService) Flush(ctx context.Context) {
	util.Info("starting aggressive cache flush")

	otpDeleted, err := c.otpCache.DeleteAll(ctx)
	if err != nil {
		util.Error("otp cache flush failed", zap.Error(err))
	}
	rateDeleted, err := c.rateLimitCache.DeleteAll(ctx)
	if err != nil {
		util.Error("rate limit flush failed", zap.Error(err))
	}

	util.Info("aggressive cache flush completed",
		zap.Int64("otp_keys_deleted", otpDeleted),
		zap.Int64("rate_limit_keys_deleted", rateDeleted))
}

// Report logs a daily comparison of Redis occupancy against database
// state, including how much of the active set is actually cached.
func (c *CronService) Report(ctx context.Context) {
	otpKeys, err := c.otpCache.Keys(ctx)
	if err != nil {
		util.Error("usage report failed", zap.Error(err))
		return
	}
	rateLimitKeys, err := c.rateLimitCache.Keys(ctx)
	if err != nil {
		util.Error("usage report failed", zap.Error(err))
		return
	}

	now := time.Now()
	var total, active, expired, verified int64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		total, err = c.repo.CountAll(gctx, "")
		return err
	})
	g.Go(func() error {
		var err error
		active, err = c.repo.CountActive(gctx, "", now)
		return err
	})
	g.Go(func() error {
		var err error
		expired, err = c.repo.CountExpired(gctx, "", now)
		return err
	})
	g.Go(func() error {
		var err error
		verified, err = c.repo.CountVerified(gctx, "")
		return err
	})
	if err := g.Wait(); err != nil {
		util.Error("usage report failed", zap.Error(err))
		return
	}

	cacheEfficiency := "N/A"
	if active > 0 {
		cacheEfficiency = fmt.Sprintf("%.2f%%", float64(len(otpKeys))/float64(active)*100)
	}

	util.Info("daily usage report",
		zap.Int("redis_otp_keys", len(otpKeys)),
		zap.Int("redis_rate_limit_keys", len(rateLimitKeys)),
		zap.Int64("db_total", total),
		zap.Int64("db_active", active),
		zap.Int64("db_expired", expired),
		zap.Int64("db_verified", verified),
		zap.String("cache_efficiency", cacheEfficiency))
}

// SyncFromDatabase rebuilds the cache from every active durable record
// and returns how many entries were written.
func (c *CronService) SyncFromDatabase(ctx context.Context) (int, error) {
	util.Info("syncing cache from database")

	active, err := c.repo.FindActiveAll(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	synced := 0
	for i := range active {
		record := &active[i]
		if time.Until(record.ExpiresAt) <= 0 {
			continue
		}
		if err := c.otpCache.Set(ctx, record); err != nil {
			util.Warn("failed to sync cache entry",
				zap.String("record_id", record.ID),
				zap.Error(err))
			continue
		}
		synced++
	}

	util.Info("cache sync completed", zap.Int("synced", synced))
	return synced, nil
}

// ManualCleanup flushes Redis on demand and reports how many durable
// rows remain untouched.
func (c *CronService) ManualCleanup(ctx context.Context) (*ManualCleanupResult, error) {
	util.Info("manual cache cleanup triggered")

	otpDeleted, err := c.otpCache.DeleteAll(ctx)
	if err != nil {
		return nil, err
	}
	rateDeleted, err := c.rateLimitCache.DeleteAll(ctx)
	if err != nil {
		return nil, err
	}

	kept, err := c.repo.CountAll(ctx, "")
	if err != nil {
		return nil, err
	}

	util.Info("manual cache cleanup completed",
		zap.Int64("redis_keys_deleted", otpDeleted+rateDeleted),
		zap.Int64("db_records_kept", kept))

	return &ManualCleanupResult{
		RedisKeysDeleted: otpDeleted + rateDeleted,
		DBRecordsKept:    kept,
	}, nil
}

// Status reports each job's state for the admin endpoint.
func (c *CronService) Status() map[string]JobStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := make(map[string]JobStatus, len(c.jobs))
	for name, state := range c.jobs {
		s := JobStatus{LastRun: "never", NextRun: "unknown"}
		if !state.lastRun.IsZero() {
			s.LastRun = state.lastRun.Format(time.RFC3339)
		}
		if !state.nextRun.IsZero() {
			s.NextRun = state.nextRun.Format(time.RFC3339)
		}
		if name == jobSweep {
			s.Running = c.sweepRunning.Load()
		}
		status[name] = s
	}
	return status
}
