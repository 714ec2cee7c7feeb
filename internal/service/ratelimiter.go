package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"otp-service/internal/config"
	redisrepo "otp-service/internal/repository/redis"
	"otp-service/internal/util"
)

// RateLimiter enforces the per-(application, identifier) generation cap
// over a fixed window backed by Redis counters.
type RateLimiter struct {
	cache     *redisrepo.RateLimitCache
	otpConfig config.OTPConfig
}

func NewRateLimiter(cache *redisrepo.RateLimitCache, otpConfig config.OTPConfig) *RateLimiter {
	return &RateLimiter{cache: cache, otpConfig: otpConfig}
}

// Check returns a RateLimitError when the current window is already at
// capacity. Unlike cache reads on the verify path, a Redis failure here
// is propagated: without the counter there is no way to enforce the cap.
func (l *RateLimiter) Check(ctx context.Context, applicationID, identifier string) error {
	count, err := l.cache.Count(ctx, applicationID, identifier)
	if err != nil {
		return err
	}
	if count < l.otpConfig.RateLimitMax {
		return nil
	}

	retryAfter := l.otpConfig.RateLimitWindow()
	if ttl, err := l.cache.TTL(ctx, applicationID, identifier); err == nil && ttl > 0 {
		retryAfter = ttl
	}

	util.Warn("rate limit exceeded",
		zap.String("application_id", applicationID),
		zap.String("identifier", util.MaskIdentifier(identifier)),
		zap.Int("count", count))
	return &RateLimitError{RetryAfter: retryAfter}
}

// Record counts one successful generation against the window. Failures
// are logged and swallowed so a counter hiccup never loses an issued
// code.
func (l *RateLimiter) Record(ctx context.Context, applicationID, identifier string) {
	err := l.cache.Record(ctx, applicationID, identifier, l.otpConfig.RateLimitWindow())
	if err != nil && !errors.Is(err, context.Canceled) {
		util.Warn("failed to record rate limit event",
			zap.String("application_id", applicationID),
			zap.String("identifier", util.MaskIdentifier(identifier)),
			zap.Error(err))
	}
}
