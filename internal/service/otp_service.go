package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"otp-service/internal/config"
	"otp-service/internal/delivery"
	"otp-service/internal/hashing"
	"otp-service/internal/model"
	"otp-service/internal/repository/postgres"
	redisrepo "otp-service/internal/repository/redis"
	"otp-service/internal/util"
)

// GenerateRequest carries a generation (or resend) request. Identifier
// and ApplicationID are expected normalized by the caller.
type GenerateRequest struct {
	Identifier      string
	ApplicationID   string
	ApplicationName string
	Channel         model.Channel
	RequestIP       string
}

// GenerateResult is the outcome of a generation request. Success false
// with a populated ResendAllowedAt means the cooldown is still running;
// that is a business outcome, not an error.
type GenerateResult struct {
	Success         bool       `json:"success"`
	Message         string     `json:"message"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	ResendAllowedAt *time.Time `json:"resendAllowedAt,omitempty"`
}

type VerifyRequest struct {
	Identifier    string
	ApplicationID string
	Code          string
	RequestIP     string
}

type VerifyResult struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	Token             string `json:"token,omitempty"`
	RemainingAttempts *int   `json:"remainingAttempts,omitempty"`
}

type CleanupResult struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	CleanedCount int64  `json:"cleanedCount"`
}

// Statistics aggregates record counts, optionally scoped to one tenant.
type Statistics struct {
	TotalOtps     int64  `json:"totalOtps"`
	ActiveOtps    int64  `json:"activeOtps"`
	VerifiedOtps  int64  `json:"verifiedOtps"`
	BlockedOtps   int64  `json:"blockedOtps"`
	CleanupNeeded int64  `json:"cleanupNeeded"`
	ApplicationID string `json:"applicationId,omitempty"`
}

// OtpService implements the OTP lifecycle: generation, verification,
// resend, cleanup and statistics. The durable store is authoritative;
// Redis only accelerates the hot paths and every cache failure degrades
// to a database read or write.
type OtpService struct {
	repo      *postgres.OtpRepository
	cache     *redisrepo.OtpCache
	limiter   *RateLimiter
	hasher    *hashing.Hasher
	sender    delivery.Sender
	otpConfig config.OTPConfig
}

func NewOtpService(
	repo *postgres.OtpRepository,
	cache *redisrepo.OtpCache,
	limiter *RateLimiter,
	hasher *hashing.Hasher,
	sender delivery.Sender,
	otpConfig config.OTPConfig,
) *OtpService {
	return &OtpService{
		repo:      repo,
		cache:     cache,
		limiter:   limiter,
		hasher:    hasher,
		sender:    sender,
		otpConfig: otpConfig,
	}
}

// Generate issues a new code for (identifier, applicationID). When an
// active record already exists this becomes a resend of that record:
// same row, fresh code and expiry, counters per the resend policy.
func (s *OtpService) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if req.Identifier == "" {
		return nil, fmt.Errorf("identifier is required")
	}
	if !req.Channel.Valid() {
		return nil, fmt.Errorf("unsupported channel %q", req.Channel)
	}
	if err := s.validateApplication(req.ApplicationID); err != nil {
		return nil, err
	}
	if err := s.limiter.Check(ctx, req.ApplicationID, req.Identifier); err != nil {
		return nil, err
	}

	now := time.Now()

	existing, err := s.repo.FindActive(ctx, req.Identifier, req.ApplicationID)
	if err != nil && !errors.Is(err, postgres.ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		if existing.IsBlockedAt(now) {
			util.Warn("generation on blocked record",
				zap.String("application_id", req.ApplicationID),
				zap.String("identifier", util.MaskIdentifier(req.Identifier)))
			return nil, &OtpBlockedError{BlockedUntil: *existing.BlockedUntil}
		}

		if existing.LastResendAt != nil {
			cooldownEnds := existing.LastResendAt.Add(s.otpConfig.ResendCooldown())
			if cooldownEnds.After(now) {
				secondsRemaining := int(time.Until(cooldownEnds).Seconds()) + 1
				util.Debug("resend cooldown active",
					zap.String("identifier", util.MaskIdentifier(req.Identifier)),
					zap.Int("seconds_remaining", secondsRemaining))
				return &GenerateResult{
					Success:         false,
					Message:         fmt.Sprintf("Please wait %d seconds before requesting another OTP", secondsRemaining),
					ResendAllowedAt: &cooldownEnds,
				}, nil
			}
		}

		if existing.ResendCount >= s.otpConfig.MaxResendCount {
			if err := s.block(ctx, existing, "max resend attempts exceeded"); err != nil {
				return nil, err
			}
			return nil, &MaxResendError{BlockedUntil: *existing.BlockedUntil}
		}
	}

	code, err := hashing.GenerateCode(s.otpConfig.CodeLength)
	if err != nil {
		return nil, err
	}
	hashed, err := s.hasher.Hash(code)
	if err != nil {
		return nil, err
	}

	expiresAt := now.Add(s.otpConfig.Expiry())
	resent := existing != nil

	var record *model.OtpRecord
	if resent {
		existing.HashedCode = hashed
		existing.ExpiresAt = expiresAt
		existing.ResendCount++
		existing.LastResendAt = &now
		existing.Attempts = 0
		existing.Blocked = false
		existing.BlockedUntil = nil
		if req.RequestIP != "" {
			existing.RequestIP = req.RequestIP
		}
		if err := s.repo.Save(ctx, existing); err != nil {
			return nil, err
		}
		record = existing
		util.Info("otp resent",
			zap.String("application_id", req.ApplicationID),
			zap.String("identifier", util.MaskIdentifier(req.Identifier)),
			zap.Int("resend_count", record.ResendCount))
	} else {
		record = &model.OtpRecord{
			Identifier:      req.Identifier,
			ApplicationID:   req.ApplicationID,
			ApplicationName: req.ApplicationName,
			Channel:         req.Channel,
			HashedCode:      hashed,
			ExpiresAt:       expiresAt,
			LastResendAt:    &now,
			RequestIP:       req.RequestIP,
		}
		if err := s.repo.Create(ctx, record); err != nil {
			return nil, err
		}
		util.Info("otp generated",
			zap.String("application_id", req.ApplicationID),
			zap.String("identifier", util.MaskIdentifier(req.Identifier)),
			zap.String("record_id", record.ID))
	}

	s.cacheSet(ctx, record)
	s.limiter.Record(ctx, req.ApplicationID, req.Identifier)

	if err := s.sender.Send(ctx, req.Identifier, req.Channel, code); err != nil {
		util.Error("otp delivery failed",
			zap.String("application_id", req.ApplicationID),
			zap.String("identifier", util.MaskIdentifier(req.Identifier)),
			zap.Error(err))
	}

	message := "OTP generated successfully"
	if resent {
		message = "OTP resent successfully"
	}
	nextResendAt := now.Add(s.otpConfig.ResendCooldown())
	return &GenerateResult{
		Success:         true,
		Message:         message,
		ExpiresAt:       &expiresAt,
		ResendAllowedAt: &nextResendAt,
	}, nil
}

// Resend re-issues the current code cycle. Policy is identical to
// Generate on an existing record; with no active record it simply starts
// a new cycle.
func (s *OtpService) Resend(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	util.Debug("resend requested",
		zap.String("application_id", req.ApplicationID),
		zap.String("identifier", util.MaskIdentifier(req.Identifier)))
	return s.Generate(ctx, req)
}

// Verify checks a submitted code against the active record. The cache is
// consulted first for the record ID; the durable row is always re-read
// before any decision.
func (s *OtpService) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	now := time.Now()

	record := s.lookupViaCache(ctx, req.ApplicationID, req.Identifier)
	if record == nil {
		var err error
		record, err = s.repo.FindActive(ctx, req.Identifier, req.ApplicationID)
		if errors.Is(err, postgres.ErrNotFound) {
			// No active record. The latest row, if any, tells a replayed
			// or expired code apart from one that never existed.
			record, err = s.repo.FindLatest(ctx, req.Identifier, req.ApplicationID)
		}
		if err != nil {
			if errors.Is(err, postgres.ErrNotFound) {
				util.Warn("verify with no record",
					zap.String("application_id", req.ApplicationID),
					zap.String("identifier", util.MaskIdentifier(req.Identifier)))
				return &VerifyResult{Success: false, Message: "Invalid or expired OTP"}, nil
			}
			return nil, err
		}
	}

	if record.IsExpired(now) {
		s.cleanupRecord(ctx, record)
		return &VerifyResult{Success: false, Message: "OTP has expired. Please request a new one."}, nil
	}

	if record.IsBlockedAt(now) {
		util.Warn("verify on blocked record",
			zap.String("application_id", req.ApplicationID),
			zap.String("identifier", util.MaskIdentifier(req.Identifier)))
		return &VerifyResult{
			Success: false,
			Message: fmt.Sprintf("Account temporarily blocked until %s", record.BlockedUntil.Format(time.RFC3339)),
		}, nil
	}

	if record.Verified {
		util.Warn("replay of verified otp",
			zap.String("application_id", req.ApplicationID),
			zap.String("identifier", util.MaskIdentifier(req.Identifier)))
		return &VerifyResult{Success: false, Message: "This OTP has already been used"}, nil
	}

	valid := s.hasher.Verify(req.Code, record.HashedCode)

	record.Attempts++
	record.LastAttemptAt = &now
	if req.RequestIP != "" {
		record.RequestIP = req.RequestIP
	}

	if valid {
		record.Verified = true
		if err := s.repo.Save(ctx, record); err != nil {
			return nil, err
		}
		s.cacheDelete(ctx, req.ApplicationID, req.Identifier)

		token, err := IssueSessionToken(req.Identifier, req.ApplicationID)
		if err != nil {
			return nil, err
		}

		util.Info("otp verified",
			zap.String("application_id", req.ApplicationID),
			zap.String("identifier", util.MaskIdentifier(req.Identifier)))
		return &VerifyResult{
			Success: true,
			Message: "OTP verified successfully",
			Token:   token,
		}, nil
	}

	remaining := s.otpConfig.MaxAttempts - record.Attempts
	if remaining <= 0 {
		if err := s.block(ctx, record, "max verification attempts exceeded"); err != nil {
			return nil, err
		}
		zero := 0
		return &VerifyResult{
			Success:           false,
			Message:           fmt.Sprintf("Too many failed attempts. Account blocked for %d minutes.", s.otpConfig.BlockDurationMinutes),
			RemainingAttempts: &zero,
		}, nil
	}

	if err := s.repo.Save(ctx, record); err != nil {
		return nil, err
	}
	s.cacheRefresh(ctx, record)

	util.Warn("invalid otp submitted",
		zap.String("application_id", req.ApplicationID),
		zap.String("identifier", util.MaskIdentifier(req.Identifier)),
		zap.Int("remaining_attempts", remaining))

	plural := ""
	if remaining > 1 {
		plural = "s"
	}
	return &VerifyResult{
		Success:           false,
		Message:           fmt.Sprintf("Invalid OTP. %d attempt%s remaining.", remaining, plural),
		RemainingAttempts: &remaining,
	}, nil
}

// CleanupExpired removes every row past its expiry along with its cache
// entry.
func (s *OtpService) CleanupExpired(ctx context.Context) (*CleanupResult, error) {
	expired, err := s.repo.FindExpired(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return &CleanupResult{Success: true, Message: "No expired OTPs found"}, nil
	}

	ids := make([]string, len(expired))
	for i, record := range expired {
		ids[i] = record.ID
	}
	deleted, err := s.repo.DeleteRecords(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, record := range expired {
		s.cacheDelete(ctx, record.ApplicationID, record.Identifier)
	}

	util.Info("expired otps cleaned up", zap.Int64("count", deleted))

	plural := ""
	if deleted != 1 {
		plural = "s"
	}
	return &CleanupResult{
		Success:      true,
		Message:      fmt.Sprintf("Successfully cleaned up %d expired OTP%s", deleted, plural),
		CleanedCount: deleted,
	}, nil
}

// GetStatistics aggregates record counts, across all tenants when
// applicationID is empty.
func (s *OtpService) GetStatistics(ctx context.Context, applicationID string) (*Statistics, error) {
	now := time.Now()
	stats := &Statistics{ApplicationID: applicationID}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats.TotalOtps, err = s.repo.CountAll(gctx, applicationID)
		return err
	})
	g.Go(func() error {
		var err error
		stats.ActiveOtps, err = s.repo.CountActive(gctx, applicationID, now)
		return err
	})
	g.Go(func() error {
		var err error
		stats.VerifiedOtps, err = s.repo.CountVerified(gctx, applicationID)
		return err
	})
	g.Go(func() error {
		var err error
		stats.BlockedOtps, err = s.repo.CountBlocked(gctx, applicationID)
		return err
	})
	g.Go(func() error {
		var err error
		stats.CleanupNeeded, err = s.repo.CountExpired(gctx, applicationID, now)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to gather statistics: %w", err)
	}
	return stats, nil
}

// ===================== INTERNAL =====================

func (s *OtpService) validateApplication(applicationID string) error {
	allowed := s.otpConfig.AllowedApplications
	if len(allowed) == 0 {
		return nil
	}
	for _, app := range allowed {
		if app == applicationID {
			return nil
		}
	}
	util.Warn("rejected application id", zap.String("application_id", applicationID))
	return ErrInvalidApplication
}

// block marks a record blocked for the configured duration. The cache
// projection is refreshed so the hot path sees the lockout too.
func (s *OtpService) block(ctx context.Context, record *model.OtpRecord, reason string) error {
	until := time.Now().Add(s.otpConfig.BlockDuration())
	record.Blocked = true
	record.BlockedUntil = &until
	if err := s.repo.Save(ctx, record); err != nil {
		return err
	}
	s.cacheRefresh(ctx, record)

	util.Warn("otp record blocked",
		zap.String("application_id", record.ApplicationID),
		zap.String("identifier", util.MaskIdentifier(record.Identifier)),
		zap.String("reason", reason),
		zap.Time("blocked_until", until))
	return nil
}

// lookupViaCache resolves the durable record through the cached record
// ID. Any failure returns nil and the caller falls back to a database
// lookup.
func (s *OtpService) lookupViaCache(ctx context.Context, applicationID, identifier string) *model.OtpRecord {
	entry, err := s.cache.Get(ctx, applicationID, identifier)
	if err != nil {
		if !errors.Is(err, redisrepo.ErrCacheMiss) {
			util.Warn("otp cache read failed",
				zap.String("application_id", applicationID),
				zap.String("identifier", util.MaskIdentifier(identifier)),
				zap.Error(err))
		}
		return nil
	}

	record, err := s.repo.FindByID(ctx, entry.ID)
	if err != nil {
		if !errors.Is(err, postgres.ErrNotFound) {
			util.Warn("cached record lookup failed", zap.Error(err))
		}
		return nil
	}
	return record
}

// cleanupRecord drops an expired record from both stores.
func (s *OtpService) cleanupRecord(ctx context.Context, record *model.OtpRecord) {
	s.cacheDelete(ctx, record.ApplicationID, record.Identifier)
	if err := s.repo.Delete(ctx, record.ID); err != nil {
		util.Warn("failed to delete expired record",
			zap.String("record_id", record.ID),
			zap.Error(err))
	}
}

func (s *OtpService) cacheSet(ctx context.Context, record *model.OtpRecord) {
	if err := s.cache.Set(ctx, record); err != nil {
		util.Warn("otp cache write failed",
			zap.String("application_id", record.ApplicationID),
			zap.String("identifier", util.MaskIdentifier(record.Identifier)),
			zap.Error(err))
	}
}

// cacheRefresh rewrites the projection only when an entry is already
// live, preserving its remaining TTL semantics.
func (s *OtpService) cacheRefresh(ctx context.Context, record *model.OtpRecord) {
	ttl, err := s.cache.TTL(ctx, record.ApplicationID, record.Identifier)
	if err != nil || ttl <= 0 {
		return
	}
	s.cacheSet(ctx, record)
}

func (s *OtpService) cacheDelete(ctx context.Context, applicationID, identifier string) {
	if err := s.cache.Delete(ctx, applicationID, identifier); err != nil {
		util.Warn("otp cache delete failed",
			zap.String("application_id", applicationID),
			zap.String("identifier", util.MaskIdentifier(identifier)),
			zap.Error(err))
	}
}
