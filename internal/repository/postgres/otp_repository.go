package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"otp-service/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("otp record not found")

const queryTimeout = 5 * time.Second

// OtpRepository is the durable store for OTP records. All reads and
// writes go through here; the Redis cache only ever holds projections
// of rows owned by this repository.
type OtpRepository struct {
	db *gorm.DB
}

func NewOtpRepository(db *gorm.DB) *OtpRepository {
	return &OtpRepository{db: db}
}

// Create persists a new record, assigning its ID.
func (r *OtpRepository) Create(ctx context.Context, record *model.OtpRecord) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to create otp record: %w", err)
	}
	return nil
}

// Save writes back every field of an existing record.
func (r *OtpRepository) Save(ctx context.Context, record *model.OtpRecord) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if err := r.db.WithContext(ctx).Save(record).Error; err != nil {
		return fmt.Errorf("failed to save otp record: %w", err)
	}
	return nil
}

func (r *OtpRepository) FindByID(ctx context.Context, id string) (*model.OtpRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var record model.OtpRecord
	err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find otp record by id: %w", err)
	}
	return &record, nil
}

// FindActive returns the current active record for (identifier,
// applicationID): unverified and unexpired, newest first in case stale
// rows linger before a sweep.
func (r *OtpRepository) FindActive(ctx context.Context, identifier, applicationID string) (*model.OtpRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var record model.OtpRecord
	err := r.db.WithContext(ctx).
		Where("identifier = ? AND application_id = ? AND verified = ? AND expires_at > ?",
			identifier, applicationID, false, time.Now()).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find active otp record: %w", err)
	}
	return &record, nil
}

// FindLatest returns the most recent record for (identifier,
// applicationID) regardless of state. Verify uses it to tell a replayed
// code apart from one that never existed.
func (r *OtpRepository) FindLatest(ctx context.Context, identifier, applicationID string) (*model.OtpRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var record model.OtpRecord
	err := r.db.WithContext(ctx).
		Where("identifier = ? AND application_id = ?", identifier, applicationID).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find latest otp record: %w", err)
	}
	return &record, nil
}

func (r *OtpRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if err := r.db.WithContext(ctx).Delete(&model.OtpRecord{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete otp record: %w", err)
	}
	return nil
}

// FindExpired returns rows whose validity window has passed, including
// verified ones. Verified rows are kept for audit only until their expiry
// passes and a cleanup collects them.
func (r *OtpRepository) FindExpired(ctx context.Context, before time.Time) ([]model.OtpRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var records []model.OtpRecord
	err := r.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find expired otp records: %w", err)
	}
	return records, nil
}

// FindInactive returns every row whose cache entry is no longer worth
// keeping: expired, already verified, or blocked.
func (r *OtpRepository) FindInactive(ctx context.Context, now time.Time) ([]model.OtpRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var records []model.OtpRecord
	err := r.db.WithContext(ctx).
		Where("expires_at < ? OR verified = ? OR blocked = ?", now, true, true).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find inactive otp records: %w", err)
	}
	return records, nil
}

// FindActiveAll returns every currently active record across tenants.
func (r *OtpRepository) FindActiveAll(ctx context.Context, now time.Time) ([]model.OtpRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var records []model.OtpRecord
	err := r.db.WithContext(ctx).
		Where("verified = ? AND expires_at > ?", false, now).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find active otp records: %w", err)
	}
	return records, nil
}

// DeleteRecords removes rows in batches of 100 and returns how many were
// deleted.
func (r *OtpRepository) DeleteRecords(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var deleted int64
	for start := 0; start < len(ids); start += 100 {
		end := start + 100
		if end > len(ids) {
			end = len(ids)
		}

		batchCtx, cancel := context.WithTimeout(ctx, queryTimeout)
		res := r.db.WithContext(batchCtx).Delete(&model.OtpRecord{}, "id IN ?", ids[start:end])
		cancel()
		if res.Error != nil {
			return deleted, fmt.Errorf("failed to delete otp records: %w", res.Error)
		}
		deleted += res.RowsAffected
	}
	return deleted, nil
}

// ===================== COUNTS =====================

// applicationID == "" counts across all tenants.
func (r *OtpRepository) scoped(ctx context.Context, applicationID string) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&model.OtpRecord{})
	if applicationID != "" {
		q = q.Where("application_id = ?", applicationID)
	}
	return q
}

func (r *OtpRepository) CountAll(ctx context.Context, applicationID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var count int64
	if err := r.scoped(ctx, applicationID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count otp records: %w", err)
	}
	return count, nil
}

func (r *OtpRepository) CountActive(ctx context.Context, applicationID string, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var count int64
	err := r.scoped(ctx, applicationID).
		Where("verified = ? AND expires_at > ?", false, now).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count active otp records: %w", err)
	}
	return count, nil
}

func (r *OtpRepository) CountVerified(ctx context.Context, applicationID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var count int64
	err := r.scoped(ctx, applicationID).
		Where("verified = ?", true).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count verified otp records: %w", err)
	}
	return count, nil
}

func (r *OtpRepository) CountBlocked(ctx context.Context, applicationID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var count int64
	err := r.scoped(ctx, applicationID).
		Where("blocked = ?", true).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count blocked otp records: %w", err)
	}
	return count, nil
}

func (r *OtpRepository) CountExpired(ctx context.Context, applicationID string, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var count int64
	err := r.scoped(ctx, applicationID).
		Where("expires_at < ?", now).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count expired otp records: %w", err)
	}
	return count, nil
}

// HealthCheck verifies database connectivity.
func (r *OtpRepository) HealthCheck(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access connection pool: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
