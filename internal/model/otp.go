package model

import (
	"time"
)

// Channel is the delivery channel an OTP was requested for. It is fixed at
// record creation and never changes across resends.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Valid reports whether c is a known delivery channel.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// OtpRecord is the durable OTP row. One row per generation cycle: resends
// mutate the row in place (new hash, new expiry, resend_count bumped),
// they never create a second row. The row is kept after verification for
// audit history; cleanup of expired rows is explicit.
type OtpRecord struct {
	ID              string     `gorm:"type:uuid;primaryKey" json:"id"`
	Identifier      string     `gorm:"type:varchar(255);not null;index:idx_otp_identifier_app" json:"identifier"`
	ApplicationID   string     `gorm:"type:varchar(100);not null;index:idx_otp_identifier_app" json:"application_id"`
	ApplicationName string     `gorm:"type:varchar(255)" json:"application_name,omitempty"`
	Channel         Channel    `gorm:"type:varchar(10);not null" json:"channel"`
	HashedCode      string     `gorm:"type:varchar(255);not null" json:"-"`
	Attempts        int        `gorm:"not null;default:0" json:"attempts"`
	ResendCount     int        `gorm:"not null;default:0" json:"resend_count"`
	ExpiresAt       time.Time  `gorm:"not null;index" json:"expires_at"`
	LastAttemptAt   *time.Time `json:"last_attempt_at,omitempty"`
	LastResendAt    *time.Time `json:"last_resend_at,omitempty"`
	Verified        bool       `gorm:"not null;default:false" json:"verified"`
	Blocked         bool       `gorm:"not null;default:false" json:"blocked"`
	BlockedUntil    *time.Time `json:"blocked_until,omitempty"`
	RequestIP       string     `gorm:"type:varchar(45)" json:"request_ip,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OtpRecord) TableName() string { return "otp_records" }

// IsExpired reports whether the current code's validity window has passed.
func (r *OtpRecord) IsExpired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

// IsBlockedAt reports whether the record is under an active lockout.
func (r *OtpRecord) IsBlockedAt(now time.Time) bool {
	return r.BlockedUntil != nil && r.BlockedUntil.After(now)
}

// IsActive reports the "active record" predicate: unverified and unexpired.
func (r *OtpRecord) IsActive(now time.Time) bool {
	return !r.Verified && r.ExpiresAt.After(now)
}

// CacheEntry is the ephemeral projection of an OtpRecord mirrored into
// Redis under otp:{applicationId}:{identifier}. It is disposable: the
// durable row stays authoritative and a cache miss always falls back to
// the database.
type CacheEntry struct {
	ID         string    `json:"id"`
	HashedCode string    `json:"hashed_code"`
	ExpiresAt  time.Time `json:"expires_at"`
	Attempts   int       `json:"attempts"`
	Blocked    bool      `json:"blocked"`
}

// NewCacheEntry projects a durable record into its cache form.
func NewCacheEntry(r *OtpRecord) CacheEntry {
	return CacheEntry{
		ID:         r.ID,
		HashedCode: r.HashedCode,
		ExpiresAt:  r.ExpiresAt,
		Attempts:   r.Attempts,
		Blocked:    r.Blocked,
	}
}
