package service

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidApplication is returned when the request names a tenant that
// is not on the allow-list.
var ErrInvalidApplication = errors.New("application is not allowed")

// RateLimitError rejects a generation because the fixed window is full.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Second))
}

// OtpBlockedError rejects an operation while the record is under lockout.
type OtpBlockedError struct {
	BlockedUntil time.Time
}

func (e *OtpBlockedError) Error() string {
	return fmt.Sprintf("otp is blocked until %s", e.BlockedUntil.Format(time.RFC3339))
}

// MaxResendError rejects a resend that would exceed the resend cap; the
// record is blocked as a side effect.
type MaxResendError struct {
	BlockedUntil time.Time
}

func (e *MaxResendError) Error() string {
	return fmt.Sprintf("maximum resend count reached, blocked until %s", e.BlockedUntil.Format(time.RFC3339))
}
