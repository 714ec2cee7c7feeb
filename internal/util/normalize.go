package util

import (
	"regexp"
	"strings"
)

var appIDInvalidChars = regexp.MustCompile(`[^a-z0-9_-]`)

// NormalizeIdentifier canonicalizes an email address or phone number so the
// same destination always maps to the same record/cache key.
func NormalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeApplicationID lowercases a tenant key and strips everything
// outside [a-z0-9_-].
func NormalizeApplicationID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return appIDInvalidChars.ReplaceAllString(s, "")
}

// MaskIdentifier redacts the middle of an identifier for log output,
// keeping enough of each end to correlate entries.
func MaskIdentifier(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}

// IsNumericCode reports whether s is exactly n decimal digits.
func IsNumericCode(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
