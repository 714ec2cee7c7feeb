package service

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// SessionToken is the proof-of-verification handed back on a successful
// verify. It is opaque to clients; consumers decode and trust it within
// their own session handling.
type SessionToken struct {
	Identifier    string `json:"identifier"`
	ApplicationID string `json:"applicationId"`
	Timestamp     int64  `json:"timestamp"`
	Verified      bool   `json:"verified"`
}

// IssueSessionToken encodes a verification token for (identifier,
// applicationID) at the current time.
func IssueSessionToken(identifier, applicationID string) (string, error) {
	payload, err := json.Marshal(SessionToken{
		Identifier:    identifier,
		ApplicationID: applicationID,
		Timestamp:     time.Now().UnixMilli(),
		Verified:      true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode session token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

// DecodeSessionToken parses a token issued by IssueSessionToken.
func DecodeSessionToken(token string) (*SessionToken, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("malformed session token: %w", err)
	}
	var t SessionToken
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("malformed session token payload: %w", err)
	}
	return &t, nil
}
