package hashing

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost matches the cost used for stored codes; verification
// reads the cost from the digest itself, so changing this only affects
// newly issued codes.
const DefaultBcryptCost = 12

// Hasher hashes and verifies one-time codes with bcrypt.
type Hasher struct {
	cost int
}

func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &Hasher{cost: cost}
}

func (h *Hasher) Hash(code string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(code), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash code: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether code matches digest. Any bcrypt error is treated
// as a mismatch.
func (h *Hasher) Verify(code, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(code)) == nil
}
