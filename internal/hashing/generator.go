package hashing

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// DefaultCodeLength is the number of digits in a generated code.
	DefaultCodeLength = 6

	minCodeLength = 4
	maxCodeLength = 10
)

// GenerateCode returns a uniformly random numeric code of length digits,
// zero-padded. Sampling the full [0, 10^length) range keeps every code
// equally likely.
func GenerateCode(length int) (string, error) {
	if length < minCodeLength || length > maxCodeLength {
		return "", fmt.Errorf("code length must be between %d and %d, got %d", minCodeLength, maxCodeLength, length)
	}

	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate random code: %w", err)
	}

	return fmt.Sprintf("%0*d", length, n), nil
}
