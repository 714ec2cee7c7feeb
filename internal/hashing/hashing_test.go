package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestGenerateCode(t *testing.T) {
	t.Run("produces codes of the requested length", func(t *testing.T) {
		for _, length := range []int{4, 6, 8, 10} {
			code, err := GenerateCode(length)
			require.NoError(t, err)
			assert.Len(t, code, length)
			for _, r := range code {
				assert.True(t, r >= '0' && r <= '9', "code %q contains non-digit", code)
			}
		}
	})

	t.Run("rejects out of range lengths", func(t *testing.T) {
		for _, length := range []int{0, 3, 11, -1} {
			_, err := GenerateCode(length)
			assert.Error(t, err, "length %d", length)
		}
	})

	t.Run("preserves leading zeros", func(t *testing.T) {
		seen := false
		for i := 0; i < 200; i++ {
			code, err := GenerateCode(4)
			require.NoError(t, err)
			require.Len(t, code, 4)
			if code[0] == '0' {
				seen = true
				break
			}
		}
		assert.True(t, seen, "no zero-padded code in 200 draws")
	})

	t.Run("covers the full digit range", func(t *testing.T) {
		// With 2000 draws of 6 digits, every leading digit should appear.
		digits := make(map[byte]bool)
		for i := 0; i < 2000; i++ {
			code, err := GenerateCode(6)
			require.NoError(t, err)
			digits[code[0]] = true
		}
		assert.Len(t, digits, 10, "leading digit distribution looks skewed")
	})
}

func TestHasher(t *testing.T) {
	hasher := NewHasher(bcrypt.MinCost)

	t.Run("verifies its own digests", func(t *testing.T) {
		digest, err := hasher.Hash("482913")
		require.NoError(t, err)
		assert.NotEqual(t, "482913", digest)
		assert.True(t, hasher.Verify("482913", digest))
		assert.False(t, hasher.Verify("482914", digest))
	})

	t.Run("same code yields distinct digests", func(t *testing.T) {
		d1, err := hasher.Hash("000000")
		require.NoError(t, err)
		d2, err := hasher.Hash("000000")
		require.NoError(t, err)
		assert.NotEqual(t, d1, d2)
		assert.True(t, hasher.Verify("000000", d1))
		assert.True(t, hasher.Verify("000000", d2))
	})

	t.Run("invalid cost falls back to default", func(t *testing.T) {
		h := NewHasher(99)
		assert.Equal(t, DefaultBcryptCost, h.cost)
	})

	t.Run("garbage digest never verifies", func(t *testing.T) {
		assert.False(t, hasher.Verify("123456", "not-a-bcrypt-digest"))
	})
}
