package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeIdentifier(t *testing.T) {
	assert.Equal(t, "user@example.com", NormalizeIdentifier("  User@Example.COM "))
	assert.Equal(t, "+15551234567", NormalizeIdentifier("+15551234567"))
	assert.Equal(t, "", NormalizeIdentifier("   "))
}

func TestNormalizeApplicationID(t *testing.T) {
	assert.Equal(t, "my-app_1", NormalizeApplicationID("  My-App_1 "))
	assert.Equal(t, "webapp", NormalizeApplicationID("Web App!"))
	assert.Equal(t, "", NormalizeApplicationID("@#$"))
}

func TestMaskIdentifier(t *testing.T) {
	assert.Equal(t, "us****om", MaskIdentifier("user@example.com"))
	assert.Equal(t, "****", MaskIdentifier("abc"))
	assert.Equal(t, "****", MaskIdentifier(""))
}

func TestIsNumericCode(t *testing.T) {
	assert.True(t, IsNumericCode("048213", 6))
	assert.False(t, IsNumericCode("48213", 6))
	assert.False(t, IsNumericCode("04821a", 6))
	assert.False(t, IsNumericCode("", 6))
}
