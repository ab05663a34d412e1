package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidVoucherCode(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		valid bool
	}{
		{name: "plain", code: "SPRING2025", valid: true},
		{name: "dashes", code: "GIFT-50-A", valid: true},
		{name: "too short", code: "AB", valid: false},
		{name: "lower case", code: "gift50", valid: false},
		{name: "leading dash", code: "-GIFT", valid: false},
		{name: "spaces", code: "GIFT 50", valid: false},
		{name: "empty", code: "", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidVoucherCode(tt.code)
			if got != tt.valid {
				t.Fatalf("IsValidVoucherCode(%q) = %v, want %v", tt.code, got, tt.valid)
			}
		})
	}
}

func TestNormalizeVoucherCode(t *testing.T) {
	assert.Equal(t, "GIFT-50", NormalizeVoucherCode("  gift-50 "))
}

func TestIsValidUsername(t *testing.T) {
	assert.True(t, IsValidUsername("john.doe"))
	assert.False(t, IsValidUsername("jo"))
	assert.False(t, IsValidUsername("john doe"))
}

func TestIsValidPassword(t *testing.T) {
	assert.True(t, IsValidPassword("secret"))
	assert.True(t, IsValidPassword(strings.Repeat("a", MaxPasswordLength)))
	assert.False(t, IsValidPassword("short"))
	assert.False(t, IsValidPassword(strings.Repeat("a", MaxPasswordLength+1)))
	// 37 кириллических символов занимают 74 байта
	assert.False(t, IsValidPassword(strings.Repeat("я", 37)))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-12-31")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), d)

	ts, err := ParseDate("2026-12-31T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 10, ts.Hour())

	_, err = ParseDate("31.12.2026")
	assert.Error(t, err)
}

func TestErrors(t *testing.T) {
	errs := Errors{}
	require.NoError(t, errs.Err())

	errs.Add("quantity", "must be positive")
	errs.Add("quantity", "ignored")
	errs.Add("code", "required")

	err := errs.Err()
	require.Error(t, err)
	assert.Equal(t, "validation failed: code: required; quantity: must be positive", err.Error())
}
