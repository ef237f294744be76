package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPhoneValidator(t *testing.T) {
	validator := NewPhoneValidator()
	assert.NotNil(t, validator)
}

func TestValidate_ValidNumbers(t *testing.T) {
	validator := NewPhoneValidator()

	validNumbers := []struct {
		input    string
		expected string
		name     string
	}{
		{"9876543210", "9876543210", "Standard format"},
		{"98765 43210", "9876543210", "With spaces"},
		{"98765-43210", "9876543210", "With dashes"},
		{"98765.43210", "9876543210", "With dots"},
		{"(987) 654 3210", "9876543210", "With parentheses"},
		{"6123456789", "6123456789", "Series 6"},
		{"7123456789", "7123456789", "Series 7"},
		{"8123456789", "8123456789", "Series 8"},
		{"+91 98765 43210", "9876543210", "With country code and plus"},
		{"919876543210", "9876543210", "With country code"},
		{"09876543210", "9876543210", "With trunk prefix"},
	}

	for _, tc := range validNumbers {
		t.Run(tc.name, func(t *testing.T) {
			sanitized, err := validator.Validate(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, sanitized)
		})
	}
}

func TestValidate_InvalidNumbers(t *testing.T) {
	validator := NewPhoneValidator()

	invalidNumbers := []struct {
		input       string
		expectedErr error
		name        string
	}{
		{"", ErrEmptyPhone, "Empty string"},
		{"   ", ErrEmptyPhone, "Whitespace only"},
		{"123", ErrInvalidLength, "Too short"},
		{"98765432101", ErrInvalidLength, "Too long"},
		{"5876543210", ErrInvalidPrefix, "Invalid series 5"},
		{"1234567890", ErrInvalidPrefix, "Valid length but invalid prefix"},
		{"987654321a", ErrInvalidFormat, "Contains letters"},
		{"98765 4321!", ErrInvalidFormat, "Contains special characters"},
	}

	for _, tc := range invalidNumbers {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validator.Validate(tc.input)
			assert.Error(t, err)
			assert.Equal(t, tc.expectedErr, err)
		})
	}
}

func TestSanitize(t *testing.T) {
	validator := NewPhoneValidator()

	tests := []struct {
		input    string
		expected string
		name     string
	}{
		{"9876543210", "9876543210", "Already clean"},
		{"+919876543210", "9876543210", "With country code and plus"},
		{"09876543210", "9876543210", "With trunk prefix"},
		{"98765-43210  ", "9876543210", "With trailing spaces"},
		{"  98765 - 43210", "9876543210", "Multiple separators"},
		{"9198765432", "9198765432", "Ten digits starting with 91 kept"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, validator.Sanitize(tc.input))
		})
	}
}

func TestFormat(t *testing.T) {
	validator := NewPhoneValidator()

	result, err := validator.Format("9876543210")
	require.NoError(t, err)
	assert.Equal(t, "+91 98765 43210", result)

	result, err = validator.Format("+91-98765-43210")
	require.NoError(t, err)
	assert.Equal(t, "+91 98765 43210", result)

	_, err = validator.Format("invalid")
	assert.Error(t, err)
}

func TestSameNumber(t *testing.T) {
	validator := NewPhoneValidator()

	assert.True(t, validator.SameNumber("+91 98765 43210", "09876543210"))
	assert.False(t, validator.SameNumber("9876543210", "9876543211"))
	assert.False(t, validator.SameNumber("", ""))
}
