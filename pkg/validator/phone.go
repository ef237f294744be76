package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidLength indicates phone number length is not 10 digits
	ErrInvalidLength = errors.New("phone number must be exactly 10 digits")

	// ErrInvalidPrefix indicates phone number doesn't start with a valid mobile series
	ErrInvalidPrefix = errors.New("phone number must start with 6, 7, 8, or 9")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits")

	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")
)

const countryCode = "91"

// phoneRegex matches digits only
var phoneRegex = regexp.MustCompile(`^\d+$`)

// separators are stripped before validation
var separators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "+", "", ".", "")

// PhoneValidator handles guest phone number validation
type PhoneValidator struct{}

// NewPhoneValidator creates a new phone validator instance
func NewPhoneValidator() *PhoneValidator {
	return &PhoneValidator{}
}

// Validate validates an Indian mobile number
// Accepts format: 9876543210, 98765 43210, +91 98765 43210 or 09876543210
// Returns sanitized phone number (10 digits) and error if invalid
func (v *PhoneValidator) Validate(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	sanitized := v.Sanitize(phone)

	if !phoneRegex.MatchString(sanitized) {
		return "", ErrInvalidFormat
	}

	if len(sanitized) != 10 {
		return "", ErrInvalidLength
	}

	if !v.IsValidPrefix(sanitized) {
		return "", ErrInvalidPrefix
	}

	return sanitized, nil
}

// Sanitize removes separators and the country code / trunk prefix
func (v *PhoneValidator) Sanitize(phone string) string {
	phone = separators.Replace(phone)

	switch {
	case strings.HasPrefix(phone, countryCode) && len(phone) == 12:
		phone = phone[2:]
	case strings.HasPrefix(phone, "0") && len(phone) == 11:
		phone = phone[1:]
	}

	return phone
}

// IsValidPrefix checks if phone number starts with a mobile series digit
func (v *PhoneValidator) IsValidPrefix(phone string) bool {
	if phone == "" {
		return false
	}
	return phone[0] >= '6' && phone[0] <= '9'
}

// Format formats a phone number in the display format: +91 XXXXX XXXXX
func (v *PhoneValidator) Format(phone string) (string, error) {
	sanitized, err := v.Validate(phone)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("+%s %s %s", countryCode, sanitized[0:5], sanitized[5:10]), nil
}

// IsValid is a convenience method that returns true if phone is valid
func (v *PhoneValidator) IsValid(phone string) bool {
	_, err := v.Validate(phone)
	return err == nil
}

// SameNumber reports whether two inputs denote the same valid phone number
func (v *PhoneValidator) SameNumber(a, b string) bool {
	sa, err := v.Validate(a)
	if err != nil {
		return false
	}
	sb, err := v.Validate(b)
	if err != nil {
		return false
	}
	return sa == sb
}
