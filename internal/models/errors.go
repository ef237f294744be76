package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrSubmissionInFlight = errors.New("a payment session is already open for this draft")
	ErrPaymentDismissed   = errors.New("payment was dismissed before completion")
	ErrPaymentFailed      = errors.New("payment failed at the gateway")
	ErrSessionNotFound    = errors.New("session not found")
	ErrBookingNotFound    = errors.New("booking not found")
	ErrForbidden          = errors.New("staff role required")
	ErrDraftFrozen        = errors.New("draft is locked for payment")
	ErrInvalidSignature   = errors.New("payment callback signature does not match")
	ErrShuttingDown       = errors.New("service is shutting down")

	// ErrCashConfirmationPending means a cash booking already exists for the
	// draft and only its confirmation may be retried
	ErrCashConfirmationPending = errors.New("a cash booking for this draft is awaiting confirmation")
)

// ============================================================================
// VALIDATION
// ============================================================================

// ValidationError is a failed wizard guard or input check. It is reported
// inline and never sent to the network.
type ValidationError struct {
	fields map[string][]string
}

// NewValidationError returns an empty validation error to collect field messages into
func NewValidationError() *ValidationError {
	return &ValidationError{fields: make(map[string][]string)}
}

// Add records a message for a field
func (e *ValidationError) Add(field, msg string) {
	e.fields[field] = append(e.fields[field], msg)
}

// HasErrors reports whether any message was recorded
func (e *ValidationError) HasErrors() bool {
	return len(e.fields) > 0
}

// Fields returns messages by field
func (e *ValidationError) Fields() map[string][]string {
	return e.fields
}

// OrNil returns nil when nothing was recorded, so callers can `return v.OrNil()`
func (e *ValidationError) OrNil() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.fields))
	for k := range e.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.fields[k], ", ")))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// IsValidationError returns the ValidationError in err's chain, or nil
func IsValidationError(err error) *ValidationError {
	var v *ValidationError
	if errors.As(err, &v) {
		return v
	}
	return nil
}

// ============================================================================
// BOOKING / PAYMENT FAILURES
// ============================================================================

// BookingCreationError is a failed write before any money moved; safe to retry
type BookingCreationError struct {
	Stage     string // "open_gateway", "create" or "confirm_cash"
	BookingID string // set when the booking exists but cash confirmation failed
	Err       error
}

func (e *BookingCreationError) Error() string {
	return fmt.Sprintf("booking %s failed: %v", e.Stage, e.Err)
}

func (e *BookingCreationError) Unwrap() error { return e.Err }

// ReconciliationError means the gateway took the payment but the booking was
// not created or not verified. It is never retried automatically.
type ReconciliationError struct {
	PaymentID string
	OrderID   string
	BookingID string // empty if creation itself failed
	Stage     string // "create", "verify" or "session_closed"
	Err       error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("payment %s succeeded but booking %s failed: %v", e.PaymentID, e.Stage, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// SupportMessage is the text shown to the guest
func (e *ReconciliationError) SupportMessage() string {
	return fmt.Sprintf("Your payment was received but we could not complete the booking. Please contact support with payment ID %s.", e.PaymentID)
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// TransitionError is a lifecycle action the state machine does not allow
type TransitionError struct {
	BookingID string
	From      BookingStatus
	Action    string
	Reason    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s booking %s (status: %s): %s", e.Action, e.BookingID, e.From, e.Reason)
}

// IsTransitionError returns the TransitionError in err's chain, or nil
func IsTransitionError(err error) *TransitionError {
	var t *TransitionError
	if errors.As(err, &t) {
		return t
	}
	return nil
}
