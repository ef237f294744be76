package models

import (
	"time"
)

// ============================================================================
// BOOKING & PAYMENT STATUSES (mirror the booking API vocabulary)
// ============================================================================

// BookingStatus is the lifecycle status of a committed booking
type BookingStatus string

const (
	BookingStatusPending               BookingStatus = "pending"
	BookingStatusConfirmed             BookingStatus = "confirmed"
	BookingStatusCancellationRequested BookingStatus = "cancellation_requested" // Customer asked, staff decides
	BookingStatusCancelled             BookingStatus = "cancelled"              // Terminal
)

// PaymentStatus is the payment state of a booking
type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "pending"
	PaymentStatusPartiallyPaid PaymentStatus = "partially_paid"
	PaymentStatusPaid          PaymentStatus = "paid"
)

// PaymentMethod is how the guest pays
type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodOnline PaymentMethod = "online"
)

// IsValid reports whether the method is supported
func (m PaymentMethod) IsValid() bool {
	return m == PaymentMethodCash || m == PaymentMethodOnline
}

// bookingTransitions is the booking status state machine
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:               {BookingStatusConfirmed, BookingStatusCancellationRequested, BookingStatusCancelled},
	BookingStatusConfirmed:             {BookingStatusCancellationRequested, BookingStatusCancelled},
	BookingStatusCancellationRequested: {BookingStatusCancelled, BookingStatusPending, BookingStatusConfirmed},
	BookingStatusCancelled:             {},
}

// IsValid returns true if the status is a recognized booking status
func (s BookingStatus) IsValid() bool {
	_, ok := bookingTransitions[s]
	return ok
}

// CanTransitionTo returns true if the state machine allows s -> target
func (s BookingStatus) CanTransitionTo(target BookingStatus) bool {
	for _, t := range bookingTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transitions are possible
func (s BookingStatus) IsTerminal() bool {
	return len(bookingTransitions[s]) == 0
}

// ============================================================================
// BOOKING & PAYMENT RECORDS
// ============================================================================

// PaymentRecord is the payment side of a booking (one per booking in these flows)
type PaymentRecord struct {
	TotalAmount   float64       `json:"total_amount"`
	PaymentMethod PaymentMethod `json:"payment_type"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	AmountPaid    float64       `json:"amount_paid"`
}

// Booking is a committed reservation as held by the booking API
type Booking struct {
	ID     string  `json:"id"`
	UserID *string `json:"user_id,omitempty"`

	GuestName  string `json:"guest_name"`
	GuestPhone string `json:"guest_phone"`
	GuestEmail string `json:"guest_email,omitempty"`

	RoomIDs    []string         `json:"room_numbers"`
	CheckIn    time.Time        `json:"check_in"`
	CheckOut   time.Time        `json:"check_out"`
	GuestCount int              `json:"guests"`
	Addons     []AddonSelection `json:"addons"`

	IDProofType   string `json:"id_proof_type,omitempty"`
	IDProofNumber string `json:"id_proof_number,omitempty"`

	BookingStatus BookingStatus `json:"booking_status"`
	// PreviousStatus is the status held before a cancellation request
	PreviousStatus     *BookingStatus `json:"previous_status,omitempty"`
	CancellationReason *string        `json:"cancellation_reason,omitempty"`

	// CreatedAt starts the customer cancellation window
	CreatedAt time.Time `json:"created_at"`

	PaymentRecord
}

// ============================================================================
// REQUEST/RESPONSE STRUCTS
// ============================================================================

// CreateBookingRequest is the payload sent to POST /bookings/
type CreateBookingRequest struct {
	GuestName  string `json:"guest_name"`
	GuestPhone string `json:"guest_phone"`
	GuestEmail string `json:"guest_email,omitempty"`

	RoomIDs    []string  `json:"room_numbers"`
	CheckIn    time.Time `json:"check_in"`
	CheckOut   time.Time `json:"check_out"`
	GuestCount int       `json:"guests"`
	AddonIDs   []string  `json:"addons"`

	IDProofType   string `json:"id_proof_type,omitempty"`
	IDProofNumber string `json:"id_proof_number"`

	TotalAmount   float64       `json:"total_amount"`
	PaymentMethod PaymentMethod `json:"payment_type"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	AmountPaid    float64       `json:"amount_paid"`
}

// StaffBookingUpdate is the PATCH /admin/booking/{id}/ payload; nil fields are left untouched
type StaffBookingUpdate struct {
	BookingStatus      *BookingStatus `json:"booking_status,omitempty"`
	AmountPaid         *float64       `json:"amount_paid,omitempty"`
	PaymentMethod      *PaymentMethod `json:"payment_type,omitempty"`
	PaymentStatus      *PaymentStatus `json:"payment_status,omitempty"`
	CancellationReason *string        `json:"cancellation_reason,omitempty"`
}

// VerifyPaymentRequest links a gateway payment to a booking
type VerifyPaymentRequest struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	Signature string `json:"signature"`
	BookingID string `json:"booking_id"`
}

// BookingView is a booking enriched with lifecycle predicates for clients
type BookingView struct {
	*Booking
	CanCancel      bool      `json:"can_cancel"`
	NeedsPayment   bool      `json:"needs_payment"`
	CancelDeadline time.Time `json:"cancel_deadline"`
}
