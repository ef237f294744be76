package models

import (
	"time"

	"github.com/google/uuid"
)

// BookingEventType names a booking event published to the broker
type BookingEventType string

const (
	EventBookingCreated               BookingEventType = "booking.created"
	EventBookingConfirmed             BookingEventType = "booking.confirmed"
	EventBookingCancellationRequested BookingEventType = "booking.cancellation_requested"
	EventBookingCancellationRejected  BookingEventType = "booking.cancellation_rejected"
	EventBookingCancelled             BookingEventType = "booking.cancelled"
	EventBookingPaymentRecorded       BookingEventType = "booking.payment_recorded"
)

// BookingEvent carries enough for downstream consumers to notify or report
// without calling the booking API.
type BookingEvent struct {
	ID            string           `json:"event_id"`
	Type          BookingEventType `json:"type"`
	BookingID     string           `json:"booking_id"`
	BookingStatus BookingStatus    `json:"booking_status"`
	PaymentStatus PaymentStatus    `json:"payment_status,omitempty"`
	PaymentMethod PaymentMethod    `json:"payment_type,omitempty"`
	TotalAmount   float64          `json:"total_amount,omitempty"`
	AmountPaid    float64          `json:"amount_paid,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	ActorID       string           `json:"actor_id,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// NewBookingEvent builds an event from the booking's current state
func NewBookingEvent(eventType BookingEventType, b *Booking, actor Identity) BookingEvent {
	ev := BookingEvent{
		ID:            uuid.New().String(),
		Type:          eventType,
		BookingID:     b.ID,
		BookingStatus: b.BookingStatus,
		PaymentStatus: b.PaymentStatus,
		PaymentMethod: b.PaymentMethod,
		TotalAmount:   b.TotalAmount,
		AmountPaid:    b.AmountPaid,
		OccurredAt:    time.Now().UTC(),
	}
	if b.CancellationReason != nil {
		ev.Reason = *b.CancellationReason
	}
	if actor.IsAuthenticated() {
		ev.ActorID = actor.UserID.String()
	}
	return ev
}
