package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventGatewayOpened         PaymentEventType = "gateway_opened"
	PaymentEventGatewayOpenFailed     PaymentEventType = "gateway_open_failed"
	PaymentEventCallbackReceived      PaymentEventType = "callback_received"
	PaymentEventDismissed             PaymentEventType = "payment_dismissed"
	PaymentEventSessionClosed         PaymentEventType = "session_closed" // closed by the server, not the guest
	PaymentEventGatewayError          PaymentEventType = "gateway_error"
	PaymentEventBookingCreated        PaymentEventType = "booking_created"
	PaymentEventBookingCreateFailed   PaymentEventType = "booking_creation_failed"
	PaymentEventPaymentVerified       PaymentEventType = "payment_verified"
	PaymentEventCashConfirmed         PaymentEventType = "cash_confirmed"
	PaymentEventCashAbandoned         PaymentEventType = "cash_booking_abandoned"
	PaymentEventReconciliationFailure PaymentEventType = "reconciliation_failure"
	PaymentEventStaffPaymentRecorded  PaymentEventType = "staff_payment_recorded"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBackend PaymentEventSource = "backend"
	PaymentSourceGateway PaymentEventSource = "gateway"
	PaymentSourceUser    PaymentEventSource = "user"
	PaymentSourceStaff   PaymentEventSource = "staff"
)

// PaymentAudit is an immutable audit log entry for a payment event.
// Reconciliation failures are only recoverable by support from these rows.
type PaymentAudit struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	SessionID *uuid.UUID     `json:"session_id,omitempty" db:"session_id"`
	BookingID *string        `json:"booking_id,omitempty" db:"booking_id"`
	PaymentID *string        `json:"payment_id,omitempty" db:"payment_id"`
	OrderID   *string        `json:"order_id,omitempty" db:"order_id"`
	RoomIDs   pq.StringArray `json:"room_ids,omitempty" db:"room_ids"`

	EventType   PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource PaymentEventSource `json:"event_source" db:"event_source"`

	PaymentMethod *PaymentMethod `json:"payment_method,omitempty" db:"payment_method"`
	Amount        *float64       `json:"amount,omitempty" db:"amount"`
	Currency      *string        `json:"currency,omitempty" db:"currency"`

	Payload AuditPayload `json:"payload,omitempty" db:"payload"`

	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`
	ErrorStage   *string `json:"error_stage,omitempty" db:"error_stage"`

	ProcessingTimeMs *int `json:"processing_time_ms,omitempty" db:"processing_time_ms"`

	UserID        *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	IPAddress     *string    `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent     *string    `json:"user_agent,omitempty" db:"user_agent"`
	DeviceType    *string    `json:"device_type,omitempty" db:"device_type"`
	CorrelationID *string    `json:"correlation_id,omitempty" db:"correlation_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetSession sets the gateway session (or cash submission) id
func (pa *PaymentAudit) SetSession(sessionID uuid.UUID) *PaymentAudit {
	pa.SessionID = &sessionID
	return pa
}

// SetBooking sets the booking id
func (pa *PaymentAudit) SetBooking(bookingID string) *PaymentAudit {
	if bookingID != "" {
		pa.BookingID = &bookingID
	}
	return pa
}

// SetGatewayRefs sets the gateway payment and order ids
func (pa *PaymentAudit) SetGatewayRefs(paymentID, orderID string) *PaymentAudit {
	if paymentID != "" {
		pa.PaymentID = &paymentID
	}
	if orderID != "" {
		pa.OrderID = &orderID
	}
	return pa
}

// SetRooms sets the rooms the payment is for
func (pa *PaymentAudit) SetRooms(roomIDs []string) *PaymentAudit {
	pa.RoomIDs = pq.StringArray(roomIDs)
	return pa
}

// SetAmount sets the amount and method
func (pa *PaymentAudit) SetAmount(amount float64, currency string, method PaymentMethod) *PaymentAudit {
	pa.Amount = &amount
	pa.PaymentMethod = &method
	if currency != "" {
		pa.Currency = &currency
	}
	return pa
}

// SetPayload stores an arbitrary payload (request or callback body)
func (pa *PaymentAudit) SetPayload(payload map[string]interface{}) *PaymentAudit {
	pa.Payload = AuditPayload(payload)
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(err error, stage string) *PaymentAudit {
	if err != nil {
		msg := err.Error()
		pa.ErrorMessage = &msg
	}
	if stage != "" {
		pa.ErrorStage = &stage
	}
	return pa
}

// SetActor sets who triggered the event
func (pa *PaymentAudit) SetActor(identity Identity) *PaymentAudit {
	if identity.IsAuthenticated() {
		id := identity.UserID
		pa.UserID = &id
	}
	return pa
}

// SetMetadata sets request metadata
func (pa *PaymentAudit) SetMetadata(meta RequestMeta) *PaymentAudit {
	if meta.IPAddress != "" {
		pa.IPAddress = &meta.IPAddress
	}
	if meta.UserAgent != "" {
		pa.UserAgent = &meta.UserAgent
	}
	if meta.DeviceType != "" {
		pa.DeviceType = &meta.DeviceType
	}
	if meta.CorrelationID != "" {
		pa.CorrelationID = &meta.CorrelationID
	}
	return pa
}

// SetProcessingTime calculates and sets processing time
func (pa *PaymentAudit) SetProcessingTime(startTime time.Time) *PaymentAudit {
	durationMs := int(time.Since(startTime).Milliseconds())
	pa.ProcessingTimeMs = &durationMs
	return pa
}

// RequestMeta is HTTP request metadata copied onto audit rows
type RequestMeta struct {
	IPAddress     string
	UserAgent     string
	DeviceType    string
	CorrelationID string
}
