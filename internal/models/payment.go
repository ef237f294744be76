package models

import (
	"time"

	"github.com/google/uuid"
)

// GatewayCallback is what the checkout widget hands back on success
type GatewayCallback struct {
	PaymentID string `json:"payment_id" binding:"required"`
	OrderID   string `json:"order_id" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// GatewayOrder is an order created on the payment gateway
type GatewayOrder struct {
	ID          string `json:"id"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	Receipt     string `json:"receipt"`
	Status      string `json:"status"`
}

// CheckoutPrefill is the guest contact passed to the gateway widget
type CheckoutPrefill struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// CheckoutParams is everything the client needs to open the gateway widget
type CheckoutParams struct {
	SessionID    uuid.UUID       `json:"session_id"`
	KeyID        string          `json:"key"`
	OrderID      string          `json:"order_id"`
	AmountMinor  int64           `json:"amount"`
	Currency     string          `json:"currency"`
	BusinessName string          `json:"name"`
	Description  string          `json:"description"`
	Prefill      CheckoutPrefill `json:"prefill"`
	OpenedAt     time.Time       `json:"opened_at"`
}

// SubmitResponse is returned from draft submission
type SubmitResponse struct {
	Method   PaymentMethod   `json:"method"`
	Booking  *Booking        `json:"booking,omitempty"`
	Checkout *CheckoutParams `json:"checkout,omitempty"`
}
