package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smartstay/booking-core/internal/middleware"
	"github.com/smartstay/booking-core/internal/models"
	"github.com/smartstay/booking-core/internal/services"
)

// BookingHandler handles tracking, cancellation and the staff lifecycle actions
type BookingHandler struct {
	lifecycle *services.BookingLifecycleManager
	logger    *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(lifecycle *services.BookingLifecycleManager, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		lifecycle: lifecycle,
		logger:    logger,
	}
}

// CancelRequest is a guest's cancellation request
type CancelRequest struct {
	Phone  string `json:"phone" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// ForceCancelRequest is a staff cancellation
type ForceCancelRequest struct {
	Reason string `json:"reason"`
}

// RecordPaymentRequest is a payment collected at the front desk
type RecordPaymentRequest struct {
	Amount float64              `json:"amount" binding:"required"`
	Method models.PaymentMethod `json:"method" binding:"required"`
}

// ============================================================================
// CUSTOMER - /api/v1/bookings
// ============================================================================

// Track handles GET /api/v1/bookings/track?booking_id=&phone=
func (h *BookingHandler) Track(c *gin.Context) {
	bookingID := c.Query("booking_id")
	phone := c.Query("phone")
	if bookingID == "" || phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "booking_id and phone are required"})
		return
	}

	view, err := h.lifecycle.Track(c.Request.Context(), bookingID, phone)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Cancel handles POST /api/v1/bookings/:id/cancel
func (h *BookingHandler) Cancel(c *gin.Context) {
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	booking, err := h.lifecycle.CustomerCancel(c.Request.Context(), middleware.IdentityOrGuest(c), c.Param("id"), req.Phone, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, h.lifecycle.View(booking))
}

// ============================================================================
// STAFF - /api/v1/admin/bookings
// ============================================================================

// Get handles GET /api/v1/admin/bookings/:id
func (h *BookingHandler) Get(c *gin.Context) {
	view, err := h.lifecycle.StaffView(c.Request.Context(), middleware.MustGetIdentity(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Confirm handles POST /api/v1/admin/bookings/:id/confirm
func (h *BookingHandler) Confirm(c *gin.Context) {
	booking, err := h.lifecycle.StaffConfirm(c.Request.Context(), middleware.MustGetIdentity(c), c.Param("id"))
	h.respondBooking(c, booking, err)
}

// ForceCancel handles POST /api/v1/admin/bookings/:id/cancel
func (h *BookingHandler) ForceCancel(c *gin.Context) {
	var req ForceCancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	booking, err := h.lifecycle.StaffForceCancel(c.Request.Context(), middleware.MustGetIdentity(c), c.Param("id"), req.Reason)
	h.respondBooking(c, booking, err)
}

// ApproveCancellation handles POST /api/v1/admin/bookings/:id/approve-cancellation
func (h *BookingHandler) ApproveCancellation(c *gin.Context) {
	booking, err := h.lifecycle.StaffApproveCancellation(c.Request.Context(), middleware.MustGetIdentity(c), c.Param("id"))
	h.respondBooking(c, booking, err)
}

// RejectCancellation handles POST /api/v1/admin/bookings/:id/reject-cancellation
func (h *BookingHandler) RejectCancellation(c *gin.Context) {
	booking, err := h.lifecycle.StaffRejectCancellation(c.Request.Context(), middleware.MustGetIdentity(c), c.Param("id"))
	h.respondBooking(c, booking, err)
}

// RecordPayment handles POST /api/v1/admin/bookings/:id/payments
func (h *BookingHandler) RecordPayment(c *gin.Context) {
	var req RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	booking, err := h.lifecycle.StaffRecordPayment(
		c.Request.Context(),
		middleware.MustGetIdentity(c),
		c.Param("id"),
		req.Amount,
		req.Method,
		requestMeta(c),
	)
	h.respondBooking(c, booking, err)
}

func (h *BookingHandler) respondBooking(c *gin.Context, booking *models.Booking, err error) {
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, h.lifecycle.View(booking))
}
