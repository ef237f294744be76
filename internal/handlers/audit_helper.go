package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smartstay/booking-core/internal/middleware"
	"github.com/smartstay/booking-core/internal/models"
	"github.com/smartstay/booking-core/internal/utils"
	"github.com/smartstay/booking-core/pkg/bookingapi"
)

// requestMeta collects the request metadata copied onto payment audits
func requestMeta(c *gin.Context) models.RequestMeta {
	userAgent := utils.GetUserAgent(c)
	return models.RequestMeta{
		IPAddress:     utils.GetRealIP(c),
		UserAgent:     userAgent,
		DeviceType:    utils.DeviceType(userAgent),
		CorrelationID: middleware.GetCorrelationID(c),
	}
}

// respondError maps the error taxonomy onto HTTP responses
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	var (
		validation     *models.ValidationError
		transition     *models.TransitionError
		creation       *models.BookingCreationError
		reconciliation *models.ReconciliationError
		apiErr         *bookingapi.APIError
	)

	// Wrapped causes such as an upstream 404 must not mask these two
	switch {
	case errors.As(err, &reconciliation):
		// Money moved; the guest needs the payment id for support
		c.JSON(http.StatusBadGateway, gin.H{
			"error":      "payment_reconciliation_failed",
			"message":    reconciliation.SupportMessage(),
			"payment_id": reconciliation.PaymentID,
			"order_id":   reconciliation.OrderID,
		})

	case errors.As(err, &creation):
		logger.WithError(err).WithField("stage", creation.Stage).Warn("Booking creation failed")
		body := gin.H{
			"error":     "booking_creation_failed",
			"message":   "We could not complete your booking. Please try again.",
			"stage":     creation.Stage,
			"retryable": true,
		}
		if creation.BookingID != "" {
			body["booking_id"] = creation.BookingID
		}
		c.JSON(http.StatusBadGateway, body)

	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "validation_failed",
			"fields": validation.Fields(),
		})

	case errors.As(err, &transition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "transition_rejected",
			"message": transition.Reason,
			"status":  transition.From,
		})

	case errors.Is(err, models.ErrSubmissionInFlight), errors.Is(err, models.ErrDraftFrozen):
		c.JSON(http.StatusConflict, gin.H{"error": "submission_in_flight", "message": err.Error()})

	case errors.Is(err, models.ErrCashConfirmationPending):
		c.JSON(http.StatusConflict, gin.H{"error": "cash_confirmation_pending", "message": err.Error()})

	case errors.Is(err, models.ErrSessionNotFound), errors.Is(err, models.ErrBookingNotFound), bookingapi.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})

	case errors.Is(err, models.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": err.Error()})

	case errors.Is(err, models.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature", "message": err.Error()})

	case errors.Is(err, models.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting_down", "message": err.Error()})

	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "timeout", "message": "Upstream call timed out"})

	case errors.As(err, &apiErr):
		logger.WithError(err).Error("Booking API call failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_error", "message": "Booking system request failed"})

	default:
		logger.WithError(err).Error("Unhandled request error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Something went wrong"})
	}
}

// bindError reports a malformed body
func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
}
