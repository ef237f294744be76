package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smartstay/booking-core/internal/models"
	"github.com/smartstay/booking-core/internal/services"
)

// PaymentAuditReader reads the payment audit trail for support staff
type PaymentAuditReader interface {
	GetByPaymentID(ctx context.Context, paymentID string) ([]*models.PaymentAudit, error)
	GetReconciliationFailures(ctx context.Context, limit int) ([]*models.PaymentAudit, error)
}

// PaymentHandler receives the gateway widget outcomes relayed by the client
type PaymentHandler struct {
	orchestrator *services.PaymentOrchestrator
	audits       PaymentAuditReader // nil when no database is configured
	logger       *logrus.Logger
}

// NewPaymentHandler creates a new PaymentHandler
func NewPaymentHandler(orchestrator *services.PaymentOrchestrator, audits PaymentAuditReader, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{
		orchestrator: orchestrator,
		audits:       audits,
		logger:       logger,
	}
}

// DismissRequest reports that the widget closed without a success callback
type DismissRequest struct {
	Error string `json:"error"`
}

// Callback handles POST /api/v1/payments/sessions/:session_id/callback
func (h *PaymentHandler) Callback(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	var cb models.GatewayCallback
	if err := c.ShouldBindJSON(&cb); err != nil {
		bindError(c, err)
		return
	}

	booking, err := h.orchestrator.Callback(c.Request.Context(), sessionID, cb)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "completed",
		"booking": booking,
	})
}

// Dismiss handles POST /api/v1/payments/sessions/:session_id/dismiss
func (h *PaymentHandler) Dismiss(c *gin.Context) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return
	}

	var req DismissRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	booking, err := h.orchestrator.Dismiss(c.Request.Context(), sessionID, req.Error)
	switch {
	case err == nil && booking != nil:
		// The success callback got there first
		c.JSON(http.StatusOK, gin.H{"status": "completed", "booking": booking})
	case err == nil, errors.Is(err, models.ErrPaymentDismissed):
		c.JSON(http.StatusOK, gin.H{"status": "dismissed"})
	case errors.Is(err, models.ErrPaymentFailed):
		c.JSON(http.StatusOK, gin.H{"status": "failed", "message": err.Error()})
	default:
		respondError(c, h.logger, err)
	}
}

// ReconciliationFailures handles GET /api/v1/admin/payments/reconciliation-failures
func (h *PaymentHandler) ReconciliationFailures(c *gin.Context) {
	if h.audits == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit store not configured"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}

	entries, err := h.audits.GetReconciliationFailures(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"failures": entries,
		"count":    len(entries),
	})
}

// AuditTrail handles GET /api/v1/admin/payments/:payment_id/audits
func (h *PaymentHandler) AuditTrail(c *gin.Context) {
	if h.audits == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit store not configured"})
		return
	}

	entries, err := h.audits.GetByPaymentID(c.Request.Context(), c.Param("payment_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payment_id": c.Param("payment_id"),
		"audits":     entries,
	})
}

func sessionParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
		return uuid.Nil, false
	}
	return id, true
}
