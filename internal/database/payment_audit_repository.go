package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/smartstay/booking-core/internal/models"
)

const paymentAuditColumns = `
	id, session_id, booking_id, payment_id, order_id, room_ids,
	event_type, event_source,
	payment_method, amount, currency,
	payload,
	error_message, error_stage,
	processing_time_ms,
	user_id, ip_address, user_agent, device_type, correlation_id,
	created_at`

// PaymentAuditRepository handles payment audit operations
type PaymentAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log creates a new payment audit entry
// This should NEVER fail silently - payment events must be logged
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_audits (` + paymentAuditColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8,
			$9, $10, $11,
			$12,
			$13, $14,
			$15,
			$16, $17, $18, $19, $20,
			$21
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.SessionID, audit.BookingID, audit.PaymentID, audit.OrderID, audit.RoomIDs,
		audit.EventType, audit.EventSource,
		audit.PaymentMethod, audit.Amount, audit.Currency,
		audit.Payload,
		audit.ErrorMessage, audit.ErrorStage,
		audit.ProcessingTimeMs,
		audit.UserID, audit.IPAddress, audit.UserAgent, audit.DeviceType, audit.CorrelationID,
		audit.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": audit.EventType,
			"payment_id": deref(audit.PaymentID),
			"booking_id": deref(audit.BookingID),
		}).Error("CRITICAL: Failed to log payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
		"payment_id": deref(audit.PaymentID),
	}).Debug("Payment audit logged")

	return nil
}

// GetByPaymentID retrieves all audit entries for a gateway payment id
func (r *PaymentAuditRepository) GetByPaymentID(ctx context.Context, paymentID string) ([]*models.PaymentAudit, error) {
	var audits []*models.PaymentAudit
	query := `SELECT ` + paymentAuditColumns + `
		FROM payment_audits
		WHERE payment_id = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &audits, query, paymentID); err != nil {
		return nil, fmt.Errorf("failed to get audits by payment ID: %w", err)
	}

	return audits, nil
}

// GetBySession retrieves the audit trail of one payment session
func (r *PaymentAuditRepository) GetBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.PaymentAudit, error) {
	var audits []*models.PaymentAudit
	query := `SELECT ` + paymentAuditColumns + `
		FROM payment_audits
		WHERE session_id = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &audits, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to get audits by session ID: %w", err)
	}

	return audits, nil
}

// GetReconciliationFailures lists payments that succeeded at the gateway
// without a verified booking, newest first. Support works through these by hand.
func (r *PaymentAuditRepository) GetReconciliationFailures(ctx context.Context, limit int) ([]*models.PaymentAudit, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var audits []*models.PaymentAudit
	query := `SELECT ` + paymentAuditColumns + `
		FROM payment_audits
		WHERE event_type = $1
		ORDER BY created_at DESC
		LIMIT $2`

	if err := r.db.SelectContext(ctx, &audits, query, models.PaymentEventReconciliationFailure, limit); err != nil {
		return nil, fmt.Errorf("failed to get reconciliation failures: %w", err)
	}

	return audits, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
