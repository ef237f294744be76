package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartstay/booking-core/internal/models"
	"github.com/smartstay/booking-core/pkg/validator"
)

// LifecycleAPI is the subset of the remote booking system used after a booking exists
type LifecycleAPI interface {
	TrackBooking(ctx context.Context, bookingID, phone string) (*models.Booking, error)
	CancelBooking(ctx context.Context, identity models.Identity, bookingID, reason string) error
	GetAdminBooking(ctx context.Context, identity models.Identity, bookingID string) (*models.Booking, error)
	ApproveCancellation(ctx context.Context, identity models.Identity, bookingID string) error
	RejectCancellation(ctx context.Context, identity models.Identity, bookingID string) error
	UpdateBooking(ctx context.Context, identity models.Identity, bookingID string, update *models.StaffBookingUpdate) error
}

// DefaultCancellationWindow is how long after creation a guest may ask to cancel
const DefaultCancellationWindow = 24 * time.Hour

// BookingLifecycleManager governs status transitions of committed bookings:
// the customer cancellation request inside its window and the staff actions.
type BookingLifecycleManager struct {
	api    LifecycleAPI
	audits PaymentAuditLogger
	events EventPublisher
	window time.Duration
	phones *validator.PhoneValidator
	now    func() time.Time
	logger *logrus.Logger
}

// NewBookingLifecycleManager creates a new lifecycle manager
func NewBookingLifecycleManager(
	api LifecycleAPI,
	audits PaymentAuditLogger,
	events EventPublisher,
	window time.Duration,
	logger *logrus.Logger,
) *BookingLifecycleManager {
	if window <= 0 {
		window = DefaultCancellationWindow
	}
	return &BookingLifecycleManager{
		api:    api,
		audits: audits,
		events: events,
		window: window,
		phones: validator.NewPhoneValidator(),
		now:    time.Now,
		logger: logger,
	}
}

// ============================================================================
// PREDICATES
// ============================================================================

// CancelDeadline is the end of the customer cancellation window
func (m *BookingLifecycleManager) CancelDeadline(b *models.Booking) time.Time {
	return b.CreatedAt.Add(m.window)
}

// CanCancel reports whether the guest may still request cancellation
func (m *BookingLifecycleManager) CanCancel(b *models.Booking) bool {
	_, ok := m.cancelDenial(b)
	return ok
}

// NeedsPayment reports whether nothing has been paid on a live booking
func (m *BookingLifecycleManager) NeedsPayment(b *models.Booking) bool {
	return b.BookingStatus != models.BookingStatusCancelled &&
		b.PaymentStatus == models.PaymentStatusPending &&
		b.AmountPaid == 0
}

// View enriches a booking with the predicates clients render
func (m *BookingLifecycleManager) View(b *models.Booking) *models.BookingView {
	return &models.BookingView{
		Booking:        b,
		CanCancel:      m.CanCancel(b),
		NeedsPayment:   m.NeedsPayment(b),
		CancelDeadline: m.CancelDeadline(b),
	}
}

func (m *BookingLifecycleManager) cancelDenial(b *models.Booking) (string, bool) {
	if !b.BookingStatus.CanTransitionTo(models.BookingStatusCancellationRequested) {
		switch b.BookingStatus {
		case models.BookingStatusCancellationRequested:
			return "cancellation has already been requested", false
		case models.BookingStatusCancelled:
			return "booking is already cancelled", false
		}
		return fmt.Sprintf("a %s booking cannot be cancelled", b.BookingStatus), false
	}
	if m.now().Sub(b.CreatedAt) > m.window {
		return fmt.Sprintf("the %s cancellation window has passed", m.window), false
	}
	return "", true
}

// ============================================================================
// CUSTOMER
// ============================================================================

// Track looks a booking up by id and guest phone
func (m *BookingLifecycleManager) Track(ctx context.Context, bookingID, phone string) (*models.BookingView, error) {
	booking, err := m.loadForGuest(ctx, bookingID, phone)
	if err != nil {
		return nil, err
	}
	return m.View(booking), nil
}

// CustomerCancel requests cancellation. The booking moves to
// cancellation_requested and waits for a staff decision.
func (m *BookingLifecycleManager) CustomerCancel(ctx context.Context, identity models.Identity, bookingID, phone, reason string) (*models.Booking, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		v := models.NewValidationError()
		v.Add("reason", "reason is required")
		return nil, v
	}

	// 1. Load the booking the guest can see
	booking, err := m.loadForGuest(ctx, bookingID, phone)
	if err != nil {
		return nil, err
	}

	// 2. Check the status and the window
	if why, ok := m.cancelDenial(booking); !ok {
		return nil, &models.TransitionError{
			BookingID: booking.ID,
			From:      booking.BookingStatus,
			Action:    "cancel",
			Reason:    why,
		}
	}

	// 3. Ask the booking system
	if err := m.api.CancelBooking(ctx, identity, booking.ID, reason); err != nil {
		return nil, fmt.Errorf("failed to request cancellation: %w", err)
	}

	previous := booking.BookingStatus
	booking.PreviousStatus = &previous
	booking.BookingStatus = models.BookingStatusCancellationRequested
	booking.CancellationReason = &reason

	m.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"from":       previous,
	}).Info("Cancellation requested")

	publishEvent(ctx, m.events, m.logger, models.NewBookingEvent(models.EventBookingCancellationRequested, booking, identity))
	return booking, nil
}

// ============================================================================
// STAFF
// ============================================================================

// StaffView returns any booking with its derived flags
func (m *BookingLifecycleManager) StaffView(ctx context.Context, identity models.Identity, bookingID string) (*models.BookingView, error) {
	booking, err := m.loadForStaff(ctx, identity, bookingID)
	if err != nil {
		return nil, err
	}
	return m.View(booking), nil
}

// StaffConfirm moves a pending booking to confirmed
func (m *BookingLifecycleManager) StaffConfirm(ctx context.Context, identity models.Identity, bookingID string) (*models.Booking, error) {
	booking, err := m.loadForStaff(ctx, identity, bookingID)
	if err != nil {
		return nil, err
	}
	// cancellation_requested -> confirmed is reserved for rejecting a request
	if booking.BookingStatus != models.BookingStatusPending || !booking.BookingStatus.CanTransitionTo(models.BookingStatusConfirmed) {
		return nil, transitionDenied(booking, "confirm", "only pending bookings can be confirmed")
	}

	status := models.BookingStatusConfirmed
	if err := m.api.UpdateBooking(ctx, identity, booking.ID, &models.StaffBookingUpdate{BookingStatus: &status}); err != nil {
		return nil, fmt.Errorf("failed to confirm booking: %w", err)
	}
	booking.BookingStatus = status

	m.logStaff(identity, booking, "confirm")
	publishEvent(ctx, m.events, m.logger, models.NewBookingEvent(models.EventBookingConfirmed, booking, identity))
	return booking, nil
}

// StaffForceCancel cancels directly, skipping the window and the request step
func (m *BookingLifecycleManager) StaffForceCancel(ctx context.Context, identity models.Identity, bookingID, reason string) (*models.Booking, error) {
	booking, err := m.loadForStaff(ctx, identity, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.BookingStatus.CanTransitionTo(models.BookingStatusCancelled) {
		return nil, transitionDenied(booking, "cancel", "booking is already cancelled")
	}

	status := models.BookingStatusCancelled
	update := &models.StaffBookingUpdate{BookingStatus: &status}
	if reason = strings.TrimSpace(reason); reason != "" {
		update.CancellationReason = &reason
	}
	if err := m.api.UpdateBooking(ctx, identity, booking.ID, update); err != nil {
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}
	booking.BookingStatus = status
	if update.CancellationReason != nil {
		booking.CancellationReason = update.CancellationReason
	}

	m.logStaff(identity, booking, "force_cancel")
	publishEvent(ctx, m.events, m.logger, models.NewBookingEvent(models.EventBookingCancelled, booking, identity))
	return booking, nil
}

// StaffApproveCancellation accepts a pending cancellation request
func (m *BookingLifecycleManager) StaffApproveCancellation(ctx context.Context, identity models.Identity, bookingID string) (*models.Booking, error) {
	booking, err := m.loadForStaff(ctx, identity, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.BookingStatus != models.BookingStatusCancellationRequested || !booking.BookingStatus.CanTransitionTo(models.BookingStatusCancelled) {
		return nil, transitionDenied(booking, "approve cancellation of", "no cancellation was requested")
	}

	if err := m.api.ApproveCancellation(ctx, identity, booking.ID); err != nil {
		return nil, fmt.Errorf("failed to approve cancellation: %w", err)
	}
	booking.BookingStatus = models.BookingStatusCancelled

	m.logStaff(identity, booking, "approve_cancellation")
	publishEvent(ctx, m.events, m.logger, models.NewBookingEvent(models.EventBookingCancelled, booking, identity))
	return booking, nil
}

// StaffRejectCancellation declines a cancellation request; the booking goes
// back to the status it held before the request
func (m *BookingLifecycleManager) StaffRejectCancellation(ctx context.Context, identity models.Identity, bookingID string) (*models.Booking, error) {
	booking, err := m.loadForStaff(ctx, identity, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.BookingStatus != models.BookingStatusCancellationRequested {
		return nil, transitionDenied(booking, "reject cancellation of", "no cancellation was requested")
	}

	if err := m.api.RejectCancellation(ctx, identity, booking.ID); err != nil {
		return nil, fmt.Errorf("failed to reject cancellation: %w", err)
	}
	booking.BookingStatus = revertedStatus(booking.PreviousStatus)
	booking.PreviousStatus = nil

	m.logStaff(identity, booking, "reject_cancellation")
	publishEvent(ctx, m.events, m.logger, models.NewBookingEvent(models.EventBookingCancellationRejected, booking, identity))
	return booking, nil
}

// StaffRecordPayment adds a payment collected by staff. The payment status
// becomes paid once the total is covered, partially_paid before that.
func (m *BookingLifecycleManager) StaffRecordPayment(ctx context.Context, identity models.Identity, bookingID string, amount float64, method models.PaymentMethod, meta models.RequestMeta) (*models.Booking, error) {
	v := models.NewValidationError()
	if amount <= 0 {
		v.Add("amount", "amount must be greater than 0")
	}
	if !method.IsValid() {
		v.Add("method", fmt.Sprintf("unsupported payment method: %q", method))
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	start := time.Now()
	booking, err := m.loadForStaff(ctx, identity, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.BookingStatus.IsTerminal() {
		return nil, transitionDenied(booking, "record payment on", "booking is cancelled")
	}

	paid := booking.AmountPaid + amount
	status := models.PaymentStatusPartiallyPaid
	if paid >= booking.TotalAmount {
		status = models.PaymentStatusPaid
	}

	update := &models.StaffBookingUpdate{
		AmountPaid:    &paid,
		PaymentMethod: &method,
		PaymentStatus: &status,
	}
	if err := m.api.UpdateBooking(ctx, identity, booking.ID, update); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}
	booking.AmountPaid = paid
	booking.PaymentMethod = method
	booking.PaymentStatus = status

	if m.audits != nil {
		_ = m.audits.Log(ctx, models.NewPaymentAudit(models.PaymentEventStaffPaymentRecorded, models.PaymentSourceStaff).
			SetBooking(booking.ID).
			SetRooms(booking.RoomIDs).
			SetAmount(amount, "", method).
			SetPayload(map[string]interface{}{
				"amount_paid":    paid,
				"total_amount":   booking.TotalAmount,
				"payment_status": status,
			}).
			SetActor(identity).
			SetMetadata(meta).
			SetProcessingTime(start))
	}

	m.logStaff(identity, booking, "record_payment")
	publishEvent(ctx, m.events, m.logger, models.NewBookingEvent(models.EventBookingPaymentRecorded, booking, identity))
	return booking, nil
}

// ============================================================================
// HELPERS
// ============================================================================

// loadForGuest returns the booking only when the phone matches its guest
func (m *BookingLifecycleManager) loadForGuest(ctx context.Context, bookingID, phone string) (*models.Booking, error) {
	sanitized, err := m.phones.Validate(phone)
	if err != nil {
		v := models.NewValidationError()
		v.Add("phone", err.Error())
		return nil, v
	}

	booking, err := m.api.TrackBooking(ctx, bookingID, sanitized)
	if err != nil {
		return nil, err
	}
	if !m.phones.SameNumber(booking.GuestPhone, sanitized) {
		return nil, models.ErrBookingNotFound
	}
	return booking, nil
}

func (m *BookingLifecycleManager) loadForStaff(ctx context.Context, identity models.Identity, bookingID string) (*models.Booking, error) {
	if !identity.IsStaff() {
		return nil, models.ErrForbidden
	}
	return m.api.GetAdminBooking(ctx, identity, bookingID)
}

func (m *BookingLifecycleManager) logStaff(identity models.Identity, booking *models.Booking, action string) {
	m.logger.WithFields(logrus.Fields{
		"booking_id":     booking.ID,
		"action":         action,
		"staff_id":       identity.UserID,
		"booking_status": booking.BookingStatus,
		"payment_status": booking.PaymentStatus,
	}).Info("Staff booking action")
}

func transitionDenied(b *models.Booking, action, reason string) error {
	return &models.TransitionError{
		BookingID: b.ID,
		From:      b.BookingStatus,
		Action:    action,
		Reason:    reason,
	}
}

// revertedStatus is the status a rejected cancellation request returns to
func revertedStatus(previous *models.BookingStatus) models.BookingStatus {
	if previous != nil && *previous != models.BookingStatusCancelled &&
		models.BookingStatusCancellationRequested.CanTransitionTo(*previous) {
		return *previous
	}
	return models.BookingStatusPending
}
