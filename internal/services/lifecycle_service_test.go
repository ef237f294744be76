package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/smartstay/booking-core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLifecycleAPI struct {
	booking  *models.Booking
	anyPhone bool // return the booking whatever phone is asked for
	phones   []string
	calls    []string
	updates  []models.StaffBookingUpdate
	reasons  []string
	writeErr error
}

func (f *fakeLifecycleAPI) TrackBooking(ctx context.Context, bookingID, phone string) (*models.Booking, error) {
	f.calls = append(f.calls, "track")
	f.phones = append(f.phones, phone)
	if f.booking == nil || f.booking.ID != bookingID || (!f.anyPhone && f.booking.GuestPhone != phone) {
		return nil, models.ErrBookingNotFound
	}
	b := *f.booking
	return &b, nil
}

func (f *fakeLifecycleAPI) CancelBooking(ctx context.Context, identity models.Identity, bookingID, reason string) error {
	f.calls = append(f.calls, "cancel")
	f.reasons = append(f.reasons, reason)
	return f.writeErr
}

func (f *fakeLifecycleAPI) GetAdminBooking(ctx context.Context, identity models.Identity, bookingID string) (*models.Booking, error) {
	f.calls = append(f.calls, "get")
	if f.booking == nil || f.booking.ID != bookingID {
		return nil, models.ErrBookingNotFound
	}
	b := *f.booking
	return &b, nil
}

func (f *fakeLifecycleAPI) ApproveCancellation(ctx context.Context, identity models.Identity, bookingID string) error {
	f.calls = append(f.calls, "approve")
	return f.writeErr
}

func (f *fakeLifecycleAPI) RejectCancellation(ctx context.Context, identity models.Identity, bookingID string) error {
	f.calls = append(f.calls, "reject")
	return f.writeErr
}

func (f *fakeLifecycleAPI) UpdateBooking(ctx context.Context, identity models.Identity, bookingID string, update *models.StaffBookingUpdate) error {
	f.calls = append(f.calls, "update")
	f.updates = append(f.updates, *update)
	return f.writeErr
}

var bookingCreatedAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testBooking(status models.BookingStatus) *models.Booking {
	return &models.Booking{
		ID:            "BK-7",
		GuestName:     "Asha Rao",
		GuestPhone:    "9876543210",
		RoomIDs:       []string{"101"},
		BookingStatus: status,
		CreatedAt:     bookingCreatedAt,
		PaymentRecord: models.PaymentRecord{
			TotalAmount:   4000,
			PaymentMethod: models.PaymentMethodCash,
			PaymentStatus: models.PaymentStatusPending,
		},
	}
}

var staffIdentity = models.Identity{UserID: uuid.New(), Roles: []string{models.RoleStaff}}

func newTestLifecycle(api *fakeLifecycleAPI, at time.Time) (*BookingLifecycleManager, *recordingPublisher, *recordingAudits) {
	events := &recordingPublisher{}
	audits := &recordingAudits{}
	m := NewBookingLifecycleManager(api, audits, events, 0, testLogger())
	m.now = func() time.Time { return at }
	return m, events, audits
}

// ============================================================================
// PREDICATES
// ============================================================================

func TestCanCancel_Window(t *testing.T) {
	m, _, _ := newTestLifecycle(&fakeLifecycleAPI{}, bookingCreatedAt)
	b := testBooking(models.BookingStatusConfirmed)

	m.now = func() time.Time { return bookingCreatedAt.Add(23*time.Hour + 59*time.Minute) }
	assert.True(t, m.CanCancel(b))

	m.now = func() time.Time { return bookingCreatedAt.Add(24 * time.Hour) }
	assert.True(t, m.CanCancel(b), "window end is inclusive")

	m.now = func() time.Time { return bookingCreatedAt.Add(24*time.Hour + time.Minute) }
	assert.False(t, m.CanCancel(b))

	assert.Equal(t, bookingCreatedAt.Add(24*time.Hour), m.CancelDeadline(b))
}

func TestCanCancel_Status(t *testing.T) {
	m, _, _ := newTestLifecycle(&fakeLifecycleAPI{}, bookingCreatedAt.Add(time.Hour))

	tests := []struct {
		status models.BookingStatus
		want   bool
	}{
		{models.BookingStatusPending, true},
		{models.BookingStatusConfirmed, true},
		{models.BookingStatusCancellationRequested, false},
		{models.BookingStatusCancelled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, m.CanCancel(testBooking(tt.status)))
		})
	}
}

func TestNeedsPayment(t *testing.T) {
	m, _, _ := newTestLifecycle(&fakeLifecycleAPI{}, bookingCreatedAt)

	b := testBooking(models.BookingStatusConfirmed)
	assert.True(t, m.NeedsPayment(b))

	b.AmountPaid = 1000
	b.PaymentStatus = models.PaymentStatusPartiallyPaid
	assert.False(t, m.NeedsPayment(b))

	b = testBooking(models.BookingStatusCancelled)
	assert.False(t, m.NeedsPayment(b))

	b = testBooking(models.BookingStatusPending)
	b.PaymentStatus = models.PaymentStatusPaid
	assert.False(t, m.NeedsPayment(b))
}

// ============================================================================
// CUSTOMER
// ============================================================================

func TestCustomerCancel(t *testing.T) {
	api := &fakeLifecycleAPI{booking: testBooking(models.BookingStatusConfirmed)}
	m, events, _ := newTestLifecycle(api, bookingCreatedAt.Add(23*time.Hour+59*time.Minute))

	b, err := m.CustomerCancel(context.Background(), models.Identity{}, "BK-7", "9876543210", " plans changed ")
	require.NoError(t, err)

	assert.Equal(t, models.BookingStatusCancellationRequested, b.BookingStatus)
	require.NotNil(t, b.PreviousStatus)
	assert.Equal(t, models.BookingStatusConfirmed, *b.PreviousStatus)
	assert.Equal(t, "plans changed", *b.CancellationReason)
	assert.Equal(t, []string{"track", "cancel"}, api.calls)
	assert.Equal(t, []string{"plans changed"}, api.reasons)
	assert.Equal(t, []models.BookingEventType{models.EventBookingCancellationRequested}, events.types())
}

func TestCustomerCancel_AfterWindow(t *testing.T) {
	api := &fakeLifecycleAPI{booking: testBooking(models.BookingStatusConfirmed)}
	m, events, _ := newTestLifecycle(api, bookingCreatedAt.Add(24*time.Hour+time.Minute))

	_, err := m.CustomerCancel(context.Background(), models.Identity{}, "BK-7", "9876543210", "late")

	transition := models.IsTransitionError(err)
	require.NotNil(t, transition)
	assert.Equal(t, models.BookingStatusConfirmed, transition.From)
	assert.Contains(t, transition.Reason, "window")
	assert.Equal(t, []string{"track"}, api.calls)
	assert.Empty(t, events.types())
}

func TestCustomerCancel_Rejections(t *testing.T) {
	ctx := context.Background()

	api := &fakeLifecycleAPI{booking: testBooking(models.BookingStatusCancellationRequested)}
	m, _, _ := newTestLifecycle(api, bookingCreatedAt.Add(time.Hour))
	_, err := m.CustomerCancel(ctx, models.Identity{}, "BK-7", "9876543210", "again")
	assert.NotNil(t, models.IsTransitionError(err))

	_, err = m.CustomerCancel(ctx, models.Identity{}, "BK-7", "9876543210", "  ")
	assert.NotNil(t, models.IsValidationError(err))

	_, err = m.CustomerCancel(ctx, models.Identity{}, "BK-7", "9000000000", "wrong phone")
	assert.ErrorIs(t, err, models.ErrBookingNotFound)
}

func TestTrack(t *testing.T) {
	api := &fakeLifecycleAPI{booking: testBooking(models.BookingStatusPending)}
	m, _, _ := newTestLifecycle(api, bookingCreatedAt.Add(2*time.Hour))

	view, err := m.Track(context.Background(), "BK-7", "9876543210")
	require.NoError(t, err)
	assert.True(t, view.CanCancel)
	assert.True(t, view.NeedsPayment)
	assert.Equal(t, bookingCreatedAt.Add(24*time.Hour), view.CancelDeadline)
	assert.Equal(t, "BK-7", view.ID)
}

func TestTrack_PhoneMatching(t *testing.T) {
	ctx := context.Background()

	t.Run("Formatted phone is sanitized", func(t *testing.T) {
		api := &fakeLifecycleAPI{booking: testBooking(models.BookingStatusPending)}
		m, _, _ := newTestLifecycle(api, bookingCreatedAt)

		view, err := m.Track(ctx, "BK-7", "+91 98765 43210")
		require.NoError(t, err)
		assert.Equal(t, "BK-7", view.ID)
		assert.Equal(t, []string{"9876543210"}, api.phones)
	})

	t.Run("Invalid phone never reaches the booking system", func(t *testing.T) {
		api := &fakeLifecycleAPI{booking: testBooking(models.BookingStatusPending)}
		m, _, _ := newTestLifecycle(api, bookingCreatedAt)

		_, err := m.Track(ctx, "BK-7", "12345")
		assert.NotNil(t, models.IsValidationError(err))
		assert.Empty(t, api.calls)
	})

	t.Run("Booking of another guest is hidden", func(t *testing.T) {
		api := &fakeLifecycleAPI{booking: testBooking(models.BookingStatusConfirmed), anyPhone: true}
		m, _, _ := newTestLifecycle(api, bookingCreatedAt)

		_, err := m.Track(ctx, "BK-7", "9000000000")
		assert.ErrorIs(t, err, models.ErrBookingNotFound)

		_, err = m.CustomerCancel(ctx, models.Identity{}, "BK-7", "9000000000", "not mine")
		assert.ErrorIs(t, err, models.ErrBookingNotFound)
		assert.NotContains(t, api.calls, "cancel")
	})
}

// ============================================================================
// STAFF
// ============================================================================

func TestStaffActions_RequireStaff(t *testing.T) {
	api := &fakeLifecycleAPI{booking: testBooking(models.BookingStatusPending)}
	m, _, _ := newTestLifecycle(api, bookingCreatedAt)
	guest := models.Identity{UserID: uuid.New(), Roles: []string{models.RoleGuest}}
	ctx := context.Background()

	_, err := m.StaffConfirm(ctx, guest, "BK-7")
	assert.ErrorIs(t, err, models.ErrForbidden)
	_, err = m.StaffForceCancel(ctx, guest, "BK-7", "no")
	assert.ErrorIs(t, err, models.ErrForbidden)
	_, err = m.StaffRecordPayment(ctx, guest, "BK-7", 100, models.PaymentMethodCash, models.RequestMeta{})
	assert.ErrorIs(t, err, models.ErrForbidden)
	_, err = m.StaffView(ctx, guest, "BK-7")
	assert.ErrorIs(t, err, models.ErrForbidden)
	assert.Empty(t, api.calls)

	view, err := m.StaffView(ctx, staffIdentity, "BK-7")
	require.NoError(t, err)
	assert.True(t, view.NeedsPayment)
}

func TestStaffConfirm(t *testing.T) {
	api := &fakeLifecycleAPI{booking: testBooking(models.BookingStatusPending)}
	m, events, _ := newTestLifecycle(api, bookingCreatedAt)

	b, err := m.StaffConfirm(context.Background(), staffIdentity, "BK-7")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, b.BookingStatus)
	require.Len(t, api.updates, 1)
	assert.Equal(t, models.BookingStatusConfirmed, *api.updates[0].BookingStatus)
	assert.Equal(t, []models.BookingEventType{models.EventBookingConfirmed}, events.types())

	for _, status := range []models.BookingStatus{models.BookingStatusConfirmed, models.BookingStatusCancellationRequested, models.BookingStatusCancelled} {
		api.booking = testBooking(status)
		_, err = m.StaffConfirm(context.Background(), staffIdentity, "BK-7")
		assert.NotNil(t, models.IsTransitionError(err), status)
	}
	assert.Len(t, api.updates, 1)
}

func TestStaffForceCancel_BypassesWindow(t *testing.T) {
	api := &fakeLifecycleAPI{booking: testBooking(models.BookingStatusConfirmed)}
	m, events, _ := newTestLifecycle(api, bookingCreatedAt.Add(72*time.Hour))

	b, err := m.StaffForceCancel(context.Background(), staffIdentity, "BK-7", "no show")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, b.BookingStatus)
	assert.Equal(t, "no show", *api.updates[0].CancellationReason)
	assert.Equal(t, []models.BookingEventType{models.EventBookingCancelled}, events.types())

	api.booking = testBooking(models.BookingStatusCancelled)
	_, err = m.StaffForceCancel(context.Background(), staffIdentity, "BK-7", "again")
	assert.NotNil(t, models.IsTransitionError(err))

	// Statuses outside the state machine have no transitions
	api.booking = testBooking(models.BookingStatus("checked_out"))
	_, err = m.StaffForceCancel(context.Background(), staffIdentity, "BK-7", "unknown")
	assert.NotNil(t, models.IsTransitionError(err))
	assert.Len(t, api.updates, 1)
}

func TestStaffApproveAndReject_OnlyFromCancellationRequested(t *testing.T) {
	ctx := context.Background()
	others := []models.BookingStatus{
		models.BookingStatusPending,
		models.BookingStatusConfirmed,
		models.BookingStatusCancelled,
	}

	for _, status := range others {
		t.Run(string(status), func(t *testing.T) {
			api := &fakeLifecycleAPI{booking: testBooking(status)}
			m, _, _ := newTestLifecycle(api, bookingCreatedAt)

			_, err := m.StaffApproveCancellation(ctx, staffIdentity, "BK-7")
			assert.NotNil(t, models.IsTransitionError(err))
			_, err = m.StaffRejectCancellation(ctx, staffIdentity, "BK-7")
			assert.NotNil(t, models.IsTransitionError(err))
			assert.NotContains(t, api.calls, "approve")
			assert.NotContains(t, api.calls, "reject")
		})
	}
}

func TestStaffApproveCancellation(t *testing.T) {
	api := &fakeLifecycleAPI{booking: testBooking(models.BookingStatusCancellationRequested)}
	m, events, _ := newTestLifecycle(api, bookingCreatedAt)

	b, err := m.StaffApproveCancellation(context.Background(), staffIdentity, "BK-7")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, b.BookingStatus)
	assert.Equal(t, []string{"get", "approve"}, api.calls)
	assert.Equal(t, []models.BookingEventType{models.EventBookingCancelled}, events.types())
}

func TestStaffRejectCancellation_RevertsStatus(t *testing.T) {
	confirmed := models.BookingStatusConfirmed
	booking := testBooking(models.BookingStatusCancellationRequested)
	booking.PreviousStatus = &confirmed

	api := &fakeLifecycleAPI{booking: booking}
	m, events, _ := newTestLifecycle(api, bookingCreatedAt)

	b, err := m.StaffRejectCancellation(context.Background(), staffIdentity, "BK-7")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusConfirmed, b.BookingStatus)
	assert.Nil(t, b.PreviousStatus)
	assert.Equal(t, []models.BookingEventType{models.EventBookingCancellationRejected}, events.types())

	// Without a recorded previous status the booking falls back to pending
	api.booking = testBooking(models.BookingStatusCancellationRequested)
	b, err = m.StaffRejectCancellation(context.Background(), staffIdentity, "BK-7")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPending, b.BookingStatus)

	// A request never reverts to cancelled
	cancelled := models.BookingStatusCancelled
	api.booking = testBooking(models.BookingStatusCancellationRequested)
	api.booking.PreviousStatus = &cancelled
	b, err = m.StaffRejectCancellation(context.Background(), staffIdentity, "BK-7")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPending, b.BookingStatus)
}

func TestStaffRecordPayment(t *testing.T) {
	api := &fakeLifecycleAPI{booking: testBooking(models.BookingStatusConfirmed)}
	m, events, audits := newTestLifecycle(api, bookingCreatedAt)
	ctx := context.Background()

	b, err := m.StaffRecordPayment(ctx, staffIdentity, "BK-7", 1500, models.PaymentMethodCash, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPartiallyPaid, b.PaymentStatus)
	assert.Equal(t, 1500.0, *api.updates[0].AmountPaid)

	api.booking = b
	b, err = m.StaffRecordPayment(ctx, staffIdentity, "BK-7", 2500, models.PaymentMethodOnline, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, b.PaymentStatus)
	assert.Equal(t, 4000.0, b.AmountPaid)
	assert.Equal(t, models.PaymentMethodOnline, *api.updates[1].PaymentMethod)

	assert.True(t, audits.has(models.PaymentEventStaffPaymentRecorded))
	assert.Equal(t, []models.BookingEventType{
		models.EventBookingPaymentRecorded,
		models.EventBookingPaymentRecorded,
	}, events.types())
}

func TestStaffRecordPayment_Rejections(t *testing.T) {
	ctx := context.Background()
	api := &fakeLifecycleAPI{booking: testBooking(models.BookingStatusCancelled)}
	m, _, _ := newTestLifecycle(api, bookingCreatedAt)

	_, err := m.StaffRecordPayment(ctx, staffIdentity, "BK-7", 0, models.PaymentMethod("upi"), models.RequestMeta{})
	v := models.IsValidationError(err)
	require.NotNil(t, v)
	assert.Contains(t, v.Fields(), "amount")
	assert.Contains(t, v.Fields(), "method")

	_, err = m.StaffRecordPayment(ctx, staffIdentity, "BK-7", 100, models.PaymentMethodCash, models.RequestMeta{})
	assert.NotNil(t, models.IsTransitionError(err))
	assert.Empty(t, api.updates)
}

func TestStaffAction_WriteFailure(t *testing.T) {
	api := &fakeLifecycleAPI{
		booking:  testBooking(models.BookingStatusPending),
		writeErr: errors.New("booking API PATCH returned status 500"),
	}
	m, events, _ := newTestLifecycle(api, bookingCreatedAt)

	_, err := m.StaffConfirm(context.Background(), staffIdentity, "BK-7")
	require.Error(t, err)
	assert.Nil(t, models.IsTransitionError(err))
	assert.Empty(t, events.types())
}
