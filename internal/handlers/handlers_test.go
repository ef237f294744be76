package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smartstay/booking-core/internal/middleware"
	"github.com/smartstay/booking-core/internal/models"
	"github.com/smartstay/booking-core/internal/services"
	"github.com/stretchr/testify/require"
)

// fakeBackend stands in for the booking system and the payment gateway
type fakeBackend struct {
	mu         sync.Mutex
	created    int
	confirmed  []string
	booking    *models.Booking
	audits     []models.PaymentEventType
	createErr  error
	confirmErr error
}

func (f *fakeBackend) CheckAvailability(ctx context.Context, q models.AvailabilityQuery) ([]string, error) {
	return nil, nil
}

func (f *fakeBackend) CreateBooking(ctx context.Context, identity models.Identity, req *models.CreateBookingRequest) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created++
	return &models.Booking{
		ID:            fmt.Sprintf("BK-%d", f.created),
		GuestName:     req.GuestName,
		GuestPhone:    req.GuestPhone,
		RoomIDs:       req.RoomIDs,
		BookingStatus: models.BookingStatusPending,
		CreatedAt:     time.Now(),
		PaymentRecord: models.PaymentRecord{
			TotalAmount:   req.TotalAmount,
			PaymentMethod: req.PaymentMethod,
			PaymentStatus: req.PaymentStatus,
		},
	}, nil
}

func (f *fakeBackend) ConfirmCash(ctx context.Context, identity models.Identity, bookingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, bookingID)
	return f.confirmErr
}

func (f *fakeBackend) VerifyPayment(ctx context.Context, identity models.Identity, req *models.VerifyPaymentRequest) error {
	return nil
}

func (f *fakeBackend) KeyID() string        { return "rzp_test_key" }
func (f *fakeBackend) Currency() string     { return "INR" }
func (f *fakeBackend) BusinessName() string { return "SmartStay" }

func (f *fakeBackend) CreateOrder(ctx context.Context, amountMinor int64, receipt string, notes map[string]string) (*models.GatewayOrder, error) {
	return &models.GatewayOrder{ID: "order_1", AmountMinor: amountMinor, Currency: "INR", Receipt: receipt}, nil
}

func (f *fakeBackend) VerifySignature(cb models.GatewayCallback) bool {
	return cb.Signature == "good"
}

func (f *fakeBackend) Log(ctx context.Context, audit *models.PaymentAudit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, audit.EventType)
	return nil
}

func (f *fakeBackend) TrackBooking(ctx context.Context, bookingID, phone string) (*models.Booking, error) {
	if f.booking == nil || f.booking.ID != bookingID || f.booking.GuestPhone != phone {
		return nil, models.ErrBookingNotFound
	}
	b := *f.booking
	return &b, nil
}

func (f *fakeBackend) CancelBooking(ctx context.Context, identity models.Identity, bookingID, reason string) error {
	return nil
}

func (f *fakeBackend) GetAdminBooking(ctx context.Context, identity models.Identity, bookingID string) (*models.Booking, error) {
	if f.booking == nil || f.booking.ID != bookingID {
		return nil, models.ErrBookingNotFound
	}
	b := *f.booking
	return &b, nil
}

func (f *fakeBackend) ApproveCancellation(ctx context.Context, identity models.Identity, bookingID string) error {
	return nil
}

func (f *fakeBackend) RejectCancellation(ctx context.Context, identity models.Identity, bookingID string) error {
	return nil
}

func (f *fakeBackend) UpdateBooking(ctx context.Context, identity models.Identity, bookingID string, update *models.StaffBookingUpdate) error {
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type testServer struct {
	router  *gin.Engine
	backend *fakeBackend
	drafts  *services.DraftSessionService
	orch    *services.PaymentOrchestrator
}

// withIdentity simulates the auth middleware
func withIdentity(identity *models.Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		if identity != nil {
			c.Set(middleware.IdentityKey, *identity)
		}
		c.Next()
	}
}

func newTestServer(t *testing.T, identity *models.Identity) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := testLogger()
	backend := &fakeBackend{}

	drafts := services.NewDraftSessionService(nil, backend, services.NewPricingCalculator(), services.DraftSessionConfig{
		Debounce:            time.Millisecond,
		AvailabilityTimeout: time.Second,
		TTL:                 30 * time.Minute,
		SweepInterval:       time.Minute,
	}, logger)
	orch := services.NewPaymentOrchestrator(backend, backend, backend, services.NopPublisher{}, drafts,
		services.PaymentOrchestratorConfig{CallTimeout: time.Second}, logger)
	drafts.SetHolder(orch)
	lifecycle := services.NewBookingLifecycleManager(backend, backend, services.NopPublisher{}, 0, logger)

	draftHandler := NewDraftHandler(drafts, orch, logger)
	paymentHandler := NewPaymentHandler(orch, nil, logger)
	bookingHandler := NewBookingHandler(lifecycle, logger)

	router := gin.New()
	router.Use(withIdentity(identity))

	d := router.Group("/drafts")
	d.POST("", draftHandler.Create)
	d.GET("/:id", draftHandler.Get)
	d.DELETE("/:id", draftHandler.Discard)
	d.PUT("/:id/dates", draftHandler.SetDates)
	d.PUT("/:id/guests", draftHandler.SetGuests)
	d.PUT("/:id/guest-details", draftHandler.SetGuestDetails)
	d.POST("/:id/rooms/:room_id", draftHandler.SelectRoom)
	d.DELETE("/:id/rooms/:room_id", draftHandler.DeselectRoom)
	d.POST("/:id/addons/:addon_id", draftHandler.AddAddon)
	d.DELETE("/:id/addons/:addon_id", draftHandler.RemoveAddon)
	d.POST("/:id/advance", draftHandler.Advance)
	d.POST("/:id/back", draftHandler.Back)
	d.POST("/:id/submit", draftHandler.Submit)

	router.POST("/payments/sessions/:session_id/callback", paymentHandler.Callback)
	router.POST("/payments/sessions/:session_id/dismiss", paymentHandler.Dismiss)
	router.GET("/admin/payments/reconciliation-failures", paymentHandler.ReconciliationFailures)

	router.GET("/bookings/track", bookingHandler.Track)
	router.POST("/bookings/:id/cancel", bookingHandler.Cancel)
	router.GET("/admin/bookings/:id", bookingHandler.Get)
	router.POST("/admin/bookings/:id/confirm", bookingHandler.Confirm)
	router.POST("/admin/bookings/:id/cancel", bookingHandler.ForceCancel)
	router.POST("/admin/bookings/:id/approve-cancellation", bookingHandler.ApproveCancellation)
	router.POST("/admin/bookings/:id/reject-cancellation", bookingHandler.RejectCancellation)
	router.POST("/admin/bookings/:id/payments", bookingHandler.RecordPayment)

	t.Cleanup(drafts.Stop)
	return &testServer{router: router, backend: backend, drafts: drafts, orch: orch}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

// createDraft opens a multi-room draft over rooms 101 and 102
func (s *testServer) createDraft(t *testing.T) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/drafts", gin.H{
		"mode": "multi",
		"rooms": []gin.H{
			{"room_id": "101", "price": 2000, "capacity": 2},
			{"room_id": "102", "price": 2500, "capacity": 3},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		DraftID string `json:"draft_id"`
	}
	decode(t, w, &resp)
	require.NotEmpty(t, resp.DraftID)
	return resp.DraftID
}

// fillDraft walks a draft to ready_for_payment with room 102 for two nights
func (s *testServer) fillDraft(t *testing.T, id string) {
	t.Helper()
	checkIn := time.Date(2026, 11, 10, 14, 0, 0, 0, time.UTC)
	steps := []struct {
		method, path string
		body         interface{}
	}{
		{http.MethodPut, "/dates", gin.H{"check_in": checkIn, "check_out": checkIn.Add(48 * time.Hour)}},
		{http.MethodPost, "/advance", nil},
		{http.MethodPost, "/rooms/102", nil},
		{http.MethodPost, "/advance", nil},
		{http.MethodPost, "/advance", nil},
		{http.MethodPut, "/guest-details", gin.H{
			"guest_name":      "Asha Rao",
			"guest_phone":     "9876543210",
			"id_proof_type":   "aadhaar",
			"id_proof_number": "1234-5678-9012",
		}},
		{http.MethodPost, "/advance", nil},
	}
	for _, step := range steps {
		w := s.do(t, step.method, "/drafts/"+id+step.path, step.body)
		require.Equal(t, http.StatusOK, w.Code, "%s %s: %s", step.method, step.path, w.Body.String())
	}
}

func newSessionID() string {
	return uuid.New().String()
}
