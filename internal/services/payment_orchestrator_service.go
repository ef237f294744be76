package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smartstay/booking-core/internal/models"
)

// BookingAPI is the subset of the remote booking system the orchestrator writes to
type BookingAPI interface {
	CreateBooking(ctx context.Context, identity models.Identity, req *models.CreateBookingRequest) (*models.Booking, error)
	ConfirmCash(ctx context.Context, identity models.Identity, bookingID string) error
	VerifyPayment(ctx context.Context, identity models.Identity, req *models.VerifyPaymentRequest) error
}

// PaymentGateway opens gateway orders and checks callback signatures
type PaymentGateway interface {
	KeyID() string
	Currency() string
	BusinessName() string
	CreateOrder(ctx context.Context, amountMinor int64, receipt string, notes map[string]string) (*models.GatewayOrder, error)
	VerifySignature(cb models.GatewayCallback) bool
}

// PaymentAuditLogger records payment audit rows
type PaymentAuditLogger interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
}

// SubmittableDraft is a wizard that can be locked for payment
type SubmittableDraft interface {
	Lock(ctx context.Context, identity models.Identity) (*models.BookingDraft, models.PriceBreakdown, error)
	Unlock()
}

// DraftReleaser drops a draft once it became a booking
type DraftReleaser interface {
	Discard(ctx context.Context, id string) error
}

// PaymentOrchestratorConfig holds configuration for the orchestrator
type PaymentOrchestratorConfig struct {
	CallTimeout time.Duration // Bounds booking API calls made after a gateway callback
}

// SubmitRequest is one submission of a draft
type SubmitRequest struct {
	DraftID  string
	Draft    SubmittableDraft
	Method   models.PaymentMethod
	Identity models.Identity
	Meta     models.RequestMeta
}

// Submission is the immediate result of Submit: a committed booking for
// cash, an open gateway session for online payment
type Submission struct {
	Method  models.PaymentMethod
	Booking *models.Booking
	Session *GatewaySession
}

// ============================================================================
// GATEWAY SESSION
// ============================================================================

// GatewayOutcome is how a gateway session ended
type GatewayOutcome string

const (
	GatewaySucceeded GatewayOutcome = "success"
	GatewayDismissed GatewayOutcome = "dismissed"
	GatewayFailed    GatewayOutcome = "error"
	GatewayClosed    GatewayOutcome = "closed" // server shutdown
)

type gatewayResolution struct {
	outcome  GatewayOutcome
	callback models.GatewayCallback
	err      error
}

// GatewaySession wraps one open checkout. Exactly one of success, dismissal,
// error or shutdown resolves it; later resolutions are ignored. Wait returns the
// booking outcome once the orchestrator has acted on the resolution.
type GatewaySession struct {
	ID       uuid.UUID
	DraftID  string
	Order    models.GatewayOrder
	Checkout models.CheckoutParams

	once     sync.Once
	resolved chan gatewayResolution

	done    chan struct{}
	booking *models.Booking
	err     error
}

func newGatewaySession(id uuid.UUID, draftID string, order models.GatewayOrder, checkout models.CheckoutParams) *GatewaySession {
	return &GatewaySession{
		ID:       id,
		DraftID:  draftID,
		Order:    order,
		Checkout: checkout,
		resolved: make(chan gatewayResolution, 1),
		done:     make(chan struct{}),
	}
}

// Succeed resolves the session with the gateway's success callback
func (s *GatewaySession) Succeed(cb models.GatewayCallback) bool {
	return s.resolve(gatewayResolution{outcome: GatewaySucceeded, callback: cb})
}

// Dismiss resolves the session as closed by the guest without paying
func (s *GatewaySession) Dismiss() bool {
	return s.resolve(gatewayResolution{outcome: GatewayDismissed})
}

// Fail resolves the session with a gateway-reported error
func (s *GatewaySession) Fail(err error) bool {
	return s.resolve(gatewayResolution{outcome: GatewayFailed, err: err})
}

// Close resolves the session because the server is shutting down
func (s *GatewaySession) Close() bool {
	return s.resolve(gatewayResolution{outcome: GatewayClosed})
}

func (s *GatewaySession) resolve(r gatewayResolution) bool {
	first := false
	s.once.Do(func() {
		s.resolved <- r
		first = true
	})
	return first
}

// Wait blocks until the session's booking outcome is known
func (s *GatewaySession) Wait(ctx context.Context) (*models.Booking, error) {
	select {
	case <-s.done:
		return s.booking, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed once the outcome is known
func (s *GatewaySession) Done() <-chan struct{} {
	return s.done
}

func (s *GatewaySession) finish(booking *models.Booking, err error) {
	s.booking = booking
	s.err = err
	close(s.done)
}

// ============================================================================
// ORCHESTRATOR
// ============================================================================

// settledRetention is how long a closed session still answers late callbacks
const settledRetention = time.Hour

// pendingCash is a cash booking whose confirmation failed. The booking holds
// its rooms and dates, so the draft stays locked until the confirmation
// succeeds or the draft is dropped.
type pendingCash struct {
	booking   *models.Booking
	createReq *models.CreateBookingRequest
}

// settledSession is how a closed gateway session ended
type settledSession struct {
	orderID string
	outcome GatewayOutcome
	booking *models.Booking
	err     error
	at      time.Time
}

// PaymentOrchestrator turns a locked draft into a committed booking.
//
// Cash: create (payment pending) -> confirm cash.
// Online: open gateway -> wait for the session -> on success only, create
// (paid) -> verify. A booking is never created before the gateway reports
// success, and a failure after success is a reconciliation failure that is
// never retried.
type PaymentOrchestrator struct {
	bookings BookingAPI
	gateway  PaymentGateway
	audits   PaymentAuditLogger
	events   EventPublisher
	drafts   DraftReleaser
	config   PaymentOrchestratorConfig
	logger   *logrus.Logger

	mu       sync.Mutex
	inFlight map[string]bool               // draft id -> submission running
	sessions map[uuid.UUID]*GatewaySession // open gateway sessions
	cashDue  map[string]*pendingCash       // draft id -> cash booking awaiting confirmation
	settled  map[uuid.UUID]settledSession  // recently closed sessions
	wg       sync.WaitGroup
	closed   bool
}

// NewPaymentOrchestrator creates a new payment orchestrator
func NewPaymentOrchestrator(
	bookings BookingAPI,
	gateway PaymentGateway,
	audits PaymentAuditLogger,
	events EventPublisher,
	drafts DraftReleaser,
	config PaymentOrchestratorConfig,
	logger *logrus.Logger,
) *PaymentOrchestrator {
	if config.CallTimeout <= 0 {
		config.CallTimeout = 30 * time.Second
	}
	return &PaymentOrchestrator{
		bookings: bookings,
		gateway:  gateway,
		audits:   audits,
		events:   events,
		drafts:   drafts,
		config:   config,
		logger:   logger,
		inFlight: make(map[string]bool),
		sessions: make(map[uuid.UUID]*GatewaySession),
		cashDue:  make(map[string]*pendingCash),
		settled:  make(map[uuid.UUID]settledSession),
	}
}

// Submit locks the draft and starts the payment flow for the chosen method.
// Only one submission per draft may run at a time.
func (o *PaymentOrchestrator) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	if !req.Method.IsValid() {
		v := models.NewValidationError()
		v.Add("method", fmt.Sprintf("unsupported payment method: %q", req.Method))
		return nil, v
	}

	// 1. Claim the draft
	if err := o.claim(req.DraftID); err != nil {
		return nil, err
	}

	// 2. A cash booking awaiting confirmation pins the draft: only the
	// confirmation may be retried
	o.mu.Lock()
	pending := o.cashDue[req.DraftID]
	o.mu.Unlock()
	if pending != nil {
		defer o.release(req.DraftID)
		if req.Method != models.PaymentMethodCash {
			return nil, fmt.Errorf("%w: booking %s", models.ErrCashConfirmationPending, pending.booking.ID)
		}
		return o.confirmCash(ctx, req, pending, time.Now())
	}

	// 3. Lock the draft; this revalidates every wizard guard
	draft, price, err := req.Draft.Lock(ctx, req.Identity)
	if err != nil {
		o.release(req.DraftID)
		return nil, err
	}

	// 4. Build the booking payload once; only the payment fields differ per method
	createReq := buildCreateRequest(draft, price, req.Identity, req.Method)

	if req.Method == models.PaymentMethodCash {
		return o.submitCash(ctx, req, createReq)
	}
	return o.submitOnline(ctx, req, draft, createReq)
}

// ============================================================================
// CASH PATH
// ============================================================================

func (o *PaymentOrchestrator) submitCash(ctx context.Context, req SubmitRequest, createReq *models.CreateBookingRequest) (*Submission, error) {
	start := time.Now()
	defer o.release(req.DraftID)

	createReq.PaymentStatus = models.PaymentStatusPending
	createReq.AmountPaid = 0

	// 1. Create the booking with payment pending
	booking, err := o.bookings.CreateBooking(ctx, req.Identity, createReq)
	if err != nil {
		o.audit(ctx, models.NewPaymentAudit(models.PaymentEventBookingCreateFailed, models.PaymentSourceBackend).
			SetRooms(createReq.RoomIDs).
			SetAmount(createReq.TotalAmount, "", models.PaymentMethodCash).
			SetError(err, "create").
			SetActor(req.Identity).
			SetMetadata(req.Meta).
			SetProcessingTime(start))
		req.Draft.Unlock()
		return nil, &models.BookingCreationError{Stage: "create", Err: err}
	}

	pending := &pendingCash{booking: booking, createReq: createReq}
	o.mu.Lock()
	o.cashDue[req.DraftID] = pending
	o.mu.Unlock()

	// 2. Confirm pay-at-arrival
	return o.confirmCash(ctx, req, pending, start)
}

// confirmCash confirms pay-at-arrival. The call is idempotent against the
// booking id, so a retry re-runs only this step. On failure the draft stays
// locked to the booking that already exists.
func (o *PaymentOrchestrator) confirmCash(ctx context.Context, req SubmitRequest, pending *pendingCash, start time.Time) (*Submission, error) {
	booking := pending.booking
	createReq := pending.createReq

	if err := o.bookings.ConfirmCash(ctx, req.Identity, booking.ID); err != nil {
		o.audit(ctx, models.NewPaymentAudit(models.PaymentEventBookingCreateFailed, models.PaymentSourceBackend).
			SetBooking(booking.ID).
			SetRooms(createReq.RoomIDs).
			SetAmount(createReq.TotalAmount, "", models.PaymentMethodCash).
			SetError(err, "confirm_cash").
			SetActor(req.Identity).
			SetMetadata(req.Meta).
			SetProcessingTime(start))
		return nil, &models.BookingCreationError{Stage: "confirm_cash", BookingID: booking.ID, Err: err}
	}

	o.mu.Lock()
	delete(o.cashDue, req.DraftID)
	o.mu.Unlock()

	// 3. Record and report
	o.audit(ctx, models.NewPaymentAudit(models.PaymentEventCashConfirmed, models.PaymentSourceBackend).
		SetBooking(booking.ID).
		SetRooms(createReq.RoomIDs).
		SetAmount(createReq.TotalAmount, "", models.PaymentMethodCash).
		SetActor(req.Identity).
		SetMetadata(req.Meta).
		SetProcessingTime(start))

	publishEvent(ctx, o.events, o.logger, models.NewBookingEvent(models.EventBookingCreated, booking, req.Identity))
	o.discardDraft(ctx, req.DraftID)

	o.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"draft_id":   req.DraftID,
		"total":      createReq.TotalAmount,
	}).Info("Cash booking created")

	return &Submission{Method: models.PaymentMethodCash, Booking: booking}, nil
}

// ============================================================================
// ONLINE PATH
// ============================================================================

func (o *PaymentOrchestrator) submitOnline(ctx context.Context, req SubmitRequest, draft *models.BookingDraft, createReq *models.CreateBookingRequest) (*Submission, error) {
	sessionID := uuid.New()
	amountMinor := ToMinorUnits(createReq.TotalAmount)

	// 1. Open a gateway order for the grand total in minor units
	order, err := o.gateway.CreateOrder(ctx, amountMinor, "draft_"+strings.ReplaceAll(sessionID.String(), "-", "")[:20], map[string]string{
		"draft_id": req.DraftID,
		"rooms":    strings.Join(createReq.RoomIDs, ","),
	})
	if err != nil {
		o.audit(ctx, models.NewPaymentAudit(models.PaymentEventGatewayOpenFailed, models.PaymentSourceBackend).
			SetSession(sessionID).
			SetRooms(createReq.RoomIDs).
			SetAmount(createReq.TotalAmount, o.gateway.Currency(), models.PaymentMethodOnline).
			SetError(err, "open_gateway").
			SetActor(req.Identity).
			SetMetadata(req.Meta))
		req.Draft.Unlock()
		o.release(req.DraftID)
		return nil, &models.BookingCreationError{Stage: "open_gateway", Err: err}
	}

	// 2. Checkout parameters; guest contact is prefilled
	checkout := models.CheckoutParams{
		SessionID:    sessionID,
		KeyID:        o.gateway.KeyID(),
		OrderID:      order.ID,
		AmountMinor:  amountMinor,
		Currency:     o.gateway.Currency(),
		BusinessName: o.gateway.BusinessName(),
		Description:  fmt.Sprintf("Room booking: %s", strings.Join(createReq.RoomIDs, ", ")),
		Prefill: models.CheckoutPrefill{
			Name:    createReq.GuestName,
			Email:   createReq.GuestEmail,
			Contact: createReq.GuestPhone,
		},
		OpenedAt: time.Now(),
	}
	session := newGatewaySession(sessionID, req.DraftID, *order, checkout)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		req.Draft.Unlock()
		o.release(req.DraftID)
		return nil, models.ErrShuttingDown
	}
	o.sessions[sessionID] = session
	o.wg.Add(1)
	o.mu.Unlock()

	o.audit(ctx, models.NewPaymentAudit(models.PaymentEventGatewayOpened, models.PaymentSourceBackend).
		SetSession(sessionID).
		SetGatewayRefs("", order.ID).
		SetRooms(createReq.RoomIDs).
		SetAmount(createReq.TotalAmount, checkout.Currency, models.PaymentMethodOnline).
		SetActor(req.Identity).
		SetMetadata(req.Meta))

	o.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"order_id":   order.ID,
		"draft_id":   req.DraftID,
		"amount":     amountMinor,
	}).Info("Gateway session opened")

	// 3. The booking is created only once the session resolves
	go o.await(session, req, createReq)

	return &Submission{Method: models.PaymentMethodOnline, Session: session}, nil
}

// await acts on the single resolution of a gateway session
func (o *PaymentOrchestrator) await(session *GatewaySession, req SubmitRequest, createReq *models.CreateBookingRequest) {
	defer o.wg.Done()

	r := <-session.resolved

	ctx, cancel := context.WithTimeout(context.Background(), o.config.CallTimeout)
	defer cancel()

	var (
		booking *models.Booking
		err     error
	)
	switch r.outcome {
	case GatewayDismissed:
		o.audit(ctx, models.NewPaymentAudit(models.PaymentEventDismissed, models.PaymentSourceUser).
			SetSession(session.ID).
			SetGatewayRefs("", session.Order.ID).
			SetActor(req.Identity).
			SetMetadata(req.Meta))
		req.Draft.Unlock()
		err = models.ErrPaymentDismissed

	case GatewayFailed:
		o.audit(ctx, models.NewPaymentAudit(models.PaymentEventGatewayError, models.PaymentSourceGateway).
			SetSession(session.ID).
			SetGatewayRefs("", session.Order.ID).
			SetError(r.err, "gateway").
			SetActor(req.Identity).
			SetMetadata(req.Meta))
		req.Draft.Unlock()
		err = fmt.Errorf("%w: %v", models.ErrPaymentFailed, r.err)

	case GatewayClosed:
		o.audit(ctx, models.NewPaymentAudit(models.PaymentEventSessionClosed, models.PaymentSourceBackend).
			SetSession(session.ID).
			SetGatewayRefs("", session.Order.ID).
			SetError(models.ErrShuttingDown, "shutdown").
			SetActor(req.Identity).
			SetMetadata(req.Meta))
		req.Draft.Unlock()
		err = models.ErrShuttingDown

	case GatewaySucceeded:
		booking, err = o.completeOnline(ctx, session, r.callback, req, createReq)
	}

	o.mu.Lock()
	delete(o.sessions, session.ID)
	delete(o.inFlight, req.DraftID)
	o.settle(session.ID, settledSession{
		orderID: session.Order.ID,
		outcome: r.outcome,
		booking: booking,
		err:     err,
		at:      time.Now(),
	})
	o.mu.Unlock()

	session.finish(booking, err)
}

// completeOnline creates and verifies the booking after the gateway took the payment
func (o *PaymentOrchestrator) completeOnline(ctx context.Context, session *GatewaySession, cb models.GatewayCallback, req SubmitRequest, createReq *models.CreateBookingRequest) (*models.Booking, error) {
	start := time.Now()

	o.audit(ctx, models.NewPaymentAudit(models.PaymentEventCallbackReceived, models.PaymentSourceGateway).
		SetSession(session.ID).
		SetGatewayRefs(cb.PaymentID, cb.OrderID).
		SetAmount(createReq.TotalAmount, session.Checkout.Currency, models.PaymentMethodOnline).
		SetActor(req.Identity).
		SetMetadata(req.Meta))

	paid := *createReq
	paid.PaymentStatus = models.PaymentStatusPaid
	paid.AmountPaid = paid.TotalAmount

	// 1. Create the booking as paid
	booking, err := o.bookings.CreateBooking(ctx, req.Identity, &paid)
	if err != nil {
		return nil, o.reconciliationFailure(ctx, session, cb, "", "create", err, req, createReq, start)
	}

	o.audit(ctx, models.NewPaymentAudit(models.PaymentEventBookingCreated, models.PaymentSourceBackend).
		SetSession(session.ID).
		SetBooking(booking.ID).
		SetGatewayRefs(cb.PaymentID, cb.OrderID).
		SetRooms(createReq.RoomIDs).
		SetAmount(createReq.TotalAmount, session.Checkout.Currency, models.PaymentMethodOnline).
		SetActor(req.Identity).
		SetMetadata(req.Meta))

	// 2. Link the payment to the booking
	err = o.bookings.VerifyPayment(ctx, req.Identity, &models.VerifyPaymentRequest{
		PaymentID: cb.PaymentID,
		OrderID:   cb.OrderID,
		Signature: cb.Signature,
		BookingID: booking.ID,
	})
	if err != nil {
		return nil, o.reconciliationFailure(ctx, session, cb, booking.ID, "verify", err, req, createReq, start)
	}

	o.audit(ctx, models.NewPaymentAudit(models.PaymentEventPaymentVerified, models.PaymentSourceBackend).
		SetSession(session.ID).
		SetBooking(booking.ID).
		SetGatewayRefs(cb.PaymentID, cb.OrderID).
		SetAmount(createReq.TotalAmount, session.Checkout.Currency, models.PaymentMethodOnline).
		SetActor(req.Identity).
		SetMetadata(req.Meta).
		SetProcessingTime(start))

	publishEvent(ctx, o.events, o.logger, models.NewBookingEvent(models.EventBookingCreated, booking, req.Identity))
	o.discardDraft(ctx, req.DraftID)

	o.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"payment_id": cb.PaymentID,
		"session_id": session.ID,
	}).Info("Online booking created and verified")

	return booking, nil
}

// reconciliationFailure records money taken without a verified booking.
// The draft is dropped rather than unlocked so the guest cannot pay twice.
func (o *PaymentOrchestrator) reconciliationFailure(
	ctx context.Context,
	session *GatewaySession,
	cb models.GatewayCallback,
	bookingID, stage string,
	cause error,
	req SubmitRequest,
	createReq *models.CreateBookingRequest,
	start time.Time,
) error {
	recErr := &models.ReconciliationError{
		PaymentID: cb.PaymentID,
		OrderID:   cb.OrderID,
		BookingID: bookingID,
		Stage:     stage,
		Err:       cause,
	}

	o.logger.WithError(cause).WithFields(logrus.Fields{
		"payment_id": cb.PaymentID,
		"order_id":   cb.OrderID,
		"booking_id": bookingID,
		"stage":      stage,
		"session_id": session.ID,
	}).Error("CRITICAL: Payment captured but booking not completed")

	o.audit(ctx, models.NewPaymentAudit(models.PaymentEventReconciliationFailure, models.PaymentSourceBackend).
		SetSession(session.ID).
		SetBooking(bookingID).
		SetGatewayRefs(cb.PaymentID, cb.OrderID).
		SetRooms(createReq.RoomIDs).
		SetAmount(createReq.TotalAmount, session.Checkout.Currency, models.PaymentMethodOnline).
		SetPayload(map[string]interface{}{
			"guest_name":  createReq.GuestName,
			"guest_phone": createReq.GuestPhone,
			"check_in":    createReq.CheckIn,
			"check_out":   createReq.CheckOut,
			"signature":   cb.Signature,
		}).
		SetError(cause, stage).
		SetActor(req.Identity).
		SetMetadata(req.Meta).
		SetProcessingTime(start))

	o.discardDraft(ctx, req.DraftID)
	return recErr
}

// ============================================================================
// SESSION RESOLUTION (client callbacks)
// ============================================================================

// Callback resolves a session with the gateway's success payload and waits
// for the booking outcome. A callback with a bad signature leaves the
// session open.
func (o *PaymentOrchestrator) Callback(ctx context.Context, sessionID uuid.UUID, cb models.GatewayCallback) (*models.Booking, error) {
	session, err := o.Session(sessionID)
	if err != nil {
		return o.lateCallback(ctx, sessionID, cb)
	}

	if cb.OrderID != session.Order.ID || !o.gateway.VerifySignature(cb) {
		o.audit(ctx, models.NewPaymentAudit(models.PaymentEventGatewayError, models.PaymentSourceGateway).
			SetSession(sessionID).
			SetGatewayRefs(cb.PaymentID, cb.OrderID).
			SetError(models.ErrInvalidSignature, "signature"))
		return nil, models.ErrInvalidSignature
	}

	if !session.Succeed(cb) {
		o.logger.WithField("session_id", sessionID).Warn("Duplicate gateway callback ignored")
	}
	return session.Wait(ctx)
}

// lateCallback handles a callback for a session that is no longer open. A
// valid signature means the gateway took the money: either this repeats the
// success that closed the session, or the payment has no booking and is
// recorded as a reconciliation failure.
func (o *PaymentOrchestrator) lateCallback(ctx context.Context, sessionID uuid.UUID, cb models.GatewayCallback) (*models.Booking, error) {
	if cb.PaymentID == "" || cb.OrderID == "" || !o.gateway.VerifySignature(cb) {
		return nil, models.ErrSessionNotFound
	}

	o.mu.Lock()
	settled, known := o.settled[sessionID]
	o.mu.Unlock()

	if known && settled.outcome == GatewaySucceeded && settled.orderID == cb.OrderID {
		o.logger.WithField("session_id", sessionID).Warn("Duplicate gateway callback ignored")
		return settled.booking, settled.err
	}

	state := "unknown"
	if known {
		state = string(settled.outcome)
	}
	cause := fmt.Errorf("callback arrived for a %s session", state)

	o.logger.WithFields(logrus.Fields{
		"payment_id":    cb.PaymentID,
		"order_id":      cb.OrderID,
		"session_id":    sessionID,
		"session_state": state,
	}).Error("CRITICAL: Payment captured for a closed checkout session")

	o.audit(ctx, models.NewPaymentAudit(models.PaymentEventReconciliationFailure, models.PaymentSourceGateway).
		SetSession(sessionID).
		SetGatewayRefs(cb.PaymentID, cb.OrderID).
		SetPayload(map[string]interface{}{
			"session_state": state,
			"signature":     cb.Signature,
		}).
		SetError(cause, "session_closed"))

	return nil, &models.ReconciliationError{
		PaymentID: cb.PaymentID,
		OrderID:   cb.OrderID,
		Stage:     "session_closed",
		Err:       cause,
	}
}

// Dismiss resolves a session as dismissed, or as failed when the gateway
// reported an error, and waits for the outcome. If a success callback
// resolved the session first, that booking outcome is returned instead.
func (o *PaymentOrchestrator) Dismiss(ctx context.Context, sessionID uuid.UUID, gatewayError string) (*models.Booking, error) {
	session, err := o.Session(sessionID)
	if err != nil {
		o.mu.Lock()
		settled, known := o.settled[sessionID]
		o.mu.Unlock()
		if known {
			return settled.booking, settled.err
		}
		return nil, err
	}

	var won bool
	if gatewayError != "" {
		won = session.Fail(errors.New(gatewayError))
	} else {
		won = session.Dismiss()
	}
	if !won {
		o.logger.WithField("session_id", sessionID).Info("Session already resolved, reporting its outcome")
	}

	return session.Wait(ctx)
}

// Session returns an open gateway session
func (o *PaymentOrchestrator) Session(id uuid.UUID) (*GatewaySession, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	session, ok := o.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return session, nil
}

// Shutdown closes every open session and waits for their outcomes to be
// recorded. The gateway may still capture a payment for a closed session;
// its callback is then reconciled by lateCallback.
func (o *PaymentOrchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	open := make([]*GatewaySession, 0, len(o.sessions))
	for _, s := range o.sessions {
		open = append(open, s)
	}
	unconfirmed := o.cashDue
	o.cashDue = make(map[string]*pendingCash)
	o.mu.Unlock()

	for _, s := range open {
		s.Close()
	}
	for draftID, pending := range unconfirmed {
		o.abandonCash(ctx, draftID, pending, "shutdown")
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============================================================================
// HELPERS
// ============================================================================

func (o *PaymentOrchestrator) claim(draftID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return models.ErrShuttingDown
	}
	if o.inFlight[draftID] {
		return models.ErrSubmissionInFlight
	}
	o.inFlight[draftID] = true
	return nil
}

// Holds reports whether a submission or an open gateway session holds the draft
func (o *PaymentOrchestrator) Holds(draftID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight[draftID]
}

// DraftReleased is called when a draft is discarded or swept. A cash booking
// still awaiting confirmation for it is abandoned.
func (o *PaymentOrchestrator) DraftReleased(ctx context.Context, draftID string) {
	o.mu.Lock()
	pending := o.cashDue[draftID]
	delete(o.cashDue, draftID)
	o.mu.Unlock()

	if pending != nil {
		o.abandonCash(ctx, draftID, pending, "draft released")
	}
}

// abandonCash records an unconfirmed cash booking for staff to confirm or cancel
func (o *PaymentOrchestrator) abandonCash(ctx context.Context, draftID string, pending *pendingCash, reason string) {
	booking := pending.booking

	o.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"draft_id":   draftID,
		"reason":     reason,
	}).Warn("Unconfirmed cash booking abandoned")

	o.audit(ctx, models.NewPaymentAudit(models.PaymentEventCashAbandoned, models.PaymentSourceBackend).
		SetBooking(booking.ID).
		SetRooms(pending.createReq.RoomIDs).
		SetAmount(pending.createReq.TotalAmount, "", models.PaymentMethodCash).
		SetPayload(map[string]interface{}{
			"draft_id":    draftID,
			"reason":      reason,
			"guest_name":  pending.createReq.GuestName,
			"guest_phone": pending.createReq.GuestPhone,
			"check_in":    pending.createReq.CheckIn,
			"check_out":   pending.createReq.CheckOut,
		}))
}

// settle remembers a closed session and forgets old ones. Caller holds o.mu.
func (o *PaymentOrchestrator) settle(id uuid.UUID, s settledSession) {
	for sid, old := range o.settled {
		if s.at.Sub(old.at) > settledRetention {
			delete(o.settled, sid)
		}
	}
	o.settled[id] = s
}

func (o *PaymentOrchestrator) release(draftID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, draftID)
}

func (o *PaymentOrchestrator) audit(ctx context.Context, audit *models.PaymentAudit) {
	if o.audits == nil {
		return
	}
	// Already logged by the repository; the payment flow carries on
	_ = o.audits.Log(ctx, audit)
}

func (o *PaymentOrchestrator) discardDraft(ctx context.Context, draftID string) {
	if o.drafts == nil {
		return
	}
	if err := o.drafts.Discard(ctx, draftID); err != nil && !IsSessionNotFound(err) {
		o.logger.WithError(err).WithField("draft_id", draftID).Warn("Failed to discard submitted draft")
	}
}

// buildCreateRequest maps a locked draft onto the booking API payload.
// An authenticated identity supplies the contact fields.
func buildCreateRequest(draft *models.BookingDraft, price models.PriceBreakdown, identity models.Identity, method models.PaymentMethod) *models.CreateBookingRequest {
	req := &models.CreateBookingRequest{
		GuestName:     draft.GuestName,
		GuestPhone:    draft.GuestPhone,
		GuestEmail:    draft.GuestEmail,
		RoomIDs:       draft.RoomIDs(),
		CheckIn:       *draft.CheckIn,
		CheckOut:      *draft.CheckOut,
		GuestCount:    draft.GuestCount,
		AddonIDs:      make([]string, 0, len(draft.Addons)),
		IDProofType:   draft.IDProofType,
		IDProofNumber: draft.IDProofNumber,
		TotalAmount:   price.GrandTotal,
		PaymentMethod: method,
		PaymentStatus: models.PaymentStatusPending,
	}
	for _, addon := range draft.Addons {
		req.AddonIDs = append(req.AddonIDs, addon.ID)
	}

	if identity.IsAuthenticated() {
		if identity.Name != "" {
			req.GuestName = identity.Name
		}
		if identity.Phone != "" {
			req.GuestPhone = identity.Phone
		}
		if identity.Email != "" {
			req.GuestEmail = identity.Email
		}
	}
	return req
}
