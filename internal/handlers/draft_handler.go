package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smartstay/booking-core/internal/middleware"
	"github.com/smartstay/booking-core/internal/models"
	"github.com/smartstay/booking-core/internal/services"
)

// DraftHandler serves the booking wizard: one draft session per browser tab
type DraftHandler struct {
	drafts       *services.DraftSessionService
	orchestrator *services.PaymentOrchestrator
	logger       *logrus.Logger
}

// NewDraftHandler creates a new DraftHandler
func NewDraftHandler(
	drafts *services.DraftSessionService,
	orchestrator *services.PaymentOrchestrator,
	logger *logrus.Logger,
) *DraftHandler {
	return &DraftHandler{
		drafts:       drafts,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// CreateDraftRequest opens a wizard over a set of offered rooms
type CreateDraftRequest struct {
	Mode  models.FlowMode        `json:"mode" binding:"required,oneof=multi single"`
	Rooms []models.RoomSelection `json:"rooms" binding:"required,min=1,dive"`
}

// SetDatesRequest sets or clears the stay dates
type SetDatesRequest struct {
	CheckIn  *time.Time `json:"check_in"`
	CheckOut *time.Time `json:"check_out"`
}

// SetGuestsRequest sets the guest count
type SetGuestsRequest struct {
	Guests int `json:"guests"`
}

// BackRequest moves the wizard back; an empty step means one step back
type BackRequest struct {
	Step models.WizardStep `json:"step"`
}

// SubmitRequest starts payment for the draft
type SubmitRequest struct {
	Method models.PaymentMethod `json:"method" binding:"required"`
}

// ============================================================================
// SESSION - POST/GET/DELETE /api/v1/drafts
// ============================================================================

// Create opens a new draft session
func (h *DraftHandler) Create(c *gin.Context) {
	var req CreateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	id, wizard, err := h.drafts.Create(c.Request.Context(), req.Mode, req.Rooms)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"draft_id": id,
		"state":    wizard.State(),
	})
}

// Get returns the draft, its price and the latest availability
func (h *DraftHandler) Get(c *gin.Context) {
	wizard, ok := h.wizard(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, wizard.State())
}

// Discard abandons a draft
func (h *DraftHandler) Discard(c *gin.Context) {
	if _, ok := h.wizard(c); !ok {
		return
	}
	// A locked draft with no running submit only owes a cash confirmation
	if h.orchestrator.Holds(c.Param("id")) {
		respondError(c, h.logger, models.ErrSubmissionInFlight)
		return
	}
	if err := h.drafts.Discard(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ============================================================================
// MUTATIONS - PUT/POST/DELETE /api/v1/drafts/:id/...
// ============================================================================

// SetDates sets the check-in and check-out
func (h *DraftHandler) SetDates(c *gin.Context) {
	var req SetDatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	h.mutate(c, func(w *services.BookingWizard) error {
		return w.SetDates(req.CheckIn, req.CheckOut)
	})
}

// SetGuests sets the guest count
func (h *DraftHandler) SetGuests(c *gin.Context) {
	var req SetGuestsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	h.mutate(c, func(w *services.BookingWizard) error {
		return w.SetGuestCount(req.Guests)
	})
}

// SetGuestDetails sets contact and ID-proof fields
func (h *DraftHandler) SetGuestDetails(c *gin.Context) {
	var req models.GuestDetails
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	h.mutate(c, func(w *services.BookingWizard) error {
		return w.SetGuestDetails(req)
	})
}

// SelectRoom adds an offered room to the draft
func (h *DraftHandler) SelectRoom(c *gin.Context) {
	roomID := c.Param("room_id")
	h.mutate(c, func(w *services.BookingWizard) error {
		return w.SelectRoom(roomID)
	})
}

// DeselectRoom removes a room from the draft
func (h *DraftHandler) DeselectRoom(c *gin.Context) {
	roomID := c.Param("room_id")
	h.mutate(c, func(w *services.BookingWizard) error {
		return w.DeselectRoom(roomID)
	})
}

// AddAddon attaches an add-on; the body carries its snapshot
func (h *DraftHandler) AddAddon(c *gin.Context) {
	var addon models.AddonSelection
	addon.ID = c.Param("addon_id")
	if err := c.ShouldBindJSON(&addon); err != nil {
		bindError(c, err)
		return
	}
	addon.ID = c.Param("addon_id")

	h.mutate(c, func(w *services.BookingWizard) error {
		return w.AddAddon(addon)
	})
}

// RemoveAddon detaches an add-on
func (h *DraftHandler) RemoveAddon(c *gin.Context) {
	addonID := c.Param("addon_id")
	h.mutate(c, func(w *services.BookingWizard) error {
		return w.RemoveAddon(addonID)
	})
}

// ============================================================================
// STEPS - POST /api/v1/drafts/:id/advance|back
// ============================================================================

// Advance moves to the next step if the current step's guard passes
func (h *DraftHandler) Advance(c *gin.Context) {
	identity := middleware.IdentityOrGuest(c)
	h.mutate(c, func(w *services.BookingWizard) error {
		_, err := w.Advance(c.Request.Context(), identity)
		return err
	})
}

// Back returns to an earlier step without clearing selections
func (h *DraftHandler) Back(c *gin.Context) {
	var req BackRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}
	h.mutate(c, func(w *services.BookingWizard) error {
		_, err := w.Back(req.Step)
		return err
	})
}

// ============================================================================
// SUBMIT - POST /api/v1/drafts/:id/submit
// ============================================================================

// Submit locks the draft and starts payment.
// Cash returns 201 with the booking; online returns 202 with checkout
// parameters for the gateway widget.
func (h *DraftHandler) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	wizard, ok := h.wizard(c)
	if !ok {
		return
	}

	draftID := c.Param("id")
	submission, err := h.orchestrator.Submit(c.Request.Context(), services.SubmitRequest{
		DraftID:  draftID,
		Draft:    wizard,
		Method:   req.Method,
		Identity: middleware.IdentityOrGuest(c),
		Meta:     requestMeta(c),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if submission.Session != nil {
		c.JSON(http.StatusAccepted, models.SubmitResponse{
			Method:   submission.Method,
			Checkout: &submission.Session.Checkout,
		})
		return
	}

	c.JSON(http.StatusCreated, models.SubmitResponse{
		Method:  submission.Method,
		Booking: submission.Booking,
	})
}

// ============================================================================
// HELPERS
// ============================================================================

func (h *DraftHandler) wizard(c *gin.Context) (*services.BookingWizard, bool) {
	wizard, err := h.drafts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return nil, false
	}
	return wizard, true
}

// mutate applies fn, snapshots the draft and returns the new state.
// A failed guard still returns 400 with the field messages.
func (h *DraftHandler) mutate(c *gin.Context, fn func(w *services.BookingWizard) error) {
	wizard, ok := h.wizard(c)
	if !ok {
		return
	}

	if err := fn(wizard); err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.drafts.Save(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, wizard.State())
}
