package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/smartstay/booking-core/internal/models"
	"github.com/smartstay/booking-core/pkg/validator"
)

// WizardState is the read model of a wizard returned to the client
type WizardState struct {
	Mode                models.FlowMode            `json:"mode"`
	Draft               *models.BookingDraft       `json:"draft"`
	Price               models.PriceBreakdown      `json:"price"`
	Availability        *models.AvailabilityResult `json:"availability,omitempty"`
	AvailabilityPending bool                       `json:"availability_pending"`
	SelectableRooms     []models.RoomSelection     `json:"selectable_rooms"`
	Locked              bool                       `json:"locked"`
}

// BookingWizard is the draft state machine:
// dates -> rooms -> addons -> guest_details -> ready_for_payment.
//
// Forward moves are guarded one step at a time. Backward moves to any
// earlier step are always allowed and keep later selections. While a payment
// is in progress the wizard is locked and rejects every mutation.
type BookingWizard struct {
	mu sync.Mutex

	mode       models.FlowMode
	candidates []models.RoomSelection
	draft      *models.BookingDraft
	locked     bool

	pricing      *PricingCalculator
	availability *AvailabilityChecker
	phones       *validator.PhoneValidator
}

// NewBookingWizard starts a wizard. In single-room mode exactly one candidate
// is given and it is selected up front.
func NewBookingWizard(mode models.FlowMode, candidates []models.RoomSelection, pricing *PricingCalculator, availability *AvailabilityChecker) (*BookingWizard, error) {
	draft := models.NewBookingDraft()

	switch mode {
	case models.FlowSingleRoom:
		if len(candidates) != 1 {
			return nil, fmt.Errorf("single-room flow needs exactly one room, got %d", len(candidates))
		}
		draft.AddRoom(candidates[0])
	case models.FlowMultiRoom:
		if len(candidates) == 0 {
			return nil, fmt.Errorf("multi-room flow needs at least one candidate room")
		}
	default:
		return nil, fmt.Errorf("unknown flow mode: %q", mode)
	}

	return RestoreBookingWizard(mode, candidates, draft, pricing, availability), nil
}

// RestoreBookingWizard rebuilds a wizard around a previously captured draft
func RestoreBookingWizard(mode models.FlowMode, candidates []models.RoomSelection, draft *models.BookingDraft, pricing *PricingCalculator, availability *AvailabilityChecker) *BookingWizard {
	w := &BookingWizard{
		mode:         mode,
		candidates:   append([]models.RoomSelection{}, candidates...),
		draft:        draft.Clone(),
		pricing:      pricing,
		availability: availability,
		phones:       validator.NewPhoneValidator(),
	}
	w.scheduleAvailability()
	return w
}

// ============================================================================
// MUTATIONS
// ============================================================================

// SetDates sets the stay. Ordering is enforced by the dates guard, not here.
func (w *BookingWizard) SetDates(checkIn, checkOut *time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.locked {
		return models.ErrDraftFrozen
	}

	w.draft.CheckIn = copyTime(checkIn)
	w.draft.CheckOut = copyTime(checkOut)
	w.scheduleAvailability()
	return nil
}

// SetGuestCount sets the number of guests
func (w *BookingWizard) SetGuestCount(guests int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.locked {
		return models.ErrDraftFrozen
	}
	if guests < 1 {
		v := models.NewValidationError()
		v.Add("guest_count", "at least one guest is required")
		return v
	}

	w.draft.GuestCount = guests
	return nil
}

// SelectRoom adds one of the offered rooms. Rooms in the current conflict set are not selectable.
func (w *BookingWizard) SelectRoom(roomID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.locked {
		return models.ErrDraftFrozen
	}

	room, ok := w.candidate(roomID)
	if !ok {
		v := models.NewValidationError()
		v.Add("room_id", fmt.Sprintf("room %s is not offered for this booking", roomID))
		return v
	}
	if result, ok := w.currentAvailability(); ok && result.IsConflict(roomID) {
		v := models.NewValidationError()
		v.Add("room_id", fmt.Sprintf("room %s is not available for the selected dates", roomID))
		return v
	}

	w.draft.AddRoom(room)
	return nil
}

// DeselectRoom removes a selected room. The single-room flow's room is fixed.
func (w *BookingWizard) DeselectRoom(roomID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.locked {
		return models.ErrDraftFrozen
	}
	if w.mode == models.FlowSingleRoom {
		v := models.NewValidationError()
		v.Add("room_id", "the room cannot be changed on this booking")
		return v
	}

	w.draft.RemoveRoom(roomID)
	return nil
}

// AddAddon attaches an add-on; re-adding the same id is a no-op
func (w *BookingWizard) AddAddon(addon models.AddonSelection) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.locked {
		return models.ErrDraftFrozen
	}
	if strings.TrimSpace(addon.ID) == "" {
		v := models.NewValidationError()
		v.Add("addon_id", "add-on id is required")
		return v
	}

	w.draft.AddAddon(addon)
	return nil
}

// RemoveAddon detaches an add-on
func (w *BookingWizard) RemoveAddon(addonID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.locked {
		return models.ErrDraftFrozen
	}

	w.draft.RemoveAddon(addonID)
	return nil
}

// SetGuestDetails stores contact and ID-proof fields; validated by the guest details guard
func (w *BookingWizard) SetGuestDetails(details models.GuestDetails) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.locked {
		return models.ErrDraftFrozen
	}

	w.draft.GuestName = strings.TrimSpace(details.GuestName)
	w.draft.GuestPhone = strings.TrimSpace(details.GuestPhone)
	w.draft.GuestEmail = strings.TrimSpace(details.GuestEmail)
	w.draft.IDProofType = strings.TrimSpace(details.IDProofType)
	w.draft.IDProofNumber = strings.TrimSpace(details.IDProofNumber)
	return nil
}

// ============================================================================
// STEP TRANSITIONS
// ============================================================================

// Advance moves one step forward if the current step's guard passes
func (w *BookingWizard) Advance(ctx context.Context, identity models.Identity) (models.WizardStep, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.locked {
		return w.draft.Step, models.ErrDraftFrozen
	}

	next, ok := w.draft.Step.Next()
	if !ok {
		return w.draft.Step, nil
	}

	if err := w.guard(ctx, w.draft.Step, identity).OrNil(); err != nil {
		return w.draft.Step, err
	}

	w.draft.Step = next
	return next, nil
}

// Back returns to an earlier step, or the previous one when to is empty.
// Later selections are kept.
func (w *BookingWizard) Back(to models.WizardStep) (models.WizardStep, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.locked {
		return w.draft.Step, models.ErrDraftFrozen
	}

	current := w.draft.Step.Index()
	if to == "" {
		if current == 0 {
			return w.draft.Step, nil
		}
		to = wizardStepAt(current - 1)
	}

	if !to.IsValid() || to.Index() > current {
		v := models.NewValidationError()
		v.Add("step", fmt.Sprintf("cannot go back from %s to %s", w.draft.Step, to))
		return w.draft.Step, v
	}

	w.draft.Step = to
	return to, nil
}

// Lock revalidates every guard and locks the draft for payment. The returned
// draft is a copy; the wizard's own draft cannot change until Unlock.
func (w *BookingWizard) Lock(ctx context.Context, identity models.Identity) (*models.BookingDraft, models.PriceBreakdown, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.locked {
		return nil, models.PriceBreakdown{}, models.ErrSubmissionInFlight
	}

	if w.draft.Step != models.StepReadyForPayment {
		v := models.NewValidationError()
		v.Add("step", fmt.Sprintf("booking is not ready for payment (current step: %s)", w.draft.Step))
		return nil, models.PriceBreakdown{}, v
	}

	v := models.NewValidationError()
	for _, step := range []models.WizardStep{models.StepDates, models.StepRooms, models.StepAddons, models.StepGuestDetails} {
		for field, msgs := range w.guard(ctx, step, identity).Fields() {
			for _, msg := range msgs {
				v.Add(field, msg)
			}
		}
	}
	if err := v.OrNil(); err != nil {
		return nil, models.PriceBreakdown{}, err
	}

	w.locked = true
	draft := w.draft.Clone()
	return draft, w.pricing.Compute(draft), nil
}

// Unlock releases the payment lock so the guest can retry or edit
func (w *BookingWizard) Unlock() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.locked = false
}

// ============================================================================
// READS
// ============================================================================

// State returns the draft, its price and the latest availability
func (w *BookingWizard) State() WizardState {
	w.mu.Lock()
	defer w.mu.Unlock()

	draft := w.draft.Clone()
	state := WizardState{
		Mode:                w.mode,
		Draft:               draft,
		Price:               w.pricing.Compute(draft),
		AvailabilityPending: w.availability.Pending(),
		SelectableRooms:     w.selectableRooms(),
		Locked:              w.locked,
	}
	if result, ok := w.currentAvailability(); ok {
		state.Availability = &result
	}
	return state
}

// SelectableRooms returns the offered rooms minus the current conflict set
func (w *BookingWizard) SelectableRooms() []models.RoomSelection {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.selectableRooms()
}

// Session returns the persistable form of the wizard
func (w *BookingWizard) Session(id string) models.DraftSession {
	w.mu.Lock()
	defer w.mu.Unlock()

	return models.DraftSession{
		ID:         id,
		Mode:       w.mode,
		Candidates: append([]models.RoomSelection{}, w.candidates...),
		Draft:      w.draft.Clone(),
		UpdatedAt:  time.Now(),
	}
}

// Locked reports whether a payment holds the draft
func (w *BookingWizard) Locked() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.locked
}

// Close stops background availability checks
func (w *BookingWizard) Close() {
	w.availability.Stop()
}

// ============================================================================
// GUARDS
// ============================================================================

// guard returns the validation failures that block leaving step.
// Caller holds w.mu.
func (w *BookingWizard) guard(ctx context.Context, step models.WizardStep, identity models.Identity) *models.ValidationError {
	v := models.NewValidationError()
	d := w.draft

	switch step {
	case models.StepDates:
		if d.CheckIn == nil {
			v.Add("check_in", "check-in date is required")
		}
		if d.CheckOut == nil {
			v.Add("check_out", "check-out date is required")
		}
		if d.HasDates() && !d.CheckOut.After(*d.CheckIn) {
			v.Add("check_out", "check-out must be after check-in")
		}
		if v.HasErrors() || w.mode != models.FlowSingleRoom {
			break
		}
		// The detail-page flow is the one place availability is a hard gate
		room := w.candidates[0].RoomID
		result := w.availability.Ensure(ctx, []string{room}, *d.CheckIn, *d.CheckOut)
		if result.HasConfirmedConflict() && result.IsConflict(room) {
			v.Add("room_id", fmt.Sprintf("room %s is already booked for the selected dates", room))
		}

	case models.StepRooms:
		if len(d.Rooms) == 0 {
			v.Add("rooms", "select at least one room")
		}

	case models.StepGuestDetails:
		if d.GuestCount < 1 {
			v.Add("guest_count", "at least one guest is required")
		}
		if !identity.IsAuthenticated() {
			if d.GuestName == "" {
				v.Add("guest_name", "name is required")
			}
			if d.GuestPhone == "" {
				v.Add("guest_phone", "phone number is required")
			} else if _, err := w.phones.Validate(d.GuestPhone); err != nil {
				v.Add("guest_phone", err.Error())
			}
		}
		if d.IDProofNumber == "" {
			v.Add("id_proof_number", "ID proof number is required")
		}
	}

	return v
}

// availabilityRoomIDs is what availability is checked for: every candidate
// in the multi-room flow so the room step can hide conflicts, the fixed room otherwise
func (w *BookingWizard) availabilityRoomIDs() []string {
	ids := make([]string, 0, len(w.candidates))
	for _, room := range w.candidates {
		ids = append(ids, room.RoomID)
	}
	return ids
}

// currentAvailability returns the latest result only while it answers the
// draft's current rooms and dates. Caller holds w.mu.
func (w *BookingWizard) currentAvailability() (models.AvailabilityResult, bool) {
	d := w.draft
	if !d.HasDates() || !d.CheckOut.After(*d.CheckIn) {
		return models.AvailabilityResult{}, false
	}

	result, ok := w.availability.Result()
	if !ok {
		return models.AvailabilityResult{}, false
	}
	if result.Query.Key() != models.NewAvailabilityQuery(w.availabilityRoomIDs(), *d.CheckIn, *d.CheckOut).Key() {
		return models.AvailabilityResult{}, false
	}
	return result, true
}

func (w *BookingWizard) scheduleAvailability() {
	d := w.draft
	if d.HasDates() && !d.CheckOut.After(*d.CheckIn) {
		w.availability.Schedule(nil, nil, nil)
		return
	}
	w.availability.Schedule(w.availabilityRoomIDs(), d.CheckIn, d.CheckOut)
}

func (w *BookingWizard) candidate(roomID string) (models.RoomSelection, bool) {
	for _, room := range w.candidates {
		if room.RoomID == roomID {
			return room, true
		}
	}
	return models.RoomSelection{}, false
}

func (w *BookingWizard) selectableRooms() []models.RoomSelection {
	result, ok := w.currentAvailability()
	rooms := make([]models.RoomSelection, 0, len(w.candidates))
	for _, room := range w.candidates {
		if ok && result.IsConflict(room.RoomID) {
			continue
		}
		rooms = append(rooms, room)
	}
	return rooms
}

func wizardStepAt(i int) models.WizardStep {
	step := models.StepDates
	for j := 0; j < i; j++ {
		step, _ = step.Next()
	}
	return step
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
