package models

import (
	"sort"
	"time"
)

// ============================================================================
// WIZARD STEPS
// ============================================================================

// WizardStep is a step of the booking capture wizard
type WizardStep string

const (
	StepDates           WizardStep = "dates"
	StepRooms           WizardStep = "rooms"
	StepAddons          WizardStep = "addons"
	StepGuestDetails    WizardStep = "guest_details"
	StepReadyForPayment WizardStep = "ready_for_payment"
)

// wizardOrder is the only legal forward order of the wizard
var wizardOrder = []WizardStep{
	StepDates,
	StepRooms,
	StepAddons,
	StepGuestDetails,
	StepReadyForPayment,
}

// Index returns the position of the step in the wizard, -1 if unknown
func (s WizardStep) Index() int {
	for i, step := range wizardOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// IsValid reports whether the step is a known wizard step
func (s WizardStep) IsValid() bool {
	return s.Index() >= 0
}

// Next returns the step after s. ok is false on the last step.
func (s WizardStep) Next() (WizardStep, bool) {
	i := s.Index()
	if i < 0 || i == len(wizardOrder)-1 {
		return s, false
	}
	return wizardOrder[i+1], true
}

// FlowMode distinguishes the multi-room wizard from the single-room detail page flow
type FlowMode string

const (
	FlowMultiRoom  FlowMode = "multi"
	FlowSingleRoom FlowMode = "single"
)

// ============================================================================
// SELECTIONS
// ============================================================================

// RoomSelection is a snapshot of a room taken when it was offered/selected
type RoomSelection struct {
	RoomID   string  `json:"room_id" binding:"required"`
	Price    float64 `json:"price" binding:"gte=0"`
	Capacity int     `json:"capacity"`
}

// AddonSelection is a paid extra attached to the booking
type AddonSelection struct {
	ID               string  `json:"id" binding:"required"`
	Name             string  `json:"name"`
	UnitPrice        float64 `json:"unit_price" binding:"gte=0"`
	ScalesWithGuests bool    `json:"scales_with_guests"`
}

// ============================================================================
// BOOKING DRAFT
// ============================================================================

// BookingDraft is the in-progress selection held by the wizard.
// Rooms and Addons are sets keyed by id; order is not significant.
type BookingDraft struct {
	CheckIn    *time.Time `json:"check_in,omitempty"`
	CheckOut   *time.Time `json:"check_out,omitempty"`
	GuestCount int        `json:"guest_count"`

	Rooms  []RoomSelection  `json:"rooms"`
	Addons []AddonSelection `json:"addons"`

	IDProofType   string `json:"id_proof_type,omitempty"`
	IDProofNumber string `json:"id_proof_number,omitempty"`

	// Only used when no authenticated identity is attached
	GuestName  string `json:"guest_name,omitempty"`
	GuestPhone string `json:"guest_phone,omitempty"`
	GuestEmail string `json:"guest_email,omitempty"`

	Step WizardStep `json:"step"`
}

// NewBookingDraft returns an empty draft on the first step
func NewBookingDraft() *BookingDraft {
	return &BookingDraft{
		GuestCount: 1,
		Rooms:      []RoomSelection{},
		Addons:     []AddonSelection{},
		Step:       StepDates,
	}
}

// HasDates reports whether both check-in and check-out are set
func (d *BookingDraft) HasDates() bool {
	return d.CheckIn != nil && d.CheckOut != nil
}

// RoomIDs returns the selected room ids, sorted
func (d *BookingDraft) RoomIDs() []string {
	ids := make([]string, 0, len(d.Rooms))
	for _, r := range d.Rooms {
		ids = append(ids, r.RoomID)
	}
	sort.Strings(ids)
	return ids
}

// HasRoom reports whether the room is selected
func (d *BookingDraft) HasRoom(roomID string) bool {
	for _, r := range d.Rooms {
		if r.RoomID == roomID {
			return true
		}
	}
	return false
}

// AddRoom adds the room unless it is already selected
func (d *BookingDraft) AddRoom(room RoomSelection) bool {
	if d.HasRoom(room.RoomID) {
		return false
	}
	d.Rooms = append(d.Rooms, room)
	return true
}

// RemoveRoom removes the room; false if it was not selected
func (d *BookingDraft) RemoveRoom(roomID string) bool {
	for i, r := range d.Rooms {
		if r.RoomID == roomID {
			d.Rooms = append(d.Rooms[:i], d.Rooms[i+1:]...)
			return true
		}
	}
	return false
}

// HasAddon reports whether the add-on is selected
func (d *BookingDraft) HasAddon(addonID string) bool {
	for _, a := range d.Addons {
		if a.ID == addonID {
			return true
		}
	}
	return false
}

// AddAddon adds the add-on unless it is already selected
func (d *BookingDraft) AddAddon(addon AddonSelection) bool {
	if d.HasAddon(addon.ID) {
		return false
	}
	d.Addons = append(d.Addons, addon)
	return true
}

// RemoveAddon removes the add-on; false if it was not selected
func (d *BookingDraft) RemoveAddon(addonID string) bool {
	for i, a := range d.Addons {
		if a.ID == addonID {
			d.Addons = append(d.Addons[:i], d.Addons[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the draft
func (d *BookingDraft) Clone() *BookingDraft {
	c := *d
	if d.CheckIn != nil {
		t := *d.CheckIn
		c.CheckIn = &t
	}
	if d.CheckOut != nil {
		t := *d.CheckOut
		c.CheckOut = &t
	}
	c.Rooms = append([]RoomSelection{}, d.Rooms...)
	c.Addons = append([]AddonSelection{}, d.Addons...)
	return &c
}

// ============================================================================
// PRICING
// ============================================================================

// PriceBreakdown is derived from a draft and never stored on its own
type PriceBreakdown struct {
	Nights        int     `json:"nights"`
	RoomSubtotal  float64 `json:"room_subtotal"`
	AddonSubtotal float64 `json:"addon_subtotal"`
	GrandTotal    float64 `json:"grand_total"`
}

// GuestDetails is the contact and ID-proof input of the guest details step
type GuestDetails struct {
	GuestName     string `json:"guest_name"`
	GuestPhone    string `json:"guest_phone"`
	GuestEmail    string `json:"guest_email" binding:"omitempty,email"`
	IDProofType   string `json:"id_proof_type"`
	IDProofNumber string `json:"id_proof_number"`
}

// ============================================================================
// DRAFT SESSION
// ============================================================================

// DraftSession is the persisted form of one wizard: enough to rebuild it
// after a restart. Availability results are not persisted.
type DraftSession struct {
	ID         string          `json:"id"`
	Mode       FlowMode        `json:"mode"`
	Candidates []RoomSelection `json:"candidates"`
	Draft      *BookingDraft   `json:"draft"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
