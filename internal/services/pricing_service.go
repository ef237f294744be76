package services

import (
	"math"
	"time"

	"github.com/smartstay/booking-core/internal/models"
)

// PricingCalculator turns a draft into a price breakdown. It is pure: no I/O,
// no cached state, same draft in, same breakdown out.
type PricingCalculator struct{}

// NewPricingCalculator creates a pricing calculator
func NewPricingCalculator() *PricingCalculator {
	return &PricingCalculator{}
}

// Compute prices the draft.
//
//	nights        = max(1, ceil((checkOut - checkIn) / 24h)), 1 when either date is missing
//	room subtotal = sum(room price) * nights
//	add-on        = unit * guests * nights if it scales with guests, else unit (flat per booking)
func (p *PricingCalculator) Compute(draft *models.BookingDraft) models.PriceBreakdown {
	nights := Nights(draft.CheckIn, draft.CheckOut)

	guests := draft.GuestCount
	if guests < 0 {
		guests = 0
	}

	var nightlyRooms float64
	for _, room := range draft.Rooms {
		nightlyRooms += room.Price
	}
	roomSubtotal := nightlyRooms * float64(nights)

	var addonSubtotal float64
	for _, addon := range draft.Addons {
		if addon.ScalesWithGuests {
			addonSubtotal += addon.UnitPrice * float64(guests) * float64(nights)
		} else {
			addonSubtotal += addon.UnitPrice
		}
	}

	return models.PriceBreakdown{
		Nights:        nights,
		RoomSubtotal:  roomSubtotal,
		AddonSubtotal: addonSubtotal,
		GrandTotal:    roomSubtotal + addonSubtotal,
	}
}

// Nights returns the billable nights for a stay; never less than 1
func Nights(checkIn, checkOut *time.Time) int {
	if checkIn == nil || checkOut == nil {
		return 1
	}
	days := math.Ceil(checkOut.Sub(*checkIn).Hours() / 24)
	if days < 1 {
		return 1
	}
	return int(days)
}

// ToMinorUnits converts an amount to the gateway's minor currency unit (paise, cents)
func ToMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
