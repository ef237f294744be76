package models

import (
	"sort"
	"strings"
	"time"
)

// AvailabilityQuery is the input of one availability check
type AvailabilityQuery struct {
	RoomIDs  []string  `json:"room_numbers"`
	CheckIn  time.Time `json:"check_in"`
	CheckOut time.Time `json:"check_out"`
}

// NewAvailabilityQuery normalises the room ids so equal selections produce equal keys
func NewAvailabilityQuery(roomIDs []string, checkIn, checkOut time.Time) AvailabilityQuery {
	ids := append([]string{}, roomIDs...)
	sort.Strings(ids)
	return AvailabilityQuery{RoomIDs: ids, CheckIn: checkIn, CheckOut: checkOut}
}

// Key identifies the query parameters; responses are matched against it
func (q AvailabilityQuery) Key() string {
	return strings.Join(q.RoomIDs, ",") + "|" + q.CheckIn.UTC().Format(time.RFC3339) + "|" + q.CheckOut.UTC().Format(time.RFC3339)
}

// AvailabilityResult is the advisory outcome of a check. Available is true iff Conflicts is empty.
type AvailabilityResult struct {
	Query     AvailabilityQuery `json:"query"`
	Available bool              `json:"available"`
	Conflicts []string          `json:"conflicts"`

	// CheckFailed is set when the collaborator call failed and the result was failed open
	CheckFailed bool      `json:"check_failed"`
	CheckedAt   time.Time `json:"checked_at"`
}

// IsConflict reports whether the room is in the conflict set
func (r AvailabilityResult) IsConflict(roomID string) bool {
	for _, id := range r.Conflicts {
		if id == roomID {
			return true
		}
	}
	return false
}

// HasConfirmedConflict is true only for a successful check that reported conflicts
func (r AvailabilityResult) HasConfirmedConflict() bool {
	return !r.CheckFailed && !r.Available
}
