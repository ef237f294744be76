package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartstay/booking-core/internal/models"
)

// AvailabilityAPI is the remote inventory operation the checker consumes
type AvailabilityAPI interface {
	CheckAvailability(ctx context.Context, query models.AvailabilityQuery) ([]string, error)
}

// AvailabilityChecker runs debounced availability checks for one draft.
//
// Every Schedule/Check takes a new request token. A response is applied only
// while its token is still the latest one and its query key matches the query
// that token was issued for; anything else is a stale response and is dropped.
// In-flight requests are never cancelled.
type AvailabilityChecker struct {
	api      AvailabilityAPI
	debounce time.Duration
	timeout  time.Duration
	logger   *logrus.Logger

	mu       sync.Mutex
	timer    *time.Timer
	token    uint64
	pending  string // key of the query the current token was issued for
	result   *models.AvailabilityResult
	stopped  bool
}

// NewAvailabilityChecker creates a checker. timeout bounds each remote call.
func NewAvailabilityChecker(api AvailabilityAPI, debounce, timeout time.Duration, logger *logrus.Logger) *AvailabilityChecker {
	return &AvailabilityChecker{
		api:      api,
		debounce: debounce,
		timeout:  timeout,
		logger:   logger,
	}
}

// Schedule (re)arms the debounce timer for the given selection. While either
// date is missing nothing is scheduled and the last result is kept as is.
func (c *AvailabilityChecker) Schedule(roomIDs []string, checkIn, checkOut *time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	if checkIn == nil || checkOut == nil || len(roomIDs) == 0 {
		// Invalidate anything still in flight for the old selection
		c.token++
		c.pending = ""
		return
	}

	query := models.NewAvailabilityQuery(roomIDs, *checkIn, *checkOut)
	c.token++
	token := c.token
	c.pending = query.Key()

	c.timer = time.AfterFunc(c.debounce, func() {
		c.run(token, query)
	})
}

// Check runs a check immediately, bypassing the debounce. The returned result
// is what the remote system said for this query, even if a newer Schedule made
// it stale before it arrived.
func (c *AvailabilityChecker) Check(ctx context.Context, roomIDs []string, checkIn, checkOut time.Time) models.AvailabilityResult {
	query := models.NewAvailabilityQuery(roomIDs, checkIn, checkOut)

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.token++
	token := c.token
	c.pending = query.Key()
	c.mu.Unlock()

	result := c.query(ctx, query)
	c.apply(token, result)
	return result
}

// Ensure returns the current result when it already answers this query,
// otherwise runs a check synchronously
func (c *AvailabilityChecker) Ensure(ctx context.Context, roomIDs []string, checkIn, checkOut time.Time) models.AvailabilityResult {
	key := models.NewAvailabilityQuery(roomIDs, checkIn, checkOut).Key()

	c.mu.Lock()
	if c.result != nil && c.result.Query.Key() == key {
		result := *c.result
		c.mu.Unlock()
		return result
	}
	c.mu.Unlock()

	return c.Check(ctx, roomIDs, checkIn, checkOut)
}

// Result returns the latest applied result, if any
func (c *AvailabilityChecker) Result() (models.AvailabilityResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.result == nil {
		return models.AvailabilityResult{}, false
	}
	return *c.result, true
}

// Pending reports whether a debounced check is armed or in flight
func (c *AvailabilityChecker) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != "" && (c.result == nil || c.result.Query.Key() != c.pending)
}

// Stop disarms the timer and discards any response still in flight
func (c *AvailabilityChecker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.token++
	c.pending = ""
	c.stopped = true
}

func (c *AvailabilityChecker) run(token uint64, query models.AvailabilityQuery) {
	c.mu.Lock()
	if token != c.token {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	c.apply(token, c.query(ctx, query))
}

// query calls the remote system and applies the fail-open policy
func (c *AvailabilityChecker) query(ctx context.Context, query models.AvailabilityQuery) models.AvailabilityResult {
	conflicts, err := c.api.CheckAvailability(ctx, query)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"room_ids":  query.RoomIDs,
			"check_in":  query.CheckIn,
			"check_out": query.CheckOut,
		}).WithError(err).Warn("Availability check failed, treating rooms as available")

		return models.AvailabilityResult{
			Query:       query,
			Available:   true,
			Conflicts:   []string{},
			CheckFailed: true,
			CheckedAt:   time.Now(),
		}
	}

	if conflicts == nil {
		conflicts = []string{}
	}
	return models.AvailabilityResult{
		Query:     query,
		Available: len(conflicts) == 0,
		Conflicts: conflicts,
		CheckedAt: time.Now(),
	}
}

func (c *AvailabilityChecker) apply(token uint64, result models.AvailabilityResult) {
	c.mu.Lock()
	if token != c.token || result.Query.Key() != c.pending {
		c.mu.Unlock()
		c.logger.WithFields(logrus.Fields{
			"room_ids": result.Query.RoomIDs,
			"token":    token,
		}).Debug("Discarding stale availability response")
		return
	}
	c.result = &result
	c.mu.Unlock()
}
