package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartstay/booking-core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAvailabilityAPI struct {
	mu      sync.Mutex
	calls   []models.AvailabilityQuery
	respond func(q models.AvailabilityQuery) ([]string, error)
}

func (f *fakeAvailabilityAPI) CheckAvailability(ctx context.Context, q models.AvailabilityQuery) ([]string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, q)
	respond := f.respond
	f.mu.Unlock()

	if respond == nil {
		return nil, nil
	}
	return respond(q)
}

func (f *fakeAvailabilityAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAvailabilityAPI) lastCall() models.AvailabilityQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testDates() (*time.Time, *time.Time) {
	return stay(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC), 48*time.Hour)
}

func TestAvailabilityChecker_Debounces(t *testing.T) {
	api := &fakeAvailabilityAPI{}
	checker := NewAvailabilityChecker(api, 20*time.Millisecond, time.Second, testLogger())
	in, out := testDates()

	checker.Schedule([]string{"101"}, in, out)
	checker.Schedule([]string{"101", "102"}, in, out)
	checker.Schedule([]string{"102", "101", "103"}, in, out)

	require.Eventually(t, func() bool {
		_, ok := checker.Result()
		return ok
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, api.callCount())
	assert.Equal(t, []string{"101", "102", "103"}, api.lastCall().RoomIDs)
}

func TestAvailabilityChecker_ConflictSubset(t *testing.T) {
	api := &fakeAvailabilityAPI{respond: func(q models.AvailabilityQuery) ([]string, error) {
		return []string{"101"}, nil
	}}
	checker := NewAvailabilityChecker(api, time.Millisecond, time.Second, testLogger())
	in, out := testDates()

	result := checker.Check(context.Background(), []string{"101", "102"}, *in, *out)

	assert.False(t, result.Available)
	assert.Equal(t, []string{"101"}, result.Conflicts)
	assert.False(t, result.CheckFailed)
	assert.True(t, result.HasConfirmedConflict())
	assert.True(t, result.IsConflict("101"))
	assert.False(t, result.IsConflict("102"))
}

func TestAvailabilityChecker_SkipsWithoutDates(t *testing.T) {
	api := &fakeAvailabilityAPI{respond: func(q models.AvailabilityQuery) ([]string, error) {
		return []string{"101"}, nil
	}}
	checker := NewAvailabilityChecker(api, 5*time.Millisecond, time.Second, testLogger())
	in, out := testDates()

	checker.Check(context.Background(), []string{"101"}, *in, *out)
	require.Equal(t, 1, api.callCount())

	checker.Schedule([]string{"101"}, in, nil)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 1, api.callCount(), "no call while a date is missing")
	result, ok := checker.Result()
	require.True(t, ok, "previous result is kept")
	assert.Equal(t, []string{"101"}, result.Conflicts)
}

func TestAvailabilityChecker_FailOpen(t *testing.T) {
	api := &fakeAvailabilityAPI{respond: func(q models.AvailabilityQuery) ([]string, error) {
		return nil, errors.New("connection refused")
	}}
	checker := NewAvailabilityChecker(api, time.Millisecond, time.Second, testLogger())
	in, out := testDates()

	result := checker.Check(context.Background(), []string{"101"}, *in, *out)

	assert.True(t, result.Available)
	assert.True(t, result.CheckFailed)
	assert.Empty(t, result.Conflicts)
	assert.False(t, result.HasConfirmedConflict())
}

func TestAvailabilityChecker_DiscardsStaleResponse(t *testing.T) {
	release := make(chan struct{})
	api := &fakeAvailabilityAPI{respond: func(q models.AvailabilityQuery) ([]string, error) {
		if len(q.RoomIDs) == 1 {
			// The first, slow request reports a conflict
			<-release
			return []string{"101"}, nil
		}
		return nil, nil
	}}
	checker := NewAvailabilityChecker(api, 5*time.Millisecond, time.Second, testLogger())
	in, out := testDates()

	checker.Schedule([]string{"101"}, in, out)
	require.Eventually(t, func() bool { return api.callCount() == 1 }, time.Second, time.Millisecond)

	checker.Schedule([]string{"101", "102"}, in, out)
	require.Eventually(t, func() bool {
		r, ok := checker.Result()
		return ok && len(r.Query.RoomIDs) == 2
	}, time.Second, time.Millisecond)

	close(release)
	time.Sleep(30 * time.Millisecond)

	result, ok := checker.Result()
	require.True(t, ok)
	assert.True(t, result.Available)
	assert.Equal(t, []string{"101", "102"}, result.Query.RoomIDs)
	assert.Empty(t, result.Conflicts)
	assert.Equal(t, 2, api.callCount())
}

func TestAvailabilityChecker_Ensure(t *testing.T) {
	api := &fakeAvailabilityAPI{}
	checker := NewAvailabilityChecker(api, time.Hour, time.Second, testLogger())
	in, out := testDates()

	checker.Ensure(context.Background(), []string{"101"}, *in, *out)
	checker.Ensure(context.Background(), []string{"101"}, *in, *out)
	assert.Equal(t, 1, api.callCount(), "second call reuses the matching result")

	checker.Ensure(context.Background(), []string{"102"}, *in, *out)
	assert.Equal(t, 2, api.callCount())
}

func TestAvailabilityChecker_Stop(t *testing.T) {
	api := &fakeAvailabilityAPI{}
	checker := NewAvailabilityChecker(api, 10*time.Millisecond, time.Second, testLogger())
	in, out := testDates()

	checker.Schedule([]string{"101"}, in, out)
	assert.True(t, checker.Pending())
	checker.Stop()
	checker.Schedule([]string{"102"}, in, out)

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 0, api.callCount())
	assert.False(t, checker.Pending())
}
