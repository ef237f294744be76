package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smartstay/booking-core/internal/models"
)

// DraftStore persists draft sessions between restarts
type DraftStore interface {
	Save(ctx context.Context, session models.DraftSession) error
	Get(ctx context.Context, id string) (*models.DraftSession, error)
	Delete(ctx context.Context, id string) error
}

// DraftHolder is the payment side of a draft: it reports drafts a payment
// still holds and is told when a draft goes away
type DraftHolder interface {
	Holds(draftID string) bool
	DraftReleased(ctx context.Context, draftID string)
}

// DraftSessionConfig holds the timings of draft sessions
type DraftSessionConfig struct {
	Debounce            time.Duration // availability debounce
	AvailabilityTimeout time.Duration
	TTL                 time.Duration // idle time before a session is swept
	SweepInterval       time.Duration
}

type draftEntry struct {
	wizard   *BookingWizard
	lastSeen time.Time
}

// DraftSessionService owns the live wizards, one per browser tab.
// Sessions are kept in memory and snapshotted to the store after every
// change; a session missing from memory is rebuilt from its snapshot.
type DraftSessionService struct {
	store        DraftStore // nil disables snapshots
	availability AvailabilityAPI
	pricing      *PricingCalculator
	cfg          DraftSessionConfig
	logger       *logrus.Logger
	now          func() time.Time

	mu       sync.Mutex
	sessions map[string]*draftEntry
	holder   DraftHolder

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewDraftSessionService creates a new draft session service
func NewDraftSessionService(
	store DraftStore,
	availability AvailabilityAPI,
	pricing *PricingCalculator,
	cfg DraftSessionConfig,
	logger *logrus.Logger,
) *DraftSessionService {
	return &DraftSessionService{
		store:        store,
		availability: availability,
		pricing:      pricing,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
		sessions:     make(map[string]*draftEntry),
		stopCh:       make(chan struct{}),
	}
}

// Create opens a new wizard and returns its session id
func (s *DraftSessionService) Create(ctx context.Context, mode models.FlowMode, candidates []models.RoomSelection) (string, *BookingWizard, error) {
	wizard, err := NewBookingWizard(mode, candidates, s.pricing, s.newChecker())
	if err != nil {
		return "", nil, err
	}

	id := uuid.New().String()

	s.mu.Lock()
	s.sessions[id] = &draftEntry{wizard: wizard, lastSeen: s.now()}
	s.mu.Unlock()

	s.Save(ctx, id)

	s.logger.WithFields(logrus.Fields{
		"draft_id": id,
		"mode":     mode,
		"rooms":    len(candidates),
	}).Info("Draft session opened")

	return id, wizard, nil
}

// SetHolder registers the payment side. Without one, locked drafts are never swept.
func (s *DraftSessionService) SetHolder(holder DraftHolder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holder = holder
}

// Get returns the wizard for a session, restoring it from the store if needed
func (s *DraftSessionService) Get(ctx context.Context, id string) (*BookingWizard, error) {
	s.mu.Lock()
	if entry, ok := s.sessions[id]; ok {
		entry.lastSeen = s.now()
		s.mu.Unlock()
		return entry.wizard, nil
	}
	s.mu.Unlock()

	if s.store == nil {
		return nil, models.ErrSessionNotFound
	}

	snapshot, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	wizard := RestoreBookingWizard(snapshot.Mode, snapshot.Candidates, snapshot.Draft, s.pricing, s.newChecker())

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another request may have restored it first
	if entry, ok := s.sessions[id]; ok {
		wizard.Close()
		entry.lastSeen = s.now()
		return entry.wizard, nil
	}
	s.sessions[id] = &draftEntry{wizard: wizard, lastSeen: s.now()}

	s.logger.WithField("draft_id", id).Info("Draft session restored from snapshot")
	return wizard, nil
}

// Save snapshots the session. Failures are logged; the live session is still authoritative.
func (s *DraftSessionService) Save(ctx context.Context, id string) {
	if s.store == nil {
		return
	}

	s.mu.Lock()
	entry, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	if err := s.store.Save(ctx, entry.wizard.Session(id)); err != nil {
		s.logger.WithError(err).WithField("draft_id", id).Warn("Failed to snapshot draft session")
	}
}

// Discard drops a session after submission or abandonment
func (s *DraftSessionService) Discard(ctx context.Context, id string) error {
	s.mu.Lock()
	entry, ok := s.sessions[id]
	delete(s.sessions, id)
	holder := s.holder
	s.mu.Unlock()

	if ok {
		entry.wizard.Close()
	}
	if holder != nil {
		holder.DraftReleased(ctx, id)
	}

	if s.store != nil {
		if err := s.store.Delete(ctx, id); err != nil {
			return err
		}
	} else if !ok {
		return models.ErrSessionNotFound
	}

	s.logger.WithField("draft_id", id).Debug("Draft session discarded")
	return nil
}

// Count returns the number of live sessions
func (s *DraftSessionService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ============================================================================
// EXPIRATION
// ============================================================================

// Start begins the background sweep of idle sessions
func (s *DraftSessionService) Start() {
	s.logger.WithField("interval", s.cfg.SweepInterval).Info("Starting draft session sweeper")
	go s.run()
}

// Stop stops the sweeper and every wizard's availability timer
func (s *DraftSessionService) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping draft session sweeper")
		close(s.stopCh)

		s.mu.Lock()
		defer s.mu.Unlock()
		for _, entry := range s.sessions {
			entry.wizard.Close()
		}
	})
}

func (s *DraftSessionService) run() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce()
		case <-s.stopCh:
			s.logger.Info("Draft session sweeper stopped")
			return
		}
	}
}

// RunOnce evicts sessions idle longer than the TTL. Sessions held by a
// running submission or an open gateway session are kept until it resolves.
// Snapshots are left to expire in the store on their own.
func (s *DraftSessionService) RunOnce() int {
	cutoff := s.now().Add(-s.cfg.TTL)

	s.mu.Lock()
	holder := s.holder
	expired := make(map[string]*draftEntry)
	for id, entry := range s.sessions {
		if !entry.lastSeen.Before(cutoff) {
			continue
		}
		if entry.wizard.Locked() && (holder == nil || holder.Holds(id)) {
			continue
		}
		expired[id] = entry
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for id, entry := range expired {
		entry.wizard.Close()
		if holder != nil {
			holder.DraftReleased(ctx, id)
		}
	}

	if len(expired) > 0 {
		s.logger.WithField("count", len(expired)).Info("Evicted idle draft sessions")
	}
	return len(expired)
}

func (s *DraftSessionService) newChecker() *AvailabilityChecker {
	return NewAvailabilityChecker(s.availability, s.cfg.Debounce, s.cfg.AvailabilityTimeout, s.logger)
}

// IsSessionNotFound reports whether err means the draft does not exist
func IsSessionNotFound(err error) bool {
	return errors.Is(err, models.ErrSessionNotFound)
}
