package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smartstay/booking-core/internal/models"
)

const draftKeyPrefix = "booking:draft:"

// DraftRepository snapshots wizard sessions to redis so a tab can resume
// after a restart. Entries expire on their own after the TTL.
type DraftRepository struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewDraftRepository creates a new draft repository
func NewDraftRepository(client redis.Cmdable, ttl time.Duration) *DraftRepository {
	return &DraftRepository{
		client: client,
		ttl:    ttl,
	}
}

// Save writes the session and refreshes its TTL
func (r *DraftRepository) Save(ctx context.Context, session models.DraftSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode draft %s: %w", session.ID, err)
	}

	if err := r.client.Set(ctx, draftKeyPrefix+session.ID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save draft %s: %w", session.ID, err)
	}
	return nil
}

// Get loads a session. Missing or expired sessions return models.ErrSessionNotFound.
func (r *DraftRepository) Get(ctx context.Context, id string) (*models.DraftSession, error) {
	data, err := r.client.Get(ctx, draftKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load draft %s: %w", id, err)
	}

	var session models.DraftSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode draft %s: %w", id, err)
	}
	return &session, nil
}

// Delete removes a session
func (r *DraftRepository) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, draftKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete draft %s: %w", id, err)
	}
	return nil
}
