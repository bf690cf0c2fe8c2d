package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"marketchat-backend/internal/database"
)

// ViewingRepository tracks which conversation a user currently has open
type ViewingRepository struct {
	client *database.RedisClient
	ttl    time.Duration
}

// NewViewingRepository creates a new ViewingRepository; markers lapse after ttl
// unless the client refreshes them.
func NewViewingRepository(client *database.RedisClient, ttl time.Duration) *ViewingRepository {
	return &ViewingRepository{client: client, ttl: ttl}
}

func viewingKey(userID uuid.UUID) string {
	return fmt.Sprintf("viewing:%s", userID)
}

// SetViewing records the open conversation; uuid.Nil clears it
func (r *ViewingRepository) SetViewing(ctx context.Context, userID, conversationID uuid.UUID) error {
	if conversationID == uuid.Nil {
		if err := r.client.SafeDel(ctx, viewingKey(userID)).Err(); err != nil {
			return fmt.Errorf("failed to clear viewing: %w", err)
		}
		return nil
	}
	if err := r.client.SafeSet(ctx, viewingKey(userID), conversationID.String(), r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set viewing: %w", err)
	}
	return nil
}

// GetViewing returns the open conversation or uuid.Nil
func (r *ViewingRepository) GetViewing(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	raw, err := r.client.SafeGet(ctx, viewingKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, nil
		}
		return uuid.Nil, fmt.Errorf("failed to get viewing: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, nil
	}
	return id, nil
}
