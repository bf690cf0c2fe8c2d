package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"marketchat-backend/internal/database"
	"marketchat-backend/internal/domain"
	"marketchat-backend/pkg/constants"
)

// PresenceRepository handles user online/offline status in Redis
type PresenceRepository struct {
	client *database.RedisClient
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client}
}

func presenceKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:%s", userID)
}

func lastSeenKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:lastseen:%s", userID)
}

// SetUserOnline marks user as online until the presence TTL lapses
func (r *PresenceRepository) SetUserOnline(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.SafeSet(ctx, presenceKey(userID), "online", constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to set user online: %w", err)
	}
	return r.touchLastSeen(ctx, userID)
}

// SetUserOffline marks user as offline and records when they were last seen
func (r *PresenceRepository) SetUserOffline(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.SafeDel(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	return r.touchLastSeen(ctx, userID)
}

// RefreshPresence keeps user online (heartbeat)
func (r *PresenceRepository) RefreshPresence(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.SafeExpire(ctx, presenceKey(userID), constants.PresenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh presence: %w", err)
	}
	return r.touchLastSeen(ctx, userID)
}

func (r *PresenceRepository) touchLastSeen(ctx context.Context, userID uuid.UUID) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if err := r.client.SafeSet(ctx, lastSeenKey(userID), now, constants.LastSeenRetention).Err(); err != nil {
		return fmt.Errorf("failed to record last seen: %w", err)
	}
	return nil
}

// IsUserOnline checks if user is currently online
func (r *PresenceRepository) IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	exists, err := r.client.SafeExists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return exists > 0, nil
}

// GetPresence returns online state and last-seen time
func (r *PresenceRepository) GetPresence(ctx context.Context, userID uuid.UUID) (*domain.Presence, error) {
	online, err := r.IsUserOnline(ctx, userID)
	if err != nil {
		return nil, err
	}

	presence := &domain.Presence{UserID: userID, Online: online}
	raw, err := r.client.SafeGet(ctx, lastSeenKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return presence, nil
		}
		return nil, fmt.Errorf("failed to get last seen: %w", err)
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		seen := time.Unix(unix, 0).UTC()
		presence.LastSeen = &seen
	}
	return presence, nil
}

// FilterOffline returns the subset of userIDs that are not online
func (r *PresenceRepository) FilterOffline(ctx context.Context, userIDs []uuid.UUID) ([]uuid.UUID, error) {
	offline := make([]uuid.UUID, 0, len(userIDs))
	for _, id := range userIDs {
		online, err := r.IsUserOnline(ctx, id)
		if err != nil {
			return nil, err
		}
		if !online {
			offline = append(offline, id)
		}
	}
	return offline, nil
}

