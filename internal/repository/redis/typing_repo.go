package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"marketchat-backend/internal/database"
)

// TypingRepository stores typing signals as leases: a sorted set per
// conversation whose scores are lease expiry times in unix milliseconds.
// Readers ignore expired members, so an abandoned signal lapses on its own.
type TypingRepository struct {
	client *database.RedisClient
}

// NewTypingRepository creates a new TypingRepository
func NewTypingRepository(client *database.RedisClient) *TypingRepository {
	return &TypingRepository{client: client}
}

func typingKey(conversationID uuid.UUID) string {
	return fmt.Sprintf("typing:%s", conversationID)
}

// SetTyping grants or renews userID's lease until the given time
func (r *TypingRepository) SetTyping(ctx context.Context, conversationID, userID uuid.UUID, until time.Time) error {
	key := typingKey(conversationID)
	if err := r.client.SafeZAdd(ctx, key, userID.String(), float64(until.UnixMilli())).Err(); err != nil {
		return fmt.Errorf("failed to set typing: %w", err)
	}
	// The key itself never outlives the longest lease by much
	if err := r.client.SafeExpire(ctx, key, time.Until(until)+time.Minute).Err(); err != nil {
		return fmt.Errorf("failed to set typing expiry: %w", err)
	}
	return nil
}

// ClearTyping drops userID's lease
func (r *TypingRepository) ClearTyping(ctx context.Context, conversationID, userID uuid.UUID) error {
	if err := r.client.SafeZRem(ctx, typingKey(conversationID), userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to clear typing: %w", err)
	}
	return nil
}

// ActiveTypers returns each user whose lease is still valid at now, with its expiry
func (r *TypingRepository) ActiveTypers(ctx context.Context, conversationID uuid.UUID, now time.Time) (map[uuid.UUID]time.Time, error) {
	key := typingKey(conversationID)
	nowMs := strconv.FormatInt(now.UnixMilli(), 10)

	// Housekeeping only; a failure here does not affect the result
	_ = r.client.SafeZRemRangeByScore(ctx, key, "-inf", "("+nowMs).Err()

	members, err := r.client.SafeZRangeByScoreWithScores(ctx, key, "("+nowMs, "+inf").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read typing leases: %w", err)
	}

	typers := make(map[uuid.UUID]time.Time, len(members))
	for _, z := range members {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		userID, err := uuid.Parse(member)
		if err != nil {
			continue
		}
		typers[userID] = time.UnixMilli(int64(z.Score))
	}
	return typers, nil
}
