package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"marketchat-backend/internal/database"
	"marketchat-backend/pkg/constants"
	"marketchat-backend/pkg/logger"
	"marketchat-backend/pkg/push"
)

// ErrPushTokenNotFound is returned when a token id does not belong to the user
var ErrPushTokenNotFound = errors.New("push token not found")

// PushTokenRepository handles push notification token storage in Redis.
//
//	push:token:{token}        -> JSON token
//	push:id:{tokenID}         -> token value
//	push:user:{userID}:tokens -> SET of token values
type PushTokenRepository struct {
	client *database.RedisClient
}

// NewPushTokenRepository creates a new push token repository
func NewPushTokenRepository(client *database.RedisClient) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

func tokenKey(token string) string { return fmt.Sprintf("push:token:%s", token) }
func tokenIDKey(id uuid.UUID) string { return fmt.Sprintf("push:id:%s", id) }
func userTokensKey(userID uuid.UUID) string { return fmt.Sprintf("push:user:%s:tokens", userID) }

// Store writes a token and its indexes
func (r *PushTokenRepository) Store(ctx context.Context, token *push.Token) error {
	if r.client.IsDegraded() {
		return database.ErrRedisDegraded
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	pipe := r.client.Client.TxPipeline()
	pipe.Set(ctx, tokenKey(token.Token), data, constants.PushTokenExpiry)
	pipe.Set(ctx, tokenIDKey(token.ID), token.Token, constants.PushTokenExpiry)
	pipe.SAdd(ctx, userTokensKey(token.UserID), token.Token)
	pipe.Expire(ctx, userTokensKey(token.UserID), constants.PushTokenExpiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	logger.Debug("Push token stored",
		zap.String("token_id", token.ID.String()),
		zap.String("user_id", token.UserID.String()),
		zap.String("token_type", string(token.Type)))
	return nil
}

// GetByToken retrieves a token by its value; nil when unknown
func (r *PushTokenRepository) GetByToken(ctx context.Context, tokenStr string) (*push.Token, error) {
	data, err := r.client.SafeGet(ctx, tokenKey(tokenStr)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var token push.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &token, nil
}

// GetByUserID retrieves all tokens for a user
func (r *PushTokenRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*push.Token, error) {
	tokens, err := r.client.SafeSMembers(ctx, userTokensKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user tokens: %w", err)
	}

	var result []*push.Token
	for _, tokenStr := range tokens {
		token, err := r.GetByToken(ctx, tokenStr)
		if err != nil {
			logger.Warn("Failed to get token",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		if token == nil {
			// Token expired; drop the dangling set member
			_ = r.client.SafeSRem(ctx, userTokensKey(userID), tokenStr).Err()
			continue
		}
		result = append(result, token)
	}
	return result, nil
}

// Delete removes one of the user's tokens
func (r *PushTokenRepository) Delete(ctx context.Context, userID, tokenID uuid.UUID) error {
	tokenStr, err := r.client.SafeGet(ctx, tokenIDKey(tokenID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrPushTokenNotFound
		}
		return fmt.Errorf("failed to resolve token id: %w", err)
	}

	token, err := r.GetByToken(ctx, tokenStr)
	if err != nil {
		return err
	}
	if token == nil || token.UserID != userID {
		return ErrPushTokenNotFound
	}

	pipe := r.client.Client.TxPipeline()
	pipe.Del(ctx, tokenKey(tokenStr), tokenIDKey(tokenID))
	pipe.SRem(ctx, userTokensKey(userID), tokenStr)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// MarkInactive flags a token the provider rejected
func (r *PushTokenRepository) MarkInactive(ctx context.Context, tokenStr string) error {
	token, err := r.GetByToken(ctx, tokenStr)
	if err != nil || token == nil {
		return err
	}
	token.Active = false
	token.UpdatedAt = time.Now().Unix()
	return r.Store(ctx, token)
}
