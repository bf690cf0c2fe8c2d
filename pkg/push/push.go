package push

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketchat-backend/pkg/logger"
	"marketchat-backend/pkg/metrics"
)

// Provider defines interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	Priority    string            `json:"priority,omitempty"` // high, normal
	Sound       string            `json:"sound,omitempty"`
	Badge       *int              `json:"badge,omitempty"`
	Category    string            `json:"category,omitempty"`
	ClickAction string            `json:"click_action,omitempty"`
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"  // Firebase Cloud Messaging
	TokenTypeAPNs TokenType = "apns" // Apple Push Notification Service
	TokenTypeWeb  TokenType = "web"  // Web Push
)

// TokenTypeForPlatform maps a client platform to the token family it issues
func TokenTypeForPlatform(platform string) TokenType {
	switch platform {
	case "ios":
		return TokenTypeAPNs
	case "web":
		return TokenTypeWeb
	default:
		return TokenTypeFCM
	}
}

// Token represents a push notification token for a user
type Token struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	Platform  string    `json:"platform,omitempty"` // ios, android, web
	Active    bool      `json:"active"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// TokenRepository defines interface for storing and retrieving push tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	GetByToken(ctx context.Context, token string) (*Token, error)
	Delete(ctx context.Context, userID, tokenID uuid.UUID) error
	MarkInactive(ctx context.Context, token string) error
}

// Service handles push notification operations
type Service struct {
	provider Provider
	repo     TokenRepository
}

// NewService creates a new push notification service
func NewService(provider Provider, repo TokenRepository) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
	}
}

// RegisterToken registers a device token for a user. Registering a known
// token again reactivates it and moves it to the caller.
func (s *Service) RegisterToken(ctx context.Context, userID uuid.UUID, tokenStr, platform string) (*Token, error) {
	now := time.Now().Unix()

	existing, err := s.repo.GetByToken(ctx, tokenStr)
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	if existing != nil {
		if existing.UserID != userID {
			if err := s.repo.Delete(ctx, existing.UserID, existing.ID); err != nil {
				return nil, fmt.Errorf("failed to move token: %w", err)
			}
		}
		existing.UserID = userID
		existing.Platform = platform
		existing.Type = TokenTypeForPlatform(platform)
		existing.Active = true
		existing.UpdatedAt = now
		if err := s.repo.Store(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	token := &Token{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     tokenStr,
		Type:      TokenTypeForPlatform(platform),
		Platform:  platform,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Store(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// UnregisterToken removes one of the user's tokens
func (s *Service) UnregisterToken(ctx context.Context, userID, tokenID uuid.UUID) error {
	return s.repo.Delete(ctx, userID, tokenID)
}

// SendToUsers delivers a notification to every active device of the given users
func (s *Service) SendToUsers(ctx context.Context, notification *Notification, userIDs []uuid.UUID) (*SendResult, error) {
	var allTokens []string
	for _, userID := range userIDs {
		tokens, err := s.repo.GetByUserID(ctx, userID)
		if err != nil {
			logger.Warn("Failed to get push tokens for user",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}

		for _, token := range tokens {
			if token.Active {
				allTokens = append(allTokens, token.Token)
			}
		}
	}

	if len(allTokens) == 0 {
		return &SendResult{}, nil
	}

	result, err := s.provider.Send(ctx, notification, allTokens)
	if err != nil {
		metrics.PushSentTotal.WithLabelValues("error").Inc()
		logger.Error("Failed to send push notification",
			zap.Int("user_count", len(userIDs)),
			zap.Int("token_count", len(allTokens)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to send push notification: %w", err)
	}

	metrics.PushSentTotal.WithLabelValues("success").Add(float64(result.SuccessCount))
	metrics.PushSentTotal.WithLabelValues("failure").Add(float64(result.FailureCount))
	logger.Debug("Push notification sent",
		zap.Int("user_count", len(userIDs)),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount),
		zap.Int("invalid_tokens", len(result.InvalidTokens)))

	if len(result.InvalidTokens) > 0 {
		s.handleInvalidTokens(ctx, result.InvalidTokens)
	}

	return result, nil
}

// handleInvalidTokens marks invalid tokens as inactive
func (s *Service) handleInvalidTokens(ctx context.Context, invalidTokens []string) {
	for _, tokenStr := range invalidTokens {
		if err := s.repo.MarkInactive(ctx, tokenStr); err != nil {
			logger.Warn("Failed to mark token as inactive",
				zap.String("token_prefix", maskPushToken(tokenStr)),
				zap.Error(err))
		}
	}
}

// maskPushToken returns a masked push token for logging
func maskPushToken(token string) string {
	if len(token) <= 16 {
		return "********"
	}
	return token[:8] + "..." + token[len(token)-8:]
}

// MockProvider accepts every token and logs the notification
type MockProvider struct{}

// Send implements Provider interface
func (m *MockProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	logger.Debug("MockProvider: Sending notification",
		zap.String("title", notification.Title),
		zap.String("body", notification.Body),
		zap.Int("token_count", len(tokens)))

	return &SendResult{SuccessCount: len(tokens)}, nil
}
