// Package notification raises in-app alerts for new messages and pushes
// them to offline devices.
package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketchat-backend/internal/database"
	"marketchat-backend/internal/domain"
	"marketchat-backend/internal/realtime"
	"marketchat-backend/pkg/constants"
	appErrors "marketchat-backend/pkg/errors"
	"marketchat-backend/pkg/logger"
	"marketchat-backend/pkg/push"
)

// ConversationWatcher streams a user's conversation list
type ConversationWatcher interface {
	ListenToConversations(ctx context.Context, userID uuid.UUID, callback func([]*domain.Conversation)) (*realtime.Subscription, error)
}

// ViewingRepository interface
type ViewingRepository interface {
	SetViewing(ctx context.Context, userID, conversationID uuid.UUID) error
	GetViewing(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
}

// PresenceRepository interface
type PresenceRepository interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID) error
	SetUserOffline(ctx context.Context, userID uuid.UUID) error
	RefreshPresence(ctx context.Context, userID uuid.UUID) error
	GetPresence(ctx context.Context, userID uuid.UUID) (*domain.Presence, error)
	FilterOffline(ctx context.Context, userIDs []uuid.UUID) ([]uuid.UUID, error)
}

// PushSender delivers device notifications
type PushSender interface {
	SendToUsers(ctx context.Context, notification *push.Notification, userIDs []uuid.UUID) (*push.SendResult, error)
}

// Service handles notification business logic
type Service struct {
	conversations ConversationWatcher
	viewingRepo   ViewingRepository
	presenceRepo  PresenceRepository
	pushSender    PushSender
	now           func() time.Time
}

// NewService creates a new notification service. pushSender may be nil to
// disable device pushes.
func NewService(
	conversations ConversationWatcher,
	viewingRepo ViewingRepository,
	presenceRepo PresenceRepository,
	pushSender PushSender,
) *Service {
	return &Service{
		conversations: conversations,
		viewingRepo:   viewingRepo,
		presenceRepo:  presenceRepo,
		pushSender:    pushSender,
		now:           time.Now,
	}
}

// Watch feeds the user's conversation list into a fresh Tracker and passes
// every resulting alert to sink. Each call has its own baseline.
func (s *Service) Watch(ctx context.Context, userID uuid.UUID, sink func(domain.Alert)) (*realtime.Subscription, error) {
	tracker := NewTracker(userID)
	return s.conversations.ListenToConversations(ctx, userID, func(conversations []*domain.Conversation) {
		viewing, err := s.viewingRepo.GetViewing(ctx, userID)
		if err != nil {
			// Without the marker, alert rather than stay silent
			logger.FromContext(ctx).Debug("Viewing marker unavailable", zap.Error(err))
			viewing = uuid.Nil
		}
		for _, alert := range tracker.Observe(conversations, viewing, s.now()) {
			sink(alert)
		}
	})
}

// SetViewing records the conversation the user has open; uuid.Nil clears it
func (s *Service) SetViewing(ctx context.Context, userID, conversationID uuid.UUID) error {
	return s.viewingRepo.SetViewing(ctx, userID, conversationID)
}

// NotifyOffline sends a device push for msg to recipients without presence
func (s *Service) NotifyOffline(ctx context.Context, conv *domain.Conversation, msg *domain.Message, recipientIDs []uuid.UUID) {
	if s.pushSender == nil || len(recipientIDs) == 0 {
		return
	}
	log := logger.FromContext(ctx).With(
		zap.String("conversation_id", conv.ConversationID.String()),
		zap.String("message_id", msg.MessageID.String()))

	offline, err := s.presenceRepo.FilterOffline(ctx, recipientIDs)
	if err != nil {
		log.Warn("Presence unavailable, pushing to all recipients", zap.Error(err))
		offline = recipientIDs
	}
	if len(offline) == 0 {
		return
	}

	view := *conv
	senderID := msg.SenderID
	view.LastMessage = msg.Text
	view.LastMessageType = msg.Type
	view.LastMessageSenderID = &senderID
	if msg.SenderName != "" {
		names := make(map[uuid.UUID]string, len(conv.ParticipantNames)+1)
		for id, name := range conv.ParticipantNames {
			names[id] = name
		}
		names[senderID] = msg.SenderName
		view.ParticipantNames = names
	}
	alert := BuildAlert(&view, s.now())

	result, err := s.pushSender.SendToUsers(ctx, &push.Notification{
		Title:    alert.Title,
		Body:     alert.Body,
		Sound:    constants.NotificationSound,
		Priority: "high",
		Data: map[string]string{
			"type":            "message",
			"conversation_id": conv.ConversationID.String(),
			"message_id":      msg.MessageID.String(),
		},
	}, offline)
	if err != nil {
		log.Warn("Offline push failed", zap.Error(err))
		return
	}
	log.Debug("Offline push sent",
		zap.Int("recipients", len(offline)),
		zap.Int("success", result.SuccessCount),
		zap.Int("failure", result.FailureCount))
}

// SetPresence marks the user online or offline
func (s *Service) SetPresence(ctx context.Context, userID uuid.UUID, online bool) error {
	var err error
	if online {
		err = s.presenceRepo.SetUserOnline(ctx, userID)
	} else {
		err = s.presenceRepo.SetUserOffline(ctx, userID)
	}
	return presenceError(err)
}

// RefreshPresence keeps user status alive (heartbeat)
func (s *Service) RefreshPresence(ctx context.Context, userID uuid.UUID) error {
	return presenceError(s.presenceRepo.RefreshPresence(ctx, userID))
}

// GetPresence returns a user's online state and last-seen time
func (s *Service) GetPresence(ctx context.Context, userID uuid.UUID) (*domain.Presence, error) {
	presence, err := s.presenceRepo.GetPresence(ctx, userID)
	if err != nil {
		return nil, presenceError(err)
	}
	return presence, nil
}

func presenceError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrRedisDegraded):
		return appErrors.ServiceUnavailableError("Presence is temporarily unavailable")
	default:
		return appErrors.Wrap(appErrors.ErrCodeInternal, "Presence lookup failed", err)
	}
}
