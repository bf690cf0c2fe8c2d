package chat

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketchat-backend/internal/domain"
	"marketchat-backend/internal/realtime"
	"marketchat-backend/internal/repository/cassandra"
	"marketchat-backend/pkg/constants"
	appErrors "marketchat-backend/pkg/errors"
	"marketchat-backend/pkg/logger"
	"marketchat-backend/pkg/metrics"
	"marketchat-backend/pkg/sanitize"
)

const maxEmojiRunes = 8

// DeleteMessage soft-deletes a message (only if user is the sender) and
// returns its tombstone. Identity, sender and timestamp are kept.
func (s *Service) DeleteMessage(ctx context.Context, conversationID, messageID, callerID uuid.UUID) (*domain.Message, error) {
	msg, err := s.loadOwnMessage(ctx, conversationID, messageID, callerID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return msg, nil
	}

	if err := s.messageRepo.SoftDelete(ctx, conversationID, messageID); err != nil {
		if errors.Is(err, cassandra.ErrMessageNotFound) {
			return nil, appErrors.NotFoundError("Message")
		}
		return nil, appErrors.DatabaseError(err)
	}

	metrics.MessageDeletedTotal.Inc()
	if err := s.auditLogger.LogMessageDelete(ctx, callerID, conversationID, messageID); err != nil {
		logger.FromContext(ctx).Warn("Failed to audit message delete", zap.Error(err))
	}
	realtime.Notify(ctx, s.broker, realtime.KindMessageState, realtime.ConversationMessagesTopic(conversationID))

	msg.Tombstone()
	return msg, nil
}

// EditMessage replaces the text of one of the caller's text messages
func (s *Service) EditMessage(ctx context.Context, conversationID, messageID, callerID uuid.UUID, text string) (*domain.Message, error) {
	text = sanitize.MessageText(text)
	if strings.TrimSpace(text) == "" {
		return nil, appErrors.MissingFieldError("text")
	}
	if utf8.RuneCountInString(text) > constants.MaxMessageLength {
		return nil, appErrors.ValidationError("Message is too long")
	}

	msg, err := s.loadOwnMessage(ctx, conversationID, messageID, callerID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, appErrors.ConflictError("Deleted messages cannot be edited")
	}
	if msg.Type != domain.MessageTypeText {
		return nil, appErrors.ValidationError("Only text messages can be edited")
	}

	if err := s.messageRepo.UpdateText(ctx, conversationID, messageID, text); err != nil {
		if errors.Is(err, cassandra.ErrMessageNotFound) {
			// Deleted between the read and the conditional write
			return nil, appErrors.ConflictError("Deleted messages cannot be edited")
		}
		return nil, appErrors.DatabaseError(err)
	}

	if err := s.auditLogger.LogMessageEdit(ctx, callerID, conversationID, messageID); err != nil {
		logger.FromContext(ctx).Warn("Failed to audit message edit", zap.Error(err))
	}
	realtime.Notify(ctx, s.broker, realtime.KindMessageState, realtime.ConversationMessagesTopic(conversationID))

	msg.Text = text
	msg.IsEdited = true
	return msg, nil
}

// ToggleReaction sets the user's single reaction on a message. Sending the
// same emoji again removes it.
func (s *Service) ToggleReaction(ctx context.Context, conversationID, messageID, userID uuid.UUID, emoji string) (*domain.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, appErrors.MissingFieldError("emoji")
	}
	if utf8.RuneCountInString(emoji) > maxEmojiRunes {
		return nil, appErrors.ValidationError("emoji is too long")
	}

	if _, err := s.loadForParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	msg, err := s.messageRepo.Get(ctx, conversationID, messageID)
	if err != nil {
		if errors.Is(err, cassandra.ErrMessageNotFound) {
			return nil, appErrors.NotFoundError("Message")
		}
		return nil, appErrors.DatabaseError(err)
	}
	if msg.IsDeleted {
		return nil, appErrors.ConflictError("Deleted messages cannot be reacted to")
	}

	next := emoji
	reactions := make([]domain.Reaction, 0, len(msg.Reactions)+1)
	for _, r := range msg.Reactions {
		if r.UserID == userID {
			if r.Emoji == emoji {
				next = ""
			}
			continue
		}
		reactions = append(reactions, r)
	}

	if err := s.messageRepo.SetReaction(ctx, conversationID, messageID, userID, next); err != nil {
		return nil, appErrors.DatabaseError(err)
	}
	realtime.Notify(ctx, s.broker, realtime.KindMessageState, realtime.ConversationMessagesTopic(conversationID))

	if next != "" {
		reactions = append(reactions, domain.Reaction{Emoji: next, UserID: userID})
	}
	msg.Reactions = reactions
	return msg, nil
}
