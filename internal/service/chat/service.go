package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketchat-backend/internal/database"
	"marketchat-backend/internal/domain"
	"marketchat-backend/internal/realtime"
	"marketchat-backend/internal/repository/cassandra"
	"marketchat-backend/internal/repository/cockroach"
	"marketchat-backend/pkg/constants"
	appCtx "marketchat-backend/pkg/context"
	appErrors "marketchat-backend/pkg/errors"
	"marketchat-backend/pkg/logger"
	"marketchat-backend/pkg/metrics"
	"marketchat-backend/pkg/sanitize"
)

// MessageRepository interface
type MessageRepository interface {
	ClaimClientID(ctx context.Context, conversationID, senderID, clientID, messageID uuid.UUID) (uuid.UUID, error)
	Insert(ctx context.Context, msg *domain.Message) (*domain.Message, bool, error)
	Get(ctx context.Context, conversationID, messageID uuid.UUID) (*domain.Message, error)
	ListSince(ctx context.Context, conversationID uuid.UUID, since time.Time) ([]domain.Message, error)
	ListRecent(ctx context.Context, conversationID uuid.UUID, since time.Time, limit int) ([]domain.Message, error)
	AdvanceStatus(ctx context.Context, conversationID, messageID uuid.UUID, next domain.MessageStatus) (bool, error)
	SoftDelete(ctx context.Context, conversationID, messageID uuid.UUID) error
	UpdateText(ctx context.Context, conversationID, messageID uuid.UUID, text string) error
	SetReaction(ctx context.Context, conversationID, messageID, userID uuid.UUID, emoji string) error
}

// ConversationRepository interface
type ConversationRepository interface {
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	ApplyMessage(ctx context.Context, conversationID uuid.UUID, summary domain.MessageSummary, recipientIDs []uuid.UUID) (bool, error)
	ResetUnread(ctx context.Context, conversationID, userID uuid.UUID) error
}

// TypingRepository interface
type TypingRepository interface {
	SetTyping(ctx context.Context, conversationID, userID uuid.UUID, until time.Time) error
	ClearTyping(ctx context.Context, conversationID, userID uuid.UUID) error
}

// OfflineNotifier delivers device pushes for a new message
type OfflineNotifier interface {
	NotifyOffline(ctx context.Context, conv *domain.Conversation, msg *domain.Message, recipientIDs []uuid.UUID)
}

// AuditLogger interface
type AuditLogger interface {
	LogMessageDelete(ctx context.Context, userID, conversationID, messageID uuid.UUID) error
	LogMessageEdit(ctx context.Context, userID, conversationID, messageID uuid.UUID) error
}

// Config tunes the message pipeline
type Config struct {
	TypingLeaseTTL    time.Duration
	ReadReceiptWindow int
}


// Service handles chat business logic
type Service struct {
	messageRepo      MessageRepository
	conversationRepo ConversationRepository
	typingRepo       TypingRepository
	broker           realtime.Broker
	notifier         OfflineNotifier
	auditLogger      AuditLogger
	cfg              Config
	now              func() time.Time
}

// NewService creates a new chat service
func NewService(
	messageRepo MessageRepository,
	conversationRepo ConversationRepository,
	typingRepo TypingRepository,
	broker realtime.Broker,
	notifier OfflineNotifier,
	auditLogger AuditLogger,
	cfg Config,
) *Service {
	if cfg.TypingLeaseTTL <= 0 {
		cfg.TypingLeaseTTL = 5 * time.Second
	}
	if cfg.ReadReceiptWindow <= 0 {
		cfg.ReadReceiptWindow = 50
	}
	return &Service{
		messageRepo:      messageRepo,
		conversationRepo: conversationRepo,
		typingRepo:       typingRepo,
		broker:           broker,
		notifier:         notifier,
		auditLogger:      auditLogger,
		cfg:              cfg,
		now:              time.Now,
	}
}

// SendMessage appends a message and projects it into the conversation
// summary and unread counters.
//
// The append and the projection live in different stores. If the projection
// fails the error is returned and the caller retries with the same
// ClientMessageID: the append is then a no-op and the projection runs once.
func (s *Service) SendMessage(ctx context.Context, input *domain.MessageSend) (*domain.Message, error) {
	msgType, text, err := validateSend(input)
	if err != nil {
		metrics.MessageSendRejectedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	conv, err := s.loadForParticipant(ctx, input.ConversationID, input.SenderID)
	if err != nil {
		metrics.MessageSendRejectedTotal.WithLabelValues("not_participant").Inc()
		return nil, err
	}
	if conv.IsBlocked() {
		metrics.MessageSendRejectedTotal.WithLabelValues("blocked").Inc()
		return nil, appErrors.BlockedError()
	}

	messageID, err := s.assignMessageID(ctx, input)
	if err != nil {
		return nil, err
	}

	senderName := sanitize.DisplayName(input.SenderName, constants.MaxGroupNameLength)
	if senderName == "" {
		senderName = conv.ParticipantNames[input.SenderID]
	}

	msg := &domain.Message{
		MessageID:      messageID,
		ConversationID: input.ConversationID,
		SenderID:       input.SenderID,
		SenderName:     senderName,
		Text:           text,
		Type:           msgType,
		MediaURL:       strings.TrimSpace(input.MediaURL),
		MediaDuration:  input.MediaDuration,
		IsOneTimeView:  input.IsOneTimeView,
		Status:         domain.MessageStatusSent,
		ReplyTo:        input.ReplyTo,
		Reactions:      []domain.Reaction{},
		Timestamp:      domain.MessageTime(messageID),
	}

	started := time.Now()
	stored, created, err := s.messageRepo.Insert(ctx, msg)
	metrics.MessageSendDuration.WithLabelValues("append").Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, appErrors.DatabaseError(err)
	}

	recipients := recipientsFor(conv, input.SenderID, input.RecipientIDs)
	summary := domain.MessageSummary{
		MessageID:  stored.MessageID,
		Text:       domain.SummaryText(stored.Type, stored.Text),
		Time:       stored.Timestamp,
		SenderID:   stored.SenderID,
		SenderName: stored.SenderName,
		Type:       stored.Type,
	}

	started = time.Now()
	applied, err := s.conversationRepo.ApplyMessage(ctx, input.ConversationID, summary, recipients)
	metrics.MessageSendDuration.WithLabelValues("summary").Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.MessageSummaryFailedTotal.Inc()
		logger.FromContext(ctx).Error("Message stored but conversation summary failed",
			zap.String("conversation_id", input.ConversationID.String()),
			zap.String("message_id", stored.MessageID.String()),
			zap.Error(err))
		return nil, appErrors.DatabaseError(err)
	}

	if !created && !applied {
		// Full retry of a send that already completed
		return stored, nil
	}

	started = time.Now()
	realtime.Notify(ctx, s.broker, realtime.KindMessage, realtime.ConversationMessagesTopic(input.ConversationID))
	realtime.Notify(ctx, s.broker, realtime.KindConversation, realtime.UserTopics(conv.Participants)...)
	metrics.MessageSendDuration.WithLabelValues("publish").Observe(time.Since(started).Seconds())

	if err := s.typingRepo.ClearTyping(ctx, input.ConversationID, input.SenderID); err != nil {
		logger.FromContext(ctx).Debug("Failed to clear typing lease", zap.Error(err))
	}

	if created {
		metrics.MessageSentTotal.WithLabelValues(string(stored.Type)).Inc()
	}
	if applied && s.notifier != nil && len(recipients) > 0 {
		go func() {
			pushCtx, cancel := appCtx.Detached(ctx, 30*time.Second)
			defer cancel()
			s.notifier.NotifyOffline(pushCtx, conv, stored, recipients)
		}()
	}

	return stored, nil
}

// ListMessages returns every message of the conversation, oldest first
func (s *Service) ListMessages(ctx context.Context, conversationID, userID uuid.UUID) ([]domain.Message, error) {
	conv, err := s.loadForParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	return s.listMessages(ctx, conv)
}

// ListenToMessages calls callback with the full ordered message list now and
// after every change to the conversation's messages.
func (s *Service) ListenToMessages(ctx context.Context, conversationID, userID uuid.UUID, callback func([]domain.Message)) (*realtime.Subscription, error) {
	conv, err := s.loadForParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	return realtime.Watch(ctx, s.broker, "messages", func(ctx context.Context) (time.Time, error) {
		messages, err := s.listMessages(ctx, conv)
		if err != nil {
			return time.Time{}, err
		}
		callback(messages)
		return time.Time{}, nil
	}, realtime.ConversationMessagesTopic(conversationID))
}

func (s *Service) listMessages(ctx context.Context, conv *domain.Conversation) ([]domain.Message, error) {
	messages, err := s.messageRepo.ListSince(ctx, conv.ConversationID, conv.CreatedAt)
	if err != nil {
		return nil, appErrors.DatabaseError(err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}

// UpdateMessageStatus advances the most recent messages the user received to
// status. delivered only moves sent messages; read moves anything not yet
// read and also clears the user's unread counter. Returns how many messages
// changed.
func (s *Service) UpdateMessageStatus(ctx context.Context, conversationID, userID uuid.UUID, status domain.MessageStatus) (int, error) {
	if status != domain.MessageStatusDelivered && status != domain.MessageStatusRead {
		return 0, appErrors.InvalidTransitionError(string(status))
	}

	conv, err := s.loadForParticipant(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}

	recent, err := s.messageRepo.ListRecent(ctx, conversationID, conv.CreatedAt, s.cfg.ReadReceiptWindow)
	if err != nil {
		return 0, appErrors.DatabaseError(err)
	}

	advanced := 0
	for _, msg := range recent {
		if msg.SenderID == userID || !msg.Status.CanAdvanceTo(status) {
			continue
		}
		ok, err := s.messageRepo.AdvanceStatus(ctx, conversationID, msg.MessageID, status)
		if err != nil {
			return advanced, appErrors.DatabaseError(err)
		}
		if ok {
			advanced++
		}
	}

	if status == domain.MessageStatusRead {
		if err := s.conversationRepo.ResetUnread(ctx, conversationID, userID); err != nil {
			if errors.Is(err, cockroach.ErrParticipantNotFound) {
				return advanced, appErrors.NotParticipantError()
			}
			return advanced, appErrors.DatabaseError(err)
		}
		realtime.Notify(ctx, s.broker, realtime.KindConversation, realtime.UserConversationsTopic(userID))
	}

	if advanced > 0 {
		metrics.MessageStatusAdvancedTotal.WithLabelValues(string(status)).Add(float64(advanced))
		realtime.Notify(ctx, s.broker, realtime.KindMessageState, realtime.ConversationMessagesTopic(conversationID))
	}
	return advanced, nil
}

// SetTypingStatus renews or clears the user's typing lease. Leases expire on
// their own, so a client that disappears stops showing as typing.
func (s *Service) SetTypingStatus(ctx context.Context, conversationID, userID uuid.UUID, isTyping bool) error {
	conv, err := s.loadForParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}

	if isTyping {
		err = s.typingRepo.SetTyping(ctx, conversationID, userID, s.now().Add(s.cfg.TypingLeaseTTL))
	} else {
		err = s.typingRepo.ClearTyping(ctx, conversationID, userID)
	}
	if err != nil {
		if errors.Is(err, database.ErrRedisDegraded) {
			return appErrors.ServiceUnavailableError("Typing indicators are temporarily unavailable")
		}
		return appErrors.Wrap(appErrors.ErrCodeInternal, "Failed to update typing status", err)
	}

	realtime.Notify(ctx, s.broker, realtime.KindTyping, realtime.UserTopics(conv.OtherParticipants(userID))...)
	return nil
}

func (s *Service) loadForParticipant(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error) {
	conv, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, cockroach.ErrConversationNotFound) {
			return nil, appErrors.NotFoundError("Conversation")
		}
		return nil, appErrors.DatabaseError(err)
	}
	if !conv.HasParticipant(userID) {
		return nil, appErrors.NotParticipantError()
	}
	return conv, nil
}

// assignMessageID stamps the message with server time. A ClientMessageID
// only identifies retries: the first attempt binds it to the new id and later
// attempts get that id back, along with its original timestamp.
func (s *Service) assignMessageID(ctx context.Context, input *domain.MessageSend) (uuid.UUID, error) {
	messageID := domain.NewMessageID(s.now())
	if input.ClientMessageID == nil || *input.ClientMessageID == uuid.Nil {
		return messageID, nil
	}
	bound, err := s.messageRepo.ClaimClientID(ctx, input.ConversationID, input.SenderID, *input.ClientMessageID, messageID)
	if err != nil {
		return uuid.Nil, appErrors.DatabaseError(err)
	}
	return bound, nil
}

func validateSend(input *domain.MessageSend) (domain.MessageType, string, error) {
	msgType := input.Type
	if msgType == "" {
		msgType = domain.MessageTypeText
	}
	if !msgType.Valid() {
		return "", "", appErrors.ValidationError("Unsupported message type: " + string(msgType))
	}

	text := sanitize.MessageText(input.Text)
	if len([]rune(text)) > constants.MaxMessageLength {
		return "", "", appErrors.ValidationError("Message is too long")
	}
	if msgType == domain.MessageTypeText && strings.TrimSpace(text) == "" {
		return "", "", appErrors.MissingFieldError("text")
	}
	if msgType != domain.MessageTypeText && strings.TrimSpace(input.MediaURL) == "" {
		return "", "", appErrors.MissingFieldError("media_url")
	}
	if input.MediaDuration < 0 {
		return "", "", appErrors.ValidationError("media_duration must not be negative")
	}
	return msgType, text, nil
}

// recipientsFor narrows requested recipients to participants other than the
// sender. An empty request means every other participant.
func recipientsFor(conv *domain.Conversation, senderID uuid.UUID, requested []uuid.UUID) []uuid.UUID {
	if len(requested) == 0 {
		return conv.OtherParticipants(senderID)
	}
	seen := make(map[uuid.UUID]struct{}, len(requested))
	recipients := make([]uuid.UUID, 0, len(requested))
	for _, id := range requested {
		if id == senderID || !conv.HasParticipant(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		recipients = append(recipients, id)
	}
	return recipients
}

func (s *Service) loadOwnMessage(ctx context.Context, conversationID, messageID, callerID uuid.UUID) (*domain.Message, error) {
	if _, err := s.loadForParticipant(ctx, conversationID, callerID); err != nil {
		return nil, err
	}
	msg, err := s.messageRepo.Get(ctx, conversationID, messageID)
	if err != nil {
		if errors.Is(err, cassandra.ErrMessageNotFound) {
			return nil, appErrors.NotFoundError("Message")
		}
		return nil, appErrors.DatabaseError(err)
	}
	if msg.SenderID != callerID {
		return nil, appErrors.ForbiddenError("Only the sender can change this message")
	}
	return msg, nil
}
