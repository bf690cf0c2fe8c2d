package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketchat-backend/internal/domain"
	"marketchat-backend/internal/realtime"
	"marketchat-backend/internal/repository/cockroach"
	"marketchat-backend/pkg/constants"
	appErrors "marketchat-backend/pkg/errors"
	"marketchat-backend/pkg/logger"
	"marketchat-backend/pkg/metrics"
	"marketchat-backend/pkg/sanitize"
)

// ConversationRepository interface
type ConversationRepository interface {
	FindDirect(ctx context.Context, directKey string) (uuid.UUID, error)
	CreateDirect(ctx context.Context, conv *domain.Conversation, directKey string, participants []domain.ConversationParticipant) (uuid.UUID, bool, error)
	CreateGroup(ctx context.Context, conv *domain.Conversation, participants []domain.ConversationParticipant) error
	AddParticipants(ctx context.Context, conversationID uuid.UUID, participants []domain.ConversationParticipant) ([]uuid.UUID, error)
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error)
	SetBlocked(ctx context.Context, conversationID, userID uuid.UUID, blocked bool) error
	ResetUnread(ctx context.Context, conversationID, userID uuid.UUID) error
}

// UserRepository interface
type UserRepository interface {
	GetProfiles(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*domain.UserProfile, error)
}

// TypingRepository interface
type TypingRepository interface {
	ActiveTypers(ctx context.Context, conversationID uuid.UUID, now time.Time) (map[uuid.UUID]time.Time, error)
}

// AuditLogger interface
type AuditLogger interface {
	LogConversationCreate(ctx context.Context, userID, conversationID uuid.UUID) error
	LogGroupCreate(ctx context.Context, adminID, conversationID uuid.UUID, memberCount int) error
	LogGroupMembersAdd(ctx context.Context, adminID, conversationID uuid.UUID, added int) error
	LogConversationBlock(ctx context.Context, userID, conversationID uuid.UUID, blocked bool) error
}

// Service handles conversation business logic
type Service struct {
	conversationRepo ConversationRepository
	userRepo         UserRepository
	typingRepo       TypingRepository
	broker           realtime.Broker
	auditLogger      AuditLogger
	now              func() time.Time
}

// NewService creates a new conversation service
func NewService(
	conversationRepo ConversationRepository,
	userRepo UserRepository,
	typingRepo TypingRepository,
	broker realtime.Broker,
	auditLogger AuditLogger,
) *Service {
	return &Service{
		conversationRepo: conversationRepo,
		userRepo:         userRepo,
		typingRepo:       typingRepo,
		broker:           broker,
		auditLogger:      auditLogger,
		now:              time.Now,
	}
}

// GetOrCreateConversation returns the direct conversation between the two
// users, creating it on first contact. An existing conversation is returned
// untouched.
func (s *Service) GetOrCreateConversation(ctx context.Context, input *domain.DirectConversationCreate) (uuid.UUID, error) {
	if input.SelfID == uuid.Nil || input.OtherID == uuid.Nil {
		return uuid.Nil, appErrors.MissingFieldError("other_id")
	}
	if input.SelfID == input.OtherID {
		return uuid.Nil, appErrors.ValidationError("Cannot start a conversation with yourself")
	}

	key := domain.DirectKey(input.SelfID, input.OtherID)
	id, err := s.conversationRepo.FindDirect(ctx, key)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, cockroach.ErrConversationNotFound) {
		return uuid.Nil, appErrors.DatabaseError(err)
	}

	names := map[uuid.UUID]string{
		input.SelfID:  sanitize.DisplayName(input.SelfName, constants.MaxGroupNameLength),
		input.OtherID: sanitize.DisplayName(input.OtherName, constants.MaxGroupNameLength),
	}
	photos := map[uuid.UUID]string{
		input.SelfID:  input.SelfPhoto,
		input.OtherID: input.OtherPhoto,
	}
	s.fillProfiles(ctx, []uuid.UUID{input.SelfID, input.OtherID}, names, photos)

	now := s.now().UTC()
	conv := domain.NewConversation(uuid.New())
	conv.CreatedBy = input.SelfID
	conv.CreatedAt = now
	conv.UpdatedAt = now

	participants := []domain.ConversationParticipant{
		newParticipant(input.SelfID, names, photos, false, now),
		newParticipant(input.OtherID, names, photos, false, now),
	}

	id, created, err := s.conversationRepo.CreateDirect(ctx, conv, key, participants)
	if err != nil {
		return uuid.Nil, appErrors.DatabaseError(err)
	}

	if created {
		metrics.ConversationCreatedTotal.WithLabelValues("direct").Inc()
		if err := s.auditLogger.LogConversationCreate(ctx, input.SelfID, id); err != nil {
			logger.FromContext(ctx).Warn("Failed to audit conversation create", zap.Error(err))
		}
		realtime.Notify(ctx, s.broker, realtime.KindConversation,
			realtime.UserTopics([]uuid.UUID{input.SelfID, input.OtherID})...)
	}
	return id, nil
}

// CreateGroupConversation always creates a new group with the caller as its
// only admin.
func (s *Service) CreateGroupConversation(ctx context.Context, input *domain.GroupConversationCreate) (uuid.UUID, error) {
	groupName := sanitize.DisplayName(input.GroupName, constants.MaxGroupNameLength)
	if groupName == "" {
		return uuid.Nil, appErrors.MissingFieldError("group_name")
	}

	members := dedupeMembers(input.MemberIDs, input.AdminID)
	if len(members) == 0 {
		return uuid.Nil, appErrors.ValidationError("A group needs at least one member besides the admin")
	}
	if len(members)+1 > constants.MaxGroupMembers {
		return uuid.Nil, appErrors.ValidationError(fmt.Sprintf("A group can have at most %d members", constants.MaxGroupMembers))
	}

	all := append([]uuid.UUID{input.AdminID}, members...)
	names := make(map[uuid.UUID]string, len(all))
	photos := make(map[uuid.UUID]string, len(all))
	for _, id := range all {
		names[id] = sanitize.DisplayName(input.Names[id], constants.MaxGroupNameLength)
		photos[id] = input.Photos[id]
	}
	s.fillProfiles(ctx, all, names, photos)

	now := s.now().UTC()
	adminID := input.AdminID
	conv := domain.NewConversation(uuid.New())
	conv.IsGroup = true
	conv.GroupName = groupName
	conv.GroupImage = input.GroupImage
	conv.CreatedBy = adminID
	conv.CreatedAt = now
	conv.UpdatedAt = now
	conv.LastMessage = fmt.Sprintf("%s created group \"%s\"", names[adminID], groupName)
	conv.LastMessageTime = &now
	conv.LastMessageSenderID = &adminID
	conv.LastMessageType = domain.MessageTypeText

	participants := make([]domain.ConversationParticipant, 0, len(all))
	for _, id := range all {
		participants = append(participants, newParticipant(id, names, photos, id == adminID, now))
	}

	if err := s.conversationRepo.CreateGroup(ctx, conv, participants); err != nil {
		return uuid.Nil, appErrors.DatabaseError(err)
	}

	metrics.ConversationCreatedTotal.WithLabelValues("group").Inc()
	if err := s.auditLogger.LogGroupCreate(ctx, adminID, conv.ConversationID, len(all)); err != nil {
		logger.FromContext(ctx).Warn("Failed to audit group create", zap.Error(err))
	}
	realtime.Notify(ctx, s.broker, realtime.KindConversation, realtime.UserTopics(all)...)

	logger.FromContext(ctx).Info("Group conversation created",
		zap.String("conversation_id", conv.ConversationID.String()),
		zap.Int("members", len(all)))
	return conv.ConversationID, nil
}

// AddGroupMembers adds members to a group. Only admins may add, and existing
// members are left as they are. Returns the ids that were actually added.
func (s *Service) AddGroupMembers(ctx context.Context, conversationID, actorID uuid.UUID, input *domain.GroupMembersAdd) ([]uuid.UUID, error) {
	conv, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsGroup {
		return nil, appErrors.ValidationError("Members can only be added to groups")
	}
	if !conv.IsAdmin(actorID) {
		return nil, appErrors.ForbiddenError("Only group admins can add members")
	}

	var candidates []uuid.UUID
	for _, id := range dedupeMembers(input.MemberIDs, actorID) {
		if !conv.HasParticipant(id) {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return []uuid.UUID{}, nil
	}
	if len(conv.Participants)+len(candidates) > constants.MaxGroupMembers {
		return nil, appErrors.ValidationError(fmt.Sprintf("A group can have at most %d members", constants.MaxGroupMembers))
	}

	names := make(map[uuid.UUID]string, len(candidates))
	photos := make(map[uuid.UUID]string, len(candidates))
	for _, id := range candidates {
		names[id] = sanitize.DisplayName(input.Names[id], constants.MaxGroupNameLength)
		photos[id] = input.Photos[id]
	}
	s.fillProfiles(ctx, candidates, names, photos)

	now := s.now().UTC()
	participants := make([]domain.ConversationParticipant, 0, len(candidates))
	for _, id := range candidates {
		participants = append(participants, newParticipant(id, names, photos, false, now))
	}

	added, err := s.conversationRepo.AddParticipants(ctx, conversationID, participants)
	if err != nil {
		return nil, appErrors.DatabaseError(err)
	}

	if len(added) > 0 {
		if err := s.auditLogger.LogGroupMembersAdd(ctx, actorID, conversationID, len(added)); err != nil {
			logger.FromContext(ctx).Warn("Failed to audit member add", zap.Error(err))
		}
		everyone := append(append([]uuid.UUID{}, conv.Participants...), added...)
		realtime.Notify(ctx, s.broker, realtime.KindConversation, realtime.UserTopics(everyone)...)
	}
	return added, nil
}

// BlockConversation adds the user to blockedBy. Blocking twice is a no-op.
func (s *Service) BlockConversation(ctx context.Context, conversationID, userID uuid.UUID) error {
	return s.setBlocked(ctx, conversationID, userID, true)
}

// UnblockConversation removes the user from blockedBy
func (s *Service) UnblockConversation(ctx context.Context, conversationID, userID uuid.UUID) error {
	return s.setBlocked(ctx, conversationID, userID, false)
}

func (s *Service) setBlocked(ctx context.Context, conversationID, userID uuid.UUID, blocked bool) error {
	conv, err := s.load(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return appErrors.NotParticipantError()
	}

	if err := s.conversationRepo.SetBlocked(ctx, conversationID, userID, blocked); err != nil {
		if errors.Is(err, cockroach.ErrParticipantNotFound) {
			return appErrors.NotParticipantError()
		}
		return appErrors.DatabaseError(err)
	}

	if err := s.auditLogger.LogConversationBlock(ctx, userID, conversationID, blocked); err != nil {
		logger.FromContext(ctx).Warn("Failed to audit block change", zap.Error(err))
	}
	realtime.Notify(ctx, s.broker, realtime.KindConversation, realtime.UserTopics(conv.Participants)...)
	return nil
}

// GetConversation returns a conversation the user belongs to
func (s *Service) GetConversation(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error) {
	conv, err := s.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, appErrors.NotParticipantError()
	}
	s.mergeTyping(ctx, conv, s.now())
	return conv, nil
}

// ListConversations returns the user's conversations, most recent message first
func (s *Service) ListConversations(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error) {
	conversations, _, err := s.snapshot(ctx, userID)
	return conversations, err
}

// ListenToConversations calls callback with the user's full conversation list
// now and after every change until the subscription is released.
func (s *Service) ListenToConversations(ctx context.Context, userID uuid.UUID, callback func([]*domain.Conversation)) (*realtime.Subscription, error) {
	return realtime.Watch(ctx, s.broker, "conversations", func(ctx context.Context) (time.Time, error) {
		conversations, next, err := s.snapshot(ctx, userID)
		if err != nil {
			return time.Time{}, err
		}
		callback(conversations)
		return next, nil
	}, realtime.UserConversationsTopic(userID))
}

// MarkConversationRead resets only the caller's unread counter
func (s *Service) MarkConversationRead(ctx context.Context, conversationID, userID uuid.UUID) error {
	if err := s.conversationRepo.ResetUnread(ctx, conversationID, userID); err != nil {
		if errors.Is(err, cockroach.ErrParticipantNotFound) {
			return appErrors.NotParticipantError()
		}
		return appErrors.DatabaseError(err)
	}
	realtime.Notify(ctx, s.broker, realtime.KindConversation, realtime.UserConversationsTopic(userID))
	return nil
}

// snapshot lists conversations with live typing leases merged in. next is
// the earliest lease expiry, when the list must be re-read.
func (s *Service) snapshot(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, time.Time, error) {
	conversations, err := s.conversationRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, time.Time{}, appErrors.DatabaseError(err)
	}
	if conversations == nil {
		conversations = []*domain.Conversation{}
	}

	now := s.now()
	var next time.Time
	for _, conv := range conversations {
		if expiry := s.mergeTyping(ctx, conv, now); !expiry.IsZero() && (next.IsZero() || expiry.Before(next)) {
			next = expiry
		}
	}
	return conversations, next, nil
}

// mergeTyping fills TypingUsers from unexpired leases and returns the
// earliest expiry. Typing is best effort: a Redis failure leaves it empty.
func (s *Service) mergeTyping(ctx context.Context, conv *domain.Conversation, now time.Time) time.Time {
	leases, err := s.typingRepo.ActiveTypers(ctx, conv.ConversationID, now)
	if err != nil {
		logger.FromContext(ctx).Debug("Typing leases unavailable",
			zap.String("conversation_id", conv.ConversationID.String()),
			zap.Error(err))
		return time.Time{}
	}

	var earliest time.Time
	for userID, until := range leases {
		if !conv.HasParticipant(userID) {
			continue
		}
		conv.TypingUsers[userID] = true
		if earliest.IsZero() || until.Before(earliest) {
			earliest = until
		}
	}
	return earliest
}

func (s *Service) load(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	conv, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, cockroach.ErrConversationNotFound) {
			return nil, appErrors.NotFoundError("Conversation")
		}
		return nil, appErrors.DatabaseError(err)
	}
	return conv, nil
}

// fillProfiles completes missing names and photos from the users table.
// Names still missing afterwards fall back to the default display name.
func (s *Service) fillProfiles(ctx context.Context, ids []uuid.UUID, names, photos map[uuid.UUID]string) {
	var missing []uuid.UUID
	for _, id := range ids {
		if names[id] == "" || photos[id] == "" {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		profiles, err := s.userRepo.GetProfiles(ctx, missing)
		if err != nil {
			logger.FromContext(ctx).Warn("Failed to load user profiles", zap.Error(err))
		}
		for _, id := range missing {
			profile, ok := profiles[id]
			if !ok {
				continue
			}
			if names[id] == "" {
				names[id] = strings.TrimSpace(profile.DisplayName)
			}
			if photos[id] == "" {
				photos[id] = profile.PhotoURL()
			}
		}
	}

	for _, id := range ids {
		if names[id] == "" {
			names[id] = constants.DefaultDisplayName
		}
	}
}

func newParticipant(id uuid.UUID, names, photos map[uuid.UUID]string, admin bool, joined time.Time) domain.ConversationParticipant {
	return domain.ConversationParticipant{
		UserID:      id,
		DisplayName: names[id],
		PhotoURL:    photos[id],
		IsAdmin:     admin,
		JoinedAt:    joined,
	}
}

// dedupeMembers drops duplicates, nil ids and exclude, keeping first-seen order
func dedupeMembers(ids []uuid.UUID, exclude uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
