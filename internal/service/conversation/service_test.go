package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketchat-backend/internal/domain"
	"marketchat-backend/internal/realtime"
	"marketchat-backend/internal/repository/cockroach"
	appErrors "marketchat-backend/pkg/errors"
)

// Mocks
type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) FindDirect(ctx context.Context, directKey string) (uuid.UUID, error) {
	args := m.Called(ctx, directKey)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockConversationRepository) CreateDirect(ctx context.Context, conv *domain.Conversation, directKey string, participants []domain.ConversationParticipant) (uuid.UUID, bool, error) {
	args := m.Called(ctx, conv, directKey, participants)
	return args.Get(0).(uuid.UUID), args.Bool(1), args.Error(2)
}

func (m *MockConversationRepository) CreateGroup(ctx context.Context, conv *domain.Conversation, participants []domain.ConversationParticipant) error {
	args := m.Called(ctx, conv, participants)
	return args.Error(0)
}

func (m *MockConversationRepository) AddParticipants(ctx context.Context, conversationID uuid.UUID, participants []domain.ConversationParticipant) ([]uuid.UUID, error) {
	args := m.Called(ctx, conversationID, participants)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockConversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) SetBlocked(ctx context.Context, conversationID, userID uuid.UUID, blocked bool) error {
	args := m.Called(ctx, conversationID, userID, blocked)
	return args.Error(0)
}

func (m *MockConversationRepository) ResetUnread(ctx context.Context, conversationID, userID uuid.UUID) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetProfiles(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*domain.UserProfile, error) {
	args := m.Called(ctx, userIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uuid.UUID]*domain.UserProfile), args.Error(1)
}

type MockTypingRepository struct {
	mock.Mock
}

func (m *MockTypingRepository) ActiveTypers(ctx context.Context, conversationID uuid.UUID, now time.Time) (map[uuid.UUID]time.Time, error) {
	args := m.Called(ctx, conversationID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uuid.UUID]time.Time), args.Error(1)
}

type MockAuditLogger struct {
	mock.Mock
}

func (m *MockAuditLogger) LogConversationCreate(ctx context.Context, userID, conversationID uuid.UUID) error {
	return m.Called(ctx, userID, conversationID).Error(0)
}

func (m *MockAuditLogger) LogGroupCreate(ctx context.Context, adminID, conversationID uuid.UUID, memberCount int) error {
	return m.Called(ctx, adminID, conversationID, memberCount).Error(0)
}

func (m *MockAuditLogger) LogGroupMembersAdd(ctx context.Context, adminID, conversationID uuid.UUID, added int) error {
	return m.Called(ctx, adminID, conversationID, added).Error(0)
}

func (m *MockAuditLogger) LogConversationBlock(ctx context.Context, userID, conversationID uuid.UUID, blocked bool) error {
	return m.Called(ctx, userID, conversationID, blocked).Error(0)
}

type fixture struct {
	service *Service
	convs   *MockConversationRepository
	users   *MockUserRepository
	typing  *MockTypingRepository
	audit   *MockAuditLogger
	broker  *realtime.MemoryBroker
	now     time.Time
}

func newFixture() *fixture {
	f := &fixture{
		convs:  new(MockConversationRepository),
		users:  new(MockUserRepository),
		typing: new(MockTypingRepository),
		audit:  new(MockAuditLogger),
		broker: realtime.NewMemoryBroker(),
		now:    time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	f.service = NewService(f.convs, f.users, f.typing, f.broker, f.audit)
	f.service.now = func() time.Time { return f.now }
	return f
}

func directConversation(a, b uuid.UUID) *domain.Conversation {
	conv := domain.NewConversation(uuid.New())
	conv.AddParticipant(domain.ConversationParticipant{UserID: a, DisplayName: "Ann"})
	conv.AddParticipant(domain.ConversationParticipant{UserID: b, DisplayName: "Bob"})
	return conv
}

func TestGetOrCreateConversation_ReturnsExisting(t *testing.T) {
	f := newFixture()
	self, other := uuid.New(), uuid.New()
	existing := uuid.New()
	ctx := context.Background()

	f.convs.On("FindDirect", ctx, domain.DirectKey(self, other)).Return(existing, nil)

	id, err := f.service.GetOrCreateConversation(ctx, &domain.DirectConversationCreate{
		SelfID: self, OtherID: other, SelfName: "Ann", OtherName: "Bob",
	})

	require.NoError(t, err)
	assert.Equal(t, existing, id)
	f.convs.AssertNotCalled(t, "CreateDirect", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetOrCreateConversation_SameKeyEitherDirection(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	assert.Equal(t, domain.DirectKey(a, b), domain.DirectKey(b, a))
}

func TestGetOrCreateConversation_CreatesWithZeroedState(t *testing.T) {
	f := newFixture()
	self, other := uuid.New(), uuid.New()
	ctx := context.Background()
	key := domain.DirectKey(self, other)

	f.convs.On("FindDirect", ctx, key).Return(uuid.Nil, cockroach.ErrConversationNotFound)
	f.users.On("GetProfiles", ctx, []uuid.UUID{self, other}).Return(map[uuid.UUID]*domain.UserProfile{}, nil)

	var created *domain.Conversation
	var participants []domain.ConversationParticipant
	f.convs.On("CreateDirect", ctx, mock.AnythingOfType("*domain.Conversation"), key, mock.Anything).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(*domain.Conversation)
			participants = args.Get(3).([]domain.ConversationParticipant)
		}).
		Return(uuid.Nil, true, nil).Once()
	f.audit.On("LogConversationCreate", ctx, self, mock.Anything).Return(nil)

	events, release, err := f.broker.Subscribe(ctx, realtime.UserConversationsTopic(other))
	require.NoError(t, err)
	defer release()

	_, err = f.service.GetOrCreateConversation(ctx, &domain.DirectConversationCreate{
		SelfID: self, OtherID: other, SelfName: "Ann", OtherName: "",
	})
	require.NoError(t, err)

	require.NotNil(t, created)
	assert.False(t, created.IsGroup)
	assert.Empty(t, created.LastMessage)
	assert.Nil(t, created.LastMessageTime)
	require.Len(t, participants, 2)
	assert.Equal(t, "Ann", participants[0].DisplayName)
	assert.Equal(t, "User", participants[1].DisplayName)
	for _, p := range participants {
		assert.Zero(t, p.UnreadCount)
		assert.False(t, p.HasBlocked)
	}

	select {
	case ev := <-events:
		assert.Equal(t, realtime.KindConversation, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("other participant was not notified")
	}
}

func TestGetOrCreateConversation_LostRaceReturnsWinner(t *testing.T) {
	f := newFixture()
	self, other := uuid.New(), uuid.New()
	winner := uuid.New()
	ctx := context.Background()

	f.convs.On("FindDirect", ctx, mock.Anything).Return(uuid.Nil, cockroach.ErrConversationNotFound)
	f.convs.On("CreateDirect", ctx, mock.Anything, mock.Anything, mock.Anything).Return(winner, false, nil)

	id, err := f.service.GetOrCreateConversation(ctx, &domain.DirectConversationCreate{
		SelfID: self, OtherID: other, SelfName: "Ann", OtherName: "Bob", SelfPhoto: "a.png", OtherPhoto: "b.png",
	})

	require.NoError(t, err)
	assert.Equal(t, winner, id)
	f.audit.AssertNotCalled(t, "LogConversationCreate", mock.Anything, mock.Anything, mock.Anything)
	f.users.AssertNotCalled(t, "GetProfiles", mock.Anything, mock.Anything)
}

func TestGetOrCreateConversation_RejectsSelf(t *testing.T) {
	f := newFixture()
	self := uuid.New()

	_, err := f.service.GetOrCreateConversation(context.Background(), &domain.DirectConversationCreate{
		SelfID: self, OtherID: self,
	})

	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeValidation))
}

func TestCreateGroupConversation(t *testing.T) {
	f := newFixture()
	admin, m1, m2 := uuid.New(), uuid.New(), uuid.New()
	ctx := context.Background()

	f.users.On("GetProfiles", ctx, mock.Anything).Return(map[uuid.UUID]*domain.UserProfile{}, nil)

	var created *domain.Conversation
	var participants []domain.ConversationParticipant
	f.convs.On("CreateGroup", ctx, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(*domain.Conversation)
			participants = args.Get(2).([]domain.ConversationParticipant)
		}).Return(nil)
	f.audit.On("LogGroupCreate", ctx, admin, mock.Anything, 3).Return(nil)

	id, err := f.service.CreateGroupConversation(ctx, &domain.GroupConversationCreate{
		AdminID:   admin,
		MemberIDs: []uuid.UUID{m1, m2, m1, admin},
		Names:     map[uuid.UUID]string{admin: "Alice", m1: "Max", m2: "Mia"},
		GroupName: "Sellers",
	})

	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, created.ConversationID, id)
	assert.True(t, created.IsGroup)
	assert.Equal(t, `Alice created group "Sellers"`, created.LastMessage)
	assert.Equal(t, admin, *created.LastMessageSenderID)
	assert.Equal(t, domain.MessageTypeText, created.LastMessageType)
	assert.Equal(t, f.now, *created.LastMessageTime)

	require.Len(t, participants, 3)
	admins := 0
	for _, p := range participants {
		if p.IsAdmin {
			admins++
			assert.Equal(t, admin, p.UserID)
		}
	}
	assert.Equal(t, 1, admins)
}

func TestCreateGroupConversation_Validation(t *testing.T) {
	f := newFixture()
	admin := uuid.New()

	_, err := f.service.CreateGroupConversation(context.Background(), &domain.GroupConversationCreate{
		AdminID: admin, MemberIDs: []uuid.UUID{uuid.New()}, GroupName: "   ",
	})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeMissingField))

	_, err = f.service.CreateGroupConversation(context.Background(), &domain.GroupConversationCreate{
		AdminID: admin, MemberIDs: []uuid.UUID{admin}, GroupName: "Solo",
	})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeValidation))
}

func TestAddGroupMembers_AdminOnly(t *testing.T) {
	f := newFixture()
	admin, member := uuid.New(), uuid.New()
	ctx := context.Background()

	conv := domain.NewConversation(uuid.New())
	conv.IsGroup = true
	conv.AddParticipant(domain.ConversationParticipant{UserID: admin, IsAdmin: true})
	conv.AddParticipant(domain.ConversationParticipant{UserID: member})
	f.convs.On("GetByID", ctx, conv.ConversationID).Return(conv, nil)

	_, err := f.service.AddGroupMembers(ctx, conv.ConversationID, member, &domain.GroupMembersAdd{MemberIDs: []uuid.UUID{uuid.New()}})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeForbidden))

	newcomer := uuid.New()
	f.users.On("GetProfiles", ctx, []uuid.UUID{newcomer}).Return(map[uuid.UUID]*domain.UserProfile{}, nil)
	f.convs.On("AddParticipants", ctx, conv.ConversationID, mock.MatchedBy(func(ps []domain.ConversationParticipant) bool {
		return len(ps) == 1 && ps[0].UserID == newcomer && !ps[0].IsAdmin && ps[0].UnreadCount == 0
	})).Return([]uuid.UUID{newcomer}, nil)
	f.audit.On("LogGroupMembersAdd", ctx, admin, conv.ConversationID, 1).Return(nil)

	added, err := f.service.AddGroupMembers(ctx, conv.ConversationID, admin, &domain.GroupMembersAdd{
		MemberIDs: []uuid.UUID{member, newcomer},
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{newcomer}, added)
}

func TestBlockConversation(t *testing.T) {
	f := newFixture()
	a, b := uuid.New(), uuid.New()
	conv := directConversation(a, b)
	ctx := context.Background()

	f.convs.On("GetByID", ctx, conv.ConversationID).Return(conv, nil)
	f.convs.On("SetBlocked", ctx, conv.ConversationID, a, true).Return(nil)
	f.audit.On("LogConversationBlock", ctx, a, conv.ConversationID, true).Return(nil)

	require.NoError(t, f.service.BlockConversation(ctx, conv.ConversationID, a))

	outsider := uuid.New()
	err := f.service.UnblockConversation(ctx, conv.ConversationID, outsider)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeNotParticipant))
	f.convs.AssertExpectations(t)
}

func TestGetConversation_NotFoundAndNotParticipant(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	missing := uuid.New()
	f.convs.On("GetByID", ctx, missing).Return(nil, cockroach.ErrConversationNotFound)

	_, err := f.service.GetConversation(ctx, missing, uuid.New())
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeNotFound))

	conv := directConversation(uuid.New(), uuid.New())
	f.convs.On("GetByID", ctx, conv.ConversationID).Return(conv, nil)
	_, err = f.service.GetConversation(ctx, conv.ConversationID, uuid.New())
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeNotParticipant))
}

func TestListConversations_MergesTypingLeases(t *testing.T) {
	f := newFixture()
	a, b := uuid.New(), uuid.New()
	conv := directConversation(a, b)
	ctx := context.Background()

	f.convs.On("ListByUser", ctx, a).Return([]*domain.Conversation{conv}, nil)
	f.typing.On("ActiveTypers", ctx, conv.ConversationID, f.now).Return(map[uuid.UUID]time.Time{
		b:          f.now.Add(3 * time.Second),
		uuid.New(): f.now.Add(time.Second),
	}, nil)

	list, err := f.service.ListConversations(ctx, a)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, map[uuid.UUID]bool{b: true}, list[0].TypingUsers)
}

func TestListConversations_TypingFailureIsIgnored(t *testing.T) {
	f := newFixture()
	a, b := uuid.New(), uuid.New()
	conv := directConversation(a, b)
	ctx := context.Background()

	f.convs.On("ListByUser", ctx, a).Return([]*domain.Conversation{conv}, nil)
	f.typing.On("ActiveTypers", ctx, conv.ConversationID, f.now).Return(nil, assert.AnError)

	list, err := f.service.ListConversations(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, list[0].TypingUsers)
}

func TestListenToConversations(t *testing.T) {
	f := newFixture()
	a, b := uuid.New(), uuid.New()
	conv := directConversation(a, b)
	ctx := context.Background()

	f.convs.On("ListByUser", mock.Anything, a).Return([]*domain.Conversation{conv}, nil)
	f.typing.On("ActiveTypers", mock.Anything, conv.ConversationID, mock.Anything).Return(map[uuid.UUID]time.Time{}, nil)

	var mu sync.Mutex
	calls := 0
	sub, err := f.service.ListenToConversations(ctx, a, func(list []*domain.Conversation) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	realtime.Notify(ctx, f.broker, realtime.KindMessage, realtime.UserConversationsTopic(a))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestMarkConversationRead(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	convID, user := uuid.New(), uuid.New()

	f.convs.On("ResetUnread", ctx, convID, user).Return(nil).Once()
	require.NoError(t, f.service.MarkConversationRead(ctx, convID, user))

	f.convs.On("ResetUnread", ctx, convID, user).Return(cockroach.ErrParticipantNotFound).Once()
	err := f.service.MarkConversationRead(ctx, convID, user)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeNotParticipant))
}
