package push

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTokenRepository struct {
	mock.Mock
}

func (m *MockTokenRepository) Store(ctx context.Context, token *Token) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockTokenRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Token), args.Error(1)
}

func (m *MockTokenRepository) GetByToken(ctx context.Context, token string) (*Token, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Token), args.Error(1)
}

func (m *MockTokenRepository) Delete(ctx context.Context, userID, tokenID uuid.UUID) error {
	args := m.Called(ctx, userID, tokenID)
	return args.Error(0)
}

func (m *MockTokenRepository) MarkInactive(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

type MockProviderSender struct {
	mock.Mock
}

func (m *MockProviderSender) Send(ctx context.Context, n *Notification, tokens []string) (*SendResult, error) {
	args := m.Called(ctx, n, tokens)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SendResult), args.Error(1)
}

func TestSendToUsers_OnlyActiveTokensAndDeactivatesInvalid(t *testing.T) {
	ctx := context.Background()
	repo := new(MockTokenRepository)
	provider := new(MockProviderSender)
	svc := NewService(provider, repo)

	u1, u2 := uuid.New(), uuid.New()
	repo.On("GetByUserID", ctx, u1).Return([]*Token{
		{Token: "tok-a", Active: true},
		{Token: "tok-old", Active: false},
	}, nil)
	repo.On("GetByUserID", ctx, u2).Return([]*Token{{Token: "tok-b", Active: true}}, nil)
	provider.On("Send", ctx, mock.Anything, []string{"tok-a", "tok-b"}).
		Return(&SendResult{SuccessCount: 1, FailureCount: 1, InvalidTokens: []string{"tok-b"}}, nil)
	repo.On("MarkInactive", ctx, "tok-b").Return(nil)

	result, err := svc.SendToUsers(ctx, &Notification{Title: "Ann", Body: "hi"}, []uuid.UUID{u1, u2})

	require.NoError(t, err)
	assert.Equal(t, 1, result.SuccessCount)
	repo.AssertExpectations(t)
	provider.AssertExpectations(t)
}

func TestSendToUsers_NoTokensSkipsProvider(t *testing.T) {
	ctx := context.Background()
	repo := new(MockTokenRepository)
	provider := new(MockProviderSender)
	svc := NewService(provider, repo)

	u := uuid.New()
	repo.On("GetByUserID", ctx, u).Return([]*Token{}, nil)

	result, err := svc.SendToUsers(ctx, &Notification{Title: "x"}, []uuid.UUID{u})

	require.NoError(t, err)
	assert.Zero(t, result.SuccessCount)
	provider.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestRegisterToken_New(t *testing.T) {
	ctx := context.Background()
	repo := new(MockTokenRepository)
	svc := NewService(&MockProvider{}, repo)
	userID := uuid.New()

	repo.On("GetByToken", ctx, "device-1").Return(nil, nil)
	repo.On("Store", ctx, mock.MatchedBy(func(tok *Token) bool {
		return tok.UserID == userID && tok.Type == TokenTypeAPNs && tok.Active
	})).Return(nil)

	tok, err := svc.RegisterToken(ctx, userID, "device-1", "ios")

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, tok.ID)
	repo.AssertExpectations(t)
}

func TestRegisterToken_MovesTokenBetweenUsers(t *testing.T) {
	ctx := context.Background()
	repo := new(MockTokenRepository)
	svc := NewService(&MockProvider{}, repo)
	oldOwner, newOwner := uuid.New(), uuid.New()
	existing := &Token{ID: uuid.New(), UserID: oldOwner, Token: "device-1", Active: false}

	repo.On("GetByToken", ctx, "device-1").Return(existing, nil)
	repo.On("Delete", ctx, oldOwner, existing.ID).Return(nil)
	repo.On("Store", ctx, existing).Return(nil)

	tok, err := svc.RegisterToken(ctx, newOwner, "device-1", "android")

	require.NoError(t, err)
	assert.Equal(t, newOwner, tok.UserID)
	assert.True(t, tok.Active)
	assert.Equal(t, TokenTypeFCM, tok.Type)
	repo.AssertExpectations(t)
}

func TestMaskPushToken(t *testing.T) {
	assert.Equal(t, "********", maskPushToken("short"))
	assert.Equal(t, "abcdefgh...stuvwxyz", maskPushToken("abcdefghijklmnopqrstuvwxyz"))
}
