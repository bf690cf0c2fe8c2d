package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"marketchat-backend/internal/domain"
	appErrors "marketchat-backend/pkg/errors"
)

type MockChatService struct {
	mock.Mock
}

func (m *MockChatService) SendMessage(ctx context.Context, input *domain.MessageSend) (*domain.Message, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockChatService) ListMessages(ctx context.Context, conversationID, userID uuid.UUID) ([]domain.Message, error) {
	args := m.Called(ctx, conversationID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Message), args.Error(1)
}

func (m *MockChatService) UpdateMessageStatus(ctx context.Context, conversationID, userID uuid.UUID, status domain.MessageStatus) (int, error) {
	args := m.Called(ctx, conversationID, userID, status)
	return args.Int(0), args.Error(1)
}

func (m *MockChatService) SetTypingStatus(ctx context.Context, conversationID, userID uuid.UUID, isTyping bool) error {
	return m.Called(ctx, conversationID, userID, isTyping).Error(0)
}

func (m *MockChatService) DeleteMessage(ctx context.Context, conversationID, messageID, callerID uuid.UUID) (*domain.Message, error) {
	args := m.Called(ctx, conversationID, messageID, callerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockChatService) EditMessage(ctx context.Context, conversationID, messageID, callerID uuid.UUID, text string) (*domain.Message, error) {
	args := m.Called(ctx, conversationID, messageID, callerID, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockChatService) ToggleReaction(ctx context.Context, conversationID, messageID, userID uuid.UUID, emoji string) (*domain.Message, error) {
	args := m.Called(ctx, conversationID, messageID, userID, emoji)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func newRouter(svc ChatService, userID uuid.UUID, sendLimit gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	rg := router.Group("/v1", func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Set("display_name", "Buyer")
	})
	NewHandler(svc).RegisterRoutes(rg, sendLimit)
	return router
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSendMessage(t *testing.T) {
	svc := new(MockChatService)
	user, convID := uuid.New(), uuid.New()
	msg := &domain.Message{MessageID: uuid.New(), ConversationID: convID, SenderID: user, Text: "Is it available?"}

	svc.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *domain.MessageSend) bool {
		return in.ConversationID == convID && in.SenderID == user && in.SenderName == "Buyer" && in.Text == "Is it available?"
	})).Return(msg, nil)

	w := do(newRouter(svc, user, nil), http.MethodPost, "/v1/conversations/"+convID.String()+"/messages",
		`{"text":"Is it available?","type":"text"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), msg.MessageID.String())
}

func TestSendMessage_Blocked(t *testing.T) {
	svc := new(MockChatService)
	user, convID := uuid.New(), uuid.New()
	svc.On("SendMessage", mock.Anything, mock.Anything).Return(nil, appErrors.BlockedError())

	w := do(newRouter(svc, user, nil), http.MethodPost, "/v1/conversations/"+convID.String()+"/messages", `{"text":"hi"}`)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "CONVERSATION_BLOCKED")
}

func TestSendMessage_RunsSendLimit(t *testing.T) {
	svc := new(MockChatService)
	limited := func(c *gin.Context) {
		c.AbortWithStatus(http.StatusTooManyRequests)
	}

	w := do(newRouter(svc, uuid.New(), limited), http.MethodPost, "/v1/conversations/"+uuid.New().String()+"/messages", `{"text":"hi"}`)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	svc.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestListMessages(t *testing.T) {
	svc := new(MockChatService)
	user, convID := uuid.New(), uuid.New()
	svc.On("ListMessages", mock.Anything, convID, user).Return([]domain.Message{{Text: "a"}, {Text: "b"}}, nil)

	w := do(newRouter(svc, user, nil), http.MethodGet, "/v1/conversations/"+convID.String()+"/messages", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"messages"`)
}

func TestUpdateStatus(t *testing.T) {
	svc := new(MockChatService)
	user, convID := uuid.New(), uuid.New()
	svc.On("UpdateMessageStatus", mock.Anything, convID, user, domain.MessageStatusRead).Return(3, nil)
	svc.On("UpdateMessageStatus", mock.Anything, convID, user, domain.MessageStatusSent).
		Return(0, appErrors.InvalidTransitionError("sent"))
	router := newRouter(svc, user, nil)

	w := do(router, http.MethodPost, "/v1/conversations/"+convID.String()+"/status", `{"status":"read"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"updated":3`)

	w = do(router, http.MethodPost, "/v1/conversations/"+convID.String()+"/status", `{"status":"sent"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_STATUS_TRANSITION")
}

func TestSetTyping(t *testing.T) {
	svc := new(MockChatService)
	user, convID := uuid.New(), uuid.New()
	svc.On("SetTypingStatus", mock.Anything, convID, user, false).Return(nil)
	router := newRouter(svc, user, nil)

	w := do(router, http.MethodPost, "/v1/conversations/"+convID.String()+"/typing", `{"is_typing":false}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(router, http.MethodPost, "/v1/conversations/"+convID.String()+"/typing", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteMessage_NotSender(t *testing.T) {
	svc := new(MockChatService)
	user, convID, msgID := uuid.New(), uuid.New(), uuid.New()
	svc.On("DeleteMessage", mock.Anything, convID, msgID, user).Return(nil, appErrors.ForbiddenError("Only the sender can change this message"))

	w := do(newRouter(svc, user, nil), http.MethodDelete, "/v1/conversations/"+convID.String()+"/messages/"+msgID.String(), "")

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDeleteMessage_ReturnsTombstone(t *testing.T) {
	svc := new(MockChatService)
	user, convID, msgID := uuid.New(), uuid.New(), uuid.New()
	tombstone := &domain.Message{MessageID: msgID, SenderID: user, Text: "oops", Type: domain.MessageTypeImage}
	tombstone.Tombstone()
	svc.On("DeleteMessage", mock.Anything, convID, msgID, user).Return(tombstone, nil)

	w := do(newRouter(svc, user, nil), http.MethodDelete, "/v1/conversations/"+convID.String()+"/messages/"+msgID.String(), "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"text":"This message was deleted"`)
	assert.Contains(t, w.Body.String(), `"is_deleted":true`)
	assert.Contains(t, w.Body.String(), `"type":"text"`)
}

func TestEditMessage(t *testing.T) {
	svc := new(MockChatService)
	user, convID, msgID := uuid.New(), uuid.New(), uuid.New()
	svc.On("EditMessage", mock.Anything, convID, msgID, user, "new text").
		Return(&domain.Message{MessageID: msgID, Text: "new text", IsEdited: true}, nil)

	w := do(newRouter(svc, user, nil), http.MethodPatch, "/v1/conversations/"+convID.String()+"/messages/"+msgID.String(), `{"text":"new text"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"is_edited":true`)
}

func TestToggleReaction(t *testing.T) {
	svc := new(MockChatService)
	user, convID, msgID := uuid.New(), uuid.New(), uuid.New()
	svc.On("ToggleReaction", mock.Anything, convID, msgID, user, "👍").
		Return(&domain.Message{MessageID: msgID, Reactions: []domain.Reaction{{Emoji: "👍", UserID: user}}}, nil)

	w := do(newRouter(svc, user, nil), http.MethodPost, "/v1/conversations/"+convID.String()+"/messages/"+msgID.String()+"/reactions", `{"emoji":"👍"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "👍")
}

func TestInvalidMessageID(t *testing.T) {
	w := do(newRouter(new(MockChatService), uuid.New(), nil), http.MethodDelete, "/v1/conversations/"+uuid.New().String()+"/messages/x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
