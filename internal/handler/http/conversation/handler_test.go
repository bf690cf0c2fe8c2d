package conversation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketchat-backend/internal/domain"
	appErrors "marketchat-backend/pkg/errors"
)

type MockConversationService struct {
	mock.Mock
}

func (m *MockConversationService) GetOrCreateConversation(ctx context.Context, input *domain.DirectConversationCreate) (uuid.UUID, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockConversationService) CreateGroupConversation(ctx context.Context, input *domain.GroupConversationCreate) (uuid.UUID, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockConversationService) AddGroupMembers(ctx context.Context, conversationID, actorID uuid.UUID, input *domain.GroupMembersAdd) ([]uuid.UUID, error) {
	args := m.Called(ctx, conversationID, actorID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockConversationService) BlockConversation(ctx context.Context, conversationID, userID uuid.UUID) error {
	return m.Called(ctx, conversationID, userID).Error(0)
}

func (m *MockConversationService) UnblockConversation(ctx context.Context, conversationID, userID uuid.UUID) error {
	return m.Called(ctx, conversationID, userID).Error(0)
}

func (m *MockConversationService) GetConversation(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error) {
	args := m.Called(ctx, conversationID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationService) ListConversations(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]*domain.Conversation), args.Error(1)
}

func (m *MockConversationService) MarkConversationRead(ctx context.Context, conversationID, userID uuid.UUID) error {
	return m.Called(ctx, conversationID, userID).Error(0)
}

func newRouter(svc ConversationService, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	rg := router.Group("/v1", func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Set("display_name", "Token Name")
	})
	NewHandler(svc).RegisterRoutes(rg)
	return router
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGetOrCreateDirect(t *testing.T) {
	svc := new(MockConversationService)
	self, other, convID := uuid.New(), uuid.New(), uuid.New()

	svc.On("GetOrCreateConversation", mock.Anything, mock.MatchedBy(func(in *domain.DirectConversationCreate) bool {
		return in.SelfID == self && in.OtherID == other && in.SelfName == "Token Name" && in.OtherName == "Seller"
	})).Return(convID, nil)

	w := do(newRouter(svc, self), http.MethodPost, "/v1/conversations/direct",
		`{"other_id":"`+other.String()+`","other_name":"Seller"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Success bool
		Data    struct {
			ConversationID uuid.UUID `json:"conversation_id"`
		}
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, convID, body.Data.ConversationID)
}

func TestGetOrCreateDirect_MissingOther(t *testing.T) {
	svc := new(MockConversationService)
	w := do(newRouter(svc, uuid.New()), http.MethodPost, "/v1/conversations/direct", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "GetOrCreateConversation", mock.Anything, mock.Anything)
}

func TestCreateGroup(t *testing.T) {
	svc := new(MockConversationService)
	admin, member, convID := uuid.New(), uuid.New(), uuid.New()

	svc.On("CreateGroupConversation", mock.Anything, mock.MatchedBy(func(in *domain.GroupConversationCreate) bool {
		return in.AdminID == admin && in.GroupName == "Bikes" && in.Names[admin] == "Token Name"
	})).Return(convID, nil)

	w := do(newRouter(svc, admin), http.MethodPost, "/v1/conversations/group",
		`{"member_ids":["`+member.String()+`"],"group_name":"Bikes"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), convID.String())
}

func TestGetConversation_Errors(t *testing.T) {
	user, convID := uuid.New(), uuid.New()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", appErrors.NotFoundError("Conversation"), http.StatusNotFound, "NOT_FOUND"},
		{"not participant", appErrors.NotParticipantError(), http.StatusForbidden, "NOT_PARTICIPANT"},
		{"unexpected", assert.AnError, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockConversationService)
			svc.On("GetConversation", mock.Anything, convID, user).Return(nil, tt.err)

			w := do(newRouter(svc, user), http.MethodGet, "/v1/conversations/"+convID.String(), "")

			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.code)
		})
	}
}

func TestGetConversation_InvalidID(t *testing.T) {
	w := do(newRouter(new(MockConversationService), uuid.New()), http.MethodGet, "/v1/conversations/nope", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListConversations(t *testing.T) {
	svc := new(MockConversationService)
	user := uuid.New()
	svc.On("ListConversations", mock.Anything, user).Return([]*domain.Conversation{{ConversationID: uuid.New()}}, nil)

	w := do(newRouter(svc, user), http.MethodGet, "/v1/conversations", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"conversations"`)
}

func TestBlockAndUnblock(t *testing.T) {
	svc := new(MockConversationService)
	user, convID := uuid.New(), uuid.New()
	svc.On("BlockConversation", mock.Anything, convID, user).Return(nil)
	svc.On("UnblockConversation", mock.Anything, convID, user).Return(nil)
	router := newRouter(svc, user)

	w := do(router, http.MethodPost, "/v1/conversations/"+convID.String()+"/block", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"blocked":true`)

	w = do(router, http.MethodDelete, "/v1/conversations/"+convID.String()+"/block", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"blocked":false`)
	svc.AssertExpectations(t)
}

func TestAddMembers_Forbidden(t *testing.T) {
	svc := new(MockConversationService)
	user, convID := uuid.New(), uuid.New()
	svc.On("AddGroupMembers", mock.Anything, convID, user, mock.Anything).
		Return(nil, appErrors.ForbiddenError("Only group admins can add members"))

	w := do(newRouter(svc, user), http.MethodPost, "/v1/conversations/"+convID.String()+"/members",
		`{"member_ids":["`+uuid.New().String()+`"]}`)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMarkRead(t *testing.T) {
	svc := new(MockConversationService)
	user, convID := uuid.New(), uuid.New()
	svc.On("MarkConversationRead", mock.Anything, convID, user).Return(nil)

	w := do(newRouter(svc, user), http.MethodPost, "/v1/conversations/"+convID.String()+"/read", "")

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}
