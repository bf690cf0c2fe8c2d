package status

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"marketchat-backend/internal/domain"
	appErrors "marketchat-backend/pkg/errors"
)

type MockStatusService struct {
	mock.Mock
}

func (m *MockStatusService) AddStatus(ctx context.Context, input *domain.StatusCreate) (*domain.UserStatus, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UserStatus), args.Error(1)
}

func (m *MockStatusService) ListStatuses(ctx context.Context) ([]domain.UserStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.UserStatus), args.Error(1)
}

func (m *MockStatusService) ViewStatus(ctx context.Context, statusID, userID uuid.UUID) error {
	return m.Called(ctx, statusID, userID).Error(0)
}

func newRouter(svc StatusService, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	rg := router.Group("/v1", func(c *gin.Context) { c.Set("user_id", userID) })
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

func TestAddStatus(t *testing.T) {
	svc := new(MockStatusService)
	user := uuid.New()
	svc.On("AddStatus", mock.Anything, mock.MatchedBy(func(in *domain.StatusCreate) bool {
		return in.UserID == user && in.Type == domain.StatusTypeText && in.Content == "New stock"
	})).Return(&domain.UserStatus{StatusID: uuid.New(), UserID: user}, nil)

	w := do(newRouter(svc, user), http.MethodPost, "/v1/statuses", `{"type":"text","content":"New stock"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestAddStatus_MissingContent(t *testing.T) {
	svc := new(MockStatusService)
	w := do(newRouter(svc, uuid.New()), http.MethodPost, "/v1/statuses", `{"type":"text"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListStatuses_Grouped(t *testing.T) {
	svc := new(MockStatusService)
	viewer, author := uuid.New(), uuid.New()
	now := time.Now()
	svc.On("ListStatuses", mock.Anything).Return([]domain.UserStatus{
		{StatusID: uuid.New(), UserID: author, UserName: "Shop", CreatedAt: now, ExpiresAt: now.Add(time.Hour)},
		{StatusID: uuid.New(), UserID: author, UserName: "Shop", CreatedAt: now.Add(-time.Minute), ExpiresAt: now.Add(time.Hour)},
	}, nil)
	router := newRouter(svc, viewer)

	w := do(router, http.MethodGet, "/v1/statuses?grouped=true", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"groups"`)
	assert.Contains(t, w.Body.String(), `"unseen":true`)

	w = do(router, http.MethodGet, "/v1/statuses", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"statuses"`)
}

func TestViewStatus(t *testing.T) {
	svc := new(MockStatusService)
	user, live, expired := uuid.New(), uuid.New(), uuid.New()
	svc.On("ViewStatus", mock.Anything, live, user).Return(nil)
	svc.On("ViewStatus", mock.Anything, expired, user).Return(appErrors.NotFoundError("Status"))
	router := newRouter(svc, user)

	w := do(router, http.MethodPost, "/v1/statuses/"+live.String()+"/views", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(router, http.MethodPost, "/v1/statuses/"+expired.String()+"/views", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
