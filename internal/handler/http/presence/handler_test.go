package presence

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

type MockPresenceService struct {
	mock.Mock
}

func (m *MockPresenceService) SetPresence(ctx context.Context, userID uuid.UUID, online bool) error {
	return m.Called(ctx, userID, online).Error(0)
}

func (m *MockPresenceService) GetPresence(ctx context.Context, userID uuid.UUID) (*domain.Presence, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Presence), args.Error(1)
}

func newRouter(svc PresenceService, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	rg := router.Group("/v1", func(c *gin.Context) { c.Set("user_id", userID) })
	NewHandler(svc).RegisterRoutes(rg)
	return router
}

func TestSetPresence(t *testing.T) {
	svc := new(MockPresenceService)
	user := uuid.New()
	svc.On("SetPresence", mock.Anything, user, true).Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/presence", strings.NewReader(`{"online":true}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	newRouter(svc, user).ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestGetPresence(t *testing.T) {
	svc := new(MockPresenceService)
	other := uuid.New()
	seen := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	svc.On("GetPresence", mock.Anything, other).Return(&domain.Presence{UserID: other, LastSeen: &seen}, nil)

	w := httptest.NewRecorder()
	newRouter(svc, uuid.New()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/presence/"+other.String(), nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"online":false`)
	assert.Contains(t, w.Body.String(), "2026-02-01T09:00:00Z")
}

func TestGetPresence_Degraded(t *testing.T) {
	svc := new(MockPresenceService)
	other := uuid.New()
	svc.On("GetPresence", mock.Anything, other).Return(nil, appErrors.ServiceUnavailableError("Presence is temporarily unavailable"))

	w := httptest.NewRecorder()
	newRouter(svc, uuid.New()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/presence/"+other.String(), nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
