package status

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
	"marketchat-backend/pkg/cache"
	appErrors "marketchat-backend/pkg/errors"
)

type MockStatusRepository struct {
	mock.Mock
}

func (m *MockStatusRepository) Create(ctx context.Context, status *domain.UserStatus) error {
	return m.Called(ctx, status).Error(0)
}

func (m *MockStatusRepository) ListActive(ctx context.Context, now time.Time) ([]domain.UserStatus, error) {
	args := m.Called(ctx, now)
	if fn, ok := args.Get(0).(func(time.Time) []domain.UserStatus); ok {
		return fn(now), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.UserStatus), args.Error(1)
}

func (m *MockStatusRepository) AddViewer(ctx context.Context, statusID, userID uuid.UUID, now time.Time) (bool, error) {
	args := m.Called(ctx, statusID, userID, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockStatusRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UserProfile), args.Error(1)
}

type MockAuditLogger struct {
	mock.Mock
}

func (m *MockAuditLogger) LogStatusPurge(ctx context.Context, removed int64, cutoff time.Time) error {
	return m.Called(ctx, removed, cutoff).Error(0)
}

type fixture struct {
	service *Service
	repo    *MockStatusRepository
	users   *MockUserRepository
	audit   *MockAuditLogger
	broker  *realtime.MemoryBroker
	mu      sync.Mutex
	now     time.Time
}

func newFixture() *fixture {
	f := &fixture{
		repo:   new(MockStatusRepository),
		users:  new(MockUserRepository),
		audit:  new(MockAuditLogger),
		broker: realtime.NewMemoryBroker(),
		now:    time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	f.service = NewService(f.repo, f.users, cache.NewProfileCache(time.Minute, 100), f.broker, f.audit, 24*time.Hour)
	f.service.now = func() time.Time {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.now
	}
	return f
}

func TestAddStatus(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user := uuid.New()
	bg := "#ff8800"

	f.repo.On("Create", ctx, mock.AnythingOfType("*domain.UserStatus")).Return(nil)

	st, err := f.service.AddStatus(ctx, &domain.StatusCreate{
		UserID: user, UserName: "Sam", UserPhoto: "sam.png",
		Type: domain.StatusTypeText, Content: "Fresh stock today", Background: &bg,
	})

	require.NoError(t, err)
	assert.Equal(t, f.now.Add(24*time.Hour), st.ExpiresAt)
	assert.Equal(t, f.now, st.CreatedAt)
	assert.Empty(t, st.Viewers)
	require.NotNil(t, st.Background)
	assert.Equal(t, bg, *st.Background)
	f.users.AssertNotCalled(t, "GetProfile", mock.Anything, mock.Anything)
}

func TestAddStatus_BackgroundOnlyForText(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user := uuid.New()
	bg := "#000000"
	avatar := "cached.png"

	f.repo.On("Create", ctx, mock.Anything).Return(nil)
	f.users.On("GetProfile", ctx, user).Return(&domain.UserProfile{UserID: user, DisplayName: "Lee", AvatarURL: &avatar}, nil).Once()

	st, err := f.service.AddStatus(ctx, &domain.StatusCreate{
		UserID: user, Type: domain.StatusTypeImage, Content: "https://cdn/x.png", Background: &bg,
	})
	require.NoError(t, err)
	assert.Nil(t, st.Background)
	assert.Equal(t, "Lee", st.UserName)
	assert.Equal(t, avatar, st.UserPhoto)

	// Second post is served from the profile cache
	_, err = f.service.AddStatus(ctx, &domain.StatusCreate{UserID: user, Type: domain.StatusTypeText, Content: "hi"})
	require.NoError(t, err)
	f.users.AssertNumberOfCalls(t, "GetProfile", 1)
}

func TestAddStatus_Validation(t *testing.T) {
	f := newFixture()

	_, err := f.service.AddStatus(context.Background(), &domain.StatusCreate{UserID: uuid.New(), Type: "audio", Content: "x"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeValidation))

	_, err = f.service.AddStatus(context.Background(), &domain.StatusCreate{UserID: uuid.New(), Type: domain.StatusTypeText, Content: "  "})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeMissingField))
}

func TestViewStatus(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	statusID, viewer := uuid.New(), uuid.New()

	f.repo.On("AddViewer", ctx, statusID, viewer, f.now).Return(true, nil).Once()
	f.repo.On("AddViewer", ctx, statusID, viewer, f.now).Return(false, nil).Once()

	require.NoError(t, f.service.ViewStatus(ctx, statusID, viewer))
	require.NoError(t, f.service.ViewStatus(ctx, statusID, viewer))

	expired := uuid.New()
	f.repo.On("AddViewer", ctx, expired, viewer, f.now).Return(false, cockroach.ErrStatusNotFound)
	err := f.service.ViewStatus(ctx, expired, viewer)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeNotFound))
}

func TestListenToStatuses_ExpiryTriggersRequery(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.now = time.Now()

	soon := domain.UserStatus{StatusID: uuid.New(), UserID: uuid.New(), ExpiresAt: f.now.Add(40 * time.Millisecond)}
	later := domain.UserStatus{StatusID: uuid.New(), UserID: uuid.New(), ExpiresAt: f.now.Add(time.Hour)}

	f.repo.On("ListActive", mock.Anything, mock.Anything).Return(func(now time.Time) []domain.UserStatus {
		var live []domain.UserStatus
		for _, st := range []domain.UserStatus{soon, later} {
			if st.IsVisibleAt(now) {
				live = append(live, st)
			}
		}
		return live
	}, nil)
	f.service.now = time.Now

	var mu sync.Mutex
	var lengths []int
	sub, err := f.service.ListenToStatuses(ctx, func(statuses []domain.UserStatus) {
		mu.Lock()
		lengths = append(lengths, len(statuses))
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lengths) >= 2 && lengths[len(lengths)-1] == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 2, lengths[0])
	mu.Unlock()
}

func TestPurgeExpired(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cutoff := f.now.Add(-time.Hour)

	f.repo.On("DeleteExpiredBefore", ctx, cutoff).Return(int64(3), nil)
	f.audit.On("LogStatusPurge", ctx, int64(3), cutoff).Return(nil)

	n, err := f.service.PurgeExpired(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	f.audit.AssertExpectations(t)
}

func TestGroupStatuses(t *testing.T) {
	viewer := uuid.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	statuses := []domain.UserStatus{
		{StatusID: uuid.New(), UserID: a, Viewers: []uuid.UUID{viewer}},
		{StatusID: uuid.New(), UserID: b, Viewers: []uuid.UUID{}},
		{StatusID: uuid.New(), UserID: a, Viewers: []uuid.UUID{viewer}},
		{StatusID: uuid.New(), UserID: c, Viewers: []uuid.UUID{viewer}},
		{StatusID: uuid.New(), UserID: c, Viewers: []uuid.UUID{}},
	}

	groups := GroupStatuses(statuses, viewer)

	require.Len(t, groups, 3)
	assert.Equal(t, b, groups[0].UserID)
	assert.True(t, groups[0].Unseen)
	assert.Equal(t, c, groups[1].UserID)
	assert.True(t, groups[1].Unseen)
	assert.Len(t, groups[1].Statuses, 2)
	assert.Equal(t, a, groups[2].UserID)
	assert.False(t, groups[2].Unseen)
	assert.Len(t, groups[2].Statuses, 2)
}

func TestGroupStatuses_Empty(t *testing.T) {
	assert.Empty(t, GroupStatuses(nil, uuid.New()))
}
