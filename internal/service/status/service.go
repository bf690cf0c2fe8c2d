// Package status implements 24-hour stories: posting, live listing with
// expiry, viewer tracking and per-viewer grouping.
package status

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketchat-backend/internal/domain"
	"marketchat-backend/internal/realtime"
	"marketchat-backend/internal/repository/cockroach"
	"marketchat-backend/pkg/cache"
	"marketchat-backend/pkg/constants"
	appErrors "marketchat-backend/pkg/errors"
	"marketchat-backend/pkg/logger"
	"marketchat-backend/pkg/metrics"
	"marketchat-backend/pkg/sanitize"
)

// StatusRepository interface
type StatusRepository interface {
	Create(ctx context.Context, status *domain.UserStatus) error
	ListActive(ctx context.Context, now time.Time) ([]domain.UserStatus, error)
	AddViewer(ctx context.Context, statusID, userID uuid.UUID, now time.Time) (bool, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UserRepository interface
type UserRepository interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error)
}

// AuditLogger interface
type AuditLogger interface {
	LogStatusPurge(ctx context.Context, removed int64, cutoff time.Time) error
}

// Service handles status business logic
type Service struct {
	statusRepo  StatusRepository
	userRepo    UserRepository
	profiles    *cache.ProfileCache
	broker      realtime.Broker
	auditLogger AuditLogger
	ttl         time.Duration
	now         func() time.Time
}

// NewService creates a new status service. ttl is the lifetime of a status.
func NewService(
	statusRepo StatusRepository,
	userRepo UserRepository,
	profiles *cache.ProfileCache,
	broker realtime.Broker,
	auditLogger AuditLogger,
	ttl time.Duration,
) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		statusRepo:  statusRepo,
		userRepo:    userRepo,
		profiles:    profiles,
		broker:      broker,
		auditLogger: auditLogger,
		ttl:         ttl,
		now:         time.Now,
	}
}

// AddStatus posts a status that expires after the configured TTL
func (s *Service) AddStatus(ctx context.Context, input *domain.StatusCreate) (*domain.UserStatus, error) {
	if !input.Type.Valid() {
		return nil, appErrors.ValidationError("type must be text, image or video")
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, appErrors.MissingFieldError("content")
	}
	if input.Type == domain.StatusTypeText {
		content = sanitize.MessageText(content)
		if utf8.RuneCountInString(content) > constants.MaxStatusTextLength {
			return nil, appErrors.ValidationError("Status text is too long")
		}
	}

	// Background colour only applies to text statuses
	var background *string
	if input.Type == domain.StatusTypeText && input.Background != nil && strings.TrimSpace(*input.Background) != "" {
		bg := strings.TrimSpace(*input.Background)
		background = &bg
	}

	name := sanitize.DisplayName(input.UserName, constants.MaxGroupNameLength)
	photo := strings.TrimSpace(input.UserPhoto)
	if name == "" || photo == "" {
		if profile := s.profile(ctx, input.UserID); profile != nil {
			if name == "" {
				name = profile.DisplayName
			}
			if photo == "" {
				photo = profile.PhotoURL
			}
		}
	}
	if name == "" {
		name = constants.DefaultDisplayName
	}

	now := s.now().UTC()
	status := &domain.UserStatus{
		StatusID:   uuid.New(),
		UserID:     input.UserID,
		UserName:   name,
		UserPhoto:  photo,
		Type:       input.Type,
		Content:    content,
		Background: background,
		Viewers:    []uuid.UUID{},
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}

	if err := s.statusRepo.Create(ctx, status); err != nil {
		return nil, appErrors.DatabaseError(err)
	}

	metrics.StatusCreatedTotal.WithLabelValues(string(status.Type)).Inc()
	realtime.Notify(ctx, s.broker, realtime.KindStatus, realtime.StatusesTopic)
	return status, nil
}

// ListStatuses returns every live status, soonest to expire first
func (s *Service) ListStatuses(ctx context.Context) ([]domain.UserStatus, error) {
	statuses, _, err := s.snapshot(ctx)
	return statuses, err
}

// ListenToStatuses calls callback with the live status list now, after every
// change, and whenever the earliest listed status expires.
func (s *Service) ListenToStatuses(ctx context.Context, callback func([]domain.UserStatus)) (*realtime.Subscription, error) {
	return realtime.Watch(ctx, s.broker, "statuses", func(ctx context.Context) (time.Time, error) {
		statuses, next, err := s.snapshot(ctx)
		if err != nil {
			return time.Time{}, err
		}
		callback(statuses)
		return next, nil
	}, realtime.StatusesTopic)
}

func (s *Service) snapshot(ctx context.Context) ([]domain.UserStatus, time.Time, error) {
	statuses, err := s.statusRepo.ListActive(ctx, s.now())
	if err != nil {
		return nil, time.Time{}, appErrors.DatabaseError(err)
	}
	if statuses == nil {
		statuses = []domain.UserStatus{}
	}
	var next time.Time
	if len(statuses) > 0 {
		next = statuses[0].ExpiresAt
	}
	return statuses, next, nil
}

// ViewStatus records the user as a viewer. Viewing twice is a no-op.
func (s *Service) ViewStatus(ctx context.Context, statusID, userID uuid.UUID) error {
	added, err := s.statusRepo.AddViewer(ctx, statusID, userID, s.now())
	if err != nil {
		if errors.Is(err, cockroach.ErrStatusNotFound) {
			return appErrors.NotFoundError("Status")
		}
		return appErrors.DatabaseError(err)
	}

	metrics.StatusViewedTotal.Inc()
	if added {
		realtime.Notify(ctx, s.broker, realtime.KindStatus, realtime.StatusesTopic)
	}
	return nil
}

// PurgeExpired deletes statuses that expired before olderThan. Listing never
// depends on this; it only reclaims storage.
func (s *Service) PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	removed, err := s.statusRepo.DeleteExpiredBefore(ctx, olderThan)
	if removed > 0 {
		metrics.StatusPurgedTotal.Add(float64(removed))
		if auditErr := s.auditLogger.LogStatusPurge(ctx, removed, olderThan); auditErr != nil {
			logger.FromContext(ctx).Warn("Failed to audit status purge", zap.Error(auditErr))
		}
	}
	if err != nil {
		return removed, appErrors.DatabaseError(err)
	}
	return removed, nil
}

// GroupStatuses groups statuses by author in first-appearance order. A group
// is unseen when the viewer is missing from any of its statuses' viewers;
// unseen groups come first and order is otherwise preserved.
func GroupStatuses(statuses []domain.UserStatus, viewerID uuid.UUID) []domain.StatusGroup {
	index := make(map[uuid.UUID]int)
	groups := []domain.StatusGroup{}
	for _, st := range statuses {
		i, ok := index[st.UserID]
		if !ok {
			i = len(groups)
			index[st.UserID] = i
			groups = append(groups, domain.StatusGroup{
				UserID:    st.UserID,
				UserName:  st.UserName,
				UserPhoto: st.UserPhoto,
				Statuses:  []domain.UserStatus{},
			})
		}
		groups[i].Statuses = append(groups[i].Statuses, st)
		if !st.ViewedBy(viewerID) {
			groups[i].Unseen = true
		}
	}

	ordered := make([]domain.StatusGroup, 0, len(groups))
	for _, g := range groups {
		if g.Unseen {
			ordered = append(ordered, g)
		}
	}
	for _, g := range groups {
		if !g.Unseen {
			ordered = append(ordered, g)
		}
	}
	return ordered
}

func (s *Service) profile(ctx context.Context, userID uuid.UUID) *cache.Profile {
	if s.profiles != nil {
		if p, ok := s.profiles.Get(userID); ok {
			return p
		}
	}
	up, err := s.userRepo.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, cockroach.ErrUserNotFound) {
			logger.FromContext(ctx).Warn("Failed to load profile", zap.Error(err))
		}
		return nil
	}
	p := &cache.Profile{UserID: up.UserID, DisplayName: up.DisplayName, PhotoURL: up.PhotoURL()}
	if s.profiles != nil {
		s.profiles.Put(p)
	}
	return p
}
