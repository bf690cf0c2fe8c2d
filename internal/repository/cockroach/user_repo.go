package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketchat-backend/internal/domain"
)

// ErrUserNotFound is returned when no users row matches
var ErrUserNotFound = errors.New("user not found")

// UserRepository reads profile data from the users table.
// This service never writes users.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetProfile retrieves a user's display name and avatar
func (r *UserRepository) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.UserProfile, error) {
	query := `
		SELECT user_id, display_name, avatar_url
		FROM users
		WHERE user_id = $1
	`

	profile := &domain.UserProfile{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.DisplayName,
		&profile.AvatarURL,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return profile, nil
}

// GetProfiles retrieves several profiles at once; missing users are omitted
func (r *UserRepository) GetProfiles(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*domain.UserProfile, error) {
	profiles := make(map[uuid.UUID]*domain.UserProfile, len(userIDs))
	if len(userIDs) == 0 {
		return profiles, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT user_id, display_name, avatar_url
		FROM users
		WHERE user_id = ANY($1)
	`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		profile := &domain.UserProfile{}
		if err := rows.Scan(&profile.UserID, &profile.DisplayName, &profile.AvatarURL); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		profiles[profile.UserID] = profile
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read users: %w", err)
	}

	return profiles, nil
}
