package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketchat-backend/internal/domain"
)

// ErrStatusNotFound is returned for unknown or expired statuses
var ErrStatusNotFound = errors.New("status not found")

const purgeBatchSize = 1000

// StatusRepository stores stories and their viewers
type StatusRepository struct {
	pool *pgxpool.Pool
}

// NewStatusRepository creates a new status repository
func NewStatusRepository(pool *pgxpool.Pool) *StatusRepository {
	return &StatusRepository{pool: pool}
}

// Create inserts a status
func (r *StatusRepository) Create(ctx context.Context, status *domain.UserStatus) error {
	query := `
		INSERT INTO statuses (
			status_id, user_id, user_name, user_photo, type, content,
			background, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.pool.Exec(ctx, query, statusInsertArgs(status)...)
	if err != nil {
		return fmt.Errorf("failed to create status: %w", err)
	}
	return nil
}

// statusInsertArgs lists the INSERT parameters in column order. background
// is NOT NULL, so statuses without one store ''.
func statusInsertArgs(status *domain.UserStatus) []interface{} {
	return []interface{}{
		status.StatusID,
		status.UserID,
		status.UserName,
		status.UserPhoto,
		string(status.Type),
		status.Content,
		backgroundColumn(status.Background),
		status.CreatedAt,
		status.ExpiresAt,
	}
}

func backgroundColumn(background *string) string {
	if background == nil {
		return ""
	}
	return *background
}

func backgroundField(column string) *string {
	if column == "" {
		return nil
	}
	return &column
}

// ListActive returns statuses with expires_at > now ordered by expiry,
// each with its viewers in view order.
func (r *StatusRepository) ListActive(ctx context.Context, now time.Time) ([]domain.UserStatus, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.status_id, s.user_id, s.user_name, s.user_photo, s.type, s.content,
		       s.background, s.created_at, s.expires_at, v.user_id
		FROM statuses s
		LEFT JOIN status_viewers v ON v.status_id = s.status_id
		WHERE s.expires_at > $1
		ORDER BY s.expires_at ASC, s.status_id, v.viewed_at ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list statuses: %w", err)
	}
	defer rows.Close()

	statuses := []domain.UserStatus{}
	for rows.Next() {
		var (
			s          domain.UserStatus
			statusType string
			background string
			viewer     *uuid.UUID
		)
		err := rows.Scan(
			&s.StatusID,
			&s.UserID,
			&s.UserName,
			&s.UserPhoto,
			&statusType,
			&s.Content,
			&background,
			&s.CreatedAt,
			&s.ExpiresAt,
			&viewer,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status: %w", err)
		}

		last := len(statuses) - 1
		if last < 0 || statuses[last].StatusID != s.StatusID {
			s.Type = domain.StatusType(statusType)
			s.Background = backgroundField(background)
			s.Viewers = []uuid.UUID{}
			statuses = append(statuses, s)
			last++
		}
		if viewer != nil {
			statuses[last].Viewers = append(statuses[last].Viewers, *viewer)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read statuses: %w", err)
	}
	return statuses, nil
}

// AddViewer records userID as a viewer of a live status. Repeated calls are no-ops.
func (r *StatusRepository) AddViewer(ctx context.Context, statusID, userID uuid.UUID, now time.Time) (bool, error) {
	var expiresAt time.Time
	err := r.pool.QueryRow(ctx, `SELECT expires_at FROM statuses WHERE status_id = $1`, statusID).Scan(&expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrStatusNotFound
		}
		return false, fmt.Errorf("failed to get status: %w", err)
	}
	if !now.Before(expiresAt) {
		return false, ErrStatusNotFound
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO status_viewers (status_id, user_id, viewed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (status_id, user_id) DO NOTHING
	`, statusID, userID, now)
	if err != nil {
		return false, fmt.Errorf("failed to add viewer: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteExpiredBefore removes statuses that expired before cutoff, in batches.
// Viewer rows go with them through ON DELETE CASCADE.
func (r *StatusRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		tag, err := r.pool.Exec(ctx,
			`DELETE FROM statuses WHERE expires_at < $1 LIMIT $2`, cutoff, purgeBatchSize)
		if err != nil {
			return total, fmt.Errorf("failed to delete expired statuses: %w", err)
		}
		total += tag.RowsAffected()
		if tag.RowsAffected() < purgeBatchSize {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}
