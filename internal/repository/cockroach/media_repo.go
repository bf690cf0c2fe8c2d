package cockroach

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"marketchat-backend/internal/domain"
)

// MediaRepository records accepted uploads
type MediaRepository struct {
	pool *pgxpool.Pool
}

// NewMediaRepository creates a new media repository
func NewMediaRepository(pool *pgxpool.Pool) *MediaRepository {
	return &MediaRepository{pool: pool}
}

// Create inserts a media_files row
func (r *MediaRepository) Create(ctx context.Context, file *domain.MediaFile) error {
	query := `
		INSERT INTO media_files (
			file_id, owner_id, object_key, kind, content_type,
			size_bytes, original_name, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		file.FileID,
		file.OwnerID,
		file.ObjectKey,
		string(file.Kind),
		file.ContentType,
		file.SizeBytes,
		file.OriginalName,
		file.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to record media file: %w", err)
	}

	return nil
}
