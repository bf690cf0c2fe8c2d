package domain

import (
	"time"

	"github.com/google/uuid"
)

// MediaKind is the upload family, each with its own limits
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
	MediaKindAudio MediaKind = "audio"
)

// MediaFile records an accepted upload.
// Content lives in MinIO; maps to CockroachDB media_files.
type MediaFile struct {
	FileID       uuid.UUID `json:"file_id" db:"file_id"`
	OwnerID      uuid.UUID `json:"owner_id" db:"owner_id"`
	ObjectKey    string    `json:"object_key" db:"object_key"`
	Kind         MediaKind `json:"kind" db:"kind"`
	ContentType  string    `json:"content_type" db:"content_type"`
	SizeBytes    int64     `json:"size_bytes" db:"size_bytes"`
	OriginalName string    `json:"original_name" db:"original_name"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// UploadResult is returned to the client after a successful upload
type UploadResult struct {
	FileID      uuid.UUID `json:"file_id"`
	URL         string    `json:"url"`
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
}
