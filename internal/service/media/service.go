// Package media validates and stores chat attachments in object storage.
package media

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketchat-backend/internal/domain"
	"marketchat-backend/pkg/constants"
	appErrors "marketchat-backend/pkg/errors"
	"marketchat-backend/pkg/logger"
	"marketchat-backend/pkg/metrics"
	"marketchat-backend/pkg/sanitize"
)

// ObjectStore writes objects and builds download URLs
type ObjectStore interface {
	Bucket() string
	PutObject(ctx context.Context, key string, reader io.Reader, size int64, contentType string, metadata map[string]string) error
	PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// MediaRepository interface
type MediaRepository interface {
	Create(ctx context.Context, file *domain.MediaFile) error
}

// AuditLogger interface
type AuditLogger interface {
	LogMediaUpload(ctx context.Context, userID uuid.UUID, objectKey, contentType string, size int64) error
}

// Config controls how stored objects are addressed
type Config struct {
	PublicBaseURL string
	URLExpiry     time.Duration
}

// File is an upload as received from the client
type File struct {
	Reader      io.Reader
	Size        int64
	Filename    string
	ContentType string
}

type rule struct {
	maxSize     int64
	allowed     map[string]bool
	defaultPath string
}

var rules = map[domain.MediaKind]rule{
	domain.MediaKindImage: {
		maxSize:     constants.MaxImageSize,
		allowed:     set("image/jpeg", "image/png", "image/webp", "image/gif"),
		defaultPath: "chat/images",
	},
	domain.MediaKindVideo: {
		maxSize:     constants.MaxVideoSize,
		allowed:     set("video/mp4", "video/webm", "video/quicktime"),
		defaultPath: "chat/videos",
	},
	domain.MediaKindAudio: {
		maxSize: constants.MaxAudioSize,
		// Browser recorders label webm audio as video/webm
		allowed:     set("audio/webm", "audio/mp4", "audio/mpeg", "audio/wav", "audio/x-wav", "video/webm"),
		defaultPath: "chat/audio",
	},
}

const (
	defaultAudioType = "audio/webm"
	sniffLen         = 3072
	randomSuffixLen  = 6
)

// Service handles media uploads
type Service struct {
	store       ObjectStore
	mediaRepo   MediaRepository
	auditLogger AuditLogger
	cfg         Config
	now         func() time.Time
}

// NewService creates a new media service
func NewService(store ObjectStore, mediaRepo MediaRepository, auditLogger AuditLogger, cfg Config) *Service {
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = 7 * 24 * time.Hour
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &Service{
		store:       store,
		mediaRepo:   mediaRepo,
		auditLogger: auditLogger,
		cfg:         cfg,
		now:         time.Now,
	}
}

// UploadImage stores a JPEG, PNG, WebP or GIF image of at most 5 MB
func (s *Service) UploadImage(ctx context.Context, ownerID uuid.UUID, file *File, path string) (*domain.UploadResult, error) {
	return s.upload(ctx, domain.MediaKindImage, ownerID, file, path)
}

// UploadVideo stores an MP4, WebM or QuickTime video of at most 50 MB
func (s *Service) UploadVideo(ctx context.Context, ownerID uuid.UUID, file *File, path string) (*domain.UploadResult, error) {
	return s.upload(ctx, domain.MediaKindVideo, ownerID, file, path)
}

// UploadAudio stores a recorded voice note of at most 20 MB. The blob is
// named voice_note.{ext}; a missing type is taken as audio/webm.
func (s *Service) UploadAudio(ctx context.Context, ownerID uuid.UUID, blob *File, path string) (*domain.UploadResult, error) {
	contentType := normalizeType(blob.ContentType)
	if contentType == "" {
		contentType = defaultAudioType
	}
	wrapped := &File{
		Reader:      blob.Reader,
		Size:        blob.Size,
		Filename:    "voice_note." + audioExtension(contentType),
		ContentType: contentType,
	}
	return s.upload(ctx, domain.MediaKindAudio, ownerID, wrapped, path)
}

// Validate checks type, size and path without touching storage. It returns
// the effective content type, the destination path and a reader positioned
// at the start of the content.
func (s *Service) Validate(kind domain.MediaKind, file *File, path string) (string, string, io.Reader, error) {
	r, ok := rules[kind]
	if !ok {
		return "", "", nil, appErrors.ValidationError("Unknown media kind: " + string(kind))
	}
	if file == nil || file.Reader == nil {
		return "", "", nil, appErrors.MissingFieldError("file")
	}

	path = strings.TrimSuffix(strings.TrimSpace(path), "/")
	if path == "" {
		path = r.defaultPath
	}
	if !sanitize.ValidStoragePath(path) {
		return "", "", nil, appErrors.ValidationError("Invalid storage path")
	}

	if file.Size <= 0 {
		return "", "", nil, appErrors.ValidationError("File is empty")
	}
	if file.Size > r.maxSize {
		return "", "", nil, appErrors.FileTooLargeError(r.maxSize)
	}

	reader := file.Reader
	contentType := normalizeType(file.ContentType)
	if contentType == "" {
		head := make([]byte, sniffLen)
		n, err := io.ReadFull(reader, head)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return "", "", nil, appErrors.ValidationError("Could not read file")
		}
		head = head[:n]
		contentType = normalizeType(mimetype.Detect(head).String())
		reader = io.MultiReader(bytes.NewReader(head), reader)
	}
	if !r.allowed[contentType] {
		return "", "", nil, appErrors.UnsupportedMediaError(contentType)
	}
	return contentType, path, reader, nil
}

func (s *Service) upload(ctx context.Context, kind domain.MediaKind, ownerID uuid.UUID, file *File, path string) (*domain.UploadResult, error) {
	contentType, path, reader, err := s.Validate(kind, file, path)
	if err != nil {
		metrics.MediaUploadTotal.WithLabelValues(string(kind), rejectReason(err)).Inc()
		return nil, err
	}

	now := s.now()
	originalName := strings.TrimSpace(file.Filename)
	key := fmt.Sprintf("%s/%d_%s_%s", path, now.UnixMilli(), randomSuffix(), sanitize.ObjectName(originalName))

	err = s.store.PutObject(ctx, key, reader, file.Size, contentType, map[string]string{
		"original-name": sanitize.ObjectName(originalName),
		"uploaded-by":   ownerID.String(),
	})
	if err != nil {
		metrics.MediaUploadTotal.WithLabelValues(string(kind), "failed").Inc()
		logger.FromContext(ctx).Error("Media upload failed",
			zap.String("kind", string(kind)),
			zap.String("key", key),
			zap.Error(err))
		return nil, appErrors.UploadFailedError(err)
	}

	url, err := s.objectURL(ctx, key)
	if err != nil {
		metrics.MediaUploadTotal.WithLabelValues(string(kind), "failed").Inc()
		return nil, appErrors.UploadFailedError(err)
	}

	record := &domain.MediaFile{
		FileID:       uuid.New(),
		OwnerID:      ownerID,
		ObjectKey:    key,
		Kind:         kind,
		ContentType:  contentType,
		SizeBytes:    file.Size,
		OriginalName: originalName,
		CreatedAt:    now.UTC(),
	}
	if err := s.mediaRepo.Create(ctx, record); err != nil {
		// The object is stored and addressable; losing the record only affects accounting
		logger.FromContext(ctx).Warn("Failed to record media upload", zap.String("key", key), zap.Error(err))
	}
	if err := s.auditLogger.LogMediaUpload(ctx, ownerID, key, contentType, file.Size); err != nil {
		logger.FromContext(ctx).Warn("Failed to audit media upload", zap.Error(err))
	}

	metrics.MediaUploadTotal.WithLabelValues(string(kind), "ok").Inc()
	metrics.MediaUploadBytes.WithLabelValues(string(kind)).Observe(float64(file.Size))

	return &domain.UploadResult{
		FileID:      record.FileID,
		URL:         url,
		Key:         key,
		ContentType: contentType,
		Size:        file.Size,
	}, nil
}

func (s *Service) objectURL(ctx context.Context, key string) (string, error) {
	if s.cfg.PublicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", s.cfg.PublicBaseURL, s.store.Bucket(), key), nil
	}
	return s.store.PresignedGetURL(ctx, key, s.cfg.URLExpiry)
}

// normalizeType lower-cases a MIME type and drops parameters such as codecs
func normalizeType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

func audioExtension(contentType string) string {
	switch contentType {
	case "audio/mp4":
		return "m4a"
	case "audio/mpeg":
		return "mp3"
	case "audio/wav", "audio/x-wav":
		return "wav"
	default:
		return "webm"
	}
}

func rejectReason(err error) string {
	switch {
	case appErrors.HasCode(err, appErrors.ErrCodeFileTooLarge):
		return "too_large"
	case appErrors.HasCode(err, appErrors.ErrCodeUnsupportedMedia):
		return "unsupported"
	default:
		return "invalid"
	}
}

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomSuffix() string {
	buf := make([]byte, randomSuffixLen)
	if _, err := rand.Read(buf); err != nil {
		return strings.Repeat("0", randomSuffixLen)
	}
	for i, b := range buf {
		buf[i] = suffixAlphabet[int(b)%len(suffixAlphabet)]
	}
	return string(buf)
}

func set(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}
