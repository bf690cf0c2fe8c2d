package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketchat-backend/internal/domain"
	appErrors "marketchat-backend/pkg/errors"
)

// MockObjectStore records what was written
type MockObjectStore struct {
	mock.Mock
	written []byte
}

func (m *MockObjectStore) Bucket() string {
	return "chat-media"
}

func (m *MockObjectStore) PutObject(ctx context.Context, key string, reader io.Reader, size int64, contentType string, metadata map[string]string) error {
	data, _ := io.ReadAll(reader)
	m.written = data
	args := m.Called(ctx, key, size, contentType, metadata)
	return args.Error(0)
}

func (m *MockObjectStore) PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, key, expiry)
	return args.String(0), args.Error(1)
}

type MockMediaRepository struct {
	mock.Mock
}

func (m *MockMediaRepository) Create(ctx context.Context, file *domain.MediaFile) error {
	args := m.Called(ctx, file)
	return args.Error(0)
}

type MockAuditLogger struct {
	mock.Mock
}

func (m *MockAuditLogger) LogMediaUpload(ctx context.Context, userID uuid.UUID, objectKey, contentType string, size int64) error {
	args := m.Called(ctx, userID, objectKey, contentType, size)
	return args.Error(0)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(cfg Config) (*Service, *MockObjectStore, *MockMediaRepository, *MockAuditLogger) {
	store := new(MockObjectStore)
	repo := new(MockMediaRepository)
	audit := new(MockAuditLogger)
	svc := NewService(store, repo, audit, cfg)
	svc.now = func() time.Time { return fixedNow }
	return svc, store, repo, audit
}

func fileOf(content []byte, name, contentType string) *File {
	return &File{
		Reader:      bytes.NewReader(content),
		Size:        int64(len(content)),
		Filename:    name,
		ContentType: contentType,
	}
}

func TestUploadImage_PublicURL(t *testing.T) {
	svc, store, repo, audit := newTestService(Config{PublicBaseURL: "https://cdn.example.com/"})
	owner := uuid.New()
	content := []byte("fake-jpeg-bytes")

	store.On("PutObject", mock.Anything, mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "listings/42/1772366400000_") && strings.HasSuffix(key, "_my_photo.jpg")
	}), int64(len(content)), "image/jpeg", mock.Anything).Return(nil)
	repo.On("Create", mock.Anything, mock.MatchedBy(func(f *domain.MediaFile) bool {
		return f.OwnerID == owner && f.Kind == domain.MediaKindImage && f.OriginalName == "my photo.jpg"
	})).Return(nil)
	audit.On("LogMediaUpload", mock.Anything, owner, mock.Anything, "image/jpeg", int64(len(content))).Return(nil)

	result, err := svc.UploadImage(context.Background(), owner, fileOf(content, "my photo.jpg", "image/jpeg"), "listings/42")

	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/chat-media/"+result.Key, result.URL)
	assert.Equal(t, "image/jpeg", result.ContentType)
	assert.Equal(t, content, store.written)
	store.AssertNotCalled(t, "PresignedGetURL", mock.Anything, mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
	audit.AssertExpectations(t)
}

func TestUploadImage_PresignedURL(t *testing.T) {
	svc, store, repo, audit := newTestService(Config{URLExpiry: time.Hour})

	store.On("PutObject", mock.Anything, mock.Anything, mock.Anything, "image/png", mock.Anything).Return(nil)
	store.On("PresignedGetURL", mock.Anything, mock.Anything, time.Hour).Return("https://minio/signed", nil)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	audit.On("LogMediaUpload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := svc.UploadImage(context.Background(), uuid.New(), fileOf([]byte("png"), "a.png", "image/png"), "")

	require.NoError(t, err)
	assert.Equal(t, "https://minio/signed", result.URL)
	assert.True(t, strings.HasPrefix(result.Key, "chat/images/"))
}

func TestUploadImage_SniffsMissingType(t *testing.T) {
	svc, store, repo, audit := newTestService(Config{PublicBaseURL: "https://cdn"})
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

	store.On("PutObject", mock.Anything, mock.Anything, int64(len(png)), "image/png", mock.Anything).Return(nil)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	audit.On("LogMediaUpload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := svc.UploadImage(context.Background(), uuid.New(), fileOf(png, "x", ""), "")

	require.NoError(t, err)
	assert.Equal(t, "image/png", result.ContentType)
	// Sniffed bytes are replayed into the upload
	assert.Equal(t, png, store.written)
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name string
		kind domain.MediaKind
		file *File
		path string
		code appErrors.ErrorCode
	}{
		{"image too large", domain.MediaKindImage, &File{Reader: strings.NewReader("x"), Size: 5*1024*1024 + 1, ContentType: "image/jpeg"}, "", appErrors.ErrCodeFileTooLarge},
		{"video too large", domain.MediaKindVideo, &File{Reader: strings.NewReader("x"), Size: 50*1024*1024 + 1, ContentType: "video/mp4"}, "", appErrors.ErrCodeFileTooLarge},
		{"pdf as image", domain.MediaKindImage, fileOf([]byte("%PDF"), "a.pdf", "application/pdf"), "", appErrors.ErrCodeUnsupportedMedia},
		{"svg as image", domain.MediaKindImage, fileOf([]byte("<svg/>"), "a.svg", "image/svg+xml"), "", appErrors.ErrCodeUnsupportedMedia},
		{"empty file", domain.MediaKindImage, fileOf(nil, "a.jpg", "image/jpeg"), "", appErrors.ErrCodeValidation},
		{"traversal path", domain.MediaKindImage, fileOf([]byte("x"), "a.jpg", "image/jpeg"), "../etc", appErrors.ErrCodeValidation},
		{"absolute path", domain.MediaKindImage, fileOf([]byte("x"), "a.jpg", "image/jpeg"), "/etc", appErrors.ErrCodeValidation},
		{"missing file", domain.MediaKindImage, nil, "", appErrors.ErrCodeMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _, _ := newTestService(Config{PublicBaseURL: "https://cdn"})

			_, err := svc.upload(context.Background(), tt.kind, uuid.New(), tt.file, tt.path)

			require.Error(t, err)
			assert.True(t, appErrors.HasCode(err, tt.code), "got %v", err)
			store.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestUploadVideo_StripsCodecParameters(t *testing.T) {
	svc, store, repo, audit := newTestService(Config{PublicBaseURL: "https://cdn"})

	store.On("PutObject", mock.Anything, mock.Anything, mock.Anything, "video/webm", mock.Anything).Return(nil)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	audit.On("LogMediaUpload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := svc.UploadVideo(context.Background(), uuid.New(), fileOf([]byte("webm"), "clip.webm", "video/webm;codecs=vp8,opus"), "")

	require.NoError(t, err)
	assert.Equal(t, "video/webm", result.ContentType)
	assert.True(t, strings.HasPrefix(result.Key, "chat/videos/"))
}

func TestUploadAudio_NamesVoiceNote(t *testing.T) {
	svc, store, repo, audit := newTestService(Config{PublicBaseURL: "https://cdn"})

	store.On("PutObject", mock.Anything, mock.MatchedBy(func(key string) bool {
		return strings.HasSuffix(key, "_voice_note.webm")
	}), mock.Anything, "audio/webm", mock.Anything).Return(nil)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	audit.On("LogMediaUpload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := svc.UploadAudio(context.Background(), uuid.New(), &File{Reader: strings.NewReader("ogg"), Size: 3}, "")

	require.NoError(t, err)
	assert.Equal(t, "audio/webm", result.ContentType)
	assert.True(t, strings.HasPrefix(result.Key, "chat/audio/"))
	store.AssertExpectations(t)
}

func TestUpload_StoreFailure(t *testing.T) {
	svc, store, repo, _ := newTestService(Config{PublicBaseURL: "https://cdn"})
	store.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	_, err := svc.UploadImage(context.Background(), uuid.New(), fileOf([]byte("x"), "a.jpg", "image/jpeg"), "")

	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrCodeUploadFailed))
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestUpload_RecordFailureStillReturnsURL(t *testing.T) {
	svc, store, repo, audit := newTestService(Config{PublicBaseURL: "https://cdn"})
	store.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	repo.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))
	audit.On("LogMediaUpload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := svc.UploadImage(context.Background(), uuid.New(), fileOf([]byte("x"), "a.jpg", "image/jpeg"), "")

	require.NoError(t, err)
	assert.NotEmpty(t, result.URL)
}

func TestRandomSuffix(t *testing.T) {
	a := randomSuffix()
	assert.Len(t, a, 6)
	for _, r := range a {
		assert.Contains(t, suffixAlphabet, string(r))
	}
}
