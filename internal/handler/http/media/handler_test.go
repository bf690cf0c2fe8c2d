package media

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"marketchat-backend/internal/domain"
	mediaService "marketchat-backend/internal/service/media"
	appErrors "marketchat-backend/pkg/errors"
)

type MockMediaService struct {
	mock.Mock
	received []byte
}

func (m *MockMediaService) call(method string, ctx context.Context, ownerID uuid.UUID, file *mediaService.File, path string) (*domain.UploadResult, error) {
	m.received, _ = io.ReadAll(file.Reader)
	args := m.Called(method, ownerID, file.Filename, file.ContentType, file.Size, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UploadResult), args.Error(1)
}

func (m *MockMediaService) UploadImage(ctx context.Context, ownerID uuid.UUID, file *mediaService.File, path string) (*domain.UploadResult, error) {
	return m.call("image", ctx, ownerID, file, path)
}

func (m *MockMediaService) UploadVideo(ctx context.Context, ownerID uuid.UUID, file *mediaService.File, path string) (*domain.UploadResult, error) {
	return m.call("video", ctx, ownerID, file, path)
}

func (m *MockMediaService) UploadAudio(ctx context.Context, ownerID uuid.UUID, blob *mediaService.File, path string) (*domain.UploadResult, error) {
	return m.call("audio", ctx, ownerID, blob, path)
}

func newRouter(svc MediaService, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	rg := router.Group("/v1", func(c *gin.Context) { c.Set("user_id", userID) })
	NewHandler(svc).RegisterRoutes(rg)
	return router
}

func multipartRequest(t *testing.T, path, filename, contentType string, content []byte, storagePath string) *http.Request {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	if storagePath != "" {
		require.NoError(t, writer.WriteField("path", storagePath))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestUploadImage(t *testing.T) {
	svc := new(MockMediaService)
	user := uuid.New()
	content := []byte("jpeg-bytes")
	svc.On("call", "image", user, "photo.jpg", "image/jpeg", int64(len(content)), "listings/7").
		Return(&domain.UploadResult{URL: "https://cdn/x", Key: "listings/7/x"}, nil)

	w := httptest.NewRecorder()
	newRouter(svc, user).ServeHTTP(w, multipartRequest(t, "/v1/media/images", "photo.jpg", "image/jpeg", content, "listings/7"))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "https://cdn/x")
	assert.Equal(t, content, svc.received)
}

func TestUploadAudio_ServiceRejects(t *testing.T) {
	svc := new(MockMediaService)
	user := uuid.New()
	svc.On("call", "audio", user, mock.Anything, "application/pdf", mock.Anything, "").
		Return(nil, appErrors.UnsupportedMediaError("application/pdf"))

	w := httptest.NewRecorder()
	newRouter(svc, user).ServeHTTP(w, multipartRequest(t, "/v1/media/audio", "a.pdf", "application/pdf", []byte("%PDF"), ""))

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestUpload_StorageFailure(t *testing.T) {
	svc := new(MockMediaService)
	user := uuid.New()
	svc.On("call", "video", user, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, appErrors.UploadFailedError(assert.AnError))

	w := httptest.NewRecorder()
	newRouter(svc, user).ServeHTTP(w, multipartRequest(t, "/v1/media/videos", "clip.mp4", "video/mp4", []byte("mp4"), ""))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "Failed to upload file. Please try again.")
}

func TestUpload_MissingFile(t *testing.T) {
	svc := new(MockMediaService)
	req := httptest.NewRequest(http.MethodPost, "/v1/media/images", bytes.NewReader(nil))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")

	w := httptest.NewRecorder()
	newRouter(svc, uuid.New()).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "call", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
