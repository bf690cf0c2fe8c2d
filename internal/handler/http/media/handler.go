package media

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketchat-backend/internal/domain"
	"marketchat-backend/internal/middleware"
	mediaService "marketchat-backend/internal/service/media"
	"marketchat-backend/pkg/constants"
	appErrors "marketchat-backend/pkg/errors"
	"marketchat-backend/pkg/logger"
	"marketchat-backend/pkg/response"
)

// multipartOverhead leaves room for form boundaries and the path field
const multipartOverhead = 1 << 20

// MediaService is the upload gateway the HTTP API uses
type MediaService interface {
	UploadImage(ctx context.Context, ownerID uuid.UUID, file *mediaService.File, path string) (*domain.UploadResult, error)
	UploadVideo(ctx context.Context, ownerID uuid.UUID, file *mediaService.File, path string) (*domain.UploadResult, error)
	UploadAudio(ctx context.Context, ownerID uuid.UUID, blob *mediaService.File, path string) (*domain.UploadResult, error)
}

type uploadFunc func(ctx context.Context, ownerID uuid.UUID, file *mediaService.File, path string) (*domain.UploadResult, error)

// Handler handles media upload requests
type Handler struct {
	mediaService MediaService
}

// NewHandler creates a new media handler
func NewHandler(mediaService MediaService) *Handler {
	return &Handler{mediaService: mediaService}
}

// RegisterRoutes mounts the upload routes. Extra handlers (rate limit,
// timeout) run before each upload.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, before ...gin.HandlerFunc) {
	route := func(fn gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, before...), fn)
	}
	rg.POST("/media/images", route(h.UploadImage)...)
	rg.POST("/media/videos", route(h.UploadVideo)...)
	rg.POST("/media/audio", route(h.UploadAudio)...)
}

// UploadImage stores an image attachment
// POST /v1/media/images (multipart: file, path)
func (h *Handler) UploadImage(c *gin.Context) {
	h.upload(c, constants.MaxImageSize, h.mediaService.UploadImage)
}

// UploadVideo stores a video attachment
// POST /v1/media/videos (multipart: file, path)
func (h *Handler) UploadVideo(c *gin.Context) {
	h.upload(c, constants.MaxVideoSize, h.mediaService.UploadVideo)
}

// UploadAudio stores a recorded voice note
// POST /v1/media/audio (multipart: file, path)
func (h *Handler) UploadAudio(c *gin.Context) {
	h.upload(c, constants.MaxAudioSize, h.mediaService.UploadAudio)
}

func (h *Handler) upload(c *gin.Context, limit int64, fn uploadFunc) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.FromError(c, appErrors.FileTooLargeError(limit))
			return
		}
		response.FromError(c, appErrors.MissingFieldError("file"))
		return
	}

	file, err := header.Open()
	if err != nil {
		response.FromError(c, appErrors.ValidationError("Could not read file"))
		return
	}
	defer closeFile(c, file)

	result, err := fn(c.Request.Context(), userID, &mediaService.File{
		Reader:      file,
		Size:        header.Size,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
	}, c.PostForm("path"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, result)
}

func closeFile(c *gin.Context, file multipart.File) {
	if err := file.Close(); err != nil {
		logger.FromContext(c.Request.Context()).Debug("Failed to close upload", zap.Error(err))
	}
}
