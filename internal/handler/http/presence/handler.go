package presence

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"marketchat-backend/internal/domain"
	"marketchat-backend/internal/middleware"
	"marketchat-backend/pkg/response"
)

// PresenceService reads and writes online state
type PresenceService interface {
	SetPresence(ctx context.Context, userID uuid.UUID, online bool) error
	GetPresence(ctx context.Context, userID uuid.UUID) (*domain.Presence, error)
}

// Handler handles presence HTTP requests
type Handler struct {
	presenceService PresenceService
}

// NewHandler creates a new presence handler
func NewHandler(presenceService PresenceService) *Handler {
	return &Handler{presenceService: presenceService}
}

// RegisterRoutes mounts the presence routes on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/presence", h.SetPresence)
	rg.GET("/presence/:userId", h.GetPresence)
}

// SetPresenceRequest represents an explicit online/offline update
type SetPresenceRequest struct {
	Online *bool `json:"online" binding:"required"`
}

// SetPresence marks the caller online or offline
// POST /v1/presence
func (h *Handler) SetPresence(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}

	var req SetPresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.presenceService.SetPresence(c.Request.Context(), userID, *req.Online); err != nil {
		response.FromError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetPresence returns another user's online state and last seen time
// GET /v1/presence/:userId
func (h *Handler) GetPresence(c *gin.Context) {
	if _, ok := middleware.CurrentUser(c); !ok {
		return
	}
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	presence, err := h.presenceService.GetPresence(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, presence)
}
