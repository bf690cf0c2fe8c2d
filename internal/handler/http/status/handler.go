package status

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"marketchat-backend/internal/domain"
	"marketchat-backend/internal/middleware"
	statusService "marketchat-backend/internal/service/status"
	"marketchat-backend/pkg/response"
)

// StatusService is the part of the status service the HTTP API uses
type StatusService interface {
	AddStatus(ctx context.Context, input *domain.StatusCreate) (*domain.UserStatus, error)
	ListStatuses(ctx context.Context) ([]domain.UserStatus, error)
	ViewStatus(ctx context.Context, statusID, userID uuid.UUID) error
}

// Handler handles status (story) HTTP requests
type Handler struct {
	statusService StatusService
}

// NewHandler creates a new status handler
func NewHandler(statusService StatusService) *Handler {
	return &Handler{statusService: statusService}
}

// RegisterRoutes mounts the status routes on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/statuses", h.AddStatus)
	rg.GET("/statuses", h.ListStatuses)
	rg.POST("/statuses/:id/views", h.ViewStatus)
}

// AddStatus publishes a 24 hour status for the caller
// POST /v1/statuses
func (h *Handler) AddStatus(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}

	var req domain.StatusCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	req.UserID = userID
	if req.UserName == "" {
		req.UserName = middleware.CurrentDisplayName(c)
	}

	created, err := h.statusService.AddStatus(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, created)
}

// ListStatuses returns the non-expired statuses, newest first, or grouped
// per author with ?grouped=true
// GET /v1/statuses
func (h *Handler) ListStatuses(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}

	statuses, err := h.statusService.ListStatuses(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}

	if grouped, _ := strconv.ParseBool(c.Query("grouped")); grouped {
		response.Success(c, http.StatusOK, gin.H{"groups": statusService.GroupStatuses(statuses, userID)})
		return
	}
	response.Success(c, http.StatusOK, gin.H{"statuses": statuses})
}

// ViewStatus records that the caller saw a status
// POST /v1/statuses/:id/views
func (h *Handler) ViewStatus(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}
	statusID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid status ID")
		return
	}

	if err := h.statusService.ViewStatus(c.Request.Context(), statusID, userID); err != nil {
		response.FromError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
