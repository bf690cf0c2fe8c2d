package push

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"marketchat-backend/internal/domain"
	"marketchat-backend/internal/middleware"
	appErrors "marketchat-backend/pkg/errors"
	"marketchat-backend/pkg/push"
	"marketchat-backend/pkg/response"
)

// TokenService registers device tokens for offline delivery
type TokenService interface {
	RegisterToken(ctx context.Context, userID uuid.UUID, tokenStr, platform string) (*push.Token, error)
	UnregisterToken(ctx context.Context, userID, tokenID uuid.UUID) error
}

// Handler handles push token HTTP requests
type Handler struct {
	pushService TokenService
}

// NewHandler creates a new push notification handler
func NewHandler(pushService TokenService) *Handler {
	return &Handler{
		pushService: pushService,
	}
}

// RegisterRoutes mounts the push token routes on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/push/tokens", h.RegisterToken)
	rg.DELETE("/push/tokens/:id", h.UnregisterToken)
}

// RegisterTokenResponse is returned after registering a device
type RegisterTokenResponse struct {
	ID       uuid.UUID      `json:"id"`
	Type     push.TokenType `json:"type"`
	Platform string         `json:"platform"`
}

// RegisterToken registers a device token for the authenticated user
// POST /v1/push/tokens
func (h *Handler) RegisterToken(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}

	var req domain.PushTokenRegister
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	token, err := h.pushService.RegisterToken(c.Request.Context(), userID, req.Token, req.Platform)
	if err != nil {
		response.FromError(c, appErrors.DatabaseError(err))
		return
	}

	response.Success(c, http.StatusCreated, RegisterTokenResponse{
		ID:       token.ID,
		Type:     token.Type,
		Platform: token.Platform,
	})
}

// UnregisterToken removes one of the caller's device tokens
// DELETE /v1/push/tokens/:id
func (h *Handler) UnregisterToken(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}
	tokenID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid token ID")
		return
	}

	if err := h.pushService.UnregisterToken(c.Request.Context(), userID, tokenID); err != nil {
		response.FromError(c, appErrors.DatabaseError(err))
		return
	}

	c.Status(http.StatusNoContent)
}
