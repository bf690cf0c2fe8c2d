package chat

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"marketchat-backend/internal/domain"
	"marketchat-backend/internal/middleware"
	"marketchat-backend/pkg/response"
)

// ChatService is the part of the message pipeline the HTTP API uses
type ChatService interface {
	SendMessage(ctx context.Context, input *domain.MessageSend) (*domain.Message, error)
	ListMessages(ctx context.Context, conversationID, userID uuid.UUID) ([]domain.Message, error)
	UpdateMessageStatus(ctx context.Context, conversationID, userID uuid.UUID, status domain.MessageStatus) (int, error)
	SetTypingStatus(ctx context.Context, conversationID, userID uuid.UUID, isTyping bool) error
	DeleteMessage(ctx context.Context, conversationID, messageID, callerID uuid.UUID) (*domain.Message, error)
	EditMessage(ctx context.Context, conversationID, messageID, callerID uuid.UUID, text string) (*domain.Message, error)
	ToggleReaction(ctx context.Context, conversationID, messageID, userID uuid.UUID, emoji string) (*domain.Message, error)
}

// Handler handles chat HTTP requests
type Handler struct {
	chatService ChatService
}

// NewHandler creates a new chat handler
func NewHandler(chatService ChatService) *Handler {
	return &Handler{
		chatService: chatService,
	}
}

// RegisterRoutes mounts the message routes. sendLimit guards the send route.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, sendLimit gin.HandlerFunc) {
	send := []gin.HandlerFunc{h.SendMessage}
	if sendLimit != nil {
		send = append([]gin.HandlerFunc{sendLimit}, send...)
	}
	rg.POST("/conversations/:id/messages", send...)
	rg.GET("/conversations/:id/messages", h.ListMessages)
	rg.PATCH("/conversations/:id/messages/:mid", h.EditMessage)
	rg.DELETE("/conversations/:id/messages/:mid", h.DeleteMessage)
	rg.POST("/conversations/:id/messages/:mid/reactions", h.ToggleReaction)
	rg.POST("/conversations/:id/typing", h.SetTyping)
	rg.POST("/conversations/:id/status", h.UpdateStatus)
}

// SendMessage sends a message into a conversation
// POST /v1/conversations/:id/messages
func (h *Handler) SendMessage(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req domain.MessageSend
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	req.ConversationID = conversationID
	req.SenderID = userID
	if req.SenderName == "" {
		req.SenderName = middleware.CurrentDisplayName(c)
	}

	msg, err := h.chatService.SendMessage(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, msg)
}

// ListMessages returns the whole conversation in timestamp order
// GET /v1/conversations/:id/messages
func (h *Handler) ListMessages(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}

	messages, err := h.chatService.ListMessages(c.Request.Context(), conversationID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"messages": messages})
}

// TypingRequest represents a typing indicator update
type TypingRequest struct {
	IsTyping *bool `json:"is_typing" binding:"required"`
}

// SetTyping records or clears the caller's typing lease
// POST /v1/conversations/:id/typing
func (h *Handler) SetTyping(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req TypingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.chatService.SetTypingStatus(c.Request.Context(), conversationID, userID, *req.IsTyping); err != nil {
		response.FromError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// StatusRequest represents a delivery or read receipt
type StatusRequest struct {
	Status domain.MessageStatus `json:"status" binding:"required"`
}

// UpdateStatus marks the other participants' messages delivered or read
// POST /v1/conversations/:id/status
func (h *Handler) UpdateStatus(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	updated, err := h.chatService.UpdateMessageStatus(c.Request.Context(), conversationID, userID, req.Status)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.ValidationError(c, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
