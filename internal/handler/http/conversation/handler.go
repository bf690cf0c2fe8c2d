package conversation

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"marketchat-backend/internal/domain"
	"marketchat-backend/internal/middleware"
	"marketchat-backend/pkg/response"
)

// ConversationService is the part of the conversation service the HTTP API uses
type ConversationService interface {
	GetOrCreateConversation(ctx context.Context, input *domain.DirectConversationCreate) (uuid.UUID, error)
	CreateGroupConversation(ctx context.Context, input *domain.GroupConversationCreate) (uuid.UUID, error)
	AddGroupMembers(ctx context.Context, conversationID, actorID uuid.UUID, input *domain.GroupMembersAdd) ([]uuid.UUID, error)
	BlockConversation(ctx context.Context, conversationID, userID uuid.UUID) error
	UnblockConversation(ctx context.Context, conversationID, userID uuid.UUID) error
	GetConversation(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error)
	MarkConversationRead(ctx context.Context, conversationID, userID uuid.UUID) error
}

// Handler handles conversation HTTP requests
type Handler struct {
	conversationService ConversationService
}

// NewHandler creates a new conversation handler
func NewHandler(conversationService ConversationService) *Handler {
	return &Handler{
		conversationService: conversationService,
	}
}

// RegisterRoutes mounts the conversation routes on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/conversations/direct", h.GetOrCreateDirect)
	rg.POST("/conversations/group", h.CreateGroup)
	rg.GET("/conversations", h.ListConversations)
	rg.GET("/conversations/:id", h.GetConversation)
	rg.POST("/conversations/:id/members", h.AddMembers)
	rg.POST("/conversations/:id/block", h.Block)
	rg.DELETE("/conversations/:id/block", h.Unblock)
	rg.POST("/conversations/:id/read", h.MarkRead)
}

// GetOrCreateDirect returns the direct conversation with another user,
// creating it on first contact
// POST /v1/conversations/direct
func (h *Handler) GetOrCreateDirect(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}

	var req domain.DirectConversationCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	req.SelfID = userID
	if req.SelfName == "" {
		req.SelfName = middleware.CurrentDisplayName(c)
	}

	conversationID, err := h.conversationService.GetOrCreateConversation(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"conversation_id": conversationID})
}

// CreateGroup creates a group conversation administered by the caller
// POST /v1/conversations/group
func (h *Handler) CreateGroup(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}

	var req domain.GroupConversationCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	req.AdminID = userID
	if req.Names == nil {
		req.Names = map[uuid.UUID]string{}
	}
	if _, exists := req.Names[userID]; !exists {
		if name := middleware.CurrentDisplayName(c); name != "" {
			req.Names[userID] = name
		}
	}

	conversationID, err := h.conversationService.CreateGroupConversation(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"conversation_id": conversationID})
}

// ListConversations lists the caller's conversations, latest activity first
// GET /v1/conversations
func (h *Handler) ListConversations(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}

	conversations, err := h.conversationService.ListConversations(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"conversations": conversations})
}

// GetConversation returns one conversation the caller participates in
// GET /v1/conversations/:id
func (h *Handler) GetConversation(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}

	conv, err := h.conversationService.GetConversation(c.Request.Context(), conversationID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, conv)
}

// AddMembers adds participants to a group (admins only)
// POST /v1/conversations/:id/members
func (h *Handler) AddMembers(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req domain.GroupMembersAdd
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	added, err := h.conversationService.AddGroupMembers(c.Request.Context(), conversationID, userID, &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"added": added})
}

// Block stops further messages in the conversation
// POST /v1/conversations/:id/block
func (h *Handler) Block(c *gin.Context) {
	h.setBlocked(c, true)
}

// Unblock removes the caller's block
// DELETE /v1/conversations/:id/block
func (h *Handler) Unblock(c *gin.Context) {
	h.setBlocked(c, false)
}

func (h *Handler) setBlocked(c *gin.Context, blocked bool) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var err error
	if blocked {
		err = h.conversationService.BlockConversation(c.Request.Context(), conversationID, userID)
	} else {
		err = h.conversationService.UnblockConversation(c.Request.Context(), conversationID, userID)
	}
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"blocked": blocked})
}

// MarkRead clears the caller's unread counter without touching message receipts
// POST /v1/conversations/:id/read
func (h *Handler) MarkRead(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.conversationService.MarkConversationRead(c.Request.Context(), conversationID, userID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"unread_count": 0})
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.ValidationError(c, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
