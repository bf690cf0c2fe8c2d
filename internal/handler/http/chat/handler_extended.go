package chat

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"marketchat-backend/internal/middleware"
	"marketchat-backend/pkg/response"
)

// EditMessageRequest represents an edit of a text message
type EditMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// ReactionRequest represents a reaction toggle
type ReactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

// DeleteMessage soft-deletes one of the caller's messages
// DELETE /v1/conversations/:id/messages/:mid
func (h *Handler) DeleteMessage(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	messageID, ok := pathID(c, "mid")
	if !ok {
		return
	}

	msg, err := h.chatService.DeleteMessage(c.Request.Context(), conversationID, messageID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, msg)
}

// EditMessage replaces the text of one of the caller's messages
// PATCH /v1/conversations/:id/messages/:mid
func (h *Handler) EditMessage(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	messageID, ok := pathID(c, "mid")
	if !ok {
		return
	}

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	msg, err := h.chatService.EditMessage(c.Request.Context(), conversationID, messageID, userID, req.Text)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, msg)
}

// ToggleReaction sets, replaces or removes the caller's reaction
// POST /v1/conversations/:id/messages/:mid/reactions
func (h *Handler) ToggleReaction(c *gin.Context) {
	userID, ok := middleware.CurrentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}
	messageID, ok := pathID(c, "mid")
	if !ok {
		return
	}

	var req ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	msg, err := h.chatService.ToggleReaction(c.Request.Context(), conversationID, messageID, userID, req.Emoji)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, msg)
}
