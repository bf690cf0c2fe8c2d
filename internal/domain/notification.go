package domain

import (
	"time"

	"github.com/google/uuid"
)

// Alert is a one-shot in-app notification about a new message
type Alert struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	Photo          string    `json:"photo,omitempty"`
	Sound          string    `json:"sound"`
	IsGroup        bool      `json:"is_group"`
	At             time.Time `json:"at"`
}

// PushTokenRegister is the request to register a device token
type PushTokenRegister struct {
	Token    string `json:"token" binding:"required"`
	Platform string `json:"platform" binding:"required,oneof=android ios web"`
}

// Presence is a user's online state
type Presence struct {
	UserID   uuid.UUID  `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}
