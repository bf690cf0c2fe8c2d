package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Conversation is the read model of a conversation thread.
// Maps to CockroachDB conversations + conversation_participants; TypingUsers
// is merged in from Redis typing leases.
type Conversation struct {
	ConversationID      uuid.UUID            `json:"conversation_id"`
	Participants        []uuid.UUID          `json:"participants"`
	ParticipantNames    map[uuid.UUID]string `json:"participant_names"`
	ParticipantPhotos   map[uuid.UUID]string `json:"participant_photos"`
	LastMessage         string               `json:"last_message"`
	LastMessageTime     *time.Time           `json:"last_message_time,omitempty"`
	LastMessageSenderID *uuid.UUID           `json:"last_message_sender_id,omitempty"`
	LastMessageType     MessageType          `json:"last_message_type,omitempty"`
	UnreadCount         map[uuid.UUID]int    `json:"unread_count"`
	TypingUsers         map[uuid.UUID]bool   `json:"typing_users"`
	IsGroup             bool                 `json:"is_group"`
	GroupName           string               `json:"group_name,omitempty"`
	GroupImage          string               `json:"group_image,omitempty"`
	GroupAdmins         []uuid.UUID          `json:"group_admins,omitempty"`
	BlockedBy           []uuid.UUID          `json:"blocked_by"`
	CreatedBy           uuid.UUID            `json:"created_by"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// ConversationParticipant is one row of conversation_participants
type ConversationParticipant struct {
	ConversationID uuid.UUID `json:"conversation_id" db:"conversation_id"`
	UserID         uuid.UUID `json:"user_id" db:"user_id"`
	DisplayName    string    `json:"display_name" db:"display_name"`
	PhotoURL       string    `json:"photo_url" db:"photo_url"`
	UnreadCount    int       `json:"unread_count" db:"unread_count"`
	IsAdmin        bool      `json:"is_admin" db:"is_admin"`
	HasBlocked     bool      `json:"has_blocked" db:"has_blocked"`
	JoinedAt       time.Time `json:"joined_at" db:"joined_at"`
}

// NewConversation returns a conversation with all maps allocated
func NewConversation(id uuid.UUID) *Conversation {
	return &Conversation{
		ConversationID:    id,
		Participants:      []uuid.UUID{},
		ParticipantNames:  map[uuid.UUID]string{},
		ParticipantPhotos: map[uuid.UUID]string{},
		UnreadCount:       map[uuid.UUID]int{},
		TypingUsers:       map[uuid.UUID]bool{},
		BlockedBy:         []uuid.UUID{},
	}
}

// AddParticipant projects a participant row into the conversation maps
func (c *Conversation) AddParticipant(p ConversationParticipant) {
	c.Participants = append(c.Participants, p.UserID)
	c.ParticipantNames[p.UserID] = p.DisplayName
	c.ParticipantPhotos[p.UserID] = p.PhotoURL
	c.UnreadCount[p.UserID] = p.UnreadCount
	if p.IsAdmin {
		c.GroupAdmins = append(c.GroupAdmins, p.UserID)
	}
	if p.HasBlocked {
		c.BlockedBy = append(c.BlockedBy, p.UserID)
	}
}

// HasParticipant reports whether userID is a member
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// IsAdmin reports whether userID is a group admin
func (c *Conversation) IsAdmin(userID uuid.UUID) bool {
	for _, id := range c.GroupAdmins {
		if id == userID {
			return true
		}
	}
	return false
}

// IsBlocked reports whether any participant has blocked the conversation
func (c *Conversation) IsBlocked() bool {
	return len(c.BlockedBy) > 0
}

// OtherParticipants returns every member except userID
func (c *Conversation) OtherParticipants(userID uuid.UUID) []uuid.UUID {
	others := make([]uuid.UUID, 0, len(c.Participants))
	for _, id := range c.Participants {
		if id != userID {
			others = append(others, id)
		}
	}
	return others
}

// DirectKey is the canonical key of an unordered user pair
func DirectKey(a, b uuid.UUID) string {
	ids := []string{a.String(), b.String()}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

// DirectConversationCreate is the get-or-create request for a 1:1 chat
type DirectConversationCreate struct {
	SelfID     uuid.UUID `json:"-"`
	OtherID    uuid.UUID `json:"other_id" binding:"required"`
	SelfName   string    `json:"self_name"`
	OtherName  string    `json:"other_name"`
	SelfPhoto  string    `json:"self_photo,omitempty"`
	OtherPhoto string    `json:"other_photo,omitempty"`
}

// GroupConversationCreate is the request to create a group
type GroupConversationCreate struct {
	AdminID    uuid.UUID            `json:"-"`
	MemberIDs  []uuid.UUID          `json:"member_ids" binding:"required,min=1"`
	Names      map[uuid.UUID]string `json:"names"`
	Photos     map[uuid.UUID]string `json:"photos"`
	GroupName  string               `json:"group_name" binding:"required"`
	GroupImage string               `json:"group_image,omitempty"`
}

// GroupMembersAdd adds members to an existing group
type GroupMembersAdd struct {
	MemberIDs []uuid.UUID          `json:"member_ids" binding:"required,min=1"`
	Names     map[uuid.UUID]string `json:"names"`
	Photos    map[uuid.UUID]string `json:"photos"`
}

// MessageSummary is the denormalized last-message projection written on send
type MessageSummary struct {
	MessageID  uuid.UUID
	Text       string
	Time       time.Time
	SenderID   uuid.UUID
	SenderName string
	Type       MessageType
}
