package domain

import (
	"time"

	"github.com/google/uuid"
)

// StatusType is the kind of content a story carries
type StatusType string

const (
	StatusTypeText  StatusType = "text"
	StatusTypeImage StatusType = "image"
	StatusTypeVideo StatusType = "video"
)

// Valid reports whether t is a known status type
func (t StatusType) Valid() bool {
	return t == StatusTypeText || t == StatusTypeImage || t == StatusTypeVideo
}

// UserStatus is an ephemeral story entry.
// Maps to CockroachDB statuses; Viewers is projected from status_viewers.
type UserStatus struct {
	StatusID   uuid.UUID   `json:"status_id" db:"status_id"`
	UserID     uuid.UUID   `json:"user_id" db:"user_id"`
	UserName   string      `json:"user_name" db:"user_name"`
	UserPhoto  string      `json:"user_photo" db:"user_photo"`
	Type       StatusType  `json:"type" db:"type"`
	Content    string      `json:"content" db:"content"`
	Background *string     `json:"background,omitempty" db:"background"`
	Viewers    []uuid.UUID `json:"viewers"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	ExpiresAt  time.Time   `json:"expires_at" db:"expires_at"`
}

// IsVisibleAt reports whether the status is still live at t
func (s *UserStatus) IsVisibleAt(t time.Time) bool {
	return t.Before(s.ExpiresAt)
}

// ViewedBy reports whether userID is in the viewer list
func (s *UserStatus) ViewedBy(userID uuid.UUID) bool {
	for _, v := range s.Viewers {
		if v == userID {
			return true
		}
	}
	return false
}

// StatusCreate is the request to post a status
type StatusCreate struct {
	UserID     uuid.UUID  `json:"-"`
	UserName   string     `json:"user_name"`
	UserPhoto  string     `json:"user_photo"`
	Content    string     `json:"content" binding:"required"`
	Type       StatusType `json:"type" binding:"required"`
	Background *string    `json:"background,omitempty"`
}

// StatusGroup collects one author's live statuses for a given viewer
type StatusGroup struct {
	UserID    uuid.UUID    `json:"user_id"`
	UserName  string       `json:"user_name"`
	UserPhoto string       `json:"user_photo"`
	Statuses  []UserStatus `json:"statuses"`
	Unseen    bool         `json:"unseen"`
}
