package domain

import (
	"github.com/google/uuid"
)

// UserProfile is the read-only slice of the users table this service needs
type UserProfile struct {
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty" db:"avatar_url"`
}

// PhotoURL returns the avatar or an empty string
func (u *UserProfile) PhotoURL() string {
	if u.AvatarURL == nil {
		return ""
	}
	return *u.AvatarURL
}
