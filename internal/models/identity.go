package models

import "time"

// Identity is an external OAuth login linked to a user.
type Identity struct {
	ID             string    `json:"id"`
	UserID         string    `json:"-"`
	Provider       string    `json:"provider"` // "google", "github", "apple"
	ProviderUserID string    `json:"-"`
	Email          string    `json:"email"`
	CreatedAt      time.Time `json:"created_at"`
}
