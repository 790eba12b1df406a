package domain

import (
	"time"
)

type User struct {
	ID          int64     `json:"id"`
	ExternalID  string    `json:"external_id"`
	Login       string    `json:"login,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Email       string    `json:"email,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastLogin   time.Time `json:"last_login"`
}

// ExternalProfile is the already-verified identity assertion handed to
// the user store. Verification happens upstream; the store trusts it.
type ExternalProfile struct {
	ExternalID  string
	Login       string
	DisplayName string
	Email       string
}
