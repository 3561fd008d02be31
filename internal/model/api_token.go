package model

import "time"

// APIToken is an opaque personal access token. Only the SHA-256 hash
// of the token is stored.
type APIToken struct {
	ID         uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     string     `gorm:"index;not null" json:"-"`
	Name       string     `json:"name"`
	TokenHash  string     `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
