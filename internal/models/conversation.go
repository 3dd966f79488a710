package models

import "time"

// Conversation is a durable, user-owned thread of chat turns.
// UpdatedAt advances on every successful turn.
type Conversation struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
