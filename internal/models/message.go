package models

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one immutable turn within a conversation. UserID duplicates
// the owning conversation's user id so isolation filters never need a join.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}
