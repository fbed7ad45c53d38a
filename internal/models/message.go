package models

import "time"

// MessageRole distinguishes who produced a message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message is one entry in a session transcript. Messages are append-only;
// past entries are never edited or reordered.
type Message struct {
	ID        int64       `json:"id"`
	SessionID string      `json:"session_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Author    string      `json:"author"`
	CreatedAt time.Time   `json:"created_at"`
}
