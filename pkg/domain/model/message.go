package model

import (
	"time"

	"github.com/secmon-lab/themis/pkg/domain/types"
)

// Message is one entry of a conversation
type Message struct {
	ID        types.MessageID `json:"id"`
	ChatID    types.ChatID    `json:"chat_id"`
	UserID    types.UserID    `json:"user_id"`
	Role      types.Role      `json:"role"`
	Content   string          `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewMessage creates a message with a fresh ID
func NewMessage(chatID types.ChatID, userID types.UserID, role types.Role, content string) *Message {
	return &Message{
		ID:        types.NewMessageID(),
		ChatID:    chatID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}
