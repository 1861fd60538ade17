package interfaces

import (
	"context"

	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
)

// MessageRepository persists conversation messages
type MessageRepository interface {
	// Put upserts a message
	Put(ctx context.Context, msg *model.Message) error
	// List returns the messages of a conversation ordered by creation time
	List(ctx context.Context, chatID types.ChatID, userID types.UserID) ([]*model.Message, error)
	// DeleteByChat removes all messages of a conversation
	DeleteByChat(ctx context.Context, chatID types.ChatID, userID types.UserID) error
}
