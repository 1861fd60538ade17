package interfaces

import (
	"context"

	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
)

// ChatContextRepository persists ledger snapshots keyed by (chat, user)
type ChatContextRepository interface {
	// Get returns the stored context. It returns ErrNotFound when absent.
	Get(ctx context.Context, chatID types.ChatID, userID types.UserID) (*model.ChatContext, error)
	// Put upserts the context
	Put(ctx context.Context, chatCtx *model.ChatContext) error
	// Delete removes the context. Deleting a missing context is not an error.
	Delete(ctx context.Context, chatID types.ChatID, userID types.UserID) error
	// ListByUser returns every context owned by the user
	ListByUser(ctx context.Context, userID types.UserID) ([]*model.ChatContext, error)
}
