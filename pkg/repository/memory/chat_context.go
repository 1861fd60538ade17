package memory

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/themis/pkg/domain/interfaces"
	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
)

type chatKey struct {
	chatID types.ChatID
	userID types.UserID
}

type chatContextRepository struct {
	mu       sync.RWMutex
	contexts map[chatKey]*model.ChatContext
}

func newChatContextRepository() *chatContextRepository {
	return &chatContextRepository{
		contexts: make(map[chatKey]*model.ChatContext),
	}
}

func validateKey(chatID types.ChatID, userID types.UserID) error {
	if err := chatID.Validate(); err != nil {
		return err
	}
	return userID.Validate()
}

func (r *chatContextRepository) Get(ctx context.Context, chatID types.ChatID, userID types.UserID) (*model.ChatContext, error) {
	if err := validateKey(chatID, userID); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.contexts[chatKey{chatID, userID}]
	if !ok {
		return nil, goerr.Wrap(interfaces.ErrNotFound, "chat context not found",
			goerr.V("chat_id", chatID), goerr.V("user_id", userID))
	}
	return c.Copy(), nil
}

func (r *chatContextRepository) Put(ctx context.Context, chatCtx *model.ChatContext) error {
	if chatCtx == nil {
		return goerr.New("chat context is nil")
	}
	if err := validateKey(chatCtx.ChatID, chatCtx.UserID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// history is owned by the message repository
	stored := chatCtx.Copy()
	stored.History = []*model.Message{}

	r.contexts[chatKey{chatCtx.ChatID, chatCtx.UserID}] = stored
	return nil
}

func (r *chatContextRepository) Delete(ctx context.Context, chatID types.ChatID, userID types.UserID) error {
	if err := validateKey(chatID, userID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.contexts, chatKey{chatID, userID})
	return nil
}

func (r *chatContextRepository) ListByUser(ctx context.Context, userID types.UserID) ([]*model.ChatContext, error) {
	if err := userID.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.ChatContext
	for key, c := range r.contexts {
		if key.userID == userID {
			out = append(out, c.Copy())
		}
	}
	return out, nil
}
