package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
)

type messageRepository struct {
	mu       sync.RWMutex
	messages map[chatKey]map[types.MessageID]*model.Message
}

func newMessageRepository() *messageRepository {
	return &messageRepository{
		messages: make(map[chatKey]map[types.MessageID]*model.Message),
	}
}

func (r *messageRepository) Put(ctx context.Context, msg *model.Message) error {
	if msg == nil {
		return goerr.New("message is nil")
	}
	if err := validateKey(msg.ChatID, msg.UserID); err != nil {
		return err
	}
	if msg.ID == "" {
		return goerr.New("message ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := chatKey{msg.ChatID, msg.UserID}
	if r.messages[key] == nil {
		r.messages[key] = make(map[types.MessageID]*model.Message)
	}
	copied := *msg
	r.messages[key][msg.ID] = &copied
	return nil
}

func (r *messageRepository) List(ctx context.Context, chatID types.ChatID, userID types.UserID) ([]*model.Message, error) {
	if err := validateKey(chatID, userID); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs := make([]*model.Message, 0, len(r.messages[chatKey{chatID, userID}]))
	for _, m := range r.messages[chatKey{chatID, userID}] {
		copied := *m
		msgs = append(msgs, &copied)
	}
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

func (r *messageRepository) DeleteByChat(ctx context.Context, chatID types.ChatID, userID types.UserID) error {
	if err := validateKey(chatID, userID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.messages, chatKey{chatID, userID})
	return nil
}
