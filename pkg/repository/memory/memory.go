package memory

import (
	"github.com/secmon-lab/themis/pkg/domain/interfaces"
)

// Repository is an alias for Memory to match the pattern
type Repository = Memory

// Memory keeps all records in process. It is meant for development and tests.
type Memory struct {
	chatContext *chatContextRepository
	message     *messageRepository
}

var _ interfaces.Repository = &Memory{}

func New() *Memory {
	return &Memory{
		chatContext: newChatContextRepository(),
		message:     newMessageRepository(),
	}
}

func (m *Memory) ChatContext() interfaces.ChatContextRepository {
	return m.chatContext
}

func (m *Memory) Message() interfaces.MessageRepository {
	return m.message
}

// Close is a no-op for the in-memory backend
func (m *Memory) Close() error {
	return nil
}
