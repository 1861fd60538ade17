package interfaces

import (
	"context"

	"github.com/secmon-lab/themis/pkg/domain/types"
)

// CompletionMessage is one turn passed to a model
type CompletionMessage struct {
	Role    types.Role
	Content string
}

// CompletionRequest describes one model call
type CompletionRequest struct {
	SystemPrompt string
	Messages     []CompletionMessage
	Temperature  float32
	MaxTokens    int
	// StructuredOutput asks the backend for a JSON object. Callers must still
	// tolerate prose or malformed output.
	StructuredOutput bool
}

// Completer is a text-generation backend
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Embedder turns text into a vector for similarity search
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}
