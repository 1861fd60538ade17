package usecase

import "errors"

// Sentinel errors for use case layer
var (
	// Research errors
	ErrModelFailure    = errors.New("model completion failed")
	ErrSynthesisFailed = errors.New("answer synthesis failed")

	// Input errors
	ErrEmptyMessage       = errors.New("message is empty")
	ErrInvalidPreferences = errors.New("invalid preferences")
)

// Context keys for error values
const (
	ChatIDKey = "chat_id"
	UserIDKey = "user_id"
	RoundKey  = "round"
	StageKey  = "stage"
)
