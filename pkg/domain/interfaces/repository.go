package interfaces

import "github.com/m-mizutani/goerr/v2"

// ErrNotFound is returned by repositories when the requested record does not exist
var ErrNotFound = goerr.New("not found")

// Repository defines the interface for data persistence
type Repository interface {
	ChatContext() ChatContextRepository
	Message() MessageRepository

	// Close releases backend resources
	Close() error
}
