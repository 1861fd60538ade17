package interfaces

import (
	"context"
	"time"

	"github.com/secmon-lab/themis/pkg/domain/model"
)

// SourceProvider finds candidate documents for a query
type SourceProvider interface {
	// Search returns ranked candidate documents
	Search(ctx context.Context, query string, numResults int) ([]*model.Document, error)
	// FetchFullText returns extracted page text, or an empty string on any failure
	FetchFullText(ctx context.Context, url string, timeout time.Duration) string
}
