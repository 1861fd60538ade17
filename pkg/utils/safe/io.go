package safe

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/secmon-lab/themis/pkg/utils/logging"
)

// Close closes closer and logs a failure. A nil closer is ignored.
func Close(ctx context.Context, closer io.Closer) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.From(ctx).Error("Failed to close", "error", err)
	}
}

// Write writes data to w and logs a failure. It reports whether all of data
// was written; a streaming caller stops once the client is gone.
func Write(ctx context.Context, w io.Writer, data []byte) bool {
	if w == nil {
		return false
	}
	if _, err := w.Write(data); err != nil {
		logging.From(ctx).Warn("Failed to write", "error", err)
		return false
	}
	return true
}

// Flush pushes buffered response data to the client. Writers that cannot
// flush are left alone.
func Flush(ctx context.Context, w http.ResponseWriter) {
	err := http.NewResponseController(w).Flush()
	if err != nil && !errors.Is(err, http.ErrNotSupported) {
		logging.From(ctx).Debug("Failed to flush response", "error", err)
	}
}
