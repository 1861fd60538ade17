// Package lenient decodes structured model output that may be wrapped in prose,
// markdown fences or trailing commentary.
package lenient

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/themis/pkg/utils/logging"
)

// ErrNoJSON is returned when no JSON object can be located in the text.
var ErrNoJSON = goerr.New("no JSON object found in text")

// Validator is implemented by response shapes that have required fields. A value
// that decodes but fails validation is treated as unparseable.
type Validator interface {
	Validate() error
}

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(\\{.*?\\})\\s*```")

// Extract locates a JSON object inside text. Fenced blocks win over bare braces;
// otherwise the span from the first '{' to the last '}' is returned.
func Extract(text string) (string, bool) {
	if m := fencedBlock.FindStringSubmatch(text); len(m) == 2 {
		return m[1], true
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// Decode extracts and unmarshals the JSON object in text into T.
func Decode[T any](text string) (T, error) {
	var v T

	raw, ok := Extract(text)
	if !ok {
		return v, goerr.Wrap(ErrNoJSON, "failed to extract JSON", goerr.V("text", truncate(text, 200)))
	}

	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, goerr.Wrap(err, "failed to unmarshal JSON", goerr.V("json", truncate(raw, 200)))
	}

	if validator, ok := any(&v).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return v, goerr.Wrap(err, "decoded JSON is incomplete")
		}
	}

	return v, nil
}

// DecodeOr decodes text into T or returns the value built by fallback. The
// boolean reports whether the decoded value was used.
func DecodeOr[T any](ctx context.Context, text string, fallback func() T) (T, bool) {
	v, err := Decode[T](text)
	if err != nil {
		logging.From(ctx).Debug("falling back to heuristic default", "error", err)
		return fallback(), false
	}
	return v, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
