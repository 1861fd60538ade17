package lenient_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/themis/pkg/utils/lenient"
)

type verdict struct {
	Sufficient *bool  `json:"sufficient"`
	Note       string `json:"note"`
}

func (v *verdict) Validate() error {
	if v.Sufficient == nil {
		return errors.New("sufficient is required")
	}
	return nil
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{
			name: "bare object",
			text: `{"a":1}`,
			want: `{"a":1}`,
			ok:   true,
		},
		{
			name: "fenced block with prose",
			text: "Here you go:\n```json\n{\"a\":1}\n```\nThanks {not json}",
			want: `{"a":1}`,
			ok:   true,
		},
		{
			name: "prose around braces",
			text: `Result: {"a": {"b": 2}} done`,
			want: `{"a": {"b": 2}}`,
			ok:   true,
		},
		{
			name: "no object",
			text: "no structure here",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := lenient.Extract(tt.text)
			gt.Value(t, ok).Equal(tt.ok)
			if tt.ok {
				gt.Value(t, got).Equal(tt.want)
			}
		})
	}
}

func TestDecodeOr(t *testing.T) {
	ctx := context.Background()
	fallback := func() verdict {
		f := false
		return verdict{Sufficient: &f, Note: "fallback"}
	}

	t.Run("decodes valid object", func(t *testing.T) {
		v, ok := lenient.DecodeOr(ctx, "```json\n{\"sufficient\": true, \"note\": \"ok\"}\n```", fallback)
		gt.Bool(t, ok).True()
		gt.Bool(t, *v.Sufficient).True()
		gt.Value(t, v.Note).Equal("ok")
	})

	t.Run("falls back on malformed JSON", func(t *testing.T) {
		v, ok := lenient.DecodeOr(ctx, `{"sufficient": tru`, fallback)
		gt.Bool(t, ok).False()
		gt.Value(t, v.Note).Equal("fallback")
	})

	t.Run("falls back when required field is missing", func(t *testing.T) {
		v, ok := lenient.DecodeOr(ctx, `{"note": "missing verdict"}`, fallback)
		gt.Bool(t, ok).False()
		gt.Value(t, v.Note).Equal("fallback")
	})
}
