package model

import (
	"time"

	"github.com/secmon-lab/themis/pkg/domain/types"
)

// MaxAuthorityScore is the upper bound of Document.AuthorityScore
const MaxAuthorityScore = 10

// Document is a candidate source returned by the source provider and annotated by
// the authority classifier. URL is unique within a round.
type Document struct {
	Title          string           `json:"title"`
	URL            string           `json:"url"`
	Snippet        string           `json:"snippet"`
	Content        string           `json:"content,omitempty"`
	SourceType     types.SourceType `json:"source_type"`
	AuthorityScore float64          `json:"authority_score"`
	Verified       bool             `json:"verified"`
	LastUsed       time.Time        `json:"last_used,omitzero"`
}

// SetAuthority annotates the document, clamping the score into [0,10]
func (d *Document) SetAuthority(sourceType types.SourceType, score float64) {
	d.SourceType = sourceType
	d.AuthorityScore = clamp(score, 0, MaxAuthorityScore)
}

// HasFullText reports whether extracted page content is available
func (d *Document) HasFullText() bool {
	return d.Content != ""
}

// Excerpt returns the best text to show a model: the extracted content when it is
// substantial, otherwise the search snippet.
func (d *Document) Excerpt() string {
	if len(d.Content) > 100 {
		return d.Content
	}
	return d.Snippet
}

// IsOfficial reports whether the document comes from an official authority
func (d *Document) IsOfficial() bool {
	return d.SourceType == types.SourceTypeOfficial
}

// Copy returns a deep copy of the document
func (d *Document) Copy() *Document {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// CopyDocuments returns deep copies of docs
func CopyDocuments(docs []*Document) []*Document {
	if docs == nil {
		return nil
	}
	out := make([]*Document, 0, len(docs))
	for _, d := range docs {
		if d != nil {
			out = append(out, d.Copy())
		}
	}
	return out
}

// DedupDocuments drops documents whose URL was already seen, keeping first occurrence
func DedupDocuments(docs []*Document) []*Document {
	seen := make(map[string]struct{}, len(docs))
	out := make([]*Document, 0, len(docs))
	for _, d := range docs {
		if d == nil || d.URL == "" {
			continue
		}
		if _, ok := seen[d.URL]; ok {
			continue
		}
		seen[d.URL] = struct{}{}
		out = append(out, d)
	}
	return out
}

// FilterBySourceType returns the documents of the given tier, preserving order
func FilterBySourceType(docs []*Document, sourceType types.SourceType) []*Document {
	var out []*Document
	for _, d := range docs {
		if d.SourceType == sourceType {
			out = append(out, d)
		}
	}
	return out
}

// CountOfficial returns the number of official documents
func CountOfficial(docs []*Document) int {
	n := 0
	for _, d := range docs {
		if d.IsOfficial() {
			n++
		}
	}
	return n
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Truncate cuts s to at most n runes
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
