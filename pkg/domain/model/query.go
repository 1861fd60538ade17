package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/secmon-lab/themis/pkg/domain/types"
)

// Query is the immutable, classified form of one user question
type Query struct {
	text         string
	jurisdiction string
	complexity   types.Complexity
	strategy     types.ResearchMode
	createdAt    time.Time
}

// NewQuery creates a Query. Fields cannot be changed afterwards.
func NewQuery(text, jurisdiction string, complexity types.Complexity, strategy types.ResearchMode) Query {
	return Query{
		text:         strings.TrimSpace(text),
		jurisdiction: jurisdiction,
		complexity:   complexity,
		strategy:     strategy.Normalize(),
		createdAt:    time.Now().UTC(),
	}
}

func (q Query) Text() string { return q.text }
func (q Query) Jurisdiction() string { return q.jurisdiction }
func (q Query) Complexity() types.Complexity { return q.complexity }
func (q Query) Strategy() types.ResearchMode { return q.strategy }
func (q Query) CreatedAt() time.Time { return q.createdAt }

// Hash returns the hex SHA-256 of the normalized query text
func (q Query) Hash() string {
	return HashText(q.text)
}

// HashText returns the hex SHA-256 of trimmed, lower-cased text
func HashText(s string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(s))))
	return hex.EncodeToString(sum[:])
}
