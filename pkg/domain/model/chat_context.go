package model

import (
	"time"

	"github.com/secmon-lab/themis/pkg/domain/types"
)

const (
	// DefaultMaxHistory bounds ChatContext.History
	DefaultMaxHistory = 50
	// DefaultMaxSearchHistory bounds ChatContext.SearchHistory
	DefaultMaxSearchHistory = 20
	// DefaultMaxCachedSources bounds ChatContext.CachedSources
	DefaultMaxCachedSources = 50
	// DefaultSourceCacheTTL is the lifetime of a cached source set
	DefaultSourceCacheTTL = 24 * time.Hour
)

// ChatContext is the ledger of one (chat, user) pair
type ChatContext struct {
	ChatID        types.ChatID      `json:"chat_id"`
	UserID        types.UserID      `json:"user_id"`
	History       []*Message        `json:"history"`
	SearchHistory []SearchRecord    `json:"search_history"`
	CachedSources []CachedSourceSet `json:"cached_sources"`
	Preferences   UserPreferences   `json:"preferences"`
	Metrics       QualityMetrics    `json:"metrics"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// NewChatContext creates an empty ledger with default preferences
func NewChatContext(chatID types.ChatID, userID types.UserID) *ChatContext {
	now := time.Now().UTC()
	return &ChatContext{
		ChatID:        chatID,
		UserID:        userID,
		History:       []*Message{},
		SearchHistory: []SearchRecord{},
		CachedSources: []CachedSourceSet{},
		Preferences:   DefaultUserPreferences(),
		Metrics:       NewQualityMetrics(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Copy returns a deep copy of the context
func (c *ChatContext) Copy() *ChatContext {
	if c == nil {
		return nil
	}
	out := *c

	out.History = make([]*Message, len(c.History))
	for i, m := range c.History {
		mc := *m
		out.History[i] = &mc
	}

	out.SearchHistory = append([]SearchRecord{}, c.SearchHistory...)

	out.CachedSources = make([]CachedSourceSet, len(c.CachedSources))
	for i, s := range c.CachedSources {
		out.CachedSources[i] = s.Copy()
	}

	out.Metrics = c.Metrics.Copy()
	return &out
}

// RecentHistory returns up to n of the latest messages, oldest first
func (c *ChatContext) RecentHistory(n int) []*Message {
	if n <= 0 || len(c.History) == 0 {
		return nil
	}
	if len(c.History) <= n {
		return c.History
	}
	return c.History[len(c.History)-n:]
}

// SearchRecord is one research round as remembered by the ledger
type SearchRecord struct {
	Query              string             `json:"query"`
	ResultCount        int                `json:"result_count"`
	Quality            float64            `json:"quality"`
	Mode               types.ResearchMode `json:"mode"`
	VerificationPassed bool               `json:"verification_passed"`
	Timestamp          time.Time          `json:"timestamp"`
}

// CachedSourceSet is a set of verified documents keyed by the query that found them
type CachedSourceSet struct {
	Query     string      `json:"query"`
	Documents []*Document `json:"documents"`
	Embedding []float64   `json:"embedding,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	LastUsed  time.Time   `json:"last_used"`
}

// Copy returns a deep copy of the cached set
func (s CachedSourceSet) Copy() CachedSourceSet {
	out := s
	out.Documents = CopyDocuments(s.Documents)
	if s.Embedding != nil {
		out.Embedding = append([]float64{}, s.Embedding...)
	}
	return out
}

// Expired reports whether the set is older than ttl at now
func (s CachedSourceSet) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) > ttl
}

// UserPreferences tunes research for one conversation
type UserPreferences struct {
	Strategy            types.ResearchMode `json:"strategy"`
	MaxSearchRounds     int                `json:"max_search_rounds"`
	EnableModelDecision bool               `json:"enable_model_decision"`
	QualityThreshold    float64            `json:"quality_threshold"`
}

// DefaultUserPreferences returns the preferences of a new conversation
func DefaultUserPreferences() UserPreferences {
	return UserPreferences{
		Strategy:            types.ResearchModeIterative,
		MaxSearchRounds:     8,
		EnableModelDecision: true,
		QualityThreshold:    0.85,
	}
}

// ModeStats aggregates sessions that ran in one research mode
type ModeStats struct {
	Count      int     `json:"count"`
	AvgQuality float64 `json:"avg_quality"`
	AvgTimeMs  float64 `json:"avg_time_ms"`
}

// QualityMetrics are running aggregates; raw samples are never stored
type QualityMetrics struct {
	TotalQueries        int                              `json:"total_queries"`
	SuccessfulQueries   int                              `json:"successful_queries"`
	AverageQuality      float64                          `json:"average_quality"`
	AverageResponseTime float64                          `json:"average_response_time_ms"`
	Modes               map[types.ResearchMode]ModeStats `json:"modes"`
	VerificationsRun    int                              `json:"verifications_run"`
	VerificationsPassed int                              `json:"verifications_passed"`
	LastUpdated         time.Time                        `json:"last_updated"`
}

// NewQualityMetrics returns zeroed metrics
func NewQualityMetrics() QualityMetrics {
	return QualityMetrics{Modes: map[types.ResearchMode]ModeStats{}}
}

// Copy returns a deep copy of the metrics
func (m QualityMetrics) Copy() QualityMetrics {
	out := m
	out.Modes = make(map[types.ResearchMode]ModeStats, len(m.Modes))
	for k, v := range m.Modes {
		out.Modes[k] = v
	}
	return out
}

// VerificationPassRate returns passed/run, or 0 when nothing ran
func (m QualityMetrics) VerificationPassRate() float64 {
	if m.VerificationsRun == 0 {
		return 0
	}
	return float64(m.VerificationsPassed) / float64(m.VerificationsRun)
}

// RunningAverage folds sample x as the n-th observation into avg
func RunningAverage(avg float64, n int, x float64) float64 {
	if n <= 1 {
		return x
	}
	return (avg*float64(n-1) + x) / float64(n)
}
