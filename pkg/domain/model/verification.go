package model

import (
	"time"

	"github.com/secmon-lab/themis/pkg/domain/types"
)

// VerificationResult is the outcome of one gate invocation
type VerificationResult struct {
	Stage            types.Stage `json:"stage"`
	Passed           bool        `json:"passed"`
	Confidence       float64     `json:"confidence"`
	Issues           []string    `json:"issues"`
	SuggestedActions []string    `json:"suggested_actions"`
	Reasoning        string      `json:"reasoning"`
	CheckedAt        time.Time   `json:"checked_at"`
}

// NewVerificationResult builds a result with confidence clamped into [0,1]
func NewVerificationResult(stage types.Stage, passed bool, confidence float64, issues, actions []string, reasoning string) *VerificationResult {
	if issues == nil {
		issues = []string{}
	}
	if actions == nil {
		actions = []string{}
	}
	return &VerificationResult{
		Stage:            stage,
		Passed:           passed,
		Confidence:       clamp(confidence, 0, 1),
		Issues:           issues,
		SuggestedActions: actions,
		Reasoning:        reasoning,
		CheckedAt:        time.Now().UTC(),
	}
}

// VerificationSummary is the verification block of a presented result
type VerificationSummary struct {
	Passed     bool                  `json:"passed"`
	Confidence float64               `json:"confidence"`
	Stages     []*VerificationResult `json:"stages"`
}

// Summarize folds stage results into a summary. Passed requires every stage to
// pass; confidence is the lowest stage confidence.
func Summarize(results []*VerificationResult) VerificationSummary {
	s := VerificationSummary{Passed: true, Confidence: 1, Stages: results}
	if len(results) == 0 {
		s.Confidence = 0
		s.Passed = false
		return s
	}
	for _, r := range results {
		if !r.Passed {
			s.Passed = false
		}
		if r.Confidence < s.Confidence {
			s.Confidence = r.Confidence
		}
	}
	return s
}
