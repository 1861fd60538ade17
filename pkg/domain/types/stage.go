package types

import "fmt"

// Stage is a checkpoint of the continuous verification gate
type Stage string

const (
	StagePreSearch     Stage = "pre_search"
	StageDuringSearch  Stage = "during_search"
	StagePostSearch    Stage = "post_search"
	StagePreSynthesis  Stage = "pre_synthesis"
	StagePostSynthesis Stage = "post_synthesis"
)

// AllStages returns every stage in checkpoint order
func AllStages() []Stage {
	return []Stage{
		StagePreSearch,
		StageDuringSearch,
		StagePostSearch,
		StagePreSynthesis,
		StagePostSynthesis,
	}
}

// IsValid checks if the stage is valid
func (s Stage) IsValid() bool {
	switch s {
	case StagePreSearch,
		StageDuringSearch,
		StagePostSearch,
		StagePreSynthesis,
		StagePostSynthesis:
		return true
	default:
		return false
	}
}

// String returns the string representation of the stage
func (s Stage) String() string {
	return string(s)
}

// ParseStage parses a string into a Stage
func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if !st.IsValid() {
		return "", fmt.Errorf("invalid verification stage: %s", s)
	}
	return st, nil
}
