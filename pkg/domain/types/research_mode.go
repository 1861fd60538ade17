package types

import "fmt"

// ResearchMode is the strategy used to run a research session
type ResearchMode string

const (
	// ResearchModeReact runs a short, fast loop for simple questions
	ResearchModeReact ResearchMode = "react"
	// ResearchModeIterative runs the full round-by-round loop
	ResearchModeIterative ResearchMode = "iter_research"
	// ResearchModeHybrid runs the full loop with model-assisted authority scoring
	ResearchModeHybrid ResearchMode = "hybrid"
)

// AllResearchModes returns all valid research modes
func AllResearchModes() []ResearchMode {
	return []ResearchMode{
		ResearchModeReact,
		ResearchModeIterative,
		ResearchModeHybrid,
	}
}

// IsValid checks if the research mode is valid
func (m ResearchMode) IsValid() bool {
	switch m {
	case ResearchModeReact,
		ResearchModeIterative,
		ResearchModeHybrid:
		return true
	default:
		return false
	}
}

// Normalize returns the mode, treating empty as ResearchModeIterative
func (m ResearchMode) Normalize() ResearchMode {
	if m == "" {
		return ResearchModeIterative
	}
	return m
}

// String returns the string representation of the research mode
func (m ResearchMode) String() string {
	return string(m)
}

// ParseResearchMode parses a string into a ResearchMode
func ParseResearchMode(s string) (ResearchMode, error) {
	m := ResearchMode(s)
	if !m.IsValid() {
		return "", fmt.Errorf("invalid research mode: %s", s)
	}
	return m, nil
}
