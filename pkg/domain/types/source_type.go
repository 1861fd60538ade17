package types

import "fmt"

// SourceType is the authority tier of a retrieved document
type SourceType string

const (
	SourceTypeOfficial SourceType = "official"
	SourceTypeAcademic SourceType = "academic"
	SourceTypeGeneral  SourceType = "general"
)

// AllSourceTypes returns all valid source types, highest authority first
func AllSourceTypes() []SourceType {
	return []SourceType{
		SourceTypeOfficial,
		SourceTypeAcademic,
		SourceTypeGeneral,
	}
}

// IsValid checks if the source type is valid
func (s SourceType) IsValid() bool {
	switch s {
	case SourceTypeOfficial,
		SourceTypeAcademic,
		SourceTypeGeneral:
		return true
	default:
		return false
	}
}

// String returns the string representation of the source type
func (s SourceType) String() string {
	return string(s)
}

// ParseSourceType parses a string into a SourceType
func ParseSourceType(s string) (SourceType, error) {
	st := SourceType(s)
	if !st.IsValid() {
		return "", fmt.Errorf("invalid source type: %s", s)
	}
	return st, nil
}
