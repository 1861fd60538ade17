package types

import "fmt"

// Complexity is the estimated difficulty of a user question
type Complexity string

const (
	ComplexitySimple Complexity = "simple"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// IsValid checks if the complexity is valid
func (c Complexity) IsValid() bool {
	switch c {
	case ComplexitySimple, ComplexityMedium, ComplexityHigh:
		return true
	default:
		return false
	}
}

// String returns the string representation of the complexity
func (c Complexity) String() string {
	return string(c)
}

// ParseComplexity parses a string into a Complexity
func ParseComplexity(s string) (Complexity, error) {
	c := Complexity(s)
	if !c.IsValid() {
		return "", fmt.Errorf("invalid complexity: %s", s)
	}
	return c, nil
}
