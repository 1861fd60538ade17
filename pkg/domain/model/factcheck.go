package model

// FactCheckResult is the verdict on one drafted answer
type FactCheckResult struct {
	IsAccurate   bool     `json:"is_accurate"`
	Confidence   float64  `json:"confidence"`
	Issues       []string `json:"issues"`
	Corrections  []string `json:"corrections"`
	SourcesCited []string `json:"sources_cited"`
}

// FallbackFactCheck is returned whenever the check itself could not be run
func FallbackFactCheck() *FactCheckResult {
	return &FactCheckResult{
		IsAccurate:   false,
		Confidence:   0.3,
		Issues:       []string{"Error en verificación automática"},
		Corrections:  []string{"Revisar manualmente la respuesta"},
		SourcesCited: []string{},
	}
}

// Trusted reports whether the draft can be returned without correction
func (r *FactCheckResult) Trusted() bool {
	return r != nil && r.IsAccurate && r.Confidence > 0.8
}

// ReferenceValidation classifies the legal references of an answer
type ReferenceValidation struct {
	ValidReferences   []string `json:"valid_references"`
	InvalidReferences []string `json:"invalid_references"`
	MissingReferences []string `json:"missing_references"`
}
