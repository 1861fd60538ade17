package factcheck

import (
	"context"

	"github.com/secmon-lab/themis/pkg/domain/model"
)

// Service verifies drafted answers against retrieved sources and rewrites them
// when they are not supported. Methods other than GenerateConservativeResponse
// never return errors; they degrade to conservative results instead.
type Service interface {
	// FactCheck checks every claim of answer against docs
	FactCheck(ctx context.Context, query, answer string, docs []*model.Document) *model.FactCheckResult

	// GenerateConservativeResponse writes an answer restricted to what docs support
	GenerateConservativeResponse(ctx context.Context, query string, docs []*model.Document, previousDraft string) (string, error)

	// ValidateLegalReferences classifies each legal reference in answer
	ValidateLegalReferences(ctx context.Context, answer string, docs []*model.Document) *model.ReferenceValidation

	// ApplyCorrections returns draft unchanged when fc is trusted, otherwise a
	// corrected answer or, if that fails, draft with an uncertainty warning
	ApplyCorrections(ctx context.Context, query, draft string, fc *model.FactCheckResult, docs []*model.Document) string
}

// UncertaintyWarning is appended to a draft that could not be corrected
const UncertaintyWarning = "⚠️ ADVERTENCIA IMPORTANTE: Esta respuesta puede contener información no verificada. " +
	"Por favor, consulte las fuentes oficiales para confirmar la información antes de tomar decisiones legales."

type factCheckResponse struct {
	IsAccurate  *bool    `json:"isAccurate"`
	Confidence  *float64 `json:"confidence"`
	Issues      []string `json:"issues"`
	Corrections []string `json:"corrections"`
	Sources     []string `json:"sources"`
}

func (r *factCheckResponse) Validate() error {
	if r.IsAccurate == nil || r.Confidence == nil {
		return errIncompleteVerdict
	}
	return nil
}

type referenceResponse struct {
	ValidReferences   []string `json:"validReferences"`
	InvalidReferences []string `json:"invalidReferences"`
	MissingReferences []string `json:"missingReferences"`
}
