package authority

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
	"github.com/secmon-lab/themis/pkg/utils/lenient"
)

// hierarchyExcerptLength bounds per-document text sent to the model
const hierarchyExcerptLength = 300

type hierarchyResponse struct {
	EvaluatedSources []evaluatedSource `json:"evaluatedSources"`
}

type evaluatedSource struct {
	URL            string  `json:"url"`
	Type           string  `json:"type"`
	AuthorityScore float64 `json:"authorityScore"`
	Reasoning      string  `json:"reasoning"`
}

func (r *hierarchyResponse) Validate() error {
	if len(r.EvaluatedSources) == 0 {
		return goerr.New("evaluatedSources is empty")
	}
	return nil
}

func buildHierarchySystemPrompt() string {
	var sb strings.Builder

	sb.WriteString("Eres un evaluador de fuentes legales colombianas. ")
	sb.WriteString("Clasificas fuentes y asignas un puntaje de autoridad según la jerarquía normativa colombiana.\n")
	sb.WriteString("Responde ÚNICAMENTE con un objeto JSON válido, sin markdown.\n")

	return sb.String()
}

func buildHierarchyPrompt(query string, docs []*model.Document) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "**Consulta:** %s\n\n", query)
	sb.WriteString("**Fuentes a evaluar:**\n\n")
	for i, d := range docs {
		fmt.Fprintf(&sb, "%d. %s\n   URL: %s\n   Extracto: %s\n", i+1, d.Title, d.URL, model.Truncate(d.Excerpt(), hierarchyExcerptLength))
	}

	sb.WriteString("\n**Instrucciones:**\n")
	sb.WriteString("1. Clasifica cada fuente como 'oficial', 'academica' o 'general'.\n")
	sb.WriteString("2. Asigna un puntaje de autoridad de 1 a 10:\n")
	sb.WriteString("   - Oficiales: sentencias de altas cortes, leyes, decretos, Constitución (9-10)\n")
	sb.WriteString("   - Académicas: artículos indexados, libros de autores reconocidos (7-8)\n")
	sb.WriteString("   - Generales: noticias, blogs, sitios informativos (4-6)\n")
	sb.WriteString("3. Justifica brevemente el puntaje.\n\n")
	sb.WriteString("Formato:\n")
	sb.WriteString(`{"evaluatedSources": [{"url": "...", "type": "oficial", "authorityScore": 9, "reasoning": "..."}]}`)
	sb.WriteString("\n")

	return sb.String()
}

// parseHierarchy maps the model verdict onto docs. Documents the model skipped,
// or every document when the answer cannot be decoded, keep their current tier
// with a neutral score.
func (c *Classifier) parseHierarchy(ctx context.Context, text string, docs []*model.Document) []Assessment {
	resp, ok := lenient.DecodeOr(ctx, text, func() hierarchyResponse { return hierarchyResponse{} })

	byURL := make(map[string]evaluatedSource, len(resp.EvaluatedSources))
	if ok {
		for _, e := range resp.EvaluatedSources {
			byURL[e.URL] = e
		}
	}

	out := make([]Assessment, 0, len(docs))
	for _, d := range docs {
		current := d.SourceType
		if !current.IsValid() {
			current, _ = c.Classify(d)
		}

		e, found := byURL[d.URL]
		st, known := parseTypeLabel(e.Type)
		if !found || !known || e.AuthorityScore <= 0 {
			out = append(out, Assessment{
				URL:        d.URL,
				SourceType: current,
				Score:      ScoreNeutral,
			})
			continue
		}

		out = append(out, Assessment{
			URL:        d.URL,
			SourceType: st,
			Score:      e.AuthorityScore,
			Reasoning:  e.Reasoning,
			Parsed:     true,
		})
	}
	return out
}

// parseTypeLabel accepts Spanish and English tier names
func parseTypeLabel(label string) (types.SourceType, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "oficial", "official":
		return types.SourceTypeOfficial, true
	case "academica", "académica", "academico", "académico", "academic":
		return types.SourceTypeAcademic, true
	case "general":
		return types.SourceTypeGeneral, true
	}
	return "", false
}
