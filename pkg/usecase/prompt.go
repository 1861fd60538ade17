package usecase

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
)

//go:embed prompt/query_system.md
var querySystemPrompt string

//go:embed prompt/evaluation.md
var evaluationPromptTmpl string

//go:embed prompt/synthesis.md
var synthesisPromptTmpl string

var (
	evaluationPrompt = template.Must(template.New("evaluation").Parse(evaluationPromptTmpl))
	synthesisPrompt  = template.Must(template.New("synthesis").Parse(synthesisPromptTmpl))
)

const (
	evaluationSystemPrompt = "Eres un evaluador de investigación legal. Responde SIEMPRE en formato JSON válido."
	directAnswerPrompt     = "Eres un asistente legal colombiano. Responde de manera clara y profesional."

	defaultObjective  = "Encontrar información legal relevante"
	noResultsText     = "No se encontraron resultados para esta búsqueda."
	noResearchText    = "No se ha realizado ninguna búsqueda aún."
	firstRoundText    = "Esta es la primera ronda de búsqueda."
	historyTurnsLimit = 4
	historyExcerpt    = 300
)

type evaluationPromptData struct {
	SearchResults string
	Question      string
	PreviousInfo  string
}

type synthesisPromptData struct {
	Research  string
	Question  string
	NoSources bool
}

// buildQueryPrompt renders the user turn of the query generation call
func buildQueryPrompt(question string, history []*model.Message, rounds []*model.ResearchRound, prev *evaluation) string {
	var sb strings.Builder

	if len(history) > 0 {
		sb.WriteString("Conversación reciente:\n")
		for _, msg := range history {
			label := "Usuario"
			if msg.Role == types.RoleAssistant {
				label = "Asistente"
			}
			fmt.Fprintf(&sb, "%s: %s\n", label, model.Truncate(msg.Content, historyExcerpt))
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Pregunta del usuario: \"%s\"\n\n", question)

	if len(rounds) == 0 {
		sb.WriteString("Genera la primera query de búsqueda para encontrar información relevante.")
		return sb.String()
	}

	sb.WriteString("Información ya encontrada en rondas anteriores:\n")
	for _, r := range rounds {
		fmt.Fprintf(&sb, "Ronda %d (\"%s\"): %s\n", r.Number, r.Query, r.Analysis)
	}
	if prev != nil {
		if prev.Missing != "" {
			fmt.Fprintf(&sb, "\nInformación que falta: %s\n", prev.Missing)
		}
		if prev.NextQuery != "" {
			fmt.Fprintf(&sb, "Query sugerida por el evaluador: %s\n", prev.NextQuery)
		}
	}
	sb.WriteString("\nGenera una nueva query para buscar la información que aún falta.")

	return sb.String()
}

func buildEvaluationPrompt(question string, docs []*model.Document, rounds []*model.ResearchRound) (string, error) {
	previous := firstRoundText
	if len(rounds) > 0 {
		lines := make([]string, 0, len(rounds))
		for _, r := range rounds {
			lines = append(lines, fmt.Sprintf("Ronda %d: %s", r.Number, r.Analysis))
		}
		previous = strings.Join(lines, "\n")
	}

	var buf bytes.Buffer
	if err := evaluationPrompt.Execute(&buf, evaluationPromptData{
		SearchResults: formatSearchResults(docs),
		Question:      question,
		PreviousInfo:  previous,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute evaluation prompt template")
	}
	return buf.String(), nil
}

func buildSynthesisPrompt(question string, rounds []*model.ResearchRound, noSources bool) (string, error) {
	var buf bytes.Buffer
	if err := synthesisPrompt.Execute(&buf, synthesisPromptData{
		Research:  formatAllResearch(rounds),
		Question:  question,
		NoSources: noSources,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute synthesis prompt template")
	}
	return buf.String(), nil
}

func formatSearchResults(docs []*model.Document) string {
	if len(docs) == 0 {
		return noResultsText
	}

	blocks := make([]string, 0, len(docs))
	for i, d := range docs {
		label := "📝 Snippet"
		if d.HasFullText() && d.Excerpt() == d.Content {
			label = "📄 Contenido extraído"
		}
		blocks = append(blocks, fmt.Sprintf("%d. [%s] **%s**\n   URL: %s\n   %s: %s",
			i+1, sourceTypeLabel(d.SourceType), d.Title, d.URL, label, d.Excerpt()))
	}
	return strings.Join(blocks, "\n\n")
}

func formatAllResearch(rounds []*model.ResearchRound) string {
	if len(rounds) == 0 {
		return noResearchText
	}

	blocks := make([]string, 0, len(rounds))
	for _, r := range rounds {
		blocks = append(blocks, fmt.Sprintf("### 🔍 Ronda %d: \"%s\"\n**Resultados:** %d (%d oficiales)\n\n%s\n\n**Análisis:** %s",
			r.Number, r.Query, len(r.Documents), r.OfficialCount, formatSearchResults(r.Documents), r.Analysis))
	}
	return strings.Join(blocks, "\n\n---\n\n")
}

func sourceTypeLabel(t types.SourceType) string {
	switch t {
	case types.SourceTypeOfficial:
		return "🏛️ OFICIAL"
	case types.SourceTypeAcademic:
		return "📚 ACADÉMICO"
	default:
		return "🌐 GENERAL"
	}
}
