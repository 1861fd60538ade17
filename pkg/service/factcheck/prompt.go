package factcheck

import (
	"fmt"
	"strings"

	"github.com/secmon-lab/themis/pkg/domain/model"
)

const (
	checkSourceLength      = 500
	correctionSourceLength = 300
)

func writeSources(sb *strings.Builder, docs []*model.Document, limit int, withURL bool) {
	if len(docs) == 0 {
		sb.WriteString("(sin fuentes)\n")
		return
	}
	for i, d := range docs {
		fmt.Fprintf(sb, "\n%d. %s\n", i+1, d.Title)
		if withURL {
			fmt.Fprintf(sb, "   URL: %s\n", d.URL)
		}
		text := d.Excerpt()
		if limit > 0 && len([]rune(text)) > limit {
			text = model.Truncate(text, limit) + "..."
		}
		fmt.Fprintf(sb, "   Contenido: %s\n", text)
	}
}

func buildFactCheckPrompt(query, answer string, docs []*model.Document) string {
	var sb strings.Builder

	sb.WriteString("Eres un verificador de hechos especializado en derecho colombiano. ")
	sb.WriteString("Tu tarea es identificar alucinaciones y errores en respuestas legales.\n\n")
	fmt.Fprintf(&sb, "CONSULTA ORIGINAL: \"%s\"\n\n", query)
	sb.WriteString("RESPUESTA A VERIFICAR:\n")
	sb.WriteString(answer)
	sb.WriteString("\n\nFUENTES DISPONIBLES:\n")
	writeSources(&sb, docs, checkSourceLength, true)

	sb.WriteString("\nCRITERIOS DE VERIFICACIÓN:\n")
	sb.WriteString("1. ¿Las referencias legales son correctas? (artículos, leyes, sentencias)\n")
	sb.WriteString("2. ¿Los números de artículos existen realmente en las fuentes?\n")
	sb.WriteString("3. ¿Las fechas son coherentes?\n")
	sb.WriteString("4. ¿Los nombres de entidades son correctos?\n")
	sb.WriteString("5. ¿Cada afirmación relevante está respaldada por al menos una fuente?\n")
	sb.WriteString("6. ¿Hay información inventada o especulativa?\n\n")

	sb.WriteString("INSTRUCCIONES:\n")
	sb.WriteString("- Si encuentras información NO respaldada por las fuentes, márcala como alucinación.\n")
	sb.WriteString("- Si encuentras referencias legales incorrectas, márcalas como error.\n")
	sb.WriteString("- Ante la duda, marca la afirmación como problema: es mejor ser conservador que permitir alucinaciones.\n\n")

	sb.WriteString("Responde en formato JSON:\n")
	sb.WriteString(`{"isAccurate": true, "confidence": 0.0, "issues": [], "corrections": [], "sources": []}`)
	sb.WriteString("\n")

	return sb.String()
}

func buildConservativePrompt(query string, docs []*model.Document, previousDraft string) string {
	var sb strings.Builder

	sb.WriteString("Eres un asistente legal experto en derecho colombiano. ")
	sb.WriteString("Genera una respuesta PRECISA y CONSERVADORA basándote ÚNICAMENTE en la información proporcionada.\n\n")
	fmt.Fprintf(&sb, "CONSULTA: \"%s\"\n\n", query)
	sb.WriteString("INFORMACIÓN DISPONIBLE:\n")
	writeSources(&sb, docs, 0, true)

	sb.WriteString("\nINSTRUCCIONES ESTRICTAS:\n")
	sb.WriteString("1. Responde ÚNICAMENTE con información respaldada por las fuentes.\n")
	sb.WriteString("2. Si no tienes información suficiente, dilo claramente.\n")
	sb.WriteString("3. NO inventes artículos, leyes ni sentencias.\n")
	sb.WriteString("4. Si mencionas un artículo, debe aparecer en las fuentes.\n")
	sb.WriteString("5. Usa lenguaje conservador: \"según las fuentes consultadas\", \"de acuerdo con\", \"se indica que\".\n")
	sb.WriteString("6. Si hay información contradictoria, menciona ambas perspectivas.\n")
	sb.WriteString("7. Termina recomendando consultar las fuentes oficiales o a un profesional del derecho.\n")

	if previousDraft != "" {
		sb.WriteString("\nRESPUESTA ANTERIOR (para referencia, puede contener errores):\n")
		sb.WriteString(previousDraft)
		sb.WriteString("\n")
	}

	return sb.String()
}

func buildValidationPrompt(answer string, docs []*model.Document) string {
	var sb strings.Builder

	sb.WriteString("Eres un experto en derecho colombiano. Valida las referencias legales mencionadas en la respuesta.\n\n")
	sb.WriteString("RESPUESTA A VALIDAR:\n")
	sb.WriteString(answer)
	sb.WriteString("\n\nFUENTES DISPONIBLES:\n")
	writeSources(&sb, docs, checkSourceLength, false)

	sb.WriteString("\nTAREA:\n")
	sb.WriteString("1. Identifica todas las referencias legales de la respuesta (artículos, leyes, sentencias, decretos).\n")
	sb.WriteString("2. Verifica si cada referencia está respaldada por las fuentes.\n")
	sb.WriteString("3. Marca como inválidas las referencias que no aparecen en las fuentes.\n")
	sb.WriteString("4. Identifica referencias que deberían estar y no están.\n\n")

	sb.WriteString("Responde en formato JSON:\n")
	sb.WriteString(`{"validReferences": [], "invalidReferences": [], "missingReferences": []}`)
	sb.WriteString("\n")

	return sb.String()
}

func buildCorrectionPrompt(query, draft string, fc *model.FactCheckResult, refs *model.ReferenceValidation, docs []*model.Document) string {
	var sb strings.Builder

	sb.WriteString("Eres un editor legal experto. Corrige la respuesta eliminando alucinaciones y errores.\n\n")
	fmt.Fprintf(&sb, "CONSULTA: \"%s\"\n\n", query)
	sb.WriteString("RESPUESTA ORIGINAL:\n")
	sb.WriteString(draft)

	sb.WriteString("\n\nPROBLEMAS IDENTIFICADOS:\n")
	for i, issue := range fc.Issues {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, issue)
	}
	sb.WriteString("\nCORRECCIONES SUGERIDAS:\n")
	for i, c := range fc.Corrections {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, c)
	}

	if refs != nil && len(refs.InvalidReferences) > 0 {
		sb.WriteString("\nREFERENCIAS NO RESPALDADAS POR LAS FUENTES (elimínalas o indica que no se encontró su texto):\n")
		for _, r := range refs.InvalidReferences {
			fmt.Fprintf(&sb, "- %s\n", r)
		}
	}
	if refs != nil && len(refs.MissingReferences) > 0 {
		sb.WriteString("\nREFERENCIAS DE LAS FUENTES QUE DEBERÍAN CITARSE:\n")
		for _, r := range refs.MissingReferences {
			fmt.Fprintf(&sb, "- %s\n", r)
		}
	}

	sb.WriteString("\nFUENTES DISPONIBLES:\n")
	writeSources(&sb, docs, correctionSourceLength, true)

	sb.WriteString("\nINSTRUCCIONES:\n")
	sb.WriteString("1. Corrige únicamente los problemas identificados.\n")
	sb.WriteString("2. Elimina la información no respaldada por las fuentes.\n")
	sb.WriteString("3. Corrige las referencias legales incorrectas; si el texto de una disposición no está en las fuentes, indícalo.\n")
	sb.WriteString("4. Usa lenguaje conservador e incluye advertencias sobre limitaciones.\n")
	sb.WriteString("5. Agrega una recomendación de consulta profesional.\n")

	return sb.String()
}
