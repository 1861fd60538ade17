package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/secmon-lab/themis/pkg/domain/types"
)

const (
	footerOfficialLimit = 10
	footerAcademicLimit = 5
)

// ResearchResult is the object handed to presentation layers
type ResearchResult struct {
	Success        bool                `json:"success"`
	Response       string              `json:"response"`
	Sources        []*Document         `json:"sources"`
	Quality        float64             `json:"quality"`
	Verification   VerificationSummary `json:"verification"`
	Warnings       []string            `json:"warnings"`
	Error          string              `json:"error,omitempty"`
	Timestamp      time.Time           `json:"timestamp"`
	QueryHash      string              `json:"query_hash"`
	ResponseHash   string              `json:"response_hash"`
	Rounds         int                 `json:"rounds"`
	Mode           types.ResearchMode  `json:"mode,omitempty"`
	ProcessingTime time.Duration       `json:"processing_time_ns"`
}

// SourcesFooter renders the sources-and-metadata block that closes a streamed answer
func (r *ResearchResult) SourcesFooter() string {
	var sb strings.Builder

	sources := DedupDocuments(r.Sources)
	official := FilterBySourceType(sources, types.SourceTypeOfficial)
	academic := FilterBySourceType(sources, types.SourceTypeAcademic)

	sb.WriteString("\n\n---\n")
	if len(official) > 0 {
		sb.WriteString("**Fuentes oficiales consultadas:**\n")
		for i, d := range official {
			if i >= footerOfficialLimit {
				break
			}
			fmt.Fprintf(&sb, "%d. [%s](%s)\n", i+1, d.Title, d.URL)
		}
	}
	if len(academic) > 0 {
		sb.WriteString("\n**Fuentes académicas:**\n")
		for i, d := range academic {
			if i >= footerAcademicLimit {
				break
			}
			fmt.Fprintf(&sb, "%d. [%s](%s)\n", i+1, d.Title, d.URL)
		}
	}

	fmt.Fprintf(&sb, "\n_Rondas: %d · Fuentes: %d (%d oficiales) · Calidad: %.0f%% · Verificación: %s_\n",
		r.Rounds, len(sources), len(official), r.Quality*100, verdictLabel(r.Verification.Passed))
	fmt.Fprintf(&sb, "_Tiempo de procesamiento: %.1fs_\n", r.ProcessingTime.Seconds())

	return sb.String()
}

func verdictLabel(passed bool) string {
	if passed {
		return "aprobada"
	}
	return "con advertencias"
}
