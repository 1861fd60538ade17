package verification

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
	"github.com/secmon-lab/themis/pkg/service/authority"
	"github.com/secmon-lab/themis/pkg/service/factcheck"
	"github.com/secmon-lab/themis/pkg/utils/logging"
)

const (
	// MinQueryLength is the shortest search query accepted at pre_search
	MinQueryLength = 10
	// LowAuthorityThreshold marks documents that lower during_search confidence
	LowAuthorityThreshold = 5.0
	// LowAuthorityPenalty is subtracted per low-authority document
	LowAuthorityPenalty = 0.1
	// PassingConfidence is the lowest during_search confidence that still passes
	PassingConfidence = 0.5

	// ErrorConfidence is reported when a stage panics or is unknown
	ErrorConfidence = 0.1
)

var verificationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "themis_verification_total",
	Help: "Verification gate results by stage and outcome",
}, []string{"stage", "outcome"})

// Data is what the research loop hands to a checkpoint. Each stage reads only
// the fields it needs.
type Data struct {
	// Query is the user question
	Query model.Query
	// QueryText is the search query of the current round
	QueryText string
	// Documents are the current round's documents, or the synthesis sources
	Documents []*model.Document
	Rounds    []*model.ResearchRound
	Answer    string

	// ModelAssisted enables model re-scoring at during_search
	ModelAssisted bool
	// RunningConfidence is the lowest confidence of earlier stages; zero means none
	RunningConfidence float64
	// FactCheck is reused at post_synthesis when already computed
	FactCheck *model.FactCheckResult
}

type validator func(ctx context.Context, data *Data) *model.VerificationResult

// Gate runs the five verification checkpoints
type Gate struct {
	classifier  *authority.Classifier
	factChecker factcheck.Service
	validators  map[types.Stage]validator
}

// New creates a Gate
func New(classifier *authority.Classifier, factChecker factcheck.Service) (*Gate, error) {
	if classifier == nil {
		return nil, goerr.New("authority classifier is required")
	}
	if factChecker == nil {
		return nil, goerr.New("fact-check service is required")
	}

	g := &Gate{
		classifier:  classifier,
		factChecker: factChecker,
	}
	g.validators = map[types.Stage]validator{
		types.StagePreSearch:     g.preSearch,
		types.StageDuringSearch:  g.duringSearch,
		types.StagePostSearch:    g.postSearch,
		types.StagePreSynthesis:  g.preSynthesis,
		types.StagePostSynthesis: g.postSynthesis,
	}
	return g, nil
}

// Verify runs the checkpoint for stage. It never panics; an internal failure is
// reported as a failed result.
func (g *Gate) Verify(ctx context.Context, stage types.Stage, data *Data) (result *model.VerificationResult) {
	logger := logging.From(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("verification stage panicked", "stage", stage, "panic", r)
			result = errorResult(stage, fmt.Sprint(r))
		}
		outcome := "passed"
		if !result.Passed {
			outcome = "failed"
		}
		verificationTotal.WithLabelValues(stage.String(), outcome).Inc()
	}()

	fn, ok := g.validators[stage]
	if !ok {
		return errorResult(stage, fmt.Sprintf("etapa de verificación desconocida: %s", stage))
	}
	if data == nil {
		data = &Data{}
	}

	result = fn(ctx, data)
	logger.Debug("verification completed",
		"stage", stage,
		"passed", result.Passed,
		"confidence", result.Confidence,
		"issues", len(result.Issues),
	)
	return result
}

func errorResult(stage types.Stage, msg string) *model.VerificationResult {
	return model.NewVerificationResult(stage, false, ErrorConfidence,
		[]string{fmt.Sprintf("Error interno durante la verificación: %s", msg)},
		[]string{"Revisar logs del sistema de verificación."},
		fmt.Sprintf("Error en verificación: %s", msg),
	)
}

func reasoning(stage types.Stage) string {
	return fmt.Sprintf("Verificación en etapa %s completada.", stage)
}

func (g *Gate) preSearch(_ context.Context, data *Data) *model.VerificationResult {
	q := strings.TrimSpace(data.QueryText)
	if utf8.RuneCountInString(q) < MinQueryLength {
		return model.NewVerificationResult(types.StagePreSearch, false, 0.3,
			[]string{"Consulta demasiado corta o inválida."},
			[]string{"Reformular la consulta."},
			reasoning(types.StagePreSearch),
		)
	}
	return model.NewVerificationResult(types.StagePreSearch, true, 1, nil, nil, reasoning(types.StagePreSearch))
}

// duringSearch re-scores the round's documents in place and lowers confidence
// for every low-authority one
func (g *Gate) duringSearch(ctx context.Context, data *Data) *model.VerificationResult {
	docs := data.Documents
	if len(docs) == 0 {
		return model.NewVerificationResult(types.StageDuringSearch, true, 1, nil, nil, reasoning(types.StageDuringSearch))
	}

	g.classifier.ClassifyAll(docs)
	if data.ModelAssisted && g.classifier.HasCompleter() {
		assessments, err := g.classifier.EvaluateHierarchy(ctx, data.Query.Text(), docs)
		if err != nil {
			logging.From(ctx).Warn("model-assisted hierarchy evaluation failed, keeping deterministic scores", "error", err)
		} else {
			authority.Apply(docs, assessments)
		}
	}

	low := 0
	for _, d := range docs {
		if d.AuthorityScore < LowAuthorityThreshold {
			low++
		}
	}

	confidence := 1.0
	var issues, actions []string
	if low > 0 {
		issues = append(issues, fmt.Sprintf("Se encontraron %d fuentes de baja autoridad.", low))
		actions = append(actions, "Priorizar búsquedas en fuentes de mayor autoridad.")
		confidence -= LowAuthorityPenalty * float64(low)
	}

	return model.NewVerificationResult(types.StageDuringSearch, confidence >= PassingConfidence, confidence,
		issues, actions, reasoning(types.StageDuringSearch))
}

func (g *Gate) postSearch(_ context.Context, data *Data) *model.VerificationResult {
	if len(data.Documents) == 0 {
		return model.NewVerificationResult(types.StagePostSearch, false, 0.3,
			[]string{"No se encontraron fuentes suficientes."},
			[]string{"Realizar búsquedas adicionales."},
			reasoning(types.StagePostSearch),
		)
	}
	return model.NewVerificationResult(types.StagePostSearch, true, 1, nil, nil, reasoning(types.StagePostSearch))
}

func (g *Gate) preSynthesis(_ context.Context, data *Data) *model.VerificationResult {
	if len(data.Documents) == 0 && len(model.RoundDocuments(data.Rounds)) == 0 {
		return model.NewVerificationResult(types.StagePreSynthesis, false, 0.4,
			[]string{"Información insuficiente para síntesis."},
			[]string{"Recopilar más información antes de sintetizar."},
			reasoning(types.StagePreSynthesis),
		)
	}
	return model.NewVerificationResult(types.StagePreSynthesis, true, 1, nil, nil, reasoning(types.StagePreSynthesis))
}

// postSynthesis delegates to the fact-checker. Any reported issue fails the
// stage; confidence is the lower of the running and fact-check confidences.
func (g *Gate) postSynthesis(ctx context.Context, data *Data) *model.VerificationResult {
	fc := data.FactCheck
	if fc == nil {
		fc = g.factChecker.FactCheck(ctx, data.Query.Text(), data.Answer, data.Documents)
		data.FactCheck = fc
	}

	confidence := fc.Confidence
	if data.RunningConfidence > 0 {
		confidence = min(confidence, data.RunningConfidence)
	}

	if !fc.IsAccurate || len(fc.Issues) > 0 {
		return model.NewVerificationResult(types.StagePostSynthesis, false, confidence,
			append([]string{}, fc.Issues...),
			[]string{"Aplicar correcciones y regenerar respuesta."},
			reasoning(types.StagePostSynthesis),
		)
	}
	return model.NewVerificationResult(types.StagePostSynthesis, true, confidence, nil, nil, reasoning(types.StagePostSynthesis))
}
