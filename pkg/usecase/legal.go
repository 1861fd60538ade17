package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/secmon-lab/themis/pkg/domain/interfaces"
	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
	"github.com/secmon-lab/themis/pkg/service/factcheck"
	"github.com/secmon-lab/themis/pkg/utils/errutil"
	"github.com/secmon-lab/themis/pkg/utils/logging"
)

const (
	// ApologyText is the only failure text shown to users
	ApologyText = "Lo siento, ocurrió un error al procesar tu consulta legal. Por favor, intenta nuevamente en unos momentos."
	// CancelledText is shown when the request is cancelled before completion
	CancelledText = "La solicitud fue cancelada antes de completarse."

	DefaultJurisdiction = "colombia"

	simpleQueryWords = 8
	highQueryWords   = 25

	// cachedSourceMinScore is the lowest authority stored in the source cache
	cachedSourceMinScore = 7

	directTemperature = 0.3
	directMaxTokens   = 2000
)

var (
	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "themis_research_requests_total",
		Help: "Research requests by mode and outcome",
	}, []string{"mode", "outcome"})

	qualityHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "themis_research_quality",
		Help:    "Quality score of completed research sessions",
		Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
	}, []string{"mode"})
)

var legalKeywords = []string{
	"ley", "decreto", "artículo", "código", "sentencia", "jurisprudencia",
	"constitución", "tutela", "demanda", "proceso", "prescripción",
	"derecho", "legal", "norma", "tribunal", "corte", "penal", "civil",
	"comercial", "laboral", "tributario", "contrato", "colombia",
	"requisitos", "procedimiento", "cómo", "qué", "cuándo", "cuáles",
	"dian", "superintendencia", "ministerio", "obligación", "responsabilidad",
}

// RequiresLegalSearch reports whether the message needs the research loop
func RequiresLegalSearch(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range legalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ClassifyQuery estimates the complexity of a question and the research mode
// suited to it. It never calls a model.
func ClassifyQuery(message string) (types.Complexity, types.ResearchMode) {
	words := len(strings.Fields(message))

	instruments := 0
	for _, ref := range factcheck.ExtractReferences(message) {
		if ref.Kind != factcheck.ReferenceArticle {
			instruments++
		}
	}

	switch {
	case words > highQueryWords || instruments > 1:
		return types.ComplexityHigh, types.ResearchModeHybrid
	case words <= simpleQueryWords:
		return types.ComplexitySimple, types.ResearchModeReact
	default:
		return types.ComplexityMedium, types.ResearchModeIterative
	}
}

// AskInput is one user turn
type AskInput struct {
	ChatID  types.ChatID
	UserID  types.UserID
	Message string
	// Mode forces a research mode; empty lets the system choose
	Mode     types.ResearchMode
	Progress ProgressFunc
}

// ResearchDefaults are the deployment-wide research settings
type ResearchDefaults struct {
	MaxRounds        int
	FanOut           int
	ExtractCount     int
	QualityThreshold float64
	Jurisdiction     string
}

// DefaultResearchDefaults returns the built-in research settings
func DefaultResearchDefaults() ResearchDefaults {
	return ResearchDefaults{
		MaxRounds:        DefaultMaxRounds,
		FanOut:           DefaultFanOut,
		ExtractCount:     DefaultExtractCount,
		QualityThreshold: model.DefaultUserPreferences().QualityThreshold,
		Jurisdiction:     DefaultJurisdiction,
	}
}

// LegalUseCase answers user questions: it routes, runs research, scores the
// result and keeps the ledger up to date.
type LegalUseCase struct {
	completer interfaces.Completer
	research  *ResearchUseCase
	ledger    *Ledger
	defaults  ResearchDefaults
	now       func() time.Time
}

// NewLegalUseCase creates a LegalUseCase
func NewLegalUseCase(completer interfaces.Completer, research *ResearchUseCase, ledger *Ledger, defaults ResearchDefaults) *LegalUseCase {
	if defaults.Jurisdiction == "" {
		defaults.Jurisdiction = DefaultJurisdiction
	}
	return &LegalUseCase{
		completer: completer,
		research:  research,
		ledger:    ledger,
		defaults:  defaults,
		now:       time.Now,
	}
}

// Ask answers one message. It never returns an error; failures produce a
// result with Success false, the apology text and a diagnostic Error.
func (uc *LegalUseCase) Ask(ctx context.Context, input AskInput) *model.ResearchResult {
	start := uc.now()
	logger := logging.From(ctx).With(ChatIDKey, input.ChatID, UserIDKey, input.UserID)
	ctx = logging.With(ctx, logger)

	message := strings.TrimSpace(input.Message)
	if message == "" {
		return uc.failure(start, "", "", goerr.Wrap(ErrEmptyMessage, "cannot answer"))
	}

	if _, err := uc.ledger.AppendMessage(ctx, input.ChatID, input.UserID, types.RoleUser, message); err != nil {
		return uc.failure(start, message, "", err)
	}

	if !RequiresLegalSearch(message) {
		return uc.answerDirectly(ctx, start, input, message)
	}

	chatCtx := uc.ledger.GetContext(ctx, input.ChatID, input.UserID)
	prefs := chatCtx.Preferences

	complexity, mode := ClassifyQuery(message)
	switch {
	case input.Mode != "":
		mode = input.Mode.Normalize()
	case !prefs.EnableModelDecision:
		mode = prefs.Strategy.Normalize()
	}

	query := model.NewQuery(message, uc.defaults.Jurisdiction, complexity, mode)
	cfg := uc.researchConfig(query.Strategy(), prefs)
	cfg.Progress = input.Progress
	cfg.CachedSources = uc.ledger.GetCachedLegalSources(ctx, input.ChatID, input.UserID, message, 0)
	cfg.OnRound = func(round *model.ResearchRound, passed bool) {
		uc.ledger.RecordSearch(ctx, input.ChatID, input.UserID, model.SearchRecord{
			Query:              round.Query,
			ResultCount:        len(round.Documents),
			Quality:            float64(round.Confidence) / 10,
			Mode:               query.Strategy(),
			VerificationPassed: passed,
		})
	}

	logger.Info("starting legal research",
		"complexity", complexity, "mode", query.Strategy(), "max_rounds", cfg.MaxRounds,
		"cached_sources", len(cfg.CachedSources))

	outcome, err := uc.research.Run(ctx, query, chatCtx, cfg)
	if err != nil {
		// the failure is recorded even when the request context is gone
		uc.ledger.RecordResearchMode(context.WithoutCancel(ctx), input.ChatID, input.UserID, ModeSample{Mode: query.Strategy()})
		res := uc.failure(start, message, query.Strategy(), err)
		if cancelledByCaller(err) {
			logger.Info("research cancelled", "error", err)
		} else {
			_ = errutil.Handle(ctx, err, "legal research failed")
		}
		return res
	}

	quality := outcome.Quality()
	summary := outcome.Verification()
	warnings := append([]string{}, outcome.Warnings...)
	threshold := prefs.QualityThreshold
	if threshold <= 0 {
		threshold = uc.defaults.QualityThreshold
	}
	if quality < threshold {
		warnings = append(warnings, fmt.Sprintf("La calidad estimada de la respuesta (%.0f%%) está por debajo del umbral configurado (%.0f%%).",
			quality*100, threshold*100))
	}

	elapsed := uc.now().Sub(start)
	result := &model.ResearchResult{
		Success:        true,
		Response:       outcome.FinalAnswer,
		Sources:        outcome.Sources,
		Quality:        quality,
		Verification:   summary,
		Warnings:       warnings,
		Timestamp:      uc.now().UTC(),
		QueryHash:      query.Hash(),
		ResponseHash:   model.HashText(outcome.FinalAnswer),
		Rounds:         len(outcome.Rounds),
		Mode:           query.Strategy(),
		ProcessingTime: elapsed,
	}

	uc.ledger.RecordResearchMode(ctx, input.ChatID, input.UserID, ModeSample{
		Mode:               query.Strategy(),
		Quality:            quality,
		Duration:           elapsed,
		Success:            true,
		VerificationPassed: summary.Passed,
	})
	if summary.Passed {
		var verified []*model.Document
		for _, d := range outcome.Sources {
			if d.AuthorityScore >= cachedSourceMinScore {
				d.Verified = true
				verified = append(verified, d)
			}
		}
		uc.ledger.CacheVerifiedSources(ctx, input.ChatID, input.UserID, message, verified)
	}
	if _, err := uc.ledger.AppendMessage(ctx, input.ChatID, input.UserID, types.RoleAssistant, outcome.FinalAnswer); err != nil {
		logger.Warn("failed to record answer", "error", err)
	}

	requestTotal.WithLabelValues(query.Strategy().String(), "success").Inc()
	qualityHistogram.WithLabelValues(query.Strategy().String()).Observe(quality)
	logger.Info("legal research completed",
		"rounds", result.Rounds, "sources", len(result.Sources), "quality", quality,
		"verified", summary.Passed, "stop_reason", outcome.StopReason, "elapsed", elapsed)

	return result
}

// researchConfig derives the loop settings from the mode and the user's preferences
func (uc *LegalUseCase) researchConfig(mode types.ResearchMode, prefs model.UserPreferences) ResearchConfig {
	maxRounds := uc.defaults.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	if prefs.MaxSearchRounds > 0 && prefs.MaxSearchRounds < maxRounds {
		maxRounds = prefs.MaxSearchRounds
	}
	if mode == types.ResearchModeReact && maxRounds > ReactMaxRounds {
		maxRounds = ReactMaxRounds
	}

	return ResearchConfig{
		MaxRounds:     maxRounds,
		FanOut:        uc.defaults.FanOut,
		ExtractCount:  uc.defaults.ExtractCount,
		ModelAssisted: mode == types.ResearchModeHybrid && prefs.EnableModelDecision,
	}
}

// answerDirectly handles messages that need no legal research
func (uc *LegalUseCase) answerDirectly(ctx context.Context, start time.Time, input AskInput, message string) *model.ResearchResult {
	system := directAnswerPrompt
	if memory := uc.ledger.BuildCurrentContext(ctx, input.ChatID, input.UserID); memory != "" {
		system += "\n\n" + memory
	}

	answer, err := uc.completer.Complete(ctx, interfaces.CompletionRequest{
		SystemPrompt: system,
		Messages:     []interfaces.CompletionMessage{{Role: types.RoleUser, Content: message}},
		Temperature:  directTemperature,
		MaxTokens:    directMaxTokens,
	})
	if err != nil {
		_ = errutil.Handle(ctx, err, "direct answer failed")
		return uc.failure(start, message, "", goerr.Wrap(ErrModelFailure, "direct answer failed", goerr.V("cause", err.Error())))
	}

	if _, err := uc.ledger.AppendMessage(ctx, input.ChatID, input.UserID, types.RoleAssistant, answer); err != nil {
		logging.From(ctx).Warn("failed to record answer", "error", err)
	}
	requestTotal.WithLabelValues("direct", "success").Inc()

	return &model.ResearchResult{
		Success:        true,
		Response:       answer,
		Sources:        []*model.Document{},
		Warnings:       []string{},
		Timestamp:      uc.now().UTC(),
		QueryHash:      model.HashText(message),
		ResponseHash:   model.HashText(answer),
		ProcessingTime: uc.now().Sub(start),
	}
}

// cancelledByCaller reports a caller-side cancellation. A deadline is a
// server-side limit and is treated as a failure.
func cancelledByCaller(err error) bool {
	return errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (uc *LegalUseCase) failure(start time.Time, message string, mode types.ResearchMode, err error) *model.ResearchResult {
	response := ApologyText
	outcome := "failure"
	if cancelledByCaller(err) {
		response = CancelledText
		outcome = "cancelled"
	}

	label := mode.String()
	if label == "" {
		label = "direct"
	}
	requestTotal.WithLabelValues(label, outcome).Inc()

	res := &model.ResearchResult{
		Success:        false,
		Response:       response,
		Sources:        []*model.Document{},
		Warnings:       []string{},
		Timestamp:      uc.now().UTC(),
		Mode:           mode,
		ProcessingTime: uc.now().Sub(start),
	}
	if err != nil {
		res.Error = err.Error()
	}
	if message != "" {
		res.QueryHash = model.HashText(message)
	}
	return res
}
