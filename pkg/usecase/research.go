package usecase

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/secmon-lab/themis/pkg/domain/interfaces"
	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
	"github.com/secmon-lab/themis/pkg/service/authority"
	"github.com/secmon-lab/themis/pkg/service/factcheck"
	"github.com/secmon-lab/themis/pkg/service/verification"
	"github.com/secmon-lab/themis/pkg/utils/lenient"
	"github.com/secmon-lab/themis/pkg/utils/logging"
)

const (
	DefaultMaxRounds    = 5
	DefaultFanOut       = 8
	DefaultExtractCount = authority.DefaultExtractCount
	ReactMaxRounds      = 3

	// OfficialStopCount ends the loop once this many distinct official documents were found
	OfficialStopCount = 4
	// HeuristicOfficialCount and HeuristicRoundCount drive the verdict used when
	// the evaluator output cannot be parsed
	HeuristicOfficialCount = 2
	HeuristicRoundCount    = 3

	queryTemperature      = 0.3
	queryMaxTokens        = 500
	evaluationTemperature = 0.2
	evaluationMaxTokens   = 800
	synthesisTemperature  = 0.3
	synthesisMaxTokens    = 4000
)

var roundsHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "themis_research_rounds",
	Help:    "Rounds run per research session",
	Buckets: prometheus.LinearBuckets(1, 1, 10),
})

// StopReason explains why the loop left the round phase
type StopReason string

const (
	StopSufficient        StopReason = "sufficient"
	StopHeuristic         StopReason = "heuristic"
	StopOfficialThreshold StopReason = "official_threshold"
	StopRoundCap          StopReason = "round_cap"
)

// ProgressKind identifies a phase of the research loop
type ProgressKind string

const (
	ProgressRoundStarted  ProgressKind = "round_started"
	ProgressSearchResults ProgressKind = "search_results"
	ProgressVerdict       ProgressKind = "verdict"
	ProgressSynthesizing  ProgressKind = "synthesizing"
	ProgressVerifying     ProgressKind = "verifying"
	ProgressCorrecting    ProgressKind = "correcting"
)

// ProgressEvent is emitted as the loop moves between phases. Round is zero for
// phases after the round loop.
type ProgressEvent struct {
	Kind    ProgressKind `json:"kind"`
	Round   int          `json:"round,omitempty"`
	Message string       `json:"message"`
}

type ProgressFunc func(ev ProgressEvent)

// RoundFunc observes every completed round. passed is the during_search verdict.
type RoundFunc func(round *model.ResearchRound, passed bool)

// ResearchConfig tunes one research session
type ResearchConfig struct {
	MaxRounds    int
	FanOut       int
	ExtractCount int
	// ModelAssisted enables model re-scoring of authority at during_search
	ModelAssisted bool
	// CachedSources seed the first round alongside the search results
	CachedSources []*model.Document

	Progress ProgressFunc
	OnRound  RoundFunc
}

func (c ResearchConfig) withDefaults() ResearchConfig {
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.FanOut <= 0 {
		c.FanOut = DefaultFanOut
	}
	if c.ExtractCount <= 0 {
		c.ExtractCount = DefaultExtractCount
	}
	return c
}

// ResearchOutcome is the verified result of one research session
type ResearchOutcome struct {
	FinalAnswer   string
	Sources       []*model.Document
	Analysis      string
	Warnings      []string
	Rounds        []*model.ResearchRound
	FactCheck     *model.FactCheckResult
	Verifications []*model.VerificationResult
	// Final is the last post_synthesis result
	Final      *model.VerificationResult
	StopReason StopReason
}

// Quality scores the outcome in [0,1] from fact-check confidence, mean
// authority and official coverage. A failed final verification caps the score
// at the gate's confidence.
func (o *ResearchOutcome) Quality() float64 {
	var fc float64
	if o.FactCheck != nil {
		fc = o.FactCheck.Confidence
	}

	var meanAuthority float64
	if len(o.Sources) > 0 {
		for _, d := range o.Sources {
			meanAuthority += d.AuthorityScore
		}
		meanAuthority /= float64(len(o.Sources))
	}
	coverage := math.Min(1, float64(model.CountOfficial(o.Sources))/2)

	q := 0.4*fc + 0.3*meanAuthority/model.MaxAuthorityScore + 0.3*coverage
	q = math.Max(0, math.Min(1, q))

	if o.Final != nil && !o.Final.Passed && q > o.Final.Confidence {
		q = o.Final.Confidence
	}
	return q
}

// Verification summarizes the gate results; the verdict is the final check's
func (o *ResearchOutcome) Verification() model.VerificationSummary {
	s := model.VerificationSummary{Stages: o.Verifications}
	if o.Final != nil {
		s.Passed = o.Final.Passed
		s.Confidence = o.Final.Confidence
	}
	return s
}

// ResearchUseCase runs the iterative research loop: generate a query, search,
// classify, evaluate, repeat until a stop rule fires, then synthesize and verify.
type ResearchUseCase struct {
	completer   interfaces.Completer
	provider    interfaces.SourceProvider
	classifier  *authority.Classifier
	gate        *verification.Gate
	factChecker factcheck.Service
}

// NewResearchUseCase creates a ResearchUseCase
func NewResearchUseCase(completer interfaces.Completer, provider interfaces.SourceProvider, classifier *authority.Classifier, gate *verification.Gate, factChecker factcheck.Service) (*ResearchUseCase, error) {
	if completer == nil {
		return nil, goerr.New("completer is required")
	}
	if provider == nil {
		return nil, goerr.New("source provider is required")
	}
	if classifier == nil || gate == nil || factChecker == nil {
		return nil, goerr.New("classifier, gate and fact-checker are required")
	}

	return &ResearchUseCase{
		completer:   completer,
		provider:    provider,
		classifier:  classifier,
		gate:        gate,
		factChecker: factChecker,
	}, nil
}

type queryResponse struct {
	Query     string `json:"query"`
	Objective string `json:"objetivo"`
}

func (r *queryResponse) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return goerr.New("query is empty")
	}
	return nil
}

type evaluationResponse struct {
	Sufficient *bool   `json:"suficiente"`
	Found      string  `json:"informacionEncontrada"`
	Missing    string  `json:"informacionFaltante"`
	NextQuery  string  `json:"siguienteQuery"`
	Confidence float64 `json:"confianza"`
}

func (r *evaluationResponse) Validate() error {
	if r.Sufficient == nil {
		return goerr.New("suficiente is missing")
	}
	return nil
}

// evaluation is the verdict on one round
type evaluation struct {
	Sufficient bool
	Found      string
	Missing    string
	NextQuery  string
	Confidence int
	Parsed     bool
}

// heuristicEvaluation is the verdict used when no structured verdict exists
func heuristicEvaluation(round, official, total int) evaluation {
	ev := evaluation{
		Sufficient: official >= HeuristicOfficialCount || round >= HeuristicRoundCount,
		Found:      fmt.Sprintf("Se encontraron %d resultados (%d oficiales)", total, official),
		Confidence: 5,
	}
	if official < HeuristicOfficialCount {
		ev.Missing = "Más fuentes oficiales"
	} else {
		ev.Confidence = 7
	}
	return ev
}

// fallbackQuery is searched when the model gives no usable query
func fallbackQuery(question string, round int) string {
	if round == 1 {
		return question
	}
	return question + " información adicional"
}

// session holds the state of one Run
type session struct {
	uc      *ResearchUseCase
	query   model.Query
	history []*model.Message
	cfg     ResearchConfig

	rounds        []*model.ResearchRound
	warnings      []string
	verifications []*model.VerificationResult
	// sourceConfidence is the lowest during_search confidence; zero means none
	sourceConfidence float64
}

// Run executes one research session. Model transport failures in query
// generation, evaluation or synthesis are returned as errors. Cancellation
// between phases returns an error wrapping the context error.
func (uc *ResearchUseCase) Run(ctx context.Context, query model.Query, chatCtx *model.ChatContext, cfg ResearchConfig) (*ResearchOutcome, error) {
	s := &session{
		uc:    uc,
		query: query,
		cfg:   cfg.withDefaults(),
	}
	if chatCtx != nil {
		s.history = chatCtx.RecentHistory(historyTurnsLimit)
	}

	logger := logging.From(ctx).With("mode", query.Strategy(), "max_rounds", s.cfg.MaxRounds)
	ctx = logging.With(ctx, logger)

	var (
		prev *evaluation
		stop StopReason
	)
	for n := 1; n <= s.cfg.MaxRounds; n++ {
		if err := ctx.Err(); err != nil {
			return nil, goerr.Wrap(err, "research cancelled", goerr.V(RoundKey, n))
		}

		round, ev, reason, err := s.runRound(ctx, n, prev)
		if err != nil {
			return nil, err
		}
		if !round.NeedsMoreInfo {
			stop = reason
			break
		}
		prev = &ev
	}
	roundsHistogram.Observe(float64(len(s.rounds)))
	logger.Info("research rounds finished", "rounds", len(s.rounds), "stop_reason", stop)

	return s.synthesize(ctx, stop)
}

func (s *session) progress(kind ProgressKind, round int, msg string) {
	if s.cfg.Progress != nil {
		s.cfg.Progress(ProgressEvent{Kind: kind, Round: round, Message: msg})
	}
}

func (s *session) warn(msg string) {
	if msg != "" && !slices.Contains(s.warnings, msg) {
		s.warnings = append(s.warnings, msg)
	}
}

func (s *session) verify(ctx context.Context, stage types.Stage, data *verification.Data) *model.VerificationResult {
	v := s.uc.gate.Verify(ctx, stage, data)
	s.verifications = append(s.verifications, v)
	return v
}

// modelError converts a failed model call into the error Run returns. The
// result matches sentinel with errors.Is and its message keeps the cause.
func modelError(ctx context.Context, err error, sentinel error, msg string, round int) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return goerr.Wrap(ctxErr, "research interrupted", goerr.V(RoundKey, round))
	}
	return goerr.Wrap(fmt.Errorf("%w: %w", sentinel, err), msg, goerr.V(RoundKey, round))
}

func (s *session) runRound(ctx context.Context, n int, prev *evaluation) (*model.ResearchRound, evaluation, StopReason, error) {
	logger := logging.From(ctx).With(RoundKey, n)
	s.progress(ProgressRoundStarted, n, fmt.Sprintf("Ronda %d: generando consulta de búsqueda", n))

	gen, err := s.generateQuery(ctx, n, prev)
	if err != nil {
		return nil, evaluation{}, "", err
	}

	pre := s.verify(ctx, types.StagePreSearch, &verification.Data{Query: s.query, QueryText: gen.Query})
	if !pre.Passed {
		if fb := fallbackQuery(s.query.Text(), n); fb != gen.Query {
			gen.Query = fb
			pre = s.verify(ctx, types.StagePreSearch, &verification.Data{Query: s.query, QueryText: gen.Query})
		}
		if !pre.Passed {
			s.warn(fmt.Sprintf("La consulta de búsqueda de la ronda %d no superó la verificación previa: %s", n, strings.Join(pre.Issues, "; ")))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, evaluation{}, "", goerr.Wrap(err, "research cancelled", goerr.V(RoundKey, n))
	}

	docs, err := s.uc.provider.Search(ctx, gen.Query, s.cfg.FanOut)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, evaluation{}, "", goerr.Wrap(ctxErr, "research cancelled", goerr.V(RoundKey, n))
		}
		logger.Warn("source search failed, continuing with no results", "error", err, "query", gen.Query)
		docs = nil
	}
	if n == 1 && len(s.cfg.CachedSources) > 0 {
		docs = append(docs, model.CopyDocuments(s.cfg.CachedSources)...)
	}
	docs = model.DedupDocuments(docs)

	s.uc.classifier.ClassifyAll(docs)
	if extracted := s.uc.classifier.ExtractTopOfficial(ctx, docs, s.cfg.ExtractCount); extracted > 0 {
		logger.Debug("extracted full text of official documents", "count", extracted)
	}

	during := s.verify(ctx, types.StageDuringSearch, &verification.Data{
		Query:         s.query,
		QueryText:     gen.Query,
		Documents:     docs,
		ModelAssisted: s.cfg.ModelAssisted,
	})
	if s.sourceConfidence == 0 || during.Confidence < s.sourceConfidence {
		s.sourceConfidence = during.Confidence
	}
	if !during.Passed {
		for _, issue := range during.Issues {
			s.warn(issue)
		}
	}

	official := model.CountOfficial(docs)
	s.progress(ProgressSearchResults, n, fmt.Sprintf("Ronda %d: %d resultados (%d oficiales) para \"%s\"", n, len(docs), official, gen.Query))

	post := s.verify(ctx, types.StagePostSearch, &verification.Data{Query: s.query, Documents: docs})

	var ev evaluation
	if post.Passed {
		ev, err = s.evaluate(ctx, n, docs, official)
		if err != nil {
			return nil, evaluation{}, "", err
		}
	} else {
		ev = heuristicEvaluation(n, official, len(docs))
		ev.Found = "No se encontraron resultados en esta ronda."
	}

	analysis := ev.Found
	if !during.Passed && len(during.Issues) > 0 {
		analysis += "\nAdvertencias de verificación: " + strings.Join(during.Issues, "; ")
	}

	round := &model.ResearchRound{
		Number:          n,
		Query:           gen.Query,
		Objective:       gen.Objective,
		Documents:       docs,
		Analysis:        analysis,
		Missing:         ev.Missing,
		Confidence:      ev.Confidence,
		EvaluatorParsed: ev.Parsed,
		OfficialCount:   official,
	}
	s.rounds = append(s.rounds, round)

	cumulative := model.CountOfficial(model.RoundDocuments(s.rounds))
	reason := s.stopReason(ctx, n, ev, cumulative)
	round.NeedsMoreInfo = reason == ""

	if round.NeedsMoreInfo {
		s.progress(ProgressVerdict, n, fmt.Sprintf("Ronda %d: se necesita más información (%s)", n, ev.Missing))
	} else {
		s.progress(ProgressVerdict, n, fmt.Sprintf("Ronda %d: investigación completa (%d fuentes oficiales)", n, cumulative))
	}

	if s.cfg.OnRound != nil {
		s.cfg.OnRound(round, during.Passed)
	}

	return round, ev, reason, nil
}

// stopReason applies the stop rules. An empty reason means another round is needed.
func (s *session) stopReason(ctx context.Context, n int, ev evaluation, cumulativeOfficial int) StopReason {
	sufficient := ev.Sufficient
	if sufficient && cumulativeOfficial == 0 && n < s.cfg.MaxRounds {
		logging.From(ctx).Debug("sufficient verdict without official evidence, continuing", RoundKey, n)
		sufficient = false
	}

	switch {
	case sufficient && ev.Parsed:
		return StopSufficient
	case sufficient:
		return StopHeuristic
	case cumulativeOfficial >= OfficialStopCount:
		return StopOfficialThreshold
	case n >= s.cfg.MaxRounds:
		return StopRoundCap
	}
	return ""
}

func (s *session) generateQuery(ctx context.Context, n int, prev *evaluation) (queryResponse, error) {
	raw, err := s.uc.completer.Complete(ctx, interfaces.CompletionRequest{
		SystemPrompt: querySystemPrompt,
		Messages: []interfaces.CompletionMessage{
			{Role: types.RoleUser, Content: buildQueryPrompt(s.query.Text(), s.history, s.rounds, prev)},
		},
		Temperature:      queryTemperature,
		MaxTokens:        queryMaxTokens,
		StructuredOutput: true,
	})
	if err != nil {
		return queryResponse{}, modelError(ctx, err, ErrModelFailure, "failed to generate search query", n)
	}

	gen, _ := lenient.DecodeOr(ctx, raw, func() queryResponse {
		return queryResponse{Query: fallbackQuery(s.query.Text(), n)}
	})
	gen.Query = strings.TrimSpace(gen.Query)
	if gen.Objective == "" {
		gen.Objective = defaultObjective
	}
	return gen, nil
}

func (s *session) evaluate(ctx context.Context, n int, docs []*model.Document, official int) (evaluation, error) {
	if err := ctx.Err(); err != nil {
		return evaluation{}, goerr.Wrap(err, "research cancelled", goerr.V(RoundKey, n))
	}

	prompt, err := buildEvaluationPrompt(s.query.Text(), docs, s.rounds)
	if err != nil {
		return evaluation{}, err
	}

	raw, err := s.uc.completer.Complete(ctx, interfaces.CompletionRequest{
		SystemPrompt:     evaluationSystemPrompt,
		Messages:         []interfaces.CompletionMessage{{Role: types.RoleUser, Content: prompt}},
		Temperature:      evaluationTemperature,
		MaxTokens:        evaluationMaxTokens,
		StructuredOutput: true,
	})
	if err != nil {
		return evaluation{}, modelError(ctx, err, ErrModelFailure, "failed to evaluate search results", n)
	}

	resp, err := lenient.Decode[evaluationResponse](raw)
	if err != nil {
		logging.From(ctx).Debug("evaluation unparseable, using heuristic verdict", "error", err)
		return heuristicEvaluation(n, official, len(docs)), nil
	}

	ev := evaluation{
		Sufficient: *resp.Sufficient,
		Found:      resp.Found,
		Missing:    resp.Missing,
		NextQuery:  resp.NextQuery,
		Confidence: clampConfidence(resp.Confidence),
		Parsed:     true,
	}
	if ev.Found == "" {
		ev.Found = fmt.Sprintf("Encontrados %d resultados", len(docs))
	}
	return ev, nil
}

func clampConfidence(v float64) int {
	if v <= 0 {
		return 5
	}
	return int(math.Round(math.Min(10, math.Max(1, v))))
}

func (s *session) synthesize(ctx context.Context, stop StopReason) (*ResearchOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "research cancelled before synthesis")
	}

	sources := rankSources(model.RoundDocuments(s.rounds))
	question := s.query.Text()

	s.progress(ProgressSynthesizing, 0, "Sintetizando la respuesta con las fuentes encontradas")
	pre := s.verify(ctx, types.StagePreSynthesis, &verification.Data{Query: s.query, Rounds: s.rounds, Documents: sources})
	noSources := !pre.Passed
	if noSources {
		s.warn("No se encontraron fuentes para fundamentar la respuesta. Consulta fuentes oficiales antes de actuar.")
	}

	prompt, err := buildSynthesisPrompt(question, s.rounds, noSources)
	if err != nil {
		return nil, err
	}
	draft, err := s.uc.completer.Complete(ctx, interfaces.CompletionRequest{
		SystemPrompt: prompt,
		Messages: []interfaces.CompletionMessage{
			{Role: types.RoleUser, Content: fmt.Sprintf("Sintetiza toda la información recopilada para responder: \"%s\"", question)},
		},
		Temperature: synthesisTemperature,
		MaxTokens:   synthesisMaxTokens,
	})
	if err != nil {
		return nil, modelError(ctx, err, ErrSynthesisFailed, "failed to synthesize answer", len(s.rounds))
	}
	if strings.TrimSpace(draft) == "" {
		return nil, goerr.Wrap(ErrSynthesisFailed, "synthesis returned empty answer")
	}

	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "research cancelled before verification")
	}

	s.progress(ProgressVerifying, 0, "Verificando la respuesta contra las fuentes")
	answer := strings.TrimSpace(draft)
	fc := s.uc.factChecker.FactCheck(ctx, question, answer, sources)
	final := s.verify(ctx, types.StagePostSynthesis, &verification.Data{
		Query:             s.query,
		Answer:            answer,
		Documents:         sources,
		FactCheck:         fc,
		RunningConfidence: s.sourceConfidence,
	})

	// an untrusted verdict is corrected even when the gate passed
	if !final.Passed || !fc.Trusted() {
		if err := ctx.Err(); err != nil {
			return nil, goerr.Wrap(err, "research cancelled before correction")
		}

		s.progress(ProgressCorrecting, 0, "Corrigiendo la respuesta según la verificación")
		drafted := answer
		answer = s.uc.factChecker.ApplyCorrections(ctx, question, answer, fc, sources)
		fc = s.uc.factChecker.FactCheck(ctx, question, answer, sources)
		final = s.verify(ctx, types.StagePostSynthesis, &verification.Data{
			Query:             s.query,
			Answer:            answer,
			Documents:         sources,
			FactCheck:         fc,
			RunningConfidence: s.sourceConfidence,
		})

		if !final.Passed {
			answer, fc, final = s.rewriteConservatively(ctx, answer, fc, final, sources)
		}

		if !final.Passed || answer == drafted {
			s.warn("La respuesta no superó la verificación final. Revisa las fuentes oficiales antes de actuar.")
			for _, issue := range final.Issues {
				s.warn(issue)
			}
			answer = factcheck.WithUncertaintyWarning(answer)
		}
	}

	analysis := make([]string, 0, len(s.rounds))
	for _, r := range s.rounds {
		analysis = append(analysis, fmt.Sprintf("Ronda %d: %s", r.Number, r.Analysis))
	}

	return &ResearchOutcome{
		FinalAnswer:   answer,
		Sources:       sources,
		Analysis:      strings.Join(analysis, "\n"),
		Warnings:      append([]string{}, s.warnings...),
		Rounds:        s.rounds,
		FactCheck:     fc,
		Verifications: s.verifications,
		Final:         final,
		StopReason:    stop,
	}, nil
}

// rewriteConservatively replaces an answer that failed verification after
// correction with one restricted to what sources support. The previous
// answer and verdict are kept when the rewrite cannot be produced.
func (s *session) rewriteConservatively(ctx context.Context, answer string, fc *model.FactCheckResult, final *model.VerificationResult, sources []*model.Document) (string, *model.FactCheckResult, *model.VerificationResult) {
	if ctx.Err() != nil {
		return answer, fc, final
	}

	question := s.query.Text()
	rewritten, err := s.uc.factChecker.GenerateConservativeResponse(ctx, question, sources, answer)
	if err != nil {
		logging.From(ctx).Warn("conservative rewrite failed, keeping corrected answer", "error", err)
		return answer, fc, final
	}

	fc = s.uc.factChecker.FactCheck(ctx, question, rewritten, sources)
	final = s.verify(ctx, types.StagePostSynthesis, &verification.Data{
		Query:             s.query,
		Answer:            rewritten,
		Documents:         sources,
		FactCheck:         fc,
		RunningConfidence: s.sourceConfidence,
	})
	return rewritten, fc, final
}

// rankSources orders documents by authority, keeping search order among equals
func rankSources(docs []*model.Document) []*model.Document {
	out := slices.Clone(docs)
	slices.SortStableFunc(out, func(a, b *model.Document) int {
		return cmp.Compare(b.AuthorityScore, a.AuthorityScore)
	})
	return out
}
