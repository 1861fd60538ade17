package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/themis/pkg/domain/interfaces"
	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
	"github.com/secmon-lab/themis/pkg/repository/memory"
	"github.com/secmon-lab/themis/pkg/service/factcheck"
	"github.com/secmon-lab/themis/pkg/usecase"
)

const (
	promptQuery        = "query"
	promptEvaluate     = "evaluate"
	promptSynthesize   = "synthesize"
	promptFactCheck    = "factcheck"
	promptCorrect      = "correct"
	promptHierarchy    = "hierarchy"
	promptDirect       = "direct"
	promptValidate     = "validate"
	promptConservative = "conservative"
	promptOther        = "other"

	sasQuestion = "¿Cuáles son los requisitos para constituir una SAS en Colombia?"
	sasAnswer   = "Según el artículo 5 de la Ley 1258 de 2008, la SAS se crea mediante contrato o acto unilateral que conste en documento privado, inscrito en el registro mercantil. Fuente: https://www.secretariasenado.gov.co/senado/basedoc/ley_1258_2008.html"
	sasArticle  = "ARTÍCULO 5o. CONTENIDO DEL DOCUMENTO DE CONSTITUCIÓN. La sociedad por acciones simplificada se creará mediante contrato o acto unilateral que conste en documento privado, inscrito en el Registro Mercantil de la Cámara de Comercio del lugar en que la sociedad establezca su domicilio principal."

	defaultQueryJSON    = `{"query": "requisitos constitución SAS Ley 1258 Colombia", "objetivo": "Requisitos de constitución"}`
	sufficientJSON      = `{"suficiente": true, "informacionEncontrada": "Ley 1258 de 2008, artículo 5", "informacionFaltante": "", "siguienteQuery": "", "confianza": 9}`
	insufficientJSON    = `{"suficiente": false, "informacionEncontrada": "Información parcial", "informacionFaltante": "Texto del artículo", "siguienteQuery": "artículo 5 Ley 1258", "confianza": 4}`
	accurateJSON        = `{"isAccurate": true, "confidence": 0.92, "issues": [], "corrections": [], "sources": []}`
	lowConfidenceJSON   = `{"isAccurate": true, "confidence": 0.7, "issues": [], "corrections": [], "sources": []}`
	correctedAnswerText = "La Ley 1258 de 2008 regula la constitución de la SAS mediante documento privado inscrito en el registro mercantil."
	conservativeText    = "Según las fuentes consultadas, la Ley 1258 de 2008 permite constituir la SAS mediante documento privado. Consulte a un profesional del derecho."
)

// promptKind identifies a model call by the opening of its system prompt
func promptKind(system string) string {
	switch {
	case strings.HasPrefix(system, "Eres un investigador legal colombiano experto"):
		return promptQuery
	case strings.HasPrefix(system, "Eres un evaluador de investigación legal"):
		return promptEvaluate
	case strings.HasPrefix(system, "Eres un Agente de Investigación Legal"):
		return promptSynthesize
	case strings.HasPrefix(system, "Eres un verificador de hechos"):
		return promptFactCheck
	case strings.HasPrefix(system, "Eres un editor legal"):
		return promptCorrect
	case strings.HasPrefix(system, "Eres un evaluador de fuentes legales"):
		return promptHierarchy
	case strings.HasPrefix(system, "Eres un asistente legal colombiano"):
		return promptDirect
	case strings.HasPrefix(system, "Eres un experto en derecho colombiano. Valida"):
		return promptValidate
	case strings.HasPrefix(system, "Eres un asistente legal experto"):
		return promptConservative
	default:
		return promptOther
	}
}

type scriptedCompleter struct {
	mu       sync.Mutex
	counts   map[string]int
	requests map[string][]interfaces.CompletionRequest

	// each func receives the 1-based call number of its prompt kind
	query      func(n int) (string, error)
	evaluate   func(n int) (string, error)
	synthesize func(n int) (string, error)
	factCheck  func(n int) (string, error)
	correct    func(n int) (string, error)
	hierarchy  func(n int) (string, error)
	direct     func(n int) (string, error)

	validate     func(n int) (string, error)
	conservative func(n int) (string, error)
}

func newScriptedCompleter() *scriptedCompleter {
	return &scriptedCompleter{
		counts:     map[string]int{},
		requests:   map[string][]interfaces.CompletionRequest{},
		query:      func(int) (string, error) { return defaultQueryJSON, nil },
		evaluate:   func(int) (string, error) { return sufficientJSON, nil },
		synthesize: func(int) (string, error) { return sasAnswer, nil },
		factCheck:  func(int) (string, error) { return accurateJSON, nil },
		correct:    func(int) (string, error) { return correctedAnswerText, nil },
		hierarchy:  func(int) (string, error) { return "", errors.New("no hierarchy scripted") },
		direct:     func(int) (string, error) { return "¡Hola! ¿En qué puedo ayudarte?", nil },

		validate:     func(int) (string, error) { return `{"validReferences": [], "invalidReferences": [], "missingReferences": []}`, nil },
		conservative: func(int) (string, error) { return "", errors.New("no conservative rewrite scripted") },
	}
}

func (c *scriptedCompleter) Complete(ctx context.Context, req interfaces.CompletionRequest) (string, error) {
	kind := promptKind(req.SystemPrompt)

	c.mu.Lock()
	c.counts[kind]++
	n := c.counts[kind]
	c.requests[kind] = append(c.requests[kind], req)
	c.mu.Unlock()

	switch kind {
	case promptQuery:
		return c.query(n)
	case promptEvaluate:
		return c.evaluate(n)
	case promptSynthesize:
		return c.synthesize(n)
	case promptFactCheck:
		return c.factCheck(n)
	case promptCorrect:
		return c.correct(n)
	case promptHierarchy:
		return c.hierarchy(n)
	case promptDirect:
		return c.direct(n)
	case promptValidate:
		return c.validate(n)
	case promptConservative:
		return c.conservative(n)
	default:
		return "", errors.New("unexpected prompt")
	}
}

func (c *scriptedCompleter) count(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[kind]
}

func (c *scriptedCompleter) request(kind string, i int) interfaces.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[kind][i]
}

type stubProvider struct {
	mu      sync.Mutex
	queries []string

	search func(n int, query string) ([]*model.Document, error)
	fetch  func(url string) string
}

func (p *stubProvider) Search(ctx context.Context, query string, numResults int) ([]*model.Document, error) {
	p.mu.Lock()
	p.queries = append(p.queries, query)
	n := len(p.queries)
	p.mu.Unlock()

	if p.search == nil {
		return nil, nil
	}
	return p.search(n, query)
}

func (p *stubProvider) FetchFullText(ctx context.Context, url string, timeout time.Duration) string {
	if p.fetch == nil {
		return ""
	}
	return p.fetch(url)
}

func (p *stubProvider) searched() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.queries...)
}

func sasDocuments() []*model.Document {
	return []*model.Document{
		{
			Title:   "LEY 1258 DE 2008 - Sociedad por Acciones Simplificada",
			URL:     "https://www.secretariasenado.gov.co/senado/basedoc/ley_1258_2008.html",
			Snippet: "Por medio de la cual se crea la sociedad por acciones simplificada.",
		},
		{
			Title:   "Ley 1258 de 2008 - Gestor Normativo",
			URL:     "https://www.funcionpublica.gov.co/eva/gestornormativo/norma.php?i=34130",
			Snippet: "La sociedad por acciones simplificada podrá constituirse por una o varias personas naturales o jurídicas.",
		},
	}
}

func sasProvider() *stubProvider {
	return &stubProvider{
		search: func(int, string) ([]*model.Document, error) { return sasDocuments(), nil },
		fetch: func(url string) string {
			if strings.Contains(url, "secretariasenado") {
				return sasArticle
			}
			return ""
		},
	}
}

func officialDocs(round, n int) []*model.Document {
	docs := make([]*model.Document, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, &model.Document{
			Title:   fmt.Sprintf("Decreto %d%d de 2015", round, i),
			URL:     fmt.Sprintf("https://www.funcionpublica.gov.co/norma-%d-%d", round, i),
			Snippet: "Texto normativo oficial.",
		})
	}
	return docs
}

func generalDocs(round, n int) []*model.Document {
	docs := make([]*model.Document, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, &model.Document{
			Title:   fmt.Sprintf("Blog jurídico %d-%d", round, i),
			URL:     fmt.Sprintf("https://blog.example.com/%d/%d", round, i),
			Snippet: "Opinión sobre el tema.",
		})
	}
	return docs
}

func newUseCases(t *testing.T, completer *scriptedCompleter, provider *stubProvider) *usecase.UseCases {
	t.Helper()
	uc, err := usecase.New(memory.New(), completer, provider)
	gt.NoError(t, err).Required()
	return uc
}

func sasQuery(mode types.ResearchMode) model.Query {
	return model.NewQuery(sasQuestion, usecase.DefaultJurisdiction, types.ComplexityMedium, mode)
}

// assertStopInvariant checks that no round stopped without evidence, the round
// cap or the official threshold
func assertStopInvariant(t *testing.T, rounds []*model.ResearchRound, maxRounds int) {
	t.Helper()
	for i, r := range rounds {
		if r.NeedsMoreInfo {
			continue
		}
		cumulative := model.CountOfficial(model.RoundDocuments(rounds[:i+1]))
		ok := cumulative > 0 || r.Number >= maxRounds || cumulative >= usecase.OfficialStopCount
		gt.Bool(t, ok).True()
		gt.Value(t, i).Equal(len(rounds) - 1)
	}
}

func TestNewResearchUseCase(t *testing.T) {
	_, err := usecase.NewResearchUseCase(nil, &stubProvider{}, nil, nil, nil)
	gt.Error(t, err)
}

func TestResearchUseCase_StopRules(t *testing.T) {
	testCases := []struct {
		name       string
		maxRounds  int
		search     func(n int, query string) ([]*model.Document, error)
		evaluate   func(n int) (string, error)
		wantRounds int
		wantStop   usecase.StopReason
	}{
		{
			name:       "sufficient verdict with official sources stops",
			maxRounds:  5,
			search:     func(n int, _ string) ([]*model.Document, error) { return officialDocs(n, 2), nil },
			evaluate:   func(int) (string, error) { return sufficientJSON, nil },
			wantRounds: 1,
			wantStop:   usecase.StopSufficient,
		},
		{
			name:       "unparseable verdict falls back to heuristic",
			maxRounds:  5,
			search:     func(n int, _ string) ([]*model.Document, error) { return officialDocs(n, 2), nil },
			evaluate:   func(int) (string, error) { return "La información parece suficiente.", nil },
			wantRounds: 1,
			wantStop:   usecase.StopHeuristic,
		},
		{
			name:       "official threshold stops the loop",
			maxRounds:  5,
			search:     func(n int, _ string) ([]*model.Document, error) { return officialDocs(n, 2), nil },
			evaluate:   func(int) (string, error) { return insufficientJSON, nil },
			wantRounds: 2,
			wantStop:   usecase.StopOfficialThreshold,
		},
		{
			name:       "sufficient verdict without evidence keeps searching",
			maxRounds:  3,
			search:     func(n int, _ string) ([]*model.Document, error) { return generalDocs(n, 3), nil },
			evaluate:   func(int) (string, error) { return sufficientJSON, nil },
			wantRounds: 3,
			wantStop:   usecase.StopSufficient,
		},
		{
			name:       "insufficient verdicts end at the round cap",
			maxRounds:  3,
			search:     func(n int, _ string) ([]*model.Document, error) { return generalDocs(n, 3), nil },
			evaluate:   func(int) (string, error) { return insufficientJSON, nil },
			wantRounds: 3,
			wantStop:   usecase.StopRoundCap,
		},
		{
			name:       "max rounds one runs exactly one round",
			maxRounds:  1,
			search:     func(n int, _ string) ([]*model.Document, error) { return generalDocs(n, 3), nil },
			evaluate:   func(int) (string, error) { return insufficientJSON, nil },
			wantRounds: 1,
			wantStop:   usecase.StopRoundCap,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			completer := newScriptedCompleter()
			completer.evaluate = tc.evaluate
			provider := &stubProvider{search: tc.search}
			uc := newUseCases(t, completer, provider)

			out, err := uc.Research.Run(context.Background(), sasQuery(types.ResearchModeIterative), nil, usecase.ResearchConfig{
				MaxRounds: tc.maxRounds,
			})
			gt.NoError(t, err).Required()

			gt.Array(t, out.Rounds).Length(tc.wantRounds)
			gt.Value(t, out.StopReason).Equal(tc.wantStop)
			gt.Value(t, completer.count(promptQuery)).Equal(tc.wantRounds)
			gt.Array(t, provider.searched()).Length(tc.wantRounds)
			assertStopInvariant(t, out.Rounds, tc.maxRounds)

			for i, r := range out.Rounds {
				gt.Value(t, r.Number).Equal(i + 1)
				gt.Value(t, r.NeedsMoreInfo).Equal(i < tc.wantRounds-1)
			}
		})
	}
}

func TestResearchUseCase_HeuristicVerdict(t *testing.T) {
	completer := newScriptedCompleter()
	completer.evaluate = func(int) (string, error) { return "```json\n{\"informacionEncontrada\": \"sin veredicto\"}\n```", nil }
	provider := &stubProvider{search: func(n int, _ string) ([]*model.Document, error) {
		return officialDocs(n, 2), nil
	}}
	uc := newUseCases(t, completer, provider)

	out, err := uc.Research.Run(context.Background(), sasQuery(types.ResearchModeIterative), nil, usecase.ResearchConfig{MaxRounds: 5})
	gt.NoError(t, err).Required()

	r := out.Rounds[0]
	gt.Bool(t, r.EvaluatorParsed).False()
	gt.Value(t, r.Confidence).Equal(7)
	gt.Value(t, r.Analysis).Equal("Se encontraron 2 resultados (2 oficiales)")
	gt.Value(t, r.OfficialCount).Equal(2)
}

func TestResearchUseCase_NoEvidence(t *testing.T) {
	completer := newScriptedCompleter()
	provider := &stubProvider{}
	uc := newUseCases(t, completer, provider)

	out, err := uc.Research.Run(context.Background(), sasQuery(types.ResearchModeIterative), nil, usecase.ResearchConfig{MaxRounds: 5})
	gt.NoError(t, err).Required()

	gt.Array(t, out.Rounds).Length(5)
	assertStopInvariant(t, out.Rounds, 5)
	for _, r := range out.Rounds[:4] {
		gt.Bool(t, r.NeedsMoreInfo).True()
		gt.Value(t, r.Analysis).Equal("No se encontraron resultados en esta ronda.")
	}

	// post_search fails on empty rounds, so the evaluator is never asked
	gt.Value(t, completer.count(promptEvaluate)).Equal(0)

	gt.Array(t, out.Sources).Length(0)
	gt.Array(t, out.Warnings).Has("No se encontraron fuentes para fundamentar la respuesta. Consulta fuentes oficiales antes de actuar.")
	gt.String(t, completer.request(promptSynthesize, 0).SystemPrompt).Contains("La investigación no encontró fuentes")
}

func TestResearchUseCase_ProviderFailure(t *testing.T) {
	completer := newScriptedCompleter()
	provider := &stubProvider{search: func(n int, _ string) ([]*model.Document, error) {
		if n == 1 {
			return nil, errors.New("serper: 503 service unavailable")
		}
		return officialDocs(n, 2), nil
	}}
	uc := newUseCases(t, completer, provider)

	out, err := uc.Research.Run(context.Background(), sasQuery(types.ResearchModeIterative), nil, usecase.ResearchConfig{MaxRounds: 5})
	gt.NoError(t, err).Required()

	gt.Array(t, out.Rounds).Length(2)
	gt.Array(t, out.Rounds[0].Documents).Length(0)
	gt.Bool(t, out.Rounds[0].NeedsMoreInfo).True()
	gt.Value(t, out.Rounds[1].OfficialCount).Equal(2)
	gt.Value(t, completer.count(promptEvaluate)).Equal(1)
}

func TestResearchUseCase_QueryFallback(t *testing.T) {
	t.Run("short query is reformulated before searching", func(t *testing.T) {
		completer := newScriptedCompleter()
		completer.query = func(int) (string, error) { return `{"query": "SAS", "objetivo": "x"}`, nil }
		provider := sasProvider()
		uc := newUseCases(t, completer, provider)

		out, err := uc.Research.Run(context.Background(), sasQuery(types.ResearchModeIterative), nil, usecase.ResearchConfig{MaxRounds: 3})
		gt.NoError(t, err).Required()

		gt.Value(t, provider.searched()[0]).Equal(sasQuestion)
		gt.Value(t, out.Rounds[0].Query).Equal(sasQuestion)

		var preSearch []*model.VerificationResult
		for _, v := range out.Verifications {
			if v.Stage == types.StagePreSearch {
				preSearch = append(preSearch, v)
			}
		}
		gt.Array(t, preSearch).Length(2)
		gt.Bool(t, preSearch[0].Passed).False()
		gt.Bool(t, preSearch[1].Passed).True()
	})

	t.Run("unparseable query output uses the question", func(t *testing.T) {
		completer := newScriptedCompleter()
		completer.query = func(int) (string, error) { return "Buscaría información sobre sociedades.", nil }
		provider := sasProvider()
		uc := newUseCases(t, completer, provider)

		out, err := uc.Research.Run(context.Background(), sasQuery(types.ResearchModeIterative), nil, usecase.ResearchConfig{MaxRounds: 3})
		gt.NoError(t, err).Required()

		gt.Value(t, provider.searched()[0]).Equal(sasQuestion)
		gt.Value(t, out.Rounds[0].Objective).Equal("Encontrar información legal relevante")
	})

	t.Run("later rounds carry the evaluator's gap", func(t *testing.T) {
		completer := newScriptedCompleter()
		completer.evaluate = func(n int) (string, error) {
			if n == 1 {
				return insufficientJSON, nil
			}
			return sufficientJSON, nil
		}
		provider := sasProvider()
		uc := newUseCases(t, completer, provider)

		_, err := uc.Research.Run(context.Background(), sasQuery(types.ResearchModeIterative), nil, usecase.ResearchConfig{MaxRounds: 3})
		gt.NoError(t, err).Required()

		gt.Value(t, completer.count(promptQuery)).Equal(2)
		second := completer.request(promptQuery, 1).Messages[0].Content
		gt.String(t, second).Contains("Información que falta: Texto del artículo")
		gt.String(t, second).Contains("Query sugerida por el evaluador: artículo 5 Ley 1258")
	})
}

func TestResearchUseCase_ModelFailureIsFatal(t *testing.T) {
	t.Run("query generation", func(t *testing.T) {
		completer := newScriptedCompleter()
		completer.query = func(int) (string, error) { return "", errors.New("openrouter: 502 bad gateway") }
		provider := sasProvider()
		uc := newUseCases(t, completer, provider)

		_, err := uc.Research.Run(context.Background(), sasQuery(types.ResearchModeIterative), nil, usecase.ResearchConfig{})
		gt.Bool(t, errors.Is(err, usecase.ErrModelFailure)).True()
		gt.Error(t, err).Contains("openrouter: 502 bad gateway")
		gt.Array(t, provider.searched()).Length(0)
	})

	t.Run("evaluation", func(t *testing.T) {
		completer := newScriptedCompleter()
		completer.evaluate = func(int) (string, error) { return "", errors.New("timeout") }
		uc := newUseCases(t, completer, sasProvider())

		_, err := uc.Research.Run(context.Background(), sasQuery(types.ResearchModeIterative), nil, usecase.ResearchConfig{})
		gt.Bool(t, errors.Is(err, usecase.ErrModelFailure)).True()
	})

	t.Run("synthesis", func(t *testing.T) {
		completer := newScriptedCompleter()
		completer.synthesize = func(int) (string, error) { return "", errors.New("gemini: context window exceeded") }
		uc := newUseCases(t, completer, sasProvider())

		_, err := uc.Research.Run(context.Background(), sasQuery(types.ResearchModeIterative), nil, usecase.ResearchConfig{})
		gt.Bool(t, errors.Is(err, usecase.ErrSynthesisFailed)).True()
		gt.Error(t, err).Contains("gemini: context window exceeded")
	})
}

func TestResearchUseCase_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	completer := newScriptedCompleter()
	completer.evaluate = func(int) (string, error) { return insufficientJSON, nil }
	provider := sasProvider()
	uc := newUseCases(t, completer, provider)

	var completed []int
	_, err := uc.Research.Run(ctx, sasQuery(types.ResearchModeIterative), nil, usecase.ResearchConfig{
		MaxRounds: 5,
		Progress: func(ev usecase.ProgressEvent) {
			if ev.Kind == usecase.ProgressRoundStarted && ev.Round == 2 {
				cancel()
			}
		},
		OnRound: func(r *model.ResearchRound, _ bool) {
			completed = append(completed, r.Number)
		},
	})

	gt.Bool(t, errors.Is(err, context.Canceled)).True()
	gt.Array(t, completed).Length(1)
	gt.Array(t, provider.searched()).Length(1)
	gt.Value(t, completer.count(promptSynthesize)).Equal(0)
}

func TestResearchUseCase_Deterministic(t *testing.T) {
	run := func() *usecase.ResearchOutcome {
		completer := newScriptedCompleter()
		completer.evaluate = func(n int) (string, error) {
			if n == 1 {
				return insufficientJSON, nil
			}
			return sufficientJSON, nil
		}
		uc := newUseCases(t, completer, sasProvider())
		out, err := uc.Research.Run(context.Background(), sasQuery(types.ResearchModeIterative), nil, usecase.ResearchConfig{MaxRounds: 4})
		gt.NoError(t, err).Required()
		return out
	}

	a, b := run(), run()
	gt.Value(t, a.FinalAnswer).Equal(b.FinalAnswer)
	gt.Value(t, a.StopReason).Equal(b.StopReason)
	gt.Value(t, a.Analysis).Equal(b.Analysis)
	gt.Array(t, a.Rounds).Length(len(b.Rounds))
	gt.Array(t, a.Sources).Length(len(b.Sources))
	for i := range a.Sources {
		gt.Value(t, a.Sources[i].URL).Equal(b.Sources[i].URL)
		gt.Value(t, a.Sources[i].AuthorityScore).Equal(b.Sources[i].AuthorityScore)
	}
	gt.Number(t, a.Quality()).Equal(b.Quality())
}

func TestResearchUseCase_FullTextExtraction(t *testing.T) {
	completer := newScriptedCompleter()
	uc := newUseCases(t, completer, sasProvider())

	out, err := uc.Research.Run(context.Background(), sasQuery(types.ResearchModeIterative), nil, usecase.ResearchConfig{})
	gt.NoError(t, err).Required()

	doc := out.Rounds[0].Documents[0]
	gt.Value(t, doc.Content).Equal(sasArticle)
	gt.String(t, doc.Snippet).HasPrefix("ARTÍCULO 5o.")

	// the evaluator sees the extracted article text
	prompt := completer.request(promptEvaluate, 0).Messages[0].Content
	gt.String(t, prompt).Contains("[🏛️ OFICIAL]")
	gt.String(t, prompt).Contains("📄 Contenido extraído: " + sasArticle)
}

func TestResearchUseCase_FactCheckGating(t *testing.T) {
	hallucinated := "El artículo 99 de la Ley 1258 de 2008 exige un capital mínimo de cien millones de pesos."

	t.Run("unsupported reference is corrected", func(t *testing.T) {
		completer := newScriptedCompleter()
		completer.synthesize = func(int) (string, error) { return hallucinated, nil }
		completer.factCheck = func(int) (string, error) {
			return `{"isAccurate": true, "confidence": 0.95, "issues": [], "corrections": [], "sources": []}`, nil
		}
		uc := newUseCases(t, completer, sasProvider())

		out, err := uc.Research.Run(context.Background(), sasQuery(types.ResearchModeIterative), nil, usecase.ResearchConfig{})
		gt.NoError(t, err).Required()

		gt.Value(t, completer.count(promptCorrect)).Equal(1)
		gt.Value(t, out.FinalAnswer).Equal(correctedAnswerText)
		gt.Bool(t, out.Final.Passed).True()
		gt.Bool(t, out.Verification().Passed).True()
		gt.String(t, completer.request(promptCorrect, 0).SystemPrompt).Contains("Referencia no encontrada en las fuentes: artículo 99")
		gt.String(t, completer.request(promptCorrect, 0).SystemPrompt).Contains("REFERENCIAS NO RESPALDADAS POR LAS FUENTES")
		gt.Value(t, completer.count(promptValidate)).Equal(1)
		gt.Value(t, completer.count(promptConservative)).Equal(0)
	})

	t.Run("failed correction carries warnings", func(t *testing.T) {
		completer := newScriptedCompleter()
		completer.synthesize = func(int) (string, error) { return hallucinated, nil }
		completer.correct = func(int) (string, error) { return hallucinated + " Esto es obligatorio.", nil }
		uc := newUseCases(t, completer, sasProvider())

		out, err := uc.Research.Run(context.Background(), sasQuery(types.ResearchModeIterative), nil, usecase.ResearchConfig{})
		gt.NoError(t, err).Required()

		gt.Value(t, completer.count(promptCorrect)).Equal(1)
		gt.Value(t, completer.count(promptConservative)).Equal(1)
		gt.Bool(t, out.Final.Passed).False()
		gt.String(t, out.FinalAnswer).Contains(factcheck.UncertaintyWarning)
		gt.Array(t, out.Warnings).Has("La respuesta no superó la verificación final. Revisa las fuentes oficiales antes de actuar.")
		gt.Number(t, out.Quality()).Less(out.Final.Confidence + 1e-9)
	})

	t.Run("failed correction falls back to a conservative rewrite", func(t *testing.T) {
		completer := newScriptedCompleter()
		completer.synthesize = func(int) (string, error) { return hallucinated, nil }
		completer.correct = func(int) (string, error) { return hallucinated + " Esto es obligatorio.", nil }
		completer.conservative = func(int) (string, error) { return conservativeText, nil }
		uc := newUseCases(t, completer, sasProvider())

		out, err := uc.Research.Run(context.Background(), sasQuery(types.ResearchModeIterative), nil, usecase.ResearchConfig{})
		gt.NoError(t, err).Required()

		gt.Value(t, completer.count(promptConservative)).Equal(1)
		gt.String(t, completer.request(promptConservative, 0).SystemPrompt).Contains("Esto es obligatorio.")
		gt.Value(t, out.FinalAnswer).Equal(conservativeText)
		gt.Bool(t, out.Final.Passed).True()
		gt.Value(t, completer.count(promptFactCheck)).Equal(3)
	})

	t.Run("low confidence verdict is corrected", func(t *testing.T) {
		completer := newScriptedCompleter()
		completer.factCheck = func(n int) (string, error) {
			if n == 1 {
				return lowConfidenceJSON, nil
			}
			return accurateJSON, nil
		}
		uc := newUseCases(t, completer, sasProvider())

		out, err := uc.Research.Run(context.Background(), sasQuery(types.ResearchModeIterative), nil, usecase.ResearchConfig{})
		gt.NoError(t, err).Required()

		gt.Value(t, completer.count(promptCorrect)).Equal(1)
		gt.Value(t, out.FinalAnswer).Equal(correctedAnswerText)
	})

	t.Run("trusted verdict keeps the draft", func(t *testing.T) {
		completer := newScriptedCompleter()
		uc := newUseCases(t, completer, sasProvider())

		out, err := uc.Research.Run(context.Background(), sasQuery(types.ResearchModeIterative), nil, usecase.ResearchConfig{})
		gt.NoError(t, err).Required()

		gt.Value(t, completer.count(promptCorrect)).Equal(0)
		gt.Value(t, out.FinalAnswer).Equal(sasAnswer)
	})
}

func TestResearchUseCase_ModelAssisted(t *testing.T) {
	completer := newScriptedCompleter()
	completer.hierarchy = func(int) (string, error) {
		return `{"evaluatedSources": [
			{"url": "https://www.secretariasenado.gov.co/senado/basedoc/ley_1258_2008.html", "type": "oficial", "authorityScore": 10, "reasoning": "Ley"},
			{"url": "https://www.funcionpublica.gov.co/eva/gestornormativo/norma.php?i=34130", "type": "oficial", "authorityScore": 8, "reasoning": "Compilación"}
		]}`, nil
	}
	uc := newUseCases(t, completer, sasProvider())

	out, err := uc.Research.Run(context.Background(), sasQuery(types.ResearchModeHybrid), nil, usecase.ResearchConfig{ModelAssisted: true})
	gt.NoError(t, err).Required()

	gt.Value(t, completer.count(promptHierarchy)).Equal(1)
	gt.Value(t, out.Sources[0].AuthorityScore).Equal(10.0)
	gt.Value(t, out.Sources[1].AuthorityScore).Equal(8.0)

	t.Run("deterministic scores without model assistance", func(t *testing.T) {
		completer := newScriptedCompleter()
		uc := newUseCases(t, completer, sasProvider())

		out, err := uc.Research.Run(context.Background(), sasQuery(types.ResearchModeIterative), nil, usecase.ResearchConfig{})
		gt.NoError(t, err).Required()

		gt.Value(t, completer.count(promptHierarchy)).Equal(0)
		gt.Value(t, out.Sources[0].AuthorityScore).Equal(9.0)
	})
}

func TestResearchUseCase_CachedSources(t *testing.T) {
	completer := newScriptedCompleter()
	provider := &stubProvider{search: func(n int, _ string) ([]*model.Document, error) {
		return generalDocs(n, 2), nil
	}}
	uc := newUseCases(t, completer, provider)

	cached := sasDocuments()[:1]
	out, err := uc.Research.Run(context.Background(), sasQuery(types.ResearchModeIterative), nil, usecase.ResearchConfig{
		MaxRounds:     2,
		CachedSources: cached,
	})
	gt.NoError(t, err).Required()

	gt.Array(t, out.Rounds[0].Documents).Length(3)
	gt.Value(t, out.Rounds[0].OfficialCount).Equal(1)
	// official sources rank first
	gt.Value(t, out.Sources[0].URL).Equal(cached[0].URL)
}

func TestResearchUseCase_ConversationHistory(t *testing.T) {
	completer := newScriptedCompleter()
	uc := newUseCases(t, completer, sasProvider())

	chatCtx := model.NewChatContext(types.NewChatID(), types.NewUserID())
	chatCtx.History = []*model.Message{
		model.NewMessage(chatCtx.ChatID, chatCtx.UserID, types.RoleUser, "Quiero crear una empresa"),
		model.NewMessage(chatCtx.ChatID, chatCtx.UserID, types.RoleAssistant, "Puedes elegir entre varios tipos societarios."),
	}

	_, err := uc.Research.Run(context.Background(), sasQuery(types.ResearchModeIterative), chatCtx, usecase.ResearchConfig{})
	gt.NoError(t, err).Required()

	prompt := completer.request(promptQuery, 0).Messages[0].Content
	gt.String(t, prompt).HasPrefix("Conversación reciente:\nUsuario: Quiero crear una empresa\n")
	gt.String(t, prompt).Contains("Pregunta del usuario: \"" + sasQuestion + "\"")
}

func TestResearchOutcome_Quality(t *testing.T) {
	official := func(score float64) *model.Document {
		return &model.Document{URL: fmt.Sprintf("https://x.gov.co/%v", score), SourceType: types.SourceTypeOfficial, AuthorityScore: score}
	}
	general := &model.Document{URL: "https://blog.example.com", SourceType: types.SourceTypeGeneral, AuthorityScore: 4}

	testCases := []struct {
		name string
		out  usecase.ResearchOutcome
		want float64
	}{
		{
			name: "two official sources and accurate check",
			out: usecase.ResearchOutcome{
				Sources:   []*model.Document{official(9), official(9)},
				FactCheck: &model.FactCheckResult{IsAccurate: true, Confidence: 0.9},
				Final:     &model.VerificationResult{Passed: true, Confidence: 0.9},
			},
			want: 0.4*0.9 + 0.3*0.9 + 0.3,
		},
		{
			name: "one official source halves coverage",
			out: usecase.ResearchOutcome{
				Sources:   []*model.Document{official(9), general},
				FactCheck: &model.FactCheckResult{IsAccurate: true, Confidence: 1},
				Final:     &model.VerificationResult{Passed: true, Confidence: 1},
			},
			want: 0.4 + 0.3*0.65 + 0.15,
		},
		{
			name: "failed verification caps the score",
			out: usecase.ResearchOutcome{
				Sources:   []*model.Document{official(9), official(9)},
				FactCheck: &model.FactCheckResult{Confidence: 0.9},
				Final:     &model.VerificationResult{Passed: false, Confidence: 0.3},
			},
			want: 0.3,
		},
		{
			name: "no sources and no check",
			out:  usecase.ResearchOutcome{},
			want: 0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			q := tc.out.Quality()
			gt.Number(t, q).Greater(tc.want - 1e-9)
			gt.Number(t, q).Less(tc.want + 1e-9)
		})
	}
}
