package factcheck

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/secmon-lab/themis/pkg/domain/interfaces"
	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
	"github.com/secmon-lab/themis/pkg/utils/lenient"
	"github.com/secmon-lab/themis/pkg/utils/logging"
)

const (
	checkTemperature        float32 = 0.1
	conservativeTemperature float32 = 0.2
	correctionTemperature   float32 = 0.2

	checkMaxTokens      = 1000
	validationMaxTokens = 800
	answerMaxTokens     = 3000

	// unsupportedConfidenceCap bounds confidence when the answer cites
	// references missing from every source
	unsupportedConfidenceCap = 0.5
)

var errIncompleteVerdict = goerr.New("fact-check verdict is missing isAccurate or confidence")

var factCheckTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "themis_factcheck_total",
	Help: "Fact-check verdicts by outcome",
}, []string{"outcome"})

// client implements Service
type client struct {
	completer interfaces.Completer
}

// Option is a functional option for client configuration
type Option func(*client)

// New creates a fact-checking Service backed by completer
func New(completer interfaces.Completer, opts ...Option) (Service, error) {
	if completer == nil {
		return nil, goerr.New("completer is required")
	}

	c := &client{completer: completer}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *client) FactCheck(ctx context.Context, query, answer string, docs []*model.Document) *model.FactCheckResult {
	logger := logging.From(ctx)

	result := c.modelFactCheck(ctx, query, answer, docs)

	// a cited article or law missing from every source overrides the model
	unsupported := UnsupportedReferences(answer, docs)
	if len(unsupported) > 0 {
		result.IsAccurate = false
		result.Confidence = min(result.Confidence, unsupportedConfidenceCap)
		for _, ref := range unsupported {
			result.Issues = append(result.Issues, fmt.Sprintf("Referencia no encontrada en las fuentes: %s", ref))
			result.Corrections = append(result.Corrections, fmt.Sprintf("Eliminar o indicar que no se encontró el texto de %s", ref))
		}
	}

	outcome := "inaccurate"
	if result.IsAccurate {
		outcome = "accurate"
	}
	factCheckTotal.WithLabelValues(outcome).Inc()

	logger.Info("fact-check completed",
		"accurate", result.IsAccurate,
		"confidence", result.Confidence,
		"issues", len(result.Issues),
		"unsupported_references", len(unsupported),
	)
	return result
}

func (c *client) modelFactCheck(ctx context.Context, query, answer string, docs []*model.Document) *model.FactCheckResult {
	resp, err := c.completer.Complete(ctx, interfaces.CompletionRequest{
		SystemPrompt: buildFactCheckPrompt(query, answer, docs),
		Messages: []interfaces.CompletionMessage{
			{Role: types.RoleUser, Content: "Verifica la respuesta y responde solo con el objeto JSON."},
		},
		Temperature:      checkTemperature,
		MaxTokens:        checkMaxTokens,
		StructuredOutput: true,
	})
	if err != nil {
		logging.From(ctx).Warn("fact-check call failed, using conservative result", "error", err)
		factCheckTotal.WithLabelValues("fallback").Inc()
		return model.FallbackFactCheck()
	}

	parsed, err := lenient.Decode[factCheckResponse](resp)
	if err != nil {
		logging.From(ctx).Warn("fact-check verdict unparseable, using conservative result", "error", err)
		factCheckTotal.WithLabelValues("fallback").Inc()
		return model.FallbackFactCheck()
	}

	result := &model.FactCheckResult{
		IsAccurate:   *parsed.IsAccurate,
		Confidence:   min(max(*parsed.Confidence, 0), 1),
		Issues:       nonNil(parsed.Issues),
		Corrections:  nonNil(parsed.Corrections),
		SourcesCited: nonNil(parsed.Sources),
	}
	// reported issues mean the answer is not accurate, whatever the flag says
	if len(result.Issues) > 0 && result.IsAccurate && result.Confidence <= 0.8 {
		result.IsAccurate = false
	}
	return result
}

func (c *client) GenerateConservativeResponse(ctx context.Context, query string, docs []*model.Document, previousDraft string) (string, error) {
	resp, err := c.completer.Complete(ctx, interfaces.CompletionRequest{
		SystemPrompt: buildConservativePrompt(query, docs, previousDraft),
		Messages: []interfaces.CompletionMessage{
			{Role: types.RoleUser, Content: fmt.Sprintf("Genera una respuesta conservadora y precisa para: \"%s\"", query)},
		},
		Temperature: conservativeTemperature,
		MaxTokens:   answerMaxTokens,
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate conservative response")
	}

	resp = strings.TrimSpace(resp)
	if resp == "" {
		return "", goerr.New("empty conservative response")
	}
	return resp, nil
}

func (c *client) ValidateLegalReferences(ctx context.Context, answer string, docs []*model.Document) *model.ReferenceValidation {
	refs := ExtractReferences(answer)
	corpus := buildCorpus(docs)

	var supported, unsupported []string
	for _, ref := range refs {
		if ref.Disclaimed {
			continue
		}
		if ref.FoundIn(corpus) {
			supported = append(supported, ref.String())
		} else {
			unsupported = append(unsupported, ref.String())
		}
	}

	result := &model.ReferenceValidation{
		ValidReferences:   []string{},
		InvalidReferences: []string{},
		MissingReferences: []string{},
	}

	resp, err := c.completer.Complete(ctx, interfaces.CompletionRequest{
		SystemPrompt: buildValidationPrompt(answer, docs),
		Messages: []interfaces.CompletionMessage{
			{Role: types.RoleUser, Content: "Valida las referencias y responde solo con el objeto JSON."},
		},
		Temperature:      checkTemperature,
		MaxTokens:        validationMaxTokens,
		StructuredOutput: true,
	})
	if err != nil {
		logging.From(ctx).Warn("reference validation call failed, using extracted references only", "error", err)
	} else if parsed, err := lenient.Decode[referenceResponse](resp); err != nil {
		logging.From(ctx).Warn("reference validation unparseable, using extracted references only", "error", err)
	} else {
		result.ValidReferences = append(result.ValidReferences, parsed.ValidReferences...)
		result.InvalidReferences = append(result.InvalidReferences, parsed.InvalidReferences...)
		result.MissingReferences = append(result.MissingReferences, parsed.MissingReferences...)
	}

	// extraction is authoritative for the references it recognizes
	result.ValidReferences = mergeReferences(removeReferences(result.ValidReferences, unsupported), supported)
	result.InvalidReferences = mergeReferences(removeReferences(result.InvalidReferences, supported), unsupported)

	return result
}

func (c *client) ApplyCorrections(ctx context.Context, query, draft string, fc *model.FactCheckResult, docs []*model.Document) string {
	if fc.Trusted() {
		return draft
	}
	if fc == nil {
		fc = model.FallbackFactCheck()
	}

	refs := c.ValidateLegalReferences(ctx, draft, docs)

	resp, err := c.completer.Complete(ctx, interfaces.CompletionRequest{
		SystemPrompt: buildCorrectionPrompt(query, draft, fc, refs, docs),
		Messages: []interfaces.CompletionMessage{
			{Role: types.RoleUser, Content: "Genera la respuesta corregida."},
		},
		Temperature: correctionTemperature,
		MaxTokens:   answerMaxTokens,
	})
	if err == nil {
		if corrected := strings.TrimSpace(resp); corrected != "" {
			return corrected
		}
		err = goerr.New("empty corrected response")
	}

	logging.From(ctx).Warn("correction failed, annotating original draft", "error", err)
	return WithUncertaintyWarning(draft)
}

// WithUncertaintyWarning appends the uncertainty warning to answer once
func WithUncertaintyWarning(answer string) string {
	if strings.Contains(answer, UncertaintyWarning) {
		return answer
	}
	return answer + "\n\n" + UncertaintyWarning
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func mergeReferences(base, add []string) []string {
	seen := make(map[string]struct{}, len(base)+len(add))
	out := make([]string, 0, len(base)+len(add))
	for _, list := range [][]string{base, add} {
		for _, r := range list {
			key := strings.ToLower(strings.TrimSpace(r))
			if _, ok := seen[key]; ok || key == "" {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

func removeReferences(list, drop []string) []string {
	if len(drop) == 0 {
		return list
	}
	dropSet := make(map[string]struct{}, len(drop))
	for _, d := range drop {
		dropSet[strings.ToLower(d)] = struct{}{}
	}
	out := make([]string, 0, len(list))
	for _, r := range list {
		if _, ok := dropSet[strings.ToLower(strings.TrimSpace(r))]; !ok {
			out = append(out, r)
		}
	}
	return out
}
