package authority

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/themis/pkg/domain/interfaces"
	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
	"github.com/secmon-lab/themis/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

// Deterministic authority scores per tier
const (
	ScoreOfficial = 9
	ScoreAcademic = 7
	ScoreGeneral  = 4
	// ScoreNeutral is assigned when a model-assisted evaluation cannot be parsed
	ScoreNeutral = 5
)

const (
	DefaultExtractCount   = 3
	DefaultExtractWorkers = 3
	DefaultFetchTimeout   = 15 * time.Second
	// SnippetLength is how much extracted text replaces the search snippet
	SnippetLength = 500
)

// DefaultOfficialPatterns are URL fragments of Colombian government and judicial sites
var DefaultOfficialPatterns = []string{
	".gov.co",
	"corteconstitucional",
	"consejodeestado",
	"suin-juriscol",
	"secretariasenado",
	"funcionpublica",
	"ramajudicial",
	"imprenta.gov",
	"minjusticia",
	"superfinanciera",
	"dian.gov",
	"procuraduria",
	"contraloria",
	"fiscalia",
	"defensoria",
}

// DefaultAcademicPatterns are URL fragments of academic repositories
var DefaultAcademicPatterns = []string{
	".edu.co",
	"redalyc",
	"scielo",
}

// Assessment is the authority verdict for one document
type Assessment struct {
	URL        string
	SourceType types.SourceType
	Score      float64
	Reasoning  string
	// Parsed is false when the verdict comes from the fallback policy
	Parsed bool
}

// Classifier assigns source tiers and authority scores to documents
type Classifier struct {
	official []string
	academic []string

	completer interfaces.Completer
	provider  interfaces.SourceProvider

	fetchTimeout time.Duration
	workers      int
}

// Option is a functional option for Classifier
type Option func(*Classifier)

// WithOfficialPatterns replaces the official URL patterns
func WithOfficialPatterns(patterns []string) Option {
	return func(c *Classifier) {
		c.official = normalizePatterns(patterns)
	}
}

// WithAcademicPatterns replaces the academic URL patterns
func WithAcademicPatterns(patterns []string) Option {
	return func(c *Classifier) {
		c.academic = normalizePatterns(patterns)
	}
}

// WithCompleter enables model-assisted hierarchy evaluation
func WithCompleter(completer interfaces.Completer) Option {
	return func(c *Classifier) {
		c.completer = completer
	}
}

// WithSourceProvider enables full-text extraction
func WithSourceProvider(provider interfaces.SourceProvider) Option {
	return func(c *Classifier) {
		c.provider = provider
	}
}

// WithFetchTimeout sets the per-document extraction timeout
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		c.fetchTimeout = d
	}
}

// WithExtractWorkers bounds concurrent extractions
func WithExtractWorkers(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.workers = n
		}
	}
}

// New creates a Classifier with the default Colombian patterns
func New(opts ...Option) *Classifier {
	c := &Classifier{
		official:     normalizePatterns(DefaultOfficialPatterns),
		academic:     normalizePatterns(DefaultAcademicPatterns),
		fetchTimeout: DefaultFetchTimeout,
		workers:      DefaultExtractWorkers,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HasCompleter reports whether EvaluateHierarchy can consult a model
func (c *Classifier) HasCompleter() bool {
	return c.completer != nil
}

// Classify returns the deterministic tier and score for doc
func (c *Classifier) Classify(doc *model.Document) (types.SourceType, float64) {
	url := strings.ToLower(doc.URL)

	for _, p := range c.official {
		if strings.Contains(url, p) {
			return types.SourceTypeOfficial, ScoreOfficial
		}
	}
	for _, p := range c.academic {
		if strings.Contains(url, p) {
			return types.SourceTypeAcademic, ScoreAcademic
		}
	}
	return types.SourceTypeGeneral, ScoreGeneral
}

// ClassifyAll annotates docs in place with their deterministic tier and score
func (c *Classifier) ClassifyAll(docs []*model.Document) {
	for _, d := range docs {
		st, score := c.Classify(d)
		d.SetAuthority(st, score)
	}
}

// ExtractTopOfficial fetches full text for the first n official documents that
// have none yet. Fetches run concurrently; a failed fetch leaves the snippet in
// place. It returns the number of documents that gained content.
func (c *Classifier) ExtractTopOfficial(ctx context.Context, docs []*model.Document, n int) int {
	if c.provider == nil || n <= 0 {
		return 0
	}

	var targets []*model.Document
	for _, d := range docs {
		if len(targets) == n {
			break
		}
		if d.IsOfficial() && !d.HasFullText() {
			targets = append(targets, d)
		}
	}
	if len(targets) == 0 {
		return 0
	}

	texts := make([]string, len(targets))
	var eg errgroup.Group
	eg.SetLimit(c.workers)
	for i, d := range targets {
		eg.Go(func() error {
			texts[i] = c.provider.FetchFullText(ctx, d.URL, c.fetchTimeout)
			return nil
		})
	}
	_ = eg.Wait()

	extracted := 0
	for i, d := range targets {
		if texts[i] == "" {
			continue
		}
		d.Content = texts[i]
		d.Snippet = model.Truncate(texts[i], SnippetLength)
		extracted++
	}

	logging.From(ctx).Debug("full text extracted",
		"requested", len(targets),
		"extracted", extracted,
	)
	return extracted
}

// EvaluateHierarchy asks the model to re-score docs. An unparseable answer
// keeps each document's deterministic tier with a neutral score. An error is
// returned only when the model call itself fails.
func (c *Classifier) EvaluateHierarchy(ctx context.Context, query string, docs []*model.Document) ([]Assessment, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if c.completer == nil {
		return nil, goerr.New("hierarchy evaluation requires a completer")
	}

	resp, err := c.completer.Complete(ctx, interfaces.CompletionRequest{
		SystemPrompt: buildHierarchySystemPrompt(),
		Messages: []interfaces.CompletionMessage{
			{Role: types.RoleUser, Content: buildHierarchyPrompt(query, docs)},
		},
		Temperature:      0.1,
		MaxTokens:        2000,
		StructuredOutput: true,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate source hierarchy", goerr.V("documents", len(docs)))
	}

	return c.parseHierarchy(ctx, resp, docs), nil
}

// Apply writes assessments back onto docs, matching by URL
func Apply(docs []*model.Document, assessments []Assessment) {
	byURL := make(map[string]Assessment, len(assessments))
	for _, a := range assessments {
		byURL[a.URL] = a
	}
	for _, d := range docs {
		if a, ok := byURL[d.URL]; ok {
			d.SetAuthority(a.SourceType, a.Score)
		}
	}
}

func normalizePatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
