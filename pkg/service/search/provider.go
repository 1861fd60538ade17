package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/themis/pkg/domain/interfaces"
	"github.com/secmon-lab/themis/pkg/domain/model"
	"github.com/secmon-lab/themis/pkg/domain/types"
	"github.com/secmon-lab/themis/pkg/utils/logging"
	"github.com/secmon-lab/themis/pkg/utils/safe"
	"golang.org/x/time/rate"
)

// Provider searches the web through Serper and extracts page text through a
// Jina-style reader
type Provider struct {
	apiKey         string
	httpClient     *http.Client
	searchEndpoint string
	readerEndpoint string
	readerAPIKey   string
	country        string
	language       string
	jurisdiction   string
	limiter        *rate.Limiter
}

var _ interfaces.SourceProvider = &Provider{}

// New creates a Provider. apiKey is the Serper API key.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, goerr.New("search API key is required")
	}

	p := &Provider{
		apiKey:         apiKey,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		searchEndpoint: DefaultSearchEndpoint,
		readerEndpoint: DefaultReaderEndpoint,
		country:        "co",
		language:       "es",
		jurisdiction:   "Colombia",
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Search returns up to numResults ranked documents for query. Documents are not
// yet classified.
func (p *Provider) Search(ctx context.Context, query string, numResults int) ([]*model.Document, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(serperRequest{
		Q:   p.localize(query),
		Num: numResults,
		GL:  p.country,
		HL:  p.language,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode search request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.searchEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create search request")
	}
	req.Header.Set("X-API-KEY", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "search request failed", goerr.V("query", query))
	}
	defer safe.Close(ctx, resp.Body)

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, goerr.New("search API returned error status",
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(msg)),
			goerr.V("query", query))
	}

	var result serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, goerr.Wrap(err, "failed to decode search response", goerr.V("query", query))
	}

	docs := make([]*model.Document, 0, len(result.Organic))
	for _, r := range result.Organic {
		if r.Link == "" {
			continue
		}
		docs = append(docs, &model.Document{
			Title:      r.Title,
			URL:        r.Link,
			Snippet:    r.Snippet,
			SourceType: types.SourceTypeGeneral,
		})
	}

	logging.From(ctx).Debug("search completed", "query", query, "results", len(docs))
	return model.DedupDocuments(docs), nil
}

// FetchFullText returns the normalized text of url, or an empty string when the
// page cannot be fetched within timeout
func (p *Provider) FetchFullText(ctx context.Context, url string, timeout time.Duration) string {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := logging.From(ctx)

	if err := p.wait(ctx); err != nil {
		logger.Debug("reader call skipped", "url", url, "error", err)
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.readerEndpoint+url, nil)
	if err != nil {
		logger.Debug("failed to build reader request", "url", url, "error", err)
		return ""
	}
	req.Header.Set("Accept", "text/plain")
	if p.readerAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.readerAPIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		logger.Debug("reader request failed", "url", url, "error", err)
		return ""
	}
	defer safe.Close(ctx, resp.Body)

	if resp.StatusCode != http.StatusOK {
		logger.Debug("reader returned error status", "url", url, "status", resp.StatusCode)
		return ""
	}

	// read a bounded amount; normalization only shrinks the text
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		logger.Debug("failed to read reader response", "url", url, "error", err)
		return ""
	}

	return NormalizeText(string(raw), MaxContentLength)
}

func (p *Provider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return goerr.Wrap(err, "rate limiter wait aborted")
	}
	return nil
}

// localize appends the jurisdiction keyword unless the query already names it
func (p *Provider) localize(query string) string {
	if p.jurisdiction == "" || strings.Contains(strings.ToLower(query), strings.ToLower(p.jurisdiction)) {
		return query
	}
	return fmt.Sprintf("%s %s", query, p.jurisdiction)
}

var (
	manyNewlines = regexp.MustCompile(`\n{3,}`)
	manySpaces   = regexp.MustCompile(`[^\S\n]{2,}`)
)

// NormalizeText collapses blank-line runs and repeated spaces, trims, and caps
// the result at limit bytes without splitting a UTF-8 sequence
func NormalizeText(s string, limit int) string {
	s = manyNewlines.ReplaceAllString(s, "\n\n")
	s = manySpaces.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	if limit > 0 && len(s) > limit {
		cut := limit
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
