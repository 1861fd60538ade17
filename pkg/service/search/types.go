package search

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultSearchEndpoint is the Serper web search API
	DefaultSearchEndpoint = "https://google.serper.dev/search"
	// DefaultReaderEndpoint is the Jina reader that renders a page as plain text
	DefaultReaderEndpoint = "https://r.jina.ai/"
	// DefaultFetchTimeout bounds a single full-text extraction
	DefaultFetchTimeout = 15 * time.Second
	// MaxContentLength caps extracted full text
	MaxContentLength = 3000
	// SnippetFromContentLength is how much extracted text replaces the snippet
	SnippetFromContentLength = 500
)

// Option configures a Provider
type Option func(*Provider)

// WithHTTPClient replaces the HTTP client used for both search and extraction
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// WithSearchEndpoint overrides the search API URL
func WithSearchEndpoint(url string) Option {
	return func(p *Provider) {
		p.searchEndpoint = url
	}
}

// WithReaderEndpoint overrides the reader URL prefix. The page URL is appended.
func WithReaderEndpoint(url string) Option {
	return func(p *Provider) {
		p.readerEndpoint = url
	}
}

// WithReaderAPIKey authenticates reader calls for a higher quota
func WithReaderAPIKey(key string) Option {
	return func(p *Provider) {
		p.readerAPIKey = key
	}
}

// WithLocale sets the country and language of search results
func WithLocale(country, language string) Option {
	return func(p *Provider) {
		p.country = country
		p.language = language
	}
}

// WithJurisdiction sets the keyword appended to queries that do not mention it
func WithJurisdiction(keyword string) Option {
	return func(p *Provider) {
		p.jurisdiction = keyword
	}
}

// WithRateLimit throttles outbound calls
func WithRateLimit(limiter *rate.Limiter) Option {
	return func(p *Provider) {
		p.limiter = limiter
	}
}

// serperRequest is the body of a Serper search call
type serperRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
	GL  string `json:"gl,omitempty"`
	HL  string `json:"hl,omitempty"`
}

// serperResponse holds the parts of the Serper response that are used
type serperResponse struct {
	Organic []serperResult `json:"organic"`
}

type serperResult struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Position int    `json:"position"`
}
