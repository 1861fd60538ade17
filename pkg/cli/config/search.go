package config

import (
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/themis/pkg/service/search"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"
)

// Search holds configuration for the web search and page reader provider
type Search struct {
	apiKey         string
	searchEndpoint string
	readerEndpoint string
	readerAPIKey   string
	jurisdiction   string
	rateLimit      float64
}

// Flags returns CLI flags for search configuration
func (x *Search) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "serper-api-key",
			Category:    "Search",
			Usage:       "Serper API key",
			Sources:     cli.EnvVars("THEMIS_SERPER_API_KEY"),
			Destination: &x.apiKey,
		},
		&cli.StringFlag{
			Name:        "search-endpoint",
			Category:    "Search",
			Usage:       "Web search API URL",
			Value:       search.DefaultSearchEndpoint,
			Sources:     cli.EnvVars("THEMIS_SEARCH_ENDPOINT"),
			Destination: &x.searchEndpoint,
		},
		&cli.StringFlag{
			Name:        "reader-endpoint",
			Category:    "Search",
			Usage:       "Reader URL prefix used for full-text extraction",
			Value:       search.DefaultReaderEndpoint,
			Sources:     cli.EnvVars("THEMIS_READER_ENDPOINT"),
			Destination: &x.readerEndpoint,
		},
		&cli.StringFlag{
			Name:        "reader-api-key",
			Category:    "Search",
			Usage:       "Reader API key (optional)",
			Sources:     cli.EnvVars("THEMIS_READER_API_KEY"),
			Destination: &x.readerAPIKey,
		},
		&cli.StringFlag{
			Name:        "search-jurisdiction",
			Category:    "Search",
			Usage:       "Keyword appended to queries that do not name the jurisdiction",
			Value:       "Colombia",
			Sources:     cli.EnvVars("THEMIS_SEARCH_JURISDICTION"),
			Destination: &x.jurisdiction,
		},
		&cli.FloatFlag{
			Name:        "search-rate-limit",
			Category:    "Search",
			Usage:       "Maximum search and reader calls per second (0 disables throttling)",
			Value:       5,
			Sources:     cli.EnvVars("THEMIS_SEARCH_RATE_LIMIT"),
			Destination: &x.rateLimit,
		},
	}
}

type searchLog struct {
	SearchEndpoint string
	ReaderEndpoint string
	Jurisdiction   string
	APIKey         string `masq:"secret"`
	ReaderAPIKey   string `masq:"secret"`
}

// LogAttrs returns log attributes for the search configuration
func (x *Search) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.Any("search", searchLog{
			SearchEndpoint: x.searchEndpoint,
			ReaderEndpoint: x.readerEndpoint,
			Jurisdiction:   x.jurisdiction,
			APIKey:         x.apiKey,
			ReaderAPIKey:   x.readerAPIKey,
		}),
		slog.Float64("rate_limit", x.rateLimit),
	}
}

// Configure creates the search provider for the given result locale
func (x *Search) Configure(country, language string) (*search.Provider, error) {
	if x.apiKey == "" {
		return nil, goerr.Wrap(ErrMissingAPIKey, "serper-api-key is required")
	}

	opts := []search.Option{
		search.WithSearchEndpoint(x.searchEndpoint),
		search.WithReaderEndpoint(x.readerEndpoint),
		search.WithLocale(country, language),
		search.WithJurisdiction(x.jurisdiction),
	}
	if x.readerAPIKey != "" {
		opts = append(opts, search.WithReaderAPIKey(x.readerAPIKey))
	}
	if x.rateLimit > 0 {
		opts = append(opts, search.WithRateLimit(rate.NewLimiter(rate.Limit(x.rateLimit), 1)))
	}

	return search.New(x.apiKey, opts...)
}
