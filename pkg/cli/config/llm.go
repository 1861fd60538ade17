package config

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem/llm/gemini"
	"github.com/secmon-lab/themis/pkg/domain/interfaces"
	"github.com/secmon-lab/themis/pkg/service/llm"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"
)

// LLM backends
const (
	LLMBackendGemini     = "gemini"
	LLMBackendOpenRouter = "openrouter"
)

// LLM holds configuration for the completion backend
type LLM struct {
	backend string

	geminiProject  string
	geminiLocation string

	openRouterKey   string
	openRouterModel string
	openRouterURL   string

	rateLimit float64
	rateBurst int
}

// Flags returns CLI flags for LLM configuration
func (x *LLM) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm-backend",
			Category:    "LLM",
			Usage:       "Completion backend [gemini|openrouter]",
			Value:       LLMBackendGemini,
			Sources:     cli.EnvVars("THEMIS_LLM_BACKEND"),
			Destination: &x.backend,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Category:    "LLM",
			Usage:       "Google Cloud project ID for Gemini API",
			Sources:     cli.EnvVars("THEMIS_GEMINI_PROJECT"),
			Destination: &x.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Category:    "LLM",
			Usage:       "Google Cloud location for Gemini API",
			Value:       "us-central1",
			Sources:     cli.EnvVars("THEMIS_GEMINI_LOCATION"),
			Destination: &x.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "openrouter-api-key",
			Category:    "LLM",
			Usage:       "OpenRouter API key",
			Sources:     cli.EnvVars("THEMIS_OPENROUTER_API_KEY"),
			Destination: &x.openRouterKey,
		},
		&cli.StringFlag{
			Name:        "openrouter-model",
			Category:    "LLM",
			Usage:       "Model name requested from OpenRouter",
			Value:       llm.DefaultOpenRouterModel,
			Sources:     cli.EnvVars("THEMIS_OPENROUTER_MODEL"),
			Destination: &x.openRouterModel,
		},
		&cli.StringFlag{
			Name:        "openrouter-base-url",
			Category:    "LLM",
			Usage:       "OpenAI-compatible API endpoint",
			Value:       llm.OpenRouterBaseURL,
			Sources:     cli.EnvVars("THEMIS_OPENROUTER_BASE_URL"),
			Destination: &x.openRouterURL,
		},
		&cli.FloatFlag{
			Name:        "llm-rate-limit",
			Category:    "LLM",
			Usage:       "Maximum completion calls per second (0 disables throttling)",
			Value:       2,
			Sources:     cli.EnvVars("THEMIS_LLM_RATE_LIMIT"),
			Destination: &x.rateLimit,
		},
		&cli.IntFlag{
			Name:        "llm-rate-burst",
			Category:    "LLM",
			Usage:       "Burst size of the completion rate limiter",
			Value:       4,
			Sources:     cli.EnvVars("THEMIS_LLM_RATE_BURST"),
			Destination: &x.rateBurst,
		},
	}
}

type llmLog struct {
	Backend  string
	Project  string
	Location string
	Model    string
	BaseURL  string
	APIKey   string `masq:"secret"`
}

// LogAttrs returns log attributes for the LLM configuration. The API key is
// redacted by the log handler.
func (x *LLM) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.Any("llm", llmLog{
			Backend:  x.backend,
			Project:  x.geminiProject,
			Location: x.geminiLocation,
			Model:    x.openRouterModel,
			BaseURL:  x.openRouterURL,
			APIKey:   x.openRouterKey,
		}),
		slog.Float64("rate_limit", x.rateLimit),
	}
}

// Limiter returns the completion rate limiter, or nil when throttling is off
func (x *LLM) Limiter() *rate.Limiter {
	if x.rateLimit <= 0 {
		return nil
	}
	burst := max(x.rateBurst, 1)
	return rate.NewLimiter(rate.Limit(x.rateLimit), burst)
}

// Configure creates the completer and, when the backend supports it, an
// embedder for cache matching. The embedder may be nil.
func (x *LLM) Configure(ctx context.Context) (interfaces.Completer, interfaces.Embedder, error) {
	var (
		completer interfaces.Completer
		embedder  interfaces.Embedder
	)

	switch x.backend {
	case LLMBackendGemini:
		if x.geminiProject == "" {
			return nil, nil, goerr.Wrap(ErrInvalidConfig, "gemini-project is required for the gemini backend")
		}
		client, err := gemini.New(ctx, x.geminiProject, x.geminiLocation)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create Gemini client")
		}
		if completer, err = llm.NewGollem(client); err != nil {
			return nil, nil, err
		}
		if embedder, err = llm.NewGollemEmbedder(client); err != nil {
			return nil, nil, err
		}

	case LLMBackendOpenRouter:
		if x.openRouterKey == "" {
			return nil, nil, goerr.Wrap(ErrMissingAPIKey, "openrouter-api-key is required for the openrouter backend")
		}
		c, err := llm.NewOpenRouter(x.openRouterKey,
			llm.WithModel(x.openRouterModel),
			llm.WithBaseURL(x.openRouterURL),
		)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create OpenRouter client")
		}
		completer = c

	default:
		return nil, nil, goerr.Wrap(ErrUnknownBackend, "invalid LLM backend", goerr.V(BackendKey, x.backend))
	}

	completer = llm.WithRateLimit(llm.WithMetrics(completer, x.backend), x.Limiter())
	return completer, embedder, nil
}
