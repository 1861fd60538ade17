package llm

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/sashabaranov/go-openai"
	"github.com/secmon-lab/themis/pkg/domain/interfaces"
	"github.com/secmon-lab/themis/pkg/domain/types"
)

const (
	// OpenRouterBaseURL is the OpenAI-compatible endpoint of OpenRouter
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	// DefaultOpenRouterModel is the research model used when none is configured
	DefaultOpenRouterModel = "alibaba/tongyi-deepresearch-30b-a3b"
)

type openRouterCompleter struct {
	client *openai.Client
	model  string
}

// OpenRouterOption configures the OpenRouter completer
type OpenRouterOption func(*openai.ClientConfig, *openRouterCompleter)

// WithModel overrides the model name
func WithModel(model string) OpenRouterOption {
	return func(_ *openai.ClientConfig, c *openRouterCompleter) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL overrides the API endpoint, e.g. for a self-hosted gateway or tests
func WithBaseURL(url string) OpenRouterOption {
	return func(cfg *openai.ClientConfig, _ *openRouterCompleter) {
		if url != "" {
			cfg.BaseURL = url
		}
	}
}

// NewOpenRouter creates a Completer that talks to any OpenAI-compatible API,
// OpenRouter by default
func NewOpenRouter(apiKey string, opts ...OpenRouterOption) (interfaces.Completer, error) {
	if apiKey == "" {
		return nil, goerr.New("OpenRouter API key is required")
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = OpenRouterBaseURL

	c := &openRouterCompleter{model: DefaultOpenRouterModel}
	for _, opt := range opts {
		opt(&cfg, c)
	}
	c.client = openai.NewClientWithConfig(cfg)

	return c, nil
}

func (c *openRouterCompleter) Complete(ctx context.Context, req interfaces.CompletionRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == types.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxCompletionTokens = req.MaxTokens
	}
	if req.StructuredOutput {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", goerr.Wrap(err, "OpenRouter API call failed", goerr.V("model", c.model))
	}
	if len(resp.Choices) == 0 {
		return "", goerr.New("OpenRouter returned no choices", goerr.V("model", c.model))
	}

	return resp.Choices[0].Message.Content, nil
}
