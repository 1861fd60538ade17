package llm

import (
	"context"
	"math"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
	"github.com/secmon-lab/themis/pkg/domain/interfaces"
)

// gollemCompleter adapts a gollem LLM client to the Completer interface
type gollemCompleter struct {
	client gollem.LLMClient
}

// NewGollem creates a Completer backed by a gollem client (Gemini in production)
func NewGollem(client gollem.LLMClient) (interfaces.Completer, error) {
	if client == nil {
		return nil, goerr.New("LLM client is required")
	}
	return &gollemCompleter{client: client}, nil
}

// Complete runs one stateless session. Temperature and MaxTokens apply to this
// call only; zero values keep the client defaults.
func (c *gollemCompleter) Complete(ctx context.Context, req interfaces.CompletionRequest) (string, error) {
	var opts []gollem.SessionOption
	if req.SystemPrompt != "" {
		opts = append(opts, gollem.WithSessionSystemPrompt(req.SystemPrompt))
	}
	if req.StructuredOutput {
		opts = append(opts, gollem.WithSessionContentType(gollem.ContentTypeJSON))
	}

	session, err := c.client.NewSession(ctx, opts...)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create LLM session")
	}

	resp, err := session.Generate(ctx, []gollem.Input{gollem.Text(renderMessages(req.Messages))}, generateOptions(req)...)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content from LLM")
	}
	if resp == nil || len(resp.Texts) == 0 {
		return "", goerr.New("empty response from LLM")
	}

	return strings.Join(resp.Texts, ""), nil
}

func generateOptions(req interfaces.CompletionRequest) []gollem.GenerateOption {
	var opts []gollem.GenerateOption
	if req.Temperature > 0 {
		// float32 -> float64 without carrying float32 rounding noise (0.1 stays 0.1)
		t := math.Round(float64(req.Temperature)*1000) / 1000
		opts = append(opts, gollem.WithTemperature(t))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, gollem.WithMaxTokens(req.MaxTokens))
	}
	return opts
}

// renderMessages flattens a multi-turn request into one prompt. A single user
// message is passed through unchanged.
func renderMessages(msgs []interfaces.CompletionMessage) string {
	if len(msgs) == 1 {
		return msgs[0].Content
	}

	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("[")
		sb.WriteString(m.Role.String())
		sb.WriteString("]\n")
		sb.WriteString(m.Content)
	}
	return sb.String()
}

// EmbeddingDimension is the vector size requested from the embedding model
const EmbeddingDimension = 256

type gollemEmbedder struct {
	client    gollem.LLMClient
	dimension int
}

// NewGollemEmbedder creates an Embedder backed by a gollem client
func NewGollemEmbedder(client gollem.LLMClient) (interfaces.Embedder, error) {
	if client == nil {
		return nil, goerr.New("LLM client is required")
	}
	return &gollemEmbedder{client: client, dimension: EmbeddingDimension}, nil
}

func (e *gollemEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	embeddings, err := e.client.GenerateEmbedding(ctx, e.dimension, []string{text})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate embedding")
	}
	if len(embeddings) == 0 {
		return nil, goerr.New("no embedding returned")
	}
	return embeddings[0], nil
}
