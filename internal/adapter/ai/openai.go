package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/arturoeanton/go-repo-rag/internal/port"
)

// OpenAIConfig configures an OpenAI-compatible endpoint. A custom BaseURL
// points the client at hosted compatibles such as Groq or OpenRouter.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string // empty = api.openai.com
	EmbeddingModel string
	ChatModel      string
}

// OpenAIProvider implements port.AIProvider against any OpenAI-compatible
// chat/embeddings API.
type OpenAIProvider struct {
	client         *openai.Client
	embeddingModel openai.EmbeddingModel
	chatModel      string
}

// NewOpenAIProvider creates the provider. The API key is required.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, &port.ConfigurationError{Msg: "openai provider: API key not configured"}
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:         openai.NewClientWithConfig(clientCfg),
		embeddingModel: openai.EmbeddingModel(cfg.EmbeddingModel),
		chatModel:      cfg.ChatModel,
	}, nil
}

// ModelName returns the completion model identifier.
func (p *OpenAIProvider) ModelName() string {
	return p.chatModel
}

// Embed generates a vector embedding for the given text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: p.embeddingModel,
	})
	if err != nil {
		return nil, classifyOpenAIError("embed", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embed: empty response")
	}
	return resp.Data[0].Embedding, nil
}

// Complete sends a system + user prompt and returns the full response.
func (p *OpenAIProvider) Complete(ctx context.Context, systemPrompt, userPrompt string, opts port.CompletionOptions) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.chatRequest(systemPrompt, userPrompt, opts, false))
	if err != nil {
		return "", classifyOpenAIError("complete", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai complete: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteStream sends a prompt and streams the response delta by delta.
func (p *OpenAIProvider) CompleteStream(ctx context.Context, systemPrompt, userPrompt string, opts port.CompletionOptions) (<-chan port.StreamDelta, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.chatRequest(systemPrompt, userPrompt, opts, true))
	if err != nil {
		return nil, classifyOpenAIError("stream", err)
	}

	ch := make(chan port.StreamDelta, 64)
	go func() {
		defer close(ch)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					ch <- port.StreamDelta{Err: classifyOpenAIError("stream", err)}
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				select {
				case ch <- port.StreamDelta{Content: delta}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}

func (p *OpenAIProvider) chatRequest(systemPrompt, userPrompt string, opts port.CompletionOptions, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: p.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      stream,
	}
}

// classifyOpenAIError maps SDK errors onto the shared taxonomy.
func classifyOpenAIError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return &port.RateLimitError{Provider: "openai"}
		case apiErr.HTTPStatusCode >= 500:
			return &port.TransientError{Err: fmt.Errorf("openai %s: %w", op, err)}
		case apiErr.HTTPStatusCode == http.StatusUnauthorized:
			return &port.ConfigurationError{Msg: fmt.Sprintf("openai %s: invalid API key", op)}
		}
		return fmt.Errorf("openai %s: %w", op, err)
	}
	return &port.TransientError{Err: fmt.Errorf("openai %s: %w", op, err)}
}
