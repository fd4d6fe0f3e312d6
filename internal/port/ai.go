package port

import "context"

// CompletionOptions tunes a single completion request.
type CompletionOptions struct {
	Temperature float32
	MaxTokens   int
}

// StreamDelta is one fragment of a streamed completion. Err is non-nil only
// for the final delta of a stream that failed mid-flight; the channel is
// closed immediately after.
type StreamDelta struct {
	Content string
	Err     error
}

// AIProvider abstracts an AI/LLM backend for embeddings and completions.
// Implementations can target Ollama, OpenAI, Groq, or any compatible API.
type AIProvider interface {
	// ModelName returns the identifier of the completion model being used.
	ModelName() string

	// Embed generates a fixed-dimension vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Complete sends a system + user prompt and returns the full response.
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts CompletionOptions) (string, error)

	// CompleteStream sends a prompt and streams the response fragment by
	// fragment. The returned channel is closed when the stream ends.
	CompleteStream(ctx context.Context, systemPrompt, userPrompt string, opts CompletionOptions) (<-chan StreamDelta, error)
}
