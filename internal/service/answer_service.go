package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arturoeanton/go-repo-rag/internal/domain"
	"github.com/arturoeanton/go-repo-rag/internal/metrics"
	"github.com/arturoeanton/go-repo-rag/internal/port"
	"github.com/arturoeanton/go-repo-rag/internal/ratelimit"
)

const (
	noRelevantFilesMessage = "No relevant code files found for this question in the project."
	rateLimitedMessage     = "Rate limit reached. Please try again in a few moments."
	streamFailedMessage    = "Something went wrong while streaming the response. Please try again."

	answerSystemPrompt = "You are a precise AI assistant that answers questions about a codebase."
)

// SimilaritySearcher retrieves the files most similar to a query vector.
type SimilaritySearcher interface {
	SearchSimilar(ctx context.Context, projectID string, queryVector []float32, limit int) ([]domain.SimilarFile, error)
}

// Answer is a streamed response plus the source files it was grounded on.
// Output delivers the answer incrementally and is closed when the stream
// ends, for any reason.
type Answer struct {
	Output     <-chan string
	References []domain.SimilarFile
}

// AnswerConfig tunes retrieval and generation.
type AnswerConfig struct {
	TopK            int           // retrieved files per question
	MaxAnswerTokens int           // generation budget
	CallTimeout     time.Duration // embedding call timeout
	StreamBuffer    int           // output channel capacity
}

// AnswerService answers questions about a project's code by retrieving the
// most relevant indexed files and streaming a grounded completion.
type AnswerService struct {
	provider     port.AIProvider
	searcher     SimilaritySearcher
	embedExec    *ratelimit.Executor
	chatExec     *ratelimit.Executor
	chatLimiter  *ratelimit.Limiter
	topK         int
	maxTokens    int
	callTimeout  time.Duration
	streamBuffer int
}

func NewAnswerService(provider port.AIProvider, searcher SimilaritySearcher, embedExec, chatExec *ratelimit.Executor, chatLimiter *ratelimit.Limiter, cfg AnswerConfig) *AnswerService {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 10
	}
	maxTokens := cfg.MaxAnswerTokens
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	buffer := cfg.StreamBuffer
	if buffer <= 0 {
		buffer = 64
	}
	return &AnswerService{
		provider:     provider,
		searcher:     searcher,
		embedExec:    embedExec,
		chatExec:     chatExec,
		chatLimiter:  chatLimiter,
		topK:         topK,
		maxTokens:    maxTokens,
		callTimeout:  timeout,
		streamBuffer: buffer,
	}
}

// AskQuestion runs the retrieval pipeline and starts streaming an answer.
// When no indexed file is relevant, the stream carries a single fixed
// message and no generation call is made. Cancelling ctx stops the
// producer goroutine.
func (s *AnswerService) AskQuestion(ctx context.Context, projectID, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, &port.ValidationError{Msg: "question must not be empty"}
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, &port.ValidationError{Msg: "project id must not be empty"}
	}

	queryVector, err := ratelimit.Do(ctx, s.embedExec, func(ctx context.Context) ([]float32, error) {
		ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
		return s.provider.Embed(ctx, question)
	})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	records, err := s.searcher.SearchSimilar(ctx, projectID, queryVector, s.topK)
	if err != nil {
		return nil, fmt.Errorf("search similar files: %w", err)
	}
	if len(records) == 0 {
		return &Answer{Output: terminal(noRelevantFilesMessage)}, nil
	}

	prompt := buildAnswerPrompt(question, records)
	if err := s.chatLimiter.Wait(ctx, estimateTokens(prompt)); err != nil {
		return nil, err
	}

	deltas, err := ratelimit.Do(ctx, s.chatExec, func(ctx context.Context) (<-chan port.StreamDelta, error) {
		return s.provider.CompleteStream(ctx, answerSystemPrompt, prompt, port.CompletionOptions{
			Temperature: 0.1,
			MaxTokens:   s.maxTokens,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("start answer stream: %w", err)
	}

	out := make(chan string, s.streamBuffer)
	go s.pump(ctx, deltas, out)

	metrics.AnswerStreamed()
	return &Answer{Output: out, References: records}, nil
}

// pump forwards stream deltas to the consumer. A mid-stream provider error
// is replaced by a user-facing message; the channel is always closed.
func (s *AnswerService) pump(ctx context.Context, deltas <-chan port.StreamDelta, out chan<- string) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case delta, ok := <-deltas:
			if !ok {
				return
			}
			if delta.Err != nil {
				slog.Error("answer stream failed", "error", delta.Err)
				msg := streamFailedMessage
				if port.IsRateLimited(delta.Err) {
					msg = rateLimitedMessage
				}
				select {
				case out <- msg:
				case <-ctx.Done():
				}
				return
			}
			select {
			case out <- delta.Content:
			case <-ctx.Done():
				return
			}
		}
	}
}

func buildAnswerPrompt(question string, records []domain.SimilarFile) string {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "source: %s\ncode content: %s\nsummary of file: %s\n", r.FileName, r.SourceCode, r.Summary)
	}

	return fmt.Sprintf(`You are answering a question about a codebase. Use only the context below.

START CONTEXT BLOCK
%s
END CONTEXT BLOCK

Question: %s

Instructions:
- Answer strictly from the context block above.
- If the context does not contain the answer, say "I am sorry, but I don't know the answer."
- Format the answer in markdown and include code snippets where helpful.`, b.String(), question)
}

// terminal returns a closed single-message stream.
func terminal(msg string) <-chan string {
	ch := make(chan string, 1)
	ch <- msg
	close(ch)
	return ch
}

// estimateTokens approximates the token cost of a prompt.
func estimateTokens(text string) int {
	return len(text) / 4
}
