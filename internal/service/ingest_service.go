package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arturoeanton/go-repo-rag/internal/domain"
	"github.com/arturoeanton/go-repo-rag/internal/metrics"
	"github.com/arturoeanton/go-repo-rag/internal/port"
	"github.com/arturoeanton/go-repo-rag/internal/ratelimit"
)

const summarySystemPrompt = "You are an expert software engineer."

// EmbeddingWriter persists file embeddings in two phases: the scalar row
// first, the vector once the embedding call has succeeded.
type EmbeddingWriter interface {
	InsertEmbedding(ctx context.Context, e domain.SourceCodeEmbedding) (string, error)
	SetVector(ctx context.Context, id string, vector []float32) error
}

// FileFailure records a single file that could not be ingested.
type FileFailure struct {
	FileName string
	Reason   string
}

// IngestReport summarizes one ingestion run.
type IngestReport struct {
	Total     int
	Succeeded int
	Failed    []FileFailure
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	Workers        int           // concurrent files in flight
	MaxPromptChars int           // file content truncation for the summary prompt
	CallTimeout    time.Duration // per provider call
}

// IngestService turns repository files into summarized, embedded rows.
// One failing file never aborts the run; it is recorded in the report and
// the pipeline moves on.
type IngestService struct {
	crawler    *CrawlerService
	provider   port.AIProvider
	sumExec    *ratelimit.Executor
	embedExec  *ratelimit.Executor
	writer     EmbeddingWriter
	cache      *summaryCache
	workers    int
	maxPrompt  int
	callTimeout time.Duration
}

func NewIngestService(crawler *CrawlerService, provider port.AIProvider, sumExec, embedExec *ratelimit.Executor, writer EmbeddingWriter, cfg IngestConfig) *IngestService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 3
	}
	maxPrompt := cfg.MaxPromptChars
	if maxPrompt <= 0 {
		maxPrompt = 10000
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &IngestService{
		crawler:    crawler,
		provider:   provider,
		sumExec:    sumExec,
		embedExec:  embedExec,
		writer:     writer,
		cache:      newSummaryCache(),
		workers:    workers,
		maxPrompt:  maxPrompt,
		callTimeout: timeout,
	}
}

// IngestRepository loads, summarizes, embeds and persists every eligible
// file of the repository. progress, if non-nil, is invoked after each file
// settles (success or failure).
func (s *IngestService) IngestRepository(ctx context.Context, projectID string, ref domain.RepositoryRef, progress func(done, total int)) (*IngestReport, error) {
	docs, err := s.crawler.LoadFiles(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load repository: %w", err)
	}

	report := &IngestReport{Total: len(docs)}
	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, doc := range docs {
		g.Go(func() error {
			err := s.ingestFile(gctx, projectID, doc)

			mu.Lock()
			done++
			if err != nil {
				slog.Error("file ingestion failed", "project_id", projectID, "file", doc.Path, "error", err)
				metrics.FileFailed()
				report.Failed = append(report.Failed, FileFailure{FileName: doc.Path, Reason: err.Error()})
			} else {
				metrics.FileIngested()
				report.Succeeded++
			}
			current, total := done, report.Total
			mu.Unlock()

			if progress != nil {
				progress(current, total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("repository ingested",
		"project_id", projectID,
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", len(report.Failed))
	return report, nil
}

// ingestFile runs the full per-file pipeline. The scalar row is written
// before the embedding call so a later embed failure leaves the summary
// persisted, just unsearchable until re-indexed.
func (s *IngestService) ingestFile(ctx context.Context, projectID string, doc domain.FileDocument) error {
	summary, err := s.summarize(ctx, doc)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	id, err := s.writer.InsertEmbedding(ctx, domain.SourceCodeEmbedding{
		ProjectID:  projectID,
		FileName:   doc.Path,
		SourceCode: doc.Content,
		Summary:    summary,
	})
	if err != nil {
		return fmt.Errorf("persist: %w", err)
	}

	vector, err := ratelimit.Do(ctx, s.embedExec, func(ctx context.Context) ([]float32, error) {
		ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
		return s.provider.Embed(ctx, summary)
	})
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	if err := s.writer.SetVector(ctx, id, vector); err != nil {
		return fmt.Errorf("store vector: %w", err)
	}
	return nil
}

// summarize produces (or re-uses) the natural language summary of a file.
// Identical content across paths shares a single generation.
func (s *IngestService) summarize(ctx context.Context, doc domain.FileDocument) (string, error) {
	return s.cache.get(doc.Content, func() (string, error) {
		content := doc.Content
		if len(content) > s.maxPrompt {
			content = content[:s.maxPrompt]
		}
		prompt := fmt.Sprintf("You are onboarding a junior engineer. Explain what the following file does: %s\n\nCode:\n%s\n\nKeep the summary under 100 words.", doc.Path, content)

		return ratelimit.Do(ctx, s.sumExec, func(ctx context.Context) (string, error) {
			ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
			defer cancel()
			return s.provider.Complete(ctx, summarySystemPrompt, prompt, port.CompletionOptions{
				Temperature: 0.2,
				MaxTokens:   300,
			})
		})
	})
}
