package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arturoeanton/go-repo-rag/internal/domain"
	"github.com/arturoeanton/go-repo-rag/internal/metrics"
	"github.com/arturoeanton/go-repo-rag/internal/port"
	"github.com/arturoeanton/go-repo-rag/internal/ratelimit"
)

// CommitStore persists commit summaries and reports which hashes are
// already known for a project.
type CommitStore interface {
	ListCommitHashes(ctx context.Context, projectID string) ([]string, error)
	BulkInsertCommits(ctx context.Context, commits []domain.Commit) error
}

// ProjectReader resolves a project to its repository reference.
type ProjectReader interface {
	GetProjectByID(ctx context.Context, id string) (*domain.Project, error)
}

// CommitConfig tunes the commit summarization pipeline.
type CommitConfig struct {
	MaxCommits  int           // newest commits considered per run
	Workers     int           // concurrent summarizations
	CallTimeout time.Duration // per provider call
}

// CommitService summarizes the recent history of a project's repository.
// Runs are idempotent: hashes already stored are filtered out before any
// diff is fetched.
type CommitService struct {
	hosting     port.HostingProvider
	provider    port.AIProvider
	hostExec    *ratelimit.Executor
	diffExec    *ratelimit.Executor
	store       CommitStore
	projects    ProjectReader
	maxCommits  int
	workers     int
	callTimeout time.Duration
}

func NewCommitService(hosting port.HostingProvider, provider port.AIProvider, hostExec, diffExec *ratelimit.Executor, store CommitStore, projects ProjectReader, cfg CommitConfig) *CommitService {
	maxCommits := cfg.MaxCommits
	if maxCommits <= 0 {
		maxCommits = 10
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 3
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CommitService{
		hosting:     hosting,
		provider:    provider,
		hostExec:    hostExec,
		diffExec:    diffExec,
		store:       store,
		projects:    projects,
		maxCommits:  maxCommits,
		workers:     workers,
		callTimeout: timeout,
	}
}

// IngestRecentCommits fetches the newest commits, summarizes the ones not
// yet stored and persists them in one batch.
func (s *CommitService) IngestRecentCommits(ctx context.Context, projectID, credential string) error {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("resolve project: %w", err)
	}
	ref := domain.RepositoryRef{
		URL:           project.RepoURL,
		DefaultBranch: project.DefaultBranch,
		Credential:    credential,
	}

	metas, err := ratelimit.Do(ctx, s.hostExec, func(ctx context.Context) ([]port.CommitMeta, error) {
		return s.hosting.ListCommits(ctx, ref)
	})
	if err != nil {
		return fmt.Errorf("list commits: %w", err)
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].AuthorDate.After(metas[j].AuthorDate) })
	if len(metas) > s.maxCommits {
		metas = metas[:s.maxCommits]
	}

	stored, err := s.store.ListCommitHashes(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list stored hashes: %w", err)
	}
	known := make(map[string]struct{}, len(stored))
	for _, h := range stored {
		known[h] = struct{}{}
	}

	var fresh []port.CommitMeta
	for _, m := range metas {
		if _, ok := known[m.Hash]; !ok {
			fresh = append(fresh, m)
		}
	}
	if len(fresh) == 0 {
		slog.Info("no new commits", "project_id", projectID)
		return nil
	}

	var (
		mu      sync.Mutex
		commits []domain.Commit
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, meta := range fresh {
		g.Go(func() error {
			summary, err := s.summarizeCommit(gctx, ref, meta.Hash)
			if err != nil {
				slog.Error("commit summarization failed", "project_id", projectID, "hash", meta.Hash, "error", err)
				summary = fmt.Sprintf("could not summarize commit %s", meta.Hash)
			}

			mu.Lock()
			commits = append(commits, domain.Commit{
				ProjectID:          projectID,
				CommitHash:         meta.Hash,
				CommitMessage:      meta.Message,
				CommitAuthorName:   meta.AuthorName,
				CommitAuthorAvatar: meta.AuthorAvatar,
				CommitDate:         meta.AuthorDate,
				Summary:            summary,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := s.store.BulkInsertCommits(ctx, commits); err != nil {
		return fmt.Errorf("persist commits: %w", err)
	}

	metrics.CommitsIngested(len(commits))
	slog.Info("commits ingested", "project_id", projectID, "count", len(commits))
	return nil
}

func (s *CommitService) summarizeCommit(ctx context.Context, ref domain.RepositoryRef, hash string) (string, error) {
	diff, err := ratelimit.Do(ctx, s.hostExec, func(ctx context.Context) (string, error) {
		return s.hosting.GetCommitDiff(ctx, ref, hash)
	})
	if err != nil {
		return "", fmt.Errorf("fetch diff: %w", err)
	}
	if strings.TrimSpace(diff) == "" {
		return "No changes to summarize.", nil
	}

	prompt := "Summarize the following Git diff in bullet points. Mention changed files and functions. Keep it under 100 words:\n\n" + diff
	return ratelimit.Do(ctx, s.diffExec, func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
		return s.provider.Complete(ctx, summarySystemPrompt, prompt, port.CompletionOptions{
			Temperature: 0.2,
			MaxTokens:   300,
		})
	})
}
