package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arturoeanton/go-repo-rag/internal/domain"
	"github.com/arturoeanton/go-repo-rag/internal/port"
)

// ProjectStore is the persistence surface the project lifecycle needs.
type ProjectStore interface {
	CreateProject(ctx context.Context, p *domain.Project) (*domain.Project, error)
	GetProjectByID(ctx context.Context, id string) (*domain.Project, error)
	ListProjectsByUser(ctx context.Context, userID string) ([]domain.Project, error)
	ArchiveProject(ctx context.Context, id string) error
	DeleteProjectCascade(ctx context.Context, id string) error
	SaveQuestion(ctx context.Context, q *domain.Question) (*domain.Question, error)
	ListQuestions(ctx context.Context, projectID string) ([]domain.Question, error)
	ListCommits(ctx context.Context, projectID string) ([]domain.Commit, error)
}

// RepositoryIngester runs the file ingestion pipeline.
type RepositoryIngester interface {
	IngestRepository(ctx context.Context, projectID string, ref domain.RepositoryRef, progress func(done, total int)) (*IngestReport, error)
}

// CommitIngester refreshes the stored commit history.
type CommitIngester interface {
	IngestRecentCommits(ctx context.Context, projectID, credential string) error
}

// FileCounter pre-flights the credit cost of indexing a repository.
type FileCounter interface {
	CountEligibleFiles(ctx context.Context, ref domain.RepositoryRef) (int, error)
}

// ProjectService owns the project lifecycle: creation with a credit
// pre-flight, the ingestion run that debits credits, archival and deletion,
// and the question/commit read paths.
type ProjectService struct {
	store    ProjectStore
	credits  port.CreditLedger
	counter  FileCounter
	ingester RepositoryIngester
	commits  CommitIngester
}

func NewProjectService(store ProjectStore, credits port.CreditLedger, counter FileCounter, ingester RepositoryIngester, commits CommitIngester) *ProjectService {
	return &ProjectService{
		store:    store,
		credits:  credits,
		counter:  counter,
		ingester: ingester,
		commits:  commits,
	}
}

// CreditCheck reports the cost of indexing a repository next to the user's
// balance, without creating anything.
type CreditCheck struct {
	FileCount   int
	UserCredits int
}

// CheckCredits counts the repository's eligible files and the user's
// remaining credits. One file costs one credit.
func (s *ProjectService) CheckCredits(ctx context.Context, userID string, ref domain.RepositoryRef) (*CreditCheck, error) {
	count, err := s.counter.CountEligibleFiles(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("count repository files: %w", err)
	}
	remaining, err := s.credits.Remaining(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read credits: %w", err)
	}
	return &CreditCheck{FileCount: count, UserCredits: remaining}, nil
}

// CreateProject verifies the user can afford the repository, then creates
// the project row. No credits are debited here; the debit happens after
// ingestion, for the files actually processed.
func (s *ProjectService) CreateProject(ctx context.Context, userID, name string, ref domain.RepositoryRef) (*domain.Project, error) {
	if name == "" {
		return nil, &port.ValidationError{Msg: "project name must not be empty"}
	}
	if _, _, err := ref.OwnerRepo(); err != nil {
		return nil, &port.ValidationError{Msg: err.Error()}
	}

	check, err := s.CheckCredits(ctx, userID, ref)
	if err != nil {
		return nil, err
	}
	if check.UserCredits < check.FileCount {
		return nil, fmt.Errorf("%d credits needed, %d available: %w", check.FileCount, check.UserCredits, port.ErrInsufficientFund)
	}

	project, err := s.store.CreateProject(ctx, &domain.Project{
		UserID:        userID,
		Name:          name,
		RepoURL:       ref.URL,
		DefaultBranch: ref.Branch(),
	})
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}

	slog.Info("project created", "project_id", project.ID, "user_id", userID, "repo", ref.URL)
	return project, nil
}

// RunIngestion executes the full indexing run for a project: files first,
// then recent commits, then the credit debit for the files processed.
func (s *ProjectService) RunIngestion(ctx context.Context, projectID, credential string, progress func(done, total int)) (*IngestReport, error) {
	project, err := s.store.GetProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	ref := domain.RepositoryRef{
		URL:           project.RepoURL,
		DefaultBranch: project.DefaultBranch,
		Credential:    credential,
	}

	report, err := s.ingester.IngestRepository(ctx, projectID, ref, progress)
	if err != nil {
		return nil, err
	}

	if err := s.commits.IngestRecentCommits(ctx, projectID, credential); err != nil {
		// Commit history is supplementary; a failure here does not void
		// the file index.
		slog.Error("commit ingestion failed", "project_id", projectID, "error", err)
	}

	if err := s.credits.Debit(ctx, project.UserID, report.Total); err != nil {
		return nil, fmt.Errorf("debit credits: %w", err)
	}

	return report, nil
}

func (s *ProjectService) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	return s.store.GetProjectByID(ctx, id)
}

func (s *ProjectService) ListProjects(ctx context.Context, userID string) ([]domain.Project, error) {
	return s.store.ListProjectsByUser(ctx, userID)
}

// Archive soft-deletes a project. Its indexed data stays in place.
func (s *ProjectService) Archive(ctx context.Context, id string) error {
	return s.store.ArchiveProject(ctx, id)
}

// Delete removes a project and all rows derived from it.
func (s *ProjectService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteProjectCascade(ctx, id); err != nil {
		return err
	}
	slog.Info("project deleted", "project_id", id)
	return nil
}

// GetCommits returns stored commit summaries, refreshing the history in
// the background so the next read sees new commits.
func (s *ProjectService) GetCommits(ctx context.Context, projectID, credential string) ([]domain.Commit, error) {
	go func() {
		ctx := context.Background()
		if err := s.commits.IngestRecentCommits(ctx, projectID, credential); err != nil {
			slog.Error("background commit refresh failed", "project_id", projectID, "error", err)
		}
	}()
	return s.store.ListCommits(ctx, projectID)
}

// SaveAnswer records an answered question for later retrieval.
func (s *ProjectService) SaveAnswer(ctx context.Context, q *domain.Question) (*domain.Question, error) {
	return s.store.SaveQuestion(ctx, q)
}

func (s *ProjectService) ListQuestions(ctx context.Context, projectID string) ([]domain.Question, error) {
	return s.store.ListQuestions(ctx, projectID)
}
