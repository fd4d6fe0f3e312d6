package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/arturoeanton/go-repo-rag/internal/domain"
	"github.com/arturoeanton/go-repo-rag/internal/middleware"
	"github.com/arturoeanton/go-repo-rag/internal/port"
	"github.com/arturoeanton/go-repo-rag/internal/service"
)

// ProjectHandler handles project lifecycle and read endpoints.
type ProjectHandler struct {
	projects *service.ProjectService
	tracker  *JobTracker
}

// NewProjectHandler creates a new project handler.
func NewProjectHandler(projects *service.ProjectService, tracker *JobTracker) *ProjectHandler {
	return &ProjectHandler{projects: projects, tracker: tracker}
}

// Register sets up project routes on a protected group.
func (h *ProjectHandler) Register(api fiber.Router) {
	projects := api.Group("/projects")
	projects.Get("/", h.List)
	projects.Post("/", h.Create)
	projects.Post("/check-credits", h.CheckCredits)
	projects.Get("/:id", h.Get)
	projects.Post("/:id/index", h.Index)
	projects.Delete("/:id", h.Archive)
	projects.Delete("/:id/purge", h.Purge)
	projects.Get("/:id/commits", h.Commits)
	projects.Get("/:id/questions", h.Questions)
}

type createProjectRequest struct {
	Name        string `json:"name"`
	RepoURL     string `json:"repo_url"`
	Branch      string `json:"branch"`
	GithubToken string `json:"github_token"`
}

// List returns the current user's projects.
func (h *ProjectHandler) List(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	projects, err := h.projects.ListProjects(c.Context(), uc.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"projects": projects, "count": len(projects)})
}

// Get returns a single project.
func (h *ProjectHandler) Get(c fiber.Ctx) error {
	project, err := h.projects.GetProject(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, port.ErrProjectNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "project not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(project)
}

// CheckCredits reports how many credits indexing a repository would cost
// next to the user's balance.
func (h *ProjectHandler) CheckCredits(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var body createProjectRequest
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}

	check, err := h.projects.CheckCredits(c.Context(), uc.UserID, domain.RepositoryRef{
		URL:           body.RepoURL,
		DefaultBranch: body.Branch,
		Credential:    body.GithubToken,
	})
	if err != nil {
		return h.projectError(c, err)
	}

	return c.JSON(fiber.Map{
		"file_count":   check.FileCount,
		"user_credits": check.UserCredits,
	})
}

// Create registers a project after verifying the user can afford indexing
// its repository.
func (h *ProjectHandler) Create(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var body createProjectRequest
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}

	project, err := h.projects.CreateProject(c.Context(), uc.UserID, body.Name, domain.RepositoryRef{
		URL:           body.RepoURL,
		DefaultBranch: body.Branch,
		Credential:    body.GithubToken,
	})
	if err != nil {
		return h.projectError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(project)
}

// Index starts an asynchronous ingestion run and returns a job id the
// client can follow via the jobs SSE endpoint.
func (h *ProjectHandler) Index(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	projectID := c.Params("id")
	if _, err := h.projects.GetProject(c.Context(), projectID); err != nil {
		if errors.Is(err, port.ErrProjectNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "project not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	var body struct {
		GithubToken string `json:"github_token"`
	}
	_ = c.Bind().JSON(&body)

	jobID := uuid.NewString()
	h.tracker.CreateJob(jobID, projectID)

	go func() {
		ctx := context.Background()
		report, err := h.projects.RunIngestion(ctx, projectID, body.GithubToken, func(done, total int) {
			h.tracker.UpdateProgress(jobID, done, total)
		})
		if err != nil {
			slog.Error("ingestion job failed", "job_id", jobID, "project_id", projectID, "error", err)
			h.tracker.Fail(jobID, err.Error())
			return
		}
		h.tracker.Complete(jobID, len(report.Failed))
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "indexing started",
		"job_id":  jobID,
	})
}

// Archive soft-deletes a project.
func (h *ProjectHandler) Archive(c fiber.Ctx) error {
	if err := h.projects.Archive(c.Context(), c.Params("id")); err != nil {
		if errors.Is(err, port.ErrProjectNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "project not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"message": "project archived"})
}

// Purge permanently deletes a project and all its indexed data.
func (h *ProjectHandler) Purge(c fiber.Ctx) error {
	if err := h.projects.Delete(c.Context(), c.Params("id")); err != nil {
		if errors.Is(err, port.ErrProjectNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "project not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"message": "project deleted"})
}

// Commits returns stored commit summaries, kicking off a background
// refresh of the history.
func (h *ProjectHandler) Commits(c fiber.Ctx) error {
	commits, err := h.projects.GetCommits(c.Context(), c.Params("id"), c.Get("X-Github-Token"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"commits": commits, "count": len(commits)})
}

// Questions returns previously answered questions for a project.
func (h *ProjectHandler) Questions(c fiber.Ctx) error {
	questions, err := h.projects.ListQuestions(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"questions": questions, "count": len(questions)})
}

// projectError maps service errors to HTTP responses.
func (h *ProjectHandler) projectError(c fiber.Ctx, err error) error {
	var ve *port.ValidationError
	switch {
	case errors.As(err, &ve):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ve.Msg})
	case errors.Is(err, port.ErrInsufficientFund):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "insufficient credits"})
	case errors.Is(err, port.ErrRepoNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "repository not found"})
	case errors.Is(err, port.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
	case port.IsRateLimited(err):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limited, try again shortly"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}
