package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-repo-rag/internal/domain"
	"github.com/arturoeanton/go-repo-rag/internal/middleware"
	"github.com/arturoeanton/go-repo-rag/internal/port"
	"github.com/arturoeanton/go-repo-rag/internal/service"
)

// AnswerHandler streams grounded answers about a project's codebase.
type AnswerHandler struct {
	answers  *service.AnswerService
	projects *service.ProjectService
}

// NewAnswerHandler creates a new answer handler.
func NewAnswerHandler(answers *service.AnswerService, projects *service.ProjectService) *AnswerHandler {
	return &AnswerHandler{answers: answers, projects: projects}
}

// Register sets up question routes.
func (h *AnswerHandler) Register(api fiber.Router) {
	api.Post("/projects/:id/ask", h.Ask)
}

// Ask answers a question about a project via Server-Sent Events. The
// references go out first, then the answer streams as delta events, and a
// final done event carries the saved question id.
func (h *AnswerHandler) Ask(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	projectID := c.Params("id")

	var body struct {
		Question string `json:"question"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithCancel(c.Context())
	answer, err := h.answers.AskQuestion(ctx, projectID, body.Question)
	if err != nil {
		cancel()
		return h.askError(c, err)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Access-Control-Allow-Origin", "*")

	return c.SendStreamWriter(func(w *bufio.Writer) {
		// Cancelling stops the producer goroutine when the client is gone.
		defer cancel()

		streamAnswer(w, answer, cancel, func(full string) (string, error) {
			saved, err := h.projects.SaveAnswer(context.Background(), &domain.Question{
				ProjectID:  projectID,
				UserID:     uc.UserID,
				Question:   body.Question,
				Answer:     full,
				References: answer.References,
			})
			if err != nil {
				slog.Error("failed to save answer", "project_id", projectID, "error", err)
				return "", err
			}
			return saved.ID, nil
		})
	})
}

// streamAnswer writes the SSE events for one answer. When the client goes
// away mid-stream the producer is cancelled and the rest of the output is
// drained silently, so whatever was generated still reaches persist.
func streamAnswer(w *bufio.Writer, answer *service.Answer, cancel context.CancelFunc, persist func(full string) (questionID string, err error)) {
	connected := true
	emit := func(event string, payload []byte) {
		if !connected {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
		if err := w.Flush(); err != nil {
			connected = false
			cancel()
		}
	}

	refs, _ := json.Marshal(answer.References)
	emit("references", refs)

	var full strings.Builder
	for chunk := range answer.Output {
		full.WriteString(chunk)
		data, _ := json.Marshal(fiber.Map{"content": chunk})
		emit("delta", data)
	}

	questionID, err := persist(full.String())
	if err != nil {
		emit("done", []byte("{}"))
		return
	}
	data, _ := json.Marshal(fiber.Map{"question_id": questionID})
	emit("done", data)
}

func (h *AnswerHandler) askError(c fiber.Ctx, err error) error {
	var ve *port.ValidationError
	switch {
	case errors.As(err, &ve):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ve.Msg})
	case errors.Is(err, port.ErrProjectNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "project not found"})
	case port.IsRateLimited(err):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limited, try again shortly"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}
