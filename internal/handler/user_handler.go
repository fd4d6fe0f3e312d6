package handler

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-repo-rag/internal/adapter/store"
	"github.com/arturoeanton/go-repo-rag/internal/middleware"
	"github.com/arturoeanton/go-repo-rag/internal/port"
)

// UserHandler exposes the current user's profile and credit balance.
type UserHandler struct {
	store *store.PostgresStore
}

// NewUserHandler creates a new user handler.
func NewUserHandler(store *store.PostgresStore) *UserHandler {
	return &UserHandler{store: store}
}

// Register sets up user routes.
func (h *UserHandler) Register(api fiber.Router) {
	api.Get("/me", h.Me)
}

// Me returns the calling user with their remaining credits.
func (h *UserHandler) Me(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	user, err := h.store.GetUserByID(c.Context(), uc.UserID)
	if err != nil {
		if errors.Is(err, port.ErrUserNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(user)
}
