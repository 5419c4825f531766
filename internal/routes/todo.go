package routes

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/traffic-tacos/todo-api/internal/middleware"
	"github.com/traffic-tacos/todo-api/internal/models"
	"github.com/traffic-tacos/todo-api/internal/store"
	apperrors "github.com/traffic-tacos/todo-api/pkg/errors"
)

// TodoHandler handles todo endpoints. Every todo is visible to its owner only.
type TodoHandler struct {
	todos   store.Todos
	users   store.Users
	timeout time.Duration
	now     func() time.Time
	logger  *logrus.Logger
}

func NewTodoHandler(todos store.Todos, users store.Users, timeout time.Duration, logger *logrus.Logger) *TodoHandler {
	return &TodoHandler{
		todos:   todos,
		users:   users,
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
}

// List returns the caller's todos
// @Summary List todos
// @Tags Todo
// @Produce json
// @Security Bearer
// @Success 200 {array} models.Todo
// @Failure 401 {object} apperrors.ErrorResponse "Could not validate credentials"
// @Router / [get]
func (h *TodoHandler) List(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	todos, err := h.todos.ListByOwner(ctx, middleware.GetUserID(c))
	if err != nil {
		return storeError(err, "Todo")
	}
	if todos == nil {
		todos = []models.Todo{}
	}

	return c.JSON(todos)
}

// Get returns one todo
// @Summary Get todo
// @Tags Todo
// @Produce json
// @Security Bearer
// @Param id path int true "Todo ID"
// @Success 200 {object} models.Todo
// @Failure 404 {object} apperrors.ErrorResponse "Todo not found"
// @Failure 422 {object} apperrors.ErrorResponse "Invalid id"
// @Router /todos/{id} [get]
func (h *TodoHandler) Get(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	todo, err := h.ownedTodo(ctx, id, middleware.GetUserID(c))
	if err != nil {
		return err
	}

	return c.JSON(todo)
}

// Create stores a new todo for the caller
// @Summary Create todo
// @Tags Todo
// @Accept json
// @Produce json
// @Security Bearer
// @Param Idempotency-Key header string false "UUID used to safely retry the request"
// @Param request body models.TodoRequest true "Todo"
// @Success 201 {object} models.Todo
// @Failure 400 {object} apperrors.ErrorResponse "Unparsable body"
// @Failure 401 {object} apperrors.ErrorResponse "Could not validate credentials"
// @Failure 422 {object} apperrors.ErrorResponse "Validation failed"
// @Router /todo [post]
func (h *TodoHandler) Create(c *fiber.Ctx) error {
	var req models.TodoRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ownerID := middleware.GetUserID(c)

	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	// A valid token can outlive its account; never store a todo for a missing owner.
	if _, err := h.users.GetUser(ctx, ownerID); err != nil {
		if store.IsNotFound(err) {
			return apperrors.Unauthorized(err)
		}
		return storeError(err, "User")
	}

	now := h.now().UTC()
	todo := &models.Todo{
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	req.Apply(todo)

	if err := h.todos.CreateTodo(ctx, todo); err != nil {
		return storeError(err, "Todo")
	}

	h.logger.WithFields(logrus.Fields{
		"todo_id":  todo.ID,
		"owner_id": todo.OwnerID,
	}).Debug("Todo created")

	return c.Status(fiber.StatusCreated).JSON(todo)
}

// Update replaces every writable field of a todo
// @Summary Update todo
// @Tags Todo
// @Accept json
// @Security Bearer
// @Param id path int true "Todo ID"
// @Param request body models.TodoRequest true "Todo"
// @Success 204
// @Failure 404 {object} apperrors.ErrorResponse "Todo not found"
// @Failure 422 {object} apperrors.ErrorResponse "Validation failed"
// @Router /todo/{id} [put]
func (h *TodoHandler) Update(c *fiber.Ctx) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req models.TodoRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	todo, err := h.ownedTodo(ctx, id, middleware.GetUserID(c))
	if err != nil {
		return err
	}

	req.Apply(todo)
	todo.UpdatedAt = h.now().UTC()

	if err := h.todos.UpdateTodo(ctx, todo); err != nil {
		return storeError(err, "Todo")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ownedTodo hides todos of other users behind the same 404 as missing ones
func (h *TodoHandler) ownedTodo(ctx context.Context, id, ownerID int64) (*models.Todo, error) {
	todo, err := h.todos.GetTodo(ctx, id)
	if err != nil {
		return nil, storeError(err, "Todo")
	}
	if todo.OwnerID != ownerID {
		return nil, apperrors.NotFound("Todo")
	}
	return todo, nil
}
