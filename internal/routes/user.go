package routes

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/traffic-tacos/todo-api/internal/auth"
	"github.com/traffic-tacos/todo-api/internal/logging"
	"github.com/traffic-tacos/todo-api/internal/middleware"
	"github.com/traffic-tacos/todo-api/internal/models"
)

// UserHandler serves the caller's own profile
type UserHandler struct {
	accounts *auth.Accounts
	timeout  time.Duration
	logger   *logrus.Logger
}

func NewUserHandler(accounts *auth.Accounts, timeout time.Duration, logger *logrus.Logger) *UserHandler {
	return &UserHandler{
		accounts: accounts,
		timeout:  timeout,
		logger:   logger,
	}
}

// GetUser returns the authenticated user's profile
// @Summary Current user
// @Tags User
// @Produce json
// @Security Bearer
// @Success 200 {object} models.User
// @Failure 401 {object} apperrors.ErrorResponse "Could not validate credentials"
// @Failure 404 {object} apperrors.ErrorResponse "User no longer exists"
// @Router /user/get-user [get]
func (h *UserHandler) GetUser(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	user, err := h.accounts.GetUser(ctx, middleware.GetUserID(c))
	if err != nil {
		return storeError(err, "User")
	}

	return c.JSON(user)
}

// ChangePassword replaces the caller's password
// @Summary Change password
// @Tags User
// @Accept json
// @Security Bearer
// @Param request body models.ChangePasswordRequest true "New password"
// @Success 204
// @Failure 401 {object} apperrors.ErrorResponse "Could not validate credentials"
// @Failure 422 {object} apperrors.ErrorResponse "Validation failed"
// @Router /user/change-password [put]
func (h *UserHandler) ChangePassword(c *fiber.Ctx) error {
	var req models.ChangePasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	userID := middleware.GetUserID(c)

	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	if err := h.accounts.ChangePassword(ctx, userID, req.Password); err != nil {
		return storeError(err, "User")
	}

	logging.WithUserID(h.logger, userID).Info("Password changed")

	return c.SendStatus(fiber.StatusNoContent)
}
