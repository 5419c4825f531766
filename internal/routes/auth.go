package routes

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/traffic-tacos/todo-api/internal/auth"
	"github.com/traffic-tacos/todo-api/internal/metrics"
	"github.com/traffic-tacos/todo-api/internal/middleware"
	"github.com/traffic-tacos/todo-api/internal/models"
	apperrors "github.com/traffic-tacos/todo-api/pkg/errors"
)

// AuthHandler handles account creation and token issuance
type AuthHandler struct {
	accounts *auth.Accounts
	tokens   *auth.TokenService
	tokenTTL time.Duration
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(accounts *auth.Accounts, tokens *auth.TokenService, tokenTTL, timeout time.Duration, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		tokens:   tokens,
		tokenTTL: tokenTTL,
		timeout:  timeout,
		logger:   logger,
	}
}

// CreateUser handles user registration
// @Summary Create user
// @Description Register a new account. The password is stored as a bcrypt digest only.
// @Tags Auth
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "UUID used to safely retry the request"
// @Param request body models.CreateUserRequest true "Account data"
// @Success 201 {object} models.User
// @Failure 400 {object} apperrors.ErrorResponse "Unparsable body"
// @Failure 409 {object} apperrors.ErrorResponse "Username or email already taken"
// @Failure 422 {object} apperrors.ErrorResponse "Validation failed"
// @Router /auth/create-user [post]
func (h *AuthHandler) CreateUser(c *fiber.Ctx) error {
	var req models.CreateUserRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	user, err := h.accounts.CreateUser(ctx, req)
	if err != nil {
		return storeError(err, "User")
	}

	h.logger.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": user.Username,
	}).Info("User created")

	return c.Status(fiber.StatusCreated).JSON(user)
}

// Token exchanges credentials for a bearer token
// @Summary Issue access token
// @Description Password grant. Accepts form-encoded or JSON credentials.
// @Tags Auth
// @Accept x-www-form-urlencoded
// @Accept json
// @Produce json
// @Param username formData string true "Username"
// @Param password formData string true "Password"
// @Success 200 {object} models.TokenResponse
// @Failure 401 {object} apperrors.ErrorResponse "Could not validate credentials"
// @Failure 422 {object} apperrors.ErrorResponse "Validation failed"
// @Router /auth/token [post]
func (h *AuthHandler) Token(c *fiber.Ctx) error {
	var req models.TokenRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ctx, span := middleware.StartSpan(c.UserContext(), "auth.token")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	user, err := h.accounts.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		middleware.RecordError(span, err)
		if errors.Is(err, auth.ErrInvalidCredentials) {
			metrics.RecordLoginAttempt(false)
			h.logger.WithField("username", req.Username).Warn("Rejected credentials")
			return apperrors.Unauthorized(err)
		}
		return storeError(err, "User")
	}
	metrics.RecordLoginAttempt(true)

	token, _, err := h.tokens.Issue(user.Username, user.ID, h.tokenTTL)
	if err != nil {
		middleware.RecordError(span, err)
		return apperrors.NewAppError(apperrors.CodeInternalError, "Failed to issue token", err)
	}
	metrics.RecordTokenIssued()

	h.logger.WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": user.Username,
	}).Info("Access token issued")

	return c.JSON(models.TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(h.tokenTTL.Seconds()),
	})
}
