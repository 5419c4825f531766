package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	apperrors "github.com/traffic-tacos/todo-api/pkg/errors"
)

// ErrorHandler renders every error returned by a handler in the standard error envelope
func ErrorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		appErr := toAppError(err)
		status := appErr.HTTPStatus()
		traceID := requestID(c)

		if status >= fiber.StatusInternalServerError {
			logger.WithError(err).WithFields(logrus.Fields{
				"method": c.Method(),
				"path":   c.Path(),
				"status": status,
				"code":   appErr.Code,
			}).Error("Request error")
		}

		if appErr.Code == apperrors.CodeUnauthenticated {
			c.Set(fiber.HeaderWWWAuthenticate, "Bearer")
		}

		return c.Status(status).JSON(appErr.ToErrorResponse(traceID))
	}
}

// requestID prefers the client's X-Request-ID and falls back to the id
// generated by the requestid middleware.
func requestID(c *fiber.Ctx) string {
	if id := c.Get(fiber.HeaderXRequestID); id != "" {
		return id
	}
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return ""
}

func toAppError(err error) *apperrors.AppError {
	if appErr, ok := apperrors.As(err); ok {
		return appErr
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		switch fiberErr.Code {
		case fiber.StatusNotFound:
			return apperrors.NewAppError(apperrors.CodeNotFound, "The requested resource was not found", err)
		case fiber.StatusMethodNotAllowed, fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge:
			return apperrors.NewAppError(apperrors.CodeBadRequest, fiberErr.Message, err)
		case fiber.StatusUnprocessableEntity:
			return apperrors.NewAppError(apperrors.CodeValidationFailed, fiberErr.Message, err)
		}
	}

	return apperrors.NewAppError(apperrors.CodeInternalError, "Internal server error", err)
}
