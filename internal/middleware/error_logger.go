package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/traffic-tacos/todo-api/internal/logging"
)

const maxLoggedBody = 500

type ErrorLoggerMiddleware struct {
	logger *logrus.Logger
}

func NewErrorLoggerMiddleware(logger *logrus.Logger) *ErrorLoggerMiddleware {
	return &ErrorLoggerMiddleware{
		logger: logger,
	}
}

// Handle logs 4xx and 5xx responses with request context.
// Request bodies are never logged since they may carry passwords.
func (e *ErrorLoggerMiddleware) Handle() fiber.Handler {
	return func(c *fiber.Ctx) error {
		startTime := time.Now()

		err := c.Next()

		// Handler errors are rendered by the app's ErrorHandler after the chain returns
		statusCode := c.Response().StatusCode()
		if err != nil {
			statusCode = toAppError(err).HTTPStatus()
		}

		if statusCode < 400 {
			return err
		}

		latencyMs := float64(time.Since(startTime).Microseconds()) / 1000
		traceID := requestID(c)

		logEntry := logging.WithRequest(e.logger, c.Method(), c.Path(), statusCode, latencyMs)
		logEntry = logging.WithTraceID(logEntry, traceID)
		if userID := GetUserID(c); userID != 0 {
			logEntry = logging.WithUserID(logEntry, userID)
		}

		logFields := logrus.Fields{
			"ip":         c.IP(),
			"user_agent": c.Get(fiber.HeaderUserAgent),
			"request_id": traceID,
		}

		if idempotencyKey := c.Get(IdempotencyHeader); idempotencyKey != "" {
			logFields["idempotency_key"] = idempotencyKey
		}

		if err == nil {
			if responseBody := string(c.Response().Body()); responseBody != "" {
				if len(responseBody) > maxLoggedBody {
					responseBody = responseBody[:maxLoggedBody] + "...(truncated)"
				}
				logFields["response_body"] = responseBody
			}
		}

		logEntry = logEntry.WithFields(logFields)
		if statusCode >= 500 {
			if err != nil {
				logEntry = logEntry.WithError(err)
			}
			logEntry.Error("Server error response")
		} else {
			if err != nil {
				logEntry = logEntry.WithField("reason", err.Error())
			}
			logEntry.Warn("Client error response")
		}

		return err
	}
}
