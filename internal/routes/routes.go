package routes

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
	"github.com/sirupsen/logrus"

	"github.com/traffic-tacos/todo-api/internal/auth"
	"github.com/traffic-tacos/todo-api/internal/config"
	"github.com/traffic-tacos/todo-api/internal/logging"
	"github.com/traffic-tacos/todo-api/internal/metrics"
	"github.com/traffic-tacos/todo-api/internal/middleware"
	"github.com/traffic-tacos/todo-api/internal/store"
	apperrors "github.com/traffic-tacos/todo-api/pkg/errors"
)

// Set at build time with -ldflags "-X .../internal/routes.commit=..."
var (
	commit    = "unknown"
	buildTime = "unknown"
)

// Setup configures all API routes
func Setup(app *fiber.App, cfg *config.Config, logger *logrus.Logger, mw *middleware.Manager, st store.Store) {
	accounts := auth.NewAccounts(st, auth.NewBcryptHasher(cfg.Auth.BcryptCost))

	authHandler := NewAuthHandler(accounts, mw.Tokens, cfg.JWT.TTL, cfg.DynamoDB.Timeout, logger)
	userHandler := NewUserHandler(accounts, cfg.DynamoDB.Timeout, logger)
	todoHandler := NewTodoHandler(st, st, cfg.DynamoDB.Timeout, logger)

	app.Use(metrics.HTTPMetricsMiddleware())
	app.Use(mw.ErrorLogger.Handle())

	// Health check endpoints (no auth required)
	app.Get("/healthz", healthCheck)
	app.Get("/readyz", readinessCheck(st, mw))
	app.Get("/version", versionHandler)
	app.Get(cfg.Observability.MetricsPath, metrics.PrometheusHandler())
	app.Get("/swagger/*", swagger.HandlerDefault)

	requireAuth := mw.Auth.Authenticate()
	idempotent := mw.Idempotency.Handle()

	// Auth routes (public)
	authRoutes := app.Group("/auth")
	authRoutes.Post("/create-user", idempotent, authHandler.CreateUser)
	authRoutes.Post("/token", authHandler.Token)

	userRoutes := app.Group("/user", requireAuth)
	userRoutes.Get("/get-user", userHandler.GetUser)
	userRoutes.Put("/change-password", userHandler.ChangePassword)

	app.Get("/", requireAuth, todoHandler.List)
	app.Get("/todos/:id", requireAuth, todoHandler.Get)
	app.Post("/todo", requireAuth, idempotent, todoHandler.Create)
	app.Put("/todo/:id", requireAuth, todoHandler.Update)

	app.Use(notFoundHandler)
}

// healthCheck returns the health status of the service
// @Summary Health check
// @Description Check if the service is healthy
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{} "Healthy"
// @Router /healthz [get]
func healthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "todo-api",
	})
}

// readinessCheck checks if the service is ready to accept traffic
// @Summary Readiness check
// @Description Check that storage and Redis answer
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{} "Ready"
// @Failure 503 {object} map[string]interface{} "Not ready"
// @Router /readyz [get]
func readinessCheck(st store.Store, mw *middleware.Manager) fiber.Handler {
	var redisHealthCheck func(context.Context) error
	if mw.RedisClient != nil {
		redisHealthCheck = middleware.RedisHealthCheck(mw.RedisClient, mw.Logger)
	}

	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			mw.Logger.WithError(err).Error("Storage health check failed")
			return notReady(c, "storage unavailable", err)
		}

		if redisHealthCheck != nil {
			if err := redisHealthCheck(ctx); err != nil {
				return notReady(c, "redis unavailable", err)
			}
		}

		return c.JSON(fiber.Map{
			"status":    "ready",
			"timestamp": time.Now().UTC(),
			"service":   "todo-api",
		})
	}
}

func notReady(c *fiber.Ctx, reason string, err error) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"status":    "not ready",
		"reason":    reason,
		"error":     err.Error(),
		"timestamp": time.Now().UTC(),
	})
}

// versionHandler returns version information
// @Summary Version information
// @Description Get service version and build information
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{} "Version info"
// @Router /version [get]
func versionHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "todo-api",
		"version": logging.GetVersion(),
		"commit":  commit,
		"built":   buildTime,
	})
}

func notFoundHandler(c *fiber.Ctx) error {
	return apperrors.NewAppError(apperrors.CodeNotFound, "The requested resource was not found", nil)
}
