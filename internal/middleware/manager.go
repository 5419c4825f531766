package middleware

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/traffic-tacos/todo-api/internal/auth"
	"github.com/traffic-tacos/todo-api/internal/config"
)

// Manager holds all middleware instances
type Manager struct {
	Auth        *AuthMiddleware
	Idempotency *IdempotencyMiddleware // nil when Redis is disabled
	Breaker     *CircuitBreaker
	ErrorLogger *ErrorLoggerMiddleware
	RedisClient redis.UniversalClient
	Tokens      *auth.TokenService
	Config      *config.Config
	Logger      *logrus.Logger
}

// NewManager creates a new middleware manager. Secrets must already be resolved into cfg.
func NewManager(cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	tokens, err := auth.NewTokenService(cfg.JWT.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create token service: %w", err)
	}

	var redisClient redis.UniversalClient
	if cfg.Redis.Enabled {
		redisClient, err = NewRedisUniversalClient(&cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis client: %w", err)
		}
	} else {
		logger.Info("Redis disabled, Idempotency-Key replay is off")
	}

	return newManager(cfg, logger, tokens, redisClient), nil
}

// NewManagerWithRedis wires the middleware around an existing client (nil disables idempotency)
func NewManagerWithRedis(cfg *config.Config, logger *logrus.Logger, tokens *auth.TokenService, redisClient redis.UniversalClient) *Manager {
	return newManager(cfg, logger, tokens, redisClient)
}

func newManager(cfg *config.Config, logger *logrus.Logger, tokens *auth.TokenService, redisClient redis.UniversalClient) *Manager {
	m := &Manager{
		Auth:        NewAuthMiddleware(tokens, logger),
		ErrorLogger: NewErrorLoggerMiddleware(logger),
		RedisClient: redisClient,
		Tokens:      tokens,
		Config:      cfg,
		Logger:      logger,
	}

	if redisClient != nil {
		m.Breaker = NewCircuitBreaker(logger)
		m.Idempotency = NewIdempotencyMiddleware(redisClient, m.Breaker, cfg.Redis.IdempotencyTTL, logger)
	}

	return m
}

// Close closes all middleware resources
func (m *Manager) Close() error {
	if m.RedisClient != nil {
		return m.RedisClient.Close()
	}
	return nil
}
