package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/traffic-tacos/todo-api/internal/metrics"
	apperrors "github.com/traffic-tacos/todo-api/pkg/errors"
)

// IdempotencyHeader is the optional request header naming a retryable create
const IdempotencyHeader = "Idempotency-Key"

const idempotencyReplayHeader = "X-Idempotency-Cached"

type IdempotencyMiddleware struct {
	redisClient redis.UniversalClient
	breaker     *CircuitBreaker
	logger      *logrus.Logger
	ttl         time.Duration
	opTimeout   time.Duration
}

type IdempotencyRecord struct {
	Fingerprint string            `json:"fingerprint"`
	StatusCode  int               `json:"status_code"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body"`
	CreatedAt   time.Time         `json:"created_at"`
}

func NewIdempotencyMiddleware(redisClient redis.UniversalClient, breaker *CircuitBreaker, ttl time.Duration, logger *logrus.Logger) *IdempotencyMiddleware {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &IdempotencyMiddleware{
		redisClient: redisClient,
		breaker:     breaker,
		logger:      logger,
		ttl:         ttl,
		opTimeout:   500 * time.Millisecond,
	}
}

// Handle replays the stored response of a repeated POST that carries the same
// Idempotency-Key. Requests without the header are not affected. When Redis is
// unreachable the request is served normally.
//
// Must run after the auth gate: keys are scoped to the authenticated user.
func (i *IdempotencyMiddleware) Handle() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if i == nil || c.Method() != fiber.MethodPost {
			return c.Next()
		}

		idempotencyKey := c.Get(IdempotencyHeader)
		if idempotencyKey == "" {
			return c.Next()
		}

		if _, err := uuid.Parse(idempotencyKey); err != nil {
			return apperrors.NewAppError(apperrors.CodeBadRequest, "Idempotency-Key must be a valid UUID", err)
		}

		fingerprint := i.generateFingerprint(c)
		redisKey := fmt.Sprintf("idempotency:%d:%s", GetUserID(c), idempotencyKey)
		log := i.logger.WithField("idempotency_key", idempotencyKey)

		existing, err := i.getRecord(c.UserContext(), redisKey)
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			metrics.RecordIdempotencyHit("bypass")
			log.WithError(err).Warn("Idempotency lookup failed, serving request without replay protection")
			return c.Next()
		default:
			if existing.Fingerprint != fingerprint {
				metrics.RecordIdempotencyHit("conflict")
				return apperrors.NewAppError(apperrors.CodeIdempotencyConflict,
					"Request differs from the original request with the same Idempotency-Key", nil)
			}
			metrics.RecordIdempotencyHit("hit")
			return i.returnCachedResponse(c, existing)
		}

		acquired, err := i.acquire(c.UserContext(), redisKey, fingerprint)
		if err != nil {
			metrics.RecordIdempotencyHit("bypass")
			log.WithError(err).Warn("Idempotency lock failed, serving request without replay protection")
			return c.Next()
		}
		if !acquired {
			metrics.RecordIdempotencyHit("conflict")
			return apperrors.NewAppError(apperrors.CodeIdempotencyConflict,
				"A request with this Idempotency-Key is still being processed", nil)
		}
		metrics.RecordIdempotencyHit("miss")

		err = c.Next()

		statusCode := c.Response().StatusCode()
		if err != nil || statusCode < 200 || statusCode >= 300 {
			// Failed attempts may be retried with the same key
			i.release(redisKey)
			return err
		}

		record := IdempotencyRecord{
			Fingerprint: fingerprint,
			StatusCode:  statusCode,
			Headers:     make(map[string]string),
			Body:        string(c.Response().Body()),
			CreatedAt:   time.Now().UTC(),
		}
		c.Response().Header.VisitAll(func(key, value []byte) {
			if shouldCacheHeader(string(key)) {
				record.Headers[string(key)] = string(value)
			}
		})

		if err := i.storeRecord(redisKey, &record); err != nil {
			log.WithError(err).Error("Failed to store idempotency record")
			// Nothing to replay, so a retry must not wait out the lock ttl
			i.release(redisKey)
		} else {
			log.WithField("status_code", statusCode).Debug("Stored idempotency record")
		}

		return nil
	}
}

// generateFingerprint hashes the parts of a request that must match on replay
func (i *IdempotencyMiddleware) generateFingerprint(c *fiber.Ctx) string {
	h := sha256.New()

	h.Write([]byte(c.Method()))
	h.Write([]byte(":"))
	h.Write([]byte(c.Path()))
	h.Write([]byte(":"))
	h.Write(c.Request().URI().QueryString())
	h.Write([]byte(":"))
	h.Write(c.Body())
	h.Write([]byte(":"))
	h.Write([]byte(strconv.FormatInt(GetUserID(c), 10)))

	return hex.EncodeToString(h.Sum(nil))
}

func (i *IdempotencyMiddleware) getRecord(ctx context.Context, key string) (*IdempotencyRecord, error) {
	var data string
	err := i.call(ctx, "get", func(ctx context.Context) error {
		var err error
		data, err = i.redisClient.Get(ctx, key).Result()
		return err
	})
	if err != nil {
		return nil, err
	}

	var record IdempotencyRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal idempotency record: %w", err)
	}

	return &record, nil
}

func (i *IdempotencyMiddleware) acquire(ctx context.Context, key, fingerprint string) (bool, error) {
	var acquired bool
	err := i.call(ctx, "setnx", func(ctx context.Context) error {
		var err error
		acquired, err = i.redisClient.SetNX(ctx, key+":lock", fingerprint, i.ttl).Result()
		return err
	})
	return acquired, err
}

// release and storeRecord run after the handler, detached from the request context
func (i *IdempotencyMiddleware) release(key string) {
	err := i.call(context.Background(), "del", func(ctx context.Context) error {
		return i.redisClient.Del(ctx, key+":lock").Err()
	})
	if err != nil {
		i.logger.WithError(err).WithField("redis_key", key).Warn("Failed to release idempotency lock")
	}
}

func (i *IdempotencyMiddleware) storeRecord(key string, record *IdempotencyRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency record: %w", err)
	}

	return i.call(context.Background(), "set", func(ctx context.Context) error {
		return i.redisClient.Set(ctx, key, data, i.ttl).Err()
	})
}

// call runs a Redis command through the breaker with a short deadline
func (i *IdempotencyMiddleware) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, i.opTimeout)
	defer cancel()

	err := i.breaker.Execute(ctx, fn)

	status := "success"
	switch {
	case errors.Is(err, ErrCircuitOpen):
		status = "circuit_open"
	case err != nil && !errors.Is(err, redis.Nil):
		status = "error"
	}
	metrics.RecordRedisOperation("idempotency_"+op, status)

	return err
}

func (i *IdempotencyMiddleware) returnCachedResponse(c *fiber.Ctx, record *IdempotencyRecord) error {
	for key, value := range record.Headers {
		c.Set(key, value)
	}
	c.Set(idempotencyReplayHeader, "true")

	return c.Status(record.StatusCode).SendString(record.Body)
}

func shouldCacheHeader(header string) bool {
	switch strings.ToLower(header) {
	case "content-type", "location":
		return true
	}
	return false
}
