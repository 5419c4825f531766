package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traffic-tacos/todo-api/internal/auth"
	apperrors "github.com/traffic-tacos/todo-api/pkg/errors"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newGatedApp(t *testing.T, tokens *auth.TokenService) *fiber.App {
	t.Helper()

	logger := quietLogger()
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger)})
	app.Get("/me", NewAuthMiddleware(tokens, logger).Authenticate(), func(c *fiber.Ctx) error {
		identity, ok := GetIdentity(c)
		if !ok {
			return errors.New("identity missing")
		}
		return c.JSON(identity)
	})
	return app
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer abc", "abc", true},
		{"BEARER abc", "abc", true},
		{"Bearer   abc  ", "abc", true},
		{"Bearer ", "", false},
		{"Bearer", "", false},
		{"Basic abc", "", false},
		{"Bearerabc", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		token, ok := bearerToken(tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.token, token, tt.header)
	}
}

func TestAuthenticate(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens, err := auth.NewTokenService("gate-secret", auth.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	app := newGatedApp(t, tokens)

	valid, _, err := tokens.Issue("alice", 7, time.Minute)
	require.NoError(t, err)
	expired, _, err := tokens.Issue("alice", 7, -time.Minute)
	require.NoError(t, err)

	other, err := auth.NewTokenService("other-secret", auth.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	foreign, _, err := other.Issue("alice", 7, time.Minute)
	require.NoError(t, err)

	t.Run("valid token sets identity", func(t *testing.T) {
		req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+valid)

		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)

		var identity auth.Identity
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&identity))
		assert.Equal(t, auth.Identity{Username: "alice", UserID: 7}, identity)
	})

	var bodies []string
	for name, header := range map[string]string{
		"missing": "",
		"expired": "Bearer " + expired,
		"foreign": "Bearer " + foreign,
		"garbage": "Bearer not-a-jwt",
	} {
		req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set(fiber.HeaderAuthorization, header)
		}

		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode, name)
		assert.Equal(t, "Bearer", resp.Header.Get(fiber.HeaderWWWAuthenticate), name)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		bodies = append(bodies, string(body))
	}

	// The caller never learns why a token was rejected
	for _, body := range bodies[1:] {
		assert.Equal(t, bodies[0], body)
	}
}

func TestValidationResult(t *testing.T) {
	assert.Equal(t, "expired", validationResult(auth.ErrTokenExpired))
	assert.Equal(t, "missing_claims", validationResult(auth.ErrTokenMissingClaims))
	assert.Equal(t, "invalid", validationResult(auth.ErrTokenInvalid))
}

func TestErrorHandler(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(quietLogger())})
	app.Get("/validation", func(c *fiber.Ctx) error {
		return apperrors.NewValidationError([]apperrors.FieldError{{Field: "title", Rule: "min", Param: "3"}})
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("unexpected")
	})
	app.Get("/fiber", func(c *fiber.Ctx) error {
		return fiber.ErrBadRequest
	})

	tests := []struct {
		path   string
		status int
		code   apperrors.ErrorCode
	}{
		{"/validation", fiber.StatusUnprocessableEntity, apperrors.CodeValidationFailed},
		{"/boom", fiber.StatusInternalServerError, apperrors.CodeInternalError},
		{"/fiber", fiber.StatusBadRequest, apperrors.CodeBadRequest},
		{"/missing", fiber.StatusNotFound, apperrors.CodeNotFound},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(fiber.MethodGet, tt.path, nil)
		req.Header.Set(fiber.HeaderXRequestID, "req-123")

		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, tt.status, resp.StatusCode, tt.path)

		var body apperrors.ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, tt.code, body.Error.Code, tt.path)
		assert.Equal(t, "req-123", body.Error.TraceID, tt.path)
	}
}

func TestErrorHandler_HidesInternalCause(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(quietLogger())})
	app.Get("/", func(c *fiber.Ctx) error {
		return errors.New("dial tcp 10.0.0.1:8000: connection refused")
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil), -1)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "10.0.0.1")
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(quietLogger(),
		WithThresholds(2, 1, 10*time.Second),
		withBreakerClock(func() time.Time { return now }),
	)
	ctx := context.Background()
	failing := func(context.Context) error { return errors.New("connection refused") }

	var calls int32
	succeeding := func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	assert.Error(t, cb.Execute(ctx, failing))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Error(t, cb.Execute(ctx, failing))
	assert.Equal(t, StateOpen, cb.GetState())

	assert.ErrorIs(t, cb.Execute(ctx, succeeding), ErrCircuitOpen)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	now = now.Add(11 * time.Second)
	require.NoError(t, cb.Execute(ctx, succeeding))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCircuitBreaker_RedisNilIsNotAFailure(t *testing.T) {
	cb := NewCircuitBreaker(quietLogger(), WithThresholds(1, 1, time.Minute))

	err := cb.Execute(context.Background(), func(context.Context) error { return redis.Nil })
	assert.ErrorIs(t, err, redis.Nil)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(quietLogger(),
		WithThresholds(1, 2, time.Second),
		withBreakerClock(func() time.Time { return now }),
	)
	failing := func(context.Context) error { return errors.New("timeout") }

	_ = cb.Execute(context.Background(), failing)
	require.Equal(t, StateOpen, cb.GetState())

	now = now.Add(2 * time.Second)
	_ = cb.Execute(context.Background(), failing)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.Equal(t, "OPEN", cb.GetStats()["state"])
}

func newIdempotentApp(t *testing.T, client redis.UniversalClient, hits *int32) *fiber.App {
	t.Helper()

	logger := quietLogger()
	mw := NewIdempotencyMiddleware(client, NewCircuitBreaker(logger), time.Minute, logger)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger)})
	app.Post("/items", mw.Handle(), func(c *fiber.Ctx) error {
		n := atomic.AddInt32(hits, 1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"n": n})
	})
	app.Post("/fail", mw.Handle(), func(c *fiber.Ctx) error {
		atomic.AddInt32(hits, 1)
		return apperrors.NewAppError(apperrors.CodeUpstreamUnavailable, "down", nil)
	})
	return app
}

func postWithKey(t *testing.T, app *fiber.App, path, key, body string) (int, string, string) {
	t.Helper()

	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data), resp.Header.Get(idempotencyReplayHeader)
}

func TestIdempotency_ReplayAndConflict(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	var hits int32
	app := newIdempotentApp(t, client, &hits)
	key := "0b6c1f6e-0f62-4a49-8a44-2b1f5d7f3c90"

	status, body, cached := postWithKey(t, app, "/items", key, `{"a":1}`)
	assert.Equal(t, fiber.StatusCreated, status)
	assert.JSONEq(t, `{"n":1}`, body)
	assert.Empty(t, cached)

	status, body, cached = postWithKey(t, app, "/items", key, `{"a":1}`)
	assert.Equal(t, fiber.StatusCreated, status)
	assert.JSONEq(t, `{"n":1}`, body)
	assert.Equal(t, "true", cached)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	status, _, _ = postWithKey(t, app, "/items", key, `{"a":2}`)
	assert.Equal(t, fiber.StatusConflict, status)

	// Without a key nothing is cached
	postWithKey(t, app, "/items", "", `{"a":1}`)
	postWithKey(t, app, "/items", "", `{"a":1}`)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))

	assert.True(t, mr.Exists("idempotency:0:"+key))
	assert.Greater(t, mr.TTL("idempotency:0:"+key), time.Duration(0))
}

func TestIdempotency_FailedRequestCanBeRetried(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	var hits int32
	app := newIdempotentApp(t, client, &hits)
	key := "0b6c1f6e-0f62-4a49-8a44-2b1f5d7f3c90"

	status, _, _ := postWithKey(t, app, "/fail", key, `{}`)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	status, _, _ = postWithKey(t, app, "/fail", key, `{}`)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.False(t, mr.Exists("idempotency:0:"+key+":lock"))
}

// failRecordWrites rejects plain SET commands while enabled. SET ... NX (the lock) still passes.
type failRecordWrites struct {
	enabled atomic.Bool
}

func (h *failRecordWrites) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *failRecordWrites) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if h.enabled.Load() && cmd.Name() == "set" && !hasArg(cmd.Args(), "nx") {
			err := errors.New("READONLY write rejected")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (h *failRecordWrites) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func hasArg(args []interface{}, want string) bool {
	for _, arg := range args {
		if s, ok := arg.(string); ok && strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}

func TestIdempotency_RecordWriteFailureReleasesLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	hook := &failRecordWrites{}
	hook.enabled.Store(true)
	client.AddHook(hook)

	var hits int32
	app := newIdempotentApp(t, client, &hits)
	key := "0b6c1f6e-0f62-4a49-8a44-2b1f5d7f3c90"

	status, body, _ := postWithKey(t, app, "/items", key, `{"a":1}`)
	require.Equal(t, fiber.StatusCreated, status)
	assert.JSONEq(t, `{"n":1}`, body)

	assert.False(t, mr.Exists("idempotency:0:"+key), "record write was rejected")
	assert.False(t, mr.Exists("idempotency:0:"+key+":lock"), "lock must be released when the record cannot be stored")

	hook.enabled.Store(false)

	status, body, cached := postWithKey(t, app, "/items", key, `{"a":1}`)
	assert.Equal(t, fiber.StatusCreated, status, "retry must not see a stale in-flight conflict")
	assert.JSONEq(t, `{"n":2}`, body)
	assert.Empty(t, cached)
	assert.True(t, mr.Exists("idempotency:0:"+key))
}

func TestIdempotency_InFlightDuplicateConflicts(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	var hits int32
	app := newIdempotentApp(t, client, &hits)
	key := "0b6c1f6e-0f62-4a49-8a44-2b1f5d7f3c90"

	require.NoError(t, mr.Set("idempotency:0:"+key+":lock", "someone-else"))

	status, _, _ := postWithKey(t, app, "/items", key, `{"a":1}`)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestIdempotency_InvalidKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	var hits int32
	app := newIdempotentApp(t, client, &hits)

	status, _, _ := postWithKey(t, app, "/items", "not-a-uuid", `{}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestIdempotency_RedisDownPassesThrough(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	mr.Close()

	var hits int32
	app := newIdempotentApp(t, client, &hits)
	key := "0b6c1f6e-0f62-4a49-8a44-2b1f5d7f3c90"

	for i := 0; i < 2; i++ {
		status, _, _ := postWithKey(t, app, "/items", key, `{"a":1}`)
		assert.Equal(t, fiber.StatusCreated, status)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestIdempotency_NilMiddlewareIsNoop(t *testing.T) {
	var mw *IdempotencyMiddleware

	app := fiber.New()
	app.Post("/items", mw.Handle(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	req := httptest.NewRequest(fiber.MethodPost, "/items", nil)
	req.Header.Set(IdempotencyHeader, "0b6c1f6e-0f62-4a49-8a44-2b1f5d7f3c90")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
}
