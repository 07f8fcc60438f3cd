package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triage_server/pkg/apperr"
)

const testSecret = "control-api-secret"

func newProtectedApp() *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zerolog.Nop())})
	app.Use(Recover(zerolog.Nop()))
	app.Use(RequestID())
	api := app.Group("/api", JWTAuth(testSecret))
	api.Get("/whoami", func(c *fiber.Ctx) error {
		sub, _ := c.Locals("subject").(string)
		return c.SendString(sub)
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		panic("kaboom")
	})
	app.Get("/missing", func(c *fiber.Ctx) error {
		return apperr.NotFound("ticket")
	})
	return app
}

func signed(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func get(t *testing.T, app *fiber.App, path, token string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestJWTAuth(t *testing.T) {
	app := newProtectedApp()
	future := time.Now().Add(time.Hour).Unix()

	t.Run("valid token", func(t *testing.T) {
		token := signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "ops@company.example", "exp": future})
		status, body := get(t, app, "/api/whoami", token)
		assert.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, "ops@company.example", body)
	})

	t.Run("missing header", func(t *testing.T) {
		status, body := get(t, app, "/api/whoami", "")
		assert.Equal(t, fiber.StatusUnauthorized, status)
		assert.Contains(t, body, apperr.CodeUnauthorized)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signed(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"exp": future})
		status, _ := get(t, app, "/api/whoami", token)
		assert.Equal(t, fiber.StatusUnauthorized, status)
	})

	t.Run("expired", func(t *testing.T) {
		token := signed(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})
		status, _ := get(t, app, "/api/whoami", token)
		assert.Equal(t, fiber.StatusUnauthorized, status)
	})

	t.Run("other hmac size rejected", func(t *testing.T) {
		token := signed(t, jwt.SigningMethodHS512, []byte(testSecret), jwt.MapClaims{"exp": future})
		status, _ := get(t, app, "/api/whoami", token)
		assert.Equal(t, fiber.StatusUnauthorized, status)
	})
}

func TestErrorHandlerAndRecover(t *testing.T) {
	app := newProtectedApp()

	status, body := get(t, app, "/missing", "")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.JSONEq(t, `{"success":false,"error":{"code":"NOT_FOUND","message":"ticket not found"}}`, body)

	status, body = get(t, app, "/boom", "")
	assert.Equal(t, fiber.StatusInternalServerError, status)
	assert.Contains(t, body, apperr.CodeInternalError)

	status, body = get(t, app, "/nowhere", "")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Contains(t, body, apperr.CodeNotFound)
}

func TestRequestIDIsEchoed(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRateLimiter_FixedWindow(t *testing.T) {
	clock := time.Date(2026, time.October, 18, 10, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return clock }

	ok, remaining, _ := rl.Allow("10.0.0.1")
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)
	ok, remaining, _ = rl.Allow("10.0.0.1")
	assert.True(t, ok)
	assert.Zero(t, remaining)
	ok, _, _ = rl.Allow("10.0.0.1")
	assert.False(t, ok)

	ok, _, _ = rl.Allow("10.0.0.2")
	assert.True(t, ok, "keys are independent")

	clock = clock.Add(time.Minute)
	ok, _, _ = rl.Allow("10.0.0.1")
	assert.True(t, ok, "window resets")
}

func TestRateLimiter_Handler(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zerolog.Nop())})
	app.Use(SecurityHeaders())
	app.Use(NewRateLimiter(1, time.Hour).Handler())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	status, _ := get(t, app, "/", "")
	assert.Equal(t, fiber.StatusNoContent, status)

	status, body := get(t, app, "/", "")
	assert.Equal(t, fiber.StatusTooManyRequests, status)
	assert.Contains(t, body, apperr.CodeRateLimited)
	assert.Contains(t, body, "retry_after")
}
