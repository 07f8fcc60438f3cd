// Package middleware holds the fiber middleware of the control API.
package middleware

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"triage_server/pkg/apperr"
	"triage_server/pkg/response"
)

// ErrorHandler renders every returned error as the standard envelope.
func ErrorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		requestID, _ := c.Locals("request_id").(string)

		if fe, ok := err.(*fiber.Error); ok {
			return response.Error(c, fe.Code, mapHTTPStatusToCode(fe.Code), fe.Message)
		}

		appErr := apperr.AsAppError(err)
		if appErr.Status >= 500 {
			log.Error().Err(err).Str("request_id", requestID).Str("code", appErr.Code).Msg("request failed")
		}
		return response.ErrorWithDetails(c, appErr.Status, appErr.Code, appErr.Message, appErr.Details)
	}
}

// RequestID middleware adds a unique request ID to each request
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Locals("request_id", requestID)
		c.Set("X-Request-ID", requestID)
		return c.Next()
	}
}

func RequestLogger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = apperr.GetHTTPStatus(err)
			}
		}

		requestID, _ := c.Locals("request_id").(string)
		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		default:
			ev = log.Info()
		}
		ev.Str("request_id", requestID).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("request")

		return err
	}
}

// Recover turns a handler panic into a 500 response.
func Recover(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				requestID, _ := c.Locals("request_id").(string)
				log.Error().
					Str("request_id", requestID).
					Str("path", c.Path()).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("panic recovered")
				err = response.Error(c, fiber.StatusInternalServerError, apperr.CodeInternalError, "An unexpected error occurred")
			}
		}()
		return c.Next()
	}
}

// JWTAuth accepts HS256 bearer tokens signed with secret.
func JWTAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || tokenString == "" {
			return apperr.Unauthorized("missing authorization")
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unsupported signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(time.Minute))
		if err != nil || !token.Valid {
			return apperr.Unauthorized("invalid token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return apperr.Unauthorized("invalid claims")
		}
		if sub, err := claims.GetSubject(); err == nil && sub != "" {
			c.Locals("subject", sub)
		}

		return c.Next()
	}
}

func mapHTTPStatusToCode(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return apperr.CodeBadRequest
	case fiber.StatusUnauthorized:
		return apperr.CodeUnauthorized
	case fiber.StatusNotFound:
		return apperr.CodeNotFound
	case fiber.StatusConflict:
		return apperr.CodeConflict
	case fiber.StatusServiceUnavailable:
		return apperr.CodeUnavailable
	case fiber.StatusTooManyRequests:
		return apperr.CodeRateLimited
	default:
		if status >= 500 {
			return apperr.CodeInternalError
		}
		return apperr.CodeBadRequest
	}
}
