package handler

import (
	"database/sql"
	"errors"

	"github.com/gofiber/fiber/v2"

	"docgate/internal/http/middleware"
	"docgate/internal/lifecycle"
	"docgate/internal/repository"
	"docgate/internal/service"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// transitionDetails accompanies INVALID_TRANSITION and ROLE_REQUIRED.
type transitionDetails struct {
	From         lifecycle.Status   `json:"from"`
	To           lifecycle.Status   `json:"to"`
	RequiredRole lifecycle.Role     `json:"required_role,omitempty"`
	Allowed      []lifecycle.Status `json:"allowed"`
}

// requestIDFromCtx extracts request_id previously stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals(middleware.RequestIDLocalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// writeError writes a standardized JSON error response without leaking internal errors.
//
// Parameters:
// - status: HTTP status code to return
// - code: machine-readable short error code (e.g., "INVALID_ID", "NOT_FOUND", "INTERNAL_ERROR")
// - message: human-readable safe message (no internal details)
func writeError(c *fiber.Ctx, status int, code, message string) error {
	return writeErrorDetails(c, status, code, message, nil)
}

func writeErrorDetails(c *fiber.Ctx, status int, code, message string, details any) error {
	res := errorPayload{
		RequestID: requestIDFromCtx(c),
		Error: errorEnvelope{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
	return c.Status(status).JSON(res)
}

// writeServiceError maps service and domain errors to HTTP responses.
// Validation and lifecycle messages are safe to show; anything else is a 500.
func writeServiceError(c *fiber.Ctx, err error) error {
	var (
		rejected *service.RejectedError
		terr     *lifecycle.TransitionError
	)
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "document not found")
	case errors.Is(err, service.ErrIDRequired):
		return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "id is required")
	case errors.As(err, &rejected):
		code := "FILE_REJECTED"
		if rejected.Threat() {
			code = "THREAT_DETECTED"
		}
		return writeErrorDetails(c, fiber.StatusUnprocessableEntity, code, rejected.Error(), rejected.Outcome)
	case errors.As(err, &terr):
		details := transitionDetails{From: terr.From, To: terr.To, RequiredRole: terr.Required, Allowed: terr.Allowed}
		if errors.Is(err, lifecycle.ErrRoleRequired) {
			return writeErrorDetails(c, fiber.StatusForbidden, "ROLE_REQUIRED", terr.Error(), details)
		}
		return writeErrorDetails(c, fiber.StatusConflict, "INVALID_TRANSITION", terr.Error(), details)
	case errors.Is(err, service.ErrThreatBlocked):
		return writeError(c, fiber.StatusConflict, "THREAT_BLOCKED", err.Error())
	case errors.Is(err, repository.ErrStatusConflict):
		return writeError(c, fiber.StatusConflict, "STATUS_CONFLICT", "document status changed, retry with the current status")
	case errors.Is(err, lifecycle.ErrUnknownStatus):
		return writeError(c, fiber.StatusBadRequest, "INVALID_STATUS", "unknown document status")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "BAD_REQUEST", "bad request")
		case fiber.StatusNotFound:
			return writeError(c, status, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "METHOD_NOT_ALLOWED", "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, "FILE_TOO_LARGE", "request body too large")
		default:
			return writeError(c, status, "INTERNAL_ERROR", "internal server error")
		}
	}
}
