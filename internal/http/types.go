package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"mdview/internal/resource"
	"mdview/internal/shell"
	"mdview/internal/strategy"
)

// ErrorResponse is the JSON envelope written for failed requests.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Cache  string `json:"cache,omitempty"`
	Active *bool  `json:"active,omitempty"`
}

// errorStatus maps a handler error onto an HTTP status and error code.
func errorStatus(err error) (int, string) {
	var (
		fe *resource.FetchError
		te *shell.TemplateError
	)
	switch {
	case errors.Is(err, strategy.ErrNotActive):
		return fiber.StatusServiceUnavailable, "NOT_ACTIVE"
	case errors.As(err, &fe):
		if fe.Status >= 400 {
			return fe.Status, "ORIGIN_ERROR"
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fiber.StatusGatewayTimeout, "ORIGIN_TIMEOUT"
		}
		return fiber.StatusBadGateway, "ORIGIN_UNREACHABLE"
	case errors.As(err, &te):
		return fiber.StatusInternalServerError, "TEMPLATE_ERROR"
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "TIMEOUT"
	default:
		return fiber.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func writeError(c *fiber.Ctx, err error) error {
	status, code := errorStatus(err)
	return c.Status(status).JSON(ErrorResponse{
		Success: false,
		Code:    code,
		Error:   err.Error(),
	})
}
