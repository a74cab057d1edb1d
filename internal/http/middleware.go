package http

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"mdview/internal/metrics"
)

// requestLogger assigns a request ID and records one log line and the
// request metrics per request.
func requestLogger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		// Ensure a request ID exists
		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)
		c.Set("X-Request-Id", reqID)

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		method := c.Method()
		path := c.Path()

		// Label by route template so every document path shares one series.
		metrics.RecordRequest(method, c.Route().Path, status, latency.Milliseconds())

		if logger != nil {
			attrs := []any{
				"request_id", reqID,
				"method", method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			}
			if s := c.Locals("strategy"); s != nil {
				attrs = append(attrs, "strategy", s)
			}
			if o := c.Locals("cache"); o != nil {
				attrs = append(attrs, "cache", o)
			}
			logger.Info("request", attrs...)
		}

		return err
	}
}
