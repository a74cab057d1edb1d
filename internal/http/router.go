package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"

	"mdview/internal/cache"
	"mdview/internal/config"
	"mdview/internal/metrics"
	"mdview/internal/resource"
	"mdview/internal/strategy"
)

// hopHeaders are not copied from stored responses.
var hopHeaders = []string{
	"Connection",
	"Content-Length",
	"Keep-Alive",
	"Transfer-Encoding",
	"Upgrade",
}

type Server struct {
	app     *fiber.App
	config  *config.Config
	origin  *url.URL
	handler *strategy.Handler
	store   cache.Store
	logger  *slog.Logger
}

// Deps are the collaborators the server delegates to.
type Deps struct {
	Handler *strategy.Handler
	Store   cache.Store
}

func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	origin, err := url.Parse(cfg.Origin.BaseURL)
	if err != nil || !origin.IsAbs() {
		return nil, fmt.Errorf("origin.baseURL %q is not an absolute url", cfg.Origin.BaseURL)
	}

	s := &Server{
		app:     fiber.New(fiber.Config{DisableStartupMessage: true}),
		config:  cfg,
		origin:  origin,
		handler: deps.Handler,
		store:   deps.Store,
		logger:  logger,
	}

	// Request logging + metrics middleware
	s.app.Use(requestLogger(logger))

	// Health endpoints
	s.app.Get("/healthz", s.health)

	// Prometheus-style metrics endpoint
	s.app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("text/plain")
		return c.SendString(metrics.Export())
	})

	// Everything else is a document request; paths outside the pattern are 404.
	// Get also registers HEAD.
	s.app.Get("/*", s.serve)

	return s, nil
}

func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen() error {
	return s.app.Listen(s.config.Addr())
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) health(c *fiber.Ctx) error {
	active := s.handler != nil && s.handler.Active()

	// Shallow health: process is up
	if c.Query("deep") != "true" {
		return c.JSON(HealthResponse{Status: "ok", Active: &active})
	}

	// Deep health: check the cache backend connectivity.
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	cacheStatus := "disabled"
	if s.store != nil {
		cacheStatus = "ok"
		if err := s.store.Ping(ctx); err != nil {
			cacheStatus = "error"
		}
	}

	status := "ok"
	if cacheStatus == "error" || !active {
		status = "error"
	}
	code := fiber.StatusOK
	if status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(HealthResponse{Status: status, Cache: cacheStatus, Active: &active})
}

func (s *Server) serve(c *fiber.Ctx) error {
	req := requestFromCtx(c, s.origin)

	if s.handler == nil || !s.handler.Matches(req.URL) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   "no document route for " + c.Path(),
		})
	}

	res, err := s.handler.Serve(c.UserContext(), req)
	if res.Strategy != "" {
		c.Locals("strategy", string(res.Strategy))
	}
	if res.Outcome != "" {
		c.Locals("cache", res.Outcome)
	}
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("document request failed", "url", req.URL.String(), "error", err)
		}
		return writeError(c, err)
	}

	c.Set("X-Cache", res.Outcome)
	return send(c, res.Response)
}

func send(c *fiber.Ctx, resp *resource.Response) error {
	for key, values := range resp.Header {
		if isHopHeader(key) {
			continue
		}
		for i, v := range values {
			if i == 0 {
				c.Set(key, v)
			} else {
				c.Append(key, v)
			}
		}
	}
	return c.Status(resp.Status).Send(resp.Body)
}

func isHopHeader(key string) bool {
	for _, h := range hopHeaders {
		if key == h {
			return true
		}
	}
	return false
}
