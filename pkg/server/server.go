// Package server is the HTTP boundary: it resolves a meeting's session
// and starts, stops or inspects it.
package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-meetagent/pkg/registry"
)

// Server routes meeting requests to sessions.
type Server struct {
	app      *fiber.App
	registry *registry.Registry
	dir      registry.Directory
	config   *Config
	logger   *slog.Logger
}

// New creates a server over reg.
func New(reg *registry.Registry, opts ...Option) *Server {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Directory == nil {
		cfg.Directory = registry.NewMemory(0)
	}

	s := &Server{
		registry: reg,
		dir:      cfg.Directory,
		config:   cfg,
		logger:   cfg.Logger.With("component", "server"),
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	if cfg.Debug {
		app.Use(logger.New())
	}
	app.Use(cors.New())
	app.Use(s.recordRequest)

	app.Get("/health", s.handleHealth)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	app.Use(s.requireMeeting)

	internal := app.Group("/agentsInternal")
	internal.Get("/status", s.handleStatus)
	internal.Post("/announce", s.handleAnnounce)
	internal.Get("/events", s.upgradeEvents, s.handleEvents())
	internal.All("/*", s.handleNotFound)

	app.All("/init", s.handleInit)
	app.All("/deinit", s.handleDeinit)

	app.Use(s.handleNotFound)

	s.app = app
	return s
}

// App returns the fiber app, for tests and embedding.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr, "instance", s.config.InstanceURL)
	return s.app.Listen(addr)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
