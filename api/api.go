package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/reverie/pkg/logger"
)

// Server is the API server of the memory pipeline.
type Server struct {
	config Config
	logger *slog.Logger
	app    *fiber.App
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer creates a new API server.
func NewServer(c Config) (*Server, error) {
	if c.Tracker == nil {
		return nil, errors.New("session tracker is required")
	}
	if c.Archive == nil {
		return nil, errors.New("archive store is required")
	}
	if c.Contexts == nil {
		return nil, errors.New("context builder is required")
	}
	if c.Dispatcher == nil || c.DeadLetters == nil {
		return nil, errors.New("dispatcher and dead-letter store are required")
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: c,
		logger: c.Logger.With("component", "api"),
		app:    app,
	}

	app.Get("/ping", s.handlePing)

	v1 := app.Group("/v1")
	v1.Post("/sessions", s.handleStartSession)
	v1.Post("/sessions/:connection_id/turns", s.handleRecordTurn)
	v1.Post("/sessions/:connection_id/touch", s.handleTouchSession)
	v1.Delete("/sessions/:connection_id", s.handleEndSession)
	v1.Get("/sessions", s.handleListSessions)

	v1.Get("/agents/:agent_id/context", s.handleGetContext)
	v1.Get("/agents/:agent_id/summaries/search", s.handleSearchSummaries)
	v1.Get("/agents/:agent_id/summaries/recent", s.handleRecentSummaries)

	v1.Get("/deadletters", s.handleListDeadLetters)
	v1.Post("/deadletters/:id/replay", s.handleReplayDeadLetter)

	if c.MCP != nil {
		app.All("/mcp", adaptor.HTTPHandler(c.MCP))
	}

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server", "listen", s.config.ListenAddr)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(ErrorResponse{Error: msg})
}
