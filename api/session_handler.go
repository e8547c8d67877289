package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/session"
)

// StartSessionRequest opens a session for a new connection.
type StartSessionRequest struct {
	AgentID      string `json:"agent_id"`
	ConnectionID string `json:"connection_id"`
}

// StartSessionResponse carries the id of the opened session.
type StartSessionResponse struct {
	SessionID string `json:"session_id"`
}

// RecordTurnRequest is one user/agent exchange.
type RecordTurnRequest struct {
	UserMessage   string `json:"user_message"`
	AgentResponse string `json:"agent_response"`
}

// RecordTurnResponse reports whether the connection had an active session.
type RecordTurnResponse struct {
	Recorded bool `json:"recorded"`
}

// TouchSessionResponse reports whether the connection had an active session.
type TouchSessionResponse struct {
	Touched bool `json:"touched"`
}

// EndSessionResponse reports whether a session was ended by the call.
type EndSessionResponse struct {
	Ended bool `json:"ended"`
}

func (s *Server) handleStartSession(c *fiber.Ctx) error {
	var req StartSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.AgentID == "" || req.ConnectionID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "agent_id and connection_id are required")
	}

	id, err := s.config.Tracker.StartSession(req.AgentID, req.ConnectionID)
	if err != nil {
		if errors.Is(err, session.ErrConnectionExists) {
			return errorJSON(c, fiber.StatusConflict, err.Error())
		}
		return errorJSON(c, fiber.StatusInternalServerError, "failed to start session")
	}

	if s.config.Agents != nil {
		s.config.Agents.Add(req.AgentID)
	}

	return c.Status(fiber.StatusCreated).JSON(StartSessionResponse{SessionID: id})
}

// handleRecordTurn never fails for an unknown connection: the turn is
// dropped and the response says so.
func (s *Server) handleRecordTurn(c *fiber.Ctx) error {
	var req RecordTurnRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid request body")
	}

	ok := s.config.Tracker.RecordTurn(c.Params("connection_id"), req.UserMessage, req.AgentResponse)
	return c.JSON(RecordTurnResponse{Recorded: ok})
}

// handleTouchSession keeps a session alive through a long agent turn
// without recording an exchange.
func (s *Server) handleTouchSession(c *fiber.Ctx) error {
	ok := s.config.Tracker.Touch(c.Params("connection_id"))
	return c.JSON(TouchSessionResponse{Touched: ok})
}

func (s *Server) handleEndSession(c *fiber.Ctx) error {
	ok := s.config.Tracker.EndSession(c.Params("connection_id"), memory.EndReasonDisconnect)
	return c.JSON(EndSessionResponse{Ended: ok})
}

func (s *Server) handleListSessions(c *fiber.Ctx) error {
	return c.JSON(s.config.Tracker.Active())
}
