package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/storage"
)

// SummariesResponse wraps a list of summaries.
type SummariesResponse struct {
	AgentID   string           `json:"agent_id"`
	Kind      memory.Kind      `json:"kind,omitempty"`
	Summaries []memory.Summary `json:"summaries"`
	Count     int              `json:"count"`
}

func (s *Server) handleGetContext(c *fiber.Ctx) error {
	agentID := c.Params("agent_id")

	snap, ok := s.config.Contexts.Get(agentID)
	if !ok {
		return errorJSON(c, fiber.StatusNotFound, "no background context for agent "+agentID)
	}

	return c.JSON(snap)
}

func (s *Server) handleSearchSummaries(c *fiber.Ctx) error {
	agentID := c.Params("agent_id")

	kind := memory.KindSession
	if raw := c.Query("kind"); raw != "" {
		k, err := memory.ParseKind(raw)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		}
		kind = k
	}

	limit, err := queryLimit(c, storage.DefaultSearchLimit)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	results, err := s.config.Archive.Search(c.Context(), storage.SearchQuery{
		AgentID: agentID,
		Kind:    kind,
		Text:    c.Query("q"),
		Limit:   limit,
	})
	if err != nil {
		s.logger.Error("summary search failed", "agent_id", agentID, "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "failed to search summaries")
	}

	return c.JSON(SummariesResponse{
		AgentID:   agentID,
		Kind:      kind,
		Summaries: results,
		Count:     len(results),
	})
}

func (s *Server) handleRecentSummaries(c *fiber.Ctx) error {
	agentID := c.Params("agent_id")

	var kind memory.Kind
	if raw := c.Query("kind"); raw != "" {
		k, err := memory.ParseKind(raw)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		}
		kind = k
	}

	since := memory.Epoch
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "since must be an RFC3339 timestamp")
		}
		since = t
	}

	limit, err := queryLimit(c, storage.DefaultSearchLimit)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	results, err := s.config.Archive.Recent(c.Context(), agentID, kind, since, limit)
	if err != nil {
		s.logger.Error("recent summaries failed", "agent_id", agentID, "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "failed to list summaries")
	}

	return c.JSON(SummariesResponse{
		AgentID:   agentID,
		Kind:      kind,
		Summaries: results,
		Count:     len(results),
	})
}

func queryLimit(c *fiber.Ctx, def int) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "limit must be a positive integer")
	}
	return n, nil
}
