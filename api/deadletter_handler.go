package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/reverie/pkg/jobqueue"
	"github.com/papercomputeco/reverie/pkg/reflection"
	"github.com/papercomputeco/reverie/pkg/storage"
)

// ReplayResponse describes a replayed dead letter.
type ReplayResponse struct {
	ID  string                  `json:"id"`
	Job *jobqueue.ReflectionJob `json:"job"`
}

func (s *Server) handleListDeadLetters(c *fiber.Ctx) error {
	entries, err := s.config.DeadLetters.ListDeadLetters(c.Context())
	if err != nil {
		s.logger.Error("listing dead letters failed", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, "failed to list dead letters")
	}
	if entries == nil {
		entries = []storage.DeadLetter{}
	}
	return c.JSON(entries)
}

func (s *Server) handleReplayDeadLetter(c *fiber.Ctx) error {
	id := c.Params("id")

	job, err := s.config.Dispatcher.Replay(c.Context(), id)
	if err != nil {
		if storage.IsNotFound(err) {
			return errorJSON(c, fiber.StatusNotFound, err.Error())
		}
		if errors.Is(err, reflection.ErrNotReplayable) {
			return errorJSON(c, fiber.StatusUnprocessableEntity, err.Error())
		}
		s.logger.Error("dead letter replay failed", "dead_letter_id", id, "error", err)
		return errorJSON(c, fiber.StatusBadGateway, "failed to replay dead letter")
	}

	return c.JSON(ReplayResponse{ID: id, Job: job})
}
