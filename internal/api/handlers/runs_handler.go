package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/dblp-kgqa/kgqa/internal/storage/models"
	"github.com/dblp-kgqa/kgqa/internal/storage/sqlite"
	"github.com/dblp-kgqa/kgqa/pkg/logger"
)

// RunStore is satisfied by *sqlite.Client.
type RunStore interface {
	ListRuns(limit int) ([]models.Run, error)
	GetRun(id string) (*models.Run, error)
	ListOutcomes(runID, status string, limit int) ([]models.OutcomeRecord, error)
}

type RunsHandler struct {
	store RunStore
}

func NewRunsHandler(store RunStore) *RunsHandler {
	return &RunsHandler{store: store}
}

func (h *RunsHandler) ListRuns(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)

	runs, err := h.store.ListRuns(limit)
	if err != nil {
		logger.Error("Failed to list runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list runs",
		})
	}

	return c.JSON(fiber.Map{
		"runs": runs,
	})
}

func (h *RunsHandler) GetRun(c *fiber.Ctx) error {
	id := c.Params("id")

	run, err := h.store.GetRun(id)
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Run not found",
		})
	}
	if err != nil {
		logger.Error("Failed to get run", zap.String("run_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get run",
		})
	}

	return c.JSON(run)
}

func (h *RunsHandler) ListOutcomes(c *fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.store.GetRun(id); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Run not found",
			})
		}
		logger.Error("Failed to get run", zap.String("run_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get run",
		})
	}

	outcomes, err := h.store.ListOutcomes(id, c.Query("status"), c.QueryInt("limit", 100))
	if err != nil {
		logger.Error("Failed to list outcomes", zap.String("run_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list outcomes",
		})
	}

	return c.JSON(fiber.Map{
		"run_id":   id,
		"outcomes": outcomes,
	})
}
