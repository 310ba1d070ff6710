package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/janovincze/snapstream/internal/api/models"
	"github.com/janovincze/snapstream/internal/checkpoint"
)

// Coordinator takes and reports checkpoints.
type Coordinator interface {
	Checkpoint(ctx context.Context, p checkpoint.Participant) (checkpoint.Record, error)
	Last() (checkpoint.Record, bool)
}

// CheckpointHandler serves the source's checkpoints.
type CheckpointHandler struct {
	coordinator Coordinator
	participant checkpoint.Participant
	logger      *slog.Logger
}

// NewCheckpointHandler creates a new CheckpointHandler.
func NewCheckpointHandler(coord Coordinator, p checkpoint.Participant, logger *slog.Logger) *CheckpointHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckpointHandler{
		coordinator: coord,
		participant: p,
		logger:      logger.With("component", "checkpoint-handler"),
	}
}

// GetLast returns the most recent checkpoint restored or taken by this worker.
// GET /api/v1/checkpoint
func (h *CheckpointHandler) GetLast(c *gin.Context) {
	record, ok := h.coordinator.Last()
	if !ok {
		models.RespondWithError(c, models.NewNotFoundError(c.Request.URL.Path,
			"no checkpoint for source "+h.participant.Name()))
		return
	}
	c.JSON(http.StatusOK, checkpointResponse(record))
}

// Create takes a checkpoint now. It waits for a running poll cycle to finish.
// POST /api/v1/checkpoint
func (h *CheckpointHandler) Create(c *gin.Context) {
	record, err := h.coordinator.Checkpoint(c.Request.Context(), h.participant)
	if err != nil {
		h.logger.Error("on-demand checkpoint failed", "source_id", h.participant.Name(), "error", err)
		models.RespondWithError(c, models.NewInternalError(c.Request.URL.Path, err.Error()))
		return
	}
	c.JSON(http.StatusCreated, checkpointResponse(record))
}

func checkpointResponse(r checkpoint.Record) models.CheckpointResponse {
	return models.CheckpointResponse{
		SourceID:     r.SourceID,
		CheckpointID: r.CheckpointID,
		Values:       r.Values,
		CommittedAt:  r.CommittedAt,
	}
}
