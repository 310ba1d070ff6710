package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/janovincze/snapstream/internal/api/models"
	"github.com/janovincze/snapstream/internal/source"
)

// SourceController is the part of a running source the API exposes.
type SourceController interface {
	Name() string
	State() source.State
	Cursor() int64
	PollingState() source.PollingState
	Stats() source.Stats
	Cancel()
}

// SourceHandler serves source status and control.
type SourceHandler struct {
	source SourceController
}

// NewSourceHandler creates a new SourceHandler.
func NewSourceHandler(src SourceController) *SourceHandler {
	return &SourceHandler{source: src}
}

// GetStatus returns the source's state, cursor and counters.
// GET /api/v1/source
func (h *SourceHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, sourceStatus(h.source))
}

// Cancel stops the source after its current cycle.
// POST /api/v1/source/cancel
func (h *SourceHandler) Cancel(c *gin.Context) {
	state := h.source.State()
	if state.IsTerminal() {
		models.RespondWithError(c, models.NewConflictError(c.Request.URL.Path,
			"source already "+state.String()))
		return
	}
	h.source.Cancel()
	c.JSON(http.StatusAccepted, sourceStatus(h.source))
}

func sourceStatus(src SourceController) models.SourceStatusResponse {
	polling := src.PollingState()
	stats := src.Stats()

	resp := models.SourceStatusResponse{
		Name:              src.Name(),
		State:             src.State().String(),
		Cursor:            src.Cursor(),
		PollIntervalMs:    polling.Current.Milliseconds(),
		MinPollIntervalMs: polling.Min.Milliseconds(),
		MaxPollIntervalMs: polling.Max.Milliseconds(),
		Cycles:            stats.Cycles,
		SnapshotsConsumed: stats.SnapshotsConsumed,
		TasksEmitted:      stats.TasksEmitted,
		Errors:            stats.Errors,
	}
	if !stats.LastProgressAt.IsZero() {
		at := stats.LastProgressAt
		resp.LastProgressAt = &at
	}
	return resp
}
