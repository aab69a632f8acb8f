package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/npcforge/npcforge/pkg/api/response"
	"github.com/npcforge/npcforge/pkg/engine"
	"github.com/npcforge/npcforge/pkg/logger"
	"github.com/npcforge/npcforge/pkg/model"
)

// TurnHandler runs NPC turns.
type TurnHandler struct {
	engine *engine.Engine
	logger logger.Logger
}

// NewTurnHandler creates a new turn handler.
func NewTurnHandler(eng *engine.Engine, log logger.Logger) *TurnHandler {
	return &TurnHandler{engine: eng, logger: orNop(log)}
}

// RunTurn handles POST /npc/{id}/turn and its alias POST /npc/{id}/act
// @Summary Run one observation-to-action turn
// @Tags turn
// @Accept json
// @Produce json
// @Param id path string true "NPC ID"
// @Param turn_id query string false "Caller-supplied turn id"
// @Param observation body model.Observation true "Observation"
// @Success 200 {object} model.TurnResult
// @Failure 400 {object} response.ErrorResponse "Malformed observation"
// @Failure 404 {object} response.ErrorResponse "NPC, persona or world not found"
// @Failure 422 {object} response.ErrorResponse "Reasoning chose an unknown tool"
// @Failure 502 {object} response.ErrorResponse "Reasoning backend failure"
// @Failure 504 {object} response.ErrorResponse "Turn timed out"
// @Router /npc/{id}/turn [post]
func (h *TurnHandler) RunTurn(w http.ResponseWriter, r *http.Request) {
	var obs model.Observation
	if err := decodeJSON(r, &obs); err != nil {
		fail(w, r, h.logger, "invalid observation", err)
		return
	}
	result, err := h.engine.RunTurn(r.Context(), chi.URLParam(r, "id"), &obs, engine.TurnOptions{
		TurnID: r.URL.Query().Get("turn_id"),
	})
	if err != nil {
		fail(w, r, h.logger, "turn failed", err)
		return
	}
	response.JSON(w, http.StatusOK, result)
}

// ForceAction handles POST /npc/{id}/force_action
// @Summary Execute a chosen tool without retrieval or reasoning
// @Description Records a trace and updates NPC state; no memory is written.
// @Tags turn
// @Accept json
// @Produce json
// @Param id path string true "NPC ID"
// @Param turn_id query string false "Caller-supplied turn id"
// @Param request body engine.ForceActionRequest true "Action"
// @Success 200 {object} model.TurnResult
// @Failure 400 {object} response.ErrorResponse "Validation error"
// @Failure 404 {object} response.ErrorResponse "NPC not found"
// @Failure 422 {object} response.ErrorResponse "Unknown tool"
// @Router /npc/{id}/force_action [post]
func (h *TurnHandler) ForceAction(w http.ResponseWriter, r *http.Request) {
	var req engine.ForceActionRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, h.logger, "invalid force action body", err)
		return
	}
	if req.TurnID == "" {
		req.TurnID = r.URL.Query().Get("turn_id")
	}
	result, err := h.engine.ForceAction(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		fail(w, r, h.logger, "force action failed", err)
		return
	}
	response.JSON(w, http.StatusOK, result)
}
